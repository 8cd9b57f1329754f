package main

import (
	"os"
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("PORTAL_TEST_INT", "42")
	got := intEnv("PORTAL_TEST_INT", 7)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("PORTAL_TEST_INT_BAD", "not-a-number")
	got := intEnv("PORTAL_TEST_INT_BAD", 7)
	if got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestInt64EnvParsesValue(t *testing.T) {
	t.Setenv("PORTAL_TEST_INT64", "1048576")
	got := int64Env("PORTAL_TEST_INT64", 7)
	if got != 1048576 {
		t.Fatalf("expected 1048576, got %d", got)
	}
}

func TestBoolEnvParsesValue(t *testing.T) {
	t.Setenv("PORTAL_TEST_BOOL", "true")
	if !boolEnv("PORTAL_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
}

func TestBoolEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("PORTAL_TEST_BOOL_BAD", "yep")
	if boolEnv("PORTAL_TEST_BOOL_BAD", false) {
		t.Fatal("expected fallback false")
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("PORTAL_TEST_DURATION", "150ms")
	got := durationEnv("PORTAL_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("PORTAL_TEST_DURATION_BAD", "soon")
	got := durationEnv("PORTAL_TEST_DURATION_BAD", 2*time.Second)
	if got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("PORTAL_TEST_INT_UNSET")
	_ = os.Unsetenv("PORTAL_TEST_DURATION_UNSET")

	if got := intEnv("PORTAL_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := durationEnv("PORTAL_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
}
