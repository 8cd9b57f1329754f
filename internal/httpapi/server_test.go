package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carebridge/portal/internal/broadcast"
	"github.com/carebridge/portal/internal/portalsync"
	"github.com/carebridge/portal/internal/tabular"
)

func newTestServer(t *testing.T) (*Server, *portalsync.Coordinator) {
	t.Helper()
	store, err := tabular.NewStore(tabular.StoreOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	hub := broadcast.NewHub(broadcast.HubOptions{})
	t.Cleanup(hub.Close)
	coordinator := portalsync.NewCoordinator(portalsync.Options{Store: store, Hub: hub})
	t.Cleanup(coordinator.Close)
	return NewServer(coordinator, hub), coordinator
}

func TestEventStreamRejectsCrossOriginByDefault(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "http://attacker.example")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/v1/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	rec = doRequest(t, server, http.MethodGet, "/v1/records/unicorns", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown collection", rec.Code)
	}
}

func TestCreateAndListStories(t *testing.T) {
	server, _ := newTestServer(t)

	story := map[string]any{
		"title":       "Borewell for Ramgarh",
		"description": "Funding a community borewell",
		"location":    "Ramgarh",
	}
	rec := doRequest(t, server, http.MethodPost, "/v1/records/stories", story)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Success bool            `json:"success"`
		Errors  []string        `json:"errors"`
		Record  json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got errors %v", result.Errors)
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/records/stories", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Count   int               `json:"count"`
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listed.Count != 1 || len(listed.Records) != 1 {
		t.Fatalf("count = %d, records = %d, want 1", listed.Count, len(listed.Records))
	}
	// The server assigned an id to the record created without one.
	if !strings.Contains(string(listed.Records[0]), `"id":"`) {
		t.Fatalf("record missing id: %s", listed.Records[0])
	}
}

func TestUpdateExistingRecordReturns200(t *testing.T) {
	server, _ := newTestServer(t)

	story := map[string]any{
		"id":          "s1",
		"title":       "Well",
		"description": "Clean water",
		"location":    "Pune",
	}
	rec := doRequest(t, server, http.MethodPost, "/v1/records/stories", story)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	story["title"] = "Well (phase 2)"
	rec = doRequest(t, server, http.MethodPost, "/v1/records/stories", story)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestInvalidDonationReturns422(t *testing.T) {
	server, _ := newTestServer(t)

	donation := map[string]any{
		"id":        "d1",
		"donorName": "Asha",
		"amount":    0,
	}
	rec := doRequest(t, server, http.MethodPost, "/v1/records/donations", donation)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body %s", rec.Code, rec.Body.String())
	}
	var result tabular.UpsertResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	found := false
	for _, msg := range result.Errors {
		if msg == "Valid donation amount is required" {
			found = true
		}
	}
	if !found {
		t.Fatalf("errors = %v, want amount validation message", result.Errors)
	}
}

func TestStatusUpdateAppend(t *testing.T) {
	server, coordinator := newTestServer(t)

	update := map[string]any{
		"type":      "story",
		"itemId":    "s1",
		"newStatus": "completed",
	}
	rec := doRequest(t, server, http.MethodPost, "/v1/records/status-updates", update)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := len(coordinator.Snapshot(tabular.KindStatusUpdate)); got != 1 {
		t.Fatalf("status updates in cache = %d, want 1", got)
	}

	rec = doRequest(t, server, http.MethodPost, "/v1/records/status-updates", map[string]any{"type": "story"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid update status = %d, want 422", rec.Code)
	}
}

func TestSyncStatusAndRefresh(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/v1/sync/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status portalsync.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.SyncInProgress {
		t.Fatal("expected idle coordinator")
	}

	rec = doRequest(t, server, http.MethodPost, "/v1/sync/refresh", map[string]string{"reason": "operator request"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("refresh status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), portalsync.ManualSyncChangeID) {
		t.Fatalf("refresh body = %s", rec.Body.String())
	}
}

func TestSyncJournalWithoutJournalConfigured(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/v1/sync/journal?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestBackupCleanup(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/v1/backups/cleanup?keep=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"kept":3`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	store, err := tabular.NewStore(tabular.StoreOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	hub := broadcast.NewHub(broadcast.HubOptions{})
	t.Cleanup(hub.Close)
	coordinator := portalsync.NewCoordinator(portalsync.Options{Store: store, Hub: hub})
	t.Cleanup(coordinator.Close)
	server := NewServerWithConfig(coordinator, hub, ServerConfig{MaxBodyBytes: 64})

	big := map[string]any{"id": "s1", "title": strings.Repeat("x", 256)}
	rec := doRequest(t, server, http.MethodPost, "/v1/records/stories", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}
