package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/carebridge/portal/internal/broadcast"
	"github.com/carebridge/portal/internal/httpapi"
	"github.com/carebridge/portal/internal/portalsync"
	"github.com/carebridge/portal/internal/tabular"
	"github.com/carebridge/portal/internal/watcher"
)

func main() {
	if logFile := os.Getenv("PORTAL_LOG_FILE"); logFile != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    intEnv("PORTAL_LOG_MAX_SIZE_MB", 50),
			MaxBackups: intEnv("PORTAL_LOG_MAX_BACKUPS", 5),
			MaxAge:     intEnv("PORTAL_LOG_MAX_AGE_DAYS", 28),
			Compress:   true,
		}))
	}

	addr := os.Getenv("PORTAL_ADDR")
	if addr == "" {
		addr = ":4000"
	}
	dataDir := os.Getenv("PORTAL_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	store, err := tabular.NewStore(tabular.StoreOptions{
		Dir:        dataDir,
		BackupKeep: intEnv("PORTAL_BACKUP_KEEP", 0),
		Logger:     log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to open record store: %v", err)
	}
	if err := store.Initialize(); err != nil {
		log.Fatalf("failed to initialize data files: %v", err)
	}

	journal, err := portalsync.BuildJournalFromDSN(os.Getenv("PORTAL_JOURNAL_DSN"))
	if err != nil {
		log.Fatalf("failed to open sync journal: %v", err)
	}

	hub := broadcast.NewHub(broadcast.HubOptions{
		Buffer: intEnv("PORTAL_EVENT_BUFFER", 0),
		Logger: log.Default(),
	})
	coordinator := portalsync.NewCoordinator(portalsync.Options{
		Store:        store,
		Hub:          hub,
		Journal:      journal,
		Cooldown:     durationEnv("PORTAL_COOLDOWN", 0),
		RequeueDelay: durationEnv("PORTAL_REQUEUE_DELAY", 0),
		Logger:       log.Default(),
	})

	fileWatcher, err := watcher.New(store, coordinator.SyncFromStore, watcher.Options{
		Debounce:     durationEnv("PORTAL_DEBOUNCE", 0),
		Grace:        durationEnv("PORTAL_GRACE", 0),
		PollInterval: durationEnv("PORTAL_POLL_INTERVAL", 0),
		Logger:       log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to create file watcher: %v", err)
	}
	if err := fileWatcher.Watch(); err != nil {
		log.Fatalf("failed to start file watcher: %v", err)
	}

	server := &http.Server{
		Addr: addr,
		Handler: httpapi.NewServerWithConfig(coordinator, hub, httpapi.ServerConfig{
			MaxBodyBytes:   int64Env("PORTAL_MAX_BODY_BYTES", 0),
			AllowAnyOrigin: boolEnv("PORTAL_ALLOW_ANY_ORIGIN", false),
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("portald listening on %s (data dir %s)", addr, dataDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	fileWatcher.Shutdown()
	coordinator.Close()
	hub.Close()
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
