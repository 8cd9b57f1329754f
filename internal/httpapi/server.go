package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/carebridge/portal/internal/broadcast"
	"github.com/carebridge/portal/internal/portalsync"
	"github.com/carebridge/portal/internal/tabular"
)

type ServerConfig struct {
	MaxBodyBytes int64
	// AllowAnyOrigin disables websocket origin checking so a frontend dev
	// server on another port can connect. Off by default.
	AllowAnyOrigin bool
}

type Server struct {
	coordinator *portalsync.Coordinator
	hub         *broadcast.Hub
	cfg         ServerConfig
}

func NewServer(coordinator *portalsync.Coordinator, hub *broadcast.Hub) *Server {
	return NewServerWithConfig(coordinator, hub, ServerConfig{})
}

func NewServerWithConfig(coordinator *portalsync.Coordinator, hub *broadcast.Hub, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{coordinator: coordinator, hub: hub, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/events" && r.Method == http.MethodGet {
		s.handleEvents(w, r)
		return
	}
	if r.URL.Path == "/v1/sync/status" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.coordinator.Status())
		return
	}
	if r.URL.Path == "/v1/sync/refresh" && r.Method == http.MethodPost {
		s.handleSyncRefresh(w, r)
		return
	}
	if r.URL.Path == "/v1/sync/journal" && r.Method == http.MethodGet {
		s.handleSyncJournal(w, r)
		return
	}
	if r.URL.Path == "/v1/backups/cleanup" && r.Method == http.MethodPost {
		s.handleBackupCleanup(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) == 3 && parts[0] == "v1" && parts[1] == "records" {
		kind, ok := kindFromParam(parts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "unknown record collection", getCorrelationID(r))
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleListRecords(w, kind)
		case http.MethodPost:
			s.handleSaveRecord(w, r, kind)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
		}
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
}

func (s *Server) handleListRecords(w http.ResponseWriter, kind tabular.Kind) {
	records := s.coordinator.Snapshot(kind)
	writeJSON(w, http.StatusOK, struct {
		Kind    tabular.Kind     `json:"kind"`
		Count   int              `json:"count"`
		Records []tabular.Record `json:"records"`
	}{Kind: kind, Count: len(records), Records: records})
}

// handleSaveRecord is the portal-to-file direction. The saved record flows
// through the coordinator so the file write, the cache update, and the
// broadcast stay serialized with file-driven reloads.
func (s *Server) handleSaveRecord(w http.ResponseWriter, r *http.Request, kind tabular.Kind) {
	correlationID := getCorrelationID(r)
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	record, err := tabular.DecodeJSONRecord(kind, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body: "+err.Error(), correlationID)
		return
	}

	if kind == tabular.KindStatusUpdate {
		update, ok := record.(tabular.StatusUpdate)
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected record type", correlationID)
			return
		}
		result := s.coordinator.AppendStatusUpdate(update)
		if !result.Success {
			writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		writeJSON(w, http.StatusCreated, result)
		return
	}

	record, generated := withGeneratedID(record)
	operation := "update"
	if generated || !recordExists(s.coordinator.Snapshot(kind), record.RecordID()) {
		operation = "create"
	}
	result := s.coordinator.SyncToStore(kind, record, operation)
	if !result.Success {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	status := http.StatusOK
	if operation == "create" {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *Server) handleSyncRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is a valid refresh request.
	if r.ContentLength != 0 {
		if !s.decodeJSONBody(w, r, getCorrelationID(r), &body) {
			return
		}
	}
	changeID := s.coordinator.ForceFullSync()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"changeId": changeID,
		"reason":   body.Reason,
	})
}

func (s *Server) handleSyncJournal(w http.ResponseWriter, r *http.Request) {
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 50, 1, 1000)
	entries, err := s.coordinator.RecentJournal(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), getCorrelationID(r))
		return
	}
	if entries == nil {
		entries = []portalsync.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, struct {
		Count   int                       `json:"count"`
		Entries []portalsync.JournalEntry `json:"entries"`
	}{Count: len(entries), Entries: entries})
}

func (s *Server) handleBackupCleanup(w http.ResponseWriter, r *http.Request) {
	keep := parseBoundedInt(r.URL.Query().Get("keep"), tabular.DefaultBackupKeep, 1, 1000)
	removed, err := s.coordinator.CleanupBackups(keep)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed, "kept": keep})
}

func kindFromParam(param string) (tabular.Kind, bool) {
	switch param {
	case "stories":
		return tabular.KindStory, true
	case "donations":
		return tabular.KindDonation, true
	case "collaborations":
		return tabular.KindCollaboration, true
	case "status-updates":
		return tabular.KindStatusUpdate, true
	}
	return "", false
}

// withGeneratedID fills in a generated id when the client omitted one and
// reports whether it did so.
func withGeneratedID(record tabular.Record) (tabular.Record, bool) {
	if strings.TrimSpace(record.RecordID()) != "" {
		return record, false
	}
	id := uuid.NewString()
	switch rec := record.(type) {
	case tabular.Story:
		rec.ID = id
		return rec, true
	case tabular.Donation:
		rec.ID = id
		return rec, true
	case tabular.Collaboration:
		rec.ID = id
		return rec, true
	}
	return record, false
}

func recordExists(records []tabular.Record, id string) bool {
	for _, record := range records {
		if record.RecordID() == id {
			return true
		}
	}
	return false
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}
