package portalsync

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrInvalidJournalDSN = errors.New("invalid journal dsn")

// JournalEntry records one completed sync pass or sync failure. The journal
// makes the last-writer-wins overwrite window at least observable after the
// fact.
type JournalEntry struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	ChangeID  string `json:"changeId,omitempty"`
	DataType  string `json:"dataType,omitempty"`
	Operation string `json:"operation,omitempty"`
	Added     int    `json:"added"`
	Modified  int    `json:"modified"`
	Deleted   int    `json:"deleted"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Journal persists sync history. Implementations must tolerate concurrent
// appends from the coordinator and reads from the HTTP status surface.
type Journal interface {
	Append(entry JournalEntry) error
	Recent(limit int) ([]JournalEntry, error)
	Close() error
}

// BuildJournalFromDSN selects a journal backend by DSN shape:
// postgres://... or postgresql://... builds a Postgres journal, anything
// else is treated as a file path. An empty DSN disables journaling.
func BuildJournalFromDSN(dsn string) (Journal, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresJournal(dsn)
	default:
		return NewFileJournal(dsn)
	}
}

const fileJournalMaxEntries = 2000

// fileJournal appends JSON lines to a local file, trimming the oldest lines
// once the cap is reached.
type fileJournal struct {
	path string
	mu   sync.Mutex
}

func NewFileJournal(path string) (Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidJournalDSN
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileJournal{path: path}, nil
}

func (j *fileJournal) Append(entry JournalEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return j.trimLocked()
}

func (j *fileJournal) Recent(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := j.readAllLocked()
	if err != nil {
		return nil, err
	}
	// Newest first.
	out := make([]JournalEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (j *fileJournal) Close() error { return nil }

func (j *fileJournal) readAllLocked() ([]JournalEntry, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var entries []JournalEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

func (j *fileJournal) trimLocked() error {
	entries, err := j.readAllLocked()
	if err != nil {
		return err
	}
	if len(entries) <= fileJournalMaxEntries {
		return nil
	}
	entries = entries[len(entries)-fileJournalMaxEntries:]
	var buf bytes.Buffer
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
