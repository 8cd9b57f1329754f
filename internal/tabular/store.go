package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger matches the stdlib log.Printf signature. A nil logger is safe.
type Logger interface {
	Printf(format string, args ...any)
}

const DefaultBackupKeep = 10

// StoreOptions configures a Store. Zero values get defaults.
type StoreOptions struct {
	Dir        string
	BackupKeep int
	Logger     Logger
}

// Store reads and writes the per-entity tabular files. The files are not
// exclusively owned by the process: a person can open and save them in
// office software at any time, so every read re-parses from disk and every
// write rewrites the whole file under the store mutex.
type Store struct {
	dir        string
	backupKeep int
	logger     Logger
	schemas    *rowSchemas
	mu         sync.Mutex
}

// UpsertResult is the structured outcome of a write. A failed validation
// carries every violated rule; nothing is written on failure.
type UpsertResult struct {
	Success    bool     `json:"success"`
	Errors     []string `json:"errors,omitempty"`
	BackupPath string   `json:"backupPath,omitempty"`
	Record     Record   `json:"record,omitempty"`
}

func NewStore(opts StoreOptions) (*Store, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: data dir is required", ErrInvalidInput)
	}
	keep := opts.BackupKeep
	if keep <= 0 {
		keep = DefaultBackupKeep
	}
	schemas, err := compileRowSchemas()
	if err != nil {
		return nil, err
	}
	return &Store{
		dir:        filepath.Clean(dir),
		backupKeep: keep,
		logger:     opts.Logger,
		schemas:    schemas,
	}, nil
}

func (s *Store) Dir() string { return s.dir }

// FileName returns the tabular file name for an entity kind.
func FileName(kind Kind) string {
	switch kind {
	case KindStory:
		return "stories.csv"
	case KindDonation:
		return "donations.csv"
	case KindCollaboration:
		return "collaborations.csv"
	case KindStatusUpdate:
		return "status_updates.csv"
	default:
		return ""
	}
}

// KindForFile maps a watched file name back to its entity kind.
func KindForFile(name string) (Kind, bool) {
	for _, kind := range Kinds() {
		if FileName(kind) == name {
			return kind, true
		}
	}
	return "", false
}

func (s *Store) Path(kind Kind) string {
	return filepath.Join(s.dir, FileName(kind))
}

// Paths lists every entity file the store owns, in stable kind order.
func (s *Store) Paths() []string {
	out := make([]string, 0, len(Kinds()))
	for _, kind := range Kinds() {
		out = append(out, s.Path(kind))
	}
	return out
}

// Initialize creates the data directory and any missing entity file with
// only its header row. Safe to call on every process start.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	for _, kind := range Kinds() {
		path := s.Path(kind)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := s.writeRowsLocked(kind, nil); err != nil {
			return err
		}
		s.logf("[STORE] created %s", FileName(kind))
	}
	return nil
}

// ReadAll returns every non-header row of the entity's file in file order.
// A missing or corrupt file yields an empty collection; the error is logged,
// never returned. Rows that fail schema validation or typed decoding are
// skipped with a log line so one bad hand-edited row cannot poison a reload.
func (s *Store) ReadAll(kind Kind) []Record {
	if err := checkKind(kind); err != nil {
		s.logf("[STORE] readAll: %v", err)
		return []Record{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked(kind)
}

func (s *Store) readAllLocked(kind Kind) []Record {
	data, err := os.ReadFile(s.Path(kind))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logf("[STORE] read %s: %v", FileName(kind), err)
		}
		return []Record{}
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		s.logf("[STORE] parse %s: %v", FileName(kind), err)
		return []Record{}
	}
	records := make([]Record, 0, len(rows))
	idLabel := HeaderRow(kind)[0]
	for i, row := range rows {
		if i == 0 {
			// Row 1 is the human-readable label row.
			continue
		}
		if isBlankRow(row) || (len(row) > 0 && row[0] == idLabel) {
			continue
		}
		if err := s.schemas.validateRow(kind, row); err != nil {
			s.logf("[STORE] %s row %d rejected by schema: %v", FileName(kind), i+1, err)
			continue
		}
		record, err := DecodeRecord(kind, row)
		if err != nil {
			s.logf("[STORE] %s row %d skipped: %v", FileName(kind), i+1, err)
			continue
		}
		records = append(records, record)
	}
	return records
}

// LoadAll reads every entity kind in one pass.
func (s *Store) LoadAll() Snapshots {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Snapshots, len(Kinds()))
	for _, kind := range Kinds() {
		out[kind] = s.readAllLocked(kind)
	}
	return out
}

// Upsert validates the record and, on success, backs up the entity file and
// rewrites it with the record inserted or replaced by id. The whole row is
// always supplied; rows are never partially patched.
func (s *Store) Upsert(kind Kind, record Record) UpsertResult {
	if err := checkKind(kind); err != nil {
		return UpsertResult{Errors: []string{err.Error()}}
	}
	if record == nil || record.RecordKind() != kind {
		return UpsertResult{Errors: []string{"Record does not match entity kind"}}
	}
	if kind == KindStatusUpdate {
		return UpsertResult{Errors: []string{"Status updates are append-only"}}
	}
	record = stampTimestamps(record)
	if errs := ValidateRecord(record); len(errs) > 0 {
		return UpsertResult{Errors: errs}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Best-effort backup before the rewrite; a backup failure is logged but
	// does not block the write.
	backupPath := s.backupLocked(kind)

	existing := s.readAllLocked(kind)
	replaced := false
	for i, current := range existing {
		if current.RecordID() == record.RecordID() {
			existing[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, record)
	}
	if err := s.writeRowsLocked(kind, existing); err != nil {
		s.logf("[STORE] write %s: %v", FileName(kind), err)
		return UpsertResult{Errors: []string{"Failed to write record store"}, BackupPath: backupPath}
	}
	return UpsertResult{Success: true, BackupPath: backupPath, Record: record}
}

// AppendStatusUpdate inserts an audit row. The id is derived from the
// current time plus a random suffix instead of being caller-supplied, and
// existing rows are never replaced.
func (s *Store) AppendStatusUpdate(update StatusUpdate) (StatusUpdate, error) {
	now := time.Now().UTC()
	update.ID = fmt.Sprintf("%d_%s", now.UnixMilli(), uuid.NewString()[:8])
	update.Timestamp = now.Format(time.RFC3339)
	if update.UpdatedBy == "" {
		update.UpdatedBy = "admin"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.readAllLocked(KindStatusUpdate)
	existing = append(existing, update)
	if err := s.writeRowsLocked(KindStatusUpdate, existing); err != nil {
		return StatusUpdate{}, err
	}
	return update, nil
}

// BackupRotate deletes all but the keep most-recently-modified backup files
// for each entity. Returns the number of files removed.
func (s *Store) BackupRotate(keep int) (int, error) {
	if keep <= 0 {
		keep = s.backupKeep
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	type backupFile struct {
		path    string
		modTime time.Time
	}
	byKind := map[Kind][]backupFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind, ok := backupKindFor(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		byKind[kind] = append(byKind[kind], backupFile{
			path:    filepath.Join(s.dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	removed := 0
	for _, backups := range byKind {
		sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.After(backups[j].modTime) })
		for _, stale := range backups[min(keep, len(backups)):] {
			if err := os.Remove(stale.path); err != nil {
				s.logf("[STORE] remove backup %s: %v", stale.path, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logf("[STORE] rotated backups, removed %d", removed)
	}
	return removed, nil
}

func (s *Store) backupLocked(kind Kind) string {
	source := s.Path(kind)
	data, err := os.ReadFile(source)
	if err != nil {
		// No prior file, nothing to back up.
		return ""
	}
	base := strings.TrimSuffix(FileName(kind), ".csv")
	backupPath := filepath.Join(s.dir, fmt.Sprintf("%s_backup_%d.csv", base, time.Now().UnixNano()))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		s.logf("[STORE] backup %s: %v", FileName(kind), err)
		return ""
	}
	return backupPath
}

func (s *Store) writeRowsLocked(kind Kind, records []Record) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(HeaderRow(kind)); err != nil {
		return err
	}
	for _, record := range records {
		if err := writer.Write(EncodeRecord(record)); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return writeFileAtomic(s.Path(kind), buf.Bytes(), 0o644)
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// stampTimestamps fills the store-owned timestamp cells: UpdatedAt always
// moves to now, creation-time cells are set only when empty.
func stampTimestamps(record Record) Record {
	now := time.Now().UTC().Format(time.RFC3339)
	switch r := record.(type) {
	case Story:
		if r.CreatedAt == "" {
			r.CreatedAt = now
		}
		if r.Status == "" {
			r.Status = "active"
		}
		r.UpdatedAt = now
		return r
	case Donation:
		if r.CreatedAt == "" {
			r.CreatedAt = now
		}
		if r.Status == "" {
			r.Status = "completed"
		}
		if r.Status == "completed" && r.CompletedAt == "" {
			r.CompletedAt = now
		}
		return r
	case Collaboration:
		if r.SubmittedAt == "" {
			r.SubmittedAt = now
		}
		if r.Status == "" {
			r.Status = "pending"
		}
		if r.Priority == "" {
			r.Priority = "medium"
		}
		r.UpdatedAt = now
		return r
	default:
		return record
	}
}

func backupKindFor(name string) (Kind, bool) {
	if !strings.HasSuffix(name, ".csv") {
		return "", false
	}
	for _, kind := range Kinds() {
		base := strings.TrimSuffix(FileName(kind), ".csv")
		if strings.HasPrefix(name, base+"_backup_") {
			return kind, true
		}
	}
	return "", false
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
