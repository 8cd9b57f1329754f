package portalsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresJournalTableName       = "portal_sync_journal"
	postgresJournalOperationTimout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresJournal stores sync history in a Postgres table so several portal
// instances (or an operator's psql session) can inspect it.
type PostgresJournal struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidJournalDSN
	}
	return &PostgresJournal{
		dsn:       dsn,
		tableName: postgresJournalTableName,
		openDB:    sql.Open,
	}, nil
}

func (j *PostgresJournal) Append(entry JournalEntry) error {
	if err := j.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresJournalOperationTimout)
	defer cancel()

	query := fmt.Sprintf(
		"INSERT INTO %s (entry, created_at) VALUES ($1, NOW())",
		postgresQuoteIdentifier(j.tableName),
	)
	_, err = j.db.ExecContext(ctx, query, string(payload))
	return err
}

func (j *PostgresJournal) Recent(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if err := j.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresJournalOperationTimout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT entry FROM %s ORDER BY id DESC LIMIT $1",
		postgresQuoteIdentifier(j.tableName),
	)
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (j *PostgresJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *PostgresJournal) ensureReady() error {
	j.initOnce.Do(func() {
		db, err := j.openDB("postgres", j.dsn)
		if err != nil {
			j.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresJournalOperationTimout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				entry TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(j.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			j.initErr = err
			return
		}
		j.db = db
	})
	return j.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
