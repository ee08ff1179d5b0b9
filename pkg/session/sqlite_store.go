package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/novellama/internal/observability"
	"github.com/harun/novellama/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps session records as JSON text in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("SQLite session store initialized")

	return &SQLiteStore{db: db}, nil
}

// Load reads a session record. Missing or malformed rows yield EmptyRecord.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (Record, error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "novellama.session", "session.load",
		attribute.String("session_id", sessionID),
		attribute.String("backend", DriverSQLite),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(DriverSQLite, time.Since(start))
	}()

	if err := ValidateSessionID(sessionID); err != nil {
		tracing.FailSpan(span, err)
		return Record{}, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM sessions WHERE id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Debug().Msg("Session does not exist")
		return EmptyRecord(), nil
	}
	if err != nil {
		tracing.FailSpan(span, err)
		return Record{}, fmt.Errorf("failed to query session: %w", err)
	}

	record, err := DecodeRecord([]byte(data))
	if err != nil {
		observability.RecordMalformedRecord(DriverSQLite)
		logger.Warn().Err(err).Msg("Malformed session row, starting empty")
		return EmptyRecord(), nil
	}
	return record, nil
}

// Save upserts the whole record.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, record Record) (err error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "novellama.session", "session.save",
		attribute.String("session_id", sessionID),
		attribute.String("backend", DriverSQLite),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(DriverSQLite, time.Since(start), err == nil)
		tracing.FailSpan(span, err)
	}()

	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	data, err := EncodeRecord(record)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		sessionID, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// List returns all stored session ids, sorted.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
