package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/novellama/pkg/translation"
)

// Storage drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// ErrInvalidSessionID is returned for ids that are empty or not path-safe.
var ErrInvalidSessionID = errors.New("invalid session id")

// Record is the persisted form of a session. Field names are part of the
// on-disk contract.
type Record struct {
	SystemPrompt string              `json:"systemPrompt"`
	References   []string            `json:"references"`
	Translations []translation.Entry `json:"translations"`
}

// EmptyRecord returns the record of a session that was never saved.
func EmptyRecord() Record {
	return Record{
		SystemPrompt: "",
		References:   []string{},
		Translations: []translation.Entry{},
	}
}

// normalized replaces nil slices with empty ones so records always encode as [].
func (r Record) normalized() Record {
	if r.References == nil {
		r.References = []string{}
	}
	if r.Translations == nil {
		r.Translations = []translation.Entry{}
	}
	return r
}

// Store persists whole session records keyed by session id.
type Store interface {
	// Load returns the stored record, or EmptyRecord when none exists or the
	// stored data is malformed. A record that exists but cannot be read
	// (permissions, I/O, a locked database) is an error, so the next Save
	// cannot silently overwrite data that is still there.
	Load(ctx context.Context, sessionID string) (Record, error)
	// Save overwrites the whole record.
	Save(ctx context.Context, sessionID string, record Record) error
	// List returns the ids of all stored sessions.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	Driver string
	// Dir holds one JSON file per session for the file driver.
	Dir string
	// DSN is the database path for the sqlite driver.
	DSN string
}

// Open creates the Store selected by cfg.Driver.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFile:
		return NewFileStore(cfg.Dir)
	case DriverSQLite:
		return NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// ValidateSessionID rejects ids that could escape the storage directory.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidSessionID)
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidSessionID)
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidSessionID)
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidSessionID)
	}
	return nil
}

// Snapshot captures the persisted form of c.
func Snapshot(c *translation.Context) Record {
	return Record{
		SystemPrompt: c.SystemPrompt(),
		References:   c.References(),
		Translations: c.History(),
	}.normalized()
}

// Hydrate replaces the state of c with the record's content.
func (r Record) Hydrate(c *translation.Context) {
	c.Restore(r.SystemPrompt, r.References, r.Translations)
}
