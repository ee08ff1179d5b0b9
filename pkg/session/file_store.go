package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/novellama/internal/observability"
	"github.com/harun/novellama/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const recordExt = ".json"

// FileStore keeps one pretty-printed JSON file per session.
type FileStore struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewFileStore creates the directory if needed. An empty dir means "data".
func NewFileStore(dir string) (*FileStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("File session store initialized")

	return &FileStore{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory holding session files.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+recordExt)
}

// writeLock gets or creates the write lock for a session
func (s *FileStore) writeLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[sessionID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[sessionID] = lock
	return lock
}

// Load reads a session record. Missing or malformed files yield EmptyRecord;
// unreadable ones are an error.
func (s *FileStore) Load(ctx context.Context, sessionID string) (Record, error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "novellama.session", "session.load",
		attribute.String("session_id", sessionID),
		attribute.String("backend", DriverFile),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(DriverFile, time.Since(start))
	}()

	if err := ValidateSessionID(sessionID); err != nil {
		tracing.FailSpan(span, err)
		return Record{}, err
	}

	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug().Msg("Session does not exist")
		return EmptyRecord(), nil
	}
	if err != nil {
		tracing.FailSpan(span, err)
		return Record{}, fmt.Errorf("failed to read session file: %w", err)
	}

	record, err := DecodeRecord(data)
	if err != nil {
		observability.RecordMalformedRecord(DriverFile)
		logger.Warn().Err(err).Msg("Malformed session file, starting empty")
		return EmptyRecord(), nil
	}

	logger.Debug().
		Int("references", len(record.References)).
		Int("translations", len(record.Translations)).
		Msg("Session loaded")

	return record, nil
}

// Save writes the record to a temp file and renames it over the old one.
func (s *FileStore) Save(ctx context.Context, sessionID string, record Record) (err error) {
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "novellama.session", "session.save",
		attribute.String("session_id", sessionID),
		attribute.String("backend", DriverFile),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(DriverFile, time.Since(start), err == nil)
		tracing.FailSpan(span, err)
	}()

	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	data, err := EncodeRecord(record)
	if err != nil {
		return err
	}

	lock := s.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(sessionID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	logger.Debug().
		Int("translations", len(record.Translations)).
		Msg("Session saved")

	return nil
}

// List returns the ids of all session files, sorted.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, recordExt) {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(sessions)

	return sessions, nil
}

// Close releases the write locks.
func (s *FileStore) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()

	log.Info().Msg("File session store closed")
	return nil
}
