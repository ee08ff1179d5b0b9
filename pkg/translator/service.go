// Package translator serves translation requests against per-session
// contexts.
//
// Every operation on a session runs under that session's lock, from loading
// the context through the remote completion call to persisting the result.
// Sessions never contend with each other. A failed completion leaves the
// session untouched; a successful one is appended, size-managed and written
// through to the store before the call returns.
package translator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/novellama/internal/observability"
	"github.com/harun/novellama/internal/tracing"
	"github.com/harun/novellama/pkg/completion"
	"github.com/harun/novellama/pkg/session"
	"github.com/harun/novellama/pkg/translation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSessionID is used when a request names no session.
const DefaultSessionID = "default"

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 60 * time.Second

// ErrEmptyText is returned when there is nothing to translate.
var ErrEmptyText = errors.New("no text provided")

// Options configures a Service.
type Options struct {
	Store   session.Store
	Client  completion.Client
	Counter translation.TokenCounter

	// Model is the token counting hint and the model reported by Settings.
	Model       string
	MaxMessages int
	MaxTokens   int
	Timeout     time.Duration

	Logger zerolog.Logger
}

// Result is a completed translation.
type Result struct {
	Translation string `json:"translation"`
	Source      string `json:"source"`
}

// Settings are the context limits every session is created with.
type Settings struct {
	MaxMessages int    `json:"maxMessages"`
	MaxTokens   int    `json:"maxTokens"`
	ModelName   string `json:"modelName"`
}

// Service translates text within session contexts.
type Service struct {
	store    session.Store
	client   completion.Client
	registry *Registry
	settings Settings
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = translation.DefaultMaxTokens
	}
	if opts.MaxMessages < 0 {
		opts.MaxMessages = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	observability.EnsureRegistered()

	newContext := func() *translation.Context {
		return translation.New(translation.Options{
			Model:       opts.Model,
			MaxMessages: opts.MaxMessages,
			MaxTokens:   opts.MaxTokens,
			Counter:     opts.Counter,
		})
	}

	return &Service{
		store:    opts.Store,
		client:   opts.Client,
		registry: NewRegistry(opts.Store, newContext),
		settings: Settings{
			MaxMessages: opts.MaxMessages,
			MaxTokens:   opts.MaxTokens,
			ModelName:   opts.Model,
		},
		timeout: opts.Timeout,
		logger:  opts.Logger.With().Str("component", "translator").Logger(),
	}, nil
}

// Translate sends text with the session's context to the completion API,
// records the exchange and persists the session.
func (s *Service) Translate(ctx context.Context, sessionID, text string) (*Result, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	sessionID = normalizeID(sessionID)
	if err := session.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "novellama.translator", "translator.translate",
		attribute.String("session_id", sessionID),
		attribute.Int("text_length", len(text)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	slot := s.registry.acquire(sessionID)
	defer slot.mu.Unlock()

	tc, err := s.registry.hydrate(ctx, sessionID, slot)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	messages := append(tc.Render(), translation.Message{Role: translation.RoleUser, Content: text})

	start := time.Now()
	reply, err := s.complete(ctx, messages)
	if err != nil {
		apiErr := completion.WrapError(s.client.Provider(), err)
		observability.RecordTranslation(s.client.Provider(), time.Since(start), false, apiErr.StatusCode)
		tracing.FailSpan(span, apiErr)
		logger.Warn().
			Int("status_code", apiErr.StatusCode).
			Str("status", apiErr.Status).
			Msg("Completion failed")
		return nil, apiErr
	}
	observability.RecordTranslation(s.client.Provider(), time.Since(start), true, 0)

	before := len(tc.History())
	tc.AddTranslation(text, reply)
	after := len(tc.History())
	tokens := tc.TokenTotal()
	observability.RecordContextSize(tokens, before+1-after)

	logger.Debug().
		Int("history", after).
		Int("trimmed", before+1-after).
		Int("tokens", tokens).
		Msg("Translation recorded")

	// The exchange is already in memory; finish persisting even if the caller went away.
	if err := s.store.Save(tracing.Detach(ctx), sessionID, session.Snapshot(tc)); err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &Result{Translation: reply, Source: text}, nil
}

func (s *Service) complete(ctx context.Context, messages []translation.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Complete(ctx, messages)
}

// SetSystemPrompt replaces the session's prompt and persists it. An empty
// prompt selects the default instruction.
func (s *Service) SetSystemPrompt(ctx context.Context, sessionID, prompt string) error {
	return s.update(ctx, sessionID, "translator.set_system_prompt", func(tc *translation.Context) {
		tc.SetSystemPrompt(prompt)
	})
}

// SetReferences replaces the session's references and persists them.
func (s *Service) SetReferences(ctx context.Context, sessionID string, references []string) error {
	return s.update(ctx, sessionID, "translator.set_references", func(tc *translation.Context) {
		tc.SetReferences(references)
	})
}

func (s *Service) update(ctx context.Context, sessionID, op string, mutate func(*translation.Context)) (err error) {
	sessionID = normalizeID(sessionID)
	if err := session.ValidateSessionID(sessionID); err != nil {
		return err
	}

	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "novellama.translator", op,
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	defer func() {
		observability.RecordSessionAudit(ctx, op, sessionID, err, nil)
	}()

	slot := s.registry.acquire(sessionID)
	defer slot.mu.Unlock()

	tc, err := s.registry.hydrate(ctx, sessionID, slot)
	if err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to load session: %w", err)
	}

	previous := session.Snapshot(tc)
	mutate(tc)

	if err := s.store.Save(tracing.Detach(ctx), sessionID, session.Snapshot(tc)); err != nil {
		// Settings changes are all-or-nothing: memory stays in step with the store.
		previous.Hydrate(tc)
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Context returns the session's retained history, oldest first. Sessions not
// yet held in memory are read from the store without creating a context.
func (s *Service) Context(ctx context.Context, sessionID string) ([]translation.Entry, error) {
	sessionID = normalizeID(sessionID)
	if err := session.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	if slot, ok := s.registry.peek(sessionID); ok {
		slot.mu.Lock()
		tc := slot.ctx
		var history []translation.Entry
		if tc != nil {
			history = tc.History()
		}
		slot.mu.Unlock()
		if tc != nil {
			return history, nil
		}
	}

	record, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return record.Translations, nil
}

// Settings returns the limits applied to every session.
func (s *Service) Settings() Settings {
	return s.settings
}

// ActiveSessions returns the number of contexts held in memory.
func (s *Service) ActiveSessions() int {
	return s.registry.Active()
}

// Provider returns the completion provider name.
func (s *Service) Provider() string {
	return s.client.Provider()
}

func normalizeID(sessionID string) string {
	if sessionID == "" {
		return DefaultSessionID
	}
	return sessionID
}
