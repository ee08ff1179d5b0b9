package translator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/novellama/pkg/completion"
	"github.com/harun/novellama/pkg/session"
	"github.com/harun/novellama/pkg/translation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient replies "T(<last user message>)" and records what it was sent.
type fakeClient struct {
	mu    sync.Mutex
	calls [][]translation.Message
	err   error
	delay time.Duration
}

func (c *fakeClient) Provider() string { return "fake" }

func (c *fakeClient) Complete(ctx context.Context, messages []translation.Message) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]translation.Message{}, messages...))
	err := c.err
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "T(" + messages[len(messages)-1].Content + ")", nil
}

func (c *fakeClient) lastCall() []translation.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// memoryStore is an in-memory session.Store with injectable failures.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]session.Record
	saves   atomic.Int64
	loadErr error
	saveErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]session.Record)}
}

func (m *memoryStore) Load(_ context.Context, id string) (session.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return session.Record{}, m.loadErr
	}
	rec, ok := m.records[id]
	if !ok {
		return session.EmptyRecord(), nil
	}
	return rec, nil
}

func (m *memoryStore) Save(_ context.Context, id string, rec session.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves.Add(1)
	m.records[id] = rec
	return nil
}

func (m *memoryStore) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) get(id string) (session.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) Count(text, _ string) int {
	return len(strings.Fields(text))
}

func setupTestService(t *testing.T, opts Options) (*Service, *fakeClient, *memoryStore) {
	client := &fakeClient{}
	store := newMemoryStore()
	if opts.Client == nil {
		opts.Client = client
	}
	if opts.Store == nil {
		opts.Store = store
	}
	if opts.Counter == nil {
		opts.Counter = wordCounter{}
	}
	opts.Logger = zerolog.Nop()

	svc, err := New(opts)
	require.NoError(t, err)
	return svc, client, store
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Client: &fakeClient{}})
	assert.Error(t, err)

	_, err = New(Options{Store: newMemoryStore()})
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	svc, _, _ := setupTestService(t, Options{Model: "gpt-4o", MaxMessages: 5})
	assert.Equal(t, Settings{MaxMessages: 5, MaxTokens: translation.DefaultMaxTokens, ModelName: "gpt-4o"}, svc.Settings())

	svc, _, _ = setupTestService(t, Options{MaxMessages: -3, MaxTokens: 100})
	assert.Equal(t, 0, svc.Settings().MaxMessages)
	assert.Equal(t, 100, svc.Settings().MaxTokens)
}

func TestTranslate(t *testing.T) {
	svc, client, store := setupTestService(t, Options{})
	ctx := context.Background()

	res, err := svc.Translate(ctx, "s1", "bonjour")
	require.NoError(t, err)
	assert.Equal(t, &Result{Translation: "T(bonjour)", Source: "bonjour"}, res)

	sent := client.lastCall()
	require.Len(t, sent, 2)
	assert.Equal(t, translation.Message{Role: translation.RoleSystem, Content: translation.DefaultSystemPrompt}, sent[0])
	assert.Equal(t, translation.Message{Role: translation.RoleUser, Content: "bonjour"}, sent[1])

	_, err = svc.Translate(ctx, "s1", "merci")
	require.NoError(t, err)

	sent = client.lastCall()
	require.Len(t, sent, 4)
	assert.Equal(t, "bonjour", sent[1].Content)
	assert.Equal(t, translation.RoleAssistant, sent[2].Role)
	assert.Equal(t, "T(bonjour)", sent[2].Content)
	assert.Equal(t, "merci", sent[3].Content)

	rec, ok := store.get("s1")
	require.True(t, ok)
	assert.Equal(t, []translation.Entry{
		{Source: "bonjour", Translation: "T(bonjour)"},
		{Source: "merci", Translation: "T(merci)"},
	}, rec.Translations)
}

func TestTranslate_DefaultSession(t *testing.T) {
	svc, _, store := setupTestService(t, Options{})

	_, err := svc.Translate(context.Background(), "", "hello")
	require.NoError(t, err)

	_, ok := store.get(DefaultSessionID)
	assert.True(t, ok)
}

func TestTranslate_EmptyText(t *testing.T) {
	svc, client, store := setupTestService(t, Options{})

	_, err := svc.Translate(context.Background(), "s1", "")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, 0, client.callCount())
	assert.Equal(t, int64(0), store.saves.Load())
	assert.Equal(t, 0, svc.ActiveSessions(), "no context is created")
}

func TestTranslate_InvalidSessionID(t *testing.T) {
	svc, client, _ := setupTestService(t, Options{})

	_, err := svc.Translate(context.Background(), "../etc", "x")
	assert.ErrorIs(t, err, session.ErrInvalidSessionID)
	assert.Equal(t, 0, client.callCount())
}

func TestTranslate_CompletionFailureLeavesSessionUntouched(t *testing.T) {
	svc, client, store := setupTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Translate(ctx, "s1", "first")
	require.NoError(t, err)
	savesBefore := store.saves.Load()

	client.mu.Lock()
	client.err = &completion.RemoteAPIError{
		Provider:   "fake",
		StatusCode: http.StatusTooManyRequests,
		Status:     "429 Too Many Requests",
		Body:       `{"error":"rate limited"}`,
	}
	client.mu.Unlock()

	_, err = svc.Translate(ctx, "s1", "second")
	require.Error(t, err)

	apiErr, ok := completion.AsRemoteAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, `{"error":"rate limited"}`, apiErr.Body)

	assert.Equal(t, savesBefore, store.saves.Load(), "nothing persisted")
	history, err := svc.Context(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []translation.Entry{{Source: "first", Translation: "T(first)"}}, history)
}

func TestTranslate_PlainClientErrorIsWrapped(t *testing.T) {
	svc, client, _ := setupTestService(t, Options{})
	client.err = errors.New("connection refused")

	_, err := svc.Translate(context.Background(), "s1", "x")
	apiErr, ok := completion.AsRemoteAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 0, apiErr.StatusCode)
	assert.Equal(t, completion.StatusTransportError, apiErr.Status)
}

func TestTranslate_Timeout(t *testing.T) {
	svc, client, store := setupTestService(t, Options{Timeout: 20 * time.Millisecond})
	client.delay = time.Second

	_, err := svc.Translate(context.Background(), "s1", "slow")
	apiErr, ok := completion.AsRemoteAPIError(err)
	require.True(t, ok)
	assert.Equal(t, completion.StatusTimeout, apiErr.Status)
	assert.Equal(t, int64(0), store.saves.Load())
}

func TestTranslate_SaveFailure(t *testing.T) {
	svc, _, store := setupTestService(t, Options{})
	store.saveErr = errors.New("disk full")

	_, err := svc.Translate(context.Background(), "s1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, isRemote := completion.AsRemoteAPIError(err)
	assert.False(t, isRemote)

	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()

	_, err = svc.Translate(context.Background(), "s1", "y")
	require.NoError(t, err)
	rec, _ := store.get("s1")
	assert.Len(t, rec.Translations, 2, "record converges on the next successful save")
}

func TestTranslate_LoadFailureRetries(t *testing.T) {
	svc, client, store := setupTestService(t, Options{})
	store.loadErr = errors.New("io error")

	_, err := svc.Translate(context.Background(), "s1", "x")
	require.Error(t, err)
	assert.Equal(t, 0, client.callCount())

	store.mu.Lock()
	store.loadErr = nil
	store.mu.Unlock()

	_, err = svc.Translate(context.Background(), "s1", "x")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.ActiveSessions())
}

func TestTranslate_HydratesFromStore(t *testing.T) {
	svc, client, store := setupTestService(t, Options{})
	store.records["s1"] = session.Record{
		SystemPrompt: "Translate to German.",
		References:   []string{"Hund = dog"},
		Translations: []translation.Entry{{Source: "a", Translation: "b"}},
	}

	_, err := svc.Translate(context.Background(), "s1", "c")
	require.NoError(t, err)

	sent := client.lastCall()
	require.Len(t, sent, 4)
	assert.True(t, strings.HasPrefix(sent[0].Content, "Translate to German."))
	assert.Contains(t, sent[0].Content, "\n--- Reference 1 ---\nHund = dog\n")
	assert.Equal(t, "a", sent[1].Content)
	assert.Equal(t, "b", sent[2].Content)
}

func TestTranslate_MessageCapTrimsPersistedHistory(t *testing.T) {
	svc, _, store := setupTestService(t, Options{MaxMessages: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Translate(ctx, "s1", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	rec, _ := store.get("s1")
	assert.Equal(t, []translation.Entry{
		{Source: "m2", Translation: "T(m2)"},
		{Source: "m3", Translation: "T(m3)"},
	}, rec.Translations)
}

func TestTranslate_TokenCapKeepsContextBelowBudget(t *testing.T) {
	svc, _, _ := setupTestService(t, Options{MaxTokens: 40})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := svc.Translate(ctx, "s1", "one two three")
		require.NoError(t, err)

		history, err := svc.Context(ctx, "s1")
		require.NoError(t, err)

		total := len(strings.Fields(translation.DefaultSystemPrompt))
		for _, e := range history {
			total += len(strings.Fields(e.Source)) + len(strings.Fields(e.Translation))
		}
		assert.Less(t, total, 40)
	}
}

func TestSetSystemPromptAndReferences(t *testing.T) {
	svc, client, store := setupTestService(t, Options{})
	ctx := context.Background()

	require.NoError(t, svc.SetSystemPrompt(ctx, "s1", "Translate to Spanish."))
	require.NoError(t, svc.SetReferences(ctx, "s1", []string{"r1", "r2"}))

	rec, ok := store.get("s1")
	require.True(t, ok)
	assert.Equal(t, "Translate to Spanish.", rec.SystemPrompt)
	assert.Equal(t, []string{"r1", "r2"}, rec.References)

	require.NoError(t, svc.SetReferences(ctx, "s1", []string{"r3"}))
	rec, _ = store.get("s1")
	assert.Equal(t, []string{"r3"}, rec.References, "references are replaced, not merged")

	_, err := svc.Translate(ctx, "s1", "hola")
	require.NoError(t, err)
	assert.Equal(t, "Translate to Spanish.\n\nReference materials:\n\n--- Reference 1 ---\nr3\n", client.lastCall()[0].Content)

	require.NoError(t, svc.SetSystemPrompt(ctx, "s1", ""))
	_, err = svc.Translate(ctx, "s1", "adios")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(client.lastCall()[0].Content, translation.DefaultSystemPrompt))

	require.NoError(t, svc.SetReferences(ctx, "s1", nil))
	rec, _ = store.get("s1")
	assert.NotNil(t, rec.References)
	assert.Empty(t, rec.References)
}

func TestSettingsChange_SaveFailureRollsBack(t *testing.T) {
	svc, client, store := setupTestService(t, Options{})
	ctx := context.Background()

	require.NoError(t, svc.SetSystemPrompt(ctx, "s1", "Translate to Spanish."))
	require.NoError(t, svc.SetReferences(ctx, "s1", []string{"r1"}))

	store.saveErr = errors.New("disk full")
	assert.Error(t, svc.SetSystemPrompt(ctx, "s1", "Translate to German."))
	assert.Error(t, svc.SetReferences(ctx, "s1", []string{"r2", "r3"}))
	store.saveErr = nil

	rec, ok := store.get("s1")
	require.True(t, ok)
	assert.Equal(t, "Translate to Spanish.", rec.SystemPrompt)
	assert.Equal(t, []string{"r1"}, rec.References)

	// The next request renders the state that is actually stored.
	_, err := svc.Translate(ctx, "s1", "hola")
	require.NoError(t, err)
	assert.Equal(t, "Translate to Spanish.\n\nReference materials:\n\n--- Reference 1 ---\nr1\n", client.lastCall()[0].Content)
}

func TestSetSystemPrompt_InvalidSessionID(t *testing.T) {
	svc, _, _ := setupTestService(t, Options{})
	assert.ErrorIs(t, svc.SetSystemPrompt(context.Background(), "a/b", "x"), session.ErrInvalidSessionID)
	assert.ErrorIs(t, svc.SetReferences(context.Background(), "a\x00", nil), session.ErrInvalidSessionID)
}

func TestContext_DoesNotCreateSession(t *testing.T) {
	svc, _, store := setupTestService(t, Options{})
	ctx := context.Background()

	history, err := svc.Context(ctx, "unknown")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
	assert.Equal(t, 0, svc.ActiveSessions())
	assert.Equal(t, int64(0), store.saves.Load())

	store.records["stored"] = session.Record{
		References:   []string{},
		Translations: []translation.Entry{{Source: "x", Translation: "y"}},
	}
	history, err = svc.Context(ctx, "stored")
	require.NoError(t, err)
	assert.Equal(t, []translation.Entry{{Source: "x", Translation: "y"}}, history)
	assert.Equal(t, 0, svc.ActiveSessions())
}

func TestTranslate_WriteThroughWithFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := session.NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	svc, _, _ := setupTestService(t, Options{Store: store})
	ctx := context.Background()

	require.NoError(t, svc.SetSystemPrompt(ctx, "novel", "p"))
	_, err = svc.Translate(ctx, "novel", "猫")
	require.NoError(t, err)

	// A fresh service over the same directory sees the same session.
	svc2, client2, _ := setupTestService(t, Options{Store: store})
	_, err = svc2.Translate(ctx, "novel", "犬")
	require.NoError(t, err)

	sent := client2.lastCall()
	require.Len(t, sent, 4)
	assert.Equal(t, "p", sent[0].Content)
	assert.Equal(t, "猫", sent[1].Content)
	assert.Equal(t, "T(猫)", sent[2].Content)
}

func TestTranslate_SameSessionIsSerialized(t *testing.T) {
	svc, client, store := setupTestService(t, Options{})
	client.delay = 5 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Translate(ctx, "shared", fmt.Sprintf("m%d", n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, _ := store.get("shared")
	require.Len(t, rec.Translations, 10, "no exchange is lost")

	// Each call saw exactly the exchanges committed before it.
	client.mu.Lock()
	defer client.mu.Unlock()
	seen := map[int]bool{}
	for _, call := range client.calls {
		pairs := (len(call) - 2) / 2
		assert.False(t, seen[pairs], "two calls observed the same history length")
		seen[pairs] = true
	}
}

func TestTranslate_DifferentSessionsRunConcurrently(t *testing.T) {
	svc, client, _ := setupTestService(t, Options{})
	client.delay = 100 * time.Millisecond
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Translate(ctx, fmt.Sprintf("s%d", n), "x")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 450*time.Millisecond)
	assert.Equal(t, 5, svc.ActiveSessions())
}
