package translator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/harun/novellama/internal/observability"
	"github.com/harun/novellama/pkg/session"
	"github.com/harun/novellama/pkg/translation"
)

// slot holds one session's context. mu serializes every operation on the
// session, including the remote completion call.
type slot struct {
	mu  sync.Mutex
	ctx *translation.Context
}

// Registry maps session ids to their in-memory contexts. Slots are created
// on first use and live for the life of the process.
type Registry struct {
	store      session.Store
	newContext func() *translation.Context

	mu       sync.Mutex
	slots    map[string]*slot
	hydrated atomic.Int64
}

// NewRegistry creates a registry that hydrates contexts from store.
func NewRegistry(store session.Store, newContext func() *translation.Context) *Registry {
	return &Registry{
		store:      store,
		newContext: newContext,
		slots:      make(map[string]*slot),
	}
}

// acquire returns the locked slot for sessionID, creating it if needed.
// The caller must unlock it.
func (r *Registry) acquire(sessionID string) *slot {
	r.mu.Lock()
	s, ok := r.slots[sessionID]
	if !ok {
		s = &slot{}
		r.slots[sessionID] = s
	}
	r.mu.Unlock()

	s.mu.Lock()
	return s
}

// peek returns the slot for sessionID without creating one.
func (r *Registry) peek(sessionID string) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[sessionID]
	return s, ok
}

// hydrate loads the stored record into a locked slot the first time the slot
// is used. A failed load leaves the slot empty so the next call retries.
func (r *Registry) hydrate(ctx context.Context, sessionID string, s *slot) (*translation.Context, error) {
	if s.ctx != nil {
		return s.ctx, nil
	}

	record, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tc := r.newContext()
	record.Hydrate(tc)
	s.ctx = tc

	observability.SetActiveContexts(int(r.hydrated.Add(1)))
	return tc, nil
}

// Active returns the number of hydrated contexts.
func (r *Registry) Active() int {
	return int(r.hydrated.Load())
}
