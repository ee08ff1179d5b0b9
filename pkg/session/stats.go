package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/novellama/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultStatsSchedule refreshes the stored-sessions gauge once a minute.
const DefaultStatsSchedule = "@every 1m"

// StatsReporter periodically publishes the number of stored sessions.
type StatsReporter struct {
	store    Store
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
	last    int
}

// NewStatsReporter creates a reporter for store. An empty schedule uses
// DefaultStatsSchedule.
func NewStatsReporter(store Store, schedule string) *StatsReporter {
	if schedule == "" {
		schedule = DefaultStatsSchedule
	}
	return &StatsReporter{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start refreshes once and schedules further refreshes.
func (r *StatsReporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("stats reporter is already running")
	}

	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Refresh(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to refresh session stats")
		}
	}); err != nil {
		return fmt.Errorf("invalid stats schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.running = true

	log.Info().Str("schedule", r.schedule).Msg("Session stats reporter started")

	go func() {
		if _, err := r.Refresh(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to refresh session stats")
		}
	}()

	return nil
}

// Stop halts scheduling and waits for a running refresh to finish.
func (r *StatsReporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	log.Info().Msg("Session stats reporter stopped")
}

// Refresh counts stored sessions and publishes the gauge.
func (r *StatsReporter) Refresh(ctx context.Context) (int, error) {
	ids, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	observability.SetStoredSessions(len(ids))

	r.mu.Lock()
	r.last = len(ids)
	r.mu.Unlock()

	return len(ids), nil
}

// Last returns the count from the most recent refresh.
func (r *StatsReporter) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
