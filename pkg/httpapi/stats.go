package httpapi

import (
	"sort"
	"sync"
	"time"
)

// StatsTracker keeps per-route request counters for the health endpoint.
type StatsTracker struct {
	stats map[string]*RouteStats
	mu    sync.RWMutex
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		stats: make(map[string]*RouteStats),
	}
}

// Track records one request to route.
func (st *StatsTracker) Track(route string, success bool, duration time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.stats[route]
	if !exists {
		s = &RouteStats{Route: route}
		st.stats[route] = s
	}

	ms := float64(duration.Microseconds()) / 1000
	s.AverageResponseTime = (s.AverageResponseTime*float64(s.TotalRequests) + ms) / float64(s.TotalRequests+1)
	s.TotalRequests++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.LastRequestAt = time.Now().UnixMilli()
}

// Snapshot returns a copy of all route stats sorted by route.
func (st *StatsTracker) Snapshot() []RouteStats {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]RouteStats, 0, len(st.stats))
	for _, s := range st.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

// Get returns the stats for route, or nil if it has seen no requests.
func (st *StatsTracker) Get(route string) *RouteStats {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, exists := st.stats[route]
	if !exists {
		return nil
	}
	cp := *s
	return &cp
}
