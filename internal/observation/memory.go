package observation

import (
	"context"
	"sync"
	"time"
)

// #region memory-store

// MemoryStore is an in-memory Store used by tests and the replay harness.
type MemoryStore struct {
	mu  sync.RWMutex
	obs []Observation
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a deep copy of obs.
func (m *MemoryStore) Append(_ context.Context, obs Observation) error {
	m.mu.Lock()
	m.obs = append(m.obs, obs.Clone())
	m.mu.Unlock()
	return nil
}

// ByChannel filters by channel over [since, until), ascending insert order.
func (m *MemoryStore) ByChannel(_ context.Context, channelID string, since, until time.Time) ([]Observation, error) {
	return m.filter(func(o Observation) bool {
		return o.ChannelID == channelID && inWindow(o.ObservedAt, since, until)
	}), nil
}

// ByTrace filters by trace id.
func (m *MemoryStore) ByTrace(_ context.Context, traceID string) ([]Observation, error) {
	return m.filter(func(o Observation) bool {
		return o.TraceID == traceID
	}), nil
}

// ByWindow filters by [since, until) across all channels.
func (m *MemoryStore) ByWindow(_ context.Context, since, until time.Time) ([]Observation, error) {
	return m.filter(func(o Observation) bool {
		return inWindow(o.ObservedAt, since, until)
	}), nil
}

// Len reports the number of stored observations.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.obs)
}

func (m *MemoryStore) filter(keep func(Observation) bool) []Observation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Observation
	for _, o := range m.obs {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func inWindow(t, since, until time.Time) bool {
	return !t.Before(since) && t.Before(until)
}

// #endregion memory-store
