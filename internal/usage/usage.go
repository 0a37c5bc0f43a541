package usage

import (
	"context"
	"sync"
)

// #region usage

// Usage is the resource accounting attached to one boundary crossing.
// Units are whatever the capability meters (tokens for LLM-backed
// capabilities); Estimated marks values derived from a rate table rather
// than reported by the call itself.
type Usage struct {
	PromptUnits     int64   `json:"prompt_units"`
	CompletionUnits int64   `json:"completion_units"`
	TotalUnits      int64   `json:"total_units"`
	Cost            float64 `json:"cost"`
	Estimated       bool    `json:"estimated"`
}

// #endregion usage

// #region tracker

// Tracker accumulates usage for a single wrapped invocation. One tracker is
// installed per invocation via NewContext; concurrent invocations therefore
// never share an accumulator.
type Tracker struct {
	mu sync.Mutex
	u  Usage
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add accumulates units and cost reported mid-flight. Nil-safe so callers
// outside a wrapped invocation can report unconditionally.
func (t *Tracker) Add(promptUnits, completionUnits int64, cost float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.u.PromptUnits += promptUnits
	t.u.CompletionUnits += completionUnits
	t.u.TotalUnits += promptUnits + completionUnits
	t.u.Cost += cost
	t.mu.Unlock()
}

// Snapshot returns the accumulated usage. Nil-safe.
func (t *Tracker) Snapshot() Usage {
	if t == nil {
		return Usage{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.u
}

// Reset clears the accumulator.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.u = Usage{}
	t.mu.Unlock()
}

// #endregion tracker

// #region context

type contextKey struct{}

// NewContext installs a fresh tracker into the context and returns both.
// The wrapper calls this at entry so accounting is scoped to the logical
// execution, not shared process-wide.
func NewContext(parent context.Context) (context.Context, *Tracker) {
	t := NewTracker()
	return context.WithValue(parent, contextKey{}, t), t
}

// FromContext returns the tracker installed by NewContext, or nil.
func FromContext(ctx context.Context) *Tracker {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(contextKey{}).(*Tracker)
	return t
}

// Add accumulates onto the context's tracker when one is present. This is
// what call sites inside capabilities use; outside a wrapped invocation it
// does nothing.
func Add(ctx context.Context, promptUnits, completionUnits int64, cost float64) {
	FromContext(ctx).Add(promptUnits, completionUnits, cost)
}

// #endregion context
