package clock

import (
	"sync"
	"time"
)

// #region clock

// Clock abstracts wall time so controller cooldowns and cache staleness can
// be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// #endregion clock

// #region fake

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake pinned to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set pins the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

// #endregion fake
