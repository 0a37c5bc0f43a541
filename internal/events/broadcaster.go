package events

import (
	"sync"
	"sync/atomic"
)

// #region broadcaster

// Broadcaster fans events out to subscribers without ever blocking the
// publisher. Each subscriber gets a buffered channel; a full buffer drops
// the event and bumps a counter. A slow or dead subscriber can therefore
// never stall the request path or the controller cycle.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Int64
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus a cancel func. Cancel closes the channel and
// stops delivery; it is safe to call more than once. A non-positive buffer
// is raised to 1.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer space.
// Never blocks.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded because a subscriber
// buffer was full.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// #endregion broadcaster
