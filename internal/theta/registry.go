package theta

import (
	"sync"
	"sync/atomic"
)

// #region registry

// Registry is the request path's view of active theta configs. Reads go
// through an atomic copy-on-write snapshot so the wrapper never takes a
// lock; writers rebuild the snapshot under an internal mutex. A swap is
// atomic and immediately visible to all readers.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Value // map[string]Config, keyed by channel id
}

// NewRegistry returns a registry seeded with the given active configs
// (commonly Store.ActiveAll at startup; nil for empty).
func NewRegistry(active map[string]Config) *Registry {
	r := &Registry{}
	snap := make(map[string]Config, len(active))
	for ch, cfg := range active {
		snap[ch] = cfg
	}
	r.snapshot.Store(snap)
	return r
}

// Active returns the channel's active config without locking.
func (r *Registry) Active(channelID string) (Config, bool) {
	snap := r.snapshot.Load().(map[string]Config)
	cfg, ok := snap[channelID]
	return cfg, ok
}

// Swap installs cfg as the active config for its channel.
func (r *Registry) Swap(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snapshot.Load().(map[string]Config)
	next := make(map[string]Config, len(old)+1)
	for ch, c := range old {
		next[ch] = c
	}
	next[cfg.ChannelID] = cfg
	r.snapshot.Store(next)
}

// Snapshot returns a copy of the current active map.
func (r *Registry) Snapshot() map[string]Config {
	snap := r.snapshot.Load().(map[string]Config)
	out := make(map[string]Config, len(snap))
	for ch, cfg := range snap {
		out[ch] = cfg
	}
	return out
}

// #endregion registry
