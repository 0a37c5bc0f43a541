package partition

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when no scheme matches a lookup.
var ErrNotFound = errors.New("partition scheme not found")

// #region registry

type channelKey struct {
	channel string
	gran    Granularity
}

// Registry holds registered partition schemes. It is explicitly constructed
// and passed to the wrapper and controller; there is no package-level
// instance.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]Scheme
	byChannel map[channelKey]Scheme
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]Scheme),
		byChannel: make(map[channelKey]Scheme),
	}
}

// #endregion registry

// #region register

// Register validates and stores a scheme. The reserved symbols are added to
// the alphabets automatically. Schemes are immutable after registration:
// the registry keeps a private copy of every slice and map, so later
// mutation of the caller's value cannot reach registered state.
func (r *Registry) Register(s Scheme) error {
	if err := validate(s); err != nil {
		return fmt.Errorf("register scheme %q: %w", s.ID, err)
	}

	s = normalize(s)
	key := channelKey{s.ChannelID, s.Granularity}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[s.ID]; exists {
		return fmt.Errorf("register scheme %q: duplicate id", s.ID)
	}
	if prev, exists := r.byChannel[key]; exists {
		return fmt.Errorf("register scheme %q: channel %q already has %s scheme %q",
			s.ID, s.ChannelID, s.Granularity, prev.ID)
	}

	r.byID[s.ID] = s
	r.byChannel[key] = s
	return nil
}

func validate(s Scheme) error {
	switch {
	case s.ID == "":
		return errors.New("empty id")
	case s.ChannelID == "":
		return errors.New("empty channel id")
	case !s.Granularity.Valid():
		return fmt.Errorf("invalid granularity %q", s.Granularity)
	case len(s.InputAlphabet) == 0:
		return errors.New("empty input alphabet")
	case len(s.OutputAlphabet) == 0:
		return errors.New("empty output alphabet")
	case s.Classifier == nil:
		return errors.New("nil classifier")
	}

	// Admissibility metadata is mandatory, not decorative.
	if len(s.Admissibility.InspectedFields) == 0 {
		return errors.New("admissibility: no inspected fields declared")
	}
	if s.Admissibility.Reachability == "" {
		return errors.New("admissibility: no reachability statement")
	}
	for _, sym := range s.OutputAlphabet {
		if _, ok := s.Admissibility.SymbolOwners[sym]; !ok {
			return fmt.Errorf("admissibility: output symbol %q has no owner", sym)
		}
	}

	for _, f := range s.FailureSymbols {
		found := false
		for _, o := range s.OutputAlphabet {
			if f == o {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("failure symbol %q not in output alphabet", f)
		}
	}
	return nil
}

// normalize deep-copies the scheme, appends the reserved symbols, and
// builds the membership sets used on the hot path.
func normalize(s Scheme) Scheme {
	s.InputAlphabet = appendMissing(cloneSymbols(s.InputAlphabet), SymbolUnknown)
	s.OutputAlphabet = appendMissing(cloneSymbols(s.OutputAlphabet), SymbolUnknown, SymbolCrosscheckFailed)
	s.FailureSymbols = cloneSymbols(s.FailureSymbols)

	owners := make(map[Symbol]string, len(s.Admissibility.SymbolOwners)+2)
	for k, v := range s.Admissibility.SymbolOwners {
		owners[k] = v
	}
	for _, reserved := range []Symbol{SymbolUnknown, SymbolCrosscheckFailed} {
		if _, ok := owners[reserved]; !ok {
			owners[reserved] = "aps"
		}
	}
	s.Admissibility.SymbolOwners = owners
	s.Admissibility.InspectedFields = append([]string(nil), s.Admissibility.InspectedFields...)

	s.inputSet = symbolSet(s.InputAlphabet)
	s.outputSet = symbolSet(s.OutputAlphabet)
	return s
}

// #endregion register

// #region lookup

// Get returns the scheme with the given id.
func (r *Registry) Get(id string) (Scheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return Scheme{}, fmt.Errorf("scheme %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// ForChannel returns the scheme registered for (channel, granularity).
func (r *Registry) ForChannel(channelID string, g Granularity) (Scheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byChannel[channelKey{channelID, g}]
	if !ok {
		return Scheme{}, fmt.Errorf("channel %q granularity %q: %w", channelID, g, ErrNotFound)
	}
	return s, nil
}

// List returns all registered schemes ordered by id.
func (r *Registry) List() []Scheme {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scheme, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// #endregion lookup

// #region helpers

func cloneSymbols(in []Symbol) []Symbol {
	return append([]Symbol(nil), in...)
}

func appendMissing(alphabet []Symbol, extra ...Symbol) []Symbol {
	for _, e := range extra {
		found := false
		for _, a := range alphabet {
			if a == e {
				found = true
				break
			}
		}
		if !found {
			alphabet = append(alphabet, e)
		}
	}
	return alphabet
}

func symbolSet(alphabet []Symbol) map[Symbol]struct{} {
	set := make(map[Symbol]struct{}, len(alphabet))
	for _, a := range alphabet {
		set[a] = struct{}{}
	}
	return set
}

// #endregion helpers
