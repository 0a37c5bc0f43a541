package config

import (
	"fmt"
	"time"

	"github.com/felixkranz/aps"
	"github.com/felixkranz/aps/internal/controller"
	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/theta"
	"github.com/felixkranz/aps/internal/usage"
)

// #region facade

// Options materializes the whole document into open options for the facade.
// The caller supplies the logger and any code-level extras such as a health
// probe or a capability set.
func (f *File) Options() (aps.Options, error) {
	thetas, err := f.ThetaConfigs()
	if err != nil {
		return aps.Options{}, err
	}
	active, err := f.ActiveByChannel()
	if err != nil {
		return aps.Options{}, err
	}
	goals, err := f.ControllerGoals()
	if err != nil {
		return aps.Options{}, err
	}
	return aps.Options{
		Path:        f.Storage.Path,
		Schemes:     f.PartitionSchemes(),
		Thetas:      thetas,
		Active:      active,
		Goals:       goals,
		Granularity: f.Granularity(),
		Tuning:      f.Tuning(),
		Interval:    f.Interval(),
		Rates:       f.RateTable(),
	}, nil
}

// #endregion facade

// #region controller

// Interval returns the cycle cadence.
func (f *File) Interval() time.Duration {
	return duration(f.Controller.Interval, 30*time.Second)
}

// Granularity returns the deployment-wide default granularity.
func (f *File) Granularity() partition.Granularity {
	if f.Controller.Granularity == "" {
		return partition.GranularityCoarse
	}
	return partition.Granularity(f.Controller.Granularity)
}

// Tuning materializes the hysteresis tuning. Unset fields stay zero; the
// controller substitutes its own defaults for those.
func (f *File) Tuning() controller.Tuning {
	return controller.Tuning{
		MinObservations:    f.Controller.MinObservations,
		EscalateCooldown:   duration(f.Controller.EscalateCooldown, 0),
		DeescalateCooldown: duration(f.Controller.DeescalateCooldown, 0),
		Confidence:         f.Controller.Confidence,
		CacheStaleness:     duration(f.Controller.CacheStaleness, 0),
	}
}

// #endregion controller

// #region schemes

// PartitionSchemes materializes every declared channel's scheme. Registration
// performs the final admissibility validation.
func (f *File) PartitionSchemes() []partition.Scheme {
	out := make([]partition.Scheme, 0, len(f.Channels))
	for _, c := range f.Channels {
		out = append(out, c.Scheme(f.Granularity()))
	}
	return out
}

// Scheme materializes the channel's partition scheme, falling back to def
// when the channel declares no granularity of its own.
func (c Channel) Scheme(def partition.Granularity) partition.Scheme {
	gran := def
	if c.Granularity != "" {
		gran = partition.Granularity(c.Granularity)
	}

	owners := make(map[partition.Symbol]string, len(c.Admissibility.SymbolOwners))
	for sym, owner := range c.Admissibility.SymbolOwners {
		owners[partition.Symbol(sym)] = owner
	}

	return partition.Scheme{
		ID:             c.SchemeID,
		ChannelID:      c.ID,
		Granularity:    gran,
		InputAlphabet:  symbols(c.InputSymbols),
		OutputAlphabet: symbols(c.OutputSymbols),
		FailureSymbols: symbols(c.FailureSymbols),
		Classifier: partition.MetadataClassifier{
			InputKey:    c.Classifier.InputKey,
			OutputKey:   c.Classifier.OutputKey,
			ErrorSymbol: partition.Symbol(c.Classifier.ErrorSymbol),
		},
		Admissibility: partition.Admissibility{
			InspectedFields: append([]string(nil), c.Admissibility.InspectedFields...),
			Reachability:    c.Admissibility.Reachability,
			SymbolOwners:    owners,
		},
	}
}

// #endregion schemes

// #region thetas

// ThetaConfigs materializes every declared theta.
func (f *File) ThetaConfigs() ([]theta.Config, error) {
	out := make([]theta.Config, 0, len(f.Thetas))
	for _, t := range f.Thetas {
		cfg, err := t.Config()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// ActiveByChannel returns the active-flagged theta per channel, the shape
// the registry is seeded with.
func (f *File) ActiveByChannel() (map[string]theta.Config, error) {
	out := make(map[string]theta.Config)
	for _, t := range f.Thetas {
		if !t.Active {
			continue
		}
		cfg, err := t.Config()
		if err != nil {
			return nil, err
		}
		out[cfg.ChannelID] = cfg
	}
	return out, nil
}

// Config materializes the theta declaration.
func (t Theta) Config() (theta.Config, error) {
	level, err := parseLevel(t.Level)
	if err != nil {
		return theta.Config{}, fmt.Errorf("theta %s: %w", t.ID, err)
	}
	p := protocolOrDefault(t.Protocol)
	if !p.Valid() {
		return theta.Config{}, fmt.Errorf("theta %s: unknown protocol %q", t.ID, t.Protocol)
	}
	return theta.Config{
		ID:                 t.ID,
		ChannelID:          t.ChannelID,
		Level:              level,
		PartitionID:        t.PartitionID,
		CapabilityOverride: t.CapabilityOverride,
		Protocol:           p,
	}, nil
}

// #endregion thetas

// #region goals

// ControllerGoals materializes every declared goal.
func (f *File) ControllerGoals() ([]controller.Goal, error) {
	out := make([]controller.Goal, 0, len(f.Goals))
	for _, g := range f.Goals {
		goal, err := g.Goal()
		if err != nil {
			return nil, err
		}
		out = append(out, goal)
	}
	return out, nil
}

// Goal materializes the declaration, building the failure predicate from the
// declared symbols and latency limit.
func (g Goal) Goal() (controller.Goal, error) {
	tier := tierOrDefault(g.Tier)
	if !tier.Valid() {
		return controller.Goal{}, fmt.Errorf("goal %s: unknown tier %q", g.ID, g.Tier)
	}
	window, err := time.ParseDuration(g.Window)
	if err != nil || window <= 0 {
		return controller.Goal{}, fmt.Errorf("goal %s: window %q is not a positive duration", g.ID, g.Window)
	}

	preds := make([]controller.FailurePredicate, 0, 2)
	if len(g.FailureSymbols) > 0 {
		preds = append(preds, controller.FailureSymbols(symbols(g.FailureSymbols)...))
	}
	if g.LatencyLimit != "" {
		limit, err := time.ParseDuration(g.LatencyLimit)
		if err != nil || limit <= 0 {
			return controller.Goal{}, fmt.Errorf("goal %s: latency_limit %q is not a positive duration", g.ID, g.LatencyLimit)
		}
		preds = append(preds, controller.LatencyAbove(limit))
	}
	if len(preds) == 0 {
		return controller.Goal{}, fmt.Errorf("goal %s: no failure definition", g.ID)
	}

	fails := preds[0]
	if len(preds) > 1 {
		fails = controller.AnyOf(preds...)
	}

	return controller.Goal{
		ID:       g.ID,
		Tier:     tier,
		Fails:    fails,
		Epsilon:  g.Epsilon,
		Window:   window,
		Channels: append([]string(nil), g.Channels...),
	}, nil
}

func tierOrDefault(name string) controller.GoalTier {
	if name == "" {
		return controller.TierOperational
	}
	return controller.GoalTier(name)
}

// #endregion goals

// #region rates

// RateTable materializes the pricing table.
func (f *File) RateTable() *usage.RateTable {
	table := usage.NewRateTable(f.Rates.Fallback.rate())
	for id, r := range f.Rates.ByCapability {
		table.Set(id, r.rate())
	}
	return table
}

func (r Rate) rate() usage.Rate {
	return usage.Rate{
		CostPerPromptUnit:      r.CostPerPromptUnit,
		CostPerCompletionUnit:  r.CostPerCompletionUnit,
		DefaultPromptUnits:     r.DefaultPromptUnits,
		DefaultCompletionUnits: r.DefaultCompletionUnits,
	}
}

// #endregion rates

// #region helpers

func symbols(in []string) []partition.Symbol {
	out := make([]partition.Symbol, len(in))
	for i, s := range in {
		out[i] = partition.Symbol(s)
	}
	return out
}

// #endregion helpers
