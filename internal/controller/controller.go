// Package controller implements the adaptive control loop: per-goal failure
// estimation over the observation log, a three-level hysteretic escalation
// state machine per channel, theta caching keyed by operating-context
// fingerprint, and the periodic evaluation cycle that ties them to the
// statistics engine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/felixkranz/aps/internal/clock"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/logging"
	"github.com/felixkranz/aps/internal/metric"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/pathgraph"
	"github.com/felixkranz/aps/internal/stats"
	"github.com/felixkranz/aps/internal/theta"
)

// #region config

// Config wires the controller. Goals, Schemes, Thetas, Registry and
// Observations are required; the remaining collaborators degrade to
// warnings when absent.
type Config struct {
	Goals       []Goal
	Schemes     *partition.Registry
	Granularity partition.Granularity // scheme granularity the cycle evaluates; default coarse

	Thetas       *theta.Store
	Registry     *theta.Registry
	Cache        *theta.Cache
	Probe        theta.HealthProbe
	Observations observation.Store

	Metrics *metric.Store
	Paths   *pathgraph.Store
	Audit   *events.Log
	Bus     *events.Broadcaster

	Clock  clock.Clock
	Logger logging.Logger
	Tuning Tuning
}

// #endregion config

// #region controller

// Controller runs the evaluation loop. One instance per process; safe for
// concurrent RunCycle and SwitchTheta calls.
type Controller struct {
	goals       []Goal
	schemes     *partition.Registry
	granularity partition.Granularity

	thetas   *theta.Store
	registry *theta.Registry
	cache    *theta.Cache
	probe    theta.HealthProbe
	obs      observation.Store

	metrics *metric.Store
	paths   *pathgraph.Store
	audit   *events.Log
	bus     *events.Broadcaster

	clk    clock.Clock
	log    logging.Logger
	tuning Tuning

	cycleN atomic.Int64

	mu           sync.Mutex
	states       map[string]*channelState
	lastPathScan time.Time
}

// channelState is the per-channel transition bookkeeping. Its mutex is the
// lock the concurrency contract names: two concurrent cycles must not both
// fire a transition for the same channel.
type channelState struct {
	mu             sync.Mutex
	lastTransition time.Time
	hasTransition  bool
}

// New validates the wiring and returns a Controller.
func New(cfg Config) (*Controller, error) {
	switch {
	case len(cfg.Goals) == 0:
		return nil, errors.New("controller: no goals")
	case cfg.Schemes == nil:
		return nil, errors.New("controller: nil scheme registry")
	case cfg.Thetas == nil:
		return nil, errors.New("controller: nil theta store")
	case cfg.Registry == nil:
		return nil, errors.New("controller: nil theta registry")
	case cfg.Observations == nil:
		return nil, errors.New("controller: nil observation store")
	}
	for _, g := range cfg.Goals {
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("controller: %w", err)
		}
	}

	gran := cfg.Granularity
	if gran == "" {
		gran = partition.GranularityCoarse
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}

	return &Controller{
		goals:       cfg.Goals,
		schemes:     cfg.Schemes,
		granularity: gran,
		thetas:      cfg.Thetas,
		registry:    cfg.Registry,
		cache:       cfg.Cache,
		probe:       cfg.Probe,
		obs:         cfg.Observations,
		metrics:     cfg.Metrics,
		paths:       cfg.Paths,
		audit:       cfg.Audit,
		bus:         cfg.Bus,
		clk:         clk,
		log:         logging.Or(cfg.Logger),
		tuning:      cfg.Tuning.WithDefaults(),
		states:      make(map[string]*channelState),
	}, nil
}

func (c *Controller) state(channelID string) *channelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[channelID]
	if !ok {
		st = &channelState{}
		c.states[channelID] = st
	}
	return st
}

// #endregion controller

// #region cycle

// CycleReport summarizes one evaluation pass.
type CycleReport struct {
	Cycle          int64
	Evaluated      int
	Skipped        int
	Transitions    []events.EscalationRecord
	Bottleneck     string
	BottleneckBits float64
	Elapsed        time.Duration
}

type unitResult struct {
	channelID string
	skipped   bool
	capacity  float64
	hasStats  bool
	record    *events.EscalationRecord
}

// RunCycle evaluates every goal x channel pair once: failure signal,
// statistics, metrics snapshot, escalation decision. Collaborator failures
// degrade the affected channel to a logged no-op; RunCycle itself never
// fails.
func (c *Controller) RunCycle(ctx context.Context) CycleReport {
	n := c.cycleN.Add(1)
	start := c.clk.Now()

	var health map[string]string
	if c.probe != nil {
		health = c.probe.Health(ctx)
	}

	type unit struct {
		goal    Goal
		channel string
	}
	var units []unit
	for _, g := range c.goals {
		for _, ch := range g.Channels {
			units = append(units, unit{g, ch})
		}
	}

	var (
		resMu   sync.Mutex
		results []unitResult
	)
	eg, gctx := errgroup.WithContext(ctx)
	for _, u := range units {
		eg.Go(func() error {
			res := c.evaluate(gctx, n, u.goal, u.channel, start, health)
			resMu.Lock()
			results = append(results, res)
			resMu.Unlock()
			return nil
		})
	}
	// Workers report degradation through logs, never through errors.
	_ = eg.Wait()

	report := CycleReport{Cycle: n}
	capacities := make(map[string]float64)
	for _, res := range results {
		if res.skipped {
			report.Skipped++
			continue
		}
		report.Evaluated++
		if res.hasStats {
			capacities[res.channelID] = res.capacity
		}
		if res.record != nil {
			report.Transitions = append(report.Transitions, *res.record)
		}
	}

	report.Bottleneck, report.BottleneckBits = c.pathPass(ctx, start, capacities)
	report.Elapsed = c.clk.Now().Sub(start)

	channels := make([]string, 0, len(capacities))
	for ch := range capacities {
		channels = append(channels, ch)
	}
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Kind: events.KindCycle,
			At:   start,
			Cycle: &events.CycleSummary{
				Cycle:       n,
				Channels:    channels,
				Escalations: len(report.Transitions),
				Bottleneck:  report.Bottleneck,
				BottleneckC: report.BottleneckBits,
				Elapsed:     report.Elapsed,
			},
		})
	}

	c.log.Info("evaluation cycle complete",
		"cycle", n,
		"evaluated", report.Evaluated,
		"skipped", report.Skipped,
		"transitions", len(report.Transitions),
		"elapsed", report.Elapsed)
	return report
}

// evaluate runs one goal x channel unit: signal, statistics, snapshot,
// decision.
func (c *Controller) evaluate(ctx context.Context, cycle int64, goal Goal, channelID string, now time.Time, health map[string]string) unitResult {
	res := unitResult{channelID: channelID}

	since := now.Add(-goal.Window)
	window, err := c.obs.ByChannel(ctx, channelID, since, now)
	if err != nil {
		c.log.Warn("observation query failed; channel degraded to no-op this cycle",
			"goal", goal.ID, "channel", channelID, "error", err)
		res.skipped = true
		return res
	}

	failures := 0
	var cost float64
	var units int64
	var busy time.Duration
	for _, o := range window {
		if goal.Fails(o) {
			failures++
		}
		cost += o.Usage.Cost
		units += o.Usage.TotalUnits
		busy += o.Latency
	}
	total := len(window)
	raw := 0.0
	if total > 0 {
		raw = float64(failures) / float64(total)
	}
	ucb := FailureUCB(failures, total, c.tuning.Confidence)
	effective := raw
	if goal.Tier == TierCritical {
		effective = ucb
	}

	cur, ok := c.registry.Active(channelID)
	if !ok {
		c.log.Warn("no active theta; channel skipped",
			"goal", goal.ID, "channel", channelID)
		res.skipped = true
		return res
	}

	scheme, err := c.schemes.ForChannel(channelID, c.granularity)
	if err != nil {
		c.log.Warn("no partition scheme; channel skipped",
			"goal", goal.ID, "channel", channelID, "granularity", string(c.granularity), "error", err)
		res.skipped = true
		return res
	}

	m := stats.Build(window, scheme)
	mi := stats.MutualInformation(m)
	capacityBits := stats.Capacity(m, 0, 0)
	eff := stats.EfficiencyVariants(capacityBits, cost, units, busy)
	res.capacity = capacityBits
	res.hasStats = true

	if c.metrics != nil {
		snap := metric.Snapshot{
			ID:           uuid.NewString(),
			Cycle:        cycle,
			ChannelID:    channelID,
			GoalID:       goal.ID,
			WindowStart:  since,
			WindowEnd:    now,
			Observations: total,
			Failures:     failures,
			FailureRate:  raw,
			FailureUCB:   ucb,
			MutualInfo:   mi,
			Capacity:     capacityBits,
			Efficiency:   eff,
			Level:        cur.Level,
			CreatedAt:    now,
		}
		if err := c.metrics.Save(ctx, snap); err != nil {
			// Persistence down means no decision either: metrics and
			// transitions degrade together.
			c.log.Warn("metrics persist failed; channel degraded to no-op this cycle",
				"goal", goal.ID, "channel", channelID, "error", err)
			return res
		}
	}

	res.record = c.decide(ctx, goal, channelID, cur, total, failures, raw, effective, now, health)
	return res
}

// #endregion cycle

// #region decide

// decide runs the escalation state machine for one channel under its lock.
func (c *Controller) decide(ctx context.Context, goal Goal, channelID string, cur theta.Config, total, failures int, raw, effective float64, now time.Time, health map[string]string) *events.EscalationRecord {
	st := c.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()

	sinceLast := time.Duration(-1)
	if st.hasTransition {
		sinceLast = now.Sub(st.lastTransition)
	}

	d := Decide(cur.Level, total, failures, effective, goal.Epsilon, c.tuning.MinObservations)
	d = Gate(d, cur.Level, sinceLast, c.tuning)

	fingerprint := theta.Fingerprint(health, now, raw)

	// Stabilization: an elevated theta holding the signal under epsilon is
	// worth remembering for the next time this context recurs.
	if cur.Level > theta.LevelNominal && effective < goal.Epsilon && total >= c.tuning.MinObservations {
		c.cachePut(ctx, channelID, cur, fingerprint, raw, now)
	}

	if d.Direction == "" {
		c.log.Debug("channel holds level",
			"goal", goal.ID, "channel", channelID, "level", cur.Level.String(),
			"signal", effective, "reason", d.Reason)
		return nil
	}

	next, cacheHit := c.resolveTarget(ctx, channelID, d, fingerprint, now)
	if next == nil || next.ID == cur.ID {
		return nil
	}

	if err := c.thetas.Activate(ctx, channelID, next.ID); err != nil {
		c.log.Warn("theta activation failed; holding level",
			"channel", channelID, "theta", next.ID, "error", err)
		return nil
	}
	c.registry.Swap(*next)
	st.lastTransition = now
	st.hasTransition = true

	rec := events.EscalationRecord{
		ChannelID:      channelID,
		FromTheta:      cur.ID,
		ToTheta:        next.ID,
		Direction:      d.Direction,
		FromLevel:      cur.Level,
		ToLevel:        next.Level,
		TriggerRate:    effective,
		TriggerEpsilon: goal.Epsilon,
		GoalID:         goal.ID,
		CacheHit:       cacheHit,
		SwitchedAt:     now,
	}
	c.appendAndBroadcast(ctx, rec)

	c.log.Info("theta switched",
		"channel", channelID,
		"direction", d.Direction,
		"from", cur.ID, "to", next.ID,
		"signal", effective, "epsilon", goal.Epsilon,
		"cache_hit", cacheHit,
		"reason", d.Reason)
	return &rec
}

// resolveTarget picks the theta config a transition switches to. An
// escalation consults the cache first; a fresh entry short-circuits the
// level search. Returns nil when no config can serve the transition.
func (c *Controller) resolveTarget(ctx context.Context, channelID string, d Decision, fingerprint string, now time.Time) (*theta.Config, bool) {
	if d.Direction == events.DirectionEscalate && c.cache != nil {
		entry, hit, err := c.cache.Lookup(ctx, channelID, fingerprint, now, c.tuning.CacheStaleness)
		if err != nil {
			c.log.Warn("theta cache lookup failed; treated as miss",
				"channel", channelID, "error", err)
		} else if hit {
			cfg, err := c.thetas.Get(ctx, entry.ThetaID)
			if err == nil && cfg.ChannelID == channelID {
				if err := c.cache.Touch(ctx, channelID, fingerprint, now); err != nil {
					c.log.Warn("theta cache touch failed", "channel", channelID, "error", err)
				}
				return &cfg, true
			}
			c.log.Warn("cached theta unusable; falling back to level search",
				"channel", channelID, "theta", entry.ThetaID, "error", err)
		}
	}

	cfgs, err := c.thetas.ListForChannel(ctx, channelID)
	if err != nil {
		c.log.Warn("theta lookup failed; holding level", "channel", channelID, "error", err)
		return nil, false
	}
	for _, cfg := range cfgs {
		if cfg.Level == d.Target {
			return &cfg, false
		}
	}
	c.log.Warn("no theta registered at target level; holding",
		"channel", channelID, "target", d.Target.String())
	return nil, false
}

func (c *Controller) cachePut(ctx context.Context, channelID string, cur theta.Config, fingerprint string, raw float64, now time.Time) {
	if c.cache == nil {
		return
	}
	entry := theta.CacheEntry{
		ChannelID:          channelID,
		Fingerprint:        fingerprint,
		ThetaID:            cur.ID,
		FailureRateAtCache: raw,
		CachedAt:           now,
		LastValidated:      now,
	}
	if err := c.cache.Put(ctx, entry); err != nil {
		c.log.Warn("theta cache put failed", "channel", channelID, "error", err)
		return
	}
	c.log.Debug("stabilized theta cached",
		"channel", channelID, "theta", cur.ID, "fingerprint", fingerprint)
}

func (c *Controller) appendAndBroadcast(ctx context.Context, rec events.EscalationRecord) {
	if c.audit != nil {
		if err := c.audit.Append(ctx, rec); err != nil {
			c.log.Warn("escalation audit append failed",
				"channel", rec.ChannelID, "error", err)
		}
	}
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Kind:       events.KindEscalation,
			ChannelID:  rec.ChannelID,
			At:         rec.SwitchedAt,
			Escalation: &rec,
		})
	}
}

// #endregion decide

// #region paths

// pathPass records realized paths since the previous cycle, refreshes
// per-channel capacities, and reports the weakest channel overall.
func (c *Controller) pathPass(ctx context.Context, now time.Time, capacities map[string]float64) (string, float64) {
	bottleneck, bits, ok := stats.Bottleneck(capacities)
	if !ok {
		bottleneck = ""
	}

	if c.paths == nil {
		return bottleneck, bits
	}

	c.mu.Lock()
	since := c.lastPathScan
	c.lastPathScan = now
	c.mu.Unlock()
	if since.IsZero() {
		since = now.Add(-c.maxWindow())
	}

	window, err := c.obs.ByWindow(ctx, since, now)
	if err != nil {
		c.log.Warn("path scan query failed", "error", err)
	} else {
		for _, o := range window {
			if o.PathID == "" {
				continue
			}
			if err := c.paths.RecordPath(ctx, o.PathID, o.ObservedAt); err != nil {
				c.log.Warn("path record failed", "path", o.PathID, "error", err)
			}
		}
	}

	for ch, capBits := range capacities {
		if err := c.paths.SetCapacity(ctx, ch, capBits, now); err != nil {
			c.log.Warn("path capacity update failed", "channel", ch, "error", err)
		}
	}
	return bottleneck, bits
}

func (c *Controller) maxWindow() time.Duration {
	widest := time.Duration(0)
	for _, g := range c.goals {
		if g.Window > widest {
			widest = g.Window
		}
	}
	return widest
}

// #endregion paths

// #region manual

// SwitchTheta applies an operator override: activate the given config on
// the channel regardless of signals, audited with direction "manual" and a
// synthetic trigger rate of -1. The switch participates in cooldowns so the
// next cycle does not immediately fight the operator.
func (c *Controller) SwitchTheta(ctx context.Context, channelID, thetaID string) error {
	cfg, err := c.thetas.Get(ctx, thetaID)
	if err != nil {
		return fmt.Errorf("switch theta: %w", err)
	}
	if cfg.ChannelID != channelID {
		return fmt.Errorf("switch theta: %s belongs to channel %s, not %s",
			thetaID, cfg.ChannelID, channelID)
	}

	st := c.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var fromID string
	fromLevel := theta.LevelNominal
	if cur, ok := c.registry.Active(channelID); ok {
		if cur.ID == cfg.ID {
			return nil
		}
		fromID = cur.ID
		fromLevel = cur.Level
	}

	if err := c.thetas.Activate(ctx, channelID, thetaID); err != nil {
		return fmt.Errorf("switch theta: %w", err)
	}
	c.registry.Swap(cfg)
	now := c.clk.Now()
	st.lastTransition = now
	st.hasTransition = true

	rec := events.EscalationRecord{
		ChannelID:      channelID,
		FromTheta:      fromID,
		ToTheta:        cfg.ID,
		Direction:      events.DirectionManual,
		FromLevel:      fromLevel,
		ToLevel:        cfg.Level,
		TriggerRate:    -1,
		TriggerEpsilon: 0,
		SwitchedAt:     now,
	}
	c.appendAndBroadcast(ctx, rec)
	c.log.Info("manual theta switch",
		"channel", channelID, "from", fromID, "to", cfg.ID)
	return nil
}

// #endregion manual
