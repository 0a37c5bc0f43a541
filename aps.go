// Package aps assembles the adaptive partition selection subsystem into one
// deployable unit: a SQLite database carrying every persistent store, the
// boundary wrapper that instruments capabilities, the controller that adapts
// active theta configurations to observed failure rates, and the query
// surface that operator tooling reads. Implementation lives under internal/;
// this package wires and delegates.
package aps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/felixkranz/aps/internal/boundary"
	"github.com/felixkranz/aps/internal/capability"
	"github.com/felixkranz/aps/internal/clock"
	"github.com/felixkranz/aps/internal/controller"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/logging"
	"github.com/felixkranz/aps/internal/metric"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/pathgraph"
	"github.com/felixkranz/aps/internal/regen"
	"github.com/felixkranz/aps/internal/theta"
	"github.com/felixkranz/aps/internal/usage"
)

// #region aliases

// Result types of the query API, re-exported so code outside the module can
// name what the System returns.
type (
	Metrics     = metric.Snapshot
	ThetaConfig = theta.Config
	Bottleneck  = pathgraph.PathBottleneck
	Route       = pathgraph.Route
	Observation = observation.Observation
	CacheEntry  = theta.CacheEntry
	Escalation  = events.EscalationRecord
	Event       = events.Event
)

// Capability-side types. Business code implements Capability (or wraps a
// func in capability.Func) and builds Request values; the System hands back
// instrumented Capability values from Wrap.
type (
	Capability = capability.Capability
	Request    = capability.Request
	Result     = capability.Result
)

// #endregion aliases

// #region options

// ErrNoController is returned by control operations on a System opened
// without goals.
var ErrNoController = errors.New("aps: no goals configured")

const defaultInterval = 30 * time.Second

// Options configures Open. Path or DB is required; everything else has a
// working default.
type Options struct {
	// Path is the SQLite file backing every persistent store. Ignored when
	// DB is set.
	Path string
	// DB shares an already-open handle. The System never closes it.
	DB *sql.DB

	// Schemes are registered at open. A channel without a scheme classifies
	// everything as unknown and is skipped by the controller.
	Schemes []partition.Scheme
	// Thetas are saved at open; rows with the same ID are overwritten.
	Thetas []theta.Config
	// Active seeds the active pointer per channel. A channel that already
	// has a persisted pointer keeps it: seeding never rolls back state
	// reached by escalation or manual switch.
	Active map[string]theta.Config

	// Goals drive the controller. Without goals the System observes only:
	// Wrap and the query API work, but RunCycle, Start and SwitchTheta
	// return ErrNoController.
	Goals []controller.Goal

	// Observations overrides the default SQLite-backed observation store.
	Observations observation.Store

	Granularity partition.Granularity
	Tuning      controller.Tuning
	Interval    time.Duration // evaluation period for Start; default 30s
	Rates       *usage.RateTable
	Probe       theta.HealthProbe
	Clock       clock.Clock
	Logger      logging.Logger
}

// #endregion options

// #region system

// System is the assembled subsystem. All methods are safe for concurrent
// use.
type System struct {
	db     *sql.DB
	ownsDB bool

	schemes  *partition.Registry
	registry *theta.Registry
	thetas   *theta.Store
	cache    *theta.Cache
	obs      observation.Store
	metrics  *metric.Store
	paths    *pathgraph.Store
	audit    *events.Log
	bus      *events.Broadcaster
	regen    *regen.Engine

	wrapper *boundary.Wrapper
	ctrl    *controller.Controller
	sched   *clock.Scheduler

	closeOnce sync.Once
	closeErr  error
}

// Open builds a System: opens (or adopts) the database, creates the schema,
// registers schemes, saves and activates thetas, and wires the wrapper and,
// when goals are present, the controller.
func Open(ctx context.Context, opts Options) (*System, error) {
	db := opts.DB
	ownsDB := false
	if db == nil {
		if opts.Path == "" {
			return nil, errors.New("aps: neither Path nor DB set")
		}
		var err error
		db, err = sql.Open("sqlite", opts.Path)
		if err != nil {
			return nil, fmt.Errorf("aps: open %s: %w", opts.Path, err)
		}
		ownsDB = true
	}

	s, err := assemble(ctx, db, opts)
	if err != nil {
		if ownsDB {
			db.Close()
		}
		return nil, err
	}
	s.ownsDB = ownsDB
	return s, nil
}

func assemble(ctx context.Context, db *sql.DB, opts Options) (*System, error) {
	log := logging.Or(opts.Logger)
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	thetas, err := theta.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("aps: %w", err)
	}
	cache, err := theta.NewCache(db)
	if err != nil {
		return nil, fmt.Errorf("aps: %w", err)
	}
	metrics, err := metric.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("aps: %w", err)
	}
	paths, err := pathgraph.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("aps: %w", err)
	}
	audit, err := events.NewLog(db)
	if err != nil {
		return nil, fmt.Errorf("aps: %w", err)
	}

	obs := opts.Observations
	if obs == nil {
		sqlObs, err := observation.NewSQLiteStoreWithDB(db)
		if err != nil {
			return nil, fmt.Errorf("aps: %w", err)
		}
		obs = sqlObs
	}

	schemes := partition.NewRegistry()
	for _, sc := range opts.Schemes {
		if err := schemes.Register(sc); err != nil {
			return nil, fmt.Errorf("aps: register scheme %s: %w", sc.ID, err)
		}
	}

	for _, cfg := range opts.Thetas {
		if err := thetas.Save(ctx, cfg); err != nil {
			return nil, fmt.Errorf("aps: save theta %s: %w", cfg.ID, err)
		}
	}
	for channelID, cfg := range opts.Active {
		_, err := thetas.ActiveID(ctx, channelID)
		if err == nil {
			continue // persisted pointer wins over the seed
		}
		if !errors.Is(err, theta.ErrNoActiveTheta) {
			return nil, fmt.Errorf("aps: %w", err)
		}
		if err := thetas.Activate(ctx, channelID, cfg.ID); err != nil {
			return nil, fmt.Errorf("aps: activate %s: %w", cfg.ID, err)
		}
	}

	active, err := thetas.ActiveAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("aps: %w", err)
	}
	registry := theta.NewRegistry(active)

	bus := events.NewBroadcaster()
	engine := regen.NewEngine(log)

	wrapper, err := boundary.NewWrapper(boundary.Config{
		Schemes:     schemes,
		Registry:    registry,
		Regen:       engine,
		Store:       obs,
		Bus:         bus,
		Rates:       opts.Rates,
		Clock:       clk,
		Logger:      log,
		Granularity: opts.Granularity,
	})
	if err != nil {
		return nil, err
	}

	s := &System{
		db:       db,
		schemes:  schemes,
		registry: registry,
		thetas:   thetas,
		cache:    cache,
		obs:      obs,
		metrics:  metrics,
		paths:    paths,
		audit:    audit,
		bus:      bus,
		regen:    engine,
		wrapper:  wrapper,
	}

	if len(opts.Goals) > 0 {
		ctrl, err := controller.New(controller.Config{
			Goals:        opts.Goals,
			Schemes:      schemes,
			Granularity:  opts.Granularity,
			Thetas:       thetas,
			Registry:     registry,
			Cache:        cache,
			Probe:        opts.Probe,
			Observations: obs,
			Metrics:      metrics,
			Paths:        paths,
			Audit:        audit,
			Bus:          bus,
			Clock:        clk,
			Logger:       log,
			Tuning:       opts.Tuning,
		})
		if err != nil {
			return nil, err
		}
		s.ctrl = ctrl

		interval := opts.Interval
		if interval <= 0 {
			interval = defaultInterval
		}
		s.sched = clock.NewScheduler(interval, func(cctx context.Context) {
			ctrl.RunCycle(cctx)
		})
	}
	return s, nil
}

// #endregion system

// #region operations

// Wrap instruments target as the given channel. The returned capability
// classifies, regenerates and observes every invocation; the target's own
// result and error always pass through.
func (s *System) Wrap(channelID string, target capability.Capability) capability.Capability {
	return s.wrapper.Wrap(channelID, target)
}

// RegisterValidator installs the crosscheck validator for a channel.
func (s *System) RegisterValidator(channelID string, v regen.Validator) {
	s.regen.RegisterValidator(channelID, v)
}

// Subscribe attaches a consumer to the live event stream: observations,
// cycle summaries, escalations. Cancel with the returned func.
func (s *System) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bus.Subscribe(buffer)
}

// RunCycle evaluates every goal once, immediately.
func (s *System) RunCycle(ctx context.Context) (controller.CycleReport, error) {
	if s.ctrl == nil {
		return controller.CycleReport{}, ErrNoController
	}
	return s.ctrl.RunCycle(ctx), nil
}

// Start launches periodic evaluation on the configured interval. The loop
// stops when ctx is cancelled or the System is closed.
func (s *System) Start(ctx context.Context) error {
	if s.sched == nil {
		return ErrNoController
	}
	s.sched.Start(ctx)
	return nil
}

// Trigger requests one off-schedule evaluation cycle.
func (s *System) Trigger() {
	if s.sched != nil {
		s.sched.Trigger()
	}
}

// Close stops evaluation, closes the event stream, and releases the
// database when this System opened it.
func (s *System) Close() error {
	s.closeOnce.Do(func() {
		if s.sched != nil {
			s.sched.Stop()
		}
		s.bus.Close()
		if s.ownsDB {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}

// #endregion operations
