package aps

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixkranz/aps/internal/capability"
	"github.com/felixkranz/aps/internal/clock"
	"github.com/felixkranz/aps/internal/controller"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/theta"
)

var apsStart = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

// #region fixture

func testScheme() partition.Scheme {
	return partition.Scheme{
		ID:             "search-coarse",
		ChannelID:      "search",
		Granularity:    partition.GranularityCoarse,
		InputAlphabet:  []partition.Symbol{"query", "command"},
		OutputAlphabet: []partition.Symbol{"answer", "refusal", "timeout"},
		FailureSymbols: []partition.Symbol{"refusal", "timeout"},
		Classifier: partition.FuncClassifier{
			InputFn: func(in any) partition.Symbol {
				if _, ok := in.(string); ok {
					return "query"
				}
				return "command"
			},
			OutputFn: func(out any, err error) partition.Symbol {
				if err != nil {
					return "timeout"
				}
				if s, _ := out.(string); s == "" {
					return "refusal"
				}
				return "answer"
			},
		},
		Admissibility: partition.Admissibility{
			InspectedFields: []string{"input type", "output emptiness", "invocation error"},
			Reachability:    "callers issue both string queries and structured commands",
			SymbolOwners: map[partition.Symbol]string{
				"answer":  "search",
				"refusal": "search",
				"timeout": "transport",
			},
		},
	}
}

func testThetas() []theta.Config {
	return []theta.Config{
		{
			ID:          "search-passive",
			ChannelID:   "search",
			Level:       theta.LevelNominal,
			PartitionID: "search-coarse",
			Protocol:    theta.ProtocolPassive,
		},
		{
			ID:          "search-confirm",
			ChannelID:   "search",
			Level:       theta.LevelDegraded,
			PartitionID: "search-coarse",
			Protocol:    theta.ProtocolConfirm,
		},
		{
			ID:          "search-crosscheck",
			ChannelID:   "search",
			Level:       theta.LevelCritical,
			PartitionID: "search-coarse",
			Protocol:    theta.ProtocolCrosscheck,
		},
	}
}

func testGoal() controller.Goal {
	return controller.Goal{
		ID:       "search-operational",
		Tier:     controller.TierOperational,
		Fails:    controller.FailureSymbols("refusal", "timeout"),
		Epsilon:  0.1,
		Window:   time.Hour,
		Channels: []string{"search"},
	}
}

func testOptions(t *testing.T, clk clock.Clock) Options {
	t.Helper()
	thetas := testThetas()
	return Options{
		Path:    filepath.Join(t.TempDir(), "aps.db"),
		Schemes: []partition.Scheme{testScheme()},
		Thetas:  thetas,
		Active:  map[string]theta.Config{"search": thetas[0]},
		Goals:   []controller.Goal{testGoal()},
		Tuning:  controller.Tuning{MinObservations: 1},
		Clock:   clk,
	}
}

func openSystem(t *testing.T, opts Options) *System {
	t.Helper()
	sys, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { sys.Close() })
	return sys
}

func answering(output string) capability.Func {
	return capability.Func{
		Name: "search-api",
		Fn: func(ctx context.Context, req capability.Request) (capability.Result, error) {
			return capability.Result{Output: output}, nil
		},
	}
}

// #endregion fixture

// #region open

func TestOpenEndToEnd(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(apsStart)
	sys := openSystem(t, testOptions(t, clk))

	search := sys.Wrap("search", answering("the capital is Lima"))
	res, err := search.Invoke(ctx, Request{Input: "capital of peru?", TraceID: "trace-e2e"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Output != "the capital is Lima" {
		t.Fatalf("output = %v", res.Output)
	}

	obs, err := sys.Trace(ctx, "trace-e2e")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("got %d observations, want 1", len(obs))
	}
	if obs[0].ChannelID != "search" || obs[0].SigmaIn != "query" || obs[0].SigmaOut != "answer" {
		t.Fatalf("observation = %+v", obs[0])
	}

	clk.Advance(time.Minute)
	report, err := sys.RunCycle(ctx)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Evaluated != 1 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}

	latest, err := sys.LatestMetrics(ctx)
	if err != nil {
		t.Fatalf("latest metrics: %v", err)
	}
	snap, ok := latest["search"]
	if !ok {
		t.Fatalf("no snapshot for search, got %v", latest)
	}
	if snap.Observations != 1 || snap.Failures != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}

	hist, err := sys.MetricsHistory(ctx, "search", 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, err %v", hist, err)
	}

	routes, err := sys.Routes(ctx)
	if err != nil || len(routes) != 1 || routes[0].PathID != "search" {
		t.Fatalf("routes = %v, err %v", routes, err)
	}
	necks, err := sys.Bottlenecks(ctx)
	if err != nil || len(necks) != 1 || necks[0].ChannelID != "search" {
		t.Fatalf("bottlenecks = %v, err %v", necks, err)
	}
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, Options{}); err == nil {
		t.Fatal("expected error without Path or DB")
	}

	opts := testOptions(t, nil)
	bad := testScheme()
	bad.Admissibility = partition.Admissibility{}
	opts.Schemes = []partition.Scheme{bad}
	if _, err := Open(ctx, opts); err == nil {
		t.Fatal("expected error for inadmissible scheme")
	}

	opts = testOptions(t, nil)
	opts.Goals = []controller.Goal{{ID: "hollow"}}
	if _, err := Open(ctx, opts); err == nil {
		t.Fatal("expected error for invalid goal")
	}
}

func TestOpenAdoptsSharedDB(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "shared.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	opts := testOptions(t, nil)
	opts.Path = ""
	opts.DB = db
	sys, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := sys.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("close took the shared handle down: %v", err)
	}
}

func TestReopenKeepsSwitchedTheta(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, clock.NewFake(apsStart))

	sys, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := sys.SwitchTheta(ctx, "search", "search-confirm"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := sys.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The seed in opts.Active still names search-passive; reopening must
	// not roll back the operator's switch.
	sys2 := openSystem(t, opts)
	cur, err := sys2.CurrentTheta(ctx, "search")
	if err != nil {
		t.Fatalf("current theta: %v", err)
	}
	if cur.ID != "search-confirm" {
		t.Fatalf("reopen reset active theta to %s", cur.ID)
	}
}

// #endregion open

// #region control

func TestCycleEscalatesAndAudits(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(apsStart)
	sys := openSystem(t, testOptions(t, clk))

	search := sys.Wrap("search", answering("")) // classified refusal
	for i := 0; i < 3; i++ {
		if _, err := search.Invoke(ctx, Request{Input: "q"}); err != nil {
			t.Fatalf("invoke: %v", err)
		}
	}

	clk.Advance(time.Minute)
	report, err := sys.RunCycle(ctx)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(report.Transitions) != 1 {
		t.Fatalf("transitions = %+v", report.Transitions)
	}

	// Rate 1.0 clears both thresholds: nominal jumps straight to critical.
	cur, err := sys.CurrentTheta(ctx, "search")
	if err != nil {
		t.Fatalf("current theta: %v", err)
	}
	if cur.ID != "search-crosscheck" {
		t.Fatalf("active theta = %s, want search-crosscheck", cur.ID)
	}

	recs, err := sys.Escalations(ctx, "search", 10)
	if err != nil {
		t.Fatalf("escalations: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Direction != events.DirectionEscalate || rec.FromTheta != "search-passive" || rec.ToTheta != "search-crosscheck" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.FromLevel != theta.LevelNominal || rec.ToLevel != theta.LevelCritical {
		t.Fatalf("levels = %d -> %d", rec.FromLevel, rec.ToLevel)
	}
	if rec.TriggerRate != 1.0 {
		t.Fatalf("trigger rate = %v", rec.TriggerRate)
	}
}

func TestSwitchThetaManualAudit(t *testing.T) {
	ctx := context.Background()
	sys := openSystem(t, testOptions(t, clock.NewFake(apsStart)))

	if err := sys.SwitchTheta(ctx, "search", "search-confirm"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	recs, err := sys.Escalations(ctx, "", 10)
	if err != nil {
		t.Fatalf("escalations: %v", err)
	}
	if len(recs) != 1 || recs[0].Direction != events.DirectionManual {
		t.Fatalf("records = %+v", recs)
	}
}

func TestTriggerRunsCycle(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, nil)
	opts.Interval = time.Hour // periodic tick stays out of the way
	sys := openSystem(t, opts)

	stream, cancel := sys.Subscribe(8)
	defer cancel()

	if err := sys.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	sys.Trigger()

	select {
	case ev := <-stream:
		if ev.Kind != events.KindCycle {
			t.Fatalf("event kind = %s", ev.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle event after trigger")
	}
}

func TestObserveOnlyWithoutGoals(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, clock.NewFake(apsStart))
	opts.Goals = nil
	sys := openSystem(t, opts)

	search := sys.Wrap("search", answering("fine"))
	if _, err := search.Invoke(ctx, Request{Input: "q", TraceID: "trace-quiet"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	obs, err := sys.Trace(ctx, "trace-quiet")
	if err != nil || len(obs) != 1 {
		t.Fatalf("trace = %v, err %v", obs, err)
	}

	if _, err := sys.RunCycle(ctx); !errors.Is(err, ErrNoController) {
		t.Fatalf("run cycle err = %v", err)
	}
	if err := sys.Start(ctx); !errors.Is(err, ErrNoController) {
		t.Fatalf("start err = %v", err)
	}
	if err := sys.SwitchTheta(ctx, "search", "search-confirm"); !errors.Is(err, ErrNoController) {
		t.Fatalf("switch err = %v", err)
	}
	sys.Trigger() // no-op, must not panic
}

// #endregion control

// #region queries

func TestQueriesOnFreshDatabase(t *testing.T) {
	ctx := context.Background()
	sys := openSystem(t, testOptions(t, nil))

	latest, err := sys.LatestMetrics(ctx)
	if err != nil || len(latest) != 0 {
		t.Fatalf("latest = %v, err %v", latest, err)
	}
	hist, err := sys.MetricsHistory(ctx, "search", 10)
	if err != nil || len(hist) != 0 {
		t.Fatalf("history = %v, err %v", hist, err)
	}
	necks, err := sys.Bottlenecks(ctx)
	if err != nil || len(necks) != 0 {
		t.Fatalf("bottlenecks = %v, err %v", necks, err)
	}
	entries, err := sys.CacheContents(ctx)
	if err != nil || len(entries) != 0 {
		t.Fatalf("cache = %v, err %v", entries, err)
	}
	obs, err := sys.Trace(ctx, "no-such-trace")
	if err != nil || len(obs) != 0 {
		t.Fatalf("trace = %v, err %v", obs, err)
	}

	if _, err := sys.CurrentTheta(ctx, "ghost"); !errors.Is(err, theta.ErrNoActiveTheta) {
		t.Fatalf("current theta err = %v", err)
	}

	all, err := sys.Thetas(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("thetas = %v, err %v", all, err)
	}
	forChannel, err := sys.Thetas(ctx, "search")
	if err != nil || len(forChannel) != 3 {
		t.Fatalf("channel thetas = %v, err %v", forChannel, err)
	}
}

// #endregion queries
