package observation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/felixkranz/aps/internal/usage"
)

func tempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "aps_test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func obsAt(channel, trace string, at time.Time) Observation {
	return Observation{
		ChannelID:  channel,
		ThetaID:    "theta-0",
		SigmaIn:    "short_query",
		SigmaOut:   "ok",
		ObservedAt: at,
		Latency:    250 * time.Millisecond,
		Usage: usage.Usage{
			PromptUnits:     120,
			CompletionUnits: 40,
			TotalUnits:      160,
			Cost:            0.0031,
		},
		CapabilityID: "search-v1",
		TraceID:      trace,
		PathID:       "planner.search",
		Metadata:     map[string]string{"attempt": "1"},
	}
}

func TestAppendAndQueries(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	fixtures := []Observation{
		obsAt("planner.search", "trace-a", base),
		obsAt("planner.search", "trace-b", base.Add(1*time.Minute)),
		obsAt("search.fetch", "trace-a", base.Add(2*time.Minute)),
	}
	for i, o := range fixtures {
		if err := store.Append(ctx, o); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Half-open window: the 1-minute observation is excluded by until.
	got, err := store.ByChannel(ctx, "planner.search", base, base.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("by channel: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("by channel window returned %d observations, want 1", len(got))
	}
	o := got[0]
	if o.SigmaIn != "short_query" || o.SigmaOut != "ok" {
		t.Errorf("symbols = %q/%q", o.SigmaIn, o.SigmaOut)
	}
	if o.Latency != 250*time.Millisecond {
		t.Errorf("latency = %v, want 250ms", o.Latency)
	}
	if o.Usage.TotalUnits != 160 || o.Usage.Estimated {
		t.Errorf("usage = %+v", o.Usage)
	}
	if o.Metadata["attempt"] != "1" {
		t.Errorf("metadata = %v", o.Metadata)
	}
	if !o.ObservedAt.Equal(base) {
		t.Errorf("observed_at = %v, want %v", o.ObservedAt, base)
	}

	byTrace, err := store.ByTrace(ctx, "trace-a")
	if err != nil {
		t.Fatalf("by trace: %v", err)
	}
	if len(byTrace) != 2 {
		t.Errorf("trace-a returned %d observations, want 2", len(byTrace))
	}
	if len(byTrace) == 2 && byTrace[1].ChannelID != "search.fetch" {
		t.Errorf("trace results not in time order: %v", byTrace[1].ChannelID)
	}

	all, err := store.ByWindow(ctx, base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("by window: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("window returned %d observations, want 3", len(all))
	}
}

func TestAppendGeneratesID(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	obs := obsAt("planner.search", "trace-x", time.Now().UTC())
	obs.ID = ""
	if err := store.Append(ctx, obs); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.ByTrace(ctx, "trace-x")
	if err != nil {
		t.Fatalf("by trace: %v", err)
	}
	if len(got) != 1 || got[0].ID == "" {
		t.Errorf("expected generated id, got %+v", got)
	}
}

func TestQueriesOnClosedDB(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()
	store.Close()

	if err := store.Append(ctx, obsAt("c", "t", time.Now())); err == nil {
		t.Error("append on closed db should fail")
	}
	if _, err := store.ByChannel(ctx, "c", time.Time{}, time.Now()); err == nil {
		t.Error("by channel on closed db should fail")
	}
	if _, err := store.ByTrace(ctx, "t"); err == nil {
		t.Error("by trace on closed db should fail")
	}
	if _, err := store.ByWindow(ctx, time.Time{}, time.Now()); err == nil {
		t.Error("by window on closed db should fail")
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	if err := m.Append(ctx, obsAt("planner.search", "trace-a", base)); err != nil {
		t.Fatalf("append: %v", err)
	}

	first, _ := m.ByTrace(ctx, "trace-a")
	first[0].Metadata["attempt"] = "tampered"

	second, _ := m.ByTrace(ctx, "trace-a")
	if second[0].Metadata["attempt"] != "1" {
		t.Error("returned observation shares metadata with stored copy")
	}

	out, _ := m.ByChannel(ctx, "planner.search", base.Add(time.Second), base.Add(time.Minute))
	if len(out) != 0 {
		t.Errorf("window filter returned %d, want 0", len(out))
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}
