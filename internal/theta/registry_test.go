package theta

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryActive(t *testing.T) {
	r := NewRegistry(map[string]Config{
		"planner.search": sampleConfig("theta-0", "planner.search", LevelNominal, ProtocolPassive),
	})

	cfg, ok := r.Active("planner.search")
	if !ok {
		t.Fatal("expected active config")
	}
	if cfg.ID != "theta-0" {
		t.Fatalf("active = %s, want theta-0", cfg.ID)
	}
	if _, ok := r.Active("search.fetch"); ok {
		t.Fatal("expected no active config for unknown channel")
	}
}

func TestRegistrySwapVisible(t *testing.T) {
	r := NewRegistry(map[string]Config{
		"planner.search": sampleConfig("theta-0", "planner.search", LevelNominal, ProtocolPassive),
	})

	r.Swap(sampleConfig("theta-1", "planner.search", LevelDegraded, ProtocolConfirm))

	cfg, ok := r.Active("planner.search")
	if !ok {
		t.Fatal("expected active config after swap")
	}
	if cfg.ID != "theta-1" || cfg.Level != LevelDegraded {
		t.Fatalf("active = %+v, want theta-1 at degraded", cfg)
	}
}

func TestRegistrySwapNewChannel(t *testing.T) {
	r := NewRegistry(nil)
	r.Swap(sampleConfig("sf-0", "search.fetch", LevelNominal, ProtocolPassive))

	if _, ok := r.Active("search.fetch"); !ok {
		t.Fatal("expected swap to add a channel to an empty registry")
	}
}

func TestRegistrySnapshotIsolated(t *testing.T) {
	r := NewRegistry(map[string]Config{
		"planner.search": sampleConfig("theta-0", "planner.search", LevelNominal, ProtocolPassive),
	})

	snap := r.Snapshot()
	snap["planner.search"] = sampleConfig("mutated", "planner.search", LevelCritical, ProtocolCrosscheck)

	cfg, _ := r.Active("planner.search")
	if cfg.ID != "theta-0" {
		t.Fatalf("registry mutated through snapshot: %+v", cfg)
	}
}

// Concurrent readers during swaps; run with -race.
func TestRegistryConcurrentReadSwap(t *testing.T) {
	r := NewRegistry(map[string]Config{
		"planner.search": sampleConfig("theta-0", "planner.search", LevelNominal, ProtocolPassive),
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if cfg, ok := r.Active("planner.search"); ok && cfg.ChannelID != "planner.search" {
					t.Errorf("torn read: %+v", cfg)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			r.Swap(sampleConfig(fmt.Sprintf("theta-%d", j), "planner.search", LevelNominal, ProtocolPassive))
		}
	}()
	wg.Wait()
}
