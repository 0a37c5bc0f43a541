package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/felixkranz/aps/internal/metric"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/pathgraph"
)

// #region main

func main() {
	dbPath := flag.String("db", envOr("APS_DB", "aps.db"), "path to aps.db")
	reset := flag.Bool("reset", false, "clear the path graph before rebuilding")
	flag.Parse()

	fmt.Println("=== Path Graph Bootstrap ===")
	fmt.Printf("  DB: %s\n", *dbPath)

	ctx := context.Background()

	store, err := observation.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	paths, err := pathgraph.NewStore(store.DB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init path graph: %v\n", err)
		os.Exit(1)
	}

	if *reset {
		fmt.Println("Clearing existing path graph...")
		for _, table := range []string{"path_links", "path_routes", "path_nodes"} {
			if _, err := store.DB().ExecContext(ctx, "DELETE FROM "+table); err != nil {
				fmt.Fprintf(os.Stderr, "clear %s: %v\n", table, err)
				os.Exit(1)
			}
		}
	}

	// Phase 1: route and link traversals from recorded observations.
	fmt.Println("\n--- Phase 1: Traversals ---")
	obs, err := store.ByWindow(ctx, time.Time{}, time.Now().Add(24*time.Hour))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load observations: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  %d observations found.\n", len(obs))

	recorded, skipped := 0, 0
	for i, o := range obs {
		if o.PathID == "" {
			skipped++
			continue
		}
		if err := paths.RecordPath(ctx, o.PathID, o.ObservedAt); err != nil {
			fmt.Fprintf(os.Stderr, "record path %q: %v\n", o.PathID, err)
			os.Exit(1)
		}
		recorded++

		if (i+1)%500 == 0 || i+1 == len(obs) {
			fmt.Printf("  [%d/%d] processed, %d traversals so far\n", i+1, len(obs), recorded)
		}
	}
	fmt.Printf("  Total traversals: %d (%d observations without a path)\n", recorded, skipped)

	// Phase 2: node capacities from the latest metric snapshots.
	fmt.Println("\n--- Phase 2: Capacities ---")
	metrics, err := metric.NewStore(store.DB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open metrics: %v\n", err)
		os.Exit(1)
	}
	latest, err := metrics.LatestAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load metrics: %v\n", err)
		os.Exit(1)
	}

	stamped := 0
	for ch, snap := range latest {
		if err := paths.SetCapacity(ctx, ch, snap.Capacity, snap.CreatedAt); err != nil {
			fmt.Fprintf(os.Stderr, "set capacity for %s: %v\n", ch, err)
			os.Exit(1)
		}
		stamped++
	}
	fmt.Printf("  Channels with measured capacity: %d\n", stamped)

	routes, err := paths.Routes(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read routes: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n=== Bootstrap Complete ===\n")
	fmt.Printf("  Observations scanned: %d\n", len(obs))
	fmt.Printf("  Traversals recorded:  %d\n", recorded)
	fmt.Printf("  Distinct routes:      %d\n", len(routes))
	fmt.Printf("  Capacities stamped:   %d\n", stamped)
}

// #endregion main

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
