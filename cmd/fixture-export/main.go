package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/felixkranz/aps/internal/config"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/replay"
	"github.com/felixkranz/aps/internal/theta"
)

const recordedLimit = 10000

// #region main

func main() {
	dbPath := flag.String("db", "", "path to aps.db")
	cfgPath := flag.String("config", "", "deployment YAML carrying goals and thetas")
	channel := flag.String("channel", "", "channel to export")
	goalID := flag.String("goal", "", "goal id; default is the first goal covering the channel")
	last := flag.Int("last", 0, "export only the N most recent observations (0 = all)")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *cfgPath == "" || *channel == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/aps.db --config path/to/aps.yaml --channel id --out path/to/fixture.json [--goal id] [--last N]")
		os.Exit(2)
	}

	if err := run(*dbPath, *cfgPath, *channel, *goalID, *last, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, cfgPath, channel, goalID string, last int, outPath string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	goal, err := pickGoal(cfg, channel, goalID)
	if err != nil {
		return err
	}

	var thetas []config.Theta
	for _, t := range cfg.Thetas {
		if t.ChannelID == channel {
			thetas = append(thetas, t)
		}
	}
	if len(thetas) == 0 {
		return fmt.Errorf("config declares no thetas for channel %q", channel)
	}

	store, err := observation.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	obs, err := store.ByChannel(ctx, channel, time.Time{}, time.Now().Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	if len(obs) == 0 {
		return fmt.Errorf("no observations recorded for channel %q", channel)
	}
	if last > 0 && len(obs) > last {
		obs = obs[len(obs)-last:]
	}

	log, err := events.NewLog(store.DB())
	if err != nil {
		return fmt.Errorf("open escalation log: %w", err)
	}
	recorded, err := log.ByChannel(ctx, channel, recordedLimit)
	if err != nil {
		return fmt.Errorf("load escalations: %w", err)
	}
	reverse(recorded)

	// Drop recorded transitions from before the exported observation
	// window; replay cannot reproduce what it cannot see.
	first := obs[0].ObservedAt
	kept := recorded[:0]
	for _, rec := range recorded {
		if !rec.SwitchedAt.Before(first) {
			kept = append(kept, rec)
		}
	}
	recorded = kept

	fixture := buildFixture(cfg, goal, thetas, channel, obs, recorded)

	fmt.Printf("Exporting %d observations and %d recorded transitions for channel %s\n",
		len(obs), len(recorded), channel)
	return writeFixture(fixture, outPath)
}

func pickGoal(cfg *config.File, channel, goalID string) (config.Goal, error) {
	for _, g := range cfg.Goals {
		if goalID != "" {
			if g.ID == goalID {
				return g, nil
			}
			continue
		}
		for _, ch := range g.Channels {
			if ch == channel {
				return g, nil
			}
		}
	}
	if goalID != "" {
		return config.Goal{}, fmt.Errorf("goal %q not declared", goalID)
	}
	return config.Goal{}, fmt.Errorf("no goal covers channel %q", channel)
}

func reverse(recs []events.EscalationRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

// #endregion extract

// #region output

func buildFixture(cfg *config.File, goal config.Goal, thetas []config.Theta, channel string, obs []observation.Observation, recorded []events.EscalationRecord) replay.Fixture {
	fthetas := make([]replay.FixtureTheta, len(thetas))
	startTheta := ""
	for i, t := range thetas {
		fthetas[i] = replay.FixtureTheta{
			ID:          t.ID,
			Level:       orDefault(t.Level, "nominal"),
			PartitionID: t.PartitionID,
			Protocol:    orDefault(t.Protocol, string(theta.ProtocolPassive)),
		}
		if startTheta == "" && fthetas[i].Level == "nominal" {
			startTheta = t.ID
		}
	}
	if len(recorded) > 0 && recorded[0].FromTheta != "" {
		startTheta = recorded[0].FromTheta
	}
	if startTheta == "" {
		startTheta = fthetas[0].ID
	}

	fobs := make([]replay.FixtureObservation, len(obs))
	for i, o := range obs {
		fobs[i] = replay.FixtureObservation{
			At:        o.ObservedAt.UTC().Format(time.RFC3339),
			SigmaIn:   string(o.SigmaIn),
			SigmaOut:  string(o.SigmaOut),
			LatencyMS: o.Latency.Milliseconds(),
			Cost:      o.Usage.Cost,
		}
	}

	frecorded := make([]replay.FixtureRecorded, len(recorded))
	var expected []replay.FixtureExpected
	for i, rec := range recorded {
		frecorded[i] = replay.FixtureRecorded{
			At:        rec.SwitchedAt.UTC().Format(time.RFC3339),
			Direction: rec.Direction,
			From:      rec.FromTheta,
			To:        rec.ToTheta,
		}
		// Manual switches are operator input; replay applies them instead
		// of predicting them.
		if rec.Direction != events.DirectionManual {
			expected = append(expected, replay.FixtureExpected{
				Direction: rec.Direction,
				From:      rec.FromTheta,
				To:        rec.ToTheta,
			})
		}
	}

	return replay.Fixture{
		Description: fmt.Sprintf("Export: %d observations for channel %s", len(obs), channel),
		Channel:     channel,
		Goal: replay.FixtureGoal{
			ID:             goal.ID,
			Tier:           goal.Tier,
			Epsilon:        goal.Epsilon,
			Window:         goal.Window,
			FailureSymbols: goal.FailureSymbols,
			LatencyLimit:   goal.LatencyLimit,
		},
		Tuning: replay.FixtureTuning{
			MinObservations:    cfg.Controller.MinObservations,
			EscalateCooldown:   cfg.Controller.EscalateCooldown,
			DeescalateCooldown: cfg.Controller.DeescalateCooldown,
			Confidence:         cfg.Controller.Confidence,
		},
		Thetas:       fthetas,
		StartTheta:   startTheta,
		Interval:     cfg.Interval().String(),
		Observations: fobs,
		Recorded:     frecorded,
		Expected:     expected,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func writeFixture(fixture replay.Fixture, outPath string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}

	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	fmt.Printf("Wrote fixture to %s (%d bytes, %d observations)\n", outPath, len(data), len(fixture.Observations))
	return nil
}

// #endregion output
