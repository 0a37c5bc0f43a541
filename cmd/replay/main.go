package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/felixkranz/aps/internal/config"
	"github.com/felixkranz/aps/internal/controller"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/replay"
	"github.com/felixkranz/aps/internal/theta"
)

// recordedLimit bounds how many escalation events DB mode loads.
const recordedLimit = 10000

// #region main

func main() {
	dbPath := flag.String("db", "", "path to aps.db (DB mode)")
	cfgPath := flag.String("config", "", "deployment YAML carrying goals and thetas (DB mode)")
	channel := flag.String("channel", "", "channel to replay (DB mode)")
	goalID := flag.String("goal", "", "goal id; default is the first goal covering the channel")
	startID := flag.String("start", "", "starting theta id; default is inferred from the audit trail")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	steps := flag.Bool("steps", false, "print every evaluation cycle, not just transitions")
	flag.Parse()

	dbMode := *dbPath != ""
	fixtureMode := *fixturePath != ""
	if dbMode == fixtureMode {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/aps.db --config path/to/aps.yaml --channel id [--goal id] [--start theta] [--steps]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json [--steps]")
		os.Exit(2)
	}

	var exitCode int
	if fixtureMode {
		exitCode = runFixtureMode(*fixturePath, *steps)
	} else {
		exitCode = runDBMode(*dbPath, *cfgPath, *channel, *goalID, *startID, *steps)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region db-mode

func runDBMode(dbPath, cfgPath, channel, goalID, startID string, steps bool) int {
	if cfgPath == "" || channel == "" {
		fmt.Fprintln(os.Stderr, "DB mode needs --config and --channel")
		return 2
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}

	sc, err := buildScenario(cfg, dbPath, channel, goalID, startID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	res, err := replay.Run(sc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	printResult(res, steps)
	if len(res.Divergences) > 0 {
		return 1
	}
	return 0
}

// buildScenario assembles the replay input: declared goal, ladder, and
// tuning from the config file; observations and the recorded escalation
// trail from the database.
func buildScenario(cfg *config.File, dbPath, channel, goalID, startID string) (replay.Scenario, error) {
	ctx := context.Background()

	goal, err := pickGoal(cfg, channel, goalID)
	if err != nil {
		return replay.Scenario{}, err
	}

	thetas, err := cfg.ThetaConfigs()
	if err != nil {
		return replay.Scenario{}, err
	}
	var ladder []theta.Config
	for _, t := range thetas {
		if t.ChannelID == channel {
			ladder = append(ladder, t)
		}
	}
	if len(ladder) == 0 {
		return replay.Scenario{}, fmt.Errorf("config declares no thetas for channel %q", channel)
	}

	store, err := observation.NewSQLiteStore(dbPath)
	if err != nil {
		return replay.Scenario{}, fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	obs, err := store.ByChannel(ctx, channel, time.Time{}, time.Now().Add(24*time.Hour))
	if err != nil {
		return replay.Scenario{}, fmt.Errorf("load observations: %w", err)
	}
	if len(obs) == 0 {
		return replay.Scenario{}, fmt.Errorf("no observations recorded for channel %q", channel)
	}

	log, err := events.NewLog(store.DB())
	if err != nil {
		return replay.Scenario{}, fmt.Errorf("open escalation log: %w", err)
	}
	recorded, err := log.ByChannel(ctx, channel, recordedLimit)
	if err != nil {
		return replay.Scenario{}, fmt.Errorf("load escalations: %w", err)
	}
	reverse(recorded)

	if startID == "" {
		startID = inferStart(ctx, store, channel, recorded, ladder)
	}

	return replay.Scenario{
		Channel:      channel,
		Goal:         goal,
		Tuning:       cfg.Tuning(),
		Ladder:       ladder,
		StartID:      startID,
		Interval:     cfg.Interval(),
		Observations: obs,
		Recorded:     recorded,
	}, nil
}

func pickGoal(cfg *config.File, channel, goalID string) (controller.Goal, error) {
	goals, err := cfg.ControllerGoals()
	if err != nil {
		return controller.Goal{}, err
	}
	for _, g := range goals {
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
		return controller.Goal{}, fmt.Errorf("goal %q not declared", goalID)
	}
	return controller.Goal{}, fmt.Errorf("no goal covers channel %q", channel)
}

// inferStart picks the replay's starting theta: the source of the earliest
// recorded transition when there is one, otherwise the persisted active
// pointer, otherwise the first nominal rung of the ladder.
func inferStart(ctx context.Context, store *observation.SQLiteStore, channel string, recorded []events.EscalationRecord, ladder []theta.Config) string {
	if len(recorded) > 0 && recorded[0].FromTheta != "" {
		return recorded[0].FromTheta
	}
	if thetas, err := theta.NewStore(store.DB()); err == nil {
		if id, err := thetas.ActiveID(ctx, channel); err == nil {
			return id
		}
	}
	for _, t := range ladder {
		if t.Level == theta.LevelNominal {
			return t.ID
		}
	}
	return ladder[0].ID
}

func reverse(recs []events.EscalationRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

// #endregion db-mode

// #region fixture-mode

func runFixtureMode(path string, steps bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	sc, err := f.Scenario()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture: %v\n", err)
		return 2
	}

	res, err := replay.Run(sc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	printResult(res, steps)

	problems := f.Check(res)
	if len(problems) > 0 {
		fmt.Println("\nExpected sequence mismatches:")
		for _, p := range problems {
			fmt.Printf("  %s\n", p)
		}
	}

	if len(problems) > 0 || len(res.Divergences) > 0 {
		return 1
	}
	return 0
}

// #endregion fixture-mode

// #region output

func printResult(res replay.Result, steps bool) {
	if steps {
		fmt.Printf("%6s  %-20s  %-24s  %5s  %5s  %8s  %s\n",
			"Cycle", "Time", "Theta", "Obs", "Fail", "Signal", "Decision")
		for _, s := range res.Steps {
			decision := s.Decision.Reason
			if s.Fired {
				decision = fmt.Sprintf("%s -> fired", s.Decision.Direction)
			} else if s.Decision.Direction != "" {
				decision = fmt.Sprintf("%s suppressed: %s", s.Decision.Direction, s.Decision.Reason)
			}
			fmt.Printf("%6d  %-20s  %-24s  %5d  %5d  %8.4f  %s\n",
				s.Cycle, s.At.Format("2006-01-02T15:04:05Z"), s.Theta, s.Total, s.Failures, s.Effective, decision)
		}
		fmt.Println()
	}

	if len(res.Transitions) == 0 {
		fmt.Println("No transitions replayed.")
	} else {
		fmt.Println("Replayed transitions:")
		for _, rec := range res.Transitions {
			fmt.Printf("  %s  %-10s  %s -> %s  (trigger %.4f)\n",
				rec.SwitchedAt.Format("2006-01-02T15:04:05Z"), rec.Direction, rec.FromTheta, rec.ToTheta, rec.TriggerRate)
		}
	}

	if len(res.Divergences) > 0 {
		fmt.Println("\nDivergences from the recorded trail:")
		for _, d := range res.Divergences {
			fmt.Printf("  %s\n", d.Detail)
		}
	}

	sum := replay.Summarize(res)
	fmt.Printf("\nSummary: %d cycles, %d transitions (%d escalations, %d de-escalations), %d recorded, %d divergences, final %s\n",
		sum.Cycles, sum.Transitions, sum.Escalations, sum.Deescalations, sum.Recorded, sum.Divergences, sum.FinalTheta)
}

// #endregion output
