package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/felixkranz/aps"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to aps.db")
	channel := flag.String("channel", "", "show one channel in detail")
	trace := flag.String("trace", "", "show observations for one trace id")
	paths := flag.Bool("paths", false, "show realized paths and bottlenecks")
	cache := flag.Bool("cache", false, "show the stabilization cache")
	last := flag.Int("last", 20, "history and audit depth")
	jsonOut := flag.Bool("json", false, "output as JSON instead of tables")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/aps.db [--channel id] [--trace id] [--paths] [--cache] [--last N] [--json]")
		os.Exit(2)
	}

	ctx := context.Background()
	sys, err := aps.Open(ctx, aps.Options{Path: *dbPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer sys.Close()

	switch {
	case *trace != "":
		err = runTrace(ctx, sys, *trace, *jsonOut)
	case *paths:
		err = runPaths(ctx, sys, *jsonOut)
	case *cache:
		err = runCache(ctx, sys, *jsonOut)
	case *channel != "":
		err = runChannel(ctx, sys, *channel, *last, *jsonOut)
	default:
		err = runOverview(ctx, sys, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region overview

type overviewRow struct {
	Channel  string  `json:"channel"`
	Level    string  `json:"level"`
	Theta    string  `json:"theta"`
	Protocol string  `json:"protocol"`
	Obs      int     `json:"observations"`
	Failures int     `json:"failures"`
	Rate     float64 `json:"failure_rate"`
	UCB      float64 `json:"failure_ucb"`
	Capacity float64 `json:"capacity_bits"`
	At       string  `json:"at,omitempty"`
}

func runOverview(ctx context.Context, sys *aps.System, jsonOut bool) error {
	latest, err := sys.LatestMetrics(ctx)
	if err != nil {
		return err
	}
	declared, err := sys.Thetas(ctx, "")
	if err != nil {
		return err
	}

	channels := make(map[string]bool, len(latest))
	for ch := range latest {
		channels[ch] = true
	}
	for _, cfg := range declared {
		channels[cfg.ChannelID] = true
	}
	if len(channels) == 0 {
		fmt.Fprintln(os.Stderr, "no channels found")
		return nil
	}

	ordered := make([]string, 0, len(channels))
	for ch := range channels {
		ordered = append(ordered, ch)
	}
	sort.Strings(ordered)

	rows := make([]overviewRow, 0, len(ordered))
	for _, ch := range ordered {
		row := overviewRow{Channel: ch, Level: "-", Theta: "-", Protocol: "-"}
		if active, err := sys.CurrentTheta(ctx, ch); err == nil {
			row.Level = active.Level.String()
			row.Theta = active.ID
			row.Protocol = string(active.Protocol)
		}
		if snap, ok := latest[ch]; ok {
			row.Obs = snap.Observations
			row.Failures = snap.Failures
			row.Rate = snap.FailureRate
			row.UCB = snap.FailureUCB
			row.Capacity = snap.Capacity
			row.At = snap.CreatedAt.Format("2006-01-02T15:04:05Z")
		}
		rows = append(rows, row)
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-16s  %-8s  %-24s  %-10s  %5s  %5s  %7s  %7s  %8s  %s\n",
		"Channel", "Level", "Theta", "Protocol", "Obs", "Fail", "Rate", "UCB", "Capacity", "At")
	for _, r := range rows {
		at := r.At
		if at == "" {
			at = "-"
		}
		fmt.Printf("%-16s  %-8s  %-24s  %-10s  %5d  %5d  %7.4f  %7.4f  %8.4f  %s\n",
			r.Channel, r.Level, r.Theta, r.Protocol, r.Obs, r.Failures, r.Rate, r.UCB, r.Capacity, at)
	}
	return nil
}

// #endregion overview

// #region channel-detail

type historyRow struct {
	Cycle     int64   `json:"cycle"`
	WindowEnd string  `json:"window_end"`
	Obs       int     `json:"observations"`
	Failures  int     `json:"failures"`
	Rate      float64 `json:"failure_rate"`
	UCB       float64 `json:"failure_ucb"`
	MI        float64 `json:"mutual_info_bits"`
	Capacity  float64 `json:"capacity_bits"`
	Level     string  `json:"level"`
}

type auditRow struct {
	At        string  `json:"at"`
	Direction string  `json:"direction"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Trigger   float64 `json:"trigger_rate"`
	Goal      string  `json:"goal,omitempty"`
	CacheHit  bool    `json:"cache_hit,omitempty"`
}

type channelDetail struct {
	Channel string            `json:"channel"`
	Active  *aps.ThetaConfig  `json:"active,omitempty"`
	Ladder  []aps.ThetaConfig `json:"ladder"`
	History []historyRow      `json:"history"`
	Audit   []auditRow        `json:"audit"`
}

func runChannel(ctx context.Context, sys *aps.System, channel string, last int, jsonOut bool) error {
	detail := channelDetail{Channel: channel}

	if active, err := sys.CurrentTheta(ctx, channel); err == nil {
		detail.Active = &active
	}
	ladder, err := sys.Thetas(ctx, channel)
	if err != nil {
		return err
	}
	detail.Ladder = ladder

	history, err := sys.MetricsHistory(ctx, channel, last)
	if err != nil {
		return err
	}
	for _, snap := range history {
		detail.History = append(detail.History, historyRow{
			Cycle:     snap.Cycle,
			WindowEnd: snap.WindowEnd.Format("2006-01-02T15:04:05Z"),
			Obs:       snap.Observations,
			Failures:  snap.Failures,
			Rate:      snap.FailureRate,
			UCB:       snap.FailureUCB,
			MI:        snap.MutualInfo,
			Capacity:  snap.Capacity,
			Level:     snap.Level.String(),
		})
	}

	audit, err := sys.Escalations(ctx, channel, last)
	if err != nil {
		return err
	}
	for _, rec := range audit {
		detail.Audit = append(detail.Audit, auditRow{
			At:        rec.SwitchedAt.Format("2006-01-02T15:04:05Z"),
			Direction: rec.Direction,
			From:      rec.FromTheta,
			To:        rec.ToTheta,
			Trigger:   rec.TriggerRate,
			Goal:      rec.GoalID,
			CacheHit:  rec.CacheHit,
		})
	}

	if jsonOut {
		return printJSON(detail)
	}

	if detail.Active != nil {
		fmt.Printf("Channel:  %s\n", channel)
		fmt.Printf("Active:   %s (level %s, protocol %s, partition %s)\n",
			detail.Active.ID, detail.Active.Level, detail.Active.Protocol, detail.Active.PartitionID)
	} else {
		fmt.Printf("Channel:  %s (no active theta)\n", channel)
	}

	if len(detail.Ladder) > 0 {
		fmt.Printf("\nDeclared ladder:\n")
		for _, cfg := range detail.Ladder {
			marker := " "
			if detail.Active != nil && cfg.ID == detail.Active.ID {
				marker = "*"
			}
			fmt.Printf("  %s %-24s  level %-8s  protocol %s\n", marker, cfg.ID, cfg.Level, cfg.Protocol)
		}
	}

	if len(detail.History) > 0 {
		fmt.Printf("\n%6s  %-20s  %5s  %5s  %7s  %7s  %7s  %8s  %s\n",
			"Cycle", "Window End", "Obs", "Fail", "Rate", "UCB", "MI", "Capacity", "Level")
		for _, r := range detail.History {
			fmt.Printf("%6d  %-20s  %5d  %5d  %7.4f  %7.4f  %7.4f  %8.4f  %s\n",
				r.Cycle, r.WindowEnd, r.Obs, r.Failures, r.Rate, r.UCB, r.MI, r.Capacity, r.Level)
		}
	} else {
		fmt.Printf("\nNo metric snapshots recorded.\n")
	}

	if len(detail.Audit) > 0 {
		fmt.Printf("\nTransitions:\n")
		for _, r := range detail.Audit {
			note := ""
			if r.CacheHit {
				note = "  [cache]"
			}
			fmt.Printf("  %s  %-10s  %s -> %s  (trigger %.4f)%s\n", r.At, r.Direction, r.From, r.To, r.Trigger, note)
		}
	}
	return nil
}

// #endregion channel-detail

// #region trace

type traceRow struct {
	At      string  `json:"at"`
	Channel string  `json:"channel"`
	In      string  `json:"sigma_in"`
	Out     string  `json:"sigma_out"`
	Latency string  `json:"latency"`
	Cost    float64 `json:"cost"`
	Theta   string  `json:"theta"`
	Path    string  `json:"path,omitempty"`
}

func runTrace(ctx context.Context, sys *aps.System, traceID string, jsonOut bool) error {
	obs, err := sys.Trace(ctx, traceID)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		fmt.Fprintf(os.Stderr, "no observations for trace %q\n", traceID)
		return nil
	}

	rows := make([]traceRow, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, traceRow{
			At:      o.ObservedAt.Format("2006-01-02T15:04:05Z"),
			Channel: o.ChannelID,
			In:      string(o.SigmaIn),
			Out:     string(o.SigmaOut),
			Latency: o.Latency.String(),
			Cost:    o.Usage.Cost,
			Theta:   o.ThetaID,
			Path:    o.PathID,
		})
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("Trace %s (%d observations)\n\n", traceID, len(rows))
	fmt.Printf("%-20s  %-16s  %-10s  %-10s  %10s  %8s  %-24s  %s\n",
		"Time", "Channel", "In", "Out", "Latency", "Cost", "Theta", "Path")
	for _, r := range rows {
		path := r.Path
		if path == "" {
			path = "-"
		}
		fmt.Printf("%-20s  %-16s  %-10s  %-10s  %10s  %8.4f  %-24s  %s\n",
			r.At, r.Channel, r.In, r.Out, r.Latency, r.Cost, r.Theta, path)
	}
	return nil
}

// #endregion trace

// #region paths

type pathRow struct {
	Path       string  `json:"path"`
	Traversals int64   `json:"traversals"`
	LastSeen   string  `json:"last_seen"`
	Bottleneck string  `json:"bottleneck,omitempty"`
	Capacity   float64 `json:"capacity_bits,omitempty"`
}

func runPaths(ctx context.Context, sys *aps.System, jsonOut bool) error {
	routes, err := sys.Routes(ctx)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		fmt.Fprintln(os.Stderr, "no realized paths recorded")
		return nil
	}

	necks, err := sys.Bottlenecks(ctx)
	if err != nil {
		return err
	}
	byPath := make(map[string]aps.Bottleneck, len(necks))
	for _, b := range necks {
		byPath[b.PathID] = b
	}

	rows := make([]pathRow, 0, len(routes))
	for _, r := range routes {
		row := pathRow{
			Path:       r.PathID,
			Traversals: r.Traversals,
			LastSeen:   r.LastSeen.Format("2006-01-02T15:04:05Z"),
		}
		if b, ok := byPath[r.PathID]; ok {
			row.Bottleneck = b.ChannelID
			row.Capacity = b.Capacity
		}
		rows = append(rows, row)
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-40s  %10s  %-20s  %-16s  %s\n",
		"Path", "Traversals", "Last Seen", "Bottleneck", "Capacity")
	for _, r := range rows {
		neck := r.Bottleneck
		capacity := "-"
		if neck == "" {
			neck = "-"
		} else {
			capacity = fmt.Sprintf("%.4f", r.Capacity)
		}
		fmt.Printf("%-40s  %10d  %-20s  %-16s  %s\n", r.Path, r.Traversals, r.LastSeen, neck, capacity)
	}
	return nil
}

// #endregion paths

// #region cache

type cacheRow struct {
	Channel     string  `json:"channel"`
	Fingerprint string  `json:"fingerprint"`
	Theta       string  `json:"theta"`
	Rate        float64 `json:"failure_rate_at_cache"`
	Cached      string  `json:"cached_at"`
	Validated   string  `json:"last_validated"`
	Hits        int64   `json:"hits"`
}

func runCache(ctx context.Context, sys *aps.System, jsonOut bool) error {
	entries, err := sys.CacheContents(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "stabilization cache is empty")
		return nil
	}

	rows := make([]cacheRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, cacheRow{
			Channel:     e.ChannelID,
			Fingerprint: e.Fingerprint,
			Theta:       e.ThetaID,
			Rate:        e.FailureRateAtCache,
			Cached:      e.CachedAt.Format("2006-01-02T15:04:05Z"),
			Validated:   e.LastValidated.Format("2006-01-02T15:04:05Z"),
			Hits:        e.HitCount,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Channel != rows[j].Channel {
			return rows[i].Channel < rows[j].Channel
		}
		return rows[i].Fingerprint < rows[j].Fingerprint
	})

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-16s  %-14s  %-24s  %7s  %-20s  %-20s  %s\n",
		"Channel", "Fingerprint", "Theta", "Rate", "Cached", "Validated", "Hits")
	for _, r := range rows {
		fmt.Printf("%-16s  %-14s  %-24s  %7.4f  %-20s  %-20s  %d\n",
			r.Channel, shortID(r.Fingerprint), r.Theta, r.Rate, r.Cached, r.Validated, r.Hits)
	}
	return nil
}

// #endregion cache

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion output
