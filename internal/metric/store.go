package metric

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/felixkranz/aps/internal/stats"
	"github.com/felixkranz/aps/internal/theta"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS metric_snapshots (
    id            TEXT PRIMARY KEY,
    cycle         INTEGER NOT NULL,
    channel_id    TEXT NOT NULL,
    goal_id       TEXT,
    window_start  TEXT NOT NULL,
    window_end    TEXT NOT NULL,
    observations  INTEGER NOT NULL,
    failures      INTEGER NOT NULL,
    failure_rate  REAL NOT NULL,
    failure_ucb   REAL NOT NULL,
    mutual_info   REAL NOT NULL,
    capacity      REAL NOT NULL,
    eff_per_cost  REAL,
    eff_per_unit  REAL,
    eff_per_time  REAL,
    level         INTEGER NOT NULL,
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metric_channel_time
    ON metric_snapshots(channel_id, created_at);
`

// #endregion schema

// #region store

// ErrNoSnapshots is returned by Latest when a channel has no metrics yet.
var ErrNoSnapshots = errors.New("metric: no snapshots for channel")

// Store persists metric snapshots. Unbounded efficiency ratios are stored
// as NULL and come back as +Inf.
type Store struct {
	db *sql.DB
}

// NewStore creates the metric_snapshots table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init metric store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save writes one snapshot.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if snap.ID == "" {
		return errors.New("metric: snapshot id required")
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_snapshots (id, cycle, channel_id, goal_id, window_start, window_end, observations, failures, failure_rate, failure_ucb, mutual_info, capacity, eff_per_cost, eff_per_unit, eff_per_time, level, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID,
		snap.Cycle,
		snap.ChannelID,
		nullIfEmpty(snap.GoalID),
		snap.WindowStart.UTC().Format(time.RFC3339Nano),
		snap.WindowEnd.UTC().Format(time.RFC3339Nano),
		snap.Observations,
		snap.Failures,
		snap.FailureRate,
		snap.FailureUCB,
		snap.MutualInfo,
		snap.Capacity,
		nullIfUnbounded(snap.Efficiency.PerCost),
		nullIfUnbounded(snap.Efficiency.PerUnit),
		nullIfUnbounded(snap.Efficiency.PerTime),
		int(snap.Level),
		snap.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Latest returns the channel's most recent snapshot.
func (s *Store) Latest(ctx context.Context, channelID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		selectCols+` FROM metric_snapshots WHERE channel_id = ?
		 ORDER BY created_at DESC, cycle DESC LIMIT 1`, channelID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNoSnapshots, channelID)
	}
	return snap, err
}

// History returns the channel's snapshots, most recent first.
// limit <= 0 means no limit.
func (s *Store) History(ctx context.Context, channelID string, limit int) ([]Snapshot, error) {
	q := selectCols + ` FROM metric_snapshots WHERE channel_id = ?
	      ORDER BY created_at DESC, cycle DESC`
	args := []interface{}{channelID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// LatestAll returns the newest snapshot per channel. Snapshots written in
// the same cycle for the same channel (one per goal) tie on created_at; the
// scan order makes the pick deterministic.
func (s *Store) LatestAll(ctx context.Context) (map[string]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		selectCols+` FROM metric_snapshots
		 ORDER BY channel_id, created_at DESC, cycle DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshots: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Snapshot, len(snaps))
	for _, snap := range snaps {
		if _, seen := out[snap.ChannelID]; !seen {
			out[snap.ChannelID] = snap
		}
	}
	return out, nil
}

// #endregion store

// #region scan

const selectCols = `SELECT id, cycle, channel_id, goal_id, window_start, window_end, observations, failures, failure_rate, failure_ucb, mutual_info, capacity, eff_per_cost, eff_per_unit, eff_per_time, level, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snap        Snapshot
		goalID      sql.NullString
		windowStart string
		windowEnd   string
		perCost     sql.NullFloat64
		perUnit     sql.NullFloat64
		perTime     sql.NullFloat64
		level       int
		createdAt   string
	)
	err := row.Scan(&snap.ID, &snap.Cycle, &snap.ChannelID, &goalID,
		&windowStart, &windowEnd, &snap.Observations, &snap.Failures,
		&snap.FailureRate, &snap.FailureUCB, &snap.MutualInfo, &snap.Capacity,
		&perCost, &perUnit, &perTime, &level, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}

	snap.GoalID = goalID.String
	snap.Efficiency = stats.Efficiency{
		PerCost: floatOrUnbounded(perCost),
		PerUnit: floatOrUnbounded(perUnit),
		PerTime: floatOrUnbounded(perTime),
	}
	snap.Level = theta.Level(level)
	for _, f := range []struct {
		raw string
		dst *time.Time
	}{
		{windowStart, &snap.WindowStart},
		{windowEnd, &snap.WindowEnd},
		{createdAt, &snap.CreatedAt},
	} {
		ts, err := time.Parse(time.RFC3339Nano, f.raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse snapshot time: %w", err)
		}
		*f.dst = ts
	}
	return snap, nil
}

func scanSnapshots(rows *sql.Rows) ([]Snapshot, error) {
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfUnbounded(v float64) interface{} {
	if stats.IsUnbounded(v) {
		return nil
	}
	return v
}

func floatOrUnbounded(v sql.NullFloat64) float64 {
	if !v.Valid {
		return stats.Unbounded()
	}
	return v.Float64
}

// #endregion scan
