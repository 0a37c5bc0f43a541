package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felixkranz/aps/internal/theta"
)

// #region schema

const logSchema = `
CREATE TABLE IF NOT EXISTS escalation_events (
    channel_id      TEXT NOT NULL,
    from_theta      TEXT NOT NULL,
    to_theta        TEXT NOT NULL,
    direction       TEXT NOT NULL,
    from_level      INTEGER NOT NULL,
    to_level        INTEGER NOT NULL,
    trigger_rate    REAL NOT NULL,
    trigger_epsilon REAL NOT NULL,
    goal_id         TEXT,
    cache_hit       INTEGER NOT NULL DEFAULT 0,
    switched_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_escalation_channel_time
    ON escalation_events(channel_id, switched_at);
`

// #endregion schema

// #region log

// Log is the append-only audit trail of theta switches. Rows are never
// updated or deleted.
type Log struct {
	db *sql.DB
}

// NewLog creates the escalation_events table if needed.
func NewLog(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(logSchema); err != nil {
		return nil, fmt.Errorf("init escalation log: %w", err)
	}
	return &Log{db: db}, nil
}

// Append writes one switch record. A zero SwitchedAt is filled with the
// current time.
func (l *Log) Append(ctx context.Context, rec EscalationRecord) error {
	if rec.SwitchedAt.IsZero() {
		rec.SwitchedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO escalation_events (channel_id, from_theta, to_theta, direction, from_level, to_level, trigger_rate, trigger_epsilon, goal_id, cache_hit, switched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ChannelID,
		rec.FromTheta,
		rec.ToTheta,
		rec.Direction,
		int(rec.FromLevel),
		int(rec.ToLevel),
		rec.TriggerRate,
		rec.TriggerEpsilon,
		nullIfEmpty(rec.GoalID),
		boolToInt(rec.CacheHit),
		rec.SwitchedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append escalation: %w", err)
	}
	return nil
}

// ByChannel returns the channel's switch history, most recent first.
// limit <= 0 means no limit.
func (l *Log) ByChannel(ctx context.Context, channelID string, limit int) ([]EscalationRecord, error) {
	q := `SELECT channel_id, from_theta, to_theta, direction, from_level, to_level, trigger_rate, trigger_epsilon, goal_id, cache_hit, switched_at
	      FROM escalation_events WHERE channel_id = ? ORDER BY switched_at DESC`
	args := []interface{}{channelID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns the newest switch records across all channels.
func (l *Log) Recent(ctx context.Context, limit int) ([]EscalationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT channel_id, from_theta, to_theta, direction, from_level, to_level, trigger_rate, trigger_epsilon, goal_id, cache_hit, switched_at
		 FROM escalation_events ORDER BY switched_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// #endregion log

// #region helpers

func scanRecords(rows *sql.Rows) ([]EscalationRecord, error) {
	var out []EscalationRecord
	for rows.Next() {
		var (
			rec        EscalationRecord
			fromLevel  int
			toLevel    int
			goalID     sql.NullString
			cacheHit   int
			switchedAt string
		)
		if err := rows.Scan(&rec.ChannelID, &rec.FromTheta, &rec.ToTheta, &rec.Direction,
			&fromLevel, &toLevel, &rec.TriggerRate, &rec.TriggerEpsilon,
			&goalID, &cacheHit, &switchedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		rec.FromLevel = theta.Level(fromLevel)
		rec.ToLevel = theta.Level(toLevel)
		rec.GoalID = goalID.String
		rec.CacheHit = cacheHit != 0
		ts, err := time.Parse(time.RFC3339Nano, switchedAt)
		if err != nil {
			return nil, fmt.Errorf("parse switched_at: %w", err)
		}
		rec.SwitchedAt = ts
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
