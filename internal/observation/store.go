package observation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/felixkranz/aps/internal/partition"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS observations (
    id               TEXT PRIMARY KEY,
    channel_id       TEXT NOT NULL,
    theta_id         TEXT,
    sigma_in         TEXT NOT NULL,
    sigma_out        TEXT NOT NULL,
    observed_at      TEXT NOT NULL,
    latency_ms       INTEGER NOT NULL DEFAULT 0,
    cost             REAL NOT NULL DEFAULT 0,
    prompt_units     INTEGER NOT NULL DEFAULT 0,
    completion_units INTEGER NOT NULL DEFAULT 0,
    total_units      INTEGER NOT NULL DEFAULT 0,
    estimated        INTEGER NOT NULL DEFAULT 0,
    capability_id    TEXT,
    trace_id         TEXT,
    path_id          TEXT,
    metadata_json    TEXT
);

CREATE INDEX IF NOT EXISTS idx_observations_channel_time
    ON observations(channel_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_observations_trace ON observations(trace_id);
CREATE INDEX IF NOT EXISTS idx_observations_path ON observations(path_id);
`

// #endregion schema

// #region store-interface

// Store is the append-only observation log. The wrapper writes, the
// controller and query surface read. Time windows are half-open:
// since <= observed_at < until.
type Store interface {
	Append(ctx context.Context, obs Observation) error
	ByChannel(ctx context.Context, channelID string, since, until time.Time) ([]Observation, error)
	ByTrace(ctx context.Context, traceID string) ([]Observation, error)
	ByWindow(ctx context.Context, since, until time.Time) ([]Observation, error)
}

// #endregion store-interface

// #region sqlite-store

// SQLiteStore persists observations in SQLite. It owns the database handle
// and hands it to the sibling stores (theta, metric, events, pathgraph)
// via DB().
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// observations schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreWithDB wraps an existing handle (used by binaries that open
// the database once) and ensures the schema.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for sibling stores sharing the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// #endregion sqlite-store

// #region append

// Append inserts one observation. An empty ID is assigned a fresh UUID.
func (s *SQLiteStore) Append(ctx context.Context, obs Observation) error {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}

	var metadataJSON any
	if len(obs.Metadata) > 0 {
		data, err := json.Marshal(obs.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations
		 (id, channel_id, theta_id, sigma_in, sigma_out, observed_at, latency_ms,
		  cost, prompt_units, completion_units, total_units, estimated,
		  capability_id, trace_id, path_id, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID,
		obs.ChannelID,
		nullIfEmpty(obs.ThetaID),
		string(obs.SigmaIn),
		string(obs.SigmaOut),
		obs.ObservedAt.UTC().Format(time.RFC3339Nano),
		obs.Latency.Milliseconds(),
		obs.Usage.Cost,
		obs.Usage.PromptUnits,
		obs.Usage.CompletionUnits,
		obs.Usage.TotalUnits,
		boolToInt(obs.Usage.Estimated),
		nullIfEmpty(obs.CapabilityID),
		nullIfEmpty(obs.TraceID),
		nullIfEmpty(obs.PathID),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// #endregion append

// #region queries

const selectColumns = `id, channel_id, theta_id, sigma_in, sigma_out, observed_at,
	latency_ms, cost, prompt_units, completion_units, total_units, estimated,
	capability_id, trace_id, path_id, metadata_json`

// ByChannel returns the channel's observations in [since, until), ascending.
func (s *SQLiteStore) ByChannel(ctx context.Context, channelID string, since, until time.Time) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM observations
		 WHERE channel_id = ? AND observed_at >= ? AND observed_at < ?
		 ORDER BY observed_at ASC`,
		channelID,
		since.UTC().Format(time.RFC3339Nano),
		until.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query by channel: %w", err)
	}
	return scanObservations(rows)
}

// ByTrace returns every observation correlated to one trace, ascending.
func (s *SQLiteStore) ByTrace(ctx context.Context, traceID string) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM observations
		 WHERE trace_id = ? ORDER BY observed_at ASC`,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query by trace: %w", err)
	}
	return scanObservations(rows)
}

// ByWindow returns all observations in [since, until) across channels,
// ascending. The controller's path/bottleneck pass uses this.
func (s *SQLiteStore) ByWindow(ctx context.Context, since, until time.Time) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM observations
		 WHERE observed_at >= ? AND observed_at < ?
		 ORDER BY observed_at ASC`,
		since.UTC().Format(time.RFC3339Nano),
		until.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query by window: %w", err)
	}
	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			o            Observation
			thetaID      sql.NullString
			observedAt   string
			latencyMS    int64
			estimated    int
			capabilityID sql.NullString
			traceID      sql.NullString
			pathID       sql.NullString
			metadataJSON sql.NullString
			sigmaIn      string
			sigmaOut     string
		)
		if err := rows.Scan(
			&o.ID, &o.ChannelID, &thetaID, &sigmaIn, &sigmaOut, &observedAt,
			&latencyMS, &o.Usage.Cost, &o.Usage.PromptUnits, &o.Usage.CompletionUnits,
			&o.Usage.TotalUnits, &estimated, &capabilityID, &traceID, &pathID,
			&metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}

		o.SigmaIn = partition.Symbol(sigmaIn)
		o.SigmaOut = partition.Symbol(sigmaOut)
		o.ThetaID = thetaID.String
		o.CapabilityID = capabilityID.String
		o.TraceID = traceID.String
		o.PathID = pathID.String
		o.Latency = time.Duration(latencyMS) * time.Millisecond
		o.Usage.Estimated = estimated != 0

		t, err := time.Parse(time.RFC3339Nano, observedAt)
		if err != nil {
			return nil, fmt.Errorf("parse observed_at %q: %w", observedAt, err)
		}
		o.ObservedAt = t

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &o.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
		}

		out = append(out, o)
	}
	return out, rows.Err()
}

// #endregion queries

// #region helpers

func nullIfEmpty(s string) any {
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
