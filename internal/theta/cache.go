package theta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// #region schema

const cacheSchema = `
CREATE TABLE IF NOT EXISTS theta_cache (
    channel_id            TEXT NOT NULL,
    fingerprint           TEXT NOT NULL,
    theta_id              TEXT NOT NULL,
    failure_rate_at_cache REAL NOT NULL,
    cached_at             TEXT NOT NULL,
    last_validated        TEXT NOT NULL,
    hit_count             INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (channel_id, fingerprint)
);
`

// #endregion schema

// #region entry

// CacheEntry records a theta that previously stabilized a channel under a
// particular operating context. On a later escalation trigger with the same
// fingerprint the controller applies it directly instead of searching.
type CacheEntry struct {
	ChannelID          string    `json:"channel_id"`
	Fingerprint        string    `json:"fingerprint"`
	ThetaID            string    `json:"theta_id"`
	FailureRateAtCache float64   `json:"failure_rate_at_cache"`
	CachedAt           time.Time `json:"cached_at"`
	LastValidated      time.Time `json:"last_validated"`
	HitCount           int64     `json:"hit_count"`
}

// #endregion entry

// #region cache

// Cache persists stabilization outcomes keyed by (channel, fingerprint).
type Cache struct {
	db *sql.DB
}

// NewCache ensures the cache schema on the shared database handle.
func NewCache(db *sql.DB) (*Cache, error) {
	if _, err := db.Exec(cacheSchema); err != nil {
		return nil, fmt.Errorf("theta cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Put upserts an entry. A re-stabilization under the same fingerprint
// refreshes the stored theta and validation time and resets nothing else
// (the hit counter survives).
func (c *Cache) Put(ctx context.Context, e CacheEntry) error {
	if e.ChannelID == "" || e.Fingerprint == "" || e.ThetaID == "" {
		return errors.New("cache put: channel, fingerprint, and theta id are required")
	}
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now().UTC()
	}
	if e.LastValidated.IsZero() {
		e.LastValidated = e.CachedAt
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO theta_cache
		 (channel_id, fingerprint, theta_id, failure_rate_at_cache, cached_at, last_validated, hit_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id, fingerprint) DO UPDATE SET
		     theta_id = excluded.theta_id,
		     failure_rate_at_cache = excluded.failure_rate_at_cache,
		     last_validated = excluded.last_validated`,
		e.ChannelID,
		e.Fingerprint,
		e.ThetaID,
		e.FailureRateAtCache,
		e.CachedAt.UTC().Format(time.RFC3339Nano),
		e.LastValidated.UTC().Format(time.RFC3339Nano),
		e.HitCount,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Lookup returns the entry for (channel, fingerprint) when it exists and is
// fresh. A stale entry, a missing entry, and a query failure all report
// ok=false: the caller treats every non-hit as a plain miss. The error is
// returned alongside for logging only.
func (c *Cache) Lookup(ctx context.Context, channelID, fingerprint string, now time.Time, staleness time.Duration) (CacheEntry, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT channel_id, fingerprint, theta_id, failure_rate_at_cache, cached_at, last_validated, hit_count
		 FROM theta_cache WHERE channel_id = ? AND fingerprint = ?`,
		channelID, fingerprint)

	e, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("cache lookup: %w", err)
	}

	if now.Sub(e.LastValidated) > staleness {
		return CacheEntry{}, false, nil
	}
	return e, true, nil
}

// Touch bumps the entry's validation time and hit counter after a
// successful application.
func (c *Cache) Touch(ctx context.Context, channelID, fingerprint string, now time.Time) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE theta_cache SET last_validated = ?, hit_count = hit_count + 1
		 WHERE channel_id = ? AND fingerprint = ?`,
		now.UTC().Format(time.RFC3339Nano), channelID, fingerprint)
	if err != nil {
		return fmt.Errorf("cache touch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("cache touch: no entry for (%s, %s)", channelID, fingerprint)
	}
	return nil
}

// Entries lists the whole cache, newest validation first.
func (c *Cache) Entries(ctx context.Context) ([]CacheEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT channel_id, fingerprint, theta_id, failure_rate_at_cache, cached_at, last_validated, hit_count
		 FROM theta_cache ORDER BY last_validated DESC`)
	if err != nil {
		return nil, fmt.Errorf("cache entries: %w", err)
	}
	defer rows.Close()

	var out []CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanCacheEntry(row rowScanner) (CacheEntry, error) {
	var (
		e             CacheEntry
		cachedAt      string
		lastValidated string
	)
	if err := row.Scan(&e.ChannelID, &e.Fingerprint, &e.ThetaID, &e.FailureRateAtCache,
		&cachedAt, &lastValidated, &e.HitCount); err != nil {
		return CacheEntry{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, cachedAt)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("parse cached_at: %w", err)
	}
	e.CachedAt = t

	t, err = time.Parse(time.RFC3339Nano, lastValidated)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("parse last_validated: %w", err)
	}
	e.LastValidated = t

	return e, nil
}

// #endregion cache
