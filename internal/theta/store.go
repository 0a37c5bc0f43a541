package theta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a theta config id is unknown.
var ErrNotFound = errors.New("theta config not found")

// ErrNoActiveTheta is returned when a channel has no active pointer yet.
var ErrNoActiveTheta = errors.New("no active theta for channel")

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS theta_configs (
    id                  TEXT PRIMARY KEY,
    channel_id          TEXT NOT NULL,
    level               INTEGER NOT NULL,
    partition_id        TEXT NOT NULL,
    capability_override TEXT,
    protocol            TEXT NOT NULL,
    created_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_theta_configs_channel
    ON theta_configs(channel_id, level);

CREATE TABLE IF NOT EXISTS active_theta (
    channel_id  TEXT PRIMARY KEY,
    theta_id    TEXT NOT NULL,
    switched_at TEXT NOT NULL,
    FOREIGN KEY (theta_id) REFERENCES theta_configs(id)
);
`

// #endregion schema

// #region store

// Store persists theta configurations and the per-channel active pointer in
// SQLite. Activation is transactional: from any reader's perspective a
// channel switches from one config to the next with nothing in between.
type Store struct {
	db *sql.DB
}

// NewStore ensures the theta schema on the shared database handle.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("theta schema: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion store

// #region save

// Save upserts a theta config.
func (s *Store) Save(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO theta_configs (id, channel_id, level, partition_id, capability_override, protocol, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     channel_id = excluded.channel_id,
		     level = excluded.level,
		     partition_id = excluded.partition_id,
		     capability_override = excluded.capability_override,
		     protocol = excluded.protocol`,
		cfg.ID,
		cfg.ChannelID,
		int(cfg.Level),
		cfg.PartitionID,
		nullIfEmpty(cfg.CapabilityOverride),
		string(cfg.Protocol),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save theta %q: %w", cfg.ID, err)
	}
	return nil
}

// #endregion save

// #region lookup

// Get returns the config with the given id.
func (s *Store) Get(ctx context.Context, id string) (Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, level, partition_id, capability_override, protocol
		 FROM theta_configs WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, fmt.Errorf("theta %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Config{}, fmt.Errorf("get theta %q: %w", id, err)
	}
	return cfg, nil
}

// ListForChannel returns the channel's configs ordered by level.
func (s *Store) ListForChannel(ctx context.Context, channelID string) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, level, partition_id, capability_override, protocol
		 FROM theta_configs WHERE channel_id = ? ORDER BY level ASC, id ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list thetas for %q: %w", channelID, err)
	}
	return scanConfigs(rows)
}

// List returns every stored config, ordered by channel then level. The
// registry loads its snapshot through this at startup.
func (s *Store) List(ctx context.Context) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, level, partition_id, capability_override, protocol
		 FROM theta_configs ORDER BY channel_id ASC, level ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list thetas: %w", err)
	}
	return scanConfigs(rows)
}

// #endregion lookup

// #region activate

// Activate points the channel's active entry at thetaID in one transaction.
// The config must exist and belong to the channel.
func (s *Store) Activate(ctx context.Context, channelID, thetaID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT channel_id FROM theta_configs WHERE id = ?`, thetaID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("activate %q: %w", thetaID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("activate %q: %w", thetaID, err)
	}
	if owner != channelID {
		return fmt.Errorf("activate %q: config belongs to channel %q, not %q", thetaID, owner, channelID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_theta (channel_id, theta_id, switched_at) VALUES (?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		     theta_id = excluded.theta_id,
		     switched_at = excluded.switched_at`,
		channelID, thetaID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set active theta: %w", err)
	}

	return tx.Commit()
}

// ActiveID returns the channel's active theta id.
func (s *Store) ActiveID(ctx context.Context, channelID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT theta_id FROM active_theta WHERE channel_id = ?`, channelID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("channel %q: %w", channelID, ErrNoActiveTheta)
	}
	if err != nil {
		return "", fmt.Errorf("active theta for %q: %w", channelID, err)
	}
	return id, nil
}

// Active returns the channel's active config.
func (s *Store) Active(ctx context.Context, channelID string) (Config, error) {
	id, err := s.ActiveID(ctx, channelID)
	if err != nil {
		return Config{}, err
	}
	return s.Get(ctx, id)
}

// ActiveAll returns the active config per channel, for registry loading.
func (s *Store) ActiveAll(ctx context.Context) (map[string]Config, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.channel_id, c.level, c.partition_id, c.capability_override, c.protocol
		 FROM active_theta a JOIN theta_configs c ON c.id = a.theta_id`)
	if err != nil {
		return nil, fmt.Errorf("active thetas: %w", err)
	}
	cfgs, err := scanConfigs(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Config, len(cfgs))
	for _, cfg := range cfgs {
		out[cfg.ChannelID] = cfg
	}
	return out, nil
}

// #endregion activate

// #region helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (Config, error) {
	var (
		cfg      Config
		level    int
		override sql.NullString
		protocol string
	)
	if err := row.Scan(&cfg.ID, &cfg.ChannelID, &level, &cfg.PartitionID, &override, &protocol); err != nil {
		return Config{}, err
	}
	cfg.Level = Level(level)
	cfg.CapabilityOverride = override.String
	cfg.Protocol = Protocol(protocol)
	return cfg, nil
}

func scanConfigs(rows *sql.Rows) ([]Config, error) {
	defer rows.Close()
	var out []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan theta: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
