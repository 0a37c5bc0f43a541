package pathgraph

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/felixkranz/aps/internal/stats"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS path_routes (
    path_id     TEXT PRIMARY KEY,
    traversals  INTEGER NOT NULL DEFAULT 0,
    last_seen   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS path_links (
    from_channel TEXT NOT NULL,
    to_channel   TEXT NOT NULL,
    traversals   INTEGER NOT NULL DEFAULT 0,
    last_seen    TEXT NOT NULL,
    PRIMARY KEY (from_channel, to_channel)
);

CREATE TABLE IF NOT EXISTS path_nodes (
    channel_id  TEXT PRIMARY KEY,
    capacity    REAL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_links_from ON path_links(from_channel);
`

// #endregion schema

// #region types

// Link is one observed hop between two channels.
type Link struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Traversals int64     `json:"traversals"`
	LastSeen   time.Time `json:"last_seen"`
}

// Node is a channel that appeared on at least one realized path, with the
// capacity last computed for it (HasCapacity false until a cycle ran).
type Node struct {
	ChannelID   string    `json:"channel_id"`
	Capacity    float64   `json:"capacity_bits"`
	HasCapacity bool      `json:"has_capacity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Route is one distinct realized path.
type Route struct {
	PathID     string    `json:"path_id"`
	Traversals int64     `json:"traversals"`
	LastSeen   time.Time `json:"last_seen"`
}

// PathBottleneck names the weakest channel on a realized path. End-to-end
// capacity cannot exceed its capacity.
type PathBottleneck struct {
	PathID     string    `json:"path_id"`
	Traversals int64     `json:"traversals"`
	ChannelID  string    `json:"channel_id"`
	Capacity   float64   `json:"capacity_bits"`
	LastSeen   time.Time `json:"last_seen"`
}

// Store persists the realized-path graph.
type Store struct {
	db *sql.DB
}

// #endregion types

// #region constructor

// NewStore creates the path tables if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("path graph schema: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region segments

// Segments splits a path id into its channel hops. Empty segments are
// dropped, so "a//b" and "a/b" walk the same route.
func Segments(pathID string) []string {
	parts := strings.Split(pathID, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// #endregion segments

// #region record

// RecordPath registers one traversal of the given realized path: the route
// counter, every hop's link counter, and a node row per channel.
func (s *Store) RecordPath(ctx context.Context, pathID string, at time.Time) error {
	segs := Segments(pathID)
	if len(segs) == 0 {
		return nil
	}
	ts := at.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record path: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO path_routes (path_id, traversals, last_seen) VALUES (?, 1, ?)
		 ON CONFLICT(path_id) DO UPDATE SET
		   traversals = traversals + 1,
		   last_seen = excluded.last_seen`,
		strings.Join(segs, "/"), ts); err != nil {
		return fmt.Errorf("record route: %w", err)
	}

	for _, seg := range segs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO path_nodes (channel_id, capacity, updated_at) VALUES (?, NULL, ?)
			 ON CONFLICT(channel_id) DO NOTHING`, seg, ts); err != nil {
			return fmt.Errorf("record node %s: %w", seg, err)
		}
	}

	for i := 0; i+1 < len(segs); i++ {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO path_links (from_channel, to_channel, traversals, last_seen) VALUES (?, ?, 1, ?)
			 ON CONFLICT(from_channel, to_channel) DO UPDATE SET
			   traversals = traversals + 1,
			   last_seen = excluded.last_seen`,
			segs[i], segs[i+1], ts); err != nil {
			return fmt.Errorf("record link %s->%s: %w", segs[i], segs[i+1], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record path: %w", err)
	}
	return nil
}

// SetCapacity stores the capacity last computed for a channel. Channels are
// created on first sight so capacities can arrive before traffic.
func (s *Store) SetCapacity(ctx context.Context, channelID string, bits float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO path_nodes (channel_id, capacity, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		   capacity = excluded.capacity,
		   updated_at = excluded.updated_at`,
		channelID, bits, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set capacity %s: %w", channelID, err)
	}
	return nil
}

// #endregion record

// #region queries

// Links returns every observed hop, busiest first.
func (s *Store) Links(ctx context.Context) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_channel, to_channel, traversals, last_seen
		 FROM path_links ORDER BY traversals DESC, from_channel ASC, to_channel ASC`)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Nodes returns every channel seen on a path.
func (s *Store) Nodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, capacity, updated_at FROM path_nodes ORDER BY channel_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var (
			n         Node
			capacity  sql.NullFloat64
			updatedAt string
		)
		if err := rows.Scan(&n.ChannelID, &capacity, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Capacity = capacity.Float64
		n.HasCapacity = capacity.Valid
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse node time: %w", err)
		}
		n.UpdatedAt = ts
		out = append(out, n)
	}
	return out, rows.Err()
}

// Routes returns every distinct realized path, busiest first.
func (s *Store) Routes(ctx context.Context) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path_id, traversals, last_seen
		 FROM path_routes ORDER BY traversals DESC, path_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var (
			r        Route
			lastSeen string
		)
		if err := rows.Scan(&r.PathID, &r.Traversals, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("parse route time: %w", err)
		}
		r.LastSeen = ts
		out = append(out, r)
	}
	return out, rows.Err()
}

// Bottlenecks reports, per realized path, the channel with the lowest
// last-computed capacity. Paths whose channels have no capacities yet are
// skipped.
func (s *Store) Bottlenecks(ctx context.Context) ([]PathBottleneck, error) {
	routes, err := s.Routes(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := s.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	capacities := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		if n.HasCapacity {
			capacities[n.ChannelID] = n.Capacity
		}
	}

	var out []PathBottleneck
	for _, route := range routes {
		onPath := make(map[string]float64)
		for _, seg := range Segments(route.PathID) {
			if c, ok := capacities[seg]; ok {
				onPath[seg] = c
			}
		}
		channel, bits, ok := stats.Bottleneck(onPath)
		if !ok {
			continue
		}
		out = append(out, PathBottleneck{
			PathID:     route.PathID,
			Traversals: route.Traversals,
			ChannelID:  channel,
			Capacity:   bits,
			LastSeen:   route.LastSeen,
		})
	}
	return out, nil
}

// #endregion queries

// #region walk

// Walk does a breadth-first traversal of the link graph from root, following
// the busiest links first, up to maxHops (default 5). Returns the links in
// visit order.
func (s *Store) Walk(ctx context.Context, root string, maxHops int) ([]Link, error) {
	if maxHops <= 0 {
		maxHops = 5
	}

	type queueItem struct {
		id   string
		hops int
	}
	visited := map[string]bool{root: true}
	queue := []queueItem{{root, 0}}
	var out []Link

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.hops >= maxHops {
			continue
		}

		next, err := s.outgoing(ctx, current.id)
		if err != nil {
			return out, fmt.Errorf("walk %s: %w", current.id, err)
		}
		for _, link := range next {
			if visited[link.To] {
				continue
			}
			visited[link.To] = true
			out = append(out, link)
			queue = append(queue, queueItem{link.To, current.hops + 1})
		}
	}
	return out, nil
}

func (s *Store) outgoing(ctx context.Context, from string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_channel, to_channel, traversals, last_seen
		 FROM path_links WHERE from_channel = ?
		 ORDER BY traversals DESC, to_channel ASC`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// #endregion walk

// #region helpers

func scanLink(rows *sql.Rows) (Link, error) {
	var (
		l        Link
		lastSeen string
	)
	if err := rows.Scan(&l.From, &l.To, &l.Traversals, &lastSeen); err != nil {
		return Link{}, fmt.Errorf("scan link: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return Link{}, fmt.Errorf("parse link time: %w", err)
	}
	l.LastSeen = ts
	return l, nil
}

// #endregion helpers
