package aps

import (
	"context"
	"fmt"
)

// #region queries

// LatestMetrics returns the newest metric snapshot per channel. Channels
// that never completed a cycle are absent.
func (s *System) LatestMetrics(ctx context.Context) (map[string]Metrics, error) {
	return s.metrics.LatestAll(ctx)
}

// MetricsHistory returns up to limit snapshots for one channel, newest
// first.
func (s *System) MetricsHistory(ctx context.Context, channelID string, limit int) ([]Metrics, error) {
	return s.metrics.History(ctx, channelID, limit)
}

// CurrentTheta returns the persisted active configuration for a channel.
func (s *System) CurrentTheta(ctx context.Context, channelID string) (ThetaConfig, error) {
	return s.thetas.Active(ctx, channelID)
}

// Thetas lists the configurations declared for one channel, or all of them
// when channelID is empty.
func (s *System) Thetas(ctx context.Context, channelID string) ([]ThetaConfig, error) {
	if channelID == "" {
		return s.thetas.List(ctx)
	}
	return s.thetas.ListForChannel(ctx, channelID)
}

// SwitchTheta applies an operator override on a channel, audited with
// direction manual.
func (s *System) SwitchTheta(ctx context.Context, channelID, thetaID string) error {
	if s.ctrl == nil {
		return fmt.Errorf("switch theta: %w", ErrNoController)
	}
	return s.ctrl.SwitchTheta(ctx, channelID, thetaID)
}

// Bottlenecks returns the weakest channel on each realized path. End-to-end
// capacity cannot exceed the named channel's capacity.
func (s *System) Bottlenecks(ctx context.Context) ([]Bottleneck, error) {
	return s.paths.Bottlenecks(ctx)
}

// Routes returns every distinct realized path with traversal counts.
func (s *System) Routes(ctx context.Context) ([]Route, error) {
	return s.paths.Routes(ctx)
}

// Trace returns the observations recorded under one trace id, oldest first.
func (s *System) Trace(ctx context.Context, traceID string) ([]Observation, error) {
	return s.obs.ByTrace(ctx, traceID)
}

// Escalations returns recent audit records, newest first, optionally
// filtered to one channel.
func (s *System) Escalations(ctx context.Context, channelID string, limit int) ([]Escalation, error) {
	if channelID == "" {
		return s.audit.Recent(ctx, limit)
	}
	return s.audit.ByChannel(ctx, channelID, limit)
}

// CacheContents dumps the stabilization cache.
func (s *System) CacheContents(ctx context.Context) ([]CacheEntry, error) {
	return s.cache.Entries(ctx)
}

// #endregion queries
