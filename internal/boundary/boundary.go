// Package boundary is the instrumentation middleware. Wrapping a capability
// inserts the full observation pipeline around every invocation: classify
// input and output against the channel's partition scheme, run the active
// theta's regeneration protocol, account resource usage, and append one
// observation per attempt. The wrapped capability's own result and error
// always pass through; no failure inside the pipeline ever reaches the
// caller.
package boundary

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/felixkranz/aps/internal/capability"
	"github.com/felixkranz/aps/internal/clock"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/logging"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/regen"
	"github.com/felixkranz/aps/internal/theta"
	"github.com/felixkranz/aps/internal/usage"
)

// #region wrapper

// Config wires a Wrapper. Schemes, Registry and Store are required; Regen,
// Bus and Rates are optional.
type Config struct {
	Schemes     *partition.Registry
	Registry    *theta.Registry
	Regen       *regen.Engine
	Store       observation.Store
	Bus         *events.Broadcaster
	Rates       *usage.RateTable
	Clock       clock.Clock
	Logger      logging.Logger
	Granularity partition.Granularity // scheme granularity used for classification; default coarse
}

// Wrapper produces instrumented capabilities. One Wrapper serves all
// channels; Wrap binds it to one.
type Wrapper struct {
	schemes     *partition.Registry
	registry    *theta.Registry
	regen       *regen.Engine
	store       observation.Store
	bus         *events.Broadcaster
	rates       *usage.RateTable
	clk         clock.Clock
	log         logging.Logger
	granularity partition.Granularity
}

// NewWrapper validates the wiring and returns a Wrapper.
func NewWrapper(cfg Config) (*Wrapper, error) {
	switch {
	case cfg.Schemes == nil:
		return nil, errors.New("boundary: nil scheme registry")
	case cfg.Registry == nil:
		return nil, errors.New("boundary: nil theta registry")
	case cfg.Store == nil:
		return nil, errors.New("boundary: nil observation store")
	}

	gran := cfg.Granularity
	if gran == "" {
		gran = partition.GranularityCoarse
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}

	return &Wrapper{
		schemes:     cfg.Schemes,
		registry:    cfg.Registry,
		regen:       cfg.Regen,
		store:       cfg.Store,
		bus:         cfg.Bus,
		rates:       cfg.Rates,
		clk:         clk,
		log:         logging.Or(cfg.Logger),
		granularity: gran,
	}, nil
}

// Wrap returns target instrumented as the given channel. The returned value
// keeps target's ID.
func (w *Wrapper) Wrap(channelID string, target capability.Capability) capability.Capability {
	return &wrapped{w: w, channel: channelID, target: target}
}

// #endregion wrapper

// #region invoke

type wrapped struct {
	w       *Wrapper
	channel string
	target  capability.Capability
}

func (c *wrapped) ID() string { return c.target.ID() }

// Invoke runs the boundary pipeline. The wrapped capability is invoked
// unconditionally and its result and error propagate unmodified apart from
// tags and the extended path id.
func (c *wrapped) Invoke(ctx context.Context, req capability.Request) (capability.Result, error) {
	cfg, okTheta := c.w.registry.Active(c.channel)
	scheme, schemeErr := c.w.schemes.ForChannel(c.channel, c.w.granularity)
	if !okTheta || schemeErr != nil {
		c.w.log.Warn("channel not instrumented; invoking directly",
			"channel", c.channel, "capability", c.target.ID(),
			"active_theta", okTheta, "scheme_error", schemeErr)
		return c.target.Invoke(ctx, req)
	}

	sigmaIn := scheme.ClassifyInput(req.Input)

	// Fresh accumulator per logical execution, so concurrent invocations
	// never share accounting.
	ctx, tracker := usage.NewContext(ctx)

	req.TraceID = c.ensureTrace(ctx, req.TraceID)
	req.PathID = extendPath(c.parentPath(ctx, req.PathID), c.channel)
	ctx = capability.WithTrace(capability.WithPath(ctx, req.PathID), req.TraceID)

	start := c.w.clk.Now()
	res, err := c.target.Invoke(ctx, req)
	end := c.w.clk.Now()

	att := regen.Attempt{
		Number: 1,
		Req:    req,
		Res:    res,
		Err:    err,
		Symbol: scheme.ClassifyOutput(res.Output, err),
	}

	switch {
	case cfg.Protocol == theta.ProtocolConfirm && c.w.regen != nil:
		if scheme.IsFailure(att.Symbol) {
			// The first attempt gets its own observation; the retry below
			// accounts separately.
			c.emit(ctx, att, cfg, sigmaIn, end, end.Sub(start), tracker.Snapshot())
			tracker.Reset()
			start = c.w.clk.Now()
			if retry, ran := c.w.regen.Confirm(ctx, c.target, att, scheme); ran {
				att = retry
			}
			end = c.w.clk.Now()
		}
	case cfg.Protocol == theta.ProtocolCrosscheck && c.w.regen != nil:
		att = c.w.regen.Crosscheck(ctx, c.channel, att)
	case cfg.Protocol != theta.ProtocolPassive && c.w.regen == nil:
		c.w.log.Warn("theta demands a protocol but no regen engine is wired",
			"channel", c.channel, "protocol", string(cfg.Protocol))
	}

	c.emit(ctx, att, cfg, sigmaIn, end, end.Sub(start), tracker.Snapshot())

	att.Res.PathID = req.PathID
	return att.Res, att.Err
}

func (c *wrapped) ensureTrace(ctx context.Context, fromReq string) string {
	if fromReq != "" {
		return fromReq
	}
	if id := capability.TraceFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func (c *wrapped) parentPath(ctx context.Context, fromReq string) string {
	if fromReq != "" {
		return fromReq
	}
	return capability.PathFromContext(ctx)
}

func extendPath(parent, channelID string) string {
	if parent == "" {
		return channelID
	}
	return parent + "/" + channelID
}

// #endregion invoke

// #region emit

// emit resolves usage for one attempt and appends its observation. A failed
// append drops the observation with a warning and nothing else.
func (c *wrapped) emit(ctx context.Context, att regen.Attempt, cfg theta.Config, sigmaIn partition.Symbol, at time.Time, latency time.Duration, tracked usage.Usage) {
	o := observation.Observation{
		ID:           uuid.NewString(),
		ChannelID:    c.channel,
		ThetaID:      cfg.ID,
		SigmaIn:      sigmaIn,
		SigmaOut:     att.Symbol,
		ObservedAt:   at,
		Latency:      latency,
		Usage:        c.resolveUsage(att.Res, tracked),
		CapabilityID: c.target.ID(),
		TraceID:      att.Req.TraceID,
		PathID:       att.Req.PathID,
		Metadata:     attemptMetadata(att),
	}

	if err := c.w.store.Append(ctx, o); err != nil {
		c.w.log.Warn("observation append failed; dropped",
			"channel", c.channel, "trace", o.TraceID, "error", err)
	}
	if c.w.bus != nil {
		c.w.bus.Publish(events.Event{
			Kind:        events.KindObservation,
			ChannelID:   c.channel,
			At:          at,
			Observation: &o,
		})
	}
}

// resolveUsage applies the accounting ladder: what the result reports wins,
// then what the capability tracked mid-flight, then a rate-table estimate.
func (c *wrapped) resolveUsage(res capability.Result, tracked usage.Usage) usage.Usage {
	if res.Usage != nil {
		return *res.Usage
	}
	if tracked != (usage.Usage{}) {
		return tracked
	}
	if c.w.rates != nil {
		return c.w.rates.Estimate(c.target.ID())
	}
	return usage.Usage{Estimated: true}
}

func attemptMetadata(att regen.Attempt) map[string]string {
	md := make(map[string]string, len(att.Res.Tags)+2)
	for k, v := range att.Res.Tags {
		md[k] = v
	}
	md["attempt"] = strconv.Itoa(att.Number)
	if att.Err != nil {
		md["error"] = att.Err.Error()
	}
	return md
}

// #endregion emit
