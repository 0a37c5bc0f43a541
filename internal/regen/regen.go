// Package regen implements the two regeneration protocols the controller can
// arm on a channel: confirm (retry a classified failure once, with a
// clarification) and crosscheck (validate every result and mark the ones
// that fail). Protocol selection belongs to the active theta; this package
// only executes.
package regen

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixkranz/aps/internal/capability"
	"github.com/felixkranz/aps/internal/logging"
	"github.com/felixkranz/aps/internal/partition"
)

// #region types

// Attempt is one capability invocation as the protocols see it: the request
// that went in, what came back, and the symbol it classified to.
type Attempt struct {
	Number int // 1-based
	Req    capability.Request
	Res    capability.Result
	Err    error
	Symbol partition.Symbol
	Retry  bool
}

// Validator checks a result against an independent source. Implementations
// must be pure and idempotent; an auxiliary read goes through the context's
// AuxBudget (limit one per validation).
type Validator interface {
	Validate(ctx context.Context, req capability.Request, res capability.Result) (ok bool, detail string, err error)
}

// FuncValidator adapts a plain function into a Validator.
type FuncValidator func(ctx context.Context, req capability.Request, res capability.Result) (bool, string, error)

func (f FuncValidator) Validate(ctx context.Context, req capability.Request, res capability.Result) (bool, string, error) {
	return f(ctx, req, res)
}

// #endregion types

// #region engine

// Engine holds per-channel validators and runs the protocols.
type Engine struct {
	mu         sync.RWMutex
	validators map[string]Validator
	log        logging.Logger
}

// NewEngine creates an Engine. logger may be nil.
func NewEngine(logger logging.Logger) *Engine {
	return &Engine{
		validators: make(map[string]Validator),
		log:        logging.Or(logger),
	}
}

// RegisterValidator installs the crosscheck validator for a channel,
// replacing any previous one.
func (e *Engine) RegisterValidator(channelID string, v Validator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validators[channelID] = v
}

func (e *Engine) validator(channelID string) (Validator, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.validators[channelID]
	return v, ok
}

// #endregion engine

// #region confirm

// Confirm runs the level-1 protocol: when the first attempt classified to a
// declared failure symbol, re-invoke once with a clarification naming it and
// re-classify. Returns the retry attempt and true when a retry ran; the
// caller logs both attempts and hands the retry's result to its caller.
func (e *Engine) Confirm(ctx context.Context, target capability.Capability, first Attempt, scheme partition.Scheme) (Attempt, bool) {
	if !scheme.IsFailure(first.Symbol) {
		return Attempt{}, false
	}

	req := first.Req
	req.Clarification = fmt.Sprintf(
		"The previous attempt was rejected as %q. Produce a response that avoids that failure mode.",
		first.Symbol)
	req.Metadata = cloneWith(req.Metadata, "attempt", "2")

	e.log.Debug("confirm retry",
		"capability", target.ID(),
		"channel", scheme.ChannelID,
		"failure_symbol", string(first.Symbol))

	res, err := target.Invoke(ctx, req)
	return Attempt{
		Number: first.Number + 1,
		Req:    req,
		Res:    res,
		Err:    err,
		Symbol: scheme.ClassifyOutput(res.Output, err),
		Retry:  true,
	}, true
}

// #endregion confirm

// #region crosscheck

// Crosscheck runs the level-2 protocol: validate the attempt's result with
// the channel's registered validator. A failed validation tags the result
// and overrides the symbol to crosscheck_failed; the output itself is never
// altered or discarded. A validator error means regeneration is unavailable
// and the original classification stands.
func (e *Engine) Crosscheck(ctx context.Context, channelID string, att Attempt) Attempt {
	v, ok := e.validator(channelID)
	if !ok {
		e.log.Debug("crosscheck without validator", "channel", channelID)
		return att
	}

	ok, detail, err := v.Validate(WithBudget(ctx), att.Req, att.Res)
	if err != nil {
		e.log.Warn("crosscheck validator error; original classification stands",
			"channel", channelID, "error", err)
		return att
	}
	if ok {
		return att
	}

	att.Res = att.Res.Tag("crosscheck", "failed")
	if detail != "" {
		att.Res = att.Res.Tag("crosscheck_detail", detail)
	}
	att.Symbol = partition.SymbolCrosscheckFailed
	return att
}

// #endregion crosscheck

// #region helpers

func cloneWith(m map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}

// #endregion helpers
