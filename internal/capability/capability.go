// Package capability defines the unit the wrapper instruments: a named
// operation that turns a request into a result. Implementations live at the
// edges (LLM adapters, tool calls, retrieval backends); everything in this
// module only sees the interface.
package capability

import (
	"context"

	"github.com/felixkranz/aps/internal/usage"
)

// #region interface

// Capability is one invocable operation on a channel.
type Capability interface {
	ID() string
	Invoke(ctx context.Context, req Request) (Result, error)
}

// #endregion interface

// #region request-result

// Request carries the input plus the instrumentation envelope. Clarification
// is set only on confirm-protocol retries; capabilities that can use it
// should fold it into their prompt or arguments, and ones that cannot may
// ignore it.
type Request struct {
	Input         any
	Clarification string
	TraceID       string
	PathID        string
	Metadata      map[string]string
}

// Result carries the output plus whatever the capability can self-report.
// Usage, when set, wins over tracker accumulation and rate-table estimates.
// Tags are free-form annotations; the crosscheck protocol adds its verdict
// here without touching Output.
type Result struct {
	Output any
	Usage  *usage.Usage
	Tags   map[string]string
	PathID string
}

// Tag returns a copy of the result with the tag applied. The original's tag
// map is never mutated, so retries and validators can annotate concurrently
// held results safely.
func (r Result) Tag(key, value string) Result {
	tags := make(map[string]string, len(r.Tags)+1)
	for k, v := range r.Tags {
		tags[k] = v
	}
	tags[key] = value
	r.Tags = tags
	return r
}

// #endregion request-result

// #region func

// Func adapts a plain function into a Capability.
type Func struct {
	Name string
	Fn   func(ctx context.Context, req Request) (Result, error)
}

func (f Func) ID() string { return f.Name }

func (f Func) Invoke(ctx context.Context, req Request) (Result, error) {
	return f.Fn(ctx, req)
}

// #endregion func
