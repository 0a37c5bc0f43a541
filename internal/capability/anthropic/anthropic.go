// Package anthropic adapts the Anthropic Messages API into a Capability.
// It is the reference adapter for LLM-backed channels: it self-reports real
// token usage, so wrapped invocations never fall back to rate-table
// estimates.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/felixkranz/aps/internal/capability"
	"github.com/felixkranz/aps/internal/usage"
)

// #region options

// Options configures the adapter. Extend via the functional options passed
// to New to preserve call-site stability.
type Options struct {
	Name        string // capability id; defaults to the model id
	Model       anthropic.Model
	MaxTokens   int64
	Temperature float64
	System      string
	APIKey      string
	Rates       *usage.RateTable // prices reported tokens; nil leaves Cost zero
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// #endregion options

// #region capability

type sender func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)

// Capability invokes one model with a fixed system prompt and sampling
// configuration. Wrap distinct channel roles in distinct Capability values.
type Capability struct {
	opts Options
	send sender
}

// New builds the adapter with its own SDK client. Without an explicit API
// key the client falls back to the SDK's environment lookup.
func New(optFns ...func(o *Options)) *Capability {
	c := fromOptions(optFns)

	var clientOpts []option.RequestOption
	if c.opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(c.opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	c.send = func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
		return client.Messages.New(ctx, params)
	}
	return c
}

// FromClient builds the adapter over an existing client, for callers that
// share one client across adapters.
func FromClient(client *anthropic.Client, optFns ...func(o *Options)) *Capability {
	c := fromOptions(optFns)
	c.send = func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
		return client.Messages.New(ctx, params)
	}
	return c
}

func fromOptions(optFns []func(o *Options)) *Capability {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Name == "" {
		opts.Name = string(opts.Model)
	}
	return &Capability{opts: opts}
}

// ID implements capability.Capability.
func (c *Capability) ID() string { return c.opts.Name }

// Invoke sends one user turn and returns the concatenated text blocks. The
// result carries real token usage and the stop reason as a tag.
func (c *Capability) Invoke(ctx context.Context, req capability.Request) (capability.Result, error) {
	prompt, err := promptFrom(req)
	if err != nil {
		return capability.Result{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(c.opts.Temperature)
	}
	if c.opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.opts.System}}
	}

	resp, err := c.send(ctx, params)
	if err != nil {
		return capability.Result{}, fmt.Errorf("anthropic %s: %w", c.opts.Name, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	u := c.usageOf(resp)
	return capability.Result{
		Output: text.String(),
		Usage:  &u,
		Tags:   map[string]string{"stop_reason": string(resp.StopReason)},
	}, nil
}

// #endregion capability

// #region helpers

// promptFrom renders the request into one user turn. A confirm-protocol
// clarification is folded in as a trailing instruction.
func promptFrom(req capability.Request) (string, error) {
	var prompt string
	switch in := req.Input.(type) {
	case string:
		prompt = in
	case fmt.Stringer:
		prompt = in.String()
	default:
		return "", fmt.Errorf("anthropic: unsupported input type %T", req.Input)
	}
	if req.Clarification != "" {
		prompt = prompt + "\n\n" + req.Clarification
	}
	return prompt, nil
}

func (c *Capability) usageOf(resp *anthropic.Message) usage.Usage {
	u := usage.Usage{
		PromptUnits:     resp.Usage.InputTokens,
		CompletionUnits: resp.Usage.OutputTokens,
		TotalUnits:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	if c.opts.Rates != nil {
		u.Cost = c.opts.Rates.Price(c.opts.Name, u.PromptUnits, u.CompletionUnits)
	}
	return u
}

// #endregion helpers
