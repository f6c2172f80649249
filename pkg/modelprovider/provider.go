package modelprovider

import (
	"context"
	"strings"
	"time"
)

// InvokeOptions carries per-call tuning; zero value is a reasonable default.
type InvokeOptions struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Response is a model's output for one invocation.
type Response struct {
	Text     string
	Model    string
	Metadata map[string]any
}

// Usage reports resource consumption for billing/metrics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is the pluggable capability boundary external model SDKs
// implement. External SDKs are out of scope (spec §1); this interface is
// the seam a deployment plugs one into.
type Provider interface {
	// ID is the provider id entries reference (e.g. "openai", "anthropic").
	ID() string
	// Invoke performs the model call for entry, returning a Response/Usage
	// or a provider-specific error for classifyError to interpret.
	Invoke(ctx context.Context, entry Entry, prompt string, opts InvokeOptions) (Response, Usage, error)
}

// EchoProvider is the always-available safe default (spec §4.2): it never
// calls out to anything and never fails, so a Select chain always has a
// terminal entry that succeeds.
type EchoProvider struct{}

// ID implements Provider.
func (EchoProvider) ID() string { return "echo" }

// Invoke implements Provider by echoing the prompt back, truncated to a
// conservative length so a misbehaving caller can't produce an unbounded
// response.
func (EchoProvider) Invoke(_ context.Context, entry Entry, prompt string, _ InvokeOptions) (Response, Usage, error) {
	text := prompt
	const maxEcho = 4096
	if len(text) > maxEcho {
		text = text[:maxEcho]
	}
	return Response{
			Text:     "[echo:" + entry.Name + "] " + strings.TrimSpace(text),
			Model:    entry.Name,
			Metadata: map[string]any{"safe_default": true},
		}, Usage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(text) / 4,
		}, nil
}

// SafeDefaultEntry builds the catalogue Entry for EchoProvider, carrying
// every capability so it always satisfies Select's requirement filter.
func SafeDefaultEntry() Entry {
	return NewEntry("safe-default", "echo", []Capability{
		CapText, CapVision, CapReasoning, CapCode, CapMultimodal, CapLongContext,
	}, 8192, 0)
}
