package modelprovider

import (
	"context"
	"errors"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/internal/telemetry"
)

// ProviderError is returned by a Provider.Invoke implementation to signal a
// specific failure category; providers that don't wrap their error this way
// are treated as Fatal by classifyError (spec §4.2: "degrades gracefully
// rather than surfacing provider names to callers").
type ProviderError struct {
	Kind    ProviderErrorKind
	Message string
	cause   error
}

func (e *ProviderError) Error() string { return e.Message }
func (e *ProviderError) Unwrap() error { return e.cause }

// ProviderErrorKind is the closed classification of provider failures
// (spec §4.2).
type ProviderErrorKind string

const (
	Unavailable   ProviderErrorKind = "unavailable"
	Rejected      ProviderErrorKind = "rejected"
	QuotaExceeded ProviderErrorKind = "quota_exceeded"
	Timeout       ProviderErrorKind = "timeout"
	Fatal         ProviderErrorKind = "fatal"
)

// NewProviderError wraps cause with an explicit classification.
func NewProviderError(kind ProviderErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Message: message, cause: cause}
}

func classify(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Fatal
}

// Invoke calls entry's bound Provider, classifying any error into the
// closed taxonomy the dispatcher understands. It does not itself walk the
// fallback chain — callers use InvokeChain for that.
func (r *Registry) Invoke(ctx context.Context, entry Entry, prompt string, opts InvokeOptions) (Response, Usage, error) {
	p, ok := r.providerFor(entry.ProviderID)
	if !ok {
		return Response{}, Usage{}, controlerr.Newf(controlerr.InternalError, "no provider registered for id %q", entry.ProviderID)
	}

	resp, usage, err := p.Invoke(ctx, entry, prompt, opts)
	if err == nil {
		return resp, usage, nil
	}

	kind := classify(err)
	switch kind {
	case Unavailable, Timeout:
		entry.SetAvailable(false)
	case Rejected:
		return resp, usage, controlerr.Wrap(controlerr.ValidationError, err, "model provider rejected the request")
	case QuotaExceeded:
		return resp, usage, controlerr.Wrap(controlerr.QuotaExceeded, err, "model provider quota exceeded")
	}
	return resp, usage, &ProviderError{Kind: kind, Message: err.Error(), cause: err}
}

// InvokeChain walks chain in order, calling Invoke on each entry. On
// Unavailable or Timeout it records a fallback metric and tries the next
// entry; Rejected and Fatal propagate immediately without falling back
// (spec §4.2).
func (r *Registry) InvokeChain(ctx context.Context, chain []Entry, prompt string, opts InvokeOptions) (Response, Usage, error) {
	var lastErr error
	for i, entry := range chain {
		resp, usage, err := r.Invoke(ctx, entry, prompt, opts)
		if err == nil {
			return resp, usage, nil
		}

		var pe *ProviderError
		if errors.As(err, &pe) && (pe.Kind == Unavailable || pe.Kind == Timeout) {
			lastErr = err
			if i+1 < len(chain) {
				telemetry.ModelFallbacksTotal.WithLabelValues(entry.Name, chain[i+1].Name).Inc()
			}
			continue
		}
		return resp, usage, err
	}
	return Response{}, Usage{}, lastErr
}
