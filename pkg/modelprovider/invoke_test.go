package modelprovider

import (
	"context"
	"errors"
	"testing"

	"github.com/meridianai/controlplane/internal/controlerr"
)

// fakeProvider returns a canned error (or succeeds) on every Invoke call,
// recording how many times it was called.
type fakeProvider struct {
	id    string
	err   error
	calls int
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Invoke(_ context.Context, entry Entry, prompt string, _ InvokeOptions) (Response, Usage, error) {
	f.calls++
	if f.err != nil {
		return Response{}, Usage{}, f.err
	}
	return Response{Text: "ok from " + entry.Name, Model: entry.Name}, Usage{}, nil
}

func registryWithProviders(t *testing.T, providers ...*fakeProvider) *Registry {
	t.Helper()
	r := NewRegistry()
	echo := EchoProvider{}
	r.RegisterProvider(echo)
	r.RegisterSafeDefault(SafeDefaultEntry())
	for _, p := range providers {
		r.RegisterProvider(p)
	}
	return r
}

func TestInvoke_Success(t *testing.T) {
	fp := &fakeProvider{id: "flaky"}
	r := registryWithProviders(t, fp)
	entry := NewEntry("m1", "flaky", []Capability{CapText}, 4096, 1.0)
	r.Register(entry)

	resp, _, err := r.Invoke(context.Background(), entry, "hello", InvokeOptions{})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "ok from m1" {
		t.Errorf("resp.Text = %q", resp.Text)
	}
}

func TestInvoke_UnavailableFlipsEntryAvailability(t *testing.T) {
	fp := &fakeProvider{id: "flaky", err: NewProviderError(Unavailable, "down", nil)}
	r := registryWithProviders(t, fp)
	entry := NewEntry("m1", "flaky", []Capability{CapText}, 4096, 1.0)
	r.Register(entry)

	_, _, err := r.Invoke(context.Background(), entry, "hello", InvokeOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	got, _ := r.Get("m1")
	if got.Available() {
		t.Error("expected entry to be marked unavailable after Unavailable error")
	}
}

func TestInvoke_RejectedWrapsAsValidationError(t *testing.T) {
	fp := &fakeProvider{id: "flaky", err: NewProviderError(Rejected, "bad request", nil)}
	r := registryWithProviders(t, fp)
	entry := NewEntry("m1", "flaky", []Capability{CapText}, 4096, 1.0)
	r.Register(entry)

	_, _, err := r.Invoke(context.Background(), entry, "hello", InvokeOptions{})
	if controlerr.KindOf(err) != controlerr.ValidationError {
		t.Errorf("KindOf(err) = %v, want ValidationError", controlerr.KindOf(err))
	}
}

func TestInvoke_QuotaExceededWrapsAsQuotaExceeded(t *testing.T) {
	fp := &fakeProvider{id: "flaky", err: NewProviderError(QuotaExceeded, "over quota", nil)}
	r := registryWithProviders(t, fp)
	entry := NewEntry("m1", "flaky", []Capability{CapText}, 4096, 1.0)
	r.Register(entry)

	_, _, err := r.Invoke(context.Background(), entry, "hello", InvokeOptions{})
	if controlerr.KindOf(err) != controlerr.QuotaExceeded {
		t.Errorf("KindOf(err) = %v, want QuotaExceeded", controlerr.KindOf(err))
	}
}

func TestInvoke_UnknownProviderIsInternalError(t *testing.T) {
	r := NewRegistry()
	r.RegisterSafeDefault(SafeDefaultEntry())
	entry := NewEntry("ghost", "nobody", []Capability{CapText}, 4096, 1.0)

	_, _, err := r.Invoke(context.Background(), entry, "hello", InvokeOptions{})
	if controlerr.KindOf(err) != controlerr.InternalError {
		t.Errorf("KindOf(err) = %v, want InternalError", controlerr.KindOf(err))
	}
}

func TestInvokeChain_FallsBackOnUnavailable(t *testing.T) {
	flaky := &fakeProvider{id: "flaky", err: NewProviderError(Unavailable, "down", nil)}
	r := registryWithProviders(t, flaky)
	primary := NewEntry("primary", "flaky", []Capability{CapText}, 4096, 1.0)
	r.Register(primary)
	safe, _ := r.Get("safe-default")

	resp, _, err := r.InvokeChain(context.Background(), []Entry{primary, safe}, "hello", InvokeOptions{})
	if err != nil {
		t.Fatalf("InvokeChain() error = %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("flaky.calls = %d, want 1", flaky.calls)
	}
	if resp.Model != "safe-default" {
		t.Errorf("resp.Model = %q, want safe-default", resp.Model)
	}
}

func TestInvokeChain_StopsOnRejected(t *testing.T) {
	flaky := &fakeProvider{id: "flaky", err: NewProviderError(Rejected, "bad input", nil)}
	r := registryWithProviders(t, flaky)
	primary := NewEntry("primary", "flaky", []Capability{CapText}, 4096, 1.0)
	r.Register(primary)
	safe, _ := r.Get("safe-default")

	_, _, err := r.InvokeChain(context.Background(), []Entry{primary, safe}, "hello", InvokeOptions{})
	if err == nil {
		t.Fatal("expected Rejected to propagate without falling back")
	}
	if controlerr.KindOf(err) != controlerr.ValidationError {
		t.Errorf("KindOf(err) = %v, want ValidationError", controlerr.KindOf(err))
	}
}

func TestInvokeChain_ExhaustsChainReturnsLastError(t *testing.T) {
	flaky := &fakeProvider{id: "flaky", err: NewProviderError(Timeout, "timed out", nil)}
	r := NewRegistry()
	r.RegisterProvider(flaky)
	entry := NewEntry("only", "flaky", []Capability{CapText}, 4096, 1.0)
	r.Register(entry)

	_, _, err := r.InvokeChain(context.Background(), []Entry{entry}, "hello", InvokeOptions{})
	if err == nil {
		t.Fatal("expected an error when the chain is exhausted")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != Timeout {
		t.Errorf("err = %v, want ProviderError{Kind: Timeout}", err)
	}
}
