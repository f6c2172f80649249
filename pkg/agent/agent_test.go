package agent

import (
	"context"
	"testing"
	"time"

	"github.com/meridianai/controlplane/pkg/cache"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

func newTestDeps() Deps {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := cache.New(cache.DefaultConfig(), clk, nil)

	registry := modelprovider.NewRegistry()
	registry.RegisterProvider(modelprovider.EchoProvider{})
	registry.RegisterSafeDefault(modelprovider.SafeDefaultEntry())

	return Deps{Cache: c, Models: registry, IDClock: clk}
}

func TestRegistry_EnsureCreatesAndReusesAgent(t *testing.T) {
	r := NewRegistry(newTestDeps())
	a1 := r.Ensure("tenant-1", KindSales)
	a2 := r.Ensure("tenant-1", KindSales)
	if a1 != a2 {
		t.Error("expected Ensure to return the same agent for the same (tenant, kind)")
	}

	other := r.Ensure("tenant-2", KindSales)
	if other == a1 {
		t.Error("expected a distinct agent per tenant")
	}
}

func TestRegistry_GetSatisfiesTaskqueueAgentRegistry(t *testing.T) {
	r := NewRegistry(newTestDeps())
	r.Ensure("tenant-1", KindMarketing)

	var reg taskqueue.AgentRegistry = r
	a, ok := reg.Get("tenant-1", "marketing")
	if !ok {
		t.Fatal("expected Get to find the ensured agent")
	}
	if a.ControlState() != taskqueue.ControlRunning {
		t.Errorf("ControlState() = %q, want running", a.ControlState())
	}
}

func TestAgent_HandleRunsWorkerAndRecordsMetrics(t *testing.T) {
	r := NewRegistry(newTestDeps())
	a := r.Ensure("tenant-1", KindSales)

	task := taskqueue.Task{
		TenantID:  "tenant-1",
		AgentKind: "sales",
		Payload:   map[string]any{"lead_name": "Jane", "company": "Acme", "stage": "discovery"},
	}

	result, err := a.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result["qualification"] == "" || result["qualification"] == nil {
		t.Error("expected a non-empty qualification result")
	}

	desc := a.Describe()
	if desc.Completed != 1 {
		t.Errorf("Completed = %d, want 1", desc.Completed)
	}
	if desc.Failed != 0 {
		t.Errorf("Failed = %d, want 0", desc.Failed)
	}
}

func TestAgent_OnControl_PauseAndResume(t *testing.T) {
	r := NewRegistry(newTestDeps())
	a := r.Ensure("tenant-1", KindContent)

	a.OnControl(ControlOpPause)
	if a.ControlState() != taskqueue.ControlPaused {
		t.Errorf("ControlState() = %q, want paused", a.ControlState())
	}

	a.OnControl(ControlOpResume)
	if a.ControlState() != taskqueue.ControlRunning {
		t.Errorf("ControlState() = %q, want running", a.ControlState())
	}
}

func TestAgent_OnControl_ResetZeroesMetricsPreservesIdentity(t *testing.T) {
	r := NewRegistry(newTestDeps())
	a := r.Ensure("tenant-1", KindAnalytics)

	task := taskqueue.Task{TenantID: "tenant-1", AgentKind: "analytics", Payload: map[string]any{"question": "how are we doing?"}}
	if _, err := a.Handle(context.Background(), task); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if a.Describe().Completed != 1 {
		t.Fatal("expected one completed task before reset")
	}

	a.OnControl(ControlOpReset)
	desc := a.Describe()
	if desc.Completed != 0 || desc.Failed != 0 {
		t.Errorf("expected metrics to zero on reset, got completed=%d failed=%d", desc.Completed, desc.Failed)
	}
	if desc.Kind != KindAnalytics || desc.TenantID != "tenant-1" {
		t.Error("expected identity to survive reset")
	}
}

func TestInvokeModel_CachesIdenticalFingerprint(t *testing.T) {
	deps := newTestDeps()
	task := taskqueue.Task{TenantID: "tenant-1", AgentKind: "sales", Payload: map[string]any{"lead_name": "Jane"}}

	resp1, err := invokeModel(context.Background(), deps, task, modelprovider.CapText, nil, "hello")
	if err != nil {
		t.Fatalf("invokeModel() error = %v", err)
	}
	resp2, err := invokeModel(context.Background(), deps, task, modelprovider.CapText, nil, "hello")
	if err != nil {
		t.Fatalf("invokeModel() error = %v", err)
	}
	if resp1.Text != resp2.Text {
		t.Errorf("expected a cached response to match, got %q vs %q", resp1.Text, resp2.Text)
	}

	stats := deps.Cache.Stats()
	if stats.Hits == 0 {
		t.Error("expected at least one cache hit on the second invocation")
	}
}

func TestEachWorkerKind_Handles(t *testing.T) {
	deps := newTestDeps()
	tests := []struct {
		kind    Kind
		payload map[string]any
	}{
		{KindSales, map[string]any{"lead_name": "Jane", "company": "Acme", "stage": "discovery"}},
		{KindMarketing, map[string]any{"objective": "awareness", "audience": "SMB", "budget": "10000"}},
		{KindContent, map[string]any{"format": "blog", "brief": "write about onboarding"}},
		{KindAnalytics, map[string]any{"question": "what's our churn?", "metrics": map[string]any{"churn": 0.1}}},
		{KindOperations, map[string]any{"workflow": "invoice", "subject": "Q1 invoices"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			w := workerFor(tt.kind)
			if w.kind() != tt.kind {
				t.Fatalf("workerFor(%q).kind() = %q", tt.kind, w.kind())
			}
			task := taskqueue.Task{TenantID: "tenant-1", AgentKind: string(tt.kind), Payload: tt.payload}
			result, err := w.handle(context.Background(), deps, task)
			if err != nil {
				t.Fatalf("handle() error = %v", err)
			}
			if len(result) == 0 {
				t.Error("expected a non-empty result map")
			}
		})
	}
}
