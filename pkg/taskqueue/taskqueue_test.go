package taskqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/persistence"
	"github.com/meridianai/controlplane/pkg/tenant"
)

func newTestService(t *testing.T) (*Service, *Store, *tenant.Service, *clock.Fixed) {
	t.Helper()
	db := persistence.NewMemory()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tenantStore := tenant.NewStore(db, clock.NewSequentialIDs("ten"), clk)
	tenantSvc := tenant.NewService(tenantStore, logger, "test-secret")

	taskStore := NewStore(db, clock.NewSequentialIDs("tsk"), clk)
	svc := NewService(taskStore, tenantSvc, clk, logger)
	return svc, taskStore, tenantSvc, clk
}

func mustCreateTenant(t *testing.T, svc *tenant.Service, domain string, tier tenant.Tier) tenant.Tenant {
	t.Helper()
	tn, err := svc.CreateTenant(context.Background(), tenant.CreateTenantInput{
		DisplayName:   "Acme",
		PrimaryDomain: domain,
		Tier:          tier,
	})
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	return tn
}

func TestSubmit_PersistsQueuedTask(t *testing.T) {
	svc, _, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "acme.example.com", tenant.TierStarter)

	task, err := svc.Submit(context.Background(), SubmitInput{
		TenantID:  tn.ID,
		AgentKind: "sales",
		Payload:   map[string]any{"lead_id": "123"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if task.State != StateQueued {
		t.Errorf("State = %q, want queued", task.State)
	}
	if task.ID == "" {
		t.Error("expected a generated task id")
	}
}

func TestSubmit_RejectsInactiveTenant(t *testing.T) {
	svc, taskStore, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "suspended.example.com", tenant.TierStarter)
	if _, err := tenantSvc.Suspend(context.Background(), tn.ID); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	_ = taskStore

	_, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales"})
	if controlerr.KindOf(err) != controlerr.Forbidden {
		t.Errorf("KindOf(err) = %v, want Forbidden", controlerr.KindOf(err))
	}
}

func TestSubmit_RejectsOverConcurrentQuota(t *testing.T) {
	svc, _, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "starter.example.com", tenant.TierStarter)
	quotas := tn.Quotas()

	for i := 0; i < quotas.ConcurrentTasksPerAgent; i++ {
		if _, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales"}); err != nil {
			t.Fatalf("Submit() #%d error = %v", i, err)
		}
	}

	_, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales"})
	if controlerr.KindOf(err) != controlerr.QuotaExceeded {
		t.Errorf("KindOf(err) = %v, want QuotaExceeded", controlerr.KindOf(err))
	}
}

func TestQueuedFor_OrdersByPriorityThenCreatedAt(t *testing.T) {
	svc, taskStore, tenantSvc, clk := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "order.example.com", tenant.TierEnterprise)

	low, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales", Priority: 1})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	clk.Advance(time.Second)
	high, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales", Priority: 5})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	clk.Advance(time.Second)
	highLater, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales", Priority: 5})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	queued, err := taskStore.QueuedFor(context.Background(), tn.ID, "sales")
	if err != nil {
		t.Fatalf("QueuedFor() error = %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("len(queued) = %d, want 3", len(queued))
	}
	if queued[0].ID != high.ID || queued[1].ID != highLater.ID || queued[2].ID != low.ID {
		t.Errorf("order = [%s, %s, %s], want [%s, %s, %s]",
			queued[0].ID, queued[1].ID, queued[2].ID, high.ID, highLater.ID, low.ID)
	}
}

func TestCancel_QueuedTaskBecomesCancelled(t *testing.T) {
	svc, _, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "cancel.example.com", tenant.TierEnterprise)
	task, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.State != StateCancelled {
		t.Errorf("State = %q, want cancelled", cancelled.State)
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureCause
	}{
		{"unavailable is transient", modelprovider.NewProviderError(modelprovider.Unavailable, "down", nil), CauseTransient},
		{"timeout is transient", modelprovider.NewProviderError(modelprovider.Timeout, "timed out", nil), CauseTransient},
		{"rejected is permanent", modelprovider.NewProviderError(modelprovider.Rejected, "bad input", nil), CausePermanent},
		{"fatal is permanent", modelprovider.NewProviderError(modelprovider.Fatal, "boom", nil), CausePermanent},
		{"validation error is permanent", controlerr.New(controlerr.ValidationError, "bad"), CausePermanent},
		{"unclassified error is permanent", errors.New("mystery"), CausePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyFailure(tt.err); got != tt.want {
				t.Errorf("classifyFailure() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextRetryDelay_Monotonic(t *testing.T) {
	var prev time.Duration
	for attempt := 0; attempt < 4; attempt++ {
		d := nextRetryDelay(attempt)
		if d <= 0 {
			t.Fatalf("nextRetryDelay(%d) = %v, want positive", attempt, d)
		}
		if d < prev/2 {
			t.Errorf("nextRetryDelay(%d) = %v, want roughly increasing from %v", attempt, d, prev)
		}
		prev = d
	}
}

type fakeAgent struct {
	state ControlState
	err   error
}

func (a *fakeAgent) Handle(_ context.Context, _ Task) (map[string]any, error) {
	if a.err != nil {
		return nil, a.err
	}
	return map[string]any{"ok": true}, nil
}

func (a *fakeAgent) ControlState() ControlState { return a.state }

type fakeRegistry struct {
	agents map[string]Agent
}

func (r *fakeRegistry) Get(tenantID, agentKind string) (Agent, bool) {
	a, ok := r.agents[tenantID+":"+agentKind]
	return a, ok
}

func TestDispatcherTick_SucceedsAndTransitions(t *testing.T) {
	svc, taskStore, tenantSvc, clk := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "dispatch.example.com", tenant.TierEnterprise)
	task, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := &fakeRegistry{agents: map[string]Agent{
		tn.ID + ":sales": &fakeAgent{state: ControlRunning},
	}}
	d := NewDispatcher(taskStore, tenantSvc, registry, clk, logger)

	if err := d.tick(context.Background(), tn.ID, "sales"); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	// execute runs in a goroutine; give it a moment to land.
	deadline := time.Now().Add(2 * time.Second)
	var got Task
	for time.Now().Before(deadline) {
		got, err = taskStore.Get(context.Background(), task.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.State == StateSucceeded {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got.State != StateSucceeded {
		t.Errorf("State = %q, want succeeded", got.State)
	}
}

// flakyAgent fails transiently failUntil times, then succeeds.
type flakyAgent struct {
	state     ControlState
	failUntil int
	calls     int
}

func (a *flakyAgent) Handle(_ context.Context, task Task) (map[string]any, error) {
	a.calls++
	if a.calls <= a.failUntil {
		return nil, modelprovider.NewProviderError(modelprovider.Unavailable, "provider overloaded", nil)
	}
	return map[string]any{"ok": true}, nil
}

func (a *flakyAgent) ControlState() ControlState { return a.state }

func TestDispatcherExecute_TransientFailureRetriesAsFreshLinkedTask(t *testing.T) {
	svc, taskStore, tenantSvc, clk := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "retry.example.com", tenant.TierEnterprise)
	original, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agent := &flakyAgent{state: ControlRunning, failUntil: 2}
	d := NewDispatcher(taskStore, tenantSvc, &fakeRegistry{agents: map[string]Agent{tn.ID + ":sales": agent}}, clk, logger)

	waitForState := func(taskID string, want State) Task {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		var got Task
		for time.Now().Before(deadline) {
			got, err = taskStore.Get(context.Background(), taskID)
			if err != nil {
				t.Fatalf("Get(%s) error = %v", taskID, err)
			}
			if got.State == want {
				return got
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("task %s State = %q, want %q", taskID, got.State, want)
		return got
	}

	// Attempt 1: fails transiently, produces a fresh child task.
	d.execute(context.Background(), agent, original)
	failed := waitForState(original.ID, StateFailed)
	if failed.FailureCause != CauseTransient {
		t.Fatalf("FailureCause = %q, want transient", failed.FailureCause)
	}

	clk.Advance(time.Minute) // clear child1's NextAttemptAt backoff window before QueuedFor considers it ready
	children, err := taskStore.QueuedFor(context.Background(), tn.ID, "sales")
	if err != nil {
		t.Fatalf("QueuedFor() error = %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("len(children) = %d, want 1", len(children))
	}
	child1 := children[0]
	if child1.ParentID != original.ID {
		t.Errorf("child1.ParentID = %q, want %q", child1.ParentID, original.ID)
	}
	if child1.Attempts != 1 {
		t.Errorf("child1.Attempts = %d, want 1", child1.Attempts)
	}

	// Attempt 2: fails transiently again, produces a second-generation child.
	d.execute(context.Background(), agent, child1)
	waitForState(child1.ID, StateFailed)

	clk.Advance(time.Minute)
	children, err = taskStore.QueuedFor(context.Background(), tn.ID, "sales")
	if err != nil {
		t.Fatalf("QueuedFor() error = %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("len(children) = %d, want 1", len(children))
	}
	child2 := children[0]
	if child2.ParentID != child1.ID {
		t.Errorf("child2.ParentID = %q, want %q", child2.ParentID, child1.ID)
	}
	if child2.Attempts != 2 {
		t.Errorf("child2.Attempts = %d, want 2", child2.Attempts)
	}

	// Attempt 3: the agent finally succeeds (spec §8 scenario 3: attempt_count=3, final state succeeded).
	d.execute(context.Background(), agent, child2)
	final := waitForState(child2.ID, StateSucceeded)
	if final.Attempts != 2 {
		t.Errorf("final.Attempts = %d, want 2 (carried forward, bumped on failure only)", final.Attempts)
	}
	if agent.calls != 3 {
		t.Errorf("agent.calls = %d, want 3", agent.calls)
	}

	// Original row is untouched by the retries: it leaves the queue exactly once.
	originalFinal, err := taskStore.Get(context.Background(), original.ID)
	if err != nil {
		t.Fatalf("Get(original) error = %v", err)
	}
	if originalFinal.State != StateFailed {
		t.Errorf("original.State = %q, want failed (retries never requeue the original row)", originalFinal.State)
	}
}

func TestSubmit_RejectsPastDeadline(t *testing.T) {
	svc, _, tenantSvc, clk := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "deadline.example.com", tenant.TierEnterprise)
	past := clk.Now().Add(-time.Hour)

	_, err := svc.Submit(context.Background(), SubmitInput{
		TenantID:  tn.ID,
		AgentKind: "sales",
		Deadline:  &past,
	})
	if !controlerr.Is(err, controlerr.ValidationError) {
		t.Fatalf("Submit() with past deadline error = %v, want ValidationError", err)
	}
}

func TestSubmit_FutureDeadlineAccepted(t *testing.T) {
	svc, _, tenantSvc, clk := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "futuredeadline.example.com", tenant.TierEnterprise)
	future := clk.Now().Add(time.Hour)

	task, err := svc.Submit(context.Background(), SubmitInput{
		TenantID:  tn.ID,
		AgentKind: "sales",
		Deadline:  &future,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if task.Deadline == nil || !task.Deadline.Equal(future) {
		t.Errorf("task.Deadline = %v, want %v", task.Deadline, future)
	}
}

func TestDispatcherTick_PausedAgentStalls(t *testing.T) {
	svc, taskStore, tenantSvc, clk := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "paused.example.com", tenant.TierEnterprise)
	task, err := svc.Submit(context.Background(), SubmitInput{TenantID: tn.ID, AgentKind: "sales"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := &fakeRegistry{agents: map[string]Agent{
		tn.ID + ":sales": &fakeAgent{state: ControlPaused},
	}}
	d := NewDispatcher(taskStore, tenantSvc, registry, clk, logger)

	if err := d.tick(context.Background(), tn.ID, "sales"); err != nil {
		t.Fatalf("tick() error = %v", err)
	}

	got, err := taskStore.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateQueued {
		t.Errorf("State = %q, want queued (paused agent must not drain)", got.State)
	}
}
