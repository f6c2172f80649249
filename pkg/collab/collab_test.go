package collab

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/persistence"
	"github.com/meridianai/controlplane/pkg/taskqueue"
	"github.com/meridianai/controlplane/pkg/tenant"
)

func newTestService(t *testing.T) (*Service, *taskqueue.Store, *tenant.Service, *clock.Fixed) {
	t.Helper()
	db := persistence.NewMemory()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tenantStore := tenant.NewStore(db, clock.NewSequentialIDs("ten"), clk)
	tenantSvc := tenant.NewService(tenantStore, logger, "test-secret")

	taskStore := taskqueue.NewStore(db, clock.NewSequentialIDs("tsk"), clk)
	taskSvc := taskqueue.NewService(taskStore, tenantSvc, clk, logger)

	collabStore := NewStore(db, clock.NewSequentialIDs("col"), clk)
	svc := NewService(collabStore, taskSvc, logger)
	return svc, taskStore, tenantSvc, clk
}

func mustCreateTenant(t *testing.T, svc *tenant.Service, domain string) tenant.Tenant {
	t.Helper()
	tn, err := svc.CreateTenant(context.Background(), tenant.CreateTenantInput{
		DisplayName:   "Acme",
		PrimaryDomain: domain,
		Tier:          tenant.TierEnterprise,
	})
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	return tn
}

func TestInitiate_CreatesPendingCollaborationWithEmptyFlow(t *testing.T) {
	svc, _, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "initiate.example.com")

	collab, err := svc.Initiate(context.Background(), InitiateInput{
		TenantID:       tn.ID,
		OrchestratorID: "user-1",
		Participants:   []string{"sales", "content"},
		Goal:           "launch campaign",
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if collab.Status != StatusPending {
		t.Errorf("Status = %q, want pending", collab.Status)
	}
	if len(collab.TaskFlow) != 0 {
		t.Errorf("len(TaskFlow) = %d, want 0", len(collab.TaskFlow))
	}
}

func TestStatus_EmptyTaskFlowIsPendingWithoutErroring(t *testing.T) {
	svc, _, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "empty.example.com")

	collab, err := svc.Initiate(context.Background(), InitiateInput{TenantID: tn.ID, OrchestratorID: "user-1", Goal: "g"})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	got, err := svc.Status(context.Background(), collab.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
}

func TestAddStep_AppendsTaskAndTransitionsInProgress(t *testing.T) {
	svc, _, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "step.example.com")

	collab, err := svc.Initiate(context.Background(), InitiateInput{TenantID: tn.ID, OrchestratorID: "user-1", Goal: "g"})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	task, err := svc.AddStep(context.Background(), collab.ID, "sales", map[string]any{"lead_id": "1"}, "user-1")
	if err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}
	if task.State != taskqueue.StateQueued {
		t.Errorf("task.State = %q, want queued", task.State)
	}

	got, err := svc.Status(context.Background(), collab.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(got.TaskFlow) != 1 {
		t.Fatalf("len(TaskFlow) = %d, want 1", len(got.TaskFlow))
	}
	if got.Status != StatusInProgress {
		t.Errorf("Status = %q, want in_progress", got.Status)
	}
}

func TestStatus_AllStepsSucceededIsSucceeded(t *testing.T) {
	svc, taskStore, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "succeed.example.com")

	collab, err := svc.Initiate(context.Background(), InitiateInput{TenantID: tn.ID, OrchestratorID: "user-1", Goal: "g"})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	task, err := svc.AddStep(context.Background(), collab.ID, "sales", nil, "user-1")
	if err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}
	if _, err := taskStore.Update(context.Background(), task.ID, map[string]any{"state": string(taskqueue.StateSucceeded)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := svc.Status(context.Background(), collab.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("Status = %q, want succeeded", got.Status)
	}
}

func TestStatus_OneFailedOneSucceededIsPartial(t *testing.T) {
	svc, taskStore, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "partial.example.com")

	collab, err := svc.Initiate(context.Background(), InitiateInput{TenantID: tn.ID, OrchestratorID: "user-1", Goal: "g"})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	contentTask, err := svc.AddStep(context.Background(), collab.ID, "content", nil, "user-1")
	if err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}
	if _, err := taskStore.Update(context.Background(), contentTask.ID, map[string]any{"state": string(taskqueue.StateSucceeded)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	analyticsTask, err := svc.AddStep(context.Background(), collab.ID, "analytics", nil, "user-1")
	if err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}
	if _, err := taskStore.Update(context.Background(), analyticsTask.ID, map[string]any{
		"state":         string(taskqueue.StateFailed),
		"failure_cause": string(taskqueue.CausePermanent),
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := svc.Status(context.Background(), collab.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got.Status != StatusPartial {
		t.Errorf("Status = %q, want partial", got.Status)
	}
}

func TestStatus_AllFailedIsFailed(t *testing.T) {
	svc, taskStore, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "failed.example.com")

	collab, err := svc.Initiate(context.Background(), InitiateInput{TenantID: tn.ID, OrchestratorID: "user-1", Goal: "g"})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	task, err := svc.AddStep(context.Background(), collab.ID, "sales", nil, "user-1")
	if err != nil {
		t.Fatalf("AddStep() error = %v", err)
	}
	if _, err := taskStore.Update(context.Background(), task.ID, map[string]any{
		"state":         string(taskqueue.StateFailed),
		"failure_cause": string(taskqueue.CausePermanent),
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := svc.Status(context.Background(), collab.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
}

func TestDelegate_WithoutCollabIsBareTaskSubmission(t *testing.T) {
	svc, _, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "delegate.example.com")

	task, err := svc.Delegate(context.Background(), DelegateInput{
		TenantID:    tn.ID,
		ToAgentKind: "operations",
		Payload:     map[string]any{"workflow": "invoice"},
		SubmittedBy: "sales-agent",
	})
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if task.AgentKind != "operations" {
		t.Errorf("AgentKind = %q, want operations", task.AgentKind)
	}
}

func TestDelegate_WithCollabAppendsStep(t *testing.T) {
	svc, _, tenantSvc, _ := newTestService(t)
	tn := mustCreateTenant(t, tenantSvc, "delegate-collab.example.com")

	collab, err := svc.Initiate(context.Background(), InitiateInput{TenantID: tn.ID, OrchestratorID: "user-1", Goal: "g"})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	_, err = svc.Delegate(context.Background(), DelegateInput{
		TenantID:    tn.ID,
		ToAgentKind: "operations",
		Payload:     nil,
		SubmittedBy: "sales-agent",
		CollabID:    collab.ID,
	})
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}

	got, err := svc.Status(context.Background(), collab.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(got.TaskFlow) != 1 {
		t.Errorf("len(TaskFlow) = %d, want 1", len(got.TaskFlow))
	}
}

func TestAggregateStatus_EmptyIsPending(t *testing.T) {
	if got := aggregateStatus(nil); got != StatusPending {
		t.Errorf("aggregateStatus(nil) = %q, want pending", got)
	}
}
