package taskqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/tenant"
)

// Service is the Task Queue's submit/status surface. Dispatch lives in
// Dispatcher; Service only owns the durability boundary (spec §4.6:
// "accepted tasks are persisted in queued state before the call returns").
type Service struct {
	store   *Store
	tenants *tenant.Service
	clock   clock.Clock
	logger  *slog.Logger
}

// NewService builds a Service.
func NewService(store *Store, tenants *tenant.Service, c clock.Clock, logger *slog.Logger) *Service {
	return &Service{store: store, tenants: tenants, clock: c, logger: logger}
}

// SubmitInput is the caller-supplied portion of a new task.
type SubmitInput struct {
	TenantID    string
	AgentKind   string
	Payload     map[string]any
	Priority    int
	Deadline    *time.Time
	SubmittedBy string
}

// Submit enforces the tenant's quota bundle and persists the task in the
// queued state. It rejects with ValidationError when Deadline is already in
// the past, and with QuotaExceeded when the tenant's concurrent-task or
// daily-task quota is hit (spec §4.6).
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Task, error) {
	if in.Deadline != nil && in.Deadline.Before(s.clock.Now()) {
		return Task{}, controlerr.New(controlerr.ValidationError, "deadline is in the past").WithField("field", "deadline")
	}

	t, err := s.tenants.Get(ctx, in.TenantID)
	if err != nil {
		return Task{}, err
	}
	if !t.Active() {
		return Task{}, controlerr.New(controlerr.Forbidden, "tenant is not active")
	}
	quotas := t.Quotas()

	if quotas.TasksPerDay > 0 {
		count, err := s.store.CountSince(ctx, in.TenantID, startOfDay(s.clock.Now()))
		if err != nil {
			return Task{}, err
		}
		if count >= quotas.TasksPerDay {
			return Task{}, controlerr.Newf(controlerr.QuotaExceeded, "tenant %s has reached its daily task quota of %d", in.TenantID, quotas.TasksPerDay).
				WithField("quota", "tasks_per_day")
		}
	}

	if quotas.ConcurrentTasksPerAgent > 0 {
		running, err := s.store.RunningCount(ctx, in.TenantID, in.AgentKind)
		if err != nil {
			return Task{}, err
		}
		queued, err := s.store.QueuedFor(ctx, in.TenantID, in.AgentKind)
		if err != nil {
			return Task{}, err
		}
		if running+len(queued) >= quotas.ConcurrentTasksPerAgent {
			return Task{}, controlerr.Newf(controlerr.QuotaExceeded, "tenant %s has reached its concurrent task quota of %d for agent kind %s", in.TenantID, quotas.ConcurrentTasksPerAgent, in.AgentKind).
				WithField("quota", "concurrent_tasks_per_agent")
		}
	}

	task := Task{
		TenantID:    in.TenantID,
		AgentKind:   in.AgentKind,
		Payload:     in.Payload,
		Priority:    in.Priority,
		Deadline:    in.Deadline,
		SubmittedBy: in.SubmittedBy,
	}
	created, err := s.store.Submit(ctx, task)
	if err != nil {
		return Task{}, err
	}
	s.logger.Info("task submitted", "task_id", created.ID, "tenant_id", created.TenantID, "agent_kind", created.AgentKind)
	return created, nil
}

// Cancel requests cancellation of a queued task. Running tasks finish their
// current attempt; Dispatcher checks context cancellation between retries,
// not mid-invocation (spec §4.7 leaves mid-flight cancellation to the
// agent's own context handling).
func (s *Service) Cancel(ctx context.Context, taskID string) (Task, error) {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if t.Terminal() {
		return t, nil
	}
	return s.store.Update(ctx, taskID, map[string]any{
		"state":         string(StateCancelled),
		"failure_cause": string(CauseCancelled),
	})
}

// Status returns a task's current state.
func (s *Service) Status(ctx context.Context, taskID string) (Task, error) {
	return s.store.Get(ctx, taskID)
}

// ListByTenant returns every task for a tenant, most recent first.
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]Task, error) {
	return s.store.ListByTenant(ctx, tenantID)
}
