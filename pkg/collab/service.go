package collab

import (
	"context"
	"log/slog"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// Service is the Collaboration Coordinator's surface (spec §4.8):
// initiate/add_step/delegate/status. Status aggregation never touches the
// store; it recomputes from the task_flow's current child task states, so
// a child task completing out from under the dispatcher is always
// reflected on the next status() call.
type Service struct {
	store  *Store
	tasks  *taskqueue.Service
	logger *slog.Logger
}

// NewService builds a Service.
func NewService(store *Store, tasks *taskqueue.Service, logger *slog.Logger) *Service {
	return &Service{store: store, tasks: tasks, logger: logger}
}

// InitiateInput is the caller-supplied portion of a new collaboration.
type InitiateInput struct {
	TenantID       string
	OrchestratorID string
	Participants   []string
	Goal           string
}

// Initiate creates a Collaboration with status=pending and an empty
// task_flow (spec §4.8).
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (Collaboration, error) {
	c := Collaboration{
		TenantID:          in.TenantID,
		OrchestratorID:    in.OrchestratorID,
		ParticipatingKind: in.Participants,
		Goal:              in.Goal,
	}
	created, err := s.store.Create(ctx, c)
	if err != nil {
		return Collaboration{}, err
	}
	s.logger.Info("collaboration initiated", "collab_id", created.ID, "tenant_id", created.TenantID)
	return created, nil
}

// AddStep submits a new task for agentKind, attributed to collabID, and
// appends it to the collaboration's task_flow (spec §4.8). A failed prior
// step never blocks a subsequent add_step; the orchestrator decides
// whether and when to add further steps.
func (s *Service) AddStep(ctx context.Context, collabID, agentKind string, payload map[string]any, submittedBy string) (taskqueue.Task, error) {
	collab, err := s.store.Get(ctx, collabID)
	if err != nil {
		return taskqueue.Task{}, err
	}

	task, err := s.tasks.Submit(ctx, taskqueue.SubmitInput{
		TenantID:    collab.TenantID,
		AgentKind:   agentKind,
		Payload:     payload,
		SubmittedBy: submittedBy,
	})
	if err != nil {
		return taskqueue.Task{}, err
	}

	if _, err := s.store.AppendStep(ctx, collabID, Step{AgentKind: agentKind, TaskID: task.ID}); err != nil {
		return taskqueue.Task{}, err
	}
	return task, nil
}

// DelegateInput is the caller-supplied portion of a delegation.
type DelegateInput struct {
	TenantID    string
	ToAgentKind string
	Payload     map[string]any
	SubmittedBy string
	CollabID    string // optional: attaches the delegated task to an in-flight collaboration
}

// Delegate is a convenience wrapper submitting a task attributed to the
// delegation graph (spec §4.8): "delegate(from_agent, to_agent_kind,
// payload, in_collab?)". When CollabID is set the task is appended to that
// collaboration's task_flow exactly as add_step would; otherwise it is a
// bare task submission.
func (s *Service) Delegate(ctx context.Context, in DelegateInput) (taskqueue.Task, error) {
	if in.CollabID != "" {
		return s.AddStep(ctx, in.CollabID, in.ToAgentKind, in.Payload, in.SubmittedBy)
	}
	return s.tasks.Submit(ctx, taskqueue.SubmitInput{
		TenantID:    in.TenantID,
		AgentKind:   in.ToAgentKind,
		Payload:     in.Payload,
		SubmittedBy: in.SubmittedBy,
	})
}

// Status aggregates a collaboration's child task states into its current
// Status (spec §4.8), persisting the recomputed value.
func (s *Service) Status(ctx context.Context, collabID string) (Collaboration, error) {
	collab, err := s.store.Get(ctx, collabID)
	if err != nil {
		return Collaboration{}, err
	}

	tasks := make([]taskqueue.Task, 0, len(collab.TaskFlow))
	for _, step := range collab.TaskFlow {
		t, err := s.tasks.Status(ctx, step.TaskID)
		if err != nil {
			return Collaboration{}, controlerr.Wrap(controlerr.InternalError, err, "loading collaboration step task")
		}
		tasks = append(tasks, t)
	}

	status := aggregateStatus(tasks)
	if status == collab.Status {
		return collab, nil
	}
	return s.store.UpdateStatus(ctx, collabID, status)
}

// ListByTenant returns every collaboration for a tenant, most recent first.
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]Collaboration, error) {
	return s.store.ListByTenant(ctx, tenantID)
}
