// Package collab implements the Collaboration Coordinator (spec §4.8):
// orchestrated multi-step sessions across agent kinds, whose status is a
// pure aggregate over the states of its child tasks.
package collab

import (
	"time"

	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// Collection is the persistence.Port collection name for collaborations.
const Collection = "collaborations"

// Status is a Collaboration's aggregated lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// Step is one entry in a Collaboration's task_flow: an agent kind bound to
// the id of the task it was submitted as.
type Step struct {
	AgentKind string `json:"agent_kind"`
	TaskID    string `json:"task_id"`
}

// Collaboration is an orchestrated sequence of tasks across agent kinds,
// with a status derived from its child task states (spec §4.8).
type Collaboration struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	OrchestratorID    string    `json:"orchestrator_id"`
	ParticipatingKind []string  `json:"participating_kinds"`
	Goal              string    `json:"goal"`
	TaskFlow          []Step    `json:"task_flow"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// aggregateStatus derives a Collaboration's status from its child tasks'
// states (spec §4.8): an empty task_flow is explicitly `pending`, never an
// error ("historical bug" the spec calls out by name, fixed here by
// construction rather than a special-cased guard clause). A failed step
// does not cancel siblings (spec §4.8); the orchestrator decides whether to
// add further steps.
func aggregateStatus(tasks []taskqueue.Task) Status {
	if len(tasks) == 0 {
		return StatusPending
	}

	anyRunning := false
	anyFailed := false
	anySucceeded := false
	allSucceeded := true

	for _, t := range tasks {
		switch t.State {
		case taskqueue.StateSucceeded:
			anySucceeded = true
		case taskqueue.StateFailed:
			anyFailed = true
			allSucceeded = false
		case taskqueue.StateQueued, taskqueue.StateRunning:
			anyRunning = true
			allSucceeded = false
		default:
			allSucceeded = false
		}
	}

	if allSucceeded {
		return StatusSucceeded
	}
	if anyFailed && !anyRunning {
		if anySucceeded {
			return StatusPartial
		}
		return StatusFailed
	}
	return StatusInProgress
}
