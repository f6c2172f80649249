// Package taskqueue implements the Task Queue & Dispatcher (spec §4.6): a
// per-(tenant, agent_kind) priority FIFO, a dispatcher loop bounded by the
// tenant's tier quotas, and exponential-backoff retry of transient
// failures.
package taskqueue

import "time"

// Collection is the persistence.Port collection name for tasks.
const Collection = "tasks"

// State is a Task's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// FailureCause classifies why a task transitioned to failed, driving the
// dispatcher's retry decision (spec §4.6).
type FailureCause string

const (
	CauseTransient FailureCause = "transient"
	CausePermanent FailureCause = "permanent"
	CauseCancelled FailureCause = "cancelled"
)

// Task is the persisted unit of work a dispatcher hands to an agent.
type Task struct {
	ID            string         `json:"id"`
	ParentID      string         `json:"parent_id,omitempty"`
	TenantID      string         `json:"tenant_id"`
	AgentKind     string         `json:"agent_kind"`
	Payload       map[string]any `json:"payload"`
	Priority      int            `json:"priority"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	State         State          `json:"state"`
	Attempts      int            `json:"attempts"`
	FailureCause  FailureCause   `json:"failure_cause,omitempty"`
	Error         string         `json:"error,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	SubmittedBy   string         `json:"submitted_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
}

// Terminal reports whether the task has reached a terminal state.
func (t Task) Terminal() bool {
	return t.State == StateSucceeded || t.State == StateFailed || t.State == StateCancelled
}

// queueKey identifies one (tenant, agent_kind) priority FIFO.
func queueKey(tenantID, agentKind string) string {
	return tenantID + ":" + agentKind
}

// startOfDay truncates t to midnight UTC, the rolling window CountSince
// uses to enforce tasks_per_day.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
