package taskqueue

import "context"

// ControlState is an agent's run state, set by AgentControl (spec §4.7).
type ControlState string

const (
	ControlRunning ControlState = "running"
	ControlPaused  ControlState = "paused"
	ControlStopped ControlState = "stopped"
)

// Agent is the narrow interface the dispatcher needs from pkg/agent,
// declared here rather than imported to avoid a taskqueue↔agent import
// cycle (pkg/agent depends on taskqueue.Task, not the other way around).
type Agent interface {
	// Handle executes task, returning its result or a classifiable error.
	Handle(ctx context.Context, task Task) (map[string]any, error)
	// ControlState reports whether dispatch should proceed, stall, or drain.
	ControlState() ControlState
}

// AgentRegistry resolves the Agent bound to (tenantID, agentKind). Agents
// are process-local, never persisted (spec §4.7 Open Question resolution).
type AgentRegistry interface {
	Get(tenantID, agentKind string) (Agent, bool)
}
