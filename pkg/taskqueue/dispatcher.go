package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridianai/controlplane/internal/telemetry"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/tenant"
)

// tickInterval is how often each (tenant, agent_kind) worker polls for
// ready work, grounded on the corpus's escalation.Engine 30s poll loop,
// tightened since task dispatch latency matters more than escalation
// polling latency.
const tickInterval = 500 * time.Millisecond

// Dispatcher runs one poll loop per (tenant, agent_kind), bounded by the
// tenant's concurrent_tasks_per_agent quota, retrying transient failures
// with exponential backoff and failing permanent ones immediately (spec
// §4.6). Grounded on the corpus's escalation.Engine/roster
// RunScheduleTopUpLoop ticker-loop shape, generalized from a single global
// loop to one loop per queue key so tenants never starve each other.
type Dispatcher struct {
	store   *Store
	tenants *tenant.Service
	agents  AgentRegistry
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]context.CancelFunc
	sink    MetricSink
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(store *Store, tenants *tenant.Service, agents AgentRegistry, c clock.Clock, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		tenants: tenants,
		agents:  agents,
		clock:   c,
		logger:  logger,
		workers: make(map[string]context.CancelFunc),
	}
}

// SetMetricSink wires a MetricSink so every queue-wait/exec/retry/outcome
// event the dispatcher already records as a Prometheus observation is also
// persisted as a MetricSample (spec §4.6/§4.9). Optional: a nil sink (the
// default) means samples are never persisted, only exported as metrics.
func (d *Dispatcher) SetMetricSink(sink MetricSink) {
	d.sink = sink
}

func (d *Dispatcher) record(ctx context.Context, tenantID, agentKind, name string, value float64, labels map[string]string) {
	if d.sink == nil {
		return
	}
	d.sink.Record(ctx, tenantID, agentKind, name, value, labels)
}

// EnsureWorker starts a poll loop for (tenantID, agentKind) if one isn't
// already running. Idempotent; the composition root calls it once per
// known agent kind at startup and again whenever a new tenant is created.
func (d *Dispatcher) EnsureWorker(ctx context.Context, tenantID, agentKind string) {
	key := queueKey(tenantID, agentKind)

	d.mu.Lock()
	if _, running := d.workers[key]; running {
		d.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	d.workers[key] = cancel
	d.mu.Unlock()

	go d.run(workerCtx, tenantID, agentKind)
}

// StopWorker cancels the poll loop for (tenantID, agentKind), if running.
func (d *Dispatcher) StopWorker(tenantID, agentKind string) {
	key := queueKey(tenantID, agentKind)
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.workers[key]; ok {
		cancel()
		delete(d.workers, key)
	}
}

func (d *Dispatcher) run(ctx context.Context, tenantID, agentKind string) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.tick(ctx, tenantID, agentKind); err != nil {
				d.logger.Error("dispatcher tick", "tenant_id", tenantID, "agent_kind", agentKind, "error", err)
			}
		}
	}
}

// tick pulls as much ready work as the tenant's concurrency quota allows
// and dispatches it. When the bound agent is paused, dispatch stalls
// without draining the queue; when stopped, queued tasks remain queued
// (spec §4.6).
func (d *Dispatcher) tick(ctx context.Context, tenantID, agentKind string) error {
	agent, ok := d.agents.Get(tenantID, agentKind)
	if !ok {
		return nil
	}
	switch agent.ControlState() {
	case ControlPaused, ControlStopped:
		return nil
	}

	t, err := d.tenants.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	quotas := t.Quotas()
	maxConcurrent := quotas.ConcurrentTasksPerAgent
	if maxConcurrent <= 0 {
		maxConcurrent = 1 << 30
	}

	running, err := d.store.RunningCount(ctx, tenantID, agentKind)
	if err != nil {
		return err
	}
	slots := maxConcurrent - running
	if slots <= 0 {
		return nil
	}

	queued, err := d.store.QueuedFor(ctx, tenantID, agentKind)
	if err != nil {
		return err
	}
	telemetry.TaskQueueDepth.WithLabelValues(tenantID, agentKind).Set(float64(len(queued)))
	if len(queued) > slots {
		queued = queued[:slots]
	}

	for _, task := range queued {
		task := task
		go d.execute(ctx, agent, task)
	}
	return nil
}

// execute runs a single attempt of task against agent and applies the
// spec §4.6 outcome transition: succeeded, a scheduled retry, or a
// permanent failure.
func (d *Dispatcher) execute(ctx context.Context, agent Agent, task Task) {
	if _, err := d.store.Update(ctx, task.ID, map[string]any{"state": string(StateRunning)}); err != nil {
		d.logger.Error("marking task running", "task_id", task.ID, "error", err)
		return
	}
	waitSeconds := d.clock.Since(task.CreatedAt).Seconds()
	telemetry.TaskWaitDuration.WithLabelValues(task.AgentKind).Observe(waitSeconds)
	d.record(ctx, task.TenantID, task.AgentKind, "task_wait_seconds", waitSeconds, nil)

	execCtx := ctx
	var cancel context.CancelFunc
	if task.Deadline != nil {
		execCtx, cancel = context.WithDeadline(ctx, *task.Deadline)
		defer cancel()
	}

	start := d.clock.Now()
	result, err := agent.Handle(execCtx, task)
	execSeconds := d.clock.Since(start).Seconds()
	telemetry.TaskExecDuration.WithLabelValues(task.AgentKind).Observe(execSeconds)
	d.record(ctx, task.TenantID, task.AgentKind, "task_exec_seconds", execSeconds, nil)

	if err == nil {
		telemetry.TaskOutcomesTotal.WithLabelValues(task.AgentKind, "succeeded").Inc()
		d.record(ctx, task.TenantID, task.AgentKind, "task_outcome", 1, map[string]string{"outcome": "succeeded"})
		if _, uerr := d.store.Update(ctx, task.ID, map[string]any{
			"state":  string(StateSucceeded),
			"result": result,
		}); uerr != nil {
			d.logger.Error("recording task success", "task_id", task.ID, "error", uerr)
		}
		return
	}

	cause := classifyFailure(err)
	attempts := task.Attempts + 1

	deadlineViolated := task.Deadline != nil && d.clock.Now().Add(nextRetryDelay(attempts-1)).After(*task.Deadline)
	if cause == CauseTransient && attempts < maxAttempts && !deadlineViolated {
		delay := nextRetryDelay(attempts - 1)
		nextAt := d.clock.Now().Add(delay)
		telemetry.TaskRetriesTotal.WithLabelValues(task.AgentKind).Inc()
		d.record(ctx, task.TenantID, task.AgentKind, "task_retry", float64(attempts), nil)

		// This attempt is done: the task that ran leaves the queue exactly
		// once, terminating here as failed/transient. The retry itself is a
		// fresh Task linked back via ParentID, not a requeue of this row.
		if _, uerr := d.store.Update(ctx, task.ID, map[string]any{
			"state":         string(StateFailed),
			"attempts":      attempts,
			"failure_cause": string(CauseTransient),
			"error":         err.Error(),
		}); uerr != nil {
			d.logger.Error("recording task attempt failure before retry", "task_id", task.ID, "error", uerr)
			return
		}
		if _, rerr := d.store.Submit(ctx, Task{
			ParentID:      task.ID,
			TenantID:      task.TenantID,
			AgentKind:     task.AgentKind,
			Payload:       task.Payload,
			Priority:      task.Priority,
			Deadline:      task.Deadline,
			SubmittedBy:   task.SubmittedBy,
			Attempts:      attempts,
			NextAttemptAt: &nextAt,
		}); rerr != nil {
			d.logger.Error("queuing task retry", "task_id", task.ID, "error", rerr)
		}
		return
	}

	telemetry.TaskOutcomesTotal.WithLabelValues(task.AgentKind, "failed").Inc()
	d.record(ctx, task.TenantID, task.AgentKind, "task_outcome", 0, map[string]string{"outcome": "failed", "cause": string(cause)})
	if _, uerr := d.store.Update(ctx, task.ID, map[string]any{
		"state":         string(StateFailed),
		"attempts":      attempts,
		"failure_cause": string(cause),
		"error":         err.Error(),
	}); uerr != nil {
		d.logger.Error("recording task failure", "task_id", task.ID, "error", uerr)
	}
}
