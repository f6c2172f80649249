// Package agent implements the Agent Framework (spec §4.7): five stateless
// domain-agent kinds behind a uniform contract, and a process-local
// registry the dispatcher pulls bound agents from. Agents consult
// pkg/cache and pkg/modelprovider only; they never touch the queue or
// persistence directly (payload and result travel through the Task).
package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridianai/controlplane/pkg/cache"
	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/modelprovider"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// Kind is one of the five closed agent kinds (spec §4.7).
type Kind string

const (
	KindSales      Kind = "sales"
	KindMarketing  Kind = "marketing"
	KindContent    Kind = "content"
	KindAnalytics  Kind = "analytics"
	KindOperations Kind = "operations"
)

// ControlOp is a control-plane directive delivered to an agent (spec §4.7:
// "on_control(op) where op ∈ {pause, resume, reset}").
type ControlOp string

const (
	ControlOpPause  ControlOp = "pause"
	ControlOpResume ControlOp = "resume"
	ControlOpReset  ControlOp = "reset"
)

// Descriptor is the spec's AgentDescriptor (§3): a singleton per kind per
// tenant, whose identity survives a reset even though its metrics zero.
type Descriptor struct {
	Kind         Kind                       `json:"kind"`
	TenantID     string                     `json:"tenant_id"`
	Capabilities []modelprovider.Capability `json:"capabilities"`
	Status       taskqueue.ControlState     `json:"status"`
	Completed    int64                      `json:"completed"`
	Failed       int64                      `json:"failed"`
	AvgLatencyMs int64                      `json:"avg_latency_ms"`
}

// metrics is the mutable counter state behind a Descriptor's aggregates,
// kept separate from the struct so it can be reset to zero without
// disturbing the agent's identity (spec §3: "resetting zeroes metrics but
// preserves identity").
type metrics struct {
	completed    atomic.Int64
	failed       atomic.Int64
	latencySumMs atomic.Int64
}

func (m *metrics) recordSuccess(d time.Duration) {
	m.completed.Add(1)
	m.latencySumMs.Add(d.Milliseconds())
}

func (m *metrics) recordFailure() {
	m.failed.Add(1)
}

func (m *metrics) reset() {
	m.completed.Store(0)
	m.failed.Store(0)
	m.latencySumMs.Store(0)
}

func (m *metrics) avgLatencyMs() int64 {
	completed := m.completed.Load()
	if completed == 0 {
		return 0
	}
	return m.latencySumMs.Load() / completed
}

// worker is the uniform contract every kind implementation satisfies
// (spec §4.7: describe/handle/on_control).
type worker interface {
	kind() Kind
	handle(ctx context.Context, deps Deps, task taskqueue.Task) (map[string]any, error)
}

// Deps are the only two collaborators an agent may consult (spec §4.8:
// "consulting pkg/cache and pkg/modelprovider only, never persistence
// directly").
type Deps struct {
	Cache   *cache.Cache
	Models  *modelprovider.Registry
	IDClock clock.Clock
}

// Agent binds a worker implementation to one tenant, tracking its control
// state and metrics. It satisfies taskqueue.Agent.
type Agent struct {
	w        worker
	tenantID string
	deps     Deps

	state atomic.Value // taskqueue.ControlState
	m     metrics
}

func newAgent(w worker, tenantID string, deps Deps) *Agent {
	a := &Agent{w: w, tenantID: tenantID, deps: deps}
	a.state.Store(taskqueue.ControlRunning)
	return a
}

// Handle implements taskqueue.Agent.
func (a *Agent) Handle(ctx context.Context, task taskqueue.Task) (map[string]any, error) {
	start := a.deps.IDClock.Now()
	result, err := a.w.handle(ctx, a.deps, task)
	elapsed := a.deps.IDClock.Since(start)
	if err != nil {
		a.m.recordFailure()
		return nil, err
	}
	a.m.recordSuccess(elapsed)
	return result, nil
}

// ControlState implements taskqueue.Agent.
func (a *Agent) ControlState() taskqueue.ControlState {
	return a.state.Load().(taskqueue.ControlState)
}

// OnControl applies a control-plane directive (spec §4.7).
func (a *Agent) OnControl(op ControlOp) {
	switch op {
	case ControlOpPause:
		a.state.Store(taskqueue.ControlPaused)
	case ControlOpResume:
		a.state.Store(taskqueue.ControlRunning)
	case ControlOpReset:
		a.m.reset()
	}
}

// Describe returns the agent's current descriptor.
func (a *Agent) Describe() Descriptor {
	return Descriptor{
		Kind:         a.w.kind(),
		TenantID:     a.tenantID,
		Capabilities: capabilitiesFor(a.w.kind()),
		Status:       a.ControlState(),
		Completed:    a.m.completed.Load(),
		Failed:       a.m.failed.Load(),
		AvgLatencyMs: a.m.avgLatencyMs(),
	}
}

// Registry is the process-local per-kind-per-tenant agent registry (spec
// §4.7 Open Question resolution: agents are never persisted). It
// satisfies taskqueue.AgentRegistry.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	deps   Deps
}

// NewRegistry builds an empty Registry sharing deps across every agent it
// creates.
func NewRegistry(deps Deps) *Registry {
	return &Registry{agents: make(map[string]*Agent), deps: deps}
}

func registryKey(tenantID string, kind Kind) string { return tenantID + ":" + string(kind) }

// Ensure returns the agent bound to (tenantID, kind), creating one of the
// given kind on first use.
func (r *Registry) Ensure(tenantID string, kind Kind) *Agent {
	key := registryKey(tenantID, kind)

	r.mu.RLock()
	a, ok := r.agents[key]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[key]; ok {
		return a
	}
	a = newAgent(workerFor(kind), tenantID, r.deps)
	r.agents[key] = a
	return a
}

// Get implements taskqueue.AgentRegistry.
func (r *Registry) Get(tenantID, agentKind string) (taskqueue.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[registryKey(tenantID, Kind(agentKind))]
	return a, ok
}

// Describe returns the descriptor for (tenantID, kind), if it has been
// instantiated.
func (r *Registry) Describe(tenantID string, kind Kind) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[registryKey(tenantID, kind)]
	if !ok {
		return Descriptor{}, false
	}
	return a.Describe(), true
}

// Control applies op to the agent bound to (tenantID, kind), if any.
func (r *Registry) Control(tenantID string, kind Kind, op ControlOp) bool {
	r.mu.RLock()
	a, ok := r.agents[registryKey(tenantID, kind)]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	a.OnControl(op)
	return true
}

func workerFor(kind Kind) worker {
	switch kind {
	case KindSales:
		return salesWorker{}
	case KindMarketing:
		return marketingWorker{}
	case KindContent:
		return contentWorker{}
	case KindAnalytics:
		return analyticsWorker{}
	case KindOperations:
		return operationsWorker{}
	default:
		return salesWorker{}
	}
}

func capabilitiesFor(kind Kind) []modelprovider.Capability {
	switch kind {
	case KindAnalytics:
		return []modelprovider.Capability{modelprovider.CapReasoning, modelprovider.CapText}
	case KindContent:
		return []modelprovider.Capability{modelprovider.CapText, modelprovider.CapLongContext}
	default:
		return []modelprovider.Capability{modelprovider.CapText}
	}
}
