package insights

import (
	"context"
	"sort"
	"time"

	"github.com/meridianai/controlplane/pkg/clock"
	"github.com/meridianai/controlplane/pkg/taskqueue"
)

// safeDefaultModelName is modelprovider.SafeDefaultEntry's catalogue name;
// a task whose stored result attributes its response to this model fell
// back to the safe default rather than a preferred provider.
const safeDefaultModelName = "safe-default"

// windowSampleCap bounds how many historical samples feed a rolling
// mean/stddev computation, so analysis cost stays bounded regardless of a
// tenant's retention.
const windowSampleCap = 500

// Engine is the Insights Engine (spec §4.9): it reads Task records and
// persisted MetricSamples scoped to a tenant and window, and produces
// performance summaries, anomalies, and advisory recommendations. It never
// writes back to the task queue or acts on its own findings.
type Engine struct {
	tasks   *taskqueue.Store
	samples *Store
	clock   clock.Clock
}

// NewEngine builds an Engine.
func NewEngine(tasks *taskqueue.Store, samples *Store, c clock.Clock) *Engine {
	return &Engine{tasks: tasks, samples: samples, clock: c}
}

// Analyze runs a full pass over tenantID's tasks created within [since,
// now), producing per-agent-kind summaries, anomalies, and
// recommendations. Anomalies are persisted as MetricSamples named
// "anomaly" so they remain retrievable via the same store (spec §4.9:
// "outputs are stored and retrievable").
func (e *Engine) Analyze(ctx context.Context, tenantID string, since time.Time) (AnalysisResult, error) {
	now := e.clock.Now()
	all, err := e.tasks.ListByTenant(ctx, tenantID)
	if err != nil {
		return AnalysisResult{}, err
	}

	byKind := make(map[string][]taskqueue.Task)
	for _, t := range all {
		if t.CreatedAt.Before(since) {
			continue
		}
		byKind[t.AgentKind] = append(byKind[t.AgentKind], t)
	}

	result := AnalysisResult{TenantID: tenantID, WindowStart: since, WindowEnd: now}

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	execHistory, err := e.samples.ListByTenant(ctx, tenantID, "task_exec_seconds", windowSampleCap)
	if err != nil {
		return AnalysisResult{}, err
	}

	for _, kind := range kinds {
		tasks := byKind[kind]
		summary := summarize(kind, tasks)
		result.Summaries = append(result.Summaries, summary)

		transientRatio := transientFailureRatio(tasks)
		fallbackRatio := safeDefaultFallbackRatio(tasks)
		result.Recommendations = append(result.Recommendations, recommendationsFor(summary, transientRatio, fallbackRatio)...)

		if anomaly, ok := detectFailureRatio(tenantID, kind, countFailed(tasks), len(tasks), now); ok {
			result.Anomalies = append(result.Anomalies, anomaly)
		}

		kindHistory := filterByAgentKind(execHistory, kind)
		if len(kindHistory) > 1 {
			latest := kindHistory[0].Value
			rest := valuesOf(kindHistory[1:])
			if anomaly, ok := detectDeviation(tenantID, kind, "task_exec_seconds", rest, latest, now); ok {
				result.Anomalies = append(result.Anomalies, anomaly)
			}
		}
	}

	for _, a := range result.Anomalies {
		_ = e.samples.Put(ctx, MetricSample{
			TenantID:  a.TenantID,
			AgentKind: a.AgentKind,
			Name:      "anomaly",
			Value:     a.Value,
			Labels:    map[string]string{"metric": a.Metric, "severity": string(a.Severity)},
			Timestamp: now,
		})
	}

	return result, nil
}

func summarize(agentKind string, tasks []taskqueue.Task) PerformanceSummary {
	var succeeded int
	var latencies []float64
	for _, t := range tasks {
		if t.State == taskqueue.StateSucceeded {
			succeeded++
		}
		if t.Terminal() {
			latencies = append(latencies, t.UpdatedAt.Sub(t.CreatedAt).Seconds()*1000)
		}
	}
	sort.Float64s(latencies)

	summary := PerformanceSummary{AgentKind: agentKind, Count: len(tasks)}
	if len(tasks) > 0 {
		summary.SuccessRate = float64(succeeded) / float64(len(tasks))
	}
	summary.P50Ms = percentile(latencies, 0.50)
	summary.P95Ms = percentile(latencies, 0.95)
	return summary
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func countFailed(tasks []taskqueue.Task) int {
	n := 0
	for _, t := range tasks {
		if t.State == taskqueue.StateFailed {
			n++
		}
	}
	return n
}

func transientFailureRatio(tasks []taskqueue.Task) float64 {
	if len(tasks) == 0 {
		return 0
	}
	transient := 0
	for _, t := range tasks {
		if t.State == taskqueue.StateFailed && t.FailureCause == taskqueue.CauseTransient {
			transient++
		}
	}
	return float64(transient) / float64(len(tasks))
}

func safeDefaultFallbackRatio(tasks []taskqueue.Task) float64 {
	terminal := 0
	fellBack := 0
	for _, t := range tasks {
		if t.State != taskqueue.StateSucceeded {
			continue
		}
		terminal++
		if model, _ := t.Result["model"].(string); model == safeDefaultModelName {
			fellBack++
		}
	}
	if terminal == 0 {
		return 0
	}
	return float64(fellBack) / float64(terminal)
}

func filterByAgentKind(samples []MetricSample, agentKind string) []MetricSample {
	out := make([]MetricSample, 0, len(samples))
	for _, s := range samples {
		if s.AgentKind == agentKind {
			out = append(out, s)
		}
	}
	return out
}

func valuesOf(samples []MetricSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
