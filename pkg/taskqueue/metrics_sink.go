package taskqueue

import "context"

// MetricSink persists a MetricSample alongside the Prometheus gauges the
// dispatcher always emits, implemented by pkg/insights; declared here as a
// narrow interface so this package never imports insights (spec §4.6: "the
// dispatcher emits MetricSamples for queue wait time, execution time,
// retries, and outcome").
type MetricSink interface {
	Record(ctx context.Context, tenantID, agentKind, name string, value float64, labels map[string]string)
}
