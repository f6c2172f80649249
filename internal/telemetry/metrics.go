package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// TaskQueueDepth reports the current number of queued tasks per tenant/agent.
var TaskQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "controlplane",
		Subsystem: "dispatcher",
		Name:      "queue_depth",
		Help:      "Number of tasks currently queued, by tenant and agent kind.",
	},
	[]string{"tenant_id", "agent_kind"},
)

// TaskOutcomesTotal counts terminal task outcomes.
var TaskOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "dispatcher",
		Name:      "task_outcomes_total",
		Help:      "Total number of terminal task outcomes, by agent kind and outcome.",
	},
	[]string{"agent_kind", "outcome"},
)

// TaskRetriesTotal counts dispatcher-level retries.
var TaskRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "dispatcher",
		Name:      "task_retries_total",
		Help:      "Total number of task retries, by agent kind.",
	},
	[]string{"agent_kind"},
)

// TaskWaitDuration tracks queue wait time.
var TaskWaitDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "dispatcher",
		Name:      "task_wait_seconds",
		Help:      "Time a task spent queued before dispatch.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"agent_kind"},
)

// TaskExecDuration tracks task execution time.
var TaskExecDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "dispatcher",
		Name:      "task_exec_seconds",
		Help:      "Time spent executing a task.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"agent_kind"},
)

// ModelFallbacksTotal counts provider fallback events.
var ModelFallbacksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "modelprovider",
		Name:      "fallbacks_total",
		Help:      "Total number of model provider fallback events.",
	},
	[]string{"from", "to"},
)

// CacheHitsTotal and CacheMissesTotal track cache effectiveness.
var (
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "controlplane", Subsystem: "cache", Name: "hits_total",
		Help: "Total number of cache hits.",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "controlplane", Subsystem: "cache", Name: "misses_total",
		Help: "Total number of cache misses.",
	})
)

// AnomaliesTotal counts anomalies flagged by the insights engine.
var AnomaliesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "insights",
		Name:      "anomalies_total",
		Help:      "Total number of anomalies flagged, by severity.",
	},
	[]string{"severity"},
)

// All returns every control-plane-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		TaskQueueDepth,
		TaskOutcomesTotal,
		TaskRetriesTotal,
		TaskWaitDuration,
		TaskExecDuration,
		ModelFallbacksTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		AnomaliesTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTP duration metric, and the control plane's
// own collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
