package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsOptions configures collector registration.
type MetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// Metrics exposes Prometheus collectors for conversation flows, directory
// operations and session lifecycle. All record methods are nil-safe so
// collaborators can run without telemetry wired.
type Metrics struct {
	FlowsStarted   *prometheus.CounterVec
	FlowsCompleted *prometheus.CounterVec
	DirectoryOps   *prometheus.CounterVec
	DirectoryOpDur *prometheus.HistogramVec
	SessionsEnded  prometheus.Counter
}

// NewMetrics constructs and registers the collectors.
func NewMetrics(opts MetricsOptions) (*Metrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "tbot"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	flowsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flows_started_total",
		Help:      "Total number of conversation flows entered, partitioned by flow.",
	}, []string{"flow"})

	flowsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flows_completed_total",
		Help:      "Total number of conversation flows reaching a terminal state, partitioned by flow and outcome.",
	}, []string{"flow", "outcome"})

	directoryOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "directory_operations_total",
		Help:      "Total number of directory operations, partitioned by operation and outcome.",
	}, []string{"operation", "outcome"})

	directoryOpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "directory_operation_duration_seconds",
		Help:      "Directory operation latency, partitioned by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	sessionsEnded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_terminated_total",
		Help:      "Total number of explicitly terminated sessions.",
	})

	for _, collector := range []prometheus.Collector{flowsStarted, flowsCompleted, directoryOps, directoryOpDur, sessionsEnded} {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return &Metrics{
		FlowsStarted:   flowsStarted,
		FlowsCompleted: flowsCompleted,
		DirectoryOps:   directoryOps,
		DirectoryOpDur: directoryOpDur,
		SessionsEnded:  sessionsEnded,
	}, nil
}

// RecordFlowStarted counts a flow entry.
func (m *Metrics) RecordFlowStarted(flow string) {
	if m == nil {
		return
	}
	m.FlowsStarted.WithLabelValues(flow).Inc()
}

// RecordFlowCompleted counts a terminal transition.
func (m *Metrics) RecordFlowCompleted(flow, outcome string) {
	if m == nil {
		return
	}
	m.FlowsCompleted.WithLabelValues(flow, outcome).Inc()
}

// RecordDirectoryOp counts a directory operation and observes its latency.
func (m *Metrics) RecordDirectoryOp(operation string, start time.Time, failed bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	m.DirectoryOps.WithLabelValues(operation, outcome).Inc()
	m.DirectoryOpDur.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordSessionTerminated counts an explicit session deletion.
func (m *Metrics) RecordSessionTerminated() {
	if m == nil {
		return
	}
	m.SessionsEnded.Inc()
}
