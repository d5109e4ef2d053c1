// Package stats exposes the driver's operational counters and latency
// histograms — session negotiation outcomes, KV operation latency, retry
// reasons, HTTP service dispatch — as Prometheus collectors, the metrics
// surface named in the teacher's go.mod but otherwise left unwired.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric the runtime emits, constructed once per
// Cluster and threaded down into Session/Bucket/retry.Orchestrator.
type Registry struct {
	SessionsOpened   prometheus.Counter
	SessionsFailed   *prometheus.CounterVec // label: stage (hello/errormap/sasl/selectbucket/getconfig)
	KVOpLatency      *prometheus.HistogramVec // labels: op, outcome
	KVOpsTotal       *prometheus.CounterVec   // labels: op, outcome
	RetryReasons     *prometheus.CounterVec   // label: reason
	ConfigInstalls   prometheus.Counter
	HTTPRequestLatency *prometheus.HistogramVec // label: service
}

// NewRegistry constructs a Registry and registers every collector with
// reg. Passing prometheus.NewRegistry() keeps tests hermetic; production
// callers typically pass prometheus.DefaultRegisterer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cbcore", Subsystem: "session", Name: "opened_total",
			Help: "Sessions that completed negotiation and reached the ready state.",
		}),
		SessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbcore", Subsystem: "session", Name: "failed_total",
			Help: "Sessions that failed during negotiation, by stage.",
		}, []string{"stage"}),
		KVOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cbcore", Subsystem: "kv", Name: "op_latency_seconds",
			Help:    "Key/value operation latency including retries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"op", "outcome"}),
		KVOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbcore", Subsystem: "kv", Name: "ops_total",
			Help: "Key/value operations, by opcode and outcome.",
		}, []string{"op", "outcome"}),
		RetryReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbcore", Subsystem: "retry", Name: "reasons_total",
			Help: "Retry evaluations, by Reason.",
		}, []string{"reason"}),
		ConfigInstalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cbcore", Subsystem: "bucket", Name: "config_installs_total",
			Help: "ClusterConfig snapshots installed (strictly newer revisions only).",
		}),
		HTTPRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cbcore", Subsystem: "http", Name: "request_latency_seconds",
			Help:    "HTTP service dispatch latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
	}
	for _, c := range []prometheus.Collector{
		r.SessionsOpened, r.SessionsFailed, r.KVOpLatency, r.KVOpsTotal,
		r.RetryReasons, r.ConfigInstalls, r.HTTPRequestLatency,
	} {
		if reg != nil {
			reg.MustRegister(c)
		}
	}
	return r
}

// Noop returns a Registry backed by collectors that were never registered
// anywhere, for callers that want the instrumentation calls to be no-ops
// (unit tests, short-lived CLI invocations).
func Noop() *Registry { return NewRegistry(nil) }
