package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "strata"

var (
	Gather = prometheus.NewRegistry()

	PolicerPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "policer",
			Name:      "passes_total",
			Help:      "Counter of policer passes by outcome.",
		}, []string{"result"})

	PolicerObjects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "policer",
			Name:      "objects_total",
			Help:      "Counter of objects checked by the policer by outcome.",
		}, []string{"result"})

	PolicerWorkScope = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "policer",
			Name:      "work_scope",
			Help:      "Current number of objects selected per pass.",
		})

	PolicerShortage = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "policer",
			Name:      "missing_replicas_total",
			Help:      "Replicas found missing across all passes.",
		})

	ReplicatorTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replicator",
			Name:      "tasks_total",
			Help:      "Counter of replication tasks by outcome.",
		}, []string{"result"})

	ReplicatorPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replicator",
			Name:      "pushes_total",
			Help:      "Counter of object pushes to remote nodes by outcome.",
		}, []string{"result"})

	ReplicatorPushBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "replicator",
			Name:      "pushed_bytes_total",
			Help:      "Payload bytes successfully pushed to remote nodes.",
		})

	TransportRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Counter of served node requests by type and status.",
		}, []string{"type", "status"})

	TransportHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "client_seconds",
			Help:      "Bucketed histogram of outgoing node request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"type"})

	NetworkStreams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "network",
			Name:      "streams_total",
			Help:      "Counter of QUIC streams by kind and direction.",
		}, []string{"kind", "direction"})

	ObjectRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "object",
			Name:      "requests_total",
			Help:      "Counter of object service operations by outcome.",
		}, []string{"op", "result"})

	LocalObjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "localstore",
			Name:      "objects",
			Help:      "Number of objects stored on this node.",
		})

	NetMapEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "netmap",
			Name:      "epoch",
			Help:      "Current network map epoch.",
		})
)

func init() {
	Gather.MustRegister(PolicerPasses)
	Gather.MustRegister(PolicerObjects)
	Gather.MustRegister(PolicerWorkScope)
	Gather.MustRegister(PolicerShortage)
	Gather.MustRegister(ReplicatorTasks)
	Gather.MustRegister(ReplicatorPushes)
	Gather.MustRegister(ReplicatorPushBytes)
	Gather.MustRegister(TransportRequests)
	Gather.MustRegister(TransportHistogram)
	Gather.MustRegister(NetworkStreams)
	Gather.MustRegister(ObjectRequests)
	Gather.MustRegister(LocalObjects)
	Gather.MustRegister(NetMapEpoch)
	Gather.MustRegister(collectors.NewGoCollector())
	Gather.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gather, promhttp.HandlerOpts{})
}
