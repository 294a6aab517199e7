package standalone_storage

import "github.com/prometheus/client_golang/prometheus"

var (
	lockWaitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyobj",
			Subsystem: "store",
			Name:      "lock_acquire_total",
			Help:      "Counter of lock acquisitions by result.",
		}, []string{"mode", "result"})

	lockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinyobj",
			Subsystem: "store",
			Name:      "lock_wait_duration_seconds",
			Help:      "Bucketed histogram of time (s) spent acquiring locks.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		})

	idBlockCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyobj",
			Subsystem: "store",
			Name:      "id_blocks_total",
			Help:      "Counter of id blocks reserved in the header.",
		}, []string{"type"})

	commitBytesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinyobj",
			Subsystem: "store",
			Name:      "commit_bytes_total",
			Help:      "Counter of key and value bytes written by commits.",
		})

	checkpointCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyobj",
			Subsystem: "store",
			Name:      "checkpoints_total",
			Help:      "Counter of checkpoints by trigger.",
		}, []string{"trigger"})

	checkpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinyobj",
			Subsystem: "store",
			Name:      "checkpoint_duration_seconds",
			Help:      "Bucketed histogram of checkpoint duration (s).",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		})

	engineSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyobj",
			Subsystem: "store",
			Name:      "engine_size_bytes",
			Help:      "Size of the engine files as of the last checkpoint or checkpointer start.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(lockWaitCounter)
	prometheus.MustRegister(lockWaitDuration)
	prometheus.MustRegister(idBlockCounter)
	prometheus.MustRegister(commitBytesCounter)
	prometheus.MustRegister(checkpointCounter)
	prometheus.MustRegister(checkpointDuration)
	prometheus.MustRegister(engineSizeGauge)
}
