package transaction

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyobj",
			Subsystem: "txn",
			Name:      "txns_count",
			Help:      "Counter of finished transactions.",
		}, []string{"result"})

	txnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinyobj",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of processing time (s) of transaction commits.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 13),
		}, []string{"result"})

	participantHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinyobj",
			Subsystem: "txn",
			Name:      "participants",
			Help:      "Bucketed histogram of participants per committed transaction.",
			Buckets:   []float64{0, 1, 2, 3, 4, 8},
		})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(txnDuration)
	prometheus.MustRegister(participantHistogram)
}
