package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestore_appends_total",
			Help: "Total number of append calls per store and result",
		},
		[]string{"store", "result"}, // ok, conflict, error
	)

	AppendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tapestore_append_latency_seconds",
			Help:    "Histogram of append latency including the durable commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store"},
	)

	StoreVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapestore_store_version",
			Help: "Current global store version",
		},
		[]string{"store"},
	)

	ReplayedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestore_replayed_frames_total",
			Help: "Total number of frames loaded while initializing a store",
		},
		[]string{"store"},
	)
)
