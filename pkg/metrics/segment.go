package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SegmentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestore_segments_created_total",
			Help: "Total number of segments created, including rollovers",
		},
		[]string{"store"},
	)

	Truncations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestore_torn_tail_truncations_total",
			Help: "Total number of segments truncated after a torn tail was detected",
		},
		[]string{"store"},
	)

	BytesPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapestore_bytes_persisted_total",
			Help: "Total number of frame bytes handed to the backing medium",
		},
		[]string{"store"},
	)
)
