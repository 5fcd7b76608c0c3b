package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/downfa11-org/tapestore/pkg/types"
	"github.com/downfa11-org/tapestore/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
)

func init() {
	prometheus.MustRegister(AppendsTotal, AppendLatency, StoreVersion, ReplayedFrames)
	prometheus.MustRegister(SegmentsCreated, Truncations, BytesPersisted)
}

func StartMetricsServer(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		util.Info("[METRICS] Prometheus exporter listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			util.Error("[METRICS] Failed to start metrics server: %v", err)
		}
	}()
}

// ObserveAppend records the outcome of one append.
func ObserveAppend(store, result string, elapsed time.Duration, version int64) {
	AppendsTotal.WithLabelValues(store, result).Inc()
	AppendLatency.WithLabelValues(store).Observe(elapsed.Seconds())
	if result == ResultOK {
		StoreVersion.WithLabelValues(store).Set(float64(version))
	}
}

// ResultOf maps an append error to the result label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case types.IsConcurrencyError(err):
		return ResultConflict
	default:
		return ResultError
	}
}
