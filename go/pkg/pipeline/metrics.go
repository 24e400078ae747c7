package pipeline

import (
	"indicator-pipeline/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundle.
type Metrics struct {
	events         *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	skipped        prometheus.Counter
	dispatched     prometheus.Counter
	dispatchFailed prometheus.Counter
	windowLen      prometheus.Gauge
	computeDur     prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		events:         shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "pipeline_events_total", Help: "Events applied to the window or book cache"}, []string{"kind"}),
		dropped:        shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "pipeline_events_dropped_total", Help: "Events discarded before reaching state"}, []string{"reason"}),
		skipped:        shared.NewCounter(reg, prometheus.CounterOpts{Name: "pipeline_ticks_skipped_total", Help: "Ticks skipped for insufficient data"}),
		dispatched:     shared.NewCounter(reg, prometheus.CounterOpts{Name: "pipeline_snapshots_dispatched_total", Help: "Snapshots accepted by the sink"}),
		dispatchFailed: shared.NewCounter(reg, prometheus.CounterOpts{Name: "pipeline_dispatch_failures_total", Help: "Snapshots rejected by the sink"}),
		windowLen:      shared.NewGauge(reg, prometheus.GaugeOpts{Name: "pipeline_window_trades", Help: "Trades currently in the window"}),
		computeDur: shared.NewHist(reg, prometheus.HistogramOpts{
			Name:    "pipeline_compute_seconds",
			Help:    "Indicator, feature and score computation time",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}),
	}
}
