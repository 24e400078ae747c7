package sink

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"indicator-pipeline/go/pkg/pipeline"
	"indicator-pipeline/go/pkg/shared"
)

type measureMetrics struct {
	acceptDur   *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// timed records Accept latency and the time of the last accepted snapshot for
// one named sink.
type timed struct {
	name string
	next pipeline.Sink
	m    measureMetrics
	now  func() time.Time
}

func (t timed) Accept(ctx context.Context, s pipeline.Snapshot) error {
	start := t.now()
	err := t.next.Accept(ctx, s)
	t.m.acceptDur.WithLabelValues(t.name).Observe(t.now().Sub(start).Seconds())
	if err == nil {
		t.m.lastSuccess.WithLabelValues(t.name).Set(float64(t.now().Unix()))
	}
	return err
}

// Measure wraps every sink of f with per-sink latency and last-success metrics.
func Measure(f Fanout, reg prometheus.Registerer) Fanout {
	m := measureMetrics{
		acceptDur: shared.NewHistVec(reg, prometheus.HistogramOpts{
			Name:    "sink_accept_seconds",
			Help:    "Time spent in Accept per sink",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"sink"}),
		lastSuccess: shared.NewGaugeVec(reg, prometheus.GaugeOpts{
			Name: "sink_last_success_timestamp_seconds",
			Help: "Unix time of the last snapshot each sink accepted",
		}, []string{"sink"}),
	}
	out := make(Fanout, len(f))
	for i, n := range f {
		out[i] = Named{Name: n.Name, Sink: timed{name: n.Name, next: n.Sink, m: m, now: time.Now}}
	}
	return out
}
