// Package feed produces market events: the CoinAPI websocket, a synthetic
// random walk for demos and tests, and a Kafka reader for events published by
// the bridge.
package feed

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"indicator-pipeline/go/pkg/market"
	"indicator-pipeline/go/pkg/shared"
)

// Source emits events into out until ctx is done or the source is exhausted,
// then closes out. Start returns once the source is running.
type Source interface {
	Start(ctx context.Context, out chan<- market.Event) error
}

type Metrics struct {
	events    *prometheus.CounterVec
	malformed prometheus.Counter
	dropped   prometheus.Counter
	wsEvents  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		events:    shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "feed_events_total", Help: "Events emitted by the feed"}, []string{"kind"}),
		malformed: shared.NewCounter(reg, prometheus.CounterOpts{Name: "feed_malformed_total", Help: "Feed messages that failed to decode"}),
		dropped:   shared.NewCounter(reg, prometheus.CounterOpts{Name: "feed_dropped_total", Help: "Events dropped due to a full output queue"}),
		wsEvents:  shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "feed_ws_events_total", Help: "Websocket lifecycle events"}, []string{"event"}),
	}
}

// offer hands ev to out without blocking and counts it either way.
func (m *Metrics) offer(out chan<- market.Event, ev market.Event) bool {
	select {
	case out <- ev:
		m.events.WithLabelValues(string(ev.Kind)).Inc()
		return true
	default:
		m.dropped.Inc()
		return false
	}
}

// FromConfig picks the simulator when SIM_FEED is set and the CoinAPI
// websocket otherwise.
func FromConfig(cfg shared.FeedConfig, log shared.Logger, m *Metrics) (Source, error) {
	if cfg.Sim {
		return &Sim{Symbol: cfg.SimSymbol, BasePrice: cfg.SimPrice, Step: cfg.SimStep}, nil
	}
	return NewCoinAPI(cfg, log, m)
}
