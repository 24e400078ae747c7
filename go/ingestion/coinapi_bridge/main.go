package main

import (
	"context"
	"hash/fnv"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"indicator-pipeline/go/pkg/feed"
	"indicator-pipeline/go/pkg/market"
	"indicator-pipeline/go/pkg/shared"
)

// Config specific to ingestion.
type Config struct {
	Kafka          shared.KafkaConfig
	Metrics        shared.MetricsConfig
	Log            shared.LogConfig
	Feed           shared.FeedConfig
	BatchFlush     time.Duration `envconfig:"BATCH_FLUSH" default:"200ms"`
	MaxBatch       int           `envconfig:"MAX_BATCH" default:"256"`
	ProduceWorkers int           `envconfig:"PRODUCE_WORKERS" default:"2"`
	ProduceQueue   int           `envconfig:"PRODUCE_QUEUE" default:"16000"`
	SourceQueue    int           `envconfig:"SOURCE_QUEUE" default:"20000"`
}

type bridgeMetrics struct {
	published *prometheus.CounterVec
	qDepth    prometheus.Gauge
	batchSz   prometheus.Histogram
	latency   prometheus.Histogram
	dropped   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) bridgeMetrics {
	return bridgeMetrics{
		published: shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "bridge_events_published_total", Help: "Events written to Kafka"}, []string{"kind"}),
		qDepth:    shared.NewGauge(reg, prometheus.GaugeOpts{Name: "bridge_queue_depth", Help: "Events queued for publishing"}),
		batchSz:   shared.NewHist(reg, prometheus.HistogramOpts{Name: "bridge_batch_size", Help: "Batch size", Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500}}),
		latency:   shared.NewHist(reg, prometheus.HistogramOpts{Name: "bridge_latency_seconds", Help: "Event to publish latency", Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5}}),
		dropped:   shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "bridge_events_dropped_total", Help: "Events not published"}, []string{"reason"}),
	}
}

// eventTime is the exchange time carried by ev.
func eventTime(ev market.Event) time.Time {
	if ev.Kind == market.KindBook {
		return ev.Book.Time
	}
	return ev.Trade.Time
}

// publisher batches events for one shard and writes them with p.
type publisher struct {
	id         int
	topic      string
	maxBatch   int
	flushEvery time.Duration
	p          shared.Producer
	log        shared.Logger
	metrics    bridgeMetrics
	inFlight   *atomic.Int64
	in         <-chan market.Event
}

func (w *publisher) run(wg *sync.WaitGroup) {
	defer wg.Done()
	batch := make([]market.Event, 0, w.maxBatch)
	timer := time.NewTimer(w.flushEvery)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.publish(batch)
		w.inFlight.Add(int64(-len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-w.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.maxBatch {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.flushEvery)
			}
		case <-timer.C:
			flush()
			timer.Reset(w.flushEvery)
		}
	}
}

func (w *publisher) publish(batch []market.Event) {
	w.metrics.batchSz.Observe(float64(len(batch)))
	records := make([]shared.Record, 0, len(batch))
	sent := make([]market.Event, 0, len(batch))
	for _, ev := range batch {
		raw, err := market.MarshalEvent(ev)
		if err != nil {
			w.metrics.dropped.WithLabelValues("marshal").Inc()
			continue
		}
		records = append(records, shared.Record{Key: []byte(ev.Symbol()), Value: raw, Time: eventTime(ev)})
		sent = append(sent, ev)
	}
	if len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := w.p.ProduceBatch(ctx, w.topic, records); err != nil {
		w.metrics.dropped.WithLabelValues("produce").Add(float64(len(records)))
		w.log.Warnf("[bridge] worker=%d batch write failed: %v", w.id, err)
		return
	}
	for _, ev := range sent {
		w.metrics.published.WithLabelValues(string(ev.Kind)).Inc()
		w.metrics.latency.Observe(time.Since(eventTime(ev)).Seconds())
	}
}

// startPublishers runs one publisher per shard; stop closes their inputs and
// waits for the final flush.
func startPublishers(cfg Config, p shared.Producer, log shared.Logger, m bridgeMetrics, inFlight *atomic.Int64) ([]chan market.Event, func()) {
	workers := max(cfg.ProduceWorkers, 1)
	flushEvery := cfg.BatchFlush
	if flushEvery <= 0 {
		flushEvery = 50 * time.Millisecond
	}
	chans := make([]chan market.Event, workers)
	var wg sync.WaitGroup
	for i := range chans {
		chans[i] = make(chan market.Event, max(cfg.ProduceQueue, 1))
		w := &publisher{
			id:         i,
			topic:      cfg.Kafka.EventsTopic,
			maxBatch:   max(cfg.MaxBatch, 1),
			flushEvery: flushEvery,
			p:          p,
			log:        log,
			metrics:    m,
			inFlight:   inFlight,
			in:         chans[i],
		}
		wg.Add(1)
		go w.run(&wg)
	}
	stop := func() {
		for _, ch := range chans {
			close(ch)
		}
		wg.Wait()
	}
	return chans, stop
}

// shardFor keeps every event of a symbol on one publisher so per-symbol order
// survives batching.
func shardFor(symbol string, workers int) int {
	if workers <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(workers))
}

// route forwards events from the source to the publishers until ctx is done or
// the source closes.
func route(ctx context.Context, in <-chan market.Event, shards []chan market.Event, m bridgeMetrics, inFlight *atomic.Int64, log shared.Logger) {
	qTicker := time.NewTicker(250 * time.Millisecond)
	defer qTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("bridge shutdown: draining publisher queues")
			return
		case ev, ok := <-in:
			if !ok {
				log.Printf("feed closed")
				return
			}
			select {
			case shards[shardFor(ev.Symbol(), len(shards))] <- ev:
				inFlight.Add(1)
			default:
				m.dropped.WithLabelValues("queue_full").Inc()
			}
		case <-qTicker.C:
			m.qDepth.Set(float64(inFlight.Load() + int64(len(in))))
		}
	}
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		shared.NewLogger("bridge", "info").Fatalf("config: %v", err)
	}
	logger := shared.NewLogger("bridge", cfg.Log.Level)
	reg := prometheus.DefaultRegisterer
	m := newMetrics(reg)
	ms := shared.NewMetricsServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
	ms.Start()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	src, err := feed.FromConfig(cfg.Feed, logger, feed.NewMetrics(reg))
	if err != nil {
		logger.Fatalf("build source: %v", err)
	}
	out := make(chan market.Event, max(cfg.SourceQueue, 1))
	if err := src.Start(ctx, out); err != nil {
		logger.Fatalf("source start: %v", err)
	}

	producer := shared.NewProducer(cfg.Kafka)
	defer producer.Close()
	var inFlight atomic.Int64
	shards, stopPublishers := startPublishers(cfg, producer, logger, m, &inFlight)

	logger.Printf("running bridge -> topic=%s sim=%v asset=%s exchange=%s workers=%d queue=%d",
		cfg.Kafka.EventsTopic, cfg.Feed.Sim, cfg.Feed.AssetID, cfg.Feed.ExchangeID, len(shards), cfg.ProduceQueue)

	route(ctx, out, shards, m, &inFlight, logger)
	stopPublishers()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ms.Shutdown(shutCtx)
}
