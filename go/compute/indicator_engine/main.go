package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"indicator-pipeline/go/pkg/feed"
	"indicator-pipeline/go/pkg/market"
	"indicator-pipeline/go/pkg/pipeline"
	"indicator-pipeline/go/pkg/shared"
	"indicator-pipeline/go/pkg/sink"
)

type Config struct {
	Kafka    shared.KafkaConfig
	PG       shared.PostgresConfig
	Metrics  shared.MetricsConfig
	Log      shared.LogConfig
	Pipeline shared.PipelineConfig
	Feed     shared.FeedConfig
	Webhook  shared.WebhookConfig
	SQLite   shared.SQLiteConfig

	Source        string        `envconfig:"SOURCE" default:"kafka"` // kafka | direct
	Sinks         string        `envconfig:"SINKS" default:"log"`
	SnapshotTopic string        `envconfig:"SNAPSHOT_TOPIC" default:"indicators.snapshots"`
	PGBatch       int           `envconfig:"PG_BATCH" default:"50"`
	PGQueue       int           `envconfig:"PG_QUEUE" default:"1024"`
	PGFlush       time.Duration `envconfig:"PG_FLUSH" default:"500ms"`
	PGRetries     int           `envconfig:"PG_RETRIES" default:"3"`
}

const (
	sinkPostgres = "postgres"
	sinkKafka    = "kafka"
	sinkWebhook  = "webhook"
	sinkSQLite   = "sqlite"
	sinkLog      = "log"
)

// parseSinks splits SINKS into known, de-duplicated names in the given order.
func parseSinks(raw string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		switch name {
		case sinkPostgres, sinkKafka, sinkWebhook, sinkSQLite, sinkLog:
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.New("SINKS selects no sink")
	}
	return out, nil
}

// resources collects what main must release on shutdown, in reverse order.
type resources struct {
	closers []func() error
}

func (r *resources) add(f func() error) { r.closers = append(r.closers, f) }

func (r *resources) close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func buildSinks(ctx context.Context, cfg Config, log shared.Logger, reg prometheus.Registerer, res *resources) (sink.Fanout, error) {
	names, err := parseSinks(cfg.Sinks)
	if err != nil {
		return nil, err
	}
	var out sink.Fanout
	for _, name := range names {
		var s pipeline.Sink
		switch name {
		case sinkPostgres:
			db, err := shared.NewPgxPool(ctx, cfg.PG)
			if err != nil {
				return nil, fmt.Errorf("db init: %w", err)
			}
			res.add(func() error { db.Close(); return nil })
			if err := sink.EnsureSchema(ctx, db, cfg.PG.Table); err != nil {
				return nil, err
			}
			pg := sink.NewPostgres(db, sink.PostgresOptions{
				Table:      cfg.PG.Table,
				QueueSize:  cfg.PGQueue,
				BatchSize:  cfg.PGBatch,
				FlushEvery: cfg.PGFlush,
				Retries:    cfg.PGRetries,
			}, log, reg)
			res.add(pg.Close)
			s = pg
		case sinkKafka:
			p := shared.NewProducer(cfg.Kafka)
			res.add(p.Close)
			s = sink.Kafka{P: p, Topic: cfg.SnapshotTopic}
		case sinkWebhook:
			wh, err := sink.NewWebhook(cfg.Webhook, log)
			if err != nil {
				return nil, err
			}
			res.add(wh.Close)
			s = wh
		case sinkSQLite:
			db, err := sink.OpenSQLite(cfg.SQLite.Path)
			if err != nil {
				return nil, err
			}
			res.add(db.Close)
			s = db
		case sinkLog:
			s = sink.Log{L: log}
		}
		out = append(out, sink.Named{Name: name, Sink: s})
	}
	return sink.Measure(out, reg), nil
}

func buildSource(cfg Config, log shared.Logger, reg prometheus.Registerer, res *resources) (feed.Source, error) {
	m := feed.NewMetrics(reg)
	switch strings.ToLower(cfg.Source) {
	case "kafka":
		c, err := shared.NewConsumer(cfg.Kafka, cfg.Kafka.EventsTopic)
		if err != nil {
			return nil, fmt.Errorf("consumer init: %w", err)
		}
		res.add(c.Close)
		return &feed.Kafka{C: c, Log: log, Metrics: m}, nil
	case "direct":
		return feed.FromConfig(cfg.Feed, log, m)
	default:
		return nil, fmt.Errorf("unknown SOURCE %q", cfg.Source)
	}
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		shared.NewLogger("engine", "info").Fatalf("config: %v", err)
	}
	logger := shared.NewLogger("engine", cfg.Log.Level)
	reg := prometheus.DefaultRegisterer

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	var res resources
	fanout, err := buildSinks(ctx, cfg, logger, reg, &res)
	if err != nil {
		_ = res.close()
		logger.Fatalf("sink init: %v", err)
	}
	src, err := buildSource(cfg, logger, reg, &res)
	if err != nil {
		_ = res.close()
		logger.Fatalf("source init: %v", err)
	}

	events := make(chan market.Event, max(cfg.Pipeline.QueueSize, 1))
	engine, err := pipeline.NewEngine(cfg.Pipeline, events, fanout, logger, pipeline.NewMetrics(reg))
	if err != nil {
		_ = res.close()
		logger.Fatalf("engine init: %v", err)
	}

	ms := shared.NewMetricsServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
	ms.Handle("/latest", engine.StatusHandler())
	ms.Start()

	if err := src.Start(ctx, events); err != nil {
		_ = res.close()
		logger.Fatalf("source start: %v", err)
	}
	go logErrors(ctx, engine.Errors(), logger)

	logger.Printf("running indicator engine source=%s sinks=%s symbol=%q window=%d min=%d tick=%s",
		cfg.Source, cfg.Sinks, cfg.Pipeline.Symbol, cfg.Pipeline.WindowSize, cfg.Pipeline.MinTrades, cfg.Pipeline.TickInterval)

	if err := engine.Run(ctx); err != nil {
		logger.Warnf("engine stopped: %v", err)
	}

	logger.Printf("shutdown: flushing sinks")
	if err := res.close(); err != nil {
		logger.Warnf("close: %v", err)
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ms.Shutdown(shutCtx)
}

// logErrors summarises engine errors once a minute.
func logErrors(ctx context.Context, errs <-chan error, log shared.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	var sinkErrs, malformed int
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			switch {
			case errors.Is(err, pipeline.ErrSinkFailure):
				sinkErrs++
			case errors.Is(err, market.ErrMalformedEvent):
				malformed++
			}
		case <-ticker.C:
			if sinkErrs+malformed > 0 {
				log.Warnf("last minute: %d sink failures, %d malformed events", sinkErrs, malformed)
			}
			sinkErrs, malformed = 0, 0
		}
	}
}
