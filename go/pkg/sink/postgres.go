package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"indicator-pipeline/go/pkg/pipeline"
	"indicator-pipeline/go/pkg/shared"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    id              BIGSERIAL PRIMARY KEY,
    symbol          TEXT NOT NULL,
    current_price   NUMERIC(20, 8),
    ts              TIMESTAMPTZ NOT NULL,
    trend           TEXT,
    buy_score       SMALLINT,
    sell_score      SMALLINT,
    hold_score      SMALLINT,
    ma5             NUMERIC(20, 8),
    ma10            NUMERIC(20, 8),
    ma15            NUMERIC(20, 8),
    ma30            NUMERIC(20, 8),
    macd            NUMERIC(20, 8),
    macd_signal     NUMERIC(20, 8),
    macd_diff       NUMERIC(20, 8),
    volume          NUMERIC(20, 8),
    rsi             NUMERIC(20, 8),
    bb_upper        NUMERIC(20, 8),
    bb_middle       NUMERIC(20, 8),
    bb_lower        NUMERIC(20, 8),
    stoch_k         NUMERIC(20, 8),
    stoch_d         NUMERIC(20, 8),
    vwap            NUMERIC(20, 8),
    spread          NUMERIC(20, 8),
    imbalance       NUMERIC(20, 8),
    processing_time NUMERIC(10, 4)
);
CREATE INDEX IF NOT EXISTS %s_symbol_ts_idx ON %s (symbol, ts);
`

// PostgresOptions tunes batching and retry.
type PostgresOptions struct {
	Table      string
	QueueSize  int
	BatchSize  int
	FlushEvery time.Duration
	Retries    int
	RetryWait  time.Duration
}

func (o PostgresOptions) withDefaults() PostgresOptions {
	if o.Table == "" {
		o.Table = "indicator_snapshots"
	}
	if o.QueueSize < 1 {
		o.QueueSize = 1024
	}
	if o.BatchSize < 1 {
		o.BatchSize = 50
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = 500 * time.Millisecond
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 500 * time.Millisecond
	}
	return o
}

type pgMetrics struct {
	written  prometheus.Counter
	failed   prometheus.Counter
	flushDur prometheus.Histogram
	queued   prometheus.Gauge
}

func newPGMetrics(reg prometheus.Registerer) pgMetrics {
	return pgMetrics{
		written:  shared.NewCounter(reg, prometheus.CounterOpts{Name: "sink_pg_rows_written_total", Help: "Snapshot rows written"}),
		failed:   shared.NewCounter(reg, prometheus.CounterOpts{Name: "sink_pg_rows_failed_total", Help: "Snapshot rows dropped after retries"}),
		flushDur: shared.NewHist(reg, prometheus.HistogramOpts{Name: "sink_pg_flush_seconds", Help: "Batch write duration", Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0}}),
		queued:   shared.NewGauge(reg, prometheus.GaugeOpts{Name: "sink_pg_queue_depth", Help: "Snapshots waiting for a batch write"}),
	}
}

// Postgres buffers snapshots and writes them in batches from one worker, so
// Accept never waits on the database. Failed batches are retried a bounded
// number of times and then dropped.
type Postgres struct {
	db      shared.DB
	opts    PostgresOptions
	insert  string
	log     shared.Logger
	metrics pgMetrics

	mu     sync.RWMutex
	closed bool
	in     chan pipeline.Snapshot
	done   chan struct{}
}

// EnsureSchema creates the snapshot table when missing.
func EnsureSchema(ctx context.Context, db shared.DB, table string) error {
	if err := db.Exec(ctx, fmt.Sprintf(createTableSQL, table, table, table)); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

func NewPostgres(db shared.DB, opts PostgresOptions, log shared.Logger, reg prometheus.Registerer) *Postgres {
	opts = opts.withDefaults()
	p := &Postgres{
		db:      db,
		opts:    opts,
		insert:  insertSQL(opts.Table, func(i int) string { return fmt.Sprintf("$%d", i) }),
		log:     log,
		metrics: newPGMetrics(reg),
		in:      make(chan pipeline.Snapshot, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Postgres) Accept(_ context.Context, s pipeline.Snapshot) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.in <- s:
		p.metrics.queued.Set(float64(len(p.in)))
		return nil
	default:
		return ErrFull
	}
}

// Close stops intake and waits for buffered snapshots to be written.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.in)
	p.mu.Unlock()
	<-p.done
	return nil
}

func (p *Postgres) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.FlushEvery)
	defer ticker.Stop()
	batch := make([]pipeline.Snapshot, 0, p.opts.BatchSize)

	for {
		select {
		case s, ok := <-p.in:
			if !ok {
				p.flush(batch)
				return
			}
			batch = append(batch, s)
			if len(batch) >= p.opts.BatchSize {
				p.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			p.flush(batch)
			batch = batch[:0]
		}
		p.metrics.queued.Set(float64(len(p.in)))
	}
}

func (p *Postgres) flush(batch []pipeline.Snapshot) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	defer func() { p.metrics.flushDur.Observe(time.Since(start).Seconds()) }()

	var err error
	for attempt := 0; attempt <= p.opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.opts.RetryWait * time.Duration(1<<(attempt-1)))
		}
		if err = p.write(batch); err == nil {
			p.metrics.written.Add(float64(len(batch)))
			return
		}
		p.log.Warnf("[sink/pg] batch of %d failed (attempt %d/%d): %v", len(batch), attempt+1, p.opts.Retries+1, err)
	}
	p.metrics.failed.Add(float64(len(batch)))
}

func (p *Postgres) write(batch []pipeline.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	b := &pgx.Batch{}
	for _, s := range batch {
		b.Queue(p.insert, rowValues(s)...)
	}
	return p.db.SendBatch(ctx, b)
}
