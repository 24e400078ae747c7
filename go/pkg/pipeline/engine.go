// Package pipeline runs the recompute loop: it drains ingested events into
// the trade window and book cache, and on a fixed cadence computes indicators,
// book features and scores, then hands one composed Snapshot to a Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"indicator-pipeline/go/pkg/indicators"
	"indicator-pipeline/go/pkg/market"
	"indicator-pipeline/go/pkg/orderbook"
	"indicator-pipeline/go/pkg/scoring"
	"indicator-pipeline/go/pkg/shared"
	"indicator-pipeline/go/pkg/window"
)

// ErrSinkFailure wraps errors returned by Sink.Accept.
var ErrSinkFailure = errors.New("sink rejected snapshot")

// Sink receives composed snapshots. Retrying is the sink's concern; the engine
// calls Accept exactly once per completed cycle.
type Sink interface {
	Accept(ctx context.Context, s Snapshot) error
}

// state is everything the loop mutates. mu guards it against readers of
// LatestTrade running on other goroutines.
type state struct {
	mu        sync.Mutex
	win       *window.Store
	book      orderbook.Cache
	latest    market.Trade
	hasLatest bool
}

func (s *state) apply(ev market.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case market.KindTrade:
		s.win.Push(ev.Trade)
		s.latest = ev.Trade
		s.hasLatest = true
	case market.KindBook:
		s.book.Update(ev.Book)
	}
}

func (s *state) read() ([]market.Trade, market.OrderBook, bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades, err := s.win.Snapshot()
	book, ok := s.book.Get()
	return trades, book, ok, s.win.Len(), err
}

type Engine struct {
	cfg     shared.PipelineConfig
	in      <-chan market.Event
	sink    Sink
	log     shared.Logger
	metrics *Metrics
	errs    chan error

	st      state
	last    atomic.Pointer[Snapshot]
	waiting bool
}

// NewEngine validates cfg and allocates the window. An allocation failure is
// the only error the pipeline treats as fatal.
func NewEngine(cfg shared.PipelineConfig, in <-chan market.Event, sink Sink, log shared.Logger, m *Metrics) (*Engine, error) {
	if in == nil || sink == nil || m == nil {
		return nil, errors.New("engine needs an input channel, a sink and metrics")
	}
	if cfg.TickInterval <= 0 || cfg.GateInterval <= 0 {
		return nil, fmt.Errorf("tick and gate intervals must be positive (tick=%s gate=%s)", cfg.TickInterval, cfg.GateInterval)
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 2 * time.Second
	}
	win, err := window.New(cfg.WindowSize, cfg.MinTrades)
	if err != nil {
		return nil, fmt.Errorf("allocate window: %w", err)
	}
	if log == nil {
		log = shared.NopLogger()
	}
	cfg.Symbol = strings.TrimSpace(cfg.Symbol)
	return &Engine{
		cfg:     cfg,
		in:      in,
		sink:    sink,
		log:     log,
		metrics: m,
		errs:    make(chan error, 64),
		st:      state{win: win},
	}, nil
}

// Errors surfaces non-fatal per-tick failures (malformed events, sink
// rejections). Errors are dropped when nobody drains the channel.
func (e *Engine) Errors() <-chan error { return e.errs }

// Latest returns the most recently composed snapshot, whether or not the sink
// accepted it.
func (e *Engine) Latest() (Snapshot, bool) {
	s := e.last.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// LatestTrade returns the last trade applied, in arrival order.
func (e *Engine) LatestTrade() (market.Trade, bool) {
	e.st.mu.Lock()
	defer e.st.mu.Unlock()
	return e.st.latest, e.st.hasLatest
}

// Run drives drain → gate → compute → dispatch until ctx is cancelled or the
// input channel is closed. A cycle that has started always completes; its
// dispatch is detached from ctx cancellation and bounded by DispatchTimeout.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Printf("recompute loop started window=%d min=%d tick=%s", e.st.win.Cap(), e.st.win.MinTrades(), e.cfg.TickInterval)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		// A timer that fires together with cancellation must not start a cycle.
		if err := ctx.Err(); err != nil {
			e.log.Printf("recompute loop stopping: %v", err)
			return nil
		}

		open := e.drain()
		wait := e.cfg.TickInterval
		if err := e.cycle(ctx); errors.Is(err, window.ErrInsufficientData) {
			wait = e.cfg.GateInterval
		}
		if !open {
			e.log.Printf("input closed; recompute loop stopping")
			return nil
		}
		timer.Reset(wait)
	}
}

// drain applies every queued event without blocking. It reports false once the
// input has been closed.
func (e *Engine) drain() bool {
	for {
		select {
		case ev, ok := <-e.in:
			if !ok {
				return false
			}
			e.ingest(ev)
		default:
			return true
		}
	}
}

func (e *Engine) ingest(ev market.Event) {
	if err := ev.Validate(); err != nil {
		e.metrics.dropped.WithLabelValues("malformed").Inc()
		e.log.Warnf("dropping event: %v", err)
		e.report(err)
		return
	}
	if e.cfg.Symbol != "" && ev.Symbol() != e.cfg.Symbol {
		e.metrics.dropped.WithLabelValues("symbol").Inc()
		return
	}
	e.st.apply(ev)
	e.metrics.events.WithLabelValues(string(ev.Kind)).Inc()
}

func (e *Engine) cycle(ctx context.Context) error {
	start := time.Now()
	trades, book, hasBook, n, err := e.st.read()
	e.metrics.windowLen.Set(float64(n))
	if err != nil {
		e.metrics.skipped.Inc()
		if !e.waiting {
			e.log.Printf("waiting for initial data (%d trades required)", e.st.win.MinTrades())
			e.waiting = true
		}
		return err
	}
	e.waiting = false

	tbl := indicators.Compute(trades)
	feats := orderbook.Extract(book, hasBook)
	last := trades[len(trades)-1]
	rec := scoring.Score(tbl, last.Price)
	cost := time.Since(start)
	e.metrics.computeDur.Observe(cost.Seconds())
	snap := compose(last.Symbol, last.Time, tbl.Latest, feats, rec, cost)
	e.last.Store(&snap)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DispatchTimeout)
	defer cancel()
	if err := e.sink.Accept(dctx, snap); err != nil {
		e.metrics.dispatchFailed.Inc()
		e.log.Warnf("dispatch %s@%s failed: %v", snap.Symbol, snap.Timestamp, err)
		err = fmt.Errorf("%w: %w", ErrSinkFailure, err)
		e.report(err)
		return err
	}
	e.metrics.dispatched.Inc()
	return nil
}

func (e *Engine) report(err error) {
	select {
	case e.errs <- err:
	default:
	}
}
