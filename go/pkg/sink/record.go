// Package sink holds the destinations composed snapshots are dispatched to:
// Postgres, Kafka, the analytics webhook, a local SQLite file and the log.
package sink

import (
	"context"
	"errors"
	"strings"

	"indicator-pipeline/go/pkg/pipeline"
)

var (
	// ErrFull is returned when a buffering sink cannot take another snapshot.
	ErrFull = errors.New("sink buffer full")
	// ErrClosed is returned by Accept after Close.
	ErrClosed = errors.New("sink closed")
)

// columns is the stored row shape shared by the SQL sinks, in insert order.
var columns = []string{
	"symbol", "current_price", "ts", "trend", "buy_score", "sell_score", "hold_score",
	"ma5", "ma10", "ma15", "ma30", "macd", "macd_signal", "macd_diff", "volume", "rsi",
	"bb_upper", "bb_middle", "bb_lower", "stoch_k", "stoch_d", "vwap", "spread", "imbalance",
	"processing_time",
}

func rowValues(s pipeline.Snapshot) []any {
	return []any{
		s.Symbol, s.CurrentPrice, s.EventTime, string(s.Trend), s.Buy, s.Sell, s.Hold,
		s.MA5, s.MA10, s.MA15, s.MA30, s.MACD, s.MACDSignal, s.MACDDiff, s.Volume, s.RSI,
		s.BBUpper, s.BBMiddle, s.BBLower, s.StochK, s.StochD, s.VWAP, s.Spread, s.Imbalance,
		s.ProcessingTime,
	}
}

// insertSQL builds a single-row INSERT for table using placeholder(i), which
// receives 1-based positions.
func insertSQL(table string, placeholder func(i int) string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder(i + 1))
	}
	b.WriteString(")")
	return b.String()
}

// Named pairs a sink with the label used in logs and errors.
type Named struct {
	Name string
	Sink pipeline.Sink
}

// Fanout hands every snapshot to each sink and joins their errors.
type Fanout []Named

func (f Fanout) Accept(ctx context.Context, s pipeline.Snapshot) error {
	var errs []error
	for _, n := range f {
		if err := n.Sink.Accept(ctx, s); err != nil {
			errs = append(errs, &Error{Sink: n.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Error attributes a failure to one sink of a Fanout.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string { return e.Sink + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
