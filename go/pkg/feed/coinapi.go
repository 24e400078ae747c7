package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"indicator-pipeline/go/pkg/market"
	"indicator-pipeline/go/pkg/shared"
)

const (
	readTimeout  = 30 * time.Second
	pingInterval = 15 * time.Second
	maxBackoff   = 30 * time.Second
)

// errServer is returned when CoinAPI sends an error message; the session is
// closed and redialled.
var errServer = errors.New("coinapi error message")

type hello struct {
	Type              string   `json:"type"`
	APIKey            string   `json:"apikey"`
	Heartbeat         bool     `json:"heartbeat"`
	SubscribeDataType []string `json:"subscribe_data_type"`
	FilterAssetID     []string `json:"subscribe_filter_asset_id,omitempty"`
	FilterExchangeID  []string `json:"subscribe_filter_exchange_id,omitempty"`
	FilterSymbolID    []string `json:"subscribe_filter_symbol_id,omitempty"`
}

type wireLevel struct {
	Price decimal.NullDecimal `json:"price"`
	Size  decimal.NullDecimal `json:"size"`
}

// wireMessage covers the trade, book50, heartbeat and error messages.
type wireMessage struct {
	Type         string              `json:"type"`
	SymbolID     string              `json:"symbol_id"`
	TimeExchange string              `json:"time_exchange"`
	TimeCoinAPI  string              `json:"time_coinapi"`
	Price        decimal.NullDecimal `json:"price"`
	Size         decimal.NullDecimal `json:"size"`
	Bids         []wireLevel         `json:"bids"`
	Asks         []wireLevel         `json:"asks"`
	Message      string              `json:"message"`
}

// CoinAPI streams trades and top-50 books over the CoinAPI websocket,
// redialling with exponential backoff until ctx is done.
type CoinAPI struct {
	cfg     shared.FeedConfig
	log     shared.Logger
	metrics *Metrics
	dialer  websocket.Dialer
}

func NewCoinAPI(cfg shared.FeedConfig, log shared.Logger, m *Metrics) (*CoinAPI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("COINAPI_KEY required for live websocket")
	}
	if cfg.URL == "" {
		return nil, errors.New("COINAPI_WS_URL is empty")
	}
	return &CoinAPI{
		cfg:     cfg,
		log:     log,
		metrics: m,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (c *CoinAPI) subscription() hello {
	h := hello{
		Type:              "hello",
		APIKey:            c.cfg.APIKey,
		Heartbeat:         true,
		SubscribeDataType: []string{"trade", "book50"},
	}
	if c.cfg.AssetID != "" {
		h.FilterAssetID = []string{c.cfg.AssetID}
	}
	if c.cfg.ExchangeID != "" {
		h.FilterExchangeID = []string{c.cfg.ExchangeID}
	}
	if c.cfg.SymbolID != "" {
		h.FilterSymbolID = []string{c.cfg.SymbolID}
	}
	return h
}

func (c *CoinAPI) Start(ctx context.Context, out chan<- market.Event) error {
	go func() {
		defer close(out)
		backoff := time.Second
		for {
			got, err := c.session(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if got > 0 {
				backoff = time.Second
			}
			c.metrics.wsEvents.WithLabelValues("reconnect").Inc()
			c.log.Warnf("[feed] coinapi disconnected after %d messages: %v; retry in %s", got, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
		}
	}()
	return nil
}

// session runs one connection and reports how many messages it decoded.
func (c *CoinAPI) session(ctx context.Context, out chan<- market.Event) (int, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	c.metrics.wsEvents.WithLabelValues("connect").Inc()

	if err := conn.WriteJSON(c.subscription()); err != nil {
		return 0, fmt.Errorf("hello: %w", err)
	}
	c.log.Printf("[feed] connected to %s; subscribed asset=%s exchange=%s", c.cfg.URL, c.cfg.AssetID, c.cfg.ExchangeID)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-sessCtx.Done():
				// Unblock ReadMessage.
				_ = conn.Close()
				return
			}
		}
	}()

	n := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return n, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n++

		ev, ok, err := decode(raw)
		switch {
		case errors.Is(err, errServer):
			c.metrics.wsEvents.WithLabelValues("error").Inc()
			return n, err
		case err != nil:
			c.metrics.malformed.Inc()
			c.log.Warnf("[feed] dropped message: %v", err)
			continue
		case !ok:
			continue
		}
		if c.cfg.SymbolID != "" && ev.Symbol() != c.cfg.SymbolID {
			continue
		}
		c.metrics.offer(out, ev)
	}
}

// decode turns one CoinAPI message into an event. ok is false for messages
// that carry no market data (heartbeat, unknown types).
func decode(raw []byte) (market.Event, bool, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return market.Event{}, false, fmt.Errorf("%w: %v", market.ErrMalformedEvent, err)
	}
	switch msg.Type {
	case "trade":
		ts, err := msg.time()
		if err != nil {
			return market.Event{}, false, err
		}
		px, err := amount("price", msg.Price)
		if err != nil {
			return market.Event{}, false, err
		}
		qty, err := amount("size", msg.Size)
		if err != nil {
			return market.Event{}, false, err
		}
		ev := market.TradeEvent(market.Trade{Symbol: msg.SymbolID, Price: px, Size: qty, Time: ts})
		return ev, true, ev.Validate()
	case "book50", "book20", "book5", "book":
		ts, err := msg.time()
		if err != nil {
			return market.Event{}, false, err
		}
		bids, err := levels(msg.Bids)
		if err != nil {
			return market.Event{}, false, err
		}
		asks, err := levels(msg.Asks)
		if err != nil {
			return market.Event{}, false, err
		}
		ev := market.BookEvent(market.OrderBook{Symbol: msg.SymbolID, Bids: bids, Asks: asks, Time: ts})
		return ev, true, ev.Validate()
	case "error":
		return market.Event{}, false, fmt.Errorf("%w: %s", errServer, msg.Message)
	default:
		return market.Event{}, false, nil
	}
}

func (m wireMessage) time() (time.Time, error) {
	for _, s := range []string{m.TimeExchange, m.TimeCoinAPI} {
		if s == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", market.ErrMalformedEvent, s)
		}
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s without timestamp", market.ErrMalformedEvent, m.Type)
}

// amount requires a present, non-negative wire number.
func amount(field string, v decimal.NullDecimal) (float64, error) {
	if !v.Valid {
		return 0, fmt.Errorf("%w: missing %s", market.ErrMalformedEvent, field)
	}
	if v.Decimal.IsNegative() {
		return 0, fmt.Errorf("%w: negative %s %s", market.ErrMalformedEvent, field, v.Decimal)
	}
	return v.Decimal.InexactFloat64(), nil
}

func levels(in []wireLevel) ([]market.Level, error) {
	out := make([]market.Level, len(in))
	for i, l := range in {
		px, err := amount("level price", l.Price)
		if err != nil {
			return nil, err
		}
		qty, err := amount("level size", l.Size)
		if err != nil {
			return nil, err
		}
		out[i] = market.Level{Price: px, Size: qty}
	}
	return out, nil
}
