package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"indicator-pipeline/go/pkg/market"
	"indicator-pipeline/go/pkg/shared"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		kind    market.Kind
		ok      bool
		wantErr error
	}{
		{"trade numbers", `{"type":"trade","symbol_id":"BITGET_SPOT_PI_USDT","time_exchange":"2025-02-20T10:00:00.1234567Z","price":0.7512,"size":120.5}`, market.KindTrade, true, nil},
		{"trade strings", `{"type":"trade","symbol_id":"S","time_coinapi":"2025-02-20T10:00:00Z","price":"0.75","size":"1"}`, market.KindTrade, true, nil},
		{"book", `{"type":"book50","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","bids":[{"price":1,"size":2}],"asks":[{"price":1.1,"size":3}]}`, market.KindBook, true, nil},
		{"heartbeat", `{"type":"heartbeat"}`, "", false, nil},
		{"unknown", `{"type":"quote","symbol_id":"S"}`, "", false, nil},
		{"server error", `{"type":"error","message":"Invalid API key"}`, "", false, errServer},
		{"negative price", `{"type":"trade","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","price":-1,"size":1}`, "", false, market.ErrMalformedEvent},
		{"missing price", `{"type":"trade","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","size":1}`, "", false, market.ErrMalformedEvent},
		{"missing size", `{"type":"trade","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","price":1}`, "", false, market.ErrMalformedEvent},
		{"null price", `{"type":"trade","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","price":null,"size":1}`, "", false, market.ErrMalformedEvent},
		{"level without size", `{"type":"book50","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","bids":[{"price":1}],"asks":[]}`, "", false, market.ErrMalformedEvent},
		{"level without price", `{"type":"book50","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","bids":[],"asks":[{"size":1}]}`, "", false, market.ErrMalformedEvent},
		{"zero price", `{"type":"trade","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","price":0,"size":0}`, market.KindTrade, true, nil},
		{"no timestamp", `{"type":"trade","symbol_id":"S","price":1,"size":1}`, "", false, market.ErrMalformedEvent},
		{"bad timestamp", `{"type":"trade","symbol_id":"S","time_exchange":"yesterday","price":1,"size":1}`, "", false, market.ErrMalformedEvent},
		{"no symbol", `{"type":"trade","time_exchange":"2025-02-20T10:00:00Z","price":1,"size":1}`, market.KindTrade, true, market.ErrMalformedEvent},
		{"not json", `{"type":`, "", false, market.ErrMalformedEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok, err := decode([]byte(tc.raw))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.ok || (ok && ev.Kind != tc.kind) {
				t.Fatalf("ok=%v kind=%q, want ok=%v kind=%q", ok, ev.Kind, tc.ok, tc.kind)
			}
		})
	}
}

func TestDecodeTradeValues(t *testing.T) {
	ev, _, err := decode([]byte(`{"type":"trade","symbol_id":"S","time_exchange":"2025-02-20T10:00:00.5Z","price":"0.75000001","size":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Trade.Price != 0.75000001 || ev.Trade.Size != 2 {
		t.Fatalf("decoded %+v", ev.Trade)
	}
	want := time.Date(2025, 2, 20, 10, 0, 0, 5e8, time.UTC)
	if !ev.Trade.Time.Equal(want) {
		t.Fatalf("time = %v, want %v", ev.Trade.Time, want)
	}
}

func TestSubscriptionFilters(t *testing.T) {
	c, err := NewCoinAPI(shared.FeedConfig{URL: "wss://x", APIKey: "k", AssetID: "PI", ExchangeID: "BITGET"}, shared.NopLogger(), NewMetrics(prometheus.NewRegistry()))
	if err != nil {
		t.Fatal(err)
	}
	h := c.subscription()
	if h.Type != "hello" || h.APIKey != "k" || !h.Heartbeat {
		t.Fatalf("hello = %+v", h)
	}
	if strings.Join(h.SubscribeDataType, ",") != "trade,book50" {
		t.Fatalf("data types = %v", h.SubscribeDataType)
	}
	if len(h.FilterAssetID) != 1 || h.FilterAssetID[0] != "PI" || h.FilterExchangeID[0] != "BITGET" || h.FilterSymbolID != nil {
		t.Fatalf("filters = %+v", h)
	}
	if _, err := NewCoinAPI(shared.FeedConfig{URL: "wss://x"}, shared.NopLogger(), nil); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestCoinAPIStreamsUntilServerError(t *testing.T) {
	var (
		mu     sync.Mutex
		hellos []hello
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var h hello
		if err := conn.ReadJSON(&h); err != nil {
			return
		}
		mu.Lock()
		hellos = append(hellos, h)
		mu.Unlock()
		for _, m := range []string{
			`{"type":"heartbeat"}`,
			`{"type":"trade","symbol_id":"S","time_exchange":"2025-02-20T10:00:00Z","price":1.5,"size":2}`,
			`{"type":"trade","symbol_id":"OTHER","time_exchange":"2025-02-20T10:00:00Z","price":9,"size":1}`,
			`{"type":"trade","symbol_id":"S","price":1}`,
			`{"type":"book50","symbol_id":"S","time_exchange":"2025-02-20T10:00:01Z","bids":[{"price":1.4,"size":1}],"asks":[{"price":1.6,"size":1}]}`,
			`{"type":"error","message":"bye"}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewMetrics(prometheus.NewRegistry())
	cfg := shared.FeedConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), APIKey: "k", SymbolID: "S"}
	c, err := NewCoinAPI(cfg, shared.NopLogger(), m)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan market.Event, 16)
	if err := c.Start(ctx, out); err != nil {
		t.Fatal(err)
	}

	var got []market.Event
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d events", len(got))
		}
	}
	cancel()
	for range out {
	}

	if got[0].Kind != market.KindTrade || got[0].Trade.Price != 1.5 {
		t.Fatalf("first event %+v", got[0])
	}
	if got[1].Kind != market.KindBook || len(got[1].Book.Bids) != 1 {
		t.Fatalf("second event %+v", got[1])
	}
	if v := testutil.ToFloat64(m.malformed); v < 1 {
		t.Fatalf("malformed = %v", v)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(hellos) == 0 || hellos[0].FilterSymbolID[0] != "S" {
		t.Fatalf("hello not received: %+v", hellos)
	}
}

func TestSimEmitsTradesAndBooks(t *testing.T) {
	sim := &Sim{Symbol: "PI", BasePrice: 0.75, TPS: 5000, BookEvery: 5, Levels: 5, Seed: 7, Limit: 40}
	out := make(chan market.Event, 8)
	if err := sim.Start(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	var trades, books int
	var last time.Time
	for ev := range out {
		if err := ev.Validate(); err != nil {
			t.Fatalf("invalid event: %v", err)
		}
		switch ev.Kind {
		case market.KindTrade:
			trades++
			if ev.Trade.Time.Before(last) {
				t.Fatal("trade timestamps went backwards")
			}
			last = ev.Trade.Time
		case market.KindBook:
			books++
			if len(ev.Book.Bids) != 5 || ev.Book.Bids[0].Price >= ev.Book.Asks[0].Price {
				t.Fatalf("bad book %+v", ev.Book)
			}
		}
	}
	if trades != 40 || books != 8 {
		t.Fatalf("trades=%d books=%d", trades, books)
	}
}

func TestSimStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan market.Event)
	if err := (&Sim{TPS: 100}).Start(ctx, out); err != nil {
		t.Fatal(err)
	}
	<-out
	cancel()
	done := make(chan struct{})
	go func() {
		for range out {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sim did not close its output")
	}
}

type fakeConsumer struct {
	mu        sync.Mutex
	msgs      []*shared.Message
	committed []int64
}

func (f *fakeConsumer) Poll(ctx context.Context) (*shared.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeConsumer) Commit(_ context.Context, msg *shared.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msg.Offset)
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func TestKafkaSourceDecodesAndCommits(t *testing.T) {
	raw, err := market.MarshalEvent(market.TradeEvent(market.Trade{Symbol: "S", Price: 1, Size: 1, Time: time.Unix(10, 0).UTC()}))
	if err != nil {
		t.Fatal(err)
	}
	fc := &fakeConsumer{msgs: []*shared.Message{
		{Offset: 1, Value: []byte(`{"type":"nope"}`)},
		{Offset: 2, Value: raw},
	}}
	m := NewMetrics(prometheus.NewRegistry())
	src := &Kafka{C: fc, Log: shared.NopLogger(), Metrics: m}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan market.Event, 4)
	if err := src.Start(ctx, out); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-out:
		if ev.Trade.Symbol != "S" {
			t.Fatalf("event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	cancel()
	for range out {
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.committed) != 2 || fc.committed[0] != 1 || fc.committed[1] != 2 {
		t.Fatalf("committed %v", fc.committed)
	}
	if v := testutil.ToFloat64(m.malformed); v != 1 {
		t.Fatalf("malformed = %v", v)
	}
}
