package market

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the payload carried by an Event.
type Kind string

const (
	KindTrade Kind = "trade"
	KindBook  Kind = "book"
)

// Event is the tagged union handed from ingestion to the recompute loop.
// Exactly one of Trade or Book is set, matching Kind.
type Event struct {
	Kind  Kind
	Trade Trade
	Book  OrderBook
}

func TradeEvent(t Trade) Event { return Event{Kind: KindTrade, Trade: t} }
func BookEvent(b OrderBook) Event { return Event{Kind: KindBook, Book: b} }

func (e Event) Symbol() string {
	if e.Kind == KindBook {
		return e.Book.Symbol
	}
	return e.Trade.Symbol
}

func (e Event) Validate() error {
	switch e.Kind {
	case KindTrade:
		return e.Trade.Validate()
	case KindBook:
		return e.Book.Validate()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, e.Kind)
	}
}

// Envelope is the JSON shape of an Event on the message bus.
type Envelope struct {
	Type  Kind       `json:"type"`
	Trade *Trade     `json:"trade,omitempty"`
	Book  *OrderBook `json:"book,omitempty"`
}

// MarshalEvent encodes e as an Envelope.
func MarshalEvent(e Event) ([]byte, error) {
	env := Envelope{Type: e.Kind}
	switch e.Kind {
	case KindTrade:
		t := e.Trade
		env.Trade = &t
	case KindBook:
		b := e.Book
		env.Book = &b
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, e.Kind)
	}
	return json.Marshal(env)
}

// The decode side of Envelope uses pointers so that an absent price or size
// is told apart from zero.
type (
	wireTrade struct {
		Symbol string    `json:"symbol"`
		Price  *float64  `json:"price"`
		Size   *float64  `json:"size"`
		Time   time.Time `json:"timestamp"`
	}
	wireLevel struct {
		Price *float64 `json:"price"`
		Size  *float64 `json:"size"`
	}
	wireBook struct {
		Symbol string      `json:"symbol"`
		Bids   []wireLevel `json:"bids"`
		Asks   []wireLevel `json:"asks"`
		Time   time.Time   `json:"timestamp"`
	}
	wireEnvelope struct {
		Type  Kind       `json:"type"`
		Trade *wireTrade `json:"trade"`
		Book  *wireBook  `json:"book"`
	}
)

func (w wireTrade) trade() (Trade, error) {
	if w.Price == nil || w.Size == nil {
		return Trade{}, fmt.Errorf("%w: trade without price or size", ErrMalformedEvent)
	}
	return Trade{Symbol: w.Symbol, Price: *w.Price, Size: *w.Size, Time: w.Time}, nil
}

func levelsOf(in []wireLevel) ([]Level, error) {
	out := make([]Level, len(in))
	for i, l := range in {
		if l.Price == nil || l.Size == nil {
			return nil, fmt.Errorf("%w: book level %d without price or size", ErrMalformedEvent, i)
		}
		out[i] = Level{Price: *l.Price, Size: *l.Size}
	}
	return out, nil
}

// UnmarshalEvent decodes and validates an Envelope. Every failure wraps
// ErrMalformedEvent.
func UnmarshalEvent(raw []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	var ev Event
	switch env.Type {
	case KindTrade:
		if env.Trade == nil {
			return Event{}, fmt.Errorf("%w: trade envelope without payload", ErrMalformedEvent)
		}
		t, err := env.Trade.trade()
		if err != nil {
			return Event{}, err
		}
		ev = TradeEvent(t)
	case KindBook:
		if env.Book == nil {
			return Event{}, fmt.Errorf("%w: book envelope without payload", ErrMalformedEvent)
		}
		bids, err := levelsOf(env.Book.Bids)
		if err != nil {
			return Event{}, err
		}
		asks, err := levelsOf(env.Book.Asks)
		if err != nil {
			return Event{}, err
		}
		ev = BookEvent(OrderBook{Symbol: env.Book.Symbol, Bids: bids, Asks: asks, Time: env.Book.Time})
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, env.Type)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
