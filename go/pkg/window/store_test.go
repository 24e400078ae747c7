package window

import (
	"errors"
	"testing"
	"time"

	"indicator-pipeline/go/pkg/market"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func trade(i int) market.Trade {
	return market.Trade{Symbol: "X", Price: float64(100 + i), Size: 1, Time: t0.Add(time.Duration(i) * time.Second)}
}

func TestNewRejectsBadCapacity(t *testing.T) {
	if _, err := New(0, 0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := New(10, 30); err == nil {
		t.Fatal("expected error when minimum exceeds capacity")
	}
}

func TestSnapshotBelowMinimum(t *testing.T) {
	s, err := New(DefaultCapacity, DefaultMinTrades)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < DefaultMinTrades-1; i++ {
		s.Push(trade(i))
		if _, err := s.Snapshot(); !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("len=%d: got %v want ErrInsufficientData", s.Len(), err)
		}
	}
	s.Push(trade(DefaultMinTrades))
	if _, err := s.Snapshot(); err != nil {
		t.Fatalf("at minimum: %v", err)
	}
}

func TestFIFOEviction(t *testing.T) {
	s, _ := New(DefaultCapacity, DefaultMinTrades)
	for i := 0; i < 150; i++ {
		s.Push(trade(i))
		if s.Len() > DefaultCapacity {
			t.Fatalf("len %d exceeds capacity", s.Len())
		}
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != DefaultCapacity {
		t.Fatalf("len got %d want %d", len(snap), DefaultCapacity)
	}
	if snap[0].Price != 190 || snap[len(snap)-1].Price != 249 {
		t.Fatalf("window holds [%v..%v], want [190..249]", snap[0].Price, snap[len(snap)-1].Price)
	}
}

func TestSnapshotSortsStably(t *testing.T) {
	s, _ := New(5, 0)
	late := market.Trade{Symbol: "X", Price: 3, Time: t0.Add(2 * time.Second)}
	tieA := market.Trade{Symbol: "X", Price: 1, Time: t0}
	tieB := market.Trade{Symbol: "X", Price: 2, Time: t0}
	s.Push(late)
	s.Push(tieA)
	s.Push(tieB)
	snap, _ := s.Snapshot()
	got := []float64{snap[0].Price, snap[1].Price, snap[2].Price}
	want := []float64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order got %v want %v", got, want)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := New(3, 0)
	s.Push(trade(0))
	snap, _ := s.Snapshot()
	snap[0].Price = -1
	s.Push(trade(1))
	again, _ := s.Snapshot()
	if again[0].Price != 100 {
		t.Fatalf("snapshot mutation leaked into store: %v", again[0].Price)
	}
}

func TestReset(t *testing.T) {
	s, _ := New(3, 1)
	s.Push(trade(0))
	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("len after reset %d", s.Len())
	}
	if _, err := s.Snapshot(); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("got %v want ErrInsufficientData", err)
	}
	s.Push(trade(5))
	got, err := s.Snapshot()
	if err != nil || len(got) != 1 || !got[0].Time.Equal(trade(5).Time) {
		t.Fatalf("after reset got %v, %v", got, err)
	}
}
