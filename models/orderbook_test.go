package models

import (
	"encoding/json"
	"math/rand"
	"testing"
)

func prices(levels []Level) []float64 {
	out := make([]float64, len(levels))
	for i, l := range levels {
		out[i] = l.Price
	}
	return out
}

func equalLevels(a, b []Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrderBookSideOrdering(t *testing.T) {
	bids := NewOrderBookSide(Buy, Level{100, 1}, Level{102, 1}, Level{101, 1})
	asks := NewOrderBookSide(Sell, Level{105, 1}, Level{103, 1}, Level{104, 1})

	if got := prices(bids.Levels()); got[0] != 102 || got[1] != 101 || got[2] != 100 {
		t.Fatalf("bids not descending: %v", got)
	}
	if got := prices(asks.Levels()); got[0] != 103 || got[1] != 104 || got[2] != 105 {
		t.Fatalf("asks not ascending: %v", got)
	}
}

func TestOrderBookSideUpsert(t *testing.T) {
	side := NewOrderBookSide(Buy, Level{100, 1}, Level{99, 2})

	side.Upsert(Level{100, 5})
	if l, _ := side.Best(); l.Amount != 5 || side.Len() != 2 {
		t.Fatalf("expected replace at 100, got %v", side.Levels())
	}

	side.Upsert(Level{99, 0})
	if side.Len() != 1 {
		t.Fatalf("expected removal of 99, got %v", side.Levels())
	}

	before := side.Levels()
	side.Upsert(Level{42, 0})
	if !equalLevels(before, side.Levels()) {
		t.Fatalf("removing an absent price must be a no-op: %v", side.Levels())
	}
}

func TestOrderBookSideTop(t *testing.T) {
	side := NewOrderBookSide(Sell, Level{12, 1}, Level{10, 1}, Level{11, 1})

	top := side.Top(2)
	if got := prices(top); len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Fatalf("top 2: %v", got)
	}
	top[0].Amount = 9
	if l, _ := side.Best(); l.Amount != 1 {
		t.Fatalf("Top aliases the side")
	}
	if n := len(side.Top(10)); n != 3 {
		t.Fatalf("top beyond depth returned %d levels", n)
	}
}

func TestOrderBookSideReplace(t *testing.T) {
	side := NewOrderBookSide(Sell, Level{10, 1}, Level{11, 1})
	side.Replace(Level{12, 3}, Level{12, 4}, Level{13, 0})

	want := []Level{{12, 4}}
	if !equalLevels(side.Levels(), want) {
		t.Fatalf("replace: got %v want %v", side.Levels(), want)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	book := NewOrderBook()
	book.Reset([]Level{{100, 1}}, []Level{{101, 1}})

	snap := book.Snapshot()
	book.Upsert([]Level{{100, 0}}, []Level{{101, 7}})

	if snap.Bids.Len() != 1 {
		t.Fatalf("snapshot bids mutated: %v", snap.Bids.Levels())
	}
	if l, _ := snap.Asks.Best(); l.Amount != 1 {
		t.Fatalf("snapshot asks mutated: %v", snap.Asks.Levels())
	}
}

func TestCrossedAndMid(t *testing.T) {
	book := NewOrderBook()
	book.Reset([]Level{{100, 1}}, []Level{{102, 1}})
	if book.Crossed() {
		t.Fatalf("book should not be crossed")
	}
	if mid, ok := book.MidPrice(); !ok || mid != 101 {
		t.Fatalf("mid = %v %v", mid, ok)
	}

	book.Upsert(nil, []Level{{100, 1}})
	if !book.Crossed() {
		t.Fatalf("book should be crossed when best ask equals best bid")
	}
}

// Applying deltas one by one converges to applying their cumulative diff.
func TestUpsertConvergesToCumulativeDiff(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	stepwise := NewOrderBookSide(Buy)
	final := map[float64]float64{}

	for i := 0; i < 500; i++ {
		price := float64(90 + rng.Intn(20))
		amount := float64(rng.Intn(4))
		stepwise.Upsert(Level{price, amount})
		final[price] = amount
	}

	cumulative := NewOrderBookSide(Buy)
	for price, amount := range final {
		cumulative.Upsert(Level{price, amount})
	}

	if !equalLevels(stepwise.Levels(), cumulative.Levels()) {
		t.Fatalf("stepwise %v != cumulative %v", stepwise.Levels(), cumulative.Levels())
	}
	for _, l := range stepwise.Levels() {
		if l.Amount == 0 {
			t.Fatalf("zero amount stored at %v", l.Price)
		}
	}
}

func TestOrderBookJSON(t *testing.T) {
	book := NewOrderBook()
	book.Reset([]Level{{100, 1}}, nil)

	data, err := json.Marshal(book.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		Bids []Level `json:"bids"`
		Asks []Level `json:"asks"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Bids) != 1 || out.Asks == nil || len(out.Asks) != 0 {
		t.Fatalf("unexpected encoding: %s", data)
	}
}
