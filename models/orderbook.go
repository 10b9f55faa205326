package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Side is the aggressor side of a trade or the side of a book.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Level is one price point of an order book side.
type Level struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBookSide holds at most one level per price, best first: bids
// descending, asks ascending. Levels with a non-positive amount are never stored.
type OrderBookSide struct {
	side   Side
	levels []Level
}

func NewOrderBookSide(side Side, levels ...Level) OrderBookSide {
	s := OrderBookSide{side: side}
	s.Upsert(levels...)
	return s
}

func (s *OrderBookSide) Side() Side { return s.side }

func (s *OrderBookSide) Len() int { return len(s.levels) }

// Levels returns a copy of the levels, best first.
func (s *OrderBookSide) Levels() []Level {
	out := make([]Level, len(s.levels))
	copy(out, s.levels)
	return out
}

// Top returns a copy of at most the n best levels.
func (s *OrderBookSide) Top(n int) []Level {
	if n > len(s.levels) {
		n = len(s.levels)
	}
	out := make([]Level, n)
	copy(out, s.levels[:n])
	return out
}

// Best returns the top level.
func (s *OrderBookSide) Best() (Level, bool) {
	if len(s.levels) == 0 {
		return Level{}, false
	}
	return s.levels[0], true
}

func (s *OrderBookSide) better(a, b float64) bool {
	if s.side == Buy {
		return a > b
	}
	return a < b
}

// index returns the position of price, or where it would be inserted.
func (s *OrderBookSide) index(price float64) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return !s.better(s.levels[i].Price, price)
	})
	return i, i < len(s.levels) && s.levels[i].Price == price
}

// Upsert applies sparse level changes: a positive amount inserts or replaces
// the level at that price, anything else removes it.
func (s *OrderBookSide) Upsert(levels ...Level) {
	for _, l := range levels {
		i, found := s.index(l.Price)
		switch {
		case l.Amount > 0 && found:
			s.levels[i].Amount = l.Amount
		case l.Amount > 0:
			s.levels = append(s.levels, Level{})
			copy(s.levels[i+1:], s.levels[i:])
			s.levels[i] = l
		case found:
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
		}
	}
}

// Replace discards every level and populates the side from levels.
func (s *OrderBookSide) Replace(levels ...Level) {
	s.levels = s.levels[:0]
	s.Upsert(levels...)
}

func (s *OrderBookSide) clone() OrderBookSide {
	return OrderBookSide{side: s.side, levels: s.Levels()}
}

func (s OrderBookSide) MarshalJSON() ([]byte, error) {
	if s.levels == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.levels)
}

// OrderBook is a full depth book. A live book is owned by exactly one
// updater; consumers only ever see copies made by Snapshot.
type OrderBook struct {
	LastUpdateTime time.Time     `json:"last_update_time"`
	Bids           OrderBookSide `json:"bids"`
	Asks           OrderBookSide `json:"asks"`
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		Bids: OrderBookSide{side: Buy},
		Asks: OrderBookSide{side: Sell},
	}
}

// Upsert applies a sparse delta to both sides.
func (b *OrderBook) Upsert(bids, asks []Level) {
	b.Bids.Upsert(bids...)
	b.Asks.Upsert(asks...)
}

// Reset replaces the whole book with a full population.
func (b *OrderBook) Reset(bids, asks []Level) {
	b.Bids.Replace(bids...)
	b.Asks.Replace(asks...)
}

// Snapshot returns a deep copy that shares no state with b.
func (b *OrderBook) Snapshot() OrderBook {
	return OrderBook{
		LastUpdateTime: b.LastUpdateTime,
		Bids:           b.Bids.clone(),
		Asks:           b.Asks.clone(),
	}
}

// Crossed reports whether the best bid is at or through the best ask.
func (b *OrderBook) Crossed() bool {
	bid, okBid := b.Bids.Best()
	ask, okAsk := b.Asks.Best()
	return okBid && okAsk && bid.Price >= ask.Price
}

func (b *OrderBook) MidPrice() (float64, bool) {
	bid, okBid := b.Bids.Best()
	ask, okAsk := b.Asks.Best()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

func (OrderBook) StreamKind() StreamKind { return OrderBooksL2 }

// OrderBookL1 is the top of book.
type OrderBookL1 struct {
	LastUpdateTime time.Time `json:"last_update_time"`
	BestBid        Level     `json:"best_bid"`
	BestAsk        Level     `json:"best_ask"`
}

func (OrderBookL1) StreamKind() StreamKind { return OrderBooksL1 }

// PublicTrade is one anonymous trade print.
type PublicTrade struct {
	ID     string  `json:"id"`
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Side   Side    `json:"side"`
}

func (PublicTrade) StreamKind() StreamKind { return PublicTrades }
