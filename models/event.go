package models

import (
	"fmt"
	"time"
)

// ExchangeID names a venue.
type ExchangeID string

const (
	Deribit ExchangeID = "deribit"
	Aevo    ExchangeID = "aevo"
)

// StreamKind is the kind of normalized data a subscription produces.
type StreamKind string

const (
	PublicTrades StreamKind = "public_trades"
	OrderBooksL1 StreamKind = "order_books_l1"
	OrderBooksL2 StreamKind = "order_books_l2"
)

func ParseStreamKind(s string) (StreamKind, error) {
	switch k := StreamKind(s); k {
	case PublicTrades, OrderBooksL1, OrderBooksL2:
		return k, nil
	}
	return "", fmt.Errorf("unknown stream kind %q", s)
}

// SubscriptionID routes an inbound frame to its local subscription. It is the
// literal stream name a venue echoes back, eg "book.BTC-PERPETUAL.raw".
type SubscriptionID string

// EventKind is implemented by PublicTrade, OrderBookL1 and OrderBook.
type EventKind interface {
	StreamKind() StreamKind
}

// MarketEvent is one normalized piece of market data. ReceivedTime is stamped
// locally when the frame is normalized.
type MarketEvent struct {
	ExchangeTime time.Time  `json:"exchange_time"`
	ReceivedTime time.Time  `json:"received_time"`
	Exchange     ExchangeID `json:"exchange"`
	Instrument   Instrument `json:"instrument"`
	Kind         EventKind  `json:"kind"`
}

// StreamEvent is the element of every output queue: either a market event or
// a per-message error. Errors never end the stream that produced them.
type StreamEvent struct {
	Exchange ExchangeID
	Event    MarketEvent
	Err      error
}

func EventOf(event MarketEvent) StreamEvent {
	return StreamEvent{Exchange: event.Exchange, Event: event}
}

func ErrorOf(exchange ExchangeID, err error) StreamEvent {
	return StreamEvent{Exchange: exchange, Err: err}
}
