// Package transformer turns venue frames into normalized stream events.
package transformer

import (
	"encoding/json"
	"time"

	"cryptostream/exchange"
	"cryptostream/models"
)

// Item is one normalized payload extracted from a venue message. An item
// with Err set stands for one malformed entry of an otherwise valid batch.
type Item struct {
	ExchangeTime time.Time
	Kind         models.EventKind
	Err          error
}

// Message is a venue message handled without state between frames.
type Message interface {
	SubscriptionID() (models.SubscriptionID, bool)
	// Items returns the payloads in wire order.
	Items() ([]Item, error)
}

// Stateless decodes each frame into M and emits one event per item.
type Stateless[M Message] struct {
	exchange    models.ExchangeID
	instruments map[models.SubscriptionID]models.Instrument
	now         func() time.Time
}

func NewStateless[M Message](exchangeID models.ExchangeID, instruments map[models.SubscriptionID]models.Instrument) *Stateless[M] {
	return &Stateless[M]{exchange: exchangeID, instruments: instruments, now: time.Now}
}

func (t *Stateless[M]) Transform(frame []byte) []models.StreamEvent {
	var msg M
	if err := json.Unmarshal(frame, &msg); err != nil {
		return []models.StreamEvent{models.ErrorOf(t.exchange, exchange.Deserialise(frame, err))}
	}
	id, ok := msg.SubscriptionID()
	if !ok {
		return nil
	}
	instrument, ok := t.instruments[id]
	if !ok {
		return []models.StreamEvent{models.ErrorOf(t.exchange, &exchange.UnidentifiedError{ID: id})}
	}
	items, err := msg.Items()
	if err != nil {
		return []models.StreamEvent{models.ErrorOf(t.exchange, exchange.Deserialise(frame, err))}
	}

	received := t.now().UTC()
	out := make([]models.StreamEvent, 0, len(items))
	for _, item := range items {
		if item.Err != nil {
			out = append(out, models.ErrorOf(t.exchange, exchange.Deserialise(frame, item.Err)))
			continue
		}
		out = append(out, models.EventOf(models.MarketEvent{
			ExchangeTime: item.ExchangeTime,
			ReceivedTime: received,
			Exchange:     t.exchange,
			Instrument:   instrument,
			Kind:         item.Kind,
		}))
	}
	return out
}
