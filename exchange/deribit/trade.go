package deribit

import (
	"fmt"

	"cryptostream/models"
	"cryptostream/transformer"
)

type Trade struct {
	ID             string  `json:"trade_id"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
	Direction      string  `json:"direction"`
	InstrumentName string  `json:"instrument_name"`
	Timestamp      int64   `json:"timestamp"`
}

// Trades is a trades.{}.raw notification; one frame may batch many trades.
type Trades struct {
	Method string `json:"method"`
	Params struct {
		Channel string  `json:"channel"`
		Data    []Trade `json:"data"`
	} `json:"params"`
}

func (m Trades) SubscriptionID() (models.SubscriptionID, bool) {
	if m.Method != methodSubscription || m.Params.Channel == "" {
		return "", false
	}
	return models.SubscriptionID(m.Params.Channel), true
}

// Items keeps every well-formed trade of a batch; a malformed one becomes an
// error item in its place.
func (m Trades) Items() ([]transformer.Item, error) {
	items := make([]transformer.Item, 0, len(m.Params.Data))
	for _, t := range m.Params.Data {
		side, err := parseSide(t.Direction)
		if err != nil {
			items = append(items, transformer.Item{Err: fmt.Errorf("trade %s: %w", t.ID, err)})
			continue
		}
		items = append(items, transformer.Item{
			ExchangeTime: epochMillis(t.Timestamp),
			Kind: models.PublicTrade{
				ID:     t.ID,
				Price:  t.Price,
				Amount: t.Amount,
				Side:   side,
			},
		})
	}
	return items, nil
}

// Quote is a quote.{} notification.
type Quote struct {
	Method string `json:"method"`
	Params struct {
		Channel string `json:"channel"`
		Data    struct {
			InstrumentName string  `json:"instrument_name"`
			BestBidPrice   float64 `json:"best_bid_price"`
			BestBidAmount  float64 `json:"best_bid_amount"`
			BestAskPrice   float64 `json:"best_ask_price"`
			BestAskAmount  float64 `json:"best_ask_amount"`
			Timestamp      int64   `json:"timestamp"`
		} `json:"data"`
	} `json:"params"`
}

func (m Quote) SubscriptionID() (models.SubscriptionID, bool) {
	if m.Method != methodSubscription || m.Params.Channel == "" {
		return "", false
	}
	return models.SubscriptionID(m.Params.Channel), true
}

func (m Quote) Items() ([]transformer.Item, error) {
	d := m.Params.Data
	t := epochMillis(d.Timestamp)
	return []transformer.Item{{
		ExchangeTime: t,
		Kind: models.OrderBookL1{
			LastUpdateTime: t,
			BestBid:        models.Level{Price: d.BestBidPrice, Amount: d.BestBidAmount},
			BestAsk:        models.Level{Price: d.BestAskPrice, Amount: d.BestAskAmount},
		},
	}}, nil
}
