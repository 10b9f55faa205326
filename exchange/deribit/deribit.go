// Package deribit adapts Deribit's JSON-RPC streams: raw trades, L1 quotes and
// sequence-chained L2 books.
package deribit

import (
	"encoding/json"
	"net/url"

	"cryptostream/exchange"
	"cryptostream/models"
	"cryptostream/transformer"
)

const DefaultURL = "wss://streams.deribit.com/ws/api/v2"

const (
	ChannelTrades      exchange.Channel = "trades.{}.raw"
	ChannelOrderBookL1 exchange.Channel = "quote.{}"
	ChannelOrderBookL2 exchange.Channel = "book.{}.raw"
)

// Deribit implements exchange.Connector.
type Deribit struct {
	url string
}

// New returns a connector for baseURL, or DefaultURL when empty.
func New(baseURL string) *Deribit {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Deribit{url: baseURL}
}

func (d *Deribit) ID() models.ExchangeID { return models.Deribit }

func (d *Deribit) URL() (*url.URL, error) { return exchange.ParseURL(d.url) }

// PingInterval is nil: Deribit keeps idle sockets open on transport pings.
func (d *Deribit) PingInterval() *exchange.PingInterval { return nil }

func (d *Deribit) Channel(kind models.StreamKind) (exchange.Channel, error) {
	switch kind {
	case models.PublicTrades:
		return ChannelTrades, nil
	case models.OrderBooksL1:
		return ChannelOrderBookL1, nil
	case models.OrderBooksL2:
		return ChannelOrderBookL2, nil
	}
	return "", &exchange.UnsupportedError{Exchange: models.Deribit, What: string(kind)}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Channels []string `json:"channels"`
}

func rpc(method string, subs []exchange.ExchangeSub) []exchange.Frame {
	channels := make([]string, 0, len(subs))
	for _, sub := range subs {
		channels = append(channels, sub.Stream())
	}
	payload, _ := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  rpcParams{Channels: channels},
	})
	return []exchange.Frame{exchange.Text(payload)}
}

// Requests sends every channel in one public/subscribe call.
func (d *Deribit) Requests(subs []exchange.ExchangeSub) []exchange.Frame {
	return rpc("public/subscribe", subs)
}

func (d *Deribit) Unsubscribe(subs []exchange.ExchangeSub) []exchange.Frame {
	return rpc("public/unsubscribe", subs)
}

func (d *Deribit) ExpectedResponses(subs []exchange.ExchangeSub) int {
	if len(subs) == 0 {
		return 0
	}
	return 1
}

func (d *Deribit) Transformer(kind models.StreamKind, instruments map[models.SubscriptionID]models.Instrument, w exchange.FrameWriter) (exchange.Transformer, error) {
	switch kind {
	case models.PublicTrades:
		return transformer.NewStateless[Trades](models.Deribit, instruments), nil
	case models.OrderBooksL1:
		return transformer.NewStateless[Quote](models.Deribit, instruments), nil
	case models.OrderBooksL2:
		resync := func(instrument models.Instrument) error {
			sub, err := exchange.Subscription(d, instrument, models.OrderBooksL2)
			if err != nil {
				return err
			}
			return exchange.Resubscribe(d, w, sub)
		}
		return transformer.NewBook[Book](models.Deribit, instruments, InitBook, resync), nil
	}
	return nil, &exchange.UnsupportedError{Exchange: models.Deribit, What: string(kind)}
}
