// Package aevo adapts Aevo's op/data websocket protocol and its
// checksum-chained L2 order books.
package aevo

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cryptostream/exchange"
	"cryptostream/models"
	"cryptostream/transformer"
)

const (
	DefaultURL   = "wss://ws.aevo.xyz"
	PingInterval = 840 * time.Second
)

const ChannelOrderBookL2 exchange.Channel = "orderbook:{}"

// Aevo implements exchange.Connector.
type Aevo struct {
	url string
}

func New(baseURL string) *Aevo {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Aevo{url: baseURL}
}

func (a *Aevo) ID() models.ExchangeID { return models.Aevo }

func (a *Aevo) URL() (*url.URL, error) { return exchange.ParseURL(a.url) }

// PingInterval keeps the socket alive with {"op":"ping"}; Aevo drops
// connections idle for fifteen minutes.
func (a *Aevo) PingInterval() *exchange.PingInterval {
	return &exchange.PingInterval{
		Interval: PingInterval,
		Ping:     func() exchange.Frame { return exchange.Text([]byte(`{"op":"ping"}`)) },
	}
}

func (a *Aevo) Channel(kind models.StreamKind) (exchange.Channel, error) {
	if kind == models.OrderBooksL2 {
		return ChannelOrderBookL2, nil
	}
	return "", &exchange.UnsupportedError{Exchange: models.Aevo, What: string(kind)}
}

// Market uses the same naming scheme as Deribit: BTC-PERPETUAL,
// ETH-30JUN23, ETH-30JUN23-2000-C.
func (a *Aevo) Market(instrument models.Instrument) (exchange.Market, error) {
	if err := instrument.Kind.Validate(); err != nil {
		return "", err
	}
	base := instrument.Base

	var name string
	switch instrument.Kind.Type {
	case models.InstrumentSpot:
		name = fmt.Sprintf("%s_%s", base, instrument.Quote)
	case models.InstrumentPerpetual:
		name = base + "-PERPETUAL"
	case models.InstrumentFuture:
		name = base + "-" + exchange.FormatExpiry(instrument.Kind.Future.Expiry)
	case models.InstrumentOption:
		opt := instrument.Kind.Option
		suffix := "C"
		if opt.Kind == models.OptionPut {
			suffix = "P"
		}
		name = fmt.Sprintf("%s-%s-%s-%s", base, exchange.FormatExpiry(opt.Expiry), opt.Strike.String(), suffix)
	}
	return exchange.Market(strings.ToUpper(name)), nil
}

type opRequest struct {
	Op   string   `json:"op"`
	Data []string `json:"data"`
}

func op(name string, subs []exchange.ExchangeSub) []exchange.Frame {
	streams := make([]string, 0, len(subs))
	for _, sub := range subs {
		streams = append(streams, sub.Stream())
	}
	payload, _ := json.Marshal(opRequest{Op: name, Data: streams})
	return []exchange.Frame{exchange.Text(payload)}
}

func (a *Aevo) Requests(subs []exchange.ExchangeSub) []exchange.Frame {
	return op("subscribe", subs)
}

func (a *Aevo) Unsubscribe(subs []exchange.ExchangeSub) []exchange.Frame {
	return op("unsubscribe", subs)
}

func (a *Aevo) ExpectedResponses(subs []exchange.ExchangeSub) int {
	if len(subs) == 0 {
		return 0
	}
	return 1
}

type probe struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (a *Aevo) Identify(frame []byte) (models.SubscriptionID, bool) {
	var p struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(frame, &p); err != nil || p.Channel == "" {
		return "", false
	}
	return models.SubscriptionID(p.Channel), true
}

// ValidateResponse accepts {"data":[...]} listing at least one stream. An
// error field or an empty list fails the subscription.
func (a *Aevo) ValidateResponse(frame []byte) (bool, error) {
	var p probe
	if err := json.Unmarshal(frame, &p); err != nil || p.Channel != "" {
		return false, nil
	}
	if p.Error != "" {
		return true, &exchange.SubscribeError{
			Exchange: models.Aevo,
			Reason:   "received failure subscription response with message: " + p.Error,
		}
	}
	var streams []string
	if len(p.Data) == 0 || json.Unmarshal(p.Data, &streams) != nil {
		return false, nil
	}
	if len(streams) == 0 {
		return true, &exchange.SubscribeError{Exchange: models.Aevo, Reason: "received empty subscription response"}
	}
	return true, nil
}

func (a *Aevo) Transformer(kind models.StreamKind, instruments map[models.SubscriptionID]models.Instrument, w exchange.FrameWriter) (exchange.Transformer, error) {
	if kind != models.OrderBooksL2 {
		return nil, &exchange.UnsupportedError{Exchange: models.Aevo, What: string(kind)}
	}
	resync := func(instrument models.Instrument) error {
		sub, err := exchange.Subscription(a, instrument, kind)
		if err != nil {
			return err
		}
		return exchange.Resubscribe(a, w, sub)
	}
	return transformer.NewBook[Book](models.Aevo, instruments, InitBook, resync), nil
}
