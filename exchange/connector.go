// Package exchange defines the contract every venue adapter implements.
package exchange

import (
	"net/url"
	"strings"
	"time"

	"cryptostream/models"
)

// Frame types match the websocket opcodes.
const (
	TextFrame   = 1
	BinaryFrame = 2
)

// Frame is one outbound websocket message.
type Frame struct {
	Type    int
	Payload []byte
}

func Text(payload []byte) Frame {
	return Frame{Type: TextFrame, Payload: payload}
}

// FrameWriter sends frames on an established connection. Implementations must
// be safe for use by the read loop and the keep-alive loop at once.
type FrameWriter interface {
	WriteFrame(Frame) error
}

// Channel is a venue channel template. "{}" is replaced by the market.
type Channel string

// Market is the venue's literal name for an instrument.
type Market string

// ExchangeSub is a normalized subscription in venue terms.
type ExchangeSub struct {
	Channel Channel
	Market  Market
}

// Stream is the wire stream name, eg "book.BTC-PERPETUAL.raw".
func (s ExchangeSub) Stream() string {
	if strings.Contains(string(s.Channel), "{}") {
		return strings.ReplaceAll(string(s.Channel), "{}", string(s.Market))
	}
	return string(s.Channel) + "." + string(s.Market)
}

// ID is derived from the request alone so replies can be routed without
// handshake state.
func (s ExchangeSub) ID() models.SubscriptionID {
	return models.SubscriptionID(s.Stream())
}

// PingInterval is an application-level keep-alive.
type PingInterval struct {
	Interval time.Duration
	Ping     func() Frame
}

// Transformer turns one inbound frame into zero or more stream events.
type Transformer interface {
	Transform(frame []byte) []models.StreamEvent
}

// Connector is implemented once per venue.
type Connector interface {
	ID() models.ExchangeID
	URL() (*url.URL, error)
	// PingInterval returns nil when transport-level pings suffice.
	PingInterval() *PingInterval
	Channel(kind models.StreamKind) (Channel, error)
	Market(instrument models.Instrument) (Market, error)
	Requests(subs []ExchangeSub) []Frame
	Unsubscribe(subs []ExchangeSub) []Frame
	// ExpectedResponses is the number of acknowledgements Requests yields.
	ExpectedResponses(subs []ExchangeSub) int
	// ValidateResponse reports whether frame is a subscription acknowledgement
	// and, if so, whether it signals success.
	ValidateResponse(frame []byte) (bool, error)
	// Identify extracts the stream a data frame belongs to. Acks, heartbeats
	// and pongs are not identified.
	Identify(frame []byte) (models.SubscriptionID, bool)
	Transformer(kind models.StreamKind, instruments map[models.SubscriptionID]models.Instrument, w FrameWriter) (Transformer, error)
}

// Subscription resolves the venue channel and market for one instrument.
func Subscription(c Connector, instrument models.Instrument, kind models.StreamKind) (ExchangeSub, error) {
	channel, err := c.Channel(kind)
	if err != nil {
		return ExchangeSub{}, err
	}
	market, err := c.Market(instrument)
	if err != nil {
		return ExchangeSub{}, err
	}
	return ExchangeSub{Channel: channel, Market: market}, nil
}

// Resubscribe tears one subscription down and requests it again on the same
// connection.
func Resubscribe(c Connector, w FrameWriter, subs ...ExchangeSub) error {
	frames := append(c.Unsubscribe(subs), c.Requests(subs)...)
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			return &SocketError{Err: err}
		}
	}
	return nil
}

// ParseURL validates a websocket endpoint.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &URLParseError{URL: raw, Err: err}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, &URLParseError{URL: raw, Err: errUnsupportedScheme(u.Scheme)}
	}
	if u.Host == "" {
		return nil, &URLParseError{URL: raw, Err: errMissingHost}
	}
	return u, nil
}

// FormatExpiry renders an expiry as day without padding, month and two digit
// year, uppercased: 2023-06-30 becomes "30JUN23".
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.UTC().Format("2Jan06"))
}
