package streams

import (
	"fmt"

	"cryptostream/config"
	"cryptostream/exchange"
	"cryptostream/exchange/aevo"
	"cryptostream/exchange/deribit"
	"cryptostream/models"
	"cryptostream/reader"
)

// Connectors builds one connector per supported venue, honouring URL
// overrides.
func Connectors(cfg config.ExchangesConfig) map[models.ExchangeID]exchange.Connector {
	return map[models.ExchangeID]exchange.Connector{
		models.Deribit: deribit.New(cfg.Deribit.URL),
		models.Aevo:    aevo.New(cfg.Aevo.URL),
	}
}

// FromConfig registers one group per configured stream group.
func FromConfig(cfg *config.Config) (*Builder, error) {
	b := NewBuilder(
		WithReaderOptions(reader.Options{
			HandshakeTimeout: cfg.Reader.HandshakeTimeout,
			KeepAlive:        cfg.Reader.KeepAlive,
			Reconnect:        cfg.Reader.Reconnect,
			ReconnectDelay:   cfg.Reader.ReconnectDelay,
		}),
		WithConnectRate(cfg.Reader.ConnectRate, cfg.Reader.ConnectBurst),
	)
	connectors := Connectors(cfg.Exchanges)

	for i, g := range cfg.Streams {
		subs := make([]Subscription, 0, len(g.Subscriptions))
		for j, sc := range g.Subscriptions {
			c, ok := connectors[models.ExchangeID(sc.Exchange)]
			if !ok {
				return nil, fmt.Errorf("streams[%d].subscriptions[%d]: unsupported exchange %q", i, j, sc.Exchange)
			}
			instrument, err := sc.ToInstrument()
			if err != nil {
				return nil, fmt.Errorf("streams[%d].subscriptions[%d]: %w", i, j, err)
			}
			kind, err := sc.StreamKind()
			if err != nil {
				return nil, fmt.Errorf("streams[%d].subscriptions[%d]: %w", i, j, err)
			}
			subs = append(subs, Subscription{Exchange: c, Instrument: instrument, Kind: kind})
		}
		b.SubscribeNamed(g.Name, subs...)
	}
	return b, nil
}
