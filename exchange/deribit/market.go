package deribit

import (
	"fmt"
	"strings"

	"cryptostream/exchange"
	"cryptostream/models"
)

// Market formats an instrument the way Deribit names it:
// BTC_USDC, BTC-PERPETUAL, BTC-30JUN23, BTC-30JUN23-25000-C.
func (d *Deribit) Market(instrument models.Instrument) (exchange.Market, error) {
	if err := instrument.Kind.Validate(); err != nil {
		return "", err
	}
	base := instrument.Base

	var name string
	switch instrument.Kind.Type {
	case models.InstrumentSpot:
		name = fmt.Sprintf("%s_%s", base, instrument.Quote)
	case models.InstrumentPerpetual:
		name = fmt.Sprintf("%s-PERPETUAL", base)
	case models.InstrumentFuture:
		name = fmt.Sprintf("%s-%s", base, exchange.FormatExpiry(instrument.Kind.Future.Expiry))
	case models.InstrumentOption:
		opt := instrument.Kind.Option
		name = fmt.Sprintf("%s-%s-%s-%s", base, exchange.FormatExpiry(opt.Expiry), opt.Strike.String(), optionSuffix(opt.Kind))
	}
	return exchange.Market(strings.ToUpper(name)), nil
}

func optionSuffix(kind models.OptionKind) string {
	if kind == models.OptionPut {
		return "P"
	}
	return "C"
}
