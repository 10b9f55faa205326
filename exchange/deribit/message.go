package deribit

import (
	"encoding/json"
	"fmt"
	"time"

	"cryptostream/exchange"
	"cryptostream/models"
)

const methodSubscription = "subscription"

// probe is the part of every frame needed to classify it.
type probe struct {
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type channelParams struct {
	Channel string `json:"channel"`
}

// Identify routes "subscription" notifications by their channel. Heartbeats
// and RPC replies are not identified.
func (d *Deribit) Identify(frame []byte) (models.SubscriptionID, bool) {
	var p struct {
		Method string        `json:"method"`
		Params channelParams `json:"params"`
	}
	if err := json.Unmarshal(frame, &p); err != nil {
		return "", false
	}
	if p.Method != methodSubscription || p.Params.Channel == "" {
		return "", false
	}
	return models.SubscriptionID(p.Params.Channel), true
}

// ValidateResponse accepts a subscribe reply whose result lists at least one
// channel. An RPC error or an empty result fails the subscription.
func (d *Deribit) ValidateResponse(frame []byte) (bool, error) {
	var p probe
	if err := json.Unmarshal(frame, &p); err != nil {
		return false, nil
	}
	if p.Method != "" {
		return false, nil
	}
	if p.Error != nil {
		return true, &exchange.SubscribeError{
			Exchange: models.Deribit,
			Reason:   fmt.Sprintf("code %d: %s", p.Error.Code, p.Error.Message),
		}
	}
	if len(p.Result) == 0 {
		return false, nil
	}
	var channels []string
	if err := json.Unmarshal(p.Result, &channels); err != nil {
		// result of some other RPC, eg public/test
		return false, nil
	}
	if len(channels) == 0 {
		return true, &exchange.SubscribeError{Exchange: models.Deribit, Reason: "received empty subscription response"}
	}
	return true, nil
}

// epochMillis leaves an absent timestamp as the zero time.
func epochMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseSide(direction string) (models.Side, error) {
	switch direction {
	case "buy":
		return models.Buy, nil
	case "sell":
		return models.Sell, nil
	}
	return "", fmt.Errorf("unknown trade direction %q", direction)
}
