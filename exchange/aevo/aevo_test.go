package aevo

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cryptostream/exchange"
	"cryptostream/models"
)

func TestMarket(t *testing.T) {
	a := New("")
	expiry := time.Date(2023, 6, 30, 8, 0, 0, 0, time.UTC)

	got, err := a.Market(models.NewInstrument("eth", "usd", models.Perpetual()))
	if err != nil || got != "ETH-PERPETUAL" {
		t.Fatalf("perpetual market = %q, %v", got, err)
	}
	got, _ = a.Market(models.NewInstrument("eth", "usd", models.Option(models.OptionContract{
		Kind: models.OptionCall, Exercise: models.ExerciseEuropean, Expiry: expiry, Strike: decimal.NewFromInt(2000),
	})))
	if got != "ETH-30JUN23-2000-C" {
		t.Fatalf("option market = %q", got)
	}
}

func TestRequests(t *testing.T) {
	a := New("")
	subs := []exchange.ExchangeSub{
		{Channel: ChannelOrderBookL2, Market: "BTC-PERPETUAL"},
		{Channel: ChannelOrderBookL2, Market: "ETH-PERPETUAL"},
	}
	frames := a.Requests(subs)
	want := `{"op":"subscribe","data":["orderbook:BTC-PERPETUAL","orderbook:ETH-PERPETUAL"]}`
	if len(frames) != 1 || string(frames[0].Payload) != want {
		t.Fatalf("request = %s, want %s", frames[0].Payload, want)
	}
	if got := string(a.Unsubscribe(subs[:1])[0].Payload); got != `{"op":"unsubscribe","data":["orderbook:BTC-PERPETUAL"]}` {
		t.Fatalf("unsubscribe = %s", got)
	}
}

func TestPingInterval(t *testing.T) {
	p := New("").PingInterval()
	if p == nil || p.Interval != 840*time.Second || string(p.Ping().Payload) != `{"op":"ping"}` {
		t.Fatalf("unexpected ping interval %+v", p)
	}
}

func TestChannelUnsupported(t *testing.T) {
	var unsupported *exchange.UnsupportedError
	if _, err := New("").Channel(models.PublicTrades); !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
}

func TestValidateResponse(t *testing.T) {
	a := New("")
	tests := []struct {
		name    string
		frame   string
		matched bool
		wantErr bool
	}{
		{"success", `{"data":["orderbook:BTC-PERPETUAL"]}`, true, false},
		{"empty", `{"data":[]}`, true, true},
		{"error", `{"error":"INVALID_CHANNEL"}`, true, true},
		{"book", `{"channel":"orderbook:BTC-PERPETUAL","data":{"type":"snapshot"}}`, false, false},
		{"pong", `{"op":"pong"}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, err := a.ValidateResponse([]byte(tt.frame))
			if matched != tt.matched || (err != nil) != tt.wantErr {
				t.Fatalf("ValidateResponse = %v, %v; want %v, err %v", matched, err, tt.matched, tt.wantErr)
			}
		})
	}
}

func TestIdentify(t *testing.T) {
	a := New("")
	if id, ok := a.Identify([]byte(`{"channel":"orderbook:BTC-PERPETUAL","data":{}}`)); !ok || id != "orderbook:BTC-PERPETUAL" {
		t.Fatalf("Identify = %q %v", id, ok)
	}
	if _, ok := a.Identify([]byte(`{"data":["orderbook:BTC-PERPETUAL"]}`)); ok {
		t.Fatalf("ack identified as data")
	}
}
