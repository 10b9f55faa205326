package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewInstrumentLowercases(t *testing.T) {
	inst := NewInstrument(" BTC", "USDC ", Perpetual())
	if inst.Base != "btc" || inst.Quote != "usdc" {
		t.Fatalf("unexpected instrument %+v", inst)
	}
	if inst.String() != "btc_usdc_perpetual" {
		t.Fatalf("unexpected string %q", inst.String())
	}
}

func TestInstrumentKindValidate(t *testing.T) {
	expiry := time.Date(2023, 6, 30, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		kind    InstrumentKind
		wantErr bool
	}{
		{"spot", Spot(), false},
		{"future", Future(expiry), false},
		{"future without expiry", InstrumentKind{Type: InstrumentFuture}, true},
		{"option", Option(OptionContract{Kind: OptionCall, Exercise: ExerciseEuropean, Expiry: expiry, Strike: decimal.NewFromInt(25000)}), false},
		{"option without strike", Option(OptionContract{Kind: OptionPut, Expiry: expiry}), true},
		{"unknown", InstrumentKind{Type: "swap"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.kind.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
