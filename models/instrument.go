package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentType enumerates the contract families a venue can list.
type InstrumentType string

const (
	InstrumentSpot      InstrumentType = "spot"
	InstrumentPerpetual InstrumentType = "perpetual"
	InstrumentFuture    InstrumentType = "future"
	InstrumentOption    InstrumentType = "option"
)

// OptionKind is call or put.
type OptionKind string

const (
	OptionCall OptionKind = "call"
	OptionPut  OptionKind = "put"
)

// OptionExercise is the exercise style of an option contract.
type OptionExercise string

const (
	ExerciseAmerican OptionExercise = "american"
	ExerciseBermudan OptionExercise = "bermudan"
	ExerciseEuropean OptionExercise = "european"
)

type FutureContract struct {
	Expiry time.Time `json:"expiry"`
}

type OptionContract struct {
	Kind     OptionKind      `json:"kind"`
	Exercise OptionExercise  `json:"exercise"`
	Expiry   time.Time       `json:"expiry"`
	Strike   decimal.Decimal `json:"strike"`
}

// InstrumentKind carries the type plus the contract terms of dated products.
// Future is set only for InstrumentFuture and Option only for InstrumentOption.
type InstrumentKind struct {
	Type   InstrumentType  `json:"type"`
	Future *FutureContract `json:"future,omitempty"`
	Option *OptionContract `json:"option,omitempty"`
}

func Spot() InstrumentKind      { return InstrumentKind{Type: InstrumentSpot} }
func Perpetual() InstrumentKind { return InstrumentKind{Type: InstrumentPerpetual} }

func Future(expiry time.Time) InstrumentKind {
	return InstrumentKind{Type: InstrumentFuture, Future: &FutureContract{Expiry: expiry.UTC()}}
}

func Option(contract OptionContract) InstrumentKind {
	contract.Expiry = contract.Expiry.UTC()
	return InstrumentKind{Type: InstrumentOption, Option: &contract}
}

// Validate reports whether the contract terms match the type.
func (k InstrumentKind) Validate() error {
	switch k.Type {
	case InstrumentSpot, InstrumentPerpetual:
		return nil
	case InstrumentFuture:
		if k.Future == nil || k.Future.Expiry.IsZero() {
			return fmt.Errorf("future instrument requires an expiry")
		}
		return nil
	case InstrumentOption:
		if k.Option == nil || k.Option.Expiry.IsZero() {
			return fmt.Errorf("option instrument requires an expiry")
		}
		if k.Option.Kind != OptionCall && k.Option.Kind != OptionPut {
			return fmt.Errorf("option instrument has invalid kind %q", k.Option.Kind)
		}
		if !k.Option.Strike.IsPositive() {
			return fmt.Errorf("option instrument requires a positive strike")
		}
		return nil
	default:
		return fmt.Errorf("unknown instrument type %q", k.Type)
	}
}

func (k InstrumentKind) String() string {
	switch k.Type {
	case InstrumentFuture:
		if k.Future != nil {
			return fmt.Sprintf("future_%s", k.Future.Expiry.Format("2006-01-02"))
		}
	case InstrumentOption:
		if k.Option != nil {
			return fmt.Sprintf("option_%s_%s_%s_%s", k.Option.Kind, k.Option.Exercise,
				k.Option.Expiry.Format("2006-01-02"), k.Option.Strike.String())
		}
	}
	return string(k.Type)
}

// Instrument identifies a tradable product independent of any venue.
// Base and Quote are stored lowercase.
type Instrument struct {
	Base  string         `json:"base"`
	Quote string         `json:"quote"`
	Kind  InstrumentKind `json:"kind"`
}

func NewInstrument(base, quote string, kind InstrumentKind) Instrument {
	return Instrument{
		Base:  strings.ToLower(strings.TrimSpace(base)),
		Quote: strings.ToLower(strings.TrimSpace(quote)),
		Kind:  kind,
	}
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s_%s_%s", i.Base, i.Quote, i.Kind)
}
