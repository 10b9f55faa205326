package deribit

import (
	"encoding/json"
	"fmt"
	"time"

	"cryptostream/exchange"
	"cryptostream/models"
	"cryptostream/transformer"
)

// Level is a raw book entry: ["new"|"change"|"delete", price, amount].
type Level struct {
	Action string
	Price  float64
	Amount float64
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &l.Action); err != nil {
		return fmt.Errorf("level action: %w", err)
	}
	if err := json.Unmarshal(raw[1], &l.Price); err != nil {
		return fmt.Errorf("level price: %w", err)
	}
	if err := json.Unmarshal(raw[2], &l.Amount); err != nil {
		return fmt.Errorf("level amount: %w", err)
	}
	return nil
}

func (l Level) level() models.Level {
	if l.Action == "delete" {
		return models.Level{Price: l.Price}
	}
	return models.Level{Price: l.Price, Amount: l.Amount}
}

func toLevels(in []Level) []models.Level {
	out := make([]models.Level, len(in))
	for i, l := range in {
		out[i] = l.level()
	}
	return out
}

type BookData struct {
	Type           string  `json:"type"`
	InstrumentName string  `json:"instrument_name"`
	Timestamp      int64   `json:"timestamp"`
	ChangeID       *uint64 `json:"change_id"`
	PrevChangeID   *uint64 `json:"prev_change_id"`
	Bids           []Level `json:"bids"`
	Asks           []Level `json:"asks"`
}

// Snapshot reports whether the message declares a full population of the
// book. A message without prev_change_id is only trusted as one before the
// updater is synced.
func (d BookData) Snapshot() bool {
	return d.Type == "snapshot"
}

// Book is a book.{}.raw notification.
type Book struct {
	Method string `json:"method"`
	Params struct {
		Channel string   `json:"channel"`
		Data    BookData `json:"data"`
	} `json:"params"`
}

func (m Book) SubscriptionID() (models.SubscriptionID, bool) {
	if m.Method != methodSubscription || m.Params.Channel == "" {
		return "", false
	}
	return models.SubscriptionID(m.Params.Channel), true
}

func (m Book) ExchangeTime() time.Time {
	return epochMillis(m.Params.Data.Timestamp)
}

// BookUpdater chains deltas by change_id. The first full snapshot syncs it;
// deltas seen before that carry no usable base and are dropped.
type BookUpdater struct {
	UpdatesProcessed uint64
	ChangeID         uint64
	PrevChangeID     uint64
	synced           bool
}

func NewBookUpdater(changeID uint64) *BookUpdater {
	return &BookUpdater{ChangeID: changeID, PrevChangeID: changeID}
}

// InitBook starts every instrument from an empty book; Deribit sends the
// full book as the first notification of a subscription.
func InitBook(instrument models.Instrument) transformer.InstrumentOrderBook[Book] {
	return transformer.InstrumentOrderBook[Book]{
		Instrument: instrument,
		Updater:    NewBookUpdater(0),
		Book:       models.NewOrderBook(),
	}
}

func (u *BookUpdater) Synced() bool { return u.synced }

func (u *BookUpdater) Update(book *models.OrderBook, msg Book) (*models.OrderBook, error) {
	d := msg.Params.Data
	if d.ChangeID == nil {
		return nil, fmt.Errorf("book notification for %s without change_id", d.InstrumentName)
	}

	if u.synced {
		// Once synced every message must chain, snapshots included. A delta
		// that cannot be chained is a gap, never a replacement.
		switch {
		case d.PrevChangeID != nil && *d.PrevChangeID != u.ChangeID:
			return nil, &exchange.InvalidSequenceError{Expected: u.ChangeID, Received: *d.ChangeID}
		case d.PrevChangeID == nil && !d.Snapshot():
			return nil, &exchange.InvalidSequenceError{Expected: u.ChangeID, Received: *d.ChangeID}
		}
	}

	switch {
	case d.Snapshot(), !u.synced && d.PrevChangeID == nil:
		book.Reset(toLevels(d.Bids), toLevels(d.Asks))
		u.synced = true
	case !u.synced:
		return nil, nil
	default:
		book.Upsert(toLevels(d.Bids), toLevels(d.Asks))
	}

	book.LastUpdateTime = msg.ExchangeTime()
	u.PrevChangeID = u.ChangeID
	u.ChangeID = *d.ChangeID
	u.UpdatesProcessed++
	return book, nil
}
