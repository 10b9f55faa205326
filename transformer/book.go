package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cryptostream/exchange"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
)

// BookMessage is a venue order book notification.
type BookMessage interface {
	SubscriptionID() (models.SubscriptionID, bool)
	ExchangeTime() time.Time
}

// OrderBookUpdater applies one venue message to a book it exclusively owns.
// It returns the book when it changed, nil when the message carried nothing
// new, or an error (InvalidSequenceError when continuity broke) leaving the
// book untouched.
type OrderBookUpdater[M BookMessage] interface {
	Update(book *models.OrderBook, msg M) (*models.OrderBook, error)
}

// InstrumentOrderBook is one row of the book transformer's table.
type InstrumentOrderBook[M BookMessage] struct {
	Instrument models.Instrument
	Updater    OrderBookUpdater[M]
	Book       *models.OrderBook
}

// BookInit builds an instrument's starting state. Every venue wired here
// embeds the full book in its first notification, so no snapshot is fetched:
// init returns an empty book with an updater awaiting that notification.
type BookInit[M BookMessage] func(instrument models.Instrument) InstrumentOrderBook[M]

// Resync asks the venue to restart one subscription from a fresh snapshot.
type Resync func(instrument models.Instrument) error

// DefaultSnapshotWait bounds how long a (re)subscribed book may go without
// its snapshot before it is reported stale and subscribed again.
const DefaultSnapshotWait = 30 * time.Second

// awaiting tracks a book that has not been populated since subscribing.
type awaiting struct {
	since   time.Time
	dropped int
}

// Book routes each message to its instrument's updater and publishes a copy
// of the resulting book.
type Book[M BookMessage] struct {
	exchange     models.ExchangeID
	books        map[models.SubscriptionID]*InstrumentOrderBook[M]
	pending      map[models.SubscriptionID]*awaiting
	init         BookInit[M]
	resync       Resync
	snapshotWait time.Duration
	now          func() time.Time
	log          *logger.Entry
}

func NewBook[M BookMessage](exchangeID models.ExchangeID, instruments map[models.SubscriptionID]models.Instrument, init BookInit[M], resync Resync) *Book[M] {
	now := time.Now()
	books := make(map[models.SubscriptionID]*InstrumentOrderBook[M], len(instruments))
	pending := make(map[models.SubscriptionID]*awaiting, len(instruments))
	for id, instrument := range instruments {
		entry := init(instrument)
		books[id] = &entry
		pending[id] = &awaiting{since: now}
	}
	return &Book[M]{
		exchange:     exchangeID,
		books:        books,
		pending:      pending,
		init:         init,
		resync:       resync,
		snapshotWait: DefaultSnapshotWait,
		now:          time.Now,
		log:          logger.GetLogger().WithComponent("book_transformer").WithExchange(string(exchangeID)),
	}
}

func (t *Book[M]) Transform(frame []byte) []models.StreamEvent {
	var msg M
	if err := json.Unmarshal(frame, &msg); err != nil {
		return []models.StreamEvent{models.ErrorOf(t.exchange, exchange.Deserialise(frame, err))}
	}
	id, ok := msg.SubscriptionID()
	if !ok {
		return nil
	}
	entry, ok := t.books[id]
	if !ok {
		return []models.StreamEvent{models.ErrorOf(t.exchange, &exchange.UnidentifiedError{ID: id})}
	}

	book, err := entry.Updater.Update(entry.Book, msg)
	if err != nil {
		return t.fail(id, entry.Instrument, err)
	}
	if book == nil {
		if p := t.pending[id]; p != nil {
			p.dropped++
		}
		return nil
	}
	delete(t.pending, id)
	if book.Crossed() {
		t.log.WithField("instrument", entry.Instrument.String()).Debug("crossed book not published")
		return nil
	}

	return []models.StreamEvent{models.EventOf(models.MarketEvent{
		ExchangeTime: msg.ExchangeTime(),
		ReceivedTime: t.now().UTC(),
		Exchange:     t.exchange,
		Instrument:   entry.Instrument,
		Kind:         book.Snapshot(),
	})}
}

// fail surfaces err. A broken sequence also resets the entry and resubscribes
// that one instrument; sibling books are untouched.
func (t *Book[M]) fail(id models.SubscriptionID, instrument models.Instrument, err error) []models.StreamEvent {
	err = fmt.Errorf("%s %s: %w", t.exchange, instrument, err)
	out := []models.StreamEvent{models.ErrorOf(t.exchange, err)}

	var seq *exchange.InvalidSequenceError
	if !errors.As(err, &seq) {
		return out
	}

	t.log.WithError(err).WithField("instrument", instrument.String()).Warn("order book invalidated, resubscribing")
	return append(out, t.restart(id, instrument)...)
}

// restart resets one entry to await a snapshot and resubscribes it.
func (t *Book[M]) restart(id models.SubscriptionID, instrument models.Instrument) []models.StreamEvent {
	fresh := t.init(instrument)
	t.books[id] = &fresh
	t.pending[id] = &awaiting{since: t.now()}
	metrics.RecordResync(string(t.exchange))

	if t.resync == nil {
		return nil
	}
	if err := t.resync(instrument); err != nil {
		return []models.StreamEvent{models.ErrorOf(t.exchange, fmt.Errorf("resubscribe %s: %w", instrument, err))}
	}
	return nil
}

// Expire reports every book still waiting for its snapshot past the wait,
// then resubscribes it. A venue that rejected a resubscribe therefore shows
// up downstream instead of leaving the book silently dead.
func (t *Book[M]) Expire() []models.StreamEvent {
	if len(t.pending) == 0 {
		return nil
	}
	now := t.now()
	var out []models.StreamEvent
	for id, p := range t.pending {
		waited := now.Sub(p.since)
		if waited < t.snapshotWait {
			continue
		}
		instrument := t.books[id].Instrument
		err := &exchange.StaleBookError{Instrument: instrument, Waited: waited, Dropped: p.dropped}
		t.log.WithError(err).WithField("instrument", instrument.String()).Warn("order book stale, resubscribing")
		out = append(out, models.ErrorOf(t.exchange, err))
		out = append(out, t.restart(id, instrument)...)
	}
	return out
}

// Entry exposes the live state for an id; used by tests and diagnostics.
func (t *Book[M]) Entry(id models.SubscriptionID) (InstrumentOrderBook[M], bool) {
	entry, ok := t.books[id]
	if !ok {
		return InstrumentOrderBook[M]{}, false
	}
	return *entry, true
}
