package aevo

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"time"

	"cryptostream/exchange"
	"cryptostream/models"
	"cryptostream/transformer"
)

// checksumDepth is the number of levels per side covered by the checksum.
const checksumDepth = 100

// Level is ["price", "amount", "iv"] with every field a decimal string.
type Level struct {
	Price  float64
	Amount float64
	IV     float64
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("level %s: want at least price and amount", data)
	}
	var err error
	if l.Price, err = strconv.ParseFloat(raw[0], 64); err != nil {
		return fmt.Errorf("level price: %w", err)
	}
	if l.Amount, err = strconv.ParseFloat(raw[1], 64); err != nil {
		return fmt.Errorf("level amount: %w", err)
	}
	if len(raw) > 2 && raw[2] != "" {
		if l.IV, err = strconv.ParseFloat(raw[2], 64); err != nil {
			return fmt.Errorf("level iv: %w", err)
		}
	}
	return nil
}

func toLevels(in []Level) []models.Level {
	out := make([]models.Level, len(in))
	for i, l := range in {
		out[i] = models.Level{Price: l.Price, Amount: l.Amount}
	}
	return out
}

// Checksum is a uint32 Aevo sends as a string.
type Checksum uint32

func (c *Checksum) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}
	*c = Checksum(v)
	return nil
}

type BookData struct {
	Type           string   `json:"type"`
	InstrumentID   string   `json:"instrument_id"`
	InstrumentName string   `json:"instrument_name"`
	InstrumentType string   `json:"instrument_type"`
	Bids           []Level  `json:"bids"`
	Asks           []Level  `json:"asks"`
	LastUpdated    string   `json:"last_updated"`
	Checksum       Checksum `json:"checksum"`
}

// Book is an orderbook:{} message.
type Book struct {
	Channel string   `json:"channel"`
	Data    BookData `json:"data"`
}

func (m Book) SubscriptionID() (models.SubscriptionID, bool) {
	if m.Channel == "" {
		return "", false
	}
	return models.SubscriptionID(m.Channel), true
}

// ExchangeTime parses last_updated, nanoseconds since the epoch.
func (m Book) ExchangeTime() time.Time {
	ns, err := strconv.ParseInt(m.Data.LastUpdated, 10, 64)
	if err != nil || ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// BookChecksum is CRC32 (IEEE) over "price:amount:" for the top levels,
// bid before ask at each depth, with the trailing colon removed.
func BookChecksum(bids, asks []models.Level) uint32 {
	depth := len(bids)
	if len(asks) > depth {
		depth = len(asks)
	}
	if depth > checksumDepth {
		depth = checksumDepth
	}

	var b strings.Builder
	write := func(l models.Level) {
		b.WriteString(strconv.FormatFloat(l.Price, 'f', -1, 64))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(l.Amount, 'f', -1, 64))
		b.WriteByte(':')
	}
	for i := 0; i < depth; i++ {
		if i < len(bids) {
			write(bids[i])
		}
		if i < len(asks) {
			write(asks[i])
		}
	}
	preimage := strings.TrimSuffix(b.String(), ":")
	return crc32.ChecksumIEEE([]byte(preimage))
}

// BookUpdater verifies every snapshot, and every update that carries a
// checksum, before applying it to the live book. A rejected message leaves the
// book untouched.
type BookUpdater struct {
	UpdatesProcessed uint64
	LastChecksum     uint32
	synced           bool
}

func NewBookUpdater(checksum uint32) *BookUpdater {
	return &BookUpdater{LastChecksum: checksum}
}

// InitBook starts from an empty book; the first orderbook message after
// subscribing is a full snapshot.
func InitBook(instrument models.Instrument) transformer.InstrumentOrderBook[Book] {
	return transformer.InstrumentOrderBook[Book]{
		Instrument: instrument,
		Updater:    NewBookUpdater(0),
		Book:       models.NewOrderBook(),
	}
}

func (u *BookUpdater) Synced() bool { return u.synced }

func (u *BookUpdater) Update(book *models.OrderBook, msg Book) (*models.OrderBook, error) {
	d := msg.Data
	declared := uint32(d.Checksum)
	bids, asks := toLevels(d.Bids), toLevels(d.Asks)

	switch d.Type {
	case "snapshot":
		// Same checksum as the last verified book: nothing new.
		if u.synced && declared == u.LastChecksum {
			return nil, nil
		}
		b := models.NewOrderBookSide(models.Buy, bids...)
		a := models.NewOrderBookSide(models.Sell, asks...)
		if err := u.verify(declared, b.Top(checksumDepth), a.Top(checksumDepth)); err != nil {
			return nil, err
		}
		book.Bids, book.Asks = b, a
	case "update":
		if !u.synced {
			return nil, nil
		}
		if declared != 0 {
			b := projectTop(&book.Bids, bids)
			a := projectTop(&book.Asks, asks)
			if err := u.verify(declared, b, a); err != nil {
				return nil, err
			}
		}
		book.Upsert(bids, asks)
	default:
		return nil, fmt.Errorf("unknown orderbook message type %q", d.Type)
	}

	book.LastUpdateTime = msg.ExchangeTime()
	if book.LastUpdateTime.IsZero() {
		book.LastUpdateTime = time.Now().UTC()
	}
	u.synced = true
	u.UpdatesProcessed++
	return book, nil
}

func (u *BookUpdater) verify(declared uint32, bids, asks []models.Level) error {
	computed := BookChecksum(bids, asks)
	if computed != declared {
		return &exchange.InvalidSequenceError{Expected: uint64(declared), Received: uint64(computed)}
	}
	u.LastChecksum = computed
	return nil
}

// projectTop returns the checksummed levels side would hold after delta,
// copying only the levels that can still reach that depth: every removal
// lets at most one deeper level move up.
func projectTop(side *models.OrderBookSide, delta []models.Level) []models.Level {
	depth := checksumDepth
	for _, l := range delta {
		if l.Amount <= 0 {
			depth++
		}
	}
	projected := models.NewOrderBookSide(side.Side(), side.Top(depth)...)
	projected.Upsert(delta...)
	return projected.Top(checksumDepth)
}
