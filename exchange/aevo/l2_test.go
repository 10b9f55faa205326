package aevo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cryptostream/exchange"
	"cryptostream/models"
)

const (
	snapshotChecksum = 3570344908 // 30000.5:1.2:30001:0.7:30000:2
	updatedChecksum  = 2747798362 // 30000.5:1.2:30001:0.7:30000:3
	removedChecksum  = 1559729365 // 30000.5:1.2:30001:0.7
)

func frame(t *testing.T, kind, bids, asks string, checksum uint32) Book {
	t.Helper()
	raw := fmt.Sprintf(`{"channel":"orderbook:BTC-PERPETUAL","data":{"type":%q,"instrument_id":"1","instrument_name":"BTC-PERPETUAL","instrument_type":"PERPETUAL","bids":%s,"asks":%s,"last_updated":"1688120754000000000","checksum":"%d"}}`,
		kind, bids, asks, checksum)
	var msg Book
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

const (
	snapBids = `[["30000","2","0.5"],["30000.5","1.2","0.5"]]`
	snapAsks = `[["30001","0.7","0.5"]]`
)

func TestBookChecksum(t *testing.T) {
	bids := []models.Level{{Price: 30000.5, Amount: 1.2}, {Price: 30000, Amount: 2}}
	asks := []models.Level{{Price: 30001, Amount: 0.7}}
	if got := BookChecksum(bids, asks); got != snapshotChecksum {
		t.Fatalf("checksum = %d, want %d", got, snapshotChecksum)
	}

	changed := []models.Level{{Price: 30000.5, Amount: 1.5}, {Price: 30000, Amount: 2}}
	if BookChecksum(changed, asks) == snapshotChecksum {
		t.Fatalf("amount change did not alter checksum")
	}
}

func TestBookChecksumDepthCapped(t *testing.T) {
	var bids, deep []models.Level
	for i := 0; i < 120; i++ {
		l := models.Level{Price: float64(1000 - i), Amount: 1}
		deep = append(deep, l)
		if i < checksumDepth {
			bids = append(bids, l)
		}
	}
	if BookChecksum(bids, nil) != BookChecksum(deep, nil) {
		t.Fatalf("levels beyond depth %d changed the checksum", checksumDepth)
	}
}

func TestSnapshotVerified(t *testing.T) {
	u := NewBookUpdater(0)
	book := models.NewOrderBook()

	got, err := u.Update(book, frame(t, "snapshot", snapBids, snapAsks, snapshotChecksum))
	if err != nil || got == nil {
		t.Fatalf("snapshot: %v %v", got, err)
	}
	if u.LastChecksum != snapshotChecksum || u.UpdatesProcessed != 1 || !u.Synced() {
		t.Fatalf("unexpected updater %+v", u)
	}
	if book.Bids.Len() != 2 || book.Asks.Len() != 1 {
		t.Fatalf("unexpected book %v %v", book.Bids.Levels(), book.Asks.Levels())
	}
	if book.LastUpdateTime.UnixNano() != 1688120754000000000 {
		t.Fatalf("unexpected update time %v", book.LastUpdateTime)
	}
}

func TestDuplicateSnapshotIsNoop(t *testing.T) {
	u := NewBookUpdater(0)
	book := models.NewOrderBook()
	if _, err := u.Update(book, frame(t, "snapshot", snapBids, snapAsks, snapshotChecksum)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	got, err := u.Update(book, frame(t, "snapshot", snapBids, snapAsks, snapshotChecksum))
	if err != nil || got != nil {
		t.Fatalf("duplicate produced %v %v", got, err)
	}
	if u.UpdatesProcessed != 1 {
		t.Fatalf("updates_processed changed: %d", u.UpdatesProcessed)
	}
}

func TestChecksumMismatchLeavesBook(t *testing.T) {
	u := NewBookUpdater(0)
	book := models.NewOrderBook()
	if _, err := u.Update(book, frame(t, "snapshot", snapBids, snapAsks, snapshotChecksum)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	_, err := u.Update(book, frame(t, "snapshot", `[["29000","1","0"]]`, snapAsks, 12345))
	var seq *exchange.InvalidSequenceError
	if !errors.As(err, &seq) || seq.Expected != 12345 {
		t.Fatalf("expected InvalidSequenceError, got %v", err)
	}
	if best, _ := book.Bids.Best(); best.Price != 30000.5 || book.Bids.Len() != 2 {
		t.Fatalf("book mutated on mismatch: %v", book.Bids.Levels())
	}
	if u.LastChecksum != snapshotChecksum {
		t.Fatalf("reference checksum replaced on mismatch")
	}
}

func TestIncrementalUpdates(t *testing.T) {
	u := NewBookUpdater(0)
	book := models.NewOrderBook()
	if _, err := u.Update(book, frame(t, "snapshot", snapBids, snapAsks, snapshotChecksum)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if _, err := u.Update(book, frame(t, "update", `[["30000","3","0.5"]]`, `[]`, updatedChecksum)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := u.Update(book, frame(t, "update", `[["30000","0","0"]]`, `[]`, removedChecksum)); err != nil {
		t.Fatalf("removal: %v", err)
	}
	if book.Bids.Len() != 1 || u.UpdatesProcessed != 3 || u.LastChecksum != removedChecksum {
		t.Fatalf("unexpected state %v %+v", book.Bids.Levels(), u)
	}

	// an update without a checksum is applied unverified
	if _, err := u.Update(book, frame(t, "update", `[["29999","1","0"]]`, `[]`, 0)); err != nil {
		t.Fatalf("unchecked update: %v", err)
	}
	if book.Bids.Len() != 2 {
		t.Fatalf("unchecked update not applied")
	}
}

func TestUpdateBeforeSnapshotDropped(t *testing.T) {
	u := NewBookUpdater(0)
	book := models.NewOrderBook()
	got, err := u.Update(book, frame(t, "update", `[["30000","3","0.5"]]`, `[]`, 0))
	if err != nil || got != nil || book.Bids.Len() != 0 {
		t.Fatalf("unsynced update applied: %v %v", got, err)
	}
}

// ladder returns n bids one apart from top down, as models levels and as a
// JSON level array.
func ladder(top, n int) ([]models.Level, string) {
	levels := make([]models.Level, n)
	raw := make([]string, n)
	for i := range levels {
		levels[i] = models.Level{Price: float64(top - i), Amount: 1}
		raw[i] = fmt.Sprintf(`["%d","1","0"]`, top-i)
	}
	return levels, "[" + strings.Join(raw, ",") + "]"
}

func TestChecksummedRemovalPullsDeeperLevelIntoDepth(t *testing.T) {
	levels, raw := ladder(1000, checksumDepth+1)
	u := NewBookUpdater(0)
	book := models.NewOrderBook()
	if _, err := u.Update(book, frame(t, "snapshot", raw, `[]`, BookChecksum(levels, nil))); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// removing the best bid moves the level at depth+1 into the checksum
	want := BookChecksum(levels[1:], nil)
	if _, err := u.Update(book, frame(t, "update", `[["1000","0","0"]]`, `[]`, want)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if best, _ := book.Bids.Best(); best.Price != 999 || book.Bids.Len() != checksumDepth {
		t.Fatalf("unexpected book: best %v len %d", best, book.Bids.Len())
	}
	if u.LastChecksum != want {
		t.Fatalf("reference checksum not advanced")
	}

	_, err := u.Update(book, frame(t, "update", `[["999","0","0"]]`, `[]`, 12345))
	var seq *exchange.InvalidSequenceError
	if !errors.As(err, &seq) {
		t.Fatalf("expected InvalidSequenceError, got %v", err)
	}
	if best, _ := book.Bids.Best(); best.Price != 999 || book.Bids.Len() != checksumDepth {
		t.Fatalf("book mutated on mismatch: best %v len %d", best, book.Bids.Len())
	}
}

type recordingWriter struct{ frames []exchange.Frame }

func (w *recordingWriter) WriteFrame(f exchange.Frame) error {
	w.frames = append(w.frames, f)
	return nil
}

func TestBookTransformerResubscribesOnMismatch(t *testing.T) {
	w := &recordingWriter{}
	btc := models.NewInstrument("btc", "usd", models.Perpetual())
	tr, err := New("").Transformer(models.OrderBooksL2, map[models.SubscriptionID]models.Instrument{
		"orderbook:BTC-PERPETUAL": btc,
	}, w)
	if err != nil {
		t.Fatalf("Transformer: %v", err)
	}

	bad := `{"channel":"orderbook:BTC-PERPETUAL","data":{"type":"snapshot","bids":[["1","1","0"]],"asks":[["2","1","0"]],"last_updated":"1","checksum":"7"}}`
	out := tr.Transform([]byte(bad))
	var seq *exchange.InvalidSequenceError
	if len(out) != 1 || !errors.As(out[0].Err, &seq) {
		t.Fatalf("expected invalid sequence, got %+v", out)
	}
	if len(w.frames) != 2 || string(w.frames[1].Payload) != `{"op":"subscribe","data":["orderbook:BTC-PERPETUAL"]}` {
		t.Fatalf("unexpected resubscribe frames %d", len(w.frames))
	}
}
