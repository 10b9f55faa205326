package exchange

import (
	"errors"
	"fmt"
	"time"

	"cryptostream/models"
)

var errMissingHost = errors.New("missing host")

func errUnsupportedScheme(scheme string) error {
	return fmt.Errorf("unsupported scheme %q", scheme)
}

// URLParseError means a connector is misconfigured. Fatal before connecting.
type URLParseError struct {
	URL string
	Err error
}

func (e *URLParseError) Error() string {
	return fmt.Sprintf("invalid url %q: %v", e.URL, e.Err)
}

func (e *URLParseError) Unwrap() error { return e.Err }

// SubscribeError means the venue rejected a subscription or acknowledged it
// with an empty payload. Fatal for the group only.
type SubscribeError struct {
	Exchange models.ExchangeID
	Reason   string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("%s subscribe failed: %s", e.Exchange, e.Reason)
}

// InvalidSequenceError means a book can no longer be trusted. For sequenced
// venues Expected is the locally tracked change id and Received the id of the
// offending delta; for checksummed venues Expected is the checksum the venue
// declared and Received the one computed locally.
type InvalidSequenceError struct {
	Expected uint64
	Received uint64
}

func (e *InvalidSequenceError) Error() string {
	return fmt.Sprintf("invalid sequence: expected %d, received %d", e.Expected, e.Received)
}

// UnidentifiedError is a frame that matched no current subscription. The frame
// is dropped and the stream continues.
type UnidentifiedError struct {
	ID models.SubscriptionID
}

func (e *UnidentifiedError) Error() string {
	return fmt.Sprintf("unidentified message for subscription %q", e.ID)
}

// DeserialiseError wraps a frame that could not be decoded.
type DeserialiseError struct {
	Payload string
	Err     error
}

func (e *DeserialiseError) Error() string {
	payload := e.Payload
	if len(payload) > 256 {
		payload = payload[:256] + "..."
	}
	return fmt.Sprintf("failed to deserialise %s: %v", payload, e.Err)
}

func (e *DeserialiseError) Unwrap() error { return e.Err }

// StaleBookError reports a book that received no snapshot within the wait
// after it was (re)subscribed. Dropped counts deltas discarded meanwhile.
type StaleBookError struct {
	Instrument models.Instrument
	Waited     time.Duration
	Dropped    int
}

func (e *StaleBookError) Error() string {
	return fmt.Sprintf("no snapshot for %s after %s, %d deltas dropped", e.Instrument, e.Waited, e.Dropped)
}

// SocketError reports a transport failure on an established connection.
type SocketError struct {
	Err error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("socket: %v", e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// UnsupportedError is returned for stream kinds or instruments a venue does
// not offer.
type UnsupportedError struct {
	Exchange models.ExchangeID
	What     string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Exchange, e.What)
}

// Deserialise builds a DeserialiseError from a raw frame.
func Deserialise(frame []byte, err error) error {
	return &DeserialiseError{Payload: string(frame), Err: err}
}
