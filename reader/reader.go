// Package reader drives one websocket connection per subscription group:
// dial, subscribe handshake, keep-alive and the receive, transform and
// publish loop.
package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"cryptostream/exchange"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/transformer"
)

type Options struct {
	HandshakeTimeout time.Duration
	KeepAlive        time.Duration
	Reconnect        bool
	ReconnectDelay   time.Duration
	// Limiter paces dials to one venue. Nil means unlimited.
	Limiter *rate.Limiter
	Dialer  *websocket.Dialer
}

type Subscription struct {
	Instrument models.Instrument
	Kind       models.StreamKind
}

// Group is a set of subscriptions to one venue placed on one connection.
type Group struct {
	ID            uuid.UUID
	Connector     exchange.Connector
	Subscriptions []Subscription
}

// Publish receives every event and error a reader produces, in order.
type Publish func(models.StreamEvent)

type Reader struct {
	group   Group
	opts    Options
	publish Publish
	log     *logger.Entry

	subs   []exchange.ExchangeSub
	byKind map[models.StreamKind]map[models.SubscriptionID]models.Instrument

	mu       sync.Mutex
	conn     *conn
	pipeline exchange.Transformer
	pending  [][]byte
}

// Connect resolves the group's subscriptions, dials and completes the
// subscribe handshake. A returned error is fatal for this group only.
func Connect(ctx context.Context, group Group, opts Options, publish Publish) (*Reader, error) {
	if group.Connector == nil {
		return nil, errors.New("group has no connector")
	}
	if len(group.Subscriptions) == 0 {
		return nil, errors.New("group has no subscriptions")
	}
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	exchangeID := group.Connector.ID()
	r := &Reader{
		group:   group,
		opts:    opts,
		publish: publish,
		log: logger.GetLogger().WithComponent("reader").WithExchange(string(exchangeID)).
			WithField("group", group.ID.String()),
		byKind: make(map[models.StreamKind]map[models.SubscriptionID]models.Instrument),
	}

	seen := make(map[models.SubscriptionID]bool)
	for _, s := range group.Subscriptions {
		sub, err := exchange.Subscription(group.Connector, s.Instrument, s.Kind)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", s.Instrument, s.Kind, err)
		}
		id := sub.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		r.subs = append(r.subs, sub)
		if r.byKind[s.Kind] == nil {
			r.byKind[s.Kind] = make(map[models.SubscriptionID]models.Instrument)
		}
		r.byKind[s.Kind][id] = s.Instrument
	}

	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) ID() uuid.UUID { return r.group.ID }

func (r *Reader) Exchange() models.ExchangeID { return r.group.Connector.ID() }

// buildPipeline creates fresh transformers, and so fresh books, bound to c.
func (r *Reader) buildPipeline(c *conn) (exchange.Transformer, error) {
	routes := make(map[models.SubscriptionID]exchange.Transformer)
	for kind, instruments := range r.byKind {
		t, err := r.group.Connector.Transformer(kind, instruments, c)
		if err != nil {
			return nil, err
		}
		for id := range instruments {
			routes[id] = t
		}
	}
	return transformer.NewRouter(r.group.Connector.ID(), r.group.Connector.Identify, routes), nil
}

func (r *Reader) connect(ctx context.Context) error {
	connector := r.group.Connector
	u, err := connector.URL()
	if err != nil {
		return err
	}
	if r.opts.Limiter != nil {
		if err := r.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	dialer := r.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return &exchange.SocketError{Err: err}
	}
	c := &conn{ws: ws}

	pipeline, err := r.buildPipeline(c)
	if err != nil {
		c.Close()
		return err
	}
	pending, err := r.handshake(c)
	if err != nil {
		c.Close()
		return err
	}

	r.mu.Lock()
	r.conn = c
	r.pipeline = pipeline
	r.pending = pending
	r.mu.Unlock()

	metrics.ConnectionOpened(string(connector.ID()))
	r.log.WithFields(logger.Fields{"url": u.String(), "subscriptions": len(r.subs)}).Info("subscribed")
	return nil
}

// handshake writes the subscription requests and waits for every
// acknowledgement. Data frames that arrive first are returned for replay.
func (r *Reader) handshake(c *conn) ([][]byte, error) {
	connector := r.group.Connector
	for _, f := range connector.Requests(r.subs) {
		if err := c.WriteFrame(f); err != nil {
			return nil, &exchange.SocketError{Err: err}
		}
	}

	timeout := r.opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	defer c.ws.SetReadDeadline(time.Time{})

	var pending [][]byte
	expected := connector.ExpectedResponses(r.subs)
	for acked := 0; acked < expected; {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, &exchange.SubscribeError{
					Exchange: connector.ID(),
					Reason:   fmt.Sprintf("received %d of %d subscription responses before timeout", acked, expected),
				}
			}
			return nil, &exchange.SocketError{Err: err}
		}
		matched, err := connector.ValidateResponse(msg)
		if err != nil {
			return nil, err
		}
		if matched {
			acked++
			continue
		}
		if _, ok := connector.Identify(msg); ok {
			pending = append(pending, msg)
		}
	}
	return pending, nil
}

// Run forwards events until ctx is cancelled, or until the connection ends
// when reconnect is off.
func (r *Reader) Run(ctx context.Context) {
	exchangeID := r.group.Connector.ID()
	for {
		err := r.read(ctx)
		metrics.ConnectionClosed(string(exchangeID))
		if ctx.Err() != nil {
			r.log.Info("reader stopped")
			return
		}
		r.log.WithError(err).Warn("websocket read loop ended")
		r.emit(models.ErrorOf(exchangeID, &exchange.SocketError{Err: err}))
		if !r.opts.Reconnect {
			return
		}

		for {
			if waitForReconnect(ctx, r.opts.ReconnectDelay) {
				return
			}
			err := r.connect(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Warn("failed to reconnect, retrying")
		}
	}
}

func (r *Reader) read(ctx context.Context) error {
	r.mu.Lock()
	c, pipeline, pending := r.conn, r.pipeline, r.pending
	r.pending = nil
	r.mu.Unlock()
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	cancelPing := startPingLoop(ctx, c, r.group.Connector.PingInterval(), r.opts.KeepAlive, r.log)
	defer cancelPing()

	exchangeID := string(r.group.Connector.ID())
	for _, msg := range pending {
		r.forward(pipeline.Transform(msg))
	}
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		logger.RecordSocketFrame(exchangeID, len(msg))
		r.forward(pipeline.Transform(msg))
	}
}

func (r *Reader) forward(events []models.StreamEvent) {
	for _, ev := range events {
		r.emit(ev)
	}
}

func (r *Reader) emit(ev models.StreamEvent) {
	exchangeID := string(ev.Exchange)
	if ev.Err != nil {
		metrics.RecordError(exchangeID, ev.Err)
		r.log.WithError(ev.Err).Debug("stream error")
	} else if ev.Event.Kind != nil {
		metrics.RecordEvent(exchangeID, string(ev.Event.Kind.StreamKind()))
	}
	r.publish(ev)
}
