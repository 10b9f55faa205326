// Package streams multiplexes many subscription groups, one connection each,
// into one output queue per venue and an optional joined queue.
package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"cryptostream/exchange"
	"cryptostream/internal/channel"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/reader"
)

type Subscription struct {
	Exchange   exchange.Connector
	Instrument models.Instrument
	Kind       models.StreamKind
}

// Sub is shorthand for a Subscription on a freshly built instrument.
func Sub(c exchange.Connector, base, quote string, kind models.InstrumentKind, stream models.StreamKind) Subscription {
	return Subscription{Exchange: c, Instrument: models.NewInstrument(base, quote, kind), Kind: stream}
}

type group struct {
	id   uuid.UUID
	name string
	subs []Subscription
}

type Option func(*Builder)

func WithReaderOptions(opts reader.Options) Option {
	return func(b *Builder) { b.opts = opts }
}

// WithConnectRate limits dials to each venue to r per second.
func WithConnectRate(r float64, burst int) Option {
	return func(b *Builder) {
		b.connectRate = rate.Limit(r)
		b.connectBurst = burst
	}
}

type Builder struct {
	groups       []group
	opts         reader.Options
	connectRate  rate.Limit
	connectBurst int
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers one group. Each call becomes its own connection.
func (b *Builder) Subscribe(subs ...Subscription) *Builder {
	return b.SubscribeNamed("", subs...)
}

func (b *Builder) SubscribeNamed(name string, subs ...Subscription) *Builder {
	b.groups = append(b.groups, group{id: uuid.New(), name: name, subs: subs})
	return b
}

func (g group) exchange() (exchange.Connector, error) {
	if len(g.subs) == 0 {
		return nil, errors.New("empty subscription group")
	}
	c := g.subs[0].Exchange
	if c == nil {
		return nil, errors.New("subscription without exchange")
	}
	for _, s := range g.subs[1:] {
		if s.Exchange == nil || s.Exchange.ID() != c.ID() {
			return nil, fmt.Errorf("group mixes exchanges")
		}
	}
	return c, nil
}

func (b *Builder) limiter(limiters map[models.ExchangeID]*rate.Limiter, id models.ExchangeID) *rate.Limiter {
	if b.connectRate <= 0 {
		return nil
	}
	if l, ok := limiters[id]; ok {
		return l
	}
	burst := b.connectBurst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(b.connectRate, burst)
	limiters[id] = l
	return l
}

// Init connects every group concurrently. Groups fail independently: the
// returned Streams carries every group that started, and a non-nil error is
// an *InitError listing the rest.
func (b *Builder) Init(ctx context.Context) (*Streams, error) {
	log := logger.GetLogger().WithComponent("streams")
	runCtx, cancel := context.WithCancel(ctx)
	s := &Streams{
		queues: make(map[models.ExchangeID]*channel.Queue[models.StreamEvent]),
		all:    make(map[models.ExchangeID]*channel.Queue[models.StreamEvent]),
		cancel: cancel,
	}

	type result struct {
		reader *reader.Reader
		err    *GroupError
	}
	results := make([]result, len(b.groups))
	limiters := make(map[models.ExchangeID]*rate.Limiter)

	var wg sync.WaitGroup
	for i, g := range b.groups {
		c, err := g.exchange()
		if err != nil {
			results[i] = result{err: &GroupError{Index: i, GroupID: g.id, Err: err}}
			continue
		}
		opts := b.opts
		opts.Limiter = b.limiter(limiters, c.ID())
		rg := reader.Group{ID: g.id, Connector: c}
		for _, sub := range g.subs {
			rg.Subscriptions = append(rg.Subscriptions, reader.Subscription{Instrument: sub.Instrument, Kind: sub.Kind})
		}

		wg.Add(1)
		go func(i int, id models.ExchangeID) {
			defer wg.Done()
			r, err := reader.Connect(runCtx, rg, opts, s.publisher(id))
			if err != nil {
				results[i] = result{err: &GroupError{Index: i, Exchange: id, GroupID: rg.ID, Err: err}}
				return
			}
			results[i] = result{reader: r}
		}(i, c.ID())
	}
	wg.Wait()

	var failures []*GroupError
	running := make(map[models.ExchangeID][]*reader.Reader)
	for i, res := range results {
		if res.err != nil {
			log.WithError(res.err.Err).WithFields(logger.Fields{
				"group": res.err.GroupID.String(), "exchange": string(res.err.Exchange), "index": i,
			}).Error("subscription group failed to start")
			failures = append(failures, res.err)
			continue
		}
		id := res.reader.Exchange()
		running[id] = append(running[id], res.reader)
		s.groups = append(s.groups, GroupInfo{
			ID:            res.reader.ID(),
			Name:          b.groups[i].name,
			Exchange:      id,
			Subscriptions: len(b.groups[i].subs),
		})
	}

	for id := range running {
		q := channel.NewQueue[models.StreamEvent](string(id))
		s.queues[id] = q
		s.all[id] = q
	}
	for id, readers := range running {
		q := s.all[id]
		var venue sync.WaitGroup
		for _, r := range readers {
			venue.Add(1)
			s.wg.Add(1)
			go func(r *reader.Reader) {
				defer s.wg.Done()
				defer venue.Done()
				r.Run(runCtx)
			}(r)
		}
		go func() {
			venue.Wait()
			q.Close()
		}()
	}

	log.WithFields(logger.Fields{"groups": len(b.groups), "running": len(s.groups), "failed": len(failures)}).
		Info("streams initialised")
	if len(failures) > 0 {
		return s, &InitError{Groups: len(b.groups), Failures: failures}
	}
	return s, nil
}
