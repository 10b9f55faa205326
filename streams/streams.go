package streams

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"cryptostream/internal/channel"
	"cryptostream/models"
	"cryptostream/reader"
)

type GroupInfo struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name,omitempty"`
	Exchange      models.ExchangeID `json:"exchange"`
	Subscriptions int               `json:"subscriptions"`
}

type Stats struct {
	Groups []GroupInfo                              `json:"groups"`
	Queues map[models.ExchangeID]channel.QueueStats `json:"queues"`
}

// Streams owns the running readers and their per-venue output queues.
type Streams struct {
	mu     sync.Mutex
	queues map[models.ExchangeID]*channel.Queue[models.StreamEvent]
	// all keeps every queue for statistics after Select hands one out.
	all    map[models.ExchangeID]*channel.Queue[models.StreamEvent]
	groups []GroupInfo
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Streams) publisher(id models.ExchangeID) reader.Publish {
	return func(ev models.StreamEvent) {
		if q := s.all[id]; q != nil {
			q.Send(ev)
		}
	}
}

// Select hands over the queue carrying every group of one venue. A venue can
// be selected once; afterwards it is no longer part of Join.
func (s *Streams) Select(id models.ExchangeID) (<-chan models.StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[id]
	if !ok {
		return nil, &NotFoundError{Exchange: id}
	}
	delete(s.queues, id)
	return q.Out(), nil
}

// Join merges every queue not yet selected. Order is preserved per venue
// only.
func (s *Streams) Join() <-chan models.StreamEvent {
	s.mu.Lock()
	queues := s.queues
	s.queues = make(map[models.ExchangeID]*channel.Queue[models.StreamEvent])
	s.mu.Unlock()

	joined := channel.NewQueue[models.StreamEvent]("joined")
	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *channel.Queue[models.StreamEvent]) {
			defer wg.Done()
			for ev := range q.Out() {
				joined.Send(ev)
			}
		}(q)
	}
	go func() {
		wg.Wait()
		joined.Close()
	}()
	return joined.Out()
}

// Exchanges lists the venues that still have a selectable queue.
func (s *Streams) Exchanges() []models.ExchangeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]models.ExchangeID, 0, len(s.queues))
	for id := range s.queues {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Streams) Stats() Stats {
	stats := Stats{
		Groups: append([]GroupInfo(nil), s.groups...),
		Queues: make(map[models.ExchangeID]channel.QueueStats, len(s.all)),
	}
	for id, q := range s.all {
		stats.Queues[id] = q.GetStats()
	}
	return stats
}

// Depths reports buffered events per venue for the queue depth gauge.
func (s *Streams) Depths() map[string]int {
	out := make(map[string]int, len(s.all))
	for id, q := range s.all {
		out[string(id)] = q.GetStats().Buffered
	}
	return out
}

// Stop closes every connection and waits for the readers to return. Queues
// close once drained.
func (s *Streams) Stop() {
	s.cancel()
	s.wg.Wait()
}
