package channel

import (
	"sync"

	"cryptostream/logger"
)

type QueueStats struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Buffered  int   `json:"buffered"`
}

// Queue is an unbounded FIFO. Send never waits on the consumer, so a slow
// reader grows the buffer instead of stalling producers.
type Queue[T any] struct {
	name string
	in   chan T
	out  chan T

	mu     sync.RWMutex
	closed bool

	stats      QueueStats
	statsMutex sync.RWMutex
	log        *logger.Entry
}

func NewQueue[T any](name string) *Queue[T] {
	q := &Queue[T]{
		name: name,
		in:   make(chan T),
		out:  make(chan T),
		log:  logger.GetLogger().WithComponent("queue").WithField("queue", name),
	}
	go q.pump()
	return q
}

func (q *Queue[T]) pump() {
	var buf []T
	in := q.in
	for in != nil || len(buf) > 0 {
		var out chan T
		var next T
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, v)
			q.setBuffered(len(buf))
		case out <- next:
			var zero T
			buf[0] = zero
			buf = buf[1:]
			q.delivered(len(buf))
		}
	}
	close(q.out)
	q.log.Debug("queue drained and closed")
}

// Send enqueues v. It reports false once the queue is closed.
func (q *Queue[T]) Send(v T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.in <- v
	q.statsMutex.Lock()
	q.stats.Sent++
	q.statsMutex.Unlock()
	return true
}

// Out yields items in send order and is closed after Close once drained.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.in)
}

func (q *Queue[T]) Name() string { return q.name }

func (q *Queue[T]) setBuffered(n int) {
	q.statsMutex.Lock()
	q.stats.Buffered = n
	q.statsMutex.Unlock()
}

func (q *Queue[T]) delivered(buffered int) {
	q.statsMutex.Lock()
	q.stats.Delivered++
	q.stats.Buffered = buffered
	q.statsMutex.Unlock()
}

func (q *Queue[T]) GetStats() QueueStats {
	q.statsMutex.RLock()
	defer q.statsMutex.RUnlock()
	return q.stats
}
