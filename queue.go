package activetrains

import (
	"context"
	"errors"

	"github.com/jaygeraghty/CentralTMServer-sub000/parse"
)

const DefaultQueueSize = 10000

// An update held until the store is ready. Exactly one field is set.
type queuedUpdate struct {
	realtime *parse.RealtimeEvent
	forecast *parse.ForecastEvent
}

// Bounded FIFO. When full, the oldest entry makes room for the newest.
type updateQueue struct {
	items   []queuedUpdate
	size    int
	dropped int
}

func newUpdateQueue(size int) *updateQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &updateQueue{size: size}
}

func (q *updateQueue) len() int {
	return len(q.items)
}

// Appends u, returning true if the oldest entry was discarded.
func (q *updateQueue) push(u queuedUpdate) bool {
	overflow := false
	if len(q.items) >= q.size {
		q.items[0] = queuedUpdate{}
		q.items = q.items[1:]
		q.dropped++
		overflow = true
	}
	q.items = append(q.items, u)
	return overflow
}

func (q *updateQueue) drain() []queuedUpdate {
	items := q.items
	q.items = nil
	return items
}

// Queues u if the store isn't ready yet. Returns ErrNotReady if it
// was queued.
func (s *Store) enqueueIfNotReady(u queuedUpdate) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil
	}
	overflow := s.queue.push(u)
	depth := s.queue.len()
	s.mu.Unlock()

	if overflow {
		s.logger.Warn("update queue full, dropped oldest")
		s.observer.QueueOverflowed()
	}
	s.observer.UpdateQueued(depth)
	return ErrNotReady
}

func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Marks the store ready and applies everything queued so far, in the
// order received. Updates arriving while the queue drains are queued
// behind it. Calling MarkReady again does nothing.
func (s *Store) MarkReady(ctx context.Context) {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()

	replayed, failed := 0, 0
	for {
		s.mu.Lock()
		if s.ready {
			s.mu.Unlock()
			return
		}
		items := s.queue.drain()
		if len(items) == 0 {
			s.ready = true
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		for _, u := range items {
			var err error
			if u.realtime != nil {
				err = s.handleRealtime(ctx, u.realtime)
			} else {
				err = s.handleForecast(ctx, u.forecast)
			}
			replayed++
			if err != nil && !errors.Is(err, ErrNotReady) {
				failed++
			}
		}
	}

	s.logger.Info("store ready", "replayed", replayed, "failed", failed)
}
