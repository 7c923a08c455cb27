package feishu

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type outboundItem struct {
	ID         string
	ChatKey    string
	Text       string
	EnqueuedAt time.Time
}

// outbox is the in-memory FIFO of undelivered outbound messages. It is
// deliberately unbounded and not persisted; a process restart drops
// whatever is queued.
type outbox struct {
	mu       sync.Mutex
	items    []outboundItem
	draining bool
}

func newOutbox() *outbox {
	return &outbox{}
}

func (q *outbox) enqueue(chatKey, text string) outboundItem {
	item := outboundItem{
		ID:         uuid.New().String(),
		ChatKey:    chatKey,
		Text:       text,
		EnqueuedAt: time.Now(),
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return item
}

// requeue appends a failed item to the tail, preserving global FIFO
// ordering across fresh sends and retries.
func (q *outbox) requeue(item outboundItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

func (q *outbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain flushes the queue head-to-tail, awaiting each delivery before
// the next. Failed items go back to the tail and wait for the next
// trigger; each item is attempted at most once per drain so a dead
// provider cannot spin the loop. A concurrent trigger while a drain is
// running is a no-op.
func (q *outbox) drain(ctx context.Context, deliver func(context.Context, outboundItem) error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	n := len(q.items)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := deliver(ctx, item); err != nil {
			q.requeue(item)
		}
	}
}
