package feishu

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestOutboxDrainPreservesFIFO(t *testing.T) {
	q := newOutbox()
	q.enqueue("chat", "first")
	q.enqueue("chat", "second")
	q.enqueue("chat", "third")

	var delivered []string
	q.drain(context.Background(), func(_ context.Context, item outboundItem) error {
		delivered = append(delivered, item.Text)
		return nil
	})

	want := []string{"first", "second", "third"}
	if len(delivered) != len(want) {
		t.Fatalf("delivered %d items, want %d", len(delivered), len(want))
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Errorf("delivered[%d] = %q, want %q", i, delivered[i], want[i])
		}
	}
	if q.len() != 0 {
		t.Errorf("queue len = %d after full drain, want 0", q.len())
	}
}

func TestOutboxFailureRequeuesAtTail(t *testing.T) {
	q := newOutbox()
	q.enqueue("chat", "fails")
	q.enqueue("chat", "ok")

	var attempts []string
	q.drain(context.Background(), func(_ context.Context, item outboundItem) error {
		attempts = append(attempts, item.Text)
		if item.Text == "fails" {
			return errors.New("provider down")
		}
		return nil
	})

	// One attempt per item per drain; the failed item waits at the tail.
	if len(attempts) != 2 {
		t.Fatalf("attempts = %v, want 2 entries", attempts)
	}
	if q.len() != 1 {
		t.Fatalf("queue len = %d, want 1 requeued item", q.len())
	}

	// Next drain retries the failed item.
	attempts = nil
	q.drain(context.Background(), func(_ context.Context, item outboundItem) error {
		attempts = append(attempts, item.Text)
		return nil
	})
	if len(attempts) != 1 || attempts[0] != "fails" {
		t.Errorf("second drain attempts = %v, want [fails]", attempts)
	}
	if q.len() != 0 {
		t.Errorf("queue len = %d, want 0", q.len())
	}
}

func TestOutboxDrainDoesNotSpinOnDeadProvider(t *testing.T) {
	q := newOutbox()
	q.enqueue("chat", "a")
	q.enqueue("chat", "b")

	attempts := 0
	q.drain(context.Background(), func(_ context.Context, _ outboundItem) error {
		attempts++
		return errors.New("still down")
	})

	if attempts != 2 {
		t.Errorf("attempts = %d, want exactly one per queued item", attempts)
	}
	if q.len() != 2 {
		t.Errorf("queue len = %d, want both items requeued", q.len())
	}
}

func TestOutboxConcurrentDrainIsNoOp(t *testing.T) {
	q := newOutbox()
	for i := 0; i < 5; i++ {
		q.enqueue("chat", "msg")
	}

	firstEntered := make(chan struct{})
	release := make(chan struct{})
	var delivered int
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first := true
		q.drain(context.Background(), func(_ context.Context, _ outboundItem) error {
			if first {
				first = false
				close(firstEntered)
				<-release
			}
			mu.Lock()
			delivered++
			mu.Unlock()
			return nil
		})
	}()

	<-firstEntered
	// Reentrant trigger while the first drain is blocked inside deliver.
	q.drain(context.Background(), func(_ context.Context, _ outboundItem) error {
		t.Error("second drain must not deliver anything")
		return nil
	})
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if delivered != 5 {
		t.Errorf("delivered = %d, want 5 from the first drain only", delivered)
	}
}

func TestOutboxDrainStopsOnContextCancel(t *testing.T) {
	q := newOutbox()
	q.enqueue("chat", "a")
	q.enqueue("chat", "b")

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	q.drain(ctx, func(_ context.Context, _ outboundItem) error {
		attempts++
		cancel()
		return nil
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 before cancellation stops the drain", attempts)
	}
	if q.len() != 1 {
		t.Errorf("queue len = %d, want 1 remaining item", q.len())
	}
}
