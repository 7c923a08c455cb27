package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/bus"
)

type stubChannel struct {
	*BaseChannel
	suffix string

	mu       sync.Mutex
	sent     []bus.OutboundMessage
	startErr error
	started  bool
	stopped  bool
}

func newStubChannel(name, suffix string, b *bus.MessageBus) *stubChannel {
	return &stubChannel{
		BaseChannel: NewBaseChannel(name, b, nil),
		suffix:      suffix,
	}
}

func (c *stubChannel) Start(ctx context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	c.SetRunning(true)
	return nil
}

func (c *stubChannel) Stop(ctx context.Context) error {
	c.stopped = true
	c.SetRunning(false)
	return nil
}

func (c *stubChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *stubChannel) OwnsChatKey(chatKey string) bool {
	return strings.HasSuffix(chatKey, c.suffix)
}

func (c *stubChannel) sentMessages() []bus.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bus.OutboundMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func TestManagerStartStopAll(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(b)
	ch := newStubChannel("feishu", "@feishu.net", b)
	m.Register(ch)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if !ch.started {
		t.Error("channel not started")
	}

	m.StopAll(context.Background())
	if !ch.stopped {
		t.Error("channel not stopped")
	}
}

func TestManagerStartAllPropagatesError(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(b)
	ch := newStubChannel("feishu", "@feishu.net", b)
	ch.startErr = errors.New("bind failed")
	m.Register(ch)

	if err := m.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error to propagate")
	}
}

func TestManagerRoutesByChannelName(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(b)
	feishu := newStubChannel("feishu", "@feishu.net", b)
	other := newStubChannel("other", "@other.example", b)
	m.Register(feishu)
	m.Register(other)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	msg := bus.OutboundMessage{Channel: "feishu", ChatKey: "feishu_oc_1@feishu.net", Content: "hi"}
	if err := b.PublishOutbound(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(feishu.sentMessages()) == 1 })
	if got := other.sentMessages(); len(got) != 0 {
		t.Errorf("wrong channel received %v", got)
	}

	cancel()
	<-done
}

func TestManagerRoutesByChatKeyOwnership(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(b)
	feishu := newStubChannel("feishu", "@feishu.net", b)
	m.Register(feishu)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Channel field omitted; ownership decides.
	msg := bus.OutboundMessage{ChatKey: "feishu_oc_2@feishu.net", Content: "routed"}
	if err := b.PublishOutbound(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(feishu.sentMessages()) == 1 })
	if got := feishu.sentMessages()[0].Content; got != "routed" {
		t.Errorf("content = %q, want routed", got)
	}
}

func TestManagerDropsUnroutableMessage(t *testing.T) {
	b := bus.NewMessageBus()
	m := NewManager(b)
	feishu := newStubChannel("feishu", "@feishu.net", b)
	m.Register(feishu)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	if err := b.PublishOutbound(ctx, bus.OutboundMessage{ChatKey: "nobody@example.org"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.PublishOutbound(ctx, bus.OutboundMessage{ChatKey: "feishu_oc_1@feishu.net"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The unroutable message is skipped, not fatal; the next one routes.
	waitFor(t, func() bool { return len(feishu.sentMessages()) == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
