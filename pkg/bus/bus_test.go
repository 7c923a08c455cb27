package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	want := InboundMessage{
		Channel:  "feishu",
		ChatKey:  "feishu_oc_1@feishu.net",
		SenderID: "ou_alice",
		Content:  "hello",
	}
	if err := mb.PublishInbound(context.Background(), want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("consume returned not-ok")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	want := OutboundMessage{Channel: "feishu", ChatKey: "feishu_oc_1@feishu.net", Content: "reply"}
	if err := mb.PublishOutbound(context.Background(), want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, ok := mb.SubscribeOutbound(context.Background())
	if !ok {
		t.Fatal("subscribe returned not-ok")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	err := mb.PublishInbound(context.Background(), InboundMessage{})
	if !errors.Is(err, ErrBusClosed) {
		t.Errorf("publish inbound after close = %v, want ErrBusClosed", err)
	}
	err = mb.PublishOutbound(context.Background(), OutboundMessage{})
	if !errors.Is(err, ErrBusClosed) {
		t.Errorf("publish outbound after close = %v, want ErrBusClosed", err)
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan bool, 1)
	go func() {
		_, ok := mb.ConsumeInbound(context.Background())
		done <- ok
	}()

	mb.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("consume on closed bus reported ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not unblock on close")
	}
}

func TestConsumeHonorsContextCancel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Error("consume with cancelled context reported ok")
	}
}
