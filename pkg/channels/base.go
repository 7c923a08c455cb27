package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/bus"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	// OwnsChatKey reports whether a chat key belongs to this channel's
	// platform namespace (suffix match).
	OwnsChatKey(chatKey string) bool
}

// TypingSetter is an opt-in interface for channels whose platform has a
// typing indicator. The Manager uses it via type assertion.
type TypingSetter interface {
	SetTyping(ctx context.Context, chatKey string, typing bool) error
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       b,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "ou_123|Display Name"
	idPart := senderID
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
	}

	for _, allowed := range c.allowList {
		if senderID == allowed || idPart == allowed {
			return true
		}
	}

	return false
}

// HandleMessage publishes one canonical inbound message onto the bus.
// Senders outside the allow-list are dropped silently.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	if !c.IsAllowed(msg.SenderID) {
		return
	}

	msg.Channel = c.name
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}

	if err := c.bus.PublishInbound(context.TODO(), msg); err != nil {
		logger.WarnCF(c.name, "Inbound publish failed", map[string]any{"error": err.Error()})
	}
}
