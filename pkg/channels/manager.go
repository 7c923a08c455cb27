package channels

import (
	"context"
	"fmt"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/bus"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

// Manager owns the set of enabled channels, starts and stops them as a
// unit, and pumps outbound bus traffic into the channel that owns each
// chat key.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}
}

func (m *Manager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

func (m *Manager) StartAll(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("starting channel %s: %w", name, err)
		}
		logger.InfoC("channels", "Channel started: "+name)
	}
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}

// Run consumes outbound bus messages until ctx is cancelled. Routing
// prefers the message's channel name and falls back to chat-key
// ownership, so producers may omit the channel field.
func (m *Manager) Run(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		ch := m.route(msg)
		if ch == nil {
			logger.WarnCF("channels", "No channel for outbound message", map[string]any{
				"channel":  msg.Channel,
				"chat_key": msg.ChatKey,
			})
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Outbound send failed", map[string]any{
				"channel":  ch.Name(),
				"chat_key": msg.ChatKey,
				"error":    err.Error(),
			})
		}
	}
}

func (m *Manager) route(msg bus.OutboundMessage) Channel {
	if msg.Channel != "" {
		if ch, ok := m.channels[msg.Channel]; ok {
			return ch
		}
	}
	for _, ch := range m.channels {
		if ch.OwnsChatKey(msg.ChatKey) {
			return ch
		}
	}
	return nil
}
