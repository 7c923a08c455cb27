package feishu

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/bus"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/channels"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/config"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

const (
	seenEventsWindow = 1024
	senderNameWindow = 256

	outboxRetryInterval = 30 * time.Second
)

// Channel is the Feishu adapter facade: one credential manager, one
// transport strategy (push or pull, chosen at construction), the
// normalizer, the outbound queue, and the metadata reconciler behind
// the uniform channel lifecycle.
type Channel struct {
	*channels.BaseChannel

	cfg       config.FeishuConfig
	registry  GroupRegistry
	tokens    *tokenManager
	api       *apiClient
	transport transport
	outbox    *outbox
	syncer    *Syncer
	seen      *seenEvents
	names     *senderNames

	retryInterval time.Duration

	runCtx context.Context
	cancel context.CancelFunc
}

func NewChannel(cfg config.FeishuConfig, b *bus.MessageBus, reg GroupRegistry) (*Channel, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	tokens := newTokenManager(cfg, httpClient)
	api := newAPIClient(cfg, httpClient, tokens)

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(channelName, b, cfg.AllowFrom),
		cfg:         cfg,
		registry:    reg,
		tokens:      tokens,
		api:         api,
		outbox:      newOutbox(),
		seen:        newSeenEvents(seenEventsWindow),
		names:       newSenderNames(senderNameWindow),

		retryInterval: outboxRetryInterval,
	}
	c.syncer = newSyncer(api, reg, cfg.SyncIntervalDuration())

	switch cfg.Transport {
	case config.TransportWebhook:
		c.transport = &pushTransport{
			host:              cfg.WebhookHost,
			port:              cfg.WebhookPort,
			path:              cfg.WebhookPath,
			verificationToken: cfg.VerificationToken,
			signingSecret:     cfg.EncryptKey,
			onEvent:           c.handleRawEvent,
			onReady:           c.onConnected,
		}
	case config.TransportWS:
		wsURL := cfg.WSURL
		if wsURL == "" {
			wsURL = defaultWSURL
		}
		c.transport = &pullTransport{
			url:            wsURL,
			heartbeat:      cfg.HeartbeatIntervalDuration(),
			reconnectDelay: cfg.ReconnectDelayDuration(),
			authorize:      tokens.EnsureValid,
			onEvent:        c.handleRawEvent,
			onReady:        c.onConnected,
		}
	default:
		return nil, fmt.Errorf("feishu: unknown transport %q", cfg.Transport)
	}

	return c, nil
}

func (c *Channel) Start(ctx context.Context) error {
	c.runCtx, c.cancel = context.WithCancel(ctx)

	go c.tokens.RunProactive(c.runCtx)

	if err := c.transport.Start(c.runCtx); err != nil {
		c.cancel()
		return err
	}

	go c.syncer.Run(c.runCtx)
	go c.retryLoop(c.runCtx)
	c.SetRunning(true)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.SetRunning(false)
	return c.transport.Stop(ctx)
}

func (c *Channel) IsConnected() bool {
	return c.transport.Connected()
}

// Send is fire-and-forget: failures are queued for retry, never
// surfaced to the caller.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.transport.Connected() {
		item := c.outbox.enqueue(msg.ChatKey, msg.Content)
		logger.DebugCF(channelName, "Queued while disconnected", map[string]any{
			"chat_key": msg.ChatKey,
			"item_id":  item.ID,
			"queued":   c.outbox.len(),
		})
		return nil
	}

	err := c.api.SendText(ctx, NativeChatID(msg.ChatKey), msg.Content)
	if err != nil {
		c.outbox.enqueue(msg.ChatKey, msg.Content)
		logger.WarnCF(channelName, "Send failed, queued for retry", map[string]any{
			"chat_key": msg.ChatKey,
			"error":    err.Error(),
		})
		return nil
	}

	// A delivery just went through; flush anything queued behind
	// earlier failures.
	if c.outbox.len() > 0 {
		c.outbox.drain(ctx, c.deliver)
	}
	return nil
}

func (c *Channel) OwnsChatKey(chatKey string) bool {
	return strings.HasSuffix(chatKey, chatKeySuffix)
}

// SetTyping is a no-op: the provider has no typing-indicator API.
func (c *Channel) SetTyping(ctx context.Context, chatKey string, typing bool) error {
	return nil
}

// SyncNow forces a metadata reconcile, bypassing the interval check.
func (c *Channel) SyncNow(ctx context.Context) error {
	return c.syncer.Sync(ctx, true)
}

// QueuedMessages reports the outbound queue depth.
func (c *Channel) QueuedMessages() int {
	return c.outbox.len()
}

func (c *Channel) onConnected() {
	if n := c.outbox.len(); n > 0 {
		logger.InfoCF(channelName, "Draining outbound queue", map[string]any{"queued": n})
	}
	c.outbox.drain(c.runCtx, c.deliver)
}

func (c *Channel) deliver(ctx context.Context, item outboundItem) error {
	return c.api.SendText(ctx, NativeChatID(item.ChatKey), item.Text)
}

// retryLoop re-attempts queued deliveries on a fixed cadence. The push
// transport has no reconnect event, so a failed send would otherwise
// stay queued until the process restarts.
func (c *Channel) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.transport.Connected() && c.outbox.len() > 0 {
				c.outbox.drain(ctx, c.deliver)
			}
		}
	}
}
