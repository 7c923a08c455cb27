package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/bus"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/config"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

// agentBridge forwards inbound bus messages to the external automation
// agent over HTTP and publishes any reply text back onto the bus. With
// no endpoint configured it logs and drops.
type agentBridge struct {
	endpoint   string
	httpClient *http.Client
	bus        *bus.MessageBus
}

func newAgentBridge(cfg config.AgentConfig, b *bus.MessageBus) *agentBridge {
	return &agentBridge{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.TimeoutDuration()},
		bus:        b,
	}
}

type agentReply struct {
	Text string `json:"text"`
}

func (a *agentBridge) Run(ctx context.Context) {
	for {
		msg, ok := a.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		if a.endpoint == "" {
			logger.InfoCF("bridge", "Inbound message (no agent configured)", map[string]any{
				"chat_key": msg.ChatKey,
				"sender":   msg.SenderID,
			})
			continue
		}

		reply, err := a.forward(ctx, msg)
		if err != nil {
			logger.WarnCF("bridge", "Agent call failed", map[string]any{
				"chat_key": msg.ChatKey,
				"error":    err.Error(),
			})
			continue
		}

		text := strings.TrimSpace(reply)
		if text == "" {
			continue
		}
		if err := a.bus.PublishOutbound(ctx, bus.OutboundMessage{
			Channel: msg.Channel,
			ChatKey: msg.ChatKey,
			Content: text,
		}); err != nil {
			logger.WarnCF("bridge", "Outbound publish failed", map[string]any{
				"chat_key": msg.ChatKey,
				"error":    err.Error(),
			})
		}
	}
}

func (a *agentBridge) forward(ctx context.Context, msg bus.InboundMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent endpoint returned status %d", resp.StatusCode)
	}

	var reply agentReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("parsing agent reply: %w", err)
	}
	return reply.Text, nil
}
