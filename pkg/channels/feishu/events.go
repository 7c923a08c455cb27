package feishu

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/bus"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

const eventTypeMessageReceive = "im.message.receive_v1"

// eventEnvelope covers both the v2 event schema and the flat
// url_verification challenge payload.
type eventEnvelope struct {
	Schema    string          `json:"schema,omitempty"`
	Type      string          `json:"type,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	Token     string          `json:"token,omitempty"`
	Header    eventHeader     `json:"header,omitzero"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type eventHeader struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	Token      string `json:"token"`
	CreateTime string `json:"create_time"`
}

type messageEvent struct {
	Sender struct {
		SenderType string `json:"sender_type"`
		SenderID   struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID  string `json:"message_id"`
		ChatID     string `json:"chat_id"`
		ChatType   string `json:"chat_type"`
		MsgType    string `json:"message_type"`
		Content    string `json:"content"`
		CreateTime string `json:"create_time"` // epoch millis
	} `json:"message"`
}

type textContent struct {
	Text string `json:"text"`
}

// seenEvents is a bounded FIFO set over provider event IDs. The provider
// delivers at least once; duplicates inside the window are dropped.
type seenEvents struct {
	mu    sync.Mutex
	order []string
	set   map[string]struct{}
	limit int
}

func newSeenEvents(limit int) *seenEvents {
	return &seenEvents{
		set:   make(map[string]struct{}, limit),
		limit: limit,
	}
}

// observe returns true on first sighting of id.
func (s *seenEvents) observe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.set[id]; dup {
		return false
	}
	s.set[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.set, oldest)
	}
	return true
}

// senderNames caches display-name lookups keyed by open ID. When the
// cap is hit the whole map is dropped; names re-resolve on demand.
type senderNames struct {
	mu    sync.Mutex
	names map[string]string
	limit int
}

func newSenderNames(limit int) *senderNames {
	return &senderNames{
		names: make(map[string]string, limit),
		limit: limit,
	}
}

func (s *senderNames) get(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.names[id]
	return name, ok
}

func (s *senderNames) put(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.names) >= s.limit {
		s.names = make(map[string]string, s.limit)
	}
	s.names[id] = name
}

// handleRawEvent normalizes one provider event into a canonical inbound
// message. Drop order: duplicate event ID, non-message event, self-loop,
// unregistered chat (metadata side-channel still fires), unparseable
// content. None of these are fatal.
func (c *Channel) handleRawEvent(raw []byte) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.WarnCF(channelName, "Dropping unparseable event", map[string]any{"error": err.Error()})
		return
	}

	if env.Header.EventType != eventTypeMessageReceive {
		return
	}
	if env.Header.EventID != "" && !c.seen.observe(env.Header.EventID) {
		logger.DebugC(channelName, "Duplicate event dropped: "+env.Header.EventID)
		return
	}

	var ev messageEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		logger.WarnCF(channelName, "Dropping malformed message event", map[string]any{
			"event_id": env.Header.EventID,
			"error":    err.Error(),
		})
		return
	}

	// The provider echoes the app's own sent messages back on the same
	// stream; forwarding them would loop the agent onto itself.
	if ev.Sender.SenderType == "app" {
		return
	}

	chatKey := ChatKey(ev.Message.ChatID)
	ts := parseEpochMillis(ev.Message.CreateTime)

	if err := c.registry.RecordActivity(chatKey, ts); err != nil {
		logger.WarnCF(channelName, "Recording chat activity failed", map[string]any{
			"chat_key": chatKey,
			"error":    err.Error(),
		})
	}

	if _, ok := c.registry.RegisteredGroups()[chatKey]; !ok {
		logger.DebugC(channelName, "Message for unregistered chat dropped: "+chatKey)
		return
	}

	text, ok := extractText(ev.Message.MsgType, ev.Message.Content)
	if !ok {
		logger.DebugCF(channelName, "Unsupported message content dropped", map[string]any{
			"chat_key": chatKey,
			"msg_type": ev.Message.MsgType,
		})
		return
	}

	c.HandleMessage(bus.InboundMessage{
		ChatKey:    chatKey,
		SenderID:   ev.Sender.SenderID.OpenID,
		SenderName: c.senderDisplayName(ev.Sender.SenderID.OpenID),
		Content:    text,
		MessageID:  ev.Message.MessageID,
		Timestamp:  ts.Format(time.RFC3339),
	})
}

// senderDisplayName resolves a human-readable name for the sender via
// the contact API, cached per open ID. A failed lookup is non-fatal and
// leaves the name empty.
func (c *Channel) senderDisplayName(openID string) string {
	if openID == "" {
		return ""
	}
	if name, ok := c.names.get(openID); ok {
		return name
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name, err := c.api.GetUserName(ctx, openID)
	if err != nil {
		logger.DebugCF(channelName, "Sender name lookup failed", map[string]any{
			"open_id": openID,
			"error":   err.Error(),
		})
		return ""
	}
	c.names.put(openID, name)
	return name
}

func extractText(msgType, content string) (string, bool) {
	if msgType != "text" {
		return "", false
	}
	var tc textContent
	if err := json.Unmarshal([]byte(content), &tc); err != nil {
		logger.WarnCF(channelName, "Dropping unparseable text content", map[string]any{"error": err.Error()})
		return "", false
	}
	text := strings.TrimSpace(tc.Text)
	if text == "" {
		return "", false
	}
	return text, true
}

func parseEpochMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
