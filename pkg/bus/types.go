package bus

// InboundMessage is the canonical record produced once per accepted
// provider event. ChatKey is the platform-prefixed identifier
// ("feishu_<chatID>@feishu.net") used uniformly across the bus.
type InboundMessage struct {
	Channel    string `json:"channel"`
	ChatKey    string `json:"chat_key"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
	MessageID  string `json:"message_id,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC 3339
	FromSelf   bool   `json:"from_self,omitempty"`
}

type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatKey string `json:"chat_key"`
	Content string `json:"content"`
}
