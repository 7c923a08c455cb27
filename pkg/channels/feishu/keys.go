// Package feishu implements the Feishu/Lark channel adapter: tenant
// credential management, push (webhook) and pull (long connection)
// transports, event normalization, the outbound delivery queue, and
// chat metadata reconciliation.
package feishu

import (
	"strings"
	"time"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/registry"
)

const (
	channelName    = "feishu"
	chatKeyPrefix  = "feishu_"
	chatKeySuffix  = "@feishu.net"
	defaultAPIBase = "https://open.feishu.cn"
	defaultWSURL   = "wss://open.feishu.cn/ws"
)

// ChatKey builds the canonical platform-namespaced key for a native chat ID.
// The key is stable across reconnects and used uniformly on the bus.
func ChatKey(chatID string) string {
	return chatKeyPrefix + chatID + chatKeySuffix
}

// NativeChatID recovers the provider chat ID from a canonical chat key.
func NativeChatID(chatKey string) string {
	id := strings.TrimSuffix(chatKey, chatKeySuffix)
	return strings.TrimPrefix(id, chatKeyPrefix)
}

// GroupRegistry is the adapter's view of the external chat registry.
// RegisteredGroups must not block; it is polled once per inbound event.
type GroupRegistry interface {
	RegisteredGroups() map[string]registry.Group
	UpdateChatName(chatKey, name string) error
	RecordActivity(chatKey string, ts time.Time) error
	LastGroupSync() (time.Time, error)
	SetLastGroupSync(t time.Time) error
}
