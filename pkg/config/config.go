package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transport mode selectors for the Feishu channel.
const (
	TransportWebhook = "webhook"
	TransportWS      = "ws"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Agent    AgentConfig    `json:"agent"`
	Registry RegistryConfig `json:"registry"`
	Logging  LoggingConfig  `json:"logging"`
}

type ChannelsConfig struct {
	Feishu FeishuConfig `json:"feishu"`
}

type FeishuConfig struct {
	Enabled           bool                `env:"NANOCLAW_CHANNELS_FEISHU_ENABLED"            json:"enabled"`
	AppID             string              `env:"NANOCLAW_CHANNELS_FEISHU_APP_ID"             json:"app_id"`
	AppSecret         string              `env:"NANOCLAW_CHANNELS_FEISHU_APP_SECRET"         json:"app_secret"`
	VerificationToken string              `env:"NANOCLAW_CHANNELS_FEISHU_VERIFICATION_TOKEN" json:"verification_token"`
	EncryptKey        string              `env:"NANOCLAW_CHANNELS_FEISHU_ENCRYPT_KEY"        json:"encrypt_key"`
	Transport         string              `env:"NANOCLAW_CHANNELS_FEISHU_TRANSPORT"          json:"transport"`
	APIBase           string              `env:"NANOCLAW_CHANNELS_FEISHU_API_BASE"           json:"api_base,omitempty"`
	WebhookHost       string              `env:"NANOCLAW_CHANNELS_FEISHU_WEBHOOK_HOST"       json:"webhook_host"`
	WebhookPort       int                 `env:"NANOCLAW_CHANNELS_FEISHU_WEBHOOK_PORT"       json:"webhook_port"`
	WebhookPath       string              `env:"NANOCLAW_CHANNELS_FEISHU_WEBHOOK_PATH"       json:"webhook_path"`
	WSURL             string              `env:"NANOCLAW_CHANNELS_FEISHU_WS_URL"             json:"ws_url,omitempty"`
	ReconnectDelay    int                 `env:"NANOCLAW_CHANNELS_FEISHU_RECONNECT_DELAY"    json:"reconnect_delay"`    // seconds
	HeartbeatInterval int                 `env:"NANOCLAW_CHANNELS_FEISHU_HEARTBEAT_INTERVAL" json:"heartbeat_interval"` // seconds
	SyncInterval      int                 `env:"NANOCLAW_CHANNELS_FEISHU_SYNC_INTERVAL"      json:"sync_interval"`      // hours
	TokenMargin       int                 `env:"NANOCLAW_CHANNELS_FEISHU_TOKEN_MARGIN"       json:"token_margin"`       // seconds
	AllowFrom         FlexibleStringSlice `env:"NANOCLAW_CHANNELS_FEISHU_ALLOW_FROM"         json:"allow_from"`
}

func (c FeishuConfig) ReconnectDelayDuration() time.Duration {
	if c.ReconnectDelay <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ReconnectDelay) * time.Second
}

func (c FeishuConfig) HeartbeatIntervalDuration() time.Duration {
	if c.HeartbeatInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HeartbeatInterval) * time.Second
}

func (c FeishuConfig) SyncIntervalDuration() time.Duration {
	if c.SyncInterval <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.SyncInterval) * time.Hour
}

func (c FeishuConfig) TokenMarginDuration() time.Duration {
	if c.TokenMargin <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TokenMargin) * time.Second
}

// AgentConfig points at the external automation agent consuming the bus.
// When Endpoint is empty, inbound messages are logged and dropped.
type AgentConfig struct {
	Endpoint string `env:"NANOCLAW_AGENT_ENDPOINT" json:"endpoint,omitempty"`
	Timeout  int    `env:"NANOCLAW_AGENT_TIMEOUT"  json:"timeout,omitempty"` // seconds
}

func (c AgentConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

type RegistryConfig struct {
	Path string `env:"NANOCLAW_REGISTRY_PATH" json:"path"`
}

type LoggingConfig struct {
	Level  string `env:"NANOCLAW_LOGGING_LEVEL"  json:"level"`
	Format string `env:"NANOCLAW_LOGGING_FORMAT" json:"format"` // "text" | "json"
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Channels: ChannelsConfig{
			Feishu: FeishuConfig{
				Transport:         TransportWS,
				WebhookHost:       "0.0.0.0",
				WebhookPort:       9898,
				WebhookPath:       "/feishu/events",
				ReconnectDelay:    5,
				HeartbeatInterval: 30,
				SyncInterval:      24,
				TokenMargin:       300,
			},
		},
		Registry: RegistryConfig{
			Path: filepath.Join(home, ".nanoclaw", "registry.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	f := c.Channels.Feishu
	if !f.Enabled {
		return nil
	}
	if f.AppID == "" || f.AppSecret == "" {
		return fmt.Errorf("channels.feishu: app_id and app_secret are required")
	}
	switch f.Transport {
	case TransportWebhook, TransportWS:
	default:
		return fmt.Errorf("channels.feishu: unknown transport %q", f.Transport)
	}
	return nil
}
