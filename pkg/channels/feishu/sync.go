package feishu

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/config"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

// Syncer reconciles the provider's chat list into the group registry.
// A sync is all-or-nothing: the cursor advances only after every page
// was drained and every name written, so a failed sync retries on the
// same cadence instead of being marked done.
type Syncer struct {
	api      *apiClient
	registry GroupRegistry
	interval time.Duration

	mu sync.Mutex
}

func newSyncer(api *apiClient, reg GroupRegistry, interval time.Duration) *Syncer {
	return &Syncer{
		api:      api,
		registry: reg,
		interval: interval,
	}
}

// NewSyncer builds a standalone reconciler with its own credential
// manager, for use outside a running channel (the `nanoclaw sync` CLI).
func NewSyncer(cfg config.FeishuConfig, reg GroupRegistry) *Syncer {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	tokens := newTokenManager(cfg, httpClient)
	return newSyncer(newAPIClient(cfg, httpClient, tokens), reg, cfg.SyncIntervalDuration())
}

// Sync lists all chats and updates registry names. Unless force is set,
// it short-circuits while the last successful sync is younger than the
// sync interval.
func (s *Syncer) Sync(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force {
		last, err := s.registry.LastGroupSync()
		if err != nil {
			logger.WarnCF(channelName, "Reading sync cursor failed", map[string]any{"error": err.Error()})
		} else if !last.IsZero() && time.Since(last) < s.interval {
			return nil
		}
	}

	chats, err := s.api.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("listing chats: %w", err)
	}

	for _, chat := range chats {
		if err := s.registry.UpdateChatName(ChatKey(chat.ChatID), chat.Name); err != nil {
			return fmt.Errorf("updating chat name: %w", err)
		}
	}

	if err := s.registry.SetLastGroupSync(time.Now()); err != nil {
		return fmt.Errorf("updating sync cursor: %w", err)
	}

	logger.InfoCF(channelName, "Chat metadata synced", map[string]any{"chats": len(chats)})
	return nil
}

// Run performs an initial reconcile and then re-checks hourly; the
// cursor check inside Sync keeps the effective cadence at the
// configured interval.
func (s *Syncer) Run(ctx context.Context) {
	if err := s.Sync(ctx, false); err != nil && ctx.Err() == nil {
		logger.WarnCF(channelName, "Metadata sync failed", map[string]any{"error": err.Error()})
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx, false); err != nil && ctx.Err() == nil {
				logger.WarnCF(channelName, "Metadata sync failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
