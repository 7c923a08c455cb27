package synccmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DavidCheung777/nanoclaw-feishu/cmd/nanoclaw/internal"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/channels/feishu"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/registry"
)

func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Force a chat metadata sync against the provider",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			if !cfg.Channels.Feishu.Enabled {
				return fmt.Errorf("channels.feishu is not enabled in %s", internal.GetConfigPath())
			}

			reg, err := registry.Open(cfg.Registry.Path)
			if err != nil {
				return fmt.Errorf("error opening registry: %w", err)
			}
			defer reg.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			syncer := feishu.NewSyncer(cfg.Channels.Feishu, reg)
			if err := syncer.Sync(ctx, true); err != nil {
				return err
			}
			fmt.Println("✓ Chat metadata synced")
			return nil
		},
	}
}
