// nanoclaw-feishu - Feishu channel bridge for the nanoclaw agent bus
// License: MIT

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/DavidCheung777/nanoclaw-feishu/cmd/nanoclaw/internal/gateway"
	"github.com/DavidCheung777/nanoclaw-feishu/cmd/nanoclaw/internal/groups"
	"github.com/DavidCheung777/nanoclaw-feishu/cmd/nanoclaw/internal/synccmd"
	"github.com/DavidCheung777/nanoclaw-feishu/cmd/nanoclaw/internal/version"
)

func NewNanoclawCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "nanoclaw",
		Short:   "nanoclaw - Feishu channel bridge",
		Example: "nanoclaw gateway",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		groups.NewGroupsCommand(),
		synccmd.NewSyncCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewNanoclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
