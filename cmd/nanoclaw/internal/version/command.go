package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DavidCheung777/nanoclaw-feishu/cmd/nanoclaw/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("nanoclaw %s\n", internal.FormatVersion())
		},
	}
}
