package groups

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DavidCheung777/nanoclaw-feishu/cmd/nanoclaw/internal"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/registry"
)

func NewGroupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage registered chats",
	}

	cmd.AddCommand(newListCommand(), newRegisterCommand(), newUnregisterCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known chats",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			defer reg.Close()

			groups := reg.All()
			if len(groups) == 0 {
				fmt.Println("No chats known yet")
				return nil
			}
			for _, g := range groups {
				mark := " "
				if g.Registered {
					mark = "✓"
				}
				name := g.Name
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("%s %-50s %s\n", mark, g.ChatKey, name)
			}
			return nil
		},
	}
}

func newRegisterCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "register <chat-key>",
		Short: "Register a chat with the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			defer reg.Close()

			if err := reg.Register(args[0], name); err != nil {
				return err
			}
			fmt.Printf("✓ Registered %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name for the chat")
	return cmd
}

func newUnregisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <chat-key>",
		Short: "Unregister a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			defer reg.Close()

			if err := reg.Unregister(args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Unregistered %s\n", args[0])
			return nil
		},
	}
}

func openRegistry() (*registry.Store, error) {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return registry.Open(cfg.Registry.Path)
}
