package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DavidCheung777/nanoclaw-feishu/cmd/nanoclaw/internal"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/bus"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/channels"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/channels/feishu"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
	"github.com/DavidCheung777/nanoclaw-feishu/pkg/registry"
)

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger.SetFormat(cfg.Logging.Format)
	if debug || strings.EqualFold(cfg.Logging.Level, "debug") {
		logger.SetLevel(logger.DEBUG)
	}

	if !cfg.Channels.Feishu.Enabled {
		return fmt.Errorf("channels.feishu is not enabled in %s", internal.GetConfigPath())
	}

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("error opening registry: %w", err)
	}
	defer reg.Close()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	feishuChannel, err := feishu.NewChannel(cfg.Channels.Feishu, msgBus, reg)
	if err != nil {
		return fmt.Errorf("error creating feishu channel: %w", err)
	}

	manager := channels.NewManager(msgBus)
	manager.Register(feishuChannel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("error starting channels: %w", err)
	}
	go manager.Run(ctx)

	bridge := newAgentBridge(cfg.Agent, msgBus)
	go bridge.Run(ctx)

	fmt.Printf("✓ Gateway started (channels: %s, transport: %s)\n",
		strings.Join(manager.EnabledChannels(), ", "), cfg.Channels.Feishu.Transport)
	if cfg.Agent.Endpoint != "" {
		fmt.Printf("✓ Agent endpoint: %s\n", cfg.Agent.Endpoint)
	} else {
		fmt.Println("⚠ No agent endpoint configured; inbound messages are logged only")
	}
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	manager.StopAll(context.Background())
	fmt.Println("✓ Gateway stopped")

	return nil
}
