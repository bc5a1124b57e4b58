package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/proxy"
)

func proxyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proxy",
		Short: "Run the sandbox reverse proxy",
		Long:  "Routes inbound HTTP and WebSocket traffic to sandbox-internal services by Host-based addressing.",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := proxy.New(time.Duration(cfg.Proxy.UpstreamTimeout) * time.Second)
			addr := fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port)
			if err := p.Start(ctx, addr); err != nil {
				slog.Error("proxy stopped", "error", err)
				os.Exit(1)
			}
		},
	}
}
