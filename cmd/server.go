package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/gateway"
	"github.com/paulpham157/ii-agent/internal/sandbox"
	"github.com/paulpham157/ii-agent/internal/store"
	"github.com/paulpham157/ii-agent/internal/store/filestore"
	"github.com/paulpham157/ii-agent/internal/tracing"
)

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the agent WebSocket server",
		Run: func(cmd *cobra.Command, args []string) {
			runServer()
		},
	}
}

func runServer() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "ii-agent-server")
	if err != nil {
		slog.Warn("tracing setup failed", "error", err)
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up file store: %v\n", err)
		os.Exit(1)
	}

	if stopWatch, err := cfg.Watch(cfgPath); err != nil {
		slog.Warn("settings watch disabled", "error", err)
	} else {
		defer stopWatch()
	}

	server := gateway.NewServer(cfg, db, files, sandbox.NewRegistry())
	if err := server.Start(ctx); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
