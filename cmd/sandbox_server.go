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
	"github.com/paulpham157/ii-agent/internal/fileedit"
	"github.com/paulpham157/ii-agent/internal/sandboxsrv"
	"github.com/paulpham157/ii-agent/internal/terminal"
)

func sandboxServerCmd() *cobra.Command {
	var (
		port    int
		cwd     string
		backend string
	)
	cmd := &cobra.Command{
		Use:   "sandbox-server",
		Short: "Run the in-sandbox tool server",
		Long:  "Serves terminal and file-edit operations over HTTP for the agent host. This is the process that runs inside each sandbox.",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
				os.Exit(1)
			}
			if port == 0 {
				port = cfg.Sandbox.ServicePort
			}
			if backend == "" {
				backend = cfg.Agent.TerminalBackend
			}

			termMgr, err := terminal.New(backend, terminal.Options{
				Shell:           cfg.Agent.DefaultShell,
				Cwd:             cwd,
				UseRelativePath: cfg.Agent.UseRelativePaths,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to set up terminal manager: %v\n", err)
				os.Exit(1)
			}

			files := fileedit.NewManager(fileedit.Options{
				Root:              cwd,
				IgnoreIndentation: cfg.Agent.IgnoreIndentation,
				ExpandTabs:        cfg.Agent.ExpandTabs,
				UseRelativePath:   cfg.Agent.UseRelativePaths,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := sandboxsrv.New(sandboxsrv.Options{Terminal: termMgr, Files: files})
			if err := srv.Start(ctx, fmt.Sprintf(":%d", port)); err != nil {
				slog.Error("sandbox server stopped", "error", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: sandbox.service_port from settings)")
	cmd.Flags().StringVar(&cwd, "workspace", "/workspace", "workspace directory served by this sandbox")
	cmd.Flags().StringVar(&backend, "terminal-backend", "", "terminal backend: pty or tmux")
	return cmd
}
