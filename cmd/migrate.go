package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
				os.Exit(1)
			}

			db, err := store.Open(cfg.Database)
			if err != nil {
				fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
				os.Exit(1)
			}
			defer db.Close()

			fmt.Println("database schema is up to date")
		},
	}
}
