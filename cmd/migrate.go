package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linder3hs/livegate/internal/config"
	"github.com/linder3hs/livegate/internal/store"
)

func resolveStorePath() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.SQLitePath == "" {
		return "", fmt.Errorf("store.sqlite_path is not set (memory store needs no migrations)")
	}
	return cfg.Store.SQLitePath, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Conversation store schema management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Run: func(cmd *cobra.Command, args []string) {
			path, err := resolveStorePath()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if err := store.Migrate(path, 0); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println("migrations applied")
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Run: func(cmd *cobra.Command, args []string) {
			path, err := resolveStorePath()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if err := store.Migrate(path, -1); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println("rolled back one migration")
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Run: func(cmd *cobra.Command, args []string) {
			path, err := resolveStorePath()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			version, dirty, err := store.MigrationVersion(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if dirty {
				fmt.Printf("version %d (dirty)\n", version)
				return
			}
			fmt.Printf("version %d\n", version)
		},
	}
}
