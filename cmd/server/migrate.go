package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"medisos/pkg/database"

	"github.com/spf13/cobra"
)

const migrateTimeout = 5 * time.Minute

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage MongoDB collection indexes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.OutOrStdout(), *configPath, func(ctx context.Context, m *database.Migrator) error {
				return m.Up(ctx)
			})
		},
	})

	var target int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations above --to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target < 0 {
				return fmt.Errorf("--to must not be negative")
			}
			return runMigrate(cmd.OutOrStdout(), *configPath, func(ctx context.Context, m *database.Migrator) error {
				return m.Down(ctx, target)
			})
		},
	}
	down.Flags().IntVar(&target, "to", 0, "version to revert to")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.OutOrStdout(), *configPath, nil)
		},
	})

	return cmd
}

func runMigrate(out io.Writer, configPath string, step func(ctx context.Context, m *database.Migrator) error) error {
	cfg, log, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	mongo, err := connectMongo(cfg.Database)
	if err != nil {
		return err
	}
	defer mongo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	migrator := database.NewMigrator(mongo.Database, log)
	if step != nil {
		if err := step(ctx, migrator); err != nil {
			return err
		}
	}

	version, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s at migration version %d\n", cfg.Database.Database, version)
	return nil
}
