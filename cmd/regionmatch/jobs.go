package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/uncovering-world/track-your-regions-sub005/internal/config"
	"github.com/uncovering-world/track-your-regions-sub005/internal/storage"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the long-operation slot",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current or most recent job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			status, err := e.orchestrator.Status()
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s  %s  %d/%d processed, %d matched, %d failed\n",
				status.ID, status.Kind, status.State,
				status.Processed, status.Total, status.Matched, status.Failed)
			if status.Error != "" {
				fmt.Printf("error: %s\n", status.Error)
			}
			return nil
		},
	})

	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the match-state database schema to the latest
version.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	statusOnly, _ := cmd.Flags().GetBool("status")

	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/regionmatch/regionmatch.db"
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if statusOnly {
		version, err := store.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		slog.Info("Migration status",
			"database", dbPath,
			"current", version,
			"latest", storage.ExpectedSchemaVersion)
		return nil
	}

	slog.Info("Running database migrations...", "database", dbPath)
	if err := store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("Database migrations completed")
	return nil
}
