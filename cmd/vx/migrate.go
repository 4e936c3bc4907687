package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables in %s\n", len(db.AllModels()), cfg.DB.Database)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "voxyard.yaml", "path to Voxyard config file")
	return cmd
}
