package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/db"
	"github.com/voxyard/voxyard/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the action queue",
	}
	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueSweepCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending actions in submission order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
			}

			actions, err := queue.ListPending(gormDB)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(actions) == 0 {
				fmt.Fprintln(out, "No pending actions.")
				return nil
			}
			for _, a := range actions {
				fmt.Fprintf(out, "%6d  %-15s  %s  %s\n",
					a.ID, a.Type, a.CreatedAt.Format(time.RFC3339), a.Payload)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "voxyard.yaml", "path to Voxyard config file")
	return cmd
}

func newQueueSweepCmd() *cobra.Command {
	var (
		configPath  string
		cutoffHours int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate stale pending spawn actions",
		Long:  "Marks pending create-room and update-room actions older than the cutoff as inactive so they are never replayed. Deletions and ownership settlements are left untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
			}

			cutoff := cfg.Sweep.StaleCutoff
			if cutoffHours > 0 {
				cutoff = time.Duration(cutoffHours) * time.Hour
			}
			swept, err := queue.MarkStaleInactive(gormDB, time.Now().Add(-cutoff))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %d stale actions (older than %s)\n", swept, cutoff)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "voxyard.yaml", "path to Voxyard config file")
	cmd.Flags().IntVar(&cutoffHours, "cutoff-hours", 0, "override the configured stale cutoff")
	return cmd
}
