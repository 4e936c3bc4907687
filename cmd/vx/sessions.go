package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/db"
	"github.com/voxyard/voxyard/internal/ledger"
)

func newSessionsCmd() *cobra.Command {
	var (
		configPath string
		channelID  string
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show cumulative per-user durations for a channel",
		Long:  "Prints the same ranked aggregation ownership transfer uses, longest tenure first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if channelID == "" {
				return fmt.Errorf("--channel is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
			}

			ranked, err := ledger.Durations(gormDB, channelID, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(ranked) == 0 {
				fmt.Fprintln(out, "No sessions recorded for this channel.")
				return nil
			}
			for i, ud := range ranked {
				name := ud.DisplayName
				if name == "" {
					name = ud.UserID
				}
				marker := " "
				if ud.Open {
					marker = "*"
				}
				fmt.Fprintf(out, "%2d. %s %-24s %s\n", i+1, marker, name, ledger.FormatDuration(ud.Total))
			}
			fmt.Fprintln(out, "\n* currently in channel")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "voxyard.yaml", "path to Voxyard config file")
	cmd.Flags().StringVar(&channelID, "channel", "", "voice channel ID")
	return cmd
}
