package main

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/db"
	"github.com/voxyard/voxyard/internal/gateway"
	"github.com/voxyard/voxyard/internal/models"
	"github.com/voxyard/voxyard/internal/ownership"
)

func newOwnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owners",
		Short: "Inspect and audit room ownership",
	}
	cmd.AddCommand(newOwnersListCmd())
	cmd.AddCommand(newOwnersAuditCmd())
	return cmd
}

func newOwnersListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List current room owners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
			}

			var owners []models.ChannelOwner
			if err := gormDB.Order("created_at ASC").Find(&owners).Error; err != nil {
				return fmt.Errorf("list owners: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(owners) == 0 {
				fmt.Fprintln(out, "No owned rooms.")
				return nil
			}
			for _, o := range owners {
				fmt.Fprintf(out, "%s  owner=%s  since %s\n",
					o.ChannelID, o.UserID, o.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "voxyard.yaml", "path to Voxyard config file")
	return cmd
}

func newOwnersAuditCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Detect and repair absent owners against live membership",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Println(".env not found, using environment variables")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Discord.Token == "" {
				return fmt.Errorf("discord token is required (config discord.token or DISCORD_TOKEN)")
			}
			gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
			}

			gw, err := gateway.NewDiscord(gateway.DiscordOpts{BotToken: cfg.Discord.Token})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := gw.Connect(ctx); err != nil {
				return err
			}
			defer gw.Close()

			var owners []models.ChannelOwner
			if err := gormDB.Find(&owners).Error; err != nil {
				return fmt.Errorf("list owners: %w", err)
			}

			out := cmd.OutOrStdout()
			now := time.Now()
			repaired := 0
			for _, o := range owners {
				members, err := gw.ChannelMembers(ctx, o.GuildID, o.ChannelID)
				if err != nil {
					log.Printf("members of %s: %v", o.ChannelID, err)
					continue
				}
				newOwner, changed, err := ownership.DetectInactive(gormDB, o.ChannelID, members, now)
				if err != nil {
					log.Printf("audit %s: %v", o.ChannelID, err)
					continue
				}
				if changed {
					repaired++
					if newOwner == "" {
						fmt.Fprintf(out, "%s: owner %s absent, no successor, record removed\n", o.ChannelID, o.UserID)
					} else {
						fmt.Fprintf(out, "%s: owner %s absent, transferred to %s\n", o.ChannelID, o.UserID, newOwner)
					}
				}
			}
			fmt.Fprintf(out, "Audited %d rooms, repaired %d\n", len(owners), repaired)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "voxyard.yaml", "path to Voxyard config file")
	return cmd
}
