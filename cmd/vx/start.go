package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/dashboard"
	"github.com/voxyard/voxyard/internal/db"
	"github.com/voxyard/voxyard/internal/executor"
	"github.com/voxyard/voxyard/internal/gateway"
	"github.com/voxyard/voxyard/internal/ingest"
	"github.com/voxyard/voxyard/internal/queue"
	"github.com/voxyard/voxyard/internal/sweep"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the Voxyard daemon",
		Long:  "Connects to Discord and the store, then runs the event ingestor, action executor, and backlog sweep until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "voxyard.yaml", "path to Voxyard config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	// Token and other secrets may live in .env rather than the YAML file.
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
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.NewDiscord(gateway.DiscordOpts{BotToken: cfg.Discord.Token})
	if err != nil {
		return err
	}
	if err := gw.Connect(ctx); err != nil {
		return err
	}
	defer gw.Close()

	out := cmd.OutOrStdout()
	notifier := queue.NewNotifier()

	ingestor := ingest.New(gormDB, gw, cfg, notifier)
	ingestor.Start(ctx)
	defer ingestor.Stop()

	exec, err := executor.New(executor.Opts{
		DB:       gormDB,
		Gateway:  gw,
		Config:   cfg,
		Notifier: notifier,
		Out:      out,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := exec.Run(ctx); err != nil {
			log.Printf("executor stopped: %v", err)
		}
	}()

	sweeper := sweep.New(gormDB, gw, cfg, out)
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Printf("sweeper stopped: %v", err)
		}
	}()

	if cfg.Dashboard.Enabled {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:   gormDB,
				Port: cfg.Dashboard.Port,
				Out:  out,
			}); err != nil {
				log.Printf("dashboard stopped: %v", err)
			}
		}()
	}

	fmt.Fprintf(out, "Voxyard running (lobby %s, guild %s). Ctrl-C to stop.\n",
		cfg.Discord.LobbyChannelID, cfg.Discord.GuildID)

	<-ctx.Done()
	fmt.Fprintln(out, "Shutting down...")
	return nil
}
