// Package config provides YAML-based configuration loading for Voxyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Voxyard configuration, loaded from voxyard.yaml.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	DB        DBConfig        `yaml:"db"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DiscordConfig holds gateway connection settings. Token may be left empty
// in the file and supplied via the DISCORD_TOKEN environment variable.
type DiscordConfig struct {
	Token          string `yaml:"token"`
	GuildID        string `yaml:"guild_id"`
	LobbyChannelID string `yaml:"lobby_channel_id"`
	CategoryID     string `yaml:"category_id"`
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// RoomsConfig controls spawned-room naming and the ingest race windows.
type RoomsConfig struct {
	NameTemplate  string `yaml:"name_template"` // %s is the creator's display name
	UserLimit     int    `yaml:"user_limit"`
	DedupWindowMS int    `yaml:"dedup_window_ms"`
	SettleDelayMS int    `yaml:"settle_delay_ms"`

	DedupWindow time.Duration `yaml:"-"` // derived from DedupWindowMS
	SettleDelay time.Duration `yaml:"-"` // derived from SettleDelayMS
}

// SweepConfig controls the periodic backlog sweep and owner audit.
type SweepConfig struct {
	Schedule         string `yaml:"schedule"` // 5-field cron expression
	StaleCutoffHours int    `yaml:"stale_cutoff_hours"`

	StaleCutoff time.Duration `yaml:"-"` // derived from StaleCutoffHours
}

// DashboardConfig controls the read-only diagnostics HTTP server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Discord.Token == "" {
		c.Discord.Token = os.Getenv("DISCORD_TOKEN")
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "voxyard"
	}
	if c.Rooms.NameTemplate == "" {
		c.Rooms.NameTemplate = "%s's Room"
	}
	if c.Rooms.DedupWindowMS == 0 {
		c.Rooms.DedupWindowMS = 2000
	}
	if c.Rooms.SettleDelayMS == 0 {
		c.Rooms.SettleDelayMS = 2000
	}
	c.Rooms.DedupWindow = time.Duration(c.Rooms.DedupWindowMS) * time.Millisecond
	c.Rooms.SettleDelay = time.Duration(c.Rooms.SettleDelayMS) * time.Millisecond
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "*/30 * * * *"
	}
	if c.Sweep.StaleCutoffHours == 0 {
		c.Sweep.StaleCutoffHours = 2
	}
	c.Sweep.StaleCutoff = time.Duration(c.Sweep.StaleCutoffHours) * time.Hour
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Discord.GuildID == "" {
		errs = append(errs, "discord.guild_id is required")
	}
	if c.Discord.LobbyChannelID == "" {
		errs = append(errs, "discord.lobby_channel_id is required")
	}
	if c.Rooms.UserLimit < 0 {
		errs = append(errs, "rooms.user_limit must not be negative")
	}
	if !strings.Contains(c.Rooms.NameTemplate, "%s") {
		errs = append(errs, "rooms.name_template must contain %s")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RoomName renders the spawned-room name for a creator's display name.
func (c *Config) RoomName(displayName string) string {
	return fmt.Sprintf(c.Rooms.NameTemplate, displayName)
}
