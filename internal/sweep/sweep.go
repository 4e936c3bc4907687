// Package sweep runs the periodic backlog sweep and owner audit.
package sweep

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/gateway"
	"github.com/voxyard/voxyard/internal/models"
	"github.com/voxyard/voxyard/internal/ownership"
	"github.com/voxyard/voxyard/internal/queue"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// fallbackInterval is used when the configured schedule fails to parse.
const fallbackInterval = 30 * time.Minute

// Sweeper deactivates stale spawn actions and audits room owners against
// live membership.
type Sweeper struct {
	db  *gorm.DB
	gw  gateway.Gateway
	cfg *config.Config
	out io.Writer
}

// New creates a Sweeper.
func New(db *gorm.DB, gw gateway.Gateway, cfg *config.Config, out io.Writer) *Sweeper {
	if out == nil {
		out = io.Discard
	}
	return &Sweeper{db: db, gw: gw, cfg: cfg, out: out}
}

// Run executes sweeps on the configured cron schedule until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		d := nextCronDuration(s.cfg.Sweep.Schedule)
		if d <= 0 {
			d = fallbackInterval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
		if err := s.RunOnce(ctx, time.Now()); err != nil {
			log.Printf("sweep: %v", err)
		}
	}
}

// RunOnce performs a single sweep: stale pending spawn actions become
// inactive, then every owned room is audited for an absent owner.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.Sweep.StaleCutoff)
	swept, err := queue.MarkStaleInactive(s.db, cutoff)
	if err != nil {
		return err
	}
	if swept > 0 {
		fmt.Fprintf(s.out, "Sweep: deactivated %d stale actions (older than %s)\n",
			swept, s.cfg.Sweep.StaleCutoff)
	}

	var owners []models.ChannelOwner
	if err := s.db.Find(&owners).Error; err != nil {
		return fmt.Errorf("sweep: list owners: %w", err)
	}
	for _, owner := range owners {
		members, err := s.gw.ChannelMembers(ctx, owner.GuildID, owner.ChannelID)
		if err != nil {
			log.Printf("sweep: members of %s: %v", owner.ChannelID, err)
			continue
		}
		newOwner, changed, err := ownership.DetectInactive(s.db, owner.ChannelID, members, now)
		if err != nil {
			log.Printf("sweep: audit %s: %v", owner.ChannelID, err)
			continue
		}
		if changed {
			if newOwner == "" {
				fmt.Fprintf(s.out, "Sweep: room %s owner %s absent, no successor, record removed\n",
					owner.ChannelID, owner.UserID)
			} else {
				fmt.Fprintf(s.out, "Sweep: room %s owner %s absent, transferred to %s\n",
					owner.ChannelID, owner.UserID, newOwner)
			}
		}
	}
	return nil
}

// nextCronDuration parses a 5-field cron expression and returns the
// duration until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}
