// Package ingest turns raw voice transitions into ledger writes and
// queued actions, suppressing duplicate work from overlapping events.
package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/gateway"
	"github.com/voxyard/voxyard/internal/ledger"
	"github.com/voxyard/voxyard/internal/models"
	"github.com/voxyard/voxyard/internal/ownership"
	"github.com/voxyard/voxyard/internal/queue"
	"gorm.io/gorm"
)

// Ingestor consumes voice transitions from the gateway and writes
// sessions and actions to the store. All handling is fire-and-forget
// with respect to the gateway dispatch goroutine: failures are logged,
// never thrown back.
type Ingestor struct {
	db       *gorm.DB
	gw       gateway.Gateway
	cfg      *config.Config
	notifier *queue.Notifier
	dedup    *gocache.Cache
	holder   string // lease holder identity for this process
	leaseTTL time.Duration

	removeSub func()
}

// New creates an Ingestor.
func New(db *gorm.DB, gw gateway.Gateway, cfg *config.Config, notifier *queue.Notifier) *Ingestor {
	hostname, _ := os.Hostname()
	return &Ingestor{
		db:       db,
		gw:       gw,
		cfg:      cfg,
		notifier: notifier,
		// TTL cache with a background janitor; entries expire on their own
		// even if no lookup ever touches them again.
		dedup:    gocache.New(cfg.Rooms.DedupWindow, time.Minute),
		holder:   fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		leaseTTL: DefaultLeaseTTL,
	}
}

// Start subscribes to gateway transitions. Calling Start again replaces
// the previous subscription via its stored remove handle instead of
// stacking a second listener.
func (i *Ingestor) Start(ctx context.Context) {
	if i.removeSub != nil {
		i.removeSub()
	}
	i.removeSub = i.gw.Subscribe(func(t gateway.Transition) {
		i.HandleTransition(ctx, t)
	})
}

// Stop removes the gateway subscription.
func (i *Ingestor) Stop() {
	if i.removeSub != nil {
		i.removeSub()
		i.removeSub = nil
	}
}

// HandleTransition processes one voice transition: the leave side of the
// old channel first, then the join side of the new one. A switch between
// two non-lobby rooms is a leave plus a tracked join, never a spawn.
func (i *Ingestor) HandleTransition(ctx context.Context, t gateway.Transition) {
	if t.NewChannelID == t.OldChannelID {
		return
	}

	if t.OldChannelID != "" && t.OldChannelID != i.cfg.Discord.LobbyChannelID {
		i.handleLeave(ctx, t)
	}

	switch {
	case t.NewChannelID == "":
		// Disconnect; leave side already handled.
	case t.NewChannelID == i.cfg.Discord.LobbyChannelID:
		i.handleLobbyJoin(ctx, t)
	default:
		i.handleRoomJoin(t)
	}
}

// handleLobbyJoin runs the guarded spawn path. The creation lease is
// taken before any other check to close the race window; the dedup set
// then absorbs duplicate deliveries of the same transition. The lease is
// released only after the settle delay so it outlasts any downstream
// duplicate for the same user.
func (i *Ingestor) handleLobbyJoin(ctx context.Context, t gateway.Transition) {
	leaseKey := "create:" + t.GuildID

	if err := AcquireLease(i.db, leaseKey, i.holder, i.leaseTTL); err != nil {
		// Another spawn is in flight. Drop the event; the user can
		// retrigger by leaving and rejoining the lobby.
		log.Printf("ingest: spawn for %s dropped: %v", t.UserID, err)
		return
	}

	dedupKey := t.UserID + ":" + t.GuildID
	if _, dup := i.dedup.Get(dedupKey); dup {
		if err := ReleaseLease(i.db, leaseKey, i.holder); err != nil {
			log.Printf("ingest: release lease: %v", err)
		}
		return
	}
	i.dedup.Set(dedupKey, time.Now(), gocache.DefaultExpiration)

	payload := queue.CreateRoomPayload{
		UserID:      t.UserID,
		DisplayName: t.DisplayName,
		RoomName:    i.cfg.RoomName(displayOrID(t)),
		UserLimit:   i.cfg.Rooms.UserLimit,
	}
	if _, err := queue.Enqueue(i.db, t.GuildID, models.ActionCreateRoom, payload); err != nil {
		log.Printf("ingest: enqueue create-room for %s: %v", t.UserID, err)
		if relErr := ReleaseLease(i.db, leaseKey, i.holder); relErr != nil {
			log.Printf("ingest: release lease: %v", relErr)
		}
		return
	}
	i.notifier.Notify()

	// Hold the lease through the settle window on a timer so the event
	// goroutine is free to process unrelated transitions meanwhile.
	time.AfterFunc(i.cfg.Rooms.SettleDelay, func() {
		if err := ReleaseLease(i.db, leaseKey, i.holder); err != nil {
			log.Printf("ingest: settle release lease: %v", err)
		}
	})
}

// handleRoomJoin opens a ledger session when a user enters a spawned
// room. Rooms are recognized by their owner record; unrelated voice
// channels are not tracked.
func (i *Ingestor) handleRoomJoin(t gateway.Transition) {
	owner, err := ownership.Get(i.db, t.NewChannelID)
	if err != nil {
		log.Printf("ingest: owner lookup for %s: %v", t.NewChannelID, err)
		return
	}
	if owner == nil {
		return
	}

	_, err = ledger.Open(i.db, t.UserID, t.GuildID, t.NewChannelID, time.Now(), ledger.OpenOpts{
		ChannelName: t.ChannelName,
		DisplayName: t.DisplayName,
	})
	if err != nil {
		log.Printf("ingest: open session for %s in %s: %v", t.UserID, t.NewChannelID, err)
	}
}

// handleLeave closes the leaver's session(s), queues the ownership
// settlement, and queues a room deletion when the room emptied out.
func (i *Ingestor) handleLeave(ctx context.Context, t gateway.Transition) {
	now := time.Now()

	closed, err := ledger.Close(i.db, t.UserID, t.OldChannelID, now)
	if err != nil {
		log.Printf("ingest: close sessions for %s in %s: %v", t.UserID, t.OldChannelID, err)
	}

	owner, err := ownership.Get(i.db, t.OldChannelID)
	if err != nil {
		log.Printf("ingest: owner lookup for %s: %v", t.OldChannelID, err)
		return
	}
	if owner == nil && closed == 0 {
		// Not a room we track.
		return
	}

	if _, err := queue.Enqueue(i.db, t.GuildID, models.ActionUserLeftRoom, queue.UserLeftRoomPayload{
		ChannelID: t.OldChannelID,
		UserID:    t.UserID,
	}); err != nil {
		log.Printf("ingest: enqueue user-left-room for %s: %v", t.UserID, err)
	}

	members, err := i.gw.ChannelMembers(ctx, t.GuildID, t.OldChannelID)
	if err != nil {
		log.Printf("ingest: members of %s: %v", t.OldChannelID, err)
		return
	}
	if len(members) == 0 {
		if _, err := queue.Enqueue(i.db, t.GuildID, models.ActionDeleteRoom, queue.DeleteRoomPayload{
			ChannelID: t.OldChannelID,
		}); err != nil {
			log.Printf("ingest: enqueue delete-room for %s: %v", t.OldChannelID, err)
		}
	}
	i.notifier.Notify()
}

// displayOrID falls back to the user ID when the gateway delivered no
// display name.
func displayOrID(t gateway.Transition) string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.UserID
}
