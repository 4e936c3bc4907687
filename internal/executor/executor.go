// Package executor drains the action queue and performs each intent
// against the gateway exactly once.
package executor

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/gateway"
	"github.com/voxyard/voxyard/internal/ledger"
	"github.com/voxyard/voxyard/internal/models"
	"github.com/voxyard/voxyard/internal/ownership"
	"github.com/voxyard/voxyard/internal/queue"
	"gorm.io/gorm"
)

// DefaultPollInterval is the drain cadence when no push notification
// arrives. Push wake-ups make drains prompt; polling makes them certain.
const DefaultPollInterval = 15 * time.Second

// Executor drains pending actions. One executor runs per process; a
// crash mid-batch is safe because unexecuted actions are re-read on the
// next drain.
type Executor struct {
	db           *gorm.DB
	gw           gateway.Gateway
	cfg          *config.Config
	notifier     *queue.Notifier
	pollInterval time.Duration
	startedAt    time.Time
	out          io.Writer
}

// Opts holds parameters for creating an Executor.
type Opts struct {
	DB           *gorm.DB
	Gateway      gateway.Gateway
	Config       *config.Config
	Notifier     *queue.Notifier
	PollInterval time.Duration
	Out          io.Writer
}

// New creates an Executor. Its start time partitions the backlog: spawn
// actions queued before this process came up are left for the sweep
// instead of being replayed.
func New(opts Opts) (*Executor, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("executor: db is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("executor: gateway is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("executor: config is required")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Executor{
		db:           opts.DB,
		gw:           opts.Gateway,
		cfg:          opts.Config,
		notifier:     opts.Notifier,
		pollInterval: poll,
		startedAt:    time.Now(),
		out:          out,
	}, nil
}

// Run drains the queue until ctx is cancelled, waking on queue
// notifications and on the poll ticker.
func (e *Executor) Run(ctx context.Context) error {
	var notify <-chan struct{}
	if e.notifier != nil {
		ch, remove := e.notifier.Subscribe()
		defer remove()
		notify = ch
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	fmt.Fprintf(e.out, "Executor starting (poll every %s)...\n", e.pollInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-notify:
		case <-ticker.C:
		}
		if err := e.Drain(ctx); err != nil {
			log.Printf("executor: drain: %v", err)
		}
	}
}

// Drain runs one pass over the pending actions. Per-action errors leave
// the action pending for the next drain and never block the rest of the
// batch.
func (e *Executor) Drain(ctx context.Context) error {
	actions, err := queue.ListPending(e.db)
	if err != nil {
		return err
	}

	for _, action := range actions {
		if e.skipStale(action) {
			continue
		}

		if err := e.execute(ctx, action); err != nil {
			log.Printf("executor: action %d (%s): %v", action.ID, action.Type, err)
			continue
		}
		if err := queue.MarkExecuted(e.db, action.ID); err != nil {
			log.Printf("executor: mark executed %d: %v", action.ID, err)
		}
	}
	return nil
}

// skipStale reports whether an action predating this process should be
// left alone. Spawn-type actions accumulated while no executor was
// running must not be replayed; the periodic sweep deactivates them.
// Deletions and ownership settlements stay safe to run late.
func (e *Executor) skipStale(action models.Action) bool {
	switch action.Type {
	case models.ActionCreateRoom, models.ActionUpdateRoom:
		return action.CreatedAt.Before(e.startedAt)
	}
	return false
}

// execute dispatches a single action by type.
func (e *Executor) execute(ctx context.Context, action models.Action) error {
	switch action.Type {
	case models.ActionCreateRoom:
		return e.executeCreate(ctx, action)
	case models.ActionRenameRoom:
		return e.executeRename(ctx, action)
	case models.ActionUpdateRoom:
		return e.executeUpdate(ctx, action)
	case models.ActionDeleteRoom:
		return e.executeDelete(ctx, action)
	case models.ActionUserLeftRoom:
		return e.executeUserLeft(ctx, action)
	default:
		// Unknown type: mark-executed path, nothing to perform.
		log.Printf("executor: unknown action type %q (id %d)", action.Type, action.ID)
		return nil
	}
}

// executeCreate spawns a room for a lobby joiner: it first deletes any
// stale room already carrying the target name (defense against the
// creation lease failing under extreme race), then creates the room in
// the lobby's category, moves the user in, and records ownership and the
// opening ledger session.
func (e *Executor) executeCreate(ctx context.Context, action models.Action) error {
	var p queue.CreateRoomPayload
	if err := queue.UnmarshalPayload(action.Payload, &p); err != nil {
		return err
	}

	channels, err := e.gw.GuildChannels(ctx, action.GuildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range channels {
		if !ch.Voice || ch.ID == e.cfg.Discord.LobbyChannelID || ch.Name != p.RoomName {
			continue
		}
		fmt.Fprintf(e.out, "Deleting stale duplicate room %s (%s)\n", ch.ID, ch.Name)
		if err := e.gw.DeleteChannel(ctx, ch.ID); err != nil {
			return fmt.Errorf("delete stale duplicate %s: %w", ch.ID, err)
		}
		if err := ownership.Remove(e.db, ch.ID); err != nil {
			log.Printf("executor: remove stale owner %s: %v", ch.ID, err)
		}
	}

	categoryID := e.cfg.Discord.CategoryID
	if categoryID == "" {
		categoryID = lobbyCategory(channels, e.cfg.Discord.LobbyChannelID)
	}

	channelID, err := e.gw.CreateVoiceChannel(ctx, gateway.CreateOpts{
		GuildID:    action.GuildID,
		Name:       p.RoomName,
		CategoryID: categoryID,
		UserLimit:  p.UserLimit,
	})
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	fmt.Fprintf(e.out, "Created room %s (%s) for %s\n", channelID, p.RoomName, p.UserID)

	now := time.Now()
	if err := ownership.Assign(e.db, channelID, p.UserID, action.GuildID, now); err != nil {
		return err
	}

	// The creator may have disconnected between the lobby join and this
	// drain. The room stands either way; an empty one is reclaimed by the
	// owner audit, so a failed move is a logical no-op, not a retry.
	if err := e.gw.MoveMember(ctx, action.GuildID, p.UserID, channelID); err != nil {
		log.Printf("executor: move %s into %s: %v", p.UserID, channelID, err)
		return nil
	}

	if _, err := ledger.Open(e.db, p.UserID, action.GuildID, channelID, now, ledger.OpenOpts{
		ChannelName: p.RoomName,
		DisplayName: p.DisplayName,
	}); err != nil {
		log.Printf("executor: open session for %s in %s: %v", p.UserID, channelID, err)
	}
	return nil
}

// executeRename renames a room. A target that no longer exists satisfies
// the intent by having nothing left to rename.
func (e *Executor) executeRename(ctx context.Context, action models.Action) error {
	var p queue.RenameRoomPayload
	if err := queue.UnmarshalPayload(action.Payload, &p); err != nil {
		return err
	}

	exists, err := e.channelExists(ctx, action.GuildID, p.ChannelID)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintf(e.out, "Rename target %s already gone\n", p.ChannelID)
		return nil
	}
	return e.gw.RenameChannel(ctx, p.ChannelID, p.NewName)
}

// executeUpdate applies a room mutation, with the same gone-target
// semantics as rename.
func (e *Executor) executeUpdate(ctx context.Context, action models.Action) error {
	var p queue.UpdateRoomPayload
	if err := queue.UnmarshalPayload(action.Payload, &p); err != nil {
		return err
	}

	exists, err := e.channelExists(ctx, action.GuildID, p.ChannelID)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintf(e.out, "Update target %s already gone\n", p.ChannelID)
		return nil
	}
	return e.gw.UpdateChannel(ctx, p.ChannelID, p.NewName, p.UserLimit)
}

// executeDelete removes an empty room. Occupancy is re-checked at
// execution time because queue order is best-effort: someone may have
// joined since the deletion was queued, and then the intent completes by
// not deleting.
func (e *Executor) executeDelete(ctx context.Context, action models.Action) error {
	var p queue.DeleteRoomPayload
	if err := queue.UnmarshalPayload(action.Payload, &p); err != nil {
		return err
	}

	exists, err := e.channelExists(ctx, action.GuildID, p.ChannelID)
	if err != nil {
		return err
	}
	if !exists {
		if err := ownership.Remove(e.db, p.ChannelID); err != nil {
			log.Printf("executor: remove owner %s: %v", p.ChannelID, err)
		}
		return nil
	}

	members, err := e.gw.ChannelMembers(ctx, action.GuildID, p.ChannelID)
	if err != nil {
		return fmt.Errorf("recheck occupancy: %w", err)
	}
	if len(members) > 0 {
		fmt.Fprintf(e.out, "Room %s no longer empty (%d members), keeping\n", p.ChannelID, len(members))
		return nil
	}

	if err := e.gw.DeleteChannel(ctx, p.ChannelID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	fmt.Fprintf(e.out, "Deleted empty room %s\n", p.ChannelID)

	if err := ownership.Remove(e.db, p.ChannelID); err != nil {
		log.Printf("executor: remove owner %s: %v", p.ChannelID, err)
	}
	if _, err := ledger.CloseAllInChannel(e.db, p.ChannelID, time.Now()); err != nil {
		log.Printf("executor: close straggler sessions %s: %v", p.ChannelID, err)
	}
	return nil
}

// executeUserLeft settles ownership after a member left a room. Only a
// departing owner triggers a transfer; anyone else leaving satisfies the
// intent immediately.
func (e *Executor) executeUserLeft(ctx context.Context, action models.Action) error {
	var p queue.UserLeftRoomPayload
	if err := queue.UnmarshalPayload(action.Payload, &p); err != nil {
		return err
	}

	owner, err := ownership.Get(e.db, p.ChannelID)
	if err != nil {
		return err
	}
	if owner == nil || owner.UserID != p.UserID {
		return nil
	}

	members, err := e.gw.ChannelMembers(ctx, action.GuildID, p.ChannelID)
	if err != nil {
		return fmt.Errorf("current members: %w", err)
	}

	successor, err := ownership.Transfer(e.db, p.ChannelID, p.UserID, action.GuildID, members, time.Now())
	if err != nil {
		return err
	}
	if successor == "" {
		fmt.Fprintf(e.out, "Room %s is now ownerless\n", p.ChannelID)
	} else {
		fmt.Fprintf(e.out, "Room %s ownership: %s -> %s\n", p.ChannelID, p.UserID, successor)
	}
	return nil
}

// channelExists checks the gateway's current channel list.
func (e *Executor) channelExists(ctx context.Context, guildID, channelID string) (bool, error) {
	channels, err := e.gw.GuildChannels(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range channels {
		if ch.ID == channelID {
			return true, nil
		}
	}
	return false, nil
}

// lobbyCategory finds the lobby channel's category so spawned rooms sit
// adjacent to it.
func lobbyCategory(channels []gateway.ChannelInfo, lobbyID string) string {
	for _, ch := range channels {
		if ch.ID == lobbyID {
			return ch.CategoryID
		}
	}
	return ""
}
