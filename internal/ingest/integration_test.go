package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/voxyard/voxyard/internal/executor"
	"github.com/voxyard/voxyard/internal/gateway"
	"github.com/voxyard/voxyard/internal/ledger"
	"github.com/voxyard/voxyard/internal/models"
	"github.com/voxyard/voxyard/internal/ownership"
	"github.com/voxyard/voxyard/internal/queue"
)

// TestRoomLifecycle walks a room from lobby join to deletion through the
// real ingest and executor paths, with only the gateway mocked.
func TestRoomLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openIngestTestDB(t)
	gw := gateway.NewMock()
	gw.AddChannel(gateway.ChannelInfo{ID: "lobby", Name: "Lobby", CategoryID: "cat-1", Voice: true})
	cfg := ingestTestConfig(t)
	notifier := queue.NewNotifier()

	ing := New(db, gw, cfg, notifier)
	ing.Start(ctx)
	defer ing.Stop()

	ex, err := executor.New(executor.Opts{DB: db, Gateway: gw, Config: cfg, Notifier: notifier})
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}

	// A joins the lobby; the drain spawns their room.
	gw.Deliver(gateway.Transition{GuildID: "g1", UserID: "u-a", DisplayName: "alice", NewChannelID: "lobby"})
	if err := ex.Drain(ctx); err != nil {
		t.Fatalf("Drain after lobby join: %v", err)
	}

	if len(gw.Created) != 1 {
		t.Fatalf("channels created = %d, want 1", len(gw.Created))
	}
	if gw.Created[0].Name != "alice's Room" {
		t.Errorf("room name = %q, want %q", gw.Created[0].Name, "alice's Room")
	}
	if len(gw.Moved) != 1 {
		t.Fatalf("moves = %d, want 1", len(gw.Moved))
	}
	roomID := gw.Moved[0][len("u-a:"):]

	owner, err := ownership.Get(db, roomID)
	if err != nil {
		t.Fatalf("Get owner: %v", err)
	}
	if owner == nil || owner.UserID != "u-a" {
		t.Fatalf("owner = %+v, want u-a", owner)
	}

	// B joins the room a little later.
	gw.SetMembers(roomID, "u-a", "u-b")
	gw.Deliver(gateway.Transition{GuildID: "g1", UserID: "u-b", DisplayName: "bob", NewChannelID: roomID})

	open, err := ledger.OpenSessions(db, roomID)
	if err != nil {
		t.Fatalf("OpenSessions: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open sessions = %d, want 2 (creator and joiner)", len(open))
	}

	// A disconnects; ownership settles on B.
	gw.SetMembers(roomID, "u-b")
	gw.Deliver(gateway.Transition{GuildID: "g1", UserID: "u-a", OldChannelID: roomID})
	if err := ex.Drain(ctx); err != nil {
		t.Fatalf("Drain after A left: %v", err)
	}

	owner, err = ownership.Get(db, roomID)
	if err != nil {
		t.Fatalf("Get owner: %v", err)
	}
	if owner == nil || owner.UserID != "u-b" {
		t.Fatalf("owner after transfer = %+v, want u-b", owner)
	}
	if owner.PreviousOwnerID != "u-a" {
		t.Errorf("PreviousOwnerID = %q, want %q", owner.PreviousOwnerID, "u-a")
	}
	if !gw.HasChannel(roomID) {
		t.Fatal("room must survive while B remains")
	}

	// B disconnects too; the emptied room is torn down.
	gw.SetMembers(roomID)
	gw.Deliver(gateway.Transition{GuildID: "g1", UserID: "u-b", OldChannelID: roomID})
	if err := ex.Drain(ctx); err != nil {
		t.Fatalf("Drain after B left: %v", err)
	}

	if gw.HasChannel(roomID) {
		t.Error("empty room should be deleted")
	}
	owner, _ = ownership.Get(db, roomID)
	if owner != nil {
		t.Errorf("owner after teardown = %+v, want none", owner)
	}
	open, _ = ledger.OpenSessions(db, roomID)
	if len(open) != 0 {
		t.Errorf("open sessions after teardown = %d, want 0", len(open))
	}

	pending, err := queue.ListPending(db)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending actions after teardown = %d, want 0", len(pending))
	}

	// Durations survive the teardown for later inspection.
	ranked, err := ledger.Durations(db, roomID, time.Now())
	if err != nil {
		t.Fatalf("Durations: %v", err)
	}
	if len(ranked) != 2 {
		t.Errorf("ranked users = %d, want 2", len(ranked))
	}
}

// TestLobbyStorm delivers a burst of duplicate lobby joins and verifies a
// single room comes out the other side.
func TestLobbyStorm(t *testing.T) {
	ctx := context.Background()
	db := openIngestTestDB(t)
	gw := gateway.NewMock()
	gw.AddChannel(gateway.ChannelInfo{ID: "lobby", Name: "Lobby", Voice: true})
	cfg := ingestTestConfig(t)
	notifier := queue.NewNotifier()

	ing := New(db, gw, cfg, notifier)
	ing.Start(ctx)
	defer ing.Stop()

	// The executor must predate the burst or its start-time partition
	// would hand the whole backlog to the sweep.
	ex, err := executor.New(executor.Opts{DB: db, Gateway: gw, Config: cfg})
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}

	tr := gateway.Transition{GuildID: "g1", UserID: "u-a", DisplayName: "alice", NewChannelID: "lobby"}
	for range [5]int{} {
		gw.Deliver(tr)
		waitForSettle()
	}

	if err := ex.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if len(gw.Created) != 1 {
		t.Errorf("channels created = %d, want 1 for a duplicate storm", len(gw.Created))
	}

	var count int64
	db.Model(&models.Action{}).Where("type = ?", models.ActionCreateRoom).Count(&count)
	if count != 1 {
		t.Errorf("create-room rows = %d, want 1", count)
	}
}
