package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/voxyard/voxyard/internal/config"
	"github.com/voxyard/voxyard/internal/gateway"
	"github.com/voxyard/voxyard/internal/models"
	"github.com/voxyard/voxyard/internal/ownership"
	"github.com/voxyard/voxyard/internal/queue"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSweepTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Action{}, &models.VoiceSession{}, &models.ChannelOwner{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func sweepTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
discord:
  guild_id: "g1"
  lobby_channel_id: "lobby"
`))
	if err != nil {
		t.Fatalf("parse test config: %v", err)
	}
	return cfg
}

func TestRunOnce_DeactivatesStaleSpawns(t *testing.T) {
	db := openSweepTestDB(t)
	gw := gateway.NewMock()
	s := New(db, gw, sweepTestConfig(t), nil)
	now := time.Now()

	stale := models.Action{
		GuildID:   "g1",
		Type:      models.ActionCreateRoom,
		Payload:   "{}",
		Active:    true,
		CreatedAt: now.Add(-3 * time.Hour),
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed action: %v", err)
	}
	fresh, _ := queue.Enqueue(db, "g1", models.ActionCreateRoom, nil)

	if err := s.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var gotStale models.Action
	if err := db.First(&gotStale, stale.ID).Error; err != nil {
		t.Fatalf("load stale action: %v", err)
	}
	if gotStale.Active {
		t.Error("stale spawn action should be deactivated")
	}
	var gotFresh models.Action
	if err := db.First(&gotFresh, fresh.ID).Error; err != nil {
		t.Fatalf("load fresh action: %v", err)
	}
	if !gotFresh.Active {
		t.Error("fresh action should stay active")
	}
}

func TestRunOnce_AuditsAbsentOwners(t *testing.T) {
	db := openSweepTestDB(t)
	gw := gateway.NewMock()
	s := New(db, gw, sweepTestConfig(t), nil)
	now := time.Now()

	if err := ownership.Assign(db, "c1", "u1", "g1", now.Add(-time.Hour)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	gw.SetMembers("c1", "u2")
	session := models.VoiceSession{UserID: "u2", GuildID: "g1", ChannelID: "c1", JoinedAt: now.Add(-30 * time.Minute)}
	db.Create(&session)

	if err := s.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	owner, err := ownership.Get(db, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if owner == nil || owner.UserID != "u2" {
		t.Errorf("owner = %+v, want transfer to present u2", owner)
	}
}

func TestRunOnce_PresentOwnerUntouched(t *testing.T) {
	db := openSweepTestDB(t)
	gw := gateway.NewMock()
	s := New(db, gw, sweepTestConfig(t), nil)
	now := time.Now()

	if err := ownership.Assign(db, "c1", "u1", "g1", now.Add(-time.Hour)); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	gw.SetMembers("c1", "u1", "u2")

	if err := s.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	owner, _ := ownership.Get(db, "c1")
	if owner == nil || owner.UserID != "u1" {
		t.Errorf("owner = %+v, want u1 unchanged", owner)
	}
}

func TestNextCronDuration(t *testing.T) {
	d := nextCronDuration("*/30 * * * *")
	if d <= 0 || d > 30*time.Minute {
		t.Errorf("nextCronDuration = %v, want within (0, 30m]", d)
	}
}

func TestNextCronDuration_InvalidExpr(t *testing.T) {
	if d := nextCronDuration("not a cron line"); d != 0 {
		t.Errorf("nextCronDuration = %v, want 0 for invalid expression", d)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	db := openSweepTestDB(t)
	s := New(db, gateway.NewMock(), sweepTestConfig(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
