package models

import "time"

// Action type constants. Every queued intent carries one of these.
const (
	ActionCreateRoom   = "create-room"
	ActionRenameRoom   = "rename-room"
	ActionDeleteRoom   = "delete-room"
	ActionUserLeftRoom = "user-left-room"
	ActionUpdateRoom   = "update-room"
)

// Action is a durable intent waiting to be executed against the gateway.
// Executed flips false to true exactly once per row; Active=false marks a
// row permanently ignorable without deleting its history.
type Action struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	GuildID   string `gorm:"size:32;not null;index"`
	Type      string `gorm:"size:24;not null;index"`
	Payload   string `gorm:"type:json"`
	Executed  bool   `gorm:"default:false;index:idx_pending"`
	Active    bool   `gorm:"default:true;index:idx_pending"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
