package models

import "time"

// ChannelOwner records the current custodian of a spawned room. At most
// one row exists per channel; the row is deleted when the room is deleted
// or becomes orphaned with no eligible successor.
type ChannelOwner struct {
	ChannelID       string `gorm:"primaryKey;size:32"`
	UserID          string `gorm:"size:32;not null;index"`
	GuildID         string `gorm:"size:32;not null;index"`
	PreviousOwnerID string `gorm:"size:32"`
	CreatedAt       time.Time
	LastActivity    time.Time
}
