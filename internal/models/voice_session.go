package models

import "time"

// VoiceSession is one contiguous interval of a user's presence in a
// voice channel. LeftAt is nil while the session is still open. Rows are
// never mutated after close except by multiplicity repair.
type VoiceSession struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"size:32;not null;index:idx_user_channel"`
	GuildID     string `gorm:"size:32;not null;index"`
	ChannelID   string `gorm:"size:32;not null;index:idx_user_channel"`
	ChannelName string `gorm:"size:128"`
	DisplayName string `gorm:"size:64"`
	JoinedAt    time.Time
	LeftAt      *time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// Duration returns the session length, measuring open sessions up to now.
func (s *VoiceSession) Duration(now time.Time) time.Duration {
	if s.LeftAt != nil {
		return s.LeftAt.Sub(s.JoinedAt)
	}
	return now.Sub(s.JoinedAt)
}
