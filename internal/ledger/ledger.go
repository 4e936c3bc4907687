// Package ledger maintains the append-only record of voice channel
// occupancy and computes cumulative per-user durations from it.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/voxyard/voxyard/internal/models"
	"gorm.io/gorm"
)

// OpenOpts holds the descriptive fields recorded when a session opens.
type OpenOpts struct {
	ChannelName string
	DisplayName string
}

// Open starts a new session for a user in a channel. If an open session
// already exists for the same (user, channel) pair it is reused rather
// than duplicated, so replayed join events don't corrupt the ledger.
func Open(db *gorm.DB, userID, guildID, channelID string, now time.Time, opts OpenOpts) (*models.VoiceSession, error) {
	if userID == "" || guildID == "" || channelID == "" {
		return nil, fmt.Errorf("ledger: userID, guildID and channelID are required")
	}

	var existing models.VoiceSession
	err := db.Where("user_id = ? AND channel_id = ? AND left_at IS NULL", userID, channelID).
		Order("joined_at DESC").First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("ledger: check open session: %w", err)
	}

	session := models.VoiceSession{
		UserID:      userID,
		GuildID:     guildID,
		ChannelID:   channelID,
		ChannelName: opts.ChannelName,
		DisplayName: opts.DisplayName,
		JoinedAt:    now,
	}
	if err := db.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("ledger: open session: %w", err)
	}
	return &session, nil
}

// Close ends the user's open session in a channel at the given time.
// When racing writes have left more than one open session for the same
// (user, channel), only the most recently opened one counts: it and every
// older duplicate are closed at now, but the duplicates are truncated to
// zero-length so a single physical presence is never double-counted.
// Returns the number of sessions closed.
func Close(db *gorm.DB, userID, channelID string, now time.Time) (int, error) {
	var open []models.VoiceSession
	if err := db.Where("user_id = ? AND channel_id = ? AND left_at IS NULL", userID, channelID).
		Order("joined_at DESC").Find(&open).Error; err != nil {
		return 0, fmt.Errorf("ledger: find open sessions: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	// Newest session closes with its real duration.
	if err := db.Model(&models.VoiceSession{}).
		Where("id = ? AND left_at IS NULL", open[0].ID).
		Update("left_at", now).Error; err != nil {
		return 0, fmt.Errorf("ledger: close session %d: %w", open[0].ID, err)
	}

	// Older duplicates collapse to zero duration.
	for _, dup := range open[1:] {
		if err := db.Model(&models.VoiceSession{}).
			Where("id = ? AND left_at IS NULL", dup.ID).
			Update("left_at", dup.JoinedAt).Error; err != nil {
			return 0, fmt.Errorf("ledger: repair duplicate session %d: %w", dup.ID, err)
		}
	}

	return len(open), nil
}

// CloseAllInChannel closes every open session in a channel, used when a
// room is deleted with stragglers still recorded.
func CloseAllInChannel(db *gorm.DB, channelID string, now time.Time) (int64, error) {
	result := db.Model(&models.VoiceSession{}).
		Where("channel_id = ? AND left_at IS NULL", channelID).
		Update("left_at", now)
	if result.Error != nil {
		return 0, fmt.Errorf("ledger: close channel %s: %w", channelID, result.Error)
	}
	return result.RowsAffected, nil
}

// UserDuration is one user's cumulative time in a channel.
type UserDuration struct {
	UserID      string
	DisplayName string
	Total       time.Duration
	Open        bool      // user has a session still open
	JoinedAt    time.Time // start of the current open session, if Open
}

// Durations returns each user's cumulative duration in a channel from a
// single scan of the ledger: closed sessions contribute leftAt-joinedAt,
// an open session contributes now-joinedAt. The result is ranked longest
// first, ties broken by the earlier current join. Ownership selection and
// diagnostics both read this list, so they can never disagree.
func Durations(db *gorm.DB, channelID string, now time.Time) ([]UserDuration, error) {
	var sessions []models.VoiceSession
	if err := db.Where("channel_id = ?", channelID).
		Order("joined_at ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("ledger: durations for %s: %w", channelID, err)
	}

	byUser := make(map[string]*UserDuration)
	order := make([]string, 0)
	for _, s := range sessions {
		ud, ok := byUser[s.UserID]
		if !ok {
			ud = &UserDuration{UserID: s.UserID}
			byUser[s.UserID] = ud
			order = append(order, s.UserID)
		}
		if s.DisplayName != "" {
			ud.DisplayName = s.DisplayName
		}
		ud.Total += s.Duration(now)
		if s.LeftAt == nil {
			// Post-repair there is one open session per user; against
			// unrepaired data the earliest open join is the truthful one.
			if !ud.Open || s.JoinedAt.Before(ud.JoinedAt) {
				ud.JoinedAt = s.JoinedAt
			}
			ud.Open = true
		}
	}

	ranked := make([]UserDuration, 0, len(byUser))
	for _, id := range order {
		ranked = append(ranked, *byUser[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Total != ranked[j].Total {
			return ranked[i].Total > ranked[j].Total
		}
		return ranked[i].JoinedAt.Before(ranked[j].JoinedAt)
	})
	return ranked, nil
}

// OpenSessions returns the open sessions in a channel.
func OpenSessions(db *gorm.DB, channelID string) ([]models.VoiceSession, error) {
	var sessions []models.VoiceSession
	if err := db.Where("channel_id = ? AND left_at IS NULL", channelID).
		Order("joined_at ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("ledger: open sessions for %s: %w", channelID, err)
	}
	return sessions, nil
}

// FormatDuration renders a duration as H:MM:SS for diagnostics output.
func FormatDuration(d time.Duration) string {
	totalSeconds := int64(d.Seconds())
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
