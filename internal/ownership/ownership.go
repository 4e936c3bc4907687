// Package ownership maintains the single-custodian record for each
// spawned room and recovers from owner records that outlive their owner.
package ownership

import (
	"fmt"
	"time"

	"github.com/voxyard/voxyard/internal/ledger"
	"github.com/voxyard/voxyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Assign records userID as the owner of channelID, overwriting any stale
// record from a previous life of the channel ID.
func Assign(db *gorm.DB, channelID, userID, guildID string, now time.Time) error {
	if channelID == "" || userID == "" {
		return fmt.Errorf("ownership: channelID and userID are required")
	}

	owner := models.ChannelOwner{
		ChannelID:    channelID,
		UserID:       userID,
		GuildID:      guildID,
		CreatedAt:    now,
		LastActivity: now,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "guild_id", "created_at", "last_activity", "previous_owner_id"}),
	}).Create(&owner)
	if result.Error != nil {
		return fmt.Errorf("ownership: assign %s to %s: %w", channelID, userID, result.Error)
	}
	return nil
}

// Get returns the owner record for a channel, or nil if the channel has
// no owner.
func Get(db *gorm.DB, channelID string) (*models.ChannelOwner, error) {
	var owner models.ChannelOwner
	err := db.Where("channel_id = ?", channelID).First(&owner).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ownership: get %s: %w", channelID, err)
	}
	return &owner, nil
}

// Remove deletes the owner record for a channel. Removing a channel with
// no record is a no-op.
func Remove(db *gorm.DB, channelID string) error {
	if err := db.Where("channel_id = ?", channelID).
		Delete(&models.ChannelOwner{}).Error; err != nil {
		return fmt.Errorf("ownership: remove %s: %w", channelID, err)
	}
	return nil
}

// Transfer hands ownership of channelID to the longest-tenured member
// still present, after fromUserID left. present lists the users currently
// in the channel. With no eligible successor the owner record is deleted
// and the room becomes ownerless. Returns the new owner's user ID, or ""
// when the record was removed.
func Transfer(db *gorm.DB, channelID, fromUserID, guildID string, present []string, now time.Time) (string, error) {
	successor, err := selectSuccessor(db, channelID, fromUserID, present, now)
	if err != nil {
		return "", err
	}

	if successor == "" {
		if err := Remove(db, channelID); err != nil {
			return "", err
		}
		return "", nil
	}

	result := db.Model(&models.ChannelOwner{}).
		Where("channel_id = ?", channelID).
		Updates(map[string]interface{}{
			"user_id":           successor,
			"previous_owner_id": fromUserID,
			"last_activity":     now,
		})
	if result.Error != nil {
		return "", fmt.Errorf("ownership: transfer %s: %w", channelID, result.Error)
	}
	if result.RowsAffected == 0 {
		// No record to mutate; the room was already ownerless. Create one
		// so the present successor is the single custodian.
		if err := Assign(db, channelID, successor, guildID, now); err != nil {
			return "", err
		}
	}
	return successor, nil
}

// DetectInactive audits a channel's owner against its actual current
// membership. An owner who is not present is a fault: the record is
// removed and successor selection re-runs over the members who are
// really there. Returns the resulting owner ID ("" if none) and whether
// the audit changed anything.
func DetectInactive(db *gorm.DB, channelID string, present []string, now time.Time) (string, bool, error) {
	owner, err := Get(db, channelID)
	if err != nil {
		return "", false, err
	}
	if owner == nil {
		return "", false, nil
	}

	for _, userID := range present {
		if userID == owner.UserID {
			return owner.UserID, false, nil
		}
	}

	newOwner, err := Transfer(db, channelID, owner.UserID, owner.GuildID, present, now)
	if err != nil {
		return "", false, err
	}
	return newOwner, true, nil
}

// selectSuccessor picks the present member with the greatest cumulative
// duration in the channel, ties broken by the earliest current join. The
// departing user is never eligible even if a stale open session still
// lists them as present.
func selectSuccessor(db *gorm.DB, channelID, excludeUserID string, present []string, now time.Time) (string, error) {
	if len(present) == 0 {
		return "", nil
	}

	presentSet := make(map[string]bool, len(present))
	for _, id := range present {
		if id != excludeUserID {
			presentSet[id] = true
		}
	}
	if len(presentSet) == 0 {
		return "", nil
	}

	ranked, err := ledger.Durations(db, channelID, now)
	if err != nil {
		return "", err
	}

	for _, ud := range ranked {
		if presentSet[ud.UserID] {
			return ud.UserID, nil
		}
	}

	// Present members with no ledger history at all (possible after
	// corrective tooling wiped sessions): fall back to any present member
	// so the room never ends up memberful but ownerless.
	for _, id := range present {
		if presentSet[id] {
			return id, nil
		}
	}
	return "", nil
}
