// Package queue provides the durable action mailbox between the event
// ingestor and the executor.
package queue

import (
	"fmt"
	"time"

	"github.com/voxyard/voxyard/internal/models"
	"gorm.io/gorm"
)

// stormProne lists the action types the periodic sweep may deactivate. A
// stale create-room or update-room replayed after an outage would spawn
// rooms nobody asked for; delete-room and user-left-room stay safe to run
// arbitrarily late and are never swept.
var stormProne = []string{models.ActionCreateRoom, models.ActionUpdateRoom}

// Enqueue appends a new pending action with the given typed payload.
func Enqueue(db *gorm.DB, guildID, actionType string, payload interface{}) (*models.Action, error) {
	if guildID == "" {
		return nil, fmt.Errorf("queue: guildID is required")
	}
	switch actionType {
	case models.ActionCreateRoom, models.ActionRenameRoom, models.ActionDeleteRoom,
		models.ActionUserLeftRoom, models.ActionUpdateRoom:
	default:
		return nil, fmt.Errorf("queue: unknown action type %q", actionType)
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	action := models.Action{
		GuildID: guildID,
		Type:    actionType,
		Payload: body,
		Active:  true,
	}
	if err := db.Create(&action).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue %s: %w", actionType, err)
	}
	return &action, nil
}

// ListPending returns all unexecuted, active actions in submission order.
func ListPending(db *gorm.DB) ([]models.Action, error) {
	var actions []models.Action
	if err := db.Where("executed = ? AND active = ?", false, true).
		Order("created_at ASC").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}
	return actions, nil
}

// MarkExecuted flips an action to executed. Calling it on an already
// executed action is a no-op, not an error; the conditional update makes
// the false to true transition happen at most once even across instances.
func MarkExecuted(db *gorm.DB, id uint) error {
	result := db.Model(&models.Action{}).
		Where("id = ? AND executed = ?", id, false).
		Update("executed", true)
	if result.Error != nil {
		return fmt.Errorf("queue: mark executed %d: %w", id, result.Error)
	}
	return nil
}

// MarkStaleInactive deactivates pending storm-prone actions created
// before cutoff so an accumulated backlog is never replayed. Returns the
// number of actions deactivated.
func MarkStaleInactive(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Model(&models.Action{}).
		Where("executed = ? AND active = ? AND type IN ? AND created_at < ?",
			false, true, stormProne, cutoff).
		Update("active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("queue: mark stale inactive: %w", result.Error)
	}
	return result.RowsAffected, nil
}
