package queue

import (
	"encoding/json"
	"fmt"
)

// CreateRoomPayload asks the executor to spawn a room for a user who
// entered the lobby channel.
type CreateRoomPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	RoomName    string `json:"room_name"`
	UserLimit   int    `json:"user_limit,omitempty"`
}

// RenameRoomPayload asks the executor to rename an existing room.
type RenameRoomPayload struct {
	ChannelID string `json:"channel_id"`
	NewName   string `json:"new_name"`
}

// UpdateRoomPayload asks the executor to apply a mutation (name and/or
// user limit) to an existing room.
type UpdateRoomPayload struct {
	ChannelID string `json:"channel_id"`
	NewName   string `json:"new_name,omitempty"`
	UserLimit *int   `json:"user_limit,omitempty"`
}

// DeleteRoomPayload asks the executor to delete a room believed empty.
type DeleteRoomPayload struct {
	ChannelID string `json:"channel_id"`
}

// UserLeftRoomPayload asks the executor to settle ownership after a user
// left a spawned room.
type UserLeftRoomPayload struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// marshalPayload encodes a payload struct to the JSON stored on the row.
func marshalPayload(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}
	return string(data), nil
}

// UnmarshalPayload decodes an action's stored payload into dst.
func UnmarshalPayload(payload string, dst interface{}) error {
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return fmt.Errorf("queue: unmarshal payload: %w", err)
	}
	return nil
}
