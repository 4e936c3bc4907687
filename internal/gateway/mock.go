package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Mock implements Gateway for testing. It keeps an in-memory picture of
// guild channels and voice occupancy, records every mutating call, and
// lets tests inject per-method errors and deliver transitions to
// subscribed handlers.
type Mock struct {
	mu       sync.Mutex
	channels map[string]ChannelInfo // channelID -> info
	members  map[string][]string    // channelID -> user IDs
	handlers []TransitionHandler
	nextID   int

	Created []CreateOpts
	Renamed []string // "channelID:name"
	Deleted []string
	Moved   []string // "userID:channelID"

	// Errors returned by the corresponding calls when set.
	CreateErr error
	RenameErr error
	DeleteErr error
	MoveErr   error
}

// NewMock creates a Mock gateway.
func NewMock() *Mock {
	return &Mock{
		channels: make(map[string]ChannelInfo),
		members:  make(map[string][]string),
		nextID:   1000,
	}
}

// AddChannel seeds a channel into the mock guild.
func (m *Mock) AddChannel(info ChannelInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[info.ID] = info
}

// SetMembers sets the current occupants of a channel.
func (m *Mock) SetMembers(channelID string, userIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[channelID] = append([]string(nil), userIDs...)
}

// Deliver sends a transition to every subscribed handler, simulating a
// gateway event.
func (m *Mock) Deliver(t Transition) {
	m.mu.Lock()
	handlers := append([]TransitionHandler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(t)
	}
}

// Subscribe registers a transition handler.
func (m *Mock) Subscribe(h TransitionHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
	idx := len(m.handlers) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.handlers) {
			m.handlers[idx] = func(Transition) {}
		}
	}
}

// CreateVoiceChannel records the call and adds the channel to the guild.
func (m *Mock) CreateVoiceChannel(_ context.Context, opts CreateOpts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.nextID++
	id := fmt.Sprintf("chan-%d", m.nextID)
	m.channels[id] = ChannelInfo{ID: id, Name: opts.Name, CategoryID: opts.CategoryID, Voice: true}
	m.Created = append(m.Created, opts)
	return id, nil
}

// RenameChannel records the call and renames the channel.
func (m *Mock) RenameChannel(_ context.Context, channelID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RenameErr != nil {
		return m.RenameErr
	}
	ch, ok := m.channels[channelID]
	if ok {
		ch.Name = name
		m.channels[channelID] = ch
	}
	m.Renamed = append(m.Renamed, channelID+":"+name)
	return nil
}

// UpdateChannel applies a mutation like RenameChannel.
func (m *Mock) UpdateChannel(ctx context.Context, channelID, name string, _ *int) error {
	return m.RenameChannel(ctx, channelID, name)
}

// DeleteChannel records the call and removes the channel.
func (m *Mock) DeleteChannel(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.channels, channelID)
	delete(m.members, channelID)
	m.Deleted = append(m.Deleted, channelID)
	return nil
}

// MoveMember records the call and moves the user in the membership map.
func (m *Mock) MoveMember(_ context.Context, _, userID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MoveErr != nil {
		return m.MoveErr
	}
	for id, users := range m.members {
		for i, u := range users {
			if u == userID {
				m.members[id] = append(users[:i], users[i+1:]...)
				break
			}
		}
	}
	m.members[channelID] = append(m.members[channelID], userID)
	m.Moved = append(m.Moved, userID+":"+channelID)
	return nil
}

// ChannelMembers returns the current occupants of a channel.
func (m *Mock) ChannelMembers(_ context.Context, _, channelID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.members[channelID]...), nil
}

// GuildChannels lists all channels in the mock guild.
func (m *Mock) GuildChannels(_ context.Context, _ string) ([]ChannelInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]ChannelInfo, 0, len(m.channels))
	for _, ch := range m.channels {
		infos = append(infos, ch)
	}
	return infos, nil
}

// HasChannel reports whether a channel exists in the mock guild.
func (m *Mock) HasChannel(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[channelID]
	return ok
}
