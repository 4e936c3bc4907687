// Package gateway abstracts the chat platform: voice transition events in,
// channel mutations out.
package gateway

import "context"

// Transition is one presence change delivered by the platform. Old or New
// channel ID may be empty (connect and disconnect respectively); a switch
// carries both.
type Transition struct {
	UserID       string
	GuildID      string
	OldChannelID string
	NewChannelID string
	DisplayName  string
	ChannelName  string // name of the new channel, when known
}

// CreateOpts holds parameters for creating a voice channel.
type CreateOpts struct {
	GuildID    string
	Name       string
	CategoryID string // parent category; the lobby's category keeps rooms adjacent
	UserLimit  int
}

// ChannelInfo describes an existing guild channel.
type ChannelInfo struct {
	ID         string
	Name       string
	CategoryID string
	Voice      bool
}

// TransitionHandler consumes a voice transition. Handlers run on the
// platform's dispatch goroutine and must not block.
type TransitionHandler func(t Transition)

// Gateway is the chat-platform collaborator. All mutating calls may block
// on network I/O and honor ctx cancellation.
type Gateway interface {
	// Subscribe registers a transition handler and returns a function that
	// removes exactly that registration.
	Subscribe(h TransitionHandler) (remove func())

	CreateVoiceChannel(ctx context.Context, opts CreateOpts) (channelID string, err error)
	RenameChannel(ctx context.Context, channelID, name string) error
	UpdateChannel(ctx context.Context, channelID, name string, userLimit *int) error
	DeleteChannel(ctx context.Context, channelID string) error
	MoveMember(ctx context.Context, guildID, userID, channelID string) error
	ChannelMembers(ctx context.Context, guildID, channelID string) ([]string, error)
	GuildChannels(ctx context.Context, guildID string) ([]ChannelInfo, error)
}
