package gateway

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMemberMove(guildID, userID string, channelID *string, options ...discordgo.RequestOption) error
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	VoiceStates(guildID string) ([]*discordgo.VoiceState, error)
	ChannelName(channelID string) string
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.GuildChannelCreateComplex(guildID, data, options...)
}
func (r *realSession) ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelEdit(channelID, data, options...)
}
func (r *realSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelDelete(channelID, options...)
}
func (r *realSession) GuildMemberMove(guildID, userID string, channelID *string, options ...discordgo.RequestOption) error {
	return r.s.GuildMemberMove(guildID, userID, channelID, options...)
}
func (r *realSession) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return r.s.GuildChannels(guildID, options...)
}

// VoiceStates reads current voice occupancy from the state cache.
func (r *realSession) VoiceStates(guildID string) ([]*discordgo.VoiceState, error) {
	guild, err := r.s.State.Guild(guildID)
	if err != nil {
		return nil, err
	}
	return guild.VoiceStates, nil
}

// ChannelName resolves a channel name from the state cache, empty if unknown.
func (r *realSession) ChannelName(channelID string) string {
	ch, err := r.s.State.Channel(channelID)
	if err != nil {
		return ""
	}
	return ch.Name
}

// Discord implements Gateway over the Discord Gateway WebSocket and REST API.
type Discord struct {
	sess     session
	botToken string

	mu        sync.Mutex
	connected bool
	closed    bool
}

// DiscordOpts holds parameters for creating a Discord gateway.
type DiscordOpts struct {
	BotToken string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// NewDiscord creates a Discord gateway.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Discord{sess: opts.Session, botToken: opts.BotToken}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("discord: gateway already closed")
	}
	if d.connected {
		return nil
	}

	if d.sess == nil {
		dg, err := discordgo.New("Bot " + d.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		d.sess = &realSession{s: dg}
	}

	d.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})
	d.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := d.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	d.connected = true
	return nil
}

// Close shuts down the gateway connection.
func (d *Discord) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.connected = false
	if d.sess != nil {
		return d.sess.Close()
	}
	return nil
}

// Subscribe registers a voice transition handler. The returned function
// removes exactly this registration; callers hold it and unsubscribe
// before resubscribing rather than relying on global listener removal.
func (d *Discord) Subscribe(h TransitionHandler) func() {
	return d.sess.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		h(d.toTransition(v))
	})
}

// toTransition converts a discordgo voice state update into a Transition.
func (d *Discord) toTransition(v *discordgo.VoiceStateUpdate) Transition {
	t := Transition{
		UserID:       v.UserID,
		GuildID:      v.GuildID,
		NewChannelID: v.ChannelID,
	}
	if v.BeforeUpdate != nil {
		t.OldChannelID = v.BeforeUpdate.ChannelID
	}
	if v.Member != nil {
		t.DisplayName = v.Member.Nick
		if t.DisplayName == "" && v.Member.User != nil {
			t.DisplayName = v.Member.User.Username
		}
	}
	if v.ChannelID != "" {
		t.ChannelName = d.sess.ChannelName(v.ChannelID)
	}
	return t
}

// CreateVoiceChannel creates a voice channel under the configured category.
func (d *Discord) CreateVoiceChannel(ctx context.Context, opts CreateOpts) (string, error) {
	var ch *discordgo.Channel
	err := d.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = d.sess.GuildChannelCreateComplex(opts.GuildID, discordgo.GuildChannelCreateData{
			Name:      opts.Name,
			Type:      discordgo.ChannelTypeGuildVoice,
			ParentID:  opts.CategoryID,
			UserLimit: opts.UserLimit,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: create voice channel %q: %w", opts.Name, err)
	}
	return ch.ID, nil
}

// RenameChannel renames a channel.
func (d *Discord) RenameChannel(ctx context.Context, channelID, name string) error {
	err := d.retryOnRateLimit(ctx, func() error {
		_, apiErr := d.sess.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: rename channel %s: %w", channelID, err)
	}
	return nil
}

// UpdateChannel applies a name and/or user-limit mutation to a channel.
func (d *Discord) UpdateChannel(ctx context.Context, channelID, name string, userLimit *int) error {
	edit := &discordgo.ChannelEdit{Name: name}
	if userLimit != nil {
		edit.UserLimit = *userLimit
	}
	err := d.retryOnRateLimit(ctx, func() error {
		_, apiErr := d.sess.ChannelEdit(channelID, edit)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: update channel %s: %w", channelID, err)
	}
	return nil
}

// DeleteChannel deletes a channel.
func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	err := d.retryOnRateLimit(ctx, func() error {
		_, apiErr := d.sess.ChannelDelete(channelID)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: delete channel %s: %w", channelID, err)
	}
	return nil
}

// MoveMember moves a connected member into a voice channel.
func (d *Discord) MoveMember(ctx context.Context, guildID, userID, channelID string) error {
	err := d.retryOnRateLimit(ctx, func() error {
		return d.sess.GuildMemberMove(guildID, userID, &channelID)
	})
	if err != nil {
		return fmt.Errorf("discord: move member %s to %s: %w", userID, channelID, err)
	}
	return nil
}

// ChannelMembers returns the IDs of users currently in a voice channel,
// read from the gateway's voice state cache.
func (d *Discord) ChannelMembers(ctx context.Context, guildID, channelID string) ([]string, error) {
	states, err := d.sess.VoiceStates(guildID)
	if err != nil {
		return nil, fmt.Errorf("discord: voice states for %s: %w", guildID, err)
	}
	var members []string
	for _, vs := range states {
		if vs.ChannelID == channelID {
			members = append(members, vs.UserID)
		}
	}
	return members, nil
}

// GuildChannels lists the guild's channels.
func (d *Discord) GuildChannels(ctx context.Context, guildID string) ([]ChannelInfo, error) {
	var chans []*discordgo.Channel
	err := d.retryOnRateLimit(ctx, func() error {
		var apiErr error
		chans, apiErr = d.sess.GuildChannels(guildID)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: guild channels for %s: %w", guildID, err)
	}
	infos := make([]ChannelInfo, 0, len(chans))
	for _, ch := range chans {
		infos = append(infos, ChannelInfo{
			ID:         ch.ID,
			Name:       ch.Name,
			CategoryID: ch.ParentID,
			Voice:      ch.Type == discordgo.ChannelTypeGuildVoice,
		})
	}
	return infos, nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on
// Discord rate limit errors. It respects context cancellation.
func (d *Discord) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
