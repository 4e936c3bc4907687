package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
)

// fakeSession implements session for tests without touching the network.
type fakeSession struct {
	openCalls  int
	closeCalls int

	channels    []*discordgo.Channel
	voiceStates []*discordgo.VoiceState
	names       map[string]string

	createData discordgo.GuildChannelCreateData
	moveCalls  int

	createErr error
	moveErr   error
}

func (f *fakeSession) Open() error  { f.openCalls++; return nil }
func (f *fakeSession) Close() error { f.closeCalls++; return nil }

func (f *fakeSession) AddHandler(handler interface{}) func() {
	return func() {}
}

func (f *fakeSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createData = data
	return &discordgo.Channel{ID: "new-chan", Name: data.Name}, nil
}

func (f *fakeSession) ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID, Name: data.Name}, nil
}

func (f *fakeSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeSession) GuildMemberMove(guildID, userID string, channelID *string, options ...discordgo.RequestOption) error {
	f.moveCalls++
	return f.moveErr
}

func (f *fakeSession) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels, nil
}

func (f *fakeSession) VoiceStates(guildID string) ([]*discordgo.VoiceState, error) {
	return f.voiceStates, nil
}

func (f *fakeSession) ChannelName(channelID string) string {
	return f.names[channelID]
}

func newFakeDiscord(t *testing.T, sess *fakeSession) *Discord {
	t.Helper()
	d, err := NewDiscord(DiscordOpts{Session: sess})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	return d
}

func TestNewDiscord_RequiresTokenOrSession(t *testing.T) {
	if _, err := NewDiscord(DiscordOpts{}); err == nil {
		t.Error("expected error without token or session")
	}
	if _, err := NewDiscord(DiscordOpts{BotToken: "tok"}); err != nil {
		t.Errorf("NewDiscord with token: %v", err)
	}
}

func TestConnect_Idempotent(t *testing.T) {
	sess := &fakeSession{}
	d := newFakeDiscord(t, sess)
	ctx := context.Background()

	if err := d.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if sess.openCalls != 1 {
		t.Errorf("openCalls = %d, want 1", sess.openCalls)
	}
}

func TestClose_ThenConnectFails(t *testing.T) {
	sess := &fakeSession{}
	d := newFakeDiscord(t, sess)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sess.closeCalls != 1 {
		t.Errorf("closeCalls = %d, want 1", sess.closeCalls)
	}
	if err := d.Connect(context.Background()); err == nil {
		t.Error("Connect after Close should fail")
	}
}

func TestToTransition_SwitchWithNick(t *testing.T) {
	sess := &fakeSession{names: map[string]string{"c2": "bob's Room"}}
	d := newFakeDiscord(t, sess)

	tr := d.toTransition(&discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{
			UserID:    "u1",
			GuildID:   "g1",
			ChannelID: "c2",
			Member: &discordgo.Member{
				Nick: "ally",
				User: &discordgo.User{Username: "alice"},
			},
		},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "c1"},
	})

	if tr.UserID != "u1" || tr.GuildID != "g1" {
		t.Errorf("identity = %s/%s, want u1/g1", tr.UserID, tr.GuildID)
	}
	if tr.OldChannelID != "c1" || tr.NewChannelID != "c2" {
		t.Errorf("channels = %s -> %s, want c1 -> c2", tr.OldChannelID, tr.NewChannelID)
	}
	if tr.DisplayName != "ally" {
		t.Errorf("DisplayName = %q, want nick %q", tr.DisplayName, "ally")
	}
	if tr.ChannelName != "bob's Room" {
		t.Errorf("ChannelName = %q, want %q", tr.ChannelName, "bob's Room")
	}
}

func TestToTransition_UsernameFallbackAndDisconnect(t *testing.T) {
	d := newFakeDiscord(t, &fakeSession{})

	tr := d.toTransition(&discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{
			UserID:  "u1",
			GuildID: "g1",
			Member: &discordgo.Member{
				User: &discordgo.User{Username: "alice"},
			},
		},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "c1"},
	})

	if tr.DisplayName != "alice" {
		t.Errorf("DisplayName = %q, want username fallback %q", tr.DisplayName, "alice")
	}
	if tr.NewChannelID != "" {
		t.Errorf("NewChannelID = %q, want empty for a disconnect", tr.NewChannelID)
	}
	if tr.OldChannelID != "c1" {
		t.Errorf("OldChannelID = %q, want %q", tr.OldChannelID, "c1")
	}
}

func TestCreateVoiceChannel_PassesOptions(t *testing.T) {
	sess := &fakeSession{}
	d := newFakeDiscord(t, sess)

	id, err := d.CreateVoiceChannel(context.Background(), CreateOpts{
		GuildID:    "g1",
		Name:       "alice's Room",
		CategoryID: "cat-1",
		UserLimit:  4,
	})
	if err != nil {
		t.Fatalf("CreateVoiceChannel: %v", err)
	}
	if id != "new-chan" {
		t.Errorf("id = %q, want %q", id, "new-chan")
	}
	if sess.createData.Type != discordgo.ChannelTypeGuildVoice {
		t.Errorf("Type = %v, want voice", sess.createData.Type)
	}
	if sess.createData.ParentID != "cat-1" {
		t.Errorf("ParentID = %q, want %q", sess.createData.ParentID, "cat-1")
	}
	if sess.createData.UserLimit != 4 {
		t.Errorf("UserLimit = %d, want 4", sess.createData.UserLimit)
	}
}

func TestChannelMembers_FiltersByChannel(t *testing.T) {
	sess := &fakeSession{voiceStates: []*discordgo.VoiceState{
		{UserID: "u1", ChannelID: "c1"},
		{UserID: "u2", ChannelID: "c2"},
		{UserID: "u3", ChannelID: "c1"},
	}}
	d := newFakeDiscord(t, sess)

	members, err := d.ChannelMembers(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "u1" || members[1] != "u3" {
		t.Errorf("members = %v, want [u1 u3]", members)
	}
}

func TestGuildChannels_MapsVoiceFlag(t *testing.T) {
	sess := &fakeSession{channels: []*discordgo.Channel{
		{ID: "c1", Name: "general", Type: discordgo.ChannelTypeGuildText},
		{ID: "c2", Name: "Lobby", Type: discordgo.ChannelTypeGuildVoice, ParentID: "cat-1"},
	}}
	d := newFakeDiscord(t, sess)

	infos, err := d.GuildChannels(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GuildChannels: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len(infos) = %d, want 2", len(infos))
	}
	if infos[0].Voice {
		t.Error("text channel mapped as voice")
	}
	if !infos[1].Voice || infos[1].CategoryID != "cat-1" {
		t.Errorf("infos[1] = %+v, want voice channel in cat-1", infos[1])
	}
}

func TestRetry_NonRateLimitErrorReturnsImmediately(t *testing.T) {
	wantErr := errors.New("permission denied")
	sess := &fakeSession{moveErr: wantErr}
	d := newFakeDiscord(t, sess)

	err := d.MoveMember(context.Background(), "g1", "u1", "c1")
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped %v", err, wantErr)
	}
	if sess.moveCalls != 1 {
		t.Errorf("moveCalls = %d, want 1 (no retry on non-429)", sess.moveCalls)
	}
}

func TestRetry_RateLimitHonorsContextCancel(t *testing.T) {
	sess := &fakeSession{moveErr: &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusTooManyRequests},
	}}
	d := newFakeDiscord(t, sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.MoveMember(ctx, "g1", "u1", "c1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled during backoff", err)
	}
}
