package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// DiscordGateway bridges a single Discord text channel.
type DiscordGateway struct {
	session   *discordgo.Session
	channelID string
	events    chan GatewayEvent
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	botUserID string
}

func NewDiscordGateway(token, channelID string) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discordgo session: %w", err)
	}

	dg := &DiscordGateway{
		session:   session,
		channelID: channelID,
		events:    make(chan GatewayEvent, 100),
		done:      make(chan struct{}),
	}

	// Reconnects are driven by the router so the backoff stays observable.
	session.ShouldReconnectOnError = false
	// Handlers run in gateway order, which keeps the event stream ordered.
	session.SyncEvents = true
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent
	session.State.TrackMembers = true
	session.State.TrackChannels = true
	session.State.TrackRoles = true

	session.AddHandler(dg.onReady)
	session.AddHandler(dg.onResumed)
	session.AddHandler(dg.onDisconnect)
	session.AddHandler(dg.onMessage)
	session.AddHandler(dg.onMemberUpdate)

	return dg, nil
}

func (dg *DiscordGateway) Name() string { return "Discord" }

func (dg *DiscordGateway) Open(ctx context.Context) error {
	if err := dg.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	return nil
}

func (dg *DiscordGateway) Close() error {
	dg.closeOnce.Do(func() { close(dg.done) })
	return dg.session.Close()
}

func (dg *DiscordGateway) Events() <-chan GatewayEvent { return dg.events }

func (dg *DiscordGateway) Send(ctx context.Context, text string) error {
	_, err := dg.session.ChannelMessageSendComplex(dg.channelID, &discordgo.MessageSend{
		Content: text,
		// Minecraft chat must never ping @everyone or roles.
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send to Discord: %w", err)
	}
	return nil
}

// SetTopic replaces the bridged channel's topic.
func (dg *DiscordGateway) SetTopic(ctx context.Context, text string) error {
	_, err := dg.session.ChannelEdit(dg.channelID, &discordgo.ChannelEdit{Topic: text}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("set Discord channel topic: %w", err)
	}
	return nil
}

func (dg *DiscordGateway) UpdatePresence(ctx context.Context, text string) error {
	if err := dg.session.UpdateGameStatus(0, text); err != nil {
		return fmt.Errorf("update Discord presence: %w", err)
	}
	return nil
}

func (dg *DiscordGateway) guildID() string {
	channel, err := dg.session.State.Channel(dg.channelID)
	if err != nil {
		return ""
	}
	return channel.GuildID
}

func (dg *DiscordGateway) MemberName(id string) (string, bool) {
	member, err := dg.session.State.Member(dg.guildID(), id)
	if err != nil {
		return "", false
	}
	return memberDisplayName(member), true
}

func (dg *DiscordGateway) ChannelName(id string) (string, bool) {
	channel, err := dg.session.State.Channel(id)
	if err != nil || channel.Name == "" {
		return "", false
	}
	return channel.Name, true
}

func (dg *DiscordGateway) RoleName(id string) (string, bool) {
	role, err := dg.session.State.Role(dg.guildID(), id)
	if err != nil {
		return "", false
	}
	return role.Name, true
}

func (dg *DiscordGateway) emit(event GatewayEvent) {
	select {
	case dg.events <- event:
	case <-dg.done:
	}
}

func (dg *DiscordGateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	dg.mu.Lock()
	dg.botUserID = r.User.ID
	dg.mu.Unlock()
	log.Printf("discord bot connected as %s", r.User.Username)
	dg.emit(GatewayEvent{Kind: GatewayConnected})
}

// onResumed fires instead of onReady when a reconnect resumes the previous
// session, which discordgo attempts whenever it still holds a session ID.
func (dg *DiscordGateway) onResumed(s *discordgo.Session, r *discordgo.Resumed) {
	log.Printf("discord session resumed")
	dg.emit(GatewayEvent{Kind: GatewayConnected})
}

func (dg *DiscordGateway) onDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	dg.emit(GatewayEvent{Kind: GatewayDisconnected})
}

func (dg *DiscordGateway) onMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.Member == nil || m.Member.User == nil {
		return
	}
	dg.emit(GatewayEvent{
		Kind:        GatewayMemberUpdated,
		MemberID:    m.Member.User.ID,
		DisplayName: memberDisplayName(m.Member),
	})
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	dg.mu.RLock()
	botUserID := dg.botUserID
	dg.mu.RUnlock()

	if m.Author == nil || m.Author.Bot || m.Author.ID == botUserID {
		return
	}
	if m.ChannelID != dg.channelID {
		return
	}
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		return
	}
	if m.Content == "" && len(m.Attachments) == 0 && len(m.Embeds) == 0 {
		return
	}

	author := m.Author.GlobalName
	if author == "" {
		author = m.Author.Username
	}
	if m.Member != nil && m.Member.Nick != "" {
		author = m.Member.Nick
	}

	msg := InboundMessage{
		Source:    dg.Name(),
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Author:    author,
		Content:   m.Content,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename: a.Filename,
			URL:      a.URL,
			Image:    a.Height > 0,
		})
	}
	for _, e := range m.Embeds {
		embed := Embed{URL: e.URL, Title: e.Title}
		if e.Provider != nil {
			embed.Provider = e.Provider.Name
		}
		msg.Embeds = append(msg.Embeds, embed)
	}

	dg.emit(GatewayEvent{Kind: GatewayMessage, Message: msg})
}

func memberDisplayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
