package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"autobump/internal/domain"
	logx "autobump/pkg/logx"
)

// discordEpochMs is the snowflake epoch (2015-01-01T00:00:00Z).
const discordEpochMs = 1420070400000

// DiscordDialer logs in user accounts with discordgo.
type DiscordDialer struct {
	Log logx.Logger
	// HTTPTimeout bounds every REST call; zero keeps the discordgo default.
	HTTPTimeout time.Duration
}

func NewDiscordDialer(log logx.Logger) *DiscordDialer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DiscordDialer{Log: log.With(logx.String("comp", "gateway"))}
}

func (d *DiscordDialer) Dial(ctx context.Context, token string, onMessage func(Message)) (Session, error) {
	dg, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	// A lost socket ends the session; the caller dials again for the next attempt.
	dg.ShouldReconnectOnError = false
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	if d.HTTPTimeout > 0 {
		dg.Client = &http.Client{Timeout: d.HTTPTimeout}
	}

	s := &discordSession{
		dg:    dg,
		log:   d.Log,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.removers = append(s.removers,
		dg.AddHandler(s.onReady),
		dg.AddHandler(s.onDisconnect),
		dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if onMessage != nil && m != nil && m.Message != nil {
				onMessage(fromDiscordMessage(m.Message))
			}
		}),
	)

	opened := make(chan error, 1)
	go func() { opened <- dg.Open() }()
	select {
	case err := <-opened:
		if err != nil {
			s.finish()
			return nil, fmt.Errorf("open discord gateway: %w", err)
		}
	case <-ctx.Done():
		go func() {
			if err := <-opened; err == nil {
				_ = dg.Close()
			}
		}()
		s.finish()
		return nil, ctx.Err()
	}
	return s, nil
}

type discordSession struct {
	dg  *discordgo.Session
	log logx.Logger

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	mu        sync.Mutex
	self      domain.Identity
	sessionID string
	removers  []func()
}

func (s *discordSession) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	s.mu.Lock()
	s.sessionID = r.SessionID
	if r.User != nil {
		s.self = domain.Identity{ID: r.User.ID, Name: r.User.Username}
	}
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *discordSession) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	s.log.Debug("gateway disconnected")
	s.finish()
}

func (s *discordSession) finish() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		removers := s.removers
		s.removers = nil
		s.mu.Unlock()
		for _, rm := range removers {
			rm()
		}
		close(s.done)
	})
}

func (s *discordSession) Ready() <-chan struct{} { return s.ready }
func (s *discordSession) Done() <-chan struct{}  { return s.done }

func (s *discordSession) Self() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

type commandSearch struct {
	ApplicationCommands []struct {
		ID            string `json:"id"`
		ApplicationID string `json:"application_id"`
		Version       string `json:"version"`
		Name          string `json:"name"`
	} `json:"application_commands"`
}

func (s *discordSession) Commands(ctx context.Context, channelID string) ([]Command, error) {
	endpoint := discordgo.EndpointChannel(channelID) + "/application-commands/search?type=1&include_applications=false"
	body, err := s.dg.RequestWithBucketID(http.MethodGet, endpoint, nil, discordgo.EndpointChannel(channelID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", mapRESTError(err))
	}
	return decodeCommands(body)
}

func decodeCommands(body []byte) ([]Command, error) {
	var res commandSearch
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	out := make([]Command, 0, len(res.ApplicationCommands))
	for _, c := range res.ApplicationCommands {
		out = append(out, Command{ID: c.ID, ApplicationID: c.ApplicationID, Version: c.Version, Name: c.Name})
	}
	return out, nil
}

type interactionData struct {
	Version string        `json:"version"`
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Type    int           `json:"type"`
	Options []interface{} `json:"options"`
}

type interactionRequest struct {
	Type          int             `json:"type"`
	ApplicationID string          `json:"application_id"`
	GuildID       string          `json:"guild_id,omitempty"`
	ChannelID     string          `json:"channel_id"`
	SessionID     string          `json:"session_id"`
	Data          interactionData `json:"data"`
	Nonce         string          `json:"nonce"`
}

func (s *discordSession) Invoke(ctx context.Context, channelID string, cmd Command) error {
	ch, err := s.dg.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("resolve channel: %w", mapRESTError(err))
	}
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	req := interactionRequest{
		Type:          int(discordgo.InteractionApplicationCommand),
		ApplicationID: cmd.ApplicationID,
		GuildID:       ch.GuildID,
		ChannelID:     channelID,
		SessionID:     sessionID,
		Data: interactionData{
			Version: cmd.Version,
			ID:      cmd.ID,
			Name:    cmd.Name,
			Type:    int(discordgo.ChatApplicationCommand),
			Options: []interface{}{},
		},
		Nonce: nonce(time.Now()),
	}
	endpoint := discordgo.EndpointAPI + "interactions"
	if _, err := s.dg.RequestWithBucketID(http.MethodPost, endpoint, req, endpoint, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("invoke /%s: %w", cmd.Name, mapRESTError(err))
	}
	return nil
}

func (s *discordSession) GuildName(ctx context.Context, guildID string) (string, error) {
	if g, err := s.dg.State.Guild(guildID); err == nil && g.Name != "" {
		return g.Name, nil
	}
	g, err := s.dg.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapRESTError(err)
	}
	return g.Name, nil
}

func (s *discordSession) ChannelName(ctx context.Context, channelID string) (string, error) {
	if c, err := s.dg.State.Channel(channelID); err == nil && c.Name != "" {
		return c.Name, nil
	}
	c, err := s.dg.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapRESTError(err)
	}
	return c.Name, nil
}

func (s *discordSession) Close(ctx context.Context) error {
	closed := make(chan error, 1)
	go func() { closed <- s.dg.Close() }()
	var err error
	select {
	case err = <-closed:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.finish()
	return err
}

func fromDiscordMessage(m *discordgo.Message) Message {
	out := Message{ID: m.ID, GuildID: m.GuildID, ChannelID: m.ChannelID}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
	}
	if m.Interaction != nil {
		in := &Interaction{Name: m.Interaction.Name}
		if m.Interaction.User != nil {
			in.UserID = m.Interaction.User.ID
		}
		out.Interaction = in
	}
	for _, e := range m.Embeds {
		if e != nil {
			out.Embeds = append(out.Embeds, Embed{Description: e.Description})
		}
	}
	return out
}

func mapRESTError(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

func nonce(now time.Time) string {
	return strconv.FormatInt((now.UnixMilli()-discordEpochMs)<<22, 10)
}
