// Package gatewaytest provides an in-process gateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"sync"

	"autobump/internal/disboard"
	"autobump/internal/domain"
	"autobump/internal/gateway"
)

// ErrUnknownToken is returned by Dial for a token with no Account.
var ErrUnknownToken = errors.New("gatewaytest: unknown token")

// Account scripts how a session for one token behaves.
type Account struct {
	Identity domain.Identity

	DialErr error
	// NeverReady leaves Ready open so Connect times out.
	NeverReady bool
	// NoBumpCommand hides the bump command from every channel.
	NoBumpCommand bool
	InvokeErr     error

	Guilds   map[string]string // guild id -> name
	Channels map[string]string // channel id -> name

	// Reply returns the messages delivered after a successful Invoke.
	Reply func(inv Invocation) []gateway.Message
}

// Invocation records one Invoke call.
type Invocation struct {
	Token     string
	Self      domain.Identity
	ChannelID string
	Command   gateway.Command
}

// Dialer is a scripted gateway.Dialer.
type Dialer struct {
	mu       sync.Mutex
	accounts map[string]*Account
	dials    []string
	invokes  []Invocation
	open     int
	sessions []*Session
}

func NewDialer() *Dialer {
	return &Dialer{accounts: map[string]*Account{}}
}

// Add registers the behavior for token.
func (d *Dialer) Add(token string, a *Account) {
	d.mu.Lock()
	d.accounts[token] = a
	d.mu.Unlock()
}

// Dials returns every token passed to Dial.
func (d *Dialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

// Invocations returns every successful Invoke.
func (d *Dialer) Invocations() []Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Invocation(nil), d.invokes...)
}

// Open is the number of sessions not yet closed.
func (d *Dialer) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Last returns the most recent session.
func (d *Dialer) Last() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func (d *Dialer) Dial(ctx context.Context, token string, onMessage func(gateway.Message)) (gateway.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.dials = append(d.dials, token)
	a, ok := d.accounts[token]
	d.mu.Unlock()
	if !ok {
		return nil, ErrUnknownToken
	}
	if a.DialErr != nil {
		return nil, a.DialErr
	}

	s := &Session{
		d:         d,
		token:     token,
		acc:       a,
		onMessage: onMessage,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	if !a.NeverReady {
		close(s.ready)
	}
	d.mu.Lock()
	d.open++
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Session is a fake gateway.Session. Messages are delivered synchronously
// from Invoke or Deliver.
type Session struct {
	d         *Dialer
	token     string
	acc       *Account
	onMessage func(gateway.Message)

	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *Session) Ready() <-chan struct{} { return s.ready }
func (s *Session) Done() <-chan struct{}  { return s.done }
func (s *Session) Self() domain.Identity  { return s.acc.Identity }

func (s *Session) Commands(_ context.Context, channelID string) ([]gateway.Command, error) {
	if _, ok := s.acc.Channels[channelID]; !ok {
		return nil, gateway.ErrNotFound
	}
	cmds := []gateway.Command{{ID: "900", ApplicationID: "55", Version: "1", Name: disboard.CommandName}}
	if !s.acc.NoBumpCommand {
		cmds = append(cmds, gateway.Command{ID: "901", ApplicationID: disboard.ApplicationID, Version: "7", Name: disboard.CommandName})
	}
	return cmds, nil
}

func (s *Session) Invoke(_ context.Context, channelID string, cmd gateway.Command) error {
	if s.acc.InvokeErr != nil {
		return s.acc.InvokeErr
	}
	inv := Invocation{Token: s.token, Self: s.acc.Identity, ChannelID: channelID, Command: cmd}
	s.d.mu.Lock()
	s.d.invokes = append(s.d.invokes, inv)
	s.d.mu.Unlock()
	if s.acc.Reply != nil {
		for _, m := range s.acc.Reply(inv) {
			s.Deliver(m)
		}
	}
	return nil
}

// Deliver feeds one inbound message to the session's handler.
func (s *Session) Deliver(m gateway.Message) {
	select {
	case <-s.done:
		return
	default:
	}
	if s.onMessage != nil {
		s.onMessage(m)
	}
}

// Drop simulates an unexpected connection loss.
func (s *Session) Drop() { s.finish() }

func (s *Session) GuildName(_ context.Context, guildID string) (string, error) {
	if n, ok := s.acc.Guilds[guildID]; ok {
		return n, nil
	}
	return "", gateway.ErrNotFound
}

func (s *Session) ChannelName(_ context.Context, channelID string) (string, error) {
	if n, ok := s.acc.Channels[channelID]; ok {
		return n, nil
	}
	return "", gateway.ErrNotFound
}

func (s *Session) Close(context.Context) error {
	s.finish()
	return nil
}

func (s *Session) finish() {
	s.once.Do(func() {
		close(s.done)
		s.d.mu.Lock()
		s.d.open--
		s.d.mu.Unlock()
	})
}

// BumpReply builds the DISBOARD answer to inv carrying description.
func BumpReply(inv Invocation, guildID, description string) gateway.Message {
	return gateway.Message{
		GuildID:     guildID,
		ChannelID:   inv.ChannelID,
		AuthorID:    disboard.BotID,
		Interaction: &gateway.Interaction{Name: disboard.CommandName, UserID: inv.Self.ID},
		Embeds:      []gateway.Embed{{Description: description}},
	}
}

// SuccessText is a bump confirmation for guildID.
func SuccessText(guildID string) string {
	return "Bump done! :thumbsup:\nCheck it on " + disboard.ServerLink(guildID)
}
