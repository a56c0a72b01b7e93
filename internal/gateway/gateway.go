// Package gateway is the chat-platform capability the bumper consumes: open
// a session for one account, watch inbound messages, list and invoke a
// channel's slash commands, resolve guild and channel names.
package gateway

import (
	"context"
	"errors"

	"autobump/internal/domain"
)

// ErrNotFound is returned by name lookups when the id is unknown or hidden.
var ErrNotFound = errors.New("gateway: not found")

// Message is the part of an inbound message the bumper inspects.
type Message struct {
	ID          string
	GuildID     string
	ChannelID   string
	AuthorID    string
	Interaction *Interaction
	Embeds      []Embed
}

// Interaction is the slash command metadata attached to a bot reply.
type Interaction struct {
	Name   string
	UserID string
}

type Embed struct {
	Description string
}

// Command is a slash command descriptor as listed for a channel.
type Command struct {
	ID            string
	ApplicationID string
	Version       string
	Name          string
}

// Dialer opens sessions. onMessage is called from the session's own
// goroutine for every inbound message until the session is closed.
type Dialer interface {
	Dial(ctx context.Context, token string, onMessage func(Message)) (Session, error)
}

// Session is one live login.
type Session interface {
	// Ready is closed once the session can serve requests.
	Ready() <-chan struct{}
	// Done is closed when the session ends, by Close or by connection loss.
	Done() <-chan struct{}
	// Self is valid after Ready.
	Self() domain.Identity

	Commands(ctx context.Context, channelID string) ([]Command, error)
	Invoke(ctx context.Context, channelID string, cmd Command) error

	GuildName(ctx context.Context, guildID string) (string, error)
	ChannelName(ctx context.Context, channelID string) (string, error)

	Close(ctx context.Context) error
}
