// Package admin implements the configuration actions: registering and
// removing accounts and channels, changing a guild's channel, reordering.
// Registrations are validated against a live session before anything is
// stored.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autobump/internal/clock"
	"autobump/internal/connection"
	"autobump/internal/domain"
	"autobump/internal/gateway"
	"autobump/internal/registry"
	logx "autobump/pkg/logx"
)

// ErrValidationFailed means the live lookup behind a registration failed.
// Nothing was stored.
var ErrValidationFailed = errors.New("admin: validation failed")

// Timeouts bound the transient sessions opened for validation.
type Timeouts struct {
	Connect    time.Duration
	Disconnect time.Duration
	Lookup     time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: 30 * time.Second, Disconnect: 10 * time.Second, Lookup: 10 * time.Second}
}

type Manager struct {
	reg    *registry.Registry
	dialer gateway.Dialer
	log    logx.Logger
	clock  clock.Clock
	to     Timeouts
}

func NewManager(reg *registry.Registry, dialer gateway.Dialer, log logx.Logger, c clock.Clock, to Timeouts) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if c == nil {
		c = clock.Real()
	}
	d := DefaultTimeouts()
	if to.Connect <= 0 {
		to.Connect = d.Connect
	}
	if to.Disconnect <= 0 {
		to.Disconnect = d.Disconnect
	}
	if to.Lookup <= 0 {
		to.Lookup = d.Lookup
	}
	return &Manager{reg: reg, dialer: dialer, log: log.With(logx.String("comp", "admin")), clock: c, to: to}
}

func (m *Manager) Accounts() []domain.Account { return m.reg.Accounts() }
func (m *Manager) Channels() []domain.Channel { return m.reg.Channels() }
func (m *Manager) Now() time.Time { return m.clock.Now() }

// withSession runs fn on a fresh validated session for token.
func (m *Manager) withSession(ctx context.Context, token string, fn func(ctx context.Context, conn *connection.Service) error) error {
	conn := connection.New(m.dialer, connection.WithLogger(m.log), connection.WithClock(m.clock))
	if err := conn.Connect(ctx, token, m.to.Connect); err != nil {
		return fmt.Errorf("%w: connect: %v", ErrValidationFailed, err)
	}
	defer func() { _ = conn.Disconnect(m.to.Disconnect) }()

	lctx, cancel := context.WithTimeout(ctx, m.to.Lookup)
	defer cancel()
	return fn(lctx, conn)
}

// RegisterAccount logs in with token and stores the account it belongs to.
// An already registered account is returned together with
// registry.ErrDuplicate and left untouched.
func (m *Manager) RegisterAccount(ctx context.Context, token string) (domain.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Account{}, fmt.Errorf("%w: empty token", ErrValidationFailed)
	}
	var acc domain.Account
	err := m.withSession(ctx, token, func(_ context.Context, conn *connection.Service) error {
		self, err := conn.Self()
		if err != nil || self.ID == "" {
			return fmt.Errorf("%w: could not read account identity: %v", ErrValidationFailed, err)
		}
		acc = domain.Account{ID: self.ID, Token: token, Name: self.Name, NextBump: domain.NeverBumped}
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	if existing, ok := m.reg.Account(acc.ID); ok {
		return existing, fmt.Errorf("account %s: %w", acc.ID, registry.ErrDuplicate)
	}
	if err := m.reg.AddAccount(ctx, acc); err != nil {
		return domain.Account{}, err
	}
	m.log.Info("account registered", logx.String("account_id", acc.ID), logx.String("account", acc.Name))
	return acc, nil
}

func (m *Manager) RemoveAccount(ctx context.Context, id string) (domain.Account, error) {
	if err := validID(id); err != nil {
		return domain.Account{}, err
	}
	acc, err := m.reg.RemoveAccount(ctx, id)
	if err == nil {
		m.log.Info("account removed", logx.String("account_id", id), logx.String("account", acc.Name))
	}
	return acc, err
}

// RegisterChannel stores guildID with channelID. Registered accounts are
// tried in order until one can see both.
func (m *Manager) RegisterChannel(ctx context.Context, guildID, channelID string) (domain.Channel, error) {
	if err := validID(guildID); err != nil {
		return domain.Channel{}, err
	}
	if err := validID(channelID); err != nil {
		return domain.Channel{}, err
	}
	if existing, ok := m.reg.Channel(guildID); ok {
		return existing, fmt.Errorf("guild %s: %w", guildID, registry.ErrDuplicate)
	}

	var ch domain.Channel
	err := m.firstAccount(ctx, func(ctx context.Context, conn *connection.Service) error {
		guildName, err := conn.LookupName(ctx, connection.KindGuild, guildID)
		if err != nil {
			return fmt.Errorf("guild %s: %w", guildID, err)
		}
		channelName, err := conn.LookupName(ctx, connection.KindChannel, channelID)
		if err != nil {
			return fmt.Errorf("channel %s: %w", channelID, err)
		}
		ch = domain.Channel{
			GuildID:     guildID,
			GuildName:   guildName,
			ChannelID:   channelID,
			ChannelName: channelName,
			NextBump:    domain.NeverBumped,
		}
		return nil
	})
	if err != nil {
		return domain.Channel{}, err
	}
	if err := m.reg.AddChannel(ctx, ch); err != nil {
		return domain.Channel{}, err
	}
	m.log.Info("channel registered", logx.String("guild_id", guildID), logx.String("guild", ch.GuildName), logx.String("channel", ch.ChannelName))
	return ch, nil
}

// UpdateChannel points a registered guild at channelID. Returns false with
// a nil error when the channel is unchanged.
func (m *Manager) UpdateChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	if err := validID(channelID); err != nil {
		return false, err
	}
	cur, ok := m.reg.Channel(guildID)
	if !ok {
		return false, fmt.Errorf("guild %s: %w", guildID, registry.ErrNotFound)
	}
	if cur.ChannelID == channelID {
		return false, nil
	}

	var name string
	err := m.firstAccount(ctx, func(ctx context.Context, conn *connection.Service) error {
		n, err := conn.LookupName(ctx, connection.KindChannel, channelID)
		if err != nil {
			return fmt.Errorf("channel %s: %w", channelID, err)
		}
		name = n
		return nil
	})
	if err != nil {
		return false, err
	}
	changed, err := m.reg.UpdateChannel(ctx, guildID, channelID, name)
	if err == nil && changed {
		m.log.Info("channel changed", logx.String("guild_id", guildID), logx.String("from", cur.ChannelName), logx.String("to", name))
	}
	return changed, err
}

func (m *Manager) RemoveChannel(ctx context.Context, guildID string) (domain.Channel, error) {
	ch, err := m.reg.RemoveChannel(ctx, guildID)
	if err == nil {
		m.log.Info("channel removed", logx.String("guild_id", guildID), logx.String("guild", ch.GuildName))
	}
	return ch, err
}

// Reorder sets the sweep order by guild id.
func (m *Manager) Reorder(ctx context.Context, guildIDs []string) (bool, error) {
	return m.reg.Reorder(ctx, guildIDs)
}

// firstAccount runs fn with each registered account until one succeeds.
func (m *Manager) firstAccount(ctx context.Context, fn func(ctx context.Context, conn *connection.Service) error) error {
	accounts := m.reg.Accounts()
	if len(accounts) == 0 {
		return fmt.Errorf("%w: no registered account to look it up with", ErrValidationFailed)
	}
	var last error
	for _, acc := range accounts {
		err := m.withSession(ctx, acc.Token, fn)
		if err == nil {
			return nil
		}
		m.log.Debug("lookup failed with account", logx.String("account_id", acc.ID), logx.Err(err))
		last = err
		if ctx.Err() != nil {
			break
		}
	}
	if errors.Is(last, ErrValidationFailed) {
		return last
	}
	return fmt.Errorf("%w: %v", ErrValidationFailed, last)
}

func validID(id string) error {
	if _, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64); err != nil {
		return fmt.Errorf("%w: %q is not a numeric id", ErrValidationFailed, id)
	}
	return nil
}
