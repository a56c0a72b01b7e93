// Package registry holds the Accounts and Channels collections in memory
// and writes every change through to a storage.DataStore.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"autobump/internal/domain"
	"autobump/internal/storage"
	logx "autobump/pkg/logx"
)

var (
	ErrNotFound       = errors.New("registry: not found")
	ErrDuplicate      = errors.New("registry: already registered")
	ErrNotPermutation = errors.New("registry: order is not a permutation of the registered guilds")
)

// Registry is safe for concurrent readers; mutations are expected from the
// single control goroutine. A mutation whose Save fails is rolled back in
// memory and the error is returned.
type Registry struct {
	store storage.DataStore
	log   logx.Logger

	mu       sync.RWMutex
	accounts []domain.Account
	channels []domain.Channel
}

func New(store storage.DataStore, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log.With(logx.String("comp", "registry"))}
}

// Load replaces the in-memory collections with the persisted ones. A
// corrupt collection is logged and starts empty.
func (r *Registry) Load(ctx context.Context) error {
	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrPersistenceCorrupt) {
			return fmt.Errorf("load accounts: %w", err)
		}
		r.log.Error("accounts collection is corrupt, starting empty", logx.Err(err))
	}
	channels, err := r.store.LoadChannels(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrPersistenceCorrupt) {
			return fmt.Errorf("load channels: %w", err)
		}
		r.log.Error("channels collection is corrupt, starting empty", logx.Err(err))
	}

	r.mu.Lock()
	r.accounts = accounts
	r.channels = channels
	r.mu.Unlock()
	r.log.Info("registry loaded", logx.Int("accounts", len(accounts)), logx.Int("channels", len(channels)))
	return nil
}

// Accounts returns a copy in collection order.
func (r *Registry) Accounts() []domain.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Account(nil), r.accounts...)
}

// Channels returns a copy in sweep order.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Channel(nil), r.channels...)
}

func (r *Registry) Account(id string) (domain.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.accountIndex(id); i >= 0 {
		return r.accounts[i], true
	}
	return domain.Account{}, false
}

func (r *Registry) Channel(guildID string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.channelIndex(guildID); i >= 0 {
		return r.channels[i], true
	}
	return domain.Channel{}, false
}

func (r *Registry) accountIndex(id string) int {
	for i, a := range r.accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) channelIndex(guildID string) int {
	for i, c := range r.channels {
		if c.GuildID == guildID {
			return i
		}
	}
	return -1
}

// mutateAccounts applies fn to a copy and persists it before committing.
func (r *Registry) mutateAccounts(ctx context.Context, fn func([]domain.Account) ([]domain.Account, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fn(append([]domain.Account(nil), r.accounts...))
	if err != nil {
		return err
	}
	if err := r.store.SaveAccounts(ctx, next); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	r.accounts = next
	return nil
}

func (r *Registry) mutateChannels(ctx context.Context, fn func([]domain.Channel) ([]domain.Channel, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fn(append([]domain.Channel(nil), r.channels...))
	if err != nil {
		return err
	}
	if err := r.store.SaveChannels(ctx, next); err != nil {
		return fmt.Errorf("save channels: %w", err)
	}
	r.channels = next
	return nil
}

func (r *Registry) withAccount(id string, fn func(*domain.Account) bool) func([]domain.Account) ([]domain.Account, error) {
	return func(list []domain.Account) ([]domain.Account, error) {
		i := -1
		for j := range list {
			if list[j].ID == id {
				i = j
				break
			}
		}
		if i < 0 {
			return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		if !fn(&list[i]) {
			return nil, errUnchanged
		}
		return list, nil
	}
}

func (r *Registry) withChannel(guildID string, fn func(*domain.Channel) bool) func([]domain.Channel) ([]domain.Channel, error) {
	return func(list []domain.Channel) ([]domain.Channel, error) {
		i := -1
		for j := range list {
			if list[j].GuildID == guildID {
				i = j
				break
			}
		}
		if i < 0 {
			return nil, fmt.Errorf("guild %s: %w", guildID, ErrNotFound)
		}
		if !fn(&list[i]) {
			return nil, errUnchanged
		}
		return list, nil
	}
}

// errUnchanged short-circuits a mutation that would not change anything.
var errUnchanged = errors.New("unchanged")

func ignoreUnchanged(err error) error {
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// SetAccountCooldown stores nextBump for the account.
func (r *Registry) SetAccountCooldown(ctx context.Context, id string, nextBump int64) error {
	return ignoreUnchanged(r.mutateAccounts(ctx, r.withAccount(id, func(a *domain.Account) bool {
		a.NextBump = nextBump
		return true
	})))
}

// SetChannelCooldown stores nextBump for the guild's channel.
func (r *Registry) SetChannelCooldown(ctx context.Context, guildID string, nextBump int64) error {
	return ignoreUnchanged(r.mutateChannels(ctx, r.withChannel(guildID, func(c *domain.Channel) bool {
		c.NextBump = nextBump
		return true
	})))
}

// UpdateAccountName persists a changed display name. It reports whether
// anything changed.
func (r *Registry) UpdateAccountName(ctx context.Context, id, name string) (bool, error) {
	changed := false
	err := r.mutateAccounts(ctx, r.withAccount(id, func(a *domain.Account) bool {
		if name == "" || a.Name == name {
			return false
		}
		a.Name = name
		changed = true
		return true
	}))
	return changed, ignoreUnchanged(err)
}

// UpdateChannelNames persists changed guild/channel names; empty names are
// left alone.
func (r *Registry) UpdateChannelNames(ctx context.Context, guildID, guildName, channelName string) (bool, error) {
	changed := false
	err := r.mutateChannels(ctx, r.withChannel(guildID, func(c *domain.Channel) bool {
		if guildName != "" && c.GuildName != guildName {
			c.GuildName = guildName
			changed = true
		}
		if channelName != "" && c.ChannelName != channelName {
			c.ChannelName = channelName
			changed = true
		}
		return changed
	}))
	return changed, ignoreUnchanged(err)
}

// AddAccount appends a new account. ErrDuplicate if the id exists.
func (r *Registry) AddAccount(ctx context.Context, a domain.Account) error {
	return r.mutateAccounts(ctx, func(list []domain.Account) ([]domain.Account, error) {
		for _, x := range list {
			if x.ID == a.ID {
				return nil, fmt.Errorf("account %s: %w", a.ID, ErrDuplicate)
			}
		}
		return append(list, a), nil
	})
}

// RemoveAccount deletes the account and returns it.
func (r *Registry) RemoveAccount(ctx context.Context, id string) (domain.Account, error) {
	var removed domain.Account
	err := r.mutateAccounts(ctx, func(list []domain.Account) ([]domain.Account, error) {
		for i, x := range list {
			if x.ID == id {
				removed = x
				return append(list[:i], list[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	})
	return removed, err
}

// AddChannel appends a new guild. ErrDuplicate if the guild exists.
func (r *Registry) AddChannel(ctx context.Context, c domain.Channel) error {
	return r.mutateChannels(ctx, func(list []domain.Channel) ([]domain.Channel, error) {
		for _, x := range list {
			if x.GuildID == c.GuildID {
				return nil, fmt.Errorf("guild %s: %w", c.GuildID, ErrDuplicate)
			}
		}
		return append(list, c), nil
	})
}

// UpdateChannel points the guild at a different channel. It reports
// whether anything changed.
func (r *Registry) UpdateChannel(ctx context.Context, guildID, channelID, channelName string) (bool, error) {
	changed := false
	err := r.mutateChannels(ctx, r.withChannel(guildID, func(c *domain.Channel) bool {
		if c.ChannelID == channelID {
			return false
		}
		c.ChannelID = channelID
		c.ChannelName = channelName
		changed = true
		return true
	}))
	return changed, ignoreUnchanged(err)
}

// RemoveChannel deletes the guild and returns it.
func (r *Registry) RemoveChannel(ctx context.Context, guildID string) (domain.Channel, error) {
	var removed domain.Channel
	err := r.mutateChannels(ctx, func(list []domain.Channel) ([]domain.Channel, error) {
		for i, x := range list {
			if x.GuildID == guildID {
				removed = x
				return append(list[:i], list[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("guild %s: %w", guildID, ErrNotFound)
	})
	return removed, err
}

// Reorder sets the sweep order. guildIDs must name every registered guild
// exactly once. It reports whether the order changed.
func (r *Registry) Reorder(ctx context.Context, guildIDs []string) (bool, error) {
	changed := false
	err := r.mutateChannels(ctx, func(list []domain.Channel) ([]domain.Channel, error) {
		if len(guildIDs) != len(list) {
			return nil, ErrNotPermutation
		}
		byID := make(map[string]domain.Channel, len(list))
		for _, c := range list {
			byID[c.GuildID] = c
		}
		next := make([]domain.Channel, 0, len(list))
		for i, id := range guildIDs {
			c, ok := byID[id]
			if !ok {
				return nil, ErrNotPermutation
			}
			delete(byID, id)
			if list[i].GuildID != id {
				changed = true
			}
			next = append(next, c)
		}
		if !changed {
			return nil, errUnchanged
		}
		return next, nil
	})
	return changed, ignoreUnchanged(err)
}
