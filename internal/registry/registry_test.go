package registry

import (
	"context"
	"errors"
	"testing"

	"autobump/internal/domain"
	"autobump/internal/storage"
	logx "autobump/pkg/logx"
)

func seeded(t *testing.T) (*storage.Memory, *Registry) {
	t.Helper()
	st := storage.NewMemory()
	ctx := context.Background()
	_ = st.SaveAccounts(ctx, []domain.Account{
		{ID: "2", Token: "b", Name: "bee", NextBump: domain.NeverBumped},
		{ID: "1", Token: "a", Name: "ay", NextBump: domain.NeverBumped},
	})
	_ = st.SaveChannels(ctx, []domain.Channel{
		{GuildID: "g1", GuildName: "One", ChannelID: "c1", ChannelName: "bump", NextBump: domain.NeverBumped},
		{GuildID: "g2", GuildName: "Two", ChannelID: "c2", ChannelName: "bump", NextBump: domain.NeverBumped},
		{GuildID: "g3", GuildName: "Three", ChannelID: "c3", ChannelName: "bump", NextBump: domain.NeverBumped},
	})
	st.Saves = 0
	r := New(st, logx.Nop())
	if err := r.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	return st, r
}

func TestMutationsPersist(t *testing.T) {
	st, r := seeded(t)
	ctx := context.Background()

	if err := r.SetChannelCooldown(ctx, "g2", 500); err != nil {
		t.Fatalf("SetChannelCooldown: %v", err)
	}
	if err := r.SetAccountCooldown(ctx, "1", 900); err != nil {
		t.Fatalf("SetAccountCooldown: %v", err)
	}
	chs, _ := st.LoadChannels(ctx)
	if chs[1].NextBump != 500 {
		t.Fatalf("channel cooldown not persisted: %+v", chs)
	}
	accs, _ := st.LoadAccounts(ctx)
	if accs[1].NextBump != 900 || accs[0].ID != "2" {
		t.Fatalf("account cooldown not persisted in order: %+v", accs)
	}
	if st.Saves != 2 {
		t.Fatalf("saves=%d want 2", st.Saves)
	}
}

func TestUnchangedNamesDoNotSave(t *testing.T) {
	st, r := seeded(t)
	ctx := context.Background()

	changed, err := r.UpdateAccountName(ctx, "1", "ay")
	if err != nil || changed {
		t.Fatalf("same name: changed=%v err=%v", changed, err)
	}
	changed, err = r.UpdateChannelNames(ctx, "g1", "", "")
	if err != nil || changed {
		t.Fatalf("empty names: changed=%v err=%v", changed, err)
	}
	if st.Saves != 0 {
		t.Fatalf("unexpected saves=%d", st.Saves)
	}
	changed, err = r.UpdateChannelNames(ctx, "g1", "One!", "")
	if err != nil || !changed {
		t.Fatalf("rename: changed=%v err=%v", changed, err)
	}
	if c, _ := r.Channel("g1"); c.GuildName != "One!" || c.ChannelName != "bump" {
		t.Fatalf("unexpected channel %+v", c)
	}
}

func TestSaveFailureRollsBack(t *testing.T) {
	st, r := seeded(t)
	st.FailSaves = errors.New("disk full")

	if err := r.SetChannelCooldown(context.Background(), "g1", 42); err == nil {
		t.Fatalf("expected save error")
	}
	if c, _ := r.Channel("g1"); c.NextBump != domain.NeverBumped {
		t.Fatalf("in-memory state changed despite failed save: %+v", c)
	}
}

func TestAddRemoveAndDuplicates(t *testing.T) {
	_, r := seeded(t)
	ctx := context.Background()

	if err := r.AddAccount(ctx, domain.Account{ID: "1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := r.AddChannel(ctx, domain.Channel{GuildID: "g3"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := r.AddAccount(ctx, domain.Account{ID: "0", Token: "z"}); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if accs := r.Accounts(); accs[len(accs)-1].ID != "0" {
		t.Fatalf("new account must be appended, got %+v", accs)
	}
	if _, err := r.RemoveAccount(ctx, "2"); err != nil {
		t.Fatalf("RemoveAccount: %v", err)
	}
	if _, err := r.RemoveChannel(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	removed, err := r.RemoveChannel(ctx, "g2")
	if err != nil || removed.GuildName != "Two" {
		t.Fatalf("RemoveChannel=%+v err=%v", removed, err)
	}
	if len(r.Channels()) != 2 {
		t.Fatalf("channels=%d want 2", len(r.Channels()))
	}
}

func TestUpdateChannel(t *testing.T) {
	st, r := seeded(t)
	ctx := context.Background()

	changed, err := r.UpdateChannel(ctx, "g1", "c1", "bump")
	if err != nil || changed || st.Saves != 0 {
		t.Fatalf("same channel: changed=%v err=%v saves=%d", changed, err, st.Saves)
	}
	changed, err = r.UpdateChannel(ctx, "g1", "c9", "new-home")
	if err != nil || !changed {
		t.Fatalf("UpdateChannel: changed=%v err=%v", changed, err)
	}
	if c, _ := r.Channel("g1"); c.ChannelID != "c9" || c.ChannelName != "new-home" {
		t.Fatalf("unexpected channel %+v", c)
	}
	if _, err := r.UpdateChannel(ctx, "nope", "c", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReorderRequiresPermutation(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{"too short", []string{"g1", "g2"}},
		{"unknown id", []string{"g1", "g2", "g9"}},
		{"duplicate", []string{"g1", "g1", "g2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, r := seeded(t)
			if _, err := r.Reorder(context.Background(), tt.order); !errors.Is(err, ErrNotPermutation) {
				t.Fatalf("expected ErrNotPermutation, got %v", err)
			}
			if st.Saves != 0 {
				t.Fatalf("rejected reorder must not save")
			}
		})
	}

	st, r := seeded(t)
	changed, err := r.Reorder(context.Background(), []string{"g3", "g1", "g2"})
	if err != nil || !changed {
		t.Fatalf("Reorder: changed=%v err=%v", changed, err)
	}
	chs, _ := st.LoadChannels(context.Background())
	if chs[0].GuildID != "g3" || chs[1].GuildID != "g1" || chs[2].GuildID != "g2" {
		t.Fatalf("order not persisted: %+v", chs)
	}
	changed, err = r.Reorder(context.Background(), []string{"g3", "g1", "g2"})
	if err != nil || changed {
		t.Fatalf("same order: changed=%v err=%v", changed, err)
	}
}

type corruptStore struct{ *storage.Memory }

func (corruptStore) LoadChannels(context.Context) ([]domain.Channel, error) {
	return []domain.Channel{}, storage.ErrPersistenceCorrupt
}

func TestLoadCorruptStartsEmpty(t *testing.T) {
	r := New(corruptStore{storage.NewMemory()}, logx.Nop())
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("corrupt collection must not fail Load: %v", err)
	}
	if len(r.Channels()) != 0 {
		t.Fatalf("expected empty channels")
	}
}
