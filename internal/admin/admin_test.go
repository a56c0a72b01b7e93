package admin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"autobump/internal/clock"
	"autobump/internal/domain"
	"autobump/internal/gateway/gatewaytest"
	"autobump/internal/registry"
	"autobump/internal/scheduler"
	"autobump/internal/storage"
	logx "autobump/pkg/logx"
)

var now = time.Unix(1_700_000_000, 0)

func newManager(t *testing.T, accounts ...domain.Account) (*storage.Memory, *registry.Registry, *gatewaytest.Dialer, *Manager) {
	t.Helper()
	st := storage.NewMemory()
	_ = st.SaveAccounts(context.Background(), accounts)
	st.Saves = 0
	reg := registry.New(st, logx.Nop())
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	d := gatewaytest.NewDialer()
	return st, reg, d, NewManager(reg, d, logx.Nop(), clock.NewStepper(now), Timeouts{})
}

func TestRegisterAccount(t *testing.T) {
	st, reg, d, m := newManager(t)
	d.Add("tok", &gatewaytest.Account{Identity: domain.Identity{ID: "77", Name: "amy"}})

	acc, err := m.RegisterAccount(context.Background(), " tok ")
	if err != nil {
		t.Fatalf("RegisterAccount: %v", err)
	}
	if acc.ID != "77" || acc.Token != "tok" || acc.NextBump != domain.NeverBumped {
		t.Fatalf("unexpected account %+v", acc)
	}
	if len(reg.Accounts()) != 1 || st.Saves != 1 {
		t.Fatalf("account not stored, saves=%d", st.Saves)
	}
	if d.Open() != 0 {
		t.Fatalf("validation session left open")
	}

	again, err := m.RegisterAccount(context.Background(), "tok")
	if !errors.Is(err, registry.ErrDuplicate) || again.ID != "77" {
		t.Fatalf("expected duplicate report, got %+v err=%v", again, err)
	}
	if len(reg.Accounts()) != 1 || st.Saves != 1 {
		t.Fatalf("duplicate must not be stored")
	}
}

func TestRegisterAccountFailedLoginStoresNothing(t *testing.T) {
	st, reg, d, m := newManager(t)
	d.Add("bad", &gatewaytest.Account{DialErr: errors.New("401")})

	if _, err := m.RegisterAccount(context.Background(), "bad"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if _, err := m.RegisterAccount(context.Background(), ""); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed for empty token, got %v", err)
	}
	if len(reg.Accounts()) != 0 || st.Saves != 0 {
		t.Fatalf("failed validation stored something")
	}
}

func TestRegisterChannelTriesAccountsInOrder(t *testing.T) {
	blind := domain.Account{ID: "1", Token: "blind"}
	sees := domain.Account{ID: "2", Token: "sees"}
	_, reg, d, m := newManager(t, blind, sees)
	d.Add("blind", &gatewaytest.Account{Identity: domain.Identity{ID: "1"}})
	d.Add("sees", &gatewaytest.Account{
		Identity: domain.Identity{ID: "2"},
		Guilds:   map[string]string{"500": "Guild"},
		Channels: map[string]string{"600": "bump"},
	})

	ch, err := m.RegisterChannel(context.Background(), "500", "600")
	if err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}
	if ch.GuildName != "Guild" || ch.ChannelName != "bump" || ch.NextBump != domain.NeverBumped {
		t.Fatalf("unexpected channel %+v", ch)
	}
	if dials := d.Dials(); len(dials) != 2 || dials[0] != "blind" || dials[1] != "sees" {
		t.Fatalf("accounts not tried in order: %v", dials)
	}
	if _, ok := reg.Channel("500"); !ok {
		t.Fatalf("channel not stored")
	}
	if _, err := m.RegisterChannel(context.Background(), "500", "600"); !errors.Is(err, registry.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRegisterChannelFailedLookupStoresNothing(t *testing.T) {
	tests := []struct {
		name     string
		accounts []domain.Account
		guild    string
		channel  string
	}{
		{"no accounts", nil, "500", "600"},
		{"guild hidden", []domain.Account{{ID: "1", Token: "t"}}, "999", "600"},
		{"channel hidden", []domain.Account{{ID: "1", Token: "t"}}, "500", "999"},
		{"non numeric", []domain.Account{{ID: "1", Token: "t"}}, "abc", "600"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, reg, d, m := newManager(t, tt.accounts...)
			d.Add("t", &gatewaytest.Account{
				Identity: domain.Identity{ID: "1"},
				Guilds:   map[string]string{"500": "Guild"},
				Channels: map[string]string{"600": "bump"},
			})
			if _, err := m.RegisterChannel(context.Background(), tt.guild, tt.channel); !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("expected ErrValidationFailed, got %v", err)
			}
			if len(reg.Channels()) != 0 || st.Saves != 0 {
				t.Fatalf("failed registration stored something")
			}
		})
	}
}

func TestUpdateChannel(t *testing.T) {
	acc := domain.Account{ID: "1", Token: "t"}
	_, reg, d, m := newManager(t, acc)
	d.Add("t", &gatewaytest.Account{
		Identity: domain.Identity{ID: "1"},
		Guilds:   map[string]string{"500": "Guild"},
		Channels: map[string]string{"600": "bump", "601": "bump-two"},
	})
	ctx := context.Background()
	if _, err := m.RegisterChannel(ctx, "500", "600"); err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}

	changed, err := m.UpdateChannel(ctx, "500", "600")
	if err != nil || changed {
		t.Fatalf("same channel: changed=%v err=%v", changed, err)
	}
	if _, err := m.UpdateChannel(ctx, "500", "777"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	changed, err = m.UpdateChannel(ctx, "500", "601")
	if err != nil || !changed {
		t.Fatalf("UpdateChannel: changed=%v err=%v", changed, err)
	}
	if ch, _ := reg.Channel("500"); ch.ChannelID != "601" || ch.ChannelName != "bump-two" {
		t.Fatalf("unexpected channel %+v", ch)
	}
	if _, err := m.UpdateChannel(ctx, "404", "601"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseOrder(t *testing.T) {
	chs := []domain.Channel{{GuildID: "a"}, {GuildID: "b"}, {GuildID: "c"}}
	ids, err := parseOrder("3, 1,2", chs)
	if err != nil || strings.Join(ids, ",") != "c,a,b" {
		t.Fatalf("parseOrder=%v err=%v", ids, err)
	}
	if _, err := parseOrder("1,4", chs); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestRenderTables(t *testing.T) {
	accs := []domain.Account{{ID: "77", Name: "amy", NextBump: now.Unix() + 45*60}}
	if out := RenderAccounts(accs, now); !strings.Contains(out, "amy") || !strings.Contains(out, "ready in 45 min") {
		t.Fatalf("accounts table:\n%s", out)
	}
	chs := []domain.Channel{{GuildID: "1", GuildName: "Guild", NextBump: domain.NeverBumped}}
	out := RenderChannels(chs, now, false)
	if !strings.Contains(out, domain.NoChannelName) || !strings.Contains(out, "ready") {
		t.Fatalf("channels table:\n%s", out)
	}
	if out := RenderChannels(chs, now, true); !strings.Contains(out, "Index") {
		t.Fatalf("indexed table:\n%s", out)
	}
}

func TestConsoleFlow(t *testing.T) {
	_, reg, d, m := newManager(t)
	d.Add("tok", &gatewaytest.Account{
		Identity: domain.Identity{ID: "77", Name: "amy"},
		Guilds:   map[string]string{"500": "Guild"},
		Channels: map[string]string{"600": "bump"},
	})
	// register account, register channel, list accounts, bad option, resume
	in := strings.NewReader(strings.Join([]string{
		"3", "tok",
		"6", "500", "600",
		"2", "",
		"42",
		"1",
	}, "\n") + "\n")
	var out bytes.Buffer
	c := NewConsole(m, in, &out)

	ev := c.Configure(context.Background(), make(chan struct{}))
	if ev != scheduler.EventResume {
		t.Fatalf("event=%v want resume", ev)
	}
	if len(reg.Accounts()) != 1 || len(reg.Channels()) != 1 {
		t.Fatalf("console actions not applied: %d accounts, %d channels", len(reg.Accounts()), len(reg.Channels()))
	}
	text := out.String()
	for _, want := range []string{"saved", "amy", "Invalid option."} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestConsoleExitAndInterrupt(t *testing.T) {
	_, _, _, m := newManager(t)

	c := NewConsole(m, strings.NewReader("0\n"), &bytes.Buffer{})
	if ev := c.Configure(context.Background(), make(chan struct{})); ev != scheduler.EventExit {
		t.Fatalf("event=%v want exit", ev)
	}

	// Input that never arrives; the interrupt ends the wait.
	block, _ := io.Pipe()
	interrupts := make(chan struct{}, 1)
	interrupts <- struct{}{}
	c = NewConsole(m, block, &bytes.Buffer{})
	if ev := c.Configure(context.Background(), interrupts); ev != scheduler.EventInterrupt {
		t.Fatalf("event=%v want interrupt", ev)
	}
}
