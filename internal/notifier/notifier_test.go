package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"autobump/internal/domain"
	"autobump/internal/eventbus"
	kit "autobump/internal/transport"
	logx "autobump/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeSender struct {
	mu    sync.Mutex
	fails int
	calls int
	out   []sent
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram down")
	}
	f.out = append(f.out, sent{to: to, text: text})
	return nil
}

func (f *fakeSender) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	return Config{
		Enabled:    true,
		Targets:    []kit.ChatTarget{{ChatID: 1}, {ChatID: 2, ThreadID: 7}},
		RatePerSec: 1000,
		RetryMax:   2,
		RetryBase:  time.Millisecond,
	}
}

type snapshot struct {
	accounts []domain.Account
	channels []domain.Channel
}

func (s snapshot) Accounts() []domain.Account { return s.accounts }
func (s snapshot) Channels() []domain.Channel { return s.channels }

func TestFormatAttempt(t *testing.T) {
	cases := []struct {
		in   eventbus.BumpAttempt
		want string
	}{
		{eventbus.BumpAttempt{GuildName: "Cafe", AccountName: "alice", Result: eventbus.ResultSuccess, DelayMinutes: 120}, "Bumped Cafe with alice. Next bump in 120 min."},
		{eventbus.BumpAttempt{GuildID: "42", AccountID: "9", Result: eventbus.ResultCooldown, DelayMinutes: 17}, "42 is on cooldown for 17 min (tried with 9)."},
		{eventbus.BumpAttempt{GuildName: "Cafe", ChannelName: "bump", AccountName: "alice", Result: eventbus.ResultCommandNotFound}, "not available in Cafe #bump for alice"},
		{eventbus.BumpAttempt{AccountName: "bob", Result: eventbus.ResultConnectFailed, Error: "timeout"}, "bob could not connect: timeout"},
	}
	for _, tc := range cases {
		if got := FormatAttempt(tc.in); !strings.Contains(got, tc.want) {
			t.Fatalf("FormatAttempt(%s) = %q, want it to contain %q", tc.in.Result, got, tc.want)
		}
	}
}

func TestAttemptEventsReachEveryTarget(t *testing.T) {
	bus := eventbus.New()
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	// cooldown is not in the default NotifyOn set
	bus.Publish(eventbus.Event{Type: eventbus.TypeBumpAttempt, Data: eventbus.BumpAttempt{GuildName: "Cafe", Result: eventbus.ResultCooldown}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeBumpAttempt, Data: eventbus.BumpAttempt{GuildName: "Cafe", AccountName: "alice", Result: eventbus.ResultSuccess, DelayMinutes: 120}})

	waitFor(t, "two deliveries", func() bool { return len(snd.sent()) == 2 })
	got := snd.sent()
	if got[0].to.ChatID != 1 || got[1].to.ChatID != 2 || got[1].to.ThreadID != 7 {
		t.Fatalf("targets = %+v", got)
	}
	for _, m := range got {
		if !strings.Contains(m.text, "Bumped Cafe") {
			t.Fatalf("text = %q, want the success message", m.text)
		}
	}
	waitFor(t, "history", func() bool { return len(s.Snapshot()) == 2 })
}

func TestNotifyDedupWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Targets = cfg.Targets[:1]
	cfg.DedupWindow = time.Minute
	snd := &fakeSender{}
	s := New(cfg, snd, logx.Nop(), nil, nil)
	s.Start(context.Background())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Notify(ctx, "same failure"); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if err := s.Notify(ctx, "other"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	s.Stop(ctx)

	got := snd.sent()
	if len(got) != 2 || got[0].text != "same failure" || got[1].text != "other" {
		t.Fatalf("sent = %+v, want one of each text", got)
	}
}

func TestNotifyRetriesThenDelivers(t *testing.T) {
	cfg := testConfig()
	cfg.Targets = cfg.Targets[:1]
	snd := &fakeSender{fails: 2}
	s := New(cfg, snd, logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	s.Stop(context.Background())

	if len(snd.sent()) != 1 || snd.calls != 3 {
		t.Fatalf("calls = %d sent = %d, want 3 calls and 1 delivery", snd.calls, len(snd.sent()))
	}
}

func TestNotifyRetryGivesUp(t *testing.T) {
	cfg := testConfig()
	cfg.Targets = cfg.Targets[:1]
	cfg.RetryMax = 1
	snd := &fakeSender{fails: 10}
	s := New(cfg, snd, logx.Nop(), nil, nil)
	s.Start(context.Background())
	_ = s.Notify(context.Background(), "hello")
	s.Stop(context.Background())

	if snd.calls != 2 || len(snd.sent()) != 0 {
		t.Fatalf("calls = %d sent = %d, want 2 calls and nothing delivered", snd.calls, len(snd.sent()))
	}
}

func TestNotifyLifecycleErrors(t *testing.T) {
	ctx := context.Background()

	off := New(Config{}, &fakeSender{}, logx.Nop(), nil, nil)
	if err := off.Notify(ctx, "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify = %v, want ErrDisabled", err)
	}

	s := New(testConfig(), &fakeSender{}, logx.Nop(), nil, nil)
	if err := s.Notify(ctx, "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted Notify = %v, want ErrStopped", err)
	}
	s.Start(ctx)
	s.Stop(ctx)
	if err := s.Notify(ctx, "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped Notify = %v, want ErrStopped", err)
	}
}

func TestDigest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	snap := snapshot{
		accounts: []domain.Account{{ID: "1", Name: "alice"}, {ID: "2", NextBump: now.Add(30 * time.Minute).Unix()}},
		channels: []domain.Channel{{GuildID: "42", GuildName: "Cafe", NextBump: now.Add(90 * time.Minute).Unix()}},
	}
	s := New(testConfig(), &fakeSender{}, logx.Nop(), nil, snap)

	ctx := context.Background()
	s.handleEvent(ctx, eventbus.Event{Data: eventbus.BumpAttempt{Result: eventbus.ResultCooldown}})
	s.handleEvent(ctx, eventbus.Event{Data: eventbus.BumpAttempt{Result: eventbus.ResultCooldown}})
	s.handleEvent(ctx, eventbus.Event{Data: eventbus.BumpAttempt{Result: eventbus.ResultSuccess}})

	got := s.Digest(now)
	for _, want := range []string{"Servers (1)", "Cafe: ready in 90 min", "alice: ready", "2: ready in 30 min", "cooldown: 2", "success: 1"} {
		if !strings.Contains(got, want) {
			t.Fatalf("digest missing %q:\n%s", want, got)
		}
	}
	if again := s.Digest(now); !strings.Contains(again, "No attempts since the last digest.") {
		t.Fatalf("tally not reset:\n%s", again)
	}
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"", "0 9 * * *", "30 0 9 * * *", "@daily"} {
		if err := ParseSchedule(spec); err != nil {
			t.Fatalf("ParseSchedule(%q) = %v", spec, err)
		}
	}
	if err := ParseSchedule("every day"); err == nil {
		t.Fatalf("ParseSchedule accepted garbage")
	}
}
