package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"autobump/internal/clock"
	"autobump/internal/disboard"
	"autobump/internal/domain"
	"autobump/internal/gateway"
	"autobump/internal/gateway/gatewaytest"
)

const (
	token     = "tok"
	selfID    = "111"
	guildID   = "123"
	channelID = "456"
)

func newHarness(t *testing.T, reply func(gatewaytest.Invocation) []gateway.Message) (*gatewaytest.Dialer, *Service) {
	t.Helper()
	d := gatewaytest.NewDialer()
	d.Add(token, &gatewaytest.Account{
		Identity: domain.Identity{ID: selfID, Name: "amy"},
		Guilds:   map[string]string{guildID: "Guild"},
		Channels: map[string]string{channelID: "bump-here"},
		Reply:    reply,
	})
	svc := New(d, WithClock(clock.NewStepper(time.Unix(1_700_000_000, 0))))
	if err := svc.Connect(context.Background(), token, 30*time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = svc.Disconnect(time.Second) })
	return d, svc
}

func TestBumpSuccessResolvesOutcome(t *testing.T) {
	d, svc := newHarness(t, func(inv gatewaytest.Invocation) []gateway.Message {
		return []gateway.Message{gatewaytest.BumpReply(inv, guildID, gatewaytest.SuccessText(guildID))}
	})

	if err := svc.InvokeBump(context.Background(), channelID); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	out, err := svc.AwaitOutcome(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !out.Success || out.NextDelayMinutes != disboard.BumpIntervalMinutes {
		t.Fatalf("unexpected outcome %+v", out)
	}
	invs := d.Invocations()
	if len(invs) != 1 || invs[0].Command.ApplicationID != disboard.ApplicationID {
		t.Fatalf("expected the DISBOARD command to be invoked, got %+v", invs)
	}
}

func TestCorrelationIgnoresForeignMessages(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *gateway.Message)
	}{
		{"wrong channel", func(m *gateway.Message) { m.ChannelID = "999" }},
		{"wrong author", func(m *gateway.Message) { m.AuthorID = "42" }},
		{"no interaction", func(m *gateway.Message) { m.Interaction = nil }},
		{"wrong command", func(m *gateway.Message) { m.Interaction.Name = "ping" }},
		{"wrong user", func(m *gateway.Message) { m.Interaction.UserID = "222" }},
		{"no embeds", func(m *gateway.Message) { m.Embeds = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc := newHarness(t, func(inv gatewaytest.Invocation) []gateway.Message {
				m := gatewaytest.BumpReply(inv, guildID, gatewaytest.SuccessText(guildID))
				tt.mutate(&m)
				return []gateway.Message{m}
			})
			if err := svc.InvokeBump(context.Background(), channelID); err != nil {
				t.Fatalf("invoke: %v", err)
			}
			_, err := svc.AwaitOutcome(context.Background(), 5*time.Second)
			if !errors.Is(err, ErrResponseTimeout) {
				t.Fatalf("expected ErrResponseTimeout, got %v", err)
			}
		})
	}
}

func TestFirstQualifyingMessageWins(t *testing.T) {
	_, svc := newHarness(t, func(inv gatewaytest.Invocation) []gateway.Message {
		return []gateway.Message{
			gatewaytest.BumpReply(inv, guildID, "Please wait another 45 minutes until the server can be bumped"),
			gatewaytest.BumpReply(inv, guildID, gatewaytest.SuccessText(guildID)),
		}
	})
	if err := svc.InvokeBump(context.Background(), channelID); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	out, err := svc.AwaitOutcome(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.Success || out.NextDelayMinutes != 45 {
		t.Fatalf("expected first reply (45 minutes), got %+v", out)
	}
}

func TestLateReplyAfterAwaitIsIgnored(t *testing.T) {
	_, svc := newHarness(t, nil)
	if err := svc.InvokeBump(context.Background(), channelID); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if _, err := svc.AwaitOutcome(context.Background(), time.Second); !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	svc.handleMessage(gatewaytest.BumpReply(gatewaytest.Invocation{ChannelID: channelID, Self: domain.Identity{ID: selfID}}, guildID, gatewaytest.SuccessText(guildID)))
	if _, err := svc.AwaitOutcome(context.Background(), time.Second); !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("disarmed service must not resolve, got %v", err)
	}
}

func TestCommandNotFound(t *testing.T) {
	d := gatewaytest.NewDialer()
	d.Add(token, &gatewaytest.Account{
		Identity:      domain.Identity{ID: selfID},
		Channels:      map[string]string{channelID: "c"},
		NoBumpCommand: true,
	})
	svc := New(d, WithClock(clock.NewStepper(time.Unix(0, 0))))
	if err := svc.Connect(context.Background(), token, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Disconnect(time.Second)

	if err := svc.InvokeBump(context.Background(), channelID); !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound, got %v", err)
	}
	if len(d.Invocations()) != 0 {
		t.Fatalf("nothing should be invoked")
	}
	if svc.State() != Ready {
		t.Fatalf("state=%v want ready", svc.State())
	}
}

func TestConnectTimeoutAndDialError(t *testing.T) {
	d := gatewaytest.NewDialer()
	d.Add("slow", &gatewaytest.Account{NeverReady: true})
	d.Add("bad", &gatewaytest.Account{DialErr: errors.New("401 unauthorized")})
	svc := New(d, WithClock(clock.NewStepper(time.Unix(0, 0))))

	if err := svc.Connect(context.Background(), "slow", 30*time.Second); !errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("expected ErrConnectionTimeout, got %v", err)
	}
	if d.Open() != 0 {
		t.Fatalf("timed out session must be closed, open=%d", d.Open())
	}
	if err := svc.Connect(context.Background(), "bad", 30*time.Second); err == nil || errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("expected wrapped dial error, got %v", err)
	}
	if svc.State() != Disconnected {
		t.Fatalf("state=%v want disconnected", svc.State())
	}
}

func TestSessionLossResolvesClosed(t *testing.T) {
	d, svc := newHarness(t, nil)
	if err := svc.InvokeBump(context.Background(), channelID); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	d.Last().Drop()

	_, err := svc.AwaitOutcome(context.Background(), time.Hour)
	if !errors.Is(err, ErrConnectionClosed) && !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected no-result error, got %v", err)
	}
	// The watcher marks the service closed; later calls fail.
	deadline := time.Now().Add(2 * time.Second)
	for svc.State() != Disconnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := svc.InvokeBump(context.Background(), channelID); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed after loss, got %v", err)
	}
}

func TestLookupAndDisconnect(t *testing.T) {
	d, svc := newHarness(t, nil)
	ctx := context.Background()

	if n, err := svc.LookupName(ctx, KindGuild, guildID); err != nil || n != "Guild" {
		t.Fatalf("guild lookup=%q err=%v", n, err)
	}
	if n, err := svc.LookupName(ctx, KindChannel, channelID); err != nil || n != "bump-here" {
		t.Fatalf("channel lookup=%q err=%v", n, err)
	}
	if n, err := svc.LookupName(ctx, KindAccount, selfID); err != nil || n != "amy" {
		t.Fatalf("account lookup=%q err=%v", n, err)
	}
	if _, err := svc.LookupName(ctx, KindGuild, "nope"); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if id, err := svc.Self(); err != nil || id.ID != selfID {
		t.Fatalf("Self=%+v err=%v", id, err)
	}

	if err := svc.Disconnect(time.Second); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if d.Open() != 0 || svc.State() != Disconnected {
		t.Fatalf("expected closed session, open=%d state=%v", d.Open(), svc.State())
	}
	if _, err := svc.Self(); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	// Reconnect on the same instance works after a clean disconnect.
	if err := svc.Connect(ctx, token, time.Second); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
}
