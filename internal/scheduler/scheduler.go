// Package scheduler runs the bump loop: sweep every eligible channel with
// every eligible account, apply the outcome to the cooldowns, sleep, repeat.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"autobump/internal/clock"
	"autobump/internal/connection"
	"autobump/internal/disboard"
	"autobump/internal/domain"
	"autobump/internal/eventbus"
	"autobump/internal/gateway"
	"autobump/internal/registry"
	logx "autobump/pkg/logx"
)

// Operator runs the Configuring mode. Configure returns the event that ends
// the session: EventResume, EventExit, or EventInterrupt if interrupts fired
// while it waited for input.
type Operator interface {
	Configure(ctx context.Context, interrupts <-chan struct{}) Event
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }
func WithOperator(op Operator) Option { return func(s *Scheduler) { s.op = op } }
func WithBus(bus eventbus.Bus) Option { return func(s *Scheduler) { s.bus = bus } }
func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }
func WithConfig(cfg Config) Option { return func(s *Scheduler) { s.cfg = cfg.withDefaults() } }

// Scheduler is driven by Run on one goroutine; Interrupt, Apply and State
// are safe from any goroutine.
type Scheduler struct {
	reg    *registry.Registry
	dialer gateway.Dialer
	op     Operator
	bus    eventbus.Bus
	log    logx.Logger
	clock  clock.Clock

	mu  sync.RWMutex
	cfg Config

	interrupts chan struct{}
	state      atomic.Int32
}

func New(reg *registry.Registry, dialer gateway.Dialer, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:        reg,
		dialer:     dialer,
		bus:        eventbus.Nop(),
		clock:      clock.Real(),
		cfg:        DefaultConfig(),
		interrupts: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))
	return s
}

// Apply swaps the timings; the next sweep uses them.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Scheduler) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Interrupt requests a mode change. Repeated calls before the scheduler
// observes one collapse into one.
func (s *Scheduler) Interrupt() {
	select {
	case s.interrupts <- struct{}{}:
	default:
	}
}

// State is the current mode, or 0 before Run.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) interrupted() bool {
	select {
	case <-s.interrupts:
		return true
	default:
		return false
	}
}

// Run loops until Exiting. A cancelled context counts as EventExit.
func (s *Scheduler) Run(ctx context.Context) error {
	state := Configuring
	if len(s.reg.Accounts()) > 0 && len(s.reg.Channels()) > 0 {
		state = Bumping
	} else {
		s.log.Warn("no accounts or channels registered, entering configuration mode")
	}
	s.state.Store(int32(state))
	s.log.Info("scheduler started", logx.String("state", state.String()))

	for state != Exiting {
		var ev Event
		switch {
		case ctx.Err() != nil:
			ev = EventExit
		case s.interrupted():
			ev = EventInterrupt
		case state == Bumping:
			ev = s.bumping(ctx)
		case state == Configuring:
			ev = s.configuring(ctx)
		}
		if ev == 0 {
			continue
		}
		next := Transition(state, ev)
		if next != state {
			s.log.Info("mode changed", logx.String("from", state.String()), logx.String("to", next.String()), logx.String("event", ev.String()))
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeModeChanged,
				Time: s.clock.Now(),
				Data: eventbus.ModeChanged{From: state.String(), To: next.String()},
			})
		}
		state = next
		s.state.Store(int32(state))
	}
	s.log.Info("scheduler stopped")
	return nil
}

// bumping runs one sweep and the poll sleep. It returns the event that cut
// it short, or 0.
func (s *Scheduler) bumping(ctx context.Context) Event {
	cfg := s.config()
	if ev := s.sweep(ctx, cfg); ev != 0 {
		return ev
	}
	return s.sleep(ctx, cfg.PollInterval, time.Second)
}

func (s *Scheduler) configuring(ctx context.Context) Event {
	if s.op == nil {
		// Headless: nothing to configure with, wait for a signal.
		select {
		case <-s.interrupts:
			return EventInterrupt
		case <-ctx.Done():
			return EventExit
		}
	}
	return s.op.Configure(ctx, s.interrupts)
}

// sleep waits d in steps, checking for interrupts before each step.
func (s *Scheduler) sleep(ctx context.Context, d, step time.Duration) Event {
	for d > 0 {
		if s.interrupted() {
			return EventInterrupt
		}
		chunk := d
		if step > 0 && chunk > step {
			chunk = step
		}
		select {
		case <-s.interrupts:
			return EventInterrupt
		case <-ctx.Done():
			return EventExit
		case <-s.clock.After(chunk):
		}
		d -= chunk
	}
	if s.interrupted() {
		return EventInterrupt
	}
	return 0
}

func (s *Scheduler) sweep(ctx context.Context, cfg Config) Event {
	for _, ch := range s.reg.Channels() {
		if ctx.Err() != nil {
			return EventExit
		}
		if s.interrupted() {
			return EventInterrupt
		}
		if !ch.Eligible(s.clock.Now()) {
			continue
		}
		s.log.Info("channel is bumpable, looking for an account", logx.String("guild", ch.GuildName), logx.String("guild_id", ch.GuildID))

		for _, acc := range s.reg.Accounts() {
			// Re-read: an earlier channel in this sweep may have put it on cooldown.
			cur, ok := s.reg.Account(acc.ID)
			if ok && cur.Eligible(s.clock.Now()) {
				if s.attempt(ctx, cfg, ch, cur) {
					break
				}
			}
			if ev := s.sleep(ctx, cfg.CourtesyDelay, 0); ev != 0 {
				return ev
			}
		}
	}
	return 0
}

// attempt runs one account against one channel and reports whether the
// channel was bumped.
func (s *Scheduler) attempt(ctx context.Context, cfg Config, ch domain.Channel, acc domain.Account) bool {
	rec := eventbus.BumpAttempt{
		AttemptID:   uuid.NewString(),
		GuildID:     ch.GuildID,
		GuildName:   ch.GuildName,
		ChannelName: ch.ChannelName,
		AccountID:   acc.ID,
		AccountName: acc.Name,
	}
	log := s.log.With(
		logx.String("attempt_id", rec.AttemptID),
		logx.String("guild_id", ch.GuildID),
		logx.String("account_id", acc.ID),
	)
	defer func() {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeBumpAttempt, Time: s.clock.Now(), Data: rec})
	}()

	log.Info("trying to bump", logx.String("account", acc.Name), logx.String("guild", ch.GuildName))
	conn := connection.New(s.dialer, connection.WithLogger(s.log), connection.WithClock(s.clock))
	if err := conn.Connect(ctx, acc.Token, cfg.ConnectTimeout); err != nil {
		log.Warn("connect failed", logx.Err(err))
		rec.Result = eventbus.ResultConnectFailed
		rec.Error = err.Error()
		return false
	}

	s.refreshNames(ctx, cfg, conn, &rec, log)

	if err := conn.InvokeBump(ctx, ch.ChannelID); err != nil {
		_ = conn.Disconnect(cfg.DisconnectTimeout)
		rec.Error = err.Error()
		if errors.Is(err, connection.ErrCommandNotFound) {
			log.Error("bump command not found", logx.String("channel_id", ch.ChannelID), logx.String("application_id", disboard.ApplicationID))
			rec.Result = eventbus.ResultCommandNotFound
		} else {
			log.Warn("bump invocation failed", logx.Err(err))
			rec.Result = eventbus.ResultInvokeFailed
		}
		return false
	}

	out, err := conn.AwaitOutcome(ctx, cfg.ResponseTimeout)
	_ = conn.Disconnect(cfg.DisconnectTimeout)
	if err != nil {
		log.Error("no result received", logx.Err(err))
		rec.Result = eventbus.ResultNoResponse
		rec.Error = err.Error()
		return false
	}
	if !out.Known() {
		log.Warn("bump reply not understood, leaving cooldowns unchanged", logx.Err(disboard.ErrClassificationUnknown))
		rec.Result = eventbus.ResultUnknown
		rec.Error = disboard.ErrClassificationUnknown.Error()
		return false
	}

	now := s.clock.Now()
	if err := s.reg.SetChannelCooldown(ctx, ch.GuildID, domain.CooldownFrom(now, time.Duration(out.NextDelayMinutes)*time.Minute)); err != nil {
		log.Error("could not store channel cooldown, abandoning attempt", logx.Err(err))
		rec.Result = eventbus.ResultInvokeFailed
		rec.Error = err.Error()
		return false
	}
	rec.DelayMinutes = out.NextDelayMinutes

	if !out.Success {
		log.Info("bump refused, channel on cooldown", logx.Int("minutes", out.NextDelayMinutes))
		rec.Result = eventbus.ResultCooldown
		return false
	}

	log.Info("channel bumped", logx.Int("next_bump_min", out.NextDelayMinutes))
	rec.Result = eventbus.ResultSuccess
	if err := s.reg.SetAccountCooldown(ctx, acc.ID, domain.CooldownFrom(now, cfg.AccountCooldown)); err != nil {
		log.Error("could not store account cooldown", logx.Err(err))
		rec.Error = err.Error()
	}
	return true
}

// refreshNames updates cached display names. Failures are only logged.
func (s *Scheduler) refreshNames(ctx context.Context, cfg Config, conn *connection.Service, rec *eventbus.BumpAttempt, log logx.Logger) {
	lctx, cancel := context.WithTimeout(ctx, cfg.LookupTimeout)
	defer cancel()

	if self, err := conn.Self(); err == nil && self.Name != "" {
		if changed, err := s.reg.UpdateAccountName(lctx, rec.AccountID, self.Name); err != nil {
			log.Error("could not store account name", logx.Err(err))
		} else if changed {
			log.Info("account name updated", logx.String("from", rec.AccountName), logx.String("to", self.Name))
			rec.AccountName = self.Name
		}
	}

	guildName, err := conn.LookupName(lctx, connection.KindGuild, rec.GuildID)
	if err != nil {
		log.Warn("guild name lookup failed", logx.Err(err))
	}
	ch, _ := s.reg.Channel(rec.GuildID)
	channelName, err := conn.LookupName(lctx, connection.KindChannel, ch.ChannelID)
	if err != nil {
		log.Warn("channel name lookup failed", logx.String("channel_id", ch.ChannelID), logx.Err(err))
	}
	changed, err := s.reg.UpdateChannelNames(lctx, rec.GuildID, guildName, channelName)
	if err != nil {
		log.Error("could not store channel names", logx.Err(err))
		return
	}
	if changed {
		if guildName != "" {
			rec.GuildName = guildName
		}
		if channelName != "" {
			rec.ChannelName = channelName
		}
		log.Info("channel names updated", logx.String("guild", rec.GuildName), logx.String("channel", rec.ChannelName))
	}
}
