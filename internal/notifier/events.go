package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"autobump/internal/domain"
	"autobump/internal/eventbus"
	logx "autobump/pkg/logx"
)

func (s *Service) handleEvent(ctx context.Context, e eventbus.Event) {
	var text string
	switch d := e.Data.(type) {
	case eventbus.BumpAttempt:
		s.tmu.Lock()
		s.tally[d.Result]++
		s.tmu.Unlock()

		s.mu.Lock()
		want := s.notifyOn[d.Result]
		s.mu.Unlock()
		if !want {
			return
		}
		text = FormatAttempt(d)
	case eventbus.ModeChanged:
		text = fmt.Sprintf("⚙️ Scheduler: %s → %s", d.From, d.To)
	default:
		return
	}
	if err := s.Notify(ctx, text); err != nil && !errors.Is(err, ErrStopped) {
		s.log.Warn("notification not queued", logx.Err(err))
	}
}

// FormatAttempt renders one attempt for operators.
func FormatAttempt(a eventbus.BumpAttempt) string {
	guild := orID(a.GuildName, a.GuildID)
	account := orID(a.AccountName, a.AccountID)
	switch a.Result {
	case eventbus.ResultSuccess:
		return fmt.Sprintf("✅ Bumped %s with %s. Next bump in %d min.", guild, account, a.DelayMinutes)
	case eventbus.ResultCooldown:
		return fmt.Sprintf("⏳ %s is on cooldown for %d min (tried with %s).", guild, a.DelayMinutes, account)
	case eventbus.ResultCommandNotFound:
		return fmt.Sprintf("🚨 /bump is not available in %s #%s for %s.", guild, a.ChannelName, account)
	case eventbus.ResultUnknown:
		return fmt.Sprintf("⚠️ Could not read the DISBOARD reply in %s (account %s).", guild, account)
	case eventbus.ResultNoResponse:
		return fmt.Sprintf("⚠️ No DISBOARD reply in %s (account %s).", guild, account)
	case eventbus.ResultConnectFailed:
		return fmt.Sprintf("⚠️ %s could not connect: %s", account, a.Error)
	default:
		return fmt.Sprintf("⚠️ Bump of %s with %s failed: %s", guild, account, a.Error)
	}
}

func orID(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

// Digest summarises cooldowns and resets the attempt tally.
func (s *Service) Digest(now time.Time) string {
	var b strings.Builder
	b.WriteString("📋 Bump digest\n")

	if s.snap != nil {
		channels := s.snap.Channels()
		fmt.Fprintf(&b, "\nServers (%d):\n", len(channels))
		for _, c := range channels {
			fmt.Fprintf(&b, "• %s: %s\n", orID(c.GuildName, c.GuildID), domain.StatusText(c.NextBump, now))
		}
		accounts := s.snap.Accounts()
		fmt.Fprintf(&b, "\nAccounts (%d):\n", len(accounts))
		for _, a := range accounts {
			fmt.Fprintf(&b, "• %s: %s\n", orID(a.Name, a.ID), domain.StatusText(a.NextBump, now))
		}
	}

	s.tmu.Lock()
	tally := s.tally
	s.tally = map[eventbus.AttemptResult]int{}
	s.tmu.Unlock()

	if len(tally) == 0 {
		b.WriteString("\nNo attempts since the last digest.")
		return b.String()
	}
	keys := make([]string, 0, len(tally))
	for r := range tally {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)
	b.WriteString("\nSince the last digest:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "• %s: %d\n", k, tally[eventbus.AttemptResult(k)])
	}
	return strings.TrimRight(b.String(), "\n")
}
