package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"autobump/internal/eventbus"
	"autobump/internal/notifier"
	"autobump/internal/scheduler"
	"autobump/internal/storage"
	kit "autobump/internal/transport"
	logx "autobump/pkg/logx"
)

var knownResults = map[eventbus.AttemptResult]bool{
	eventbus.ResultSuccess:         true,
	eventbus.ResultCooldown:        true,
	eventbus.ResultUnknown:         true,
	eventbus.ResultNoResponse:      true,
	eventbus.ResultConnectFailed:   true,
	eventbus.ResultCommandNotFound: true,
	eventbus.ResultInvokeFailed:    true,
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Data.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "memory":
	default:
		errs = append(errs, fmt.Errorf("data.driver: unknown driver %q", cfg.Data.Driver))
	}
	if _, err := cfg.StoreConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.SchedulerConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("telegram.timeout", cfg.Telegram.Timeout); err != nil {
		errs = append(errs, err)
	}

	hasToken := strings.TrimSpace(cfg.Telegram.Token) != ""
	if cfg.Logging.Telegram.Enabled && (!hasToken || cfg.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("logging.telegram: requires telegram.token and telegram.chat_id"))
	}
	if cfg.Notifier.Enabled {
		if !hasToken {
			errs = append(errs, errors.New("notifier: requires telegram.token"))
		}
		if len(cfg.Notifier.Targets) == 0 && cfg.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("notifier: no targets and telegram.chat_id is not set"))
		}
	}
	for i, t := range cfg.Notifier.Targets {
		if t.ChatID == 0 {
			errs = append(errs, fmt.Errorf("notifier.targets[%d]: chat_id is required", i))
		}
	}
	for _, r := range cfg.Notifier.NotifyOn {
		if !knownResults[eventbus.AttemptResult(r)] {
			errs = append(errs, fmt.Errorf("notifier.notify_on: unknown result %q", r))
		}
	}
	if err := notifier.ParseSchedule(cfg.Notifier.DigestSchedule); err != nil {
		errs = append(errs, fmt.Errorf("notifier.digest_schedule: %w", err))
	}
	if tz := strings.TrimSpace(cfg.Notifier.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("notifier.timezone: %w", err))
		}
	}
	if _, err := cfg.NotifierConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			Target:     kit.ChatTarget{ChatID: c.Telegram.ChatID, ThreadID: c.Logging.Telegram.ThreadID},
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

func (c *Config) StoreConfig() (storage.Config, error) {
	bt, err := ParseDurationField("data.busy_timeout", c.Data.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Data.Driver, Path: c.Data.Path, BusyTimeout: bt}, nil
}

func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	d := scheduler.DefaultConfig()
	b := c.Bump
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"bump.poll_interval", b.PollInterval, d.PollInterval, &d.PollInterval},
		{"bump.courtesy_delay", b.CourtesyDelay, d.CourtesyDelay, &d.CourtesyDelay},
		{"bump.account_cooldown", b.AccountCooldown, d.AccountCooldown, &d.AccountCooldown},
		{"bump.connect_timeout", b.ConnectTimeout, d.ConnectTimeout, &d.ConnectTimeout},
		{"bump.response_timeout", b.ResponseTimeout, d.ResponseTimeout, &d.ResponseTimeout},
		{"bump.disconnect_timeout", b.DisconnectTimeout, d.DisconnectTimeout, &d.DisconnectTimeout},
		{"bump.lookup_timeout", b.LookupTimeout, d.LookupTimeout, &d.LookupTimeout},
	}
	for _, f := range fields {
		v, err := ParseDurationOrDefault(f.path, f.raw, f.def)
		if err != nil {
			return scheduler.Config{}, err
		}
		*f.dst = v
	}
	return d, nil
}

func (c *Config) TelegramTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.timeout", c.Telegram.Timeout, 10*time.Second)
	return d
}

func (c *Config) NotifierConfig() (notifier.Config, error) {
	n := c.Notifier
	out := notifier.Config{
		Enabled:        n.Enabled,
		QueueSize:      n.QueueSize,
		RatePerSec:     n.RatePerSec,
		RetryMax:       n.RetryMax,
		DigestSchedule: strings.TrimSpace(n.DigestSchedule),
		Timezone:       strings.TrimSpace(n.Timezone),
	}
	var err error
	if out.RetryBase, err = ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	for _, t := range n.Targets {
		out.Targets = append(out.Targets, kit.ChatTarget{ChatID: t.ChatID, ThreadID: t.ThreadID})
	}
	if len(out.Targets) == 0 && c.Telegram.ChatID != 0 {
		out.Targets = []kit.ChatTarget{{ChatID: c.Telegram.ChatID}}
	}
	for _, r := range n.NotifyOn {
		out.NotifyOn = append(out.NotifyOn, eventbus.AttemptResult(r))
	}
	return out, nil
}
