package config

import (
	"reflect"
	"strings"

	logx "autobump/pkg/logx"
)

// SummarizeChange lists the changed sections and log-safe attrs describing
// them. Tokens never appear in the attrs.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Data != newCfg.Data {
		changed = append(changed, "data")
		attrs = append(attrs, logx.String("data.driver", newCfg.Data.Driver), logx.String("data.path", newCfg.Data.Path))
	}
	if oldCfg.Bump != newCfg.Bump {
		changed = append(changed, "bump")
		attrs = append(attrs,
			logx.String("bump.poll_interval", newCfg.Bump.PollInterval),
			logx.String("bump.account_cooldown", newCfg.Bump.AccountCooldown),
		)
	}
	if oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		oldCfg.Telegram.Timeout != newCfg.Telegram.Timeout ||
		strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Int("notifier.targets", len(newCfg.Notifier.Targets)),
			logx.String("notifier.digest_schedule", newCfg.Notifier.DigestSchedule),
		)
	}
	return changed, attrs
}

// RestartRequired reports changes that only take effect on the next start.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Data != newCfg.Data {
		out = append(out, "data")
	}
	if oldCfg.Telegram != newCfg.Telegram {
		out = append(out, "telegram")
	}
	return out
}
