package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "30m"); an empty string means the built-in default.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Data     DataConfig     `json:"data"`
	Bump     BumpConfig     `json:"bump"`
	Telegram TelegramConfig `json:"telegram"`
	Notifier NotifierConfig `json:"notifier"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to telegram.chat_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DataConfig selects the store. Not hot-reloadable.
//
// Example:
//
//	"data": { "driver": "file", "path": "./data" }
type DataConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// BumpConfig holds the sweep timings.
type BumpConfig struct {
	PollInterval      string `json:"poll_interval"`
	CourtesyDelay     string `json:"courtesy_delay"`
	AccountCooldown   string `json:"account_cooldown"`
	ConnectTimeout    string `json:"connect_timeout"`
	ResponseTimeout   string `json:"response_timeout"`
	DisconnectTimeout string `json:"disconnect_timeout"`
	LookupTimeout     string `json:"lookup_timeout"`
}

// TelegramConfig is the operator chat. An empty token disables every
// telegram sink.
type TelegramConfig struct {
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
	Timeout string `json:"timeout"`
}

type ChatTarget struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// NotifierConfig controls outcome notifications and the digest.
// Targets default to telegram.chat_id.
type NotifierConfig struct {
	Enabled        bool         `json:"enabled"`
	Targets        []ChatTarget `json:"targets,omitempty"`
	QueueSize      int          `json:"queue_size"`
	RatePerSec     int          `json:"rate_per_sec"`
	RetryMax       int          `json:"retry_max"`
	RetryBase      string       `json:"retry_base"`
	RetryMaxDelay  string       `json:"retry_max_delay"`
	DedupWindow    string       `json:"dedup_window"`
	NotifyOn       []string     `json:"notify_on,omitempty"`
	DigestSchedule string       `json:"digest_schedule,omitempty"`
	Timezone       string       `json:"timezone,omitempty"`
}

// Default is what an absent config file (or an absent key) means.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Telegram: LoggingTelegram{
				MinLevel:   "warn",
				RatePerSec: 1,
			},
		},
		Data: DataConfig{Driver: "file", Path: "./data"},
		Telegram: TelegramConfig{
			Timeout: "10s",
		},
		Notifier: NotifierConfig{
			QueueSize:     256,
			RatePerSec:    1,
			RetryMax:      3,
			RetryBase:     "500ms",
			RetryMaxDelay: "10s",
			DedupWindow:   "10m",
		},
	}
}
