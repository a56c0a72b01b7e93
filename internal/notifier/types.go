package notifier

import (
	"time"

	"autobump/internal/domain"
	"autobump/internal/eventbus"
	kit "autobump/internal/transport"
)

// Config controls the notification pipeline. Zero values get defaults.
type Config struct {
	Enabled       bool
	Targets       []kit.ChatTarget
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
	// NotifyOn lists the attempt results that produce a message.
	NotifyOn []eventbus.AttemptResult
	// DigestSchedule is a cron spec (seconds optional); empty disables the digest.
	DigestSchedule string
	Timezone       string
}

// DefaultNotifyOn is used when Config.NotifyOn is empty.
var DefaultNotifyOn = []eventbus.AttemptResult{
	eventbus.ResultSuccess,
	eventbus.ResultCommandNotFound,
	eventbus.ResultUnknown,
}

// Snapshotter is the read side of the registry the digest needs.
type Snapshotter interface {
	Accounts() []domain.Account
	Channels() []domain.Channel
}

type HistoryItem struct {
	At   time.Time
	Text string
}
