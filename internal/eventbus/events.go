package eventbus

// Event types published by the scheduler.
const (
	TypeBumpAttempt = "bump.attempt"
	TypeModeChanged = "scheduler.mode"
)

// AttemptResult names how a single account attempt on a channel ended.
type AttemptResult string

const (
	ResultSuccess         AttemptResult = "success"
	ResultCooldown        AttemptResult = "cooldown"
	ResultUnknown         AttemptResult = "unknown"
	ResultNoResponse      AttemptResult = "no_response"
	ResultConnectFailed   AttemptResult = "connect_failed"
	ResultCommandNotFound AttemptResult = "command_not_found"
	ResultInvokeFailed    AttemptResult = "invoke_failed"
)

// BumpAttempt is the Data of a TypeBumpAttempt event.
type BumpAttempt struct {
	AttemptID   string        `json:"attempt_id"`
	GuildID     string        `json:"guild_id"`
	GuildName   string        `json:"guild_name"`
	ChannelName string        `json:"channel_name"`
	AccountID   string        `json:"account_id"`
	AccountName string        `json:"account_name"`
	Result      AttemptResult `json:"result"`
	// DelayMinutes is the channel cooldown applied, when one was.
	DelayMinutes int    `json:"delay_minutes,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ModeChanged is the Data of a TypeModeChanged event.
type ModeChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}
