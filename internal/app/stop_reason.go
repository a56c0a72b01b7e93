package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopOperatorExit StopReason = "operator_exit"
	StopSIGTERM      StopReason = "sigterm"
	StopFatalError   StopReason = "fatal_error"
)
