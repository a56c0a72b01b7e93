package scheduler

import "fmt"

// State is the scheduler mode.
type State int

const (
	Bumping State = iota + 1
	Configuring
	Exiting
)

func (s State) String() string {
	switch s {
	case Bumping:
		return "bumping"
	case Configuring:
		return "configuring"
	case Exiting:
		return "exiting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives mode changes.
type Event int

const (
	// EventInterrupt is the operator interrupt (SIGINT).
	EventInterrupt Event = iota + 1
	// EventResume is the console "resume" action.
	EventResume
	// EventExit is the console "exit" action or process shutdown.
	EventExit
)

func (e Event) String() string {
	switch e {
	case EventInterrupt:
		return "interrupt"
	case EventResume:
		return "resume"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Transition is the only place the mode changes.
func Transition(s State, e Event) State {
	switch e {
	case EventExit:
		return Exiting
	case EventResume:
		return Bumping
	case EventInterrupt:
		switch s {
		case Bumping:
			return Configuring
		case Configuring:
			return Exiting
		case Exiting:
			return Exiting
		}
	}
	return s
}
