package domain

import "fmt"

// UnparseableMinutes is the NextDelayMinutes value of an outcome whose
// response text matched neither the success link nor a "N minutes" hint.
const UnparseableMinutes = -1

// Outcome is the classified result of a single bump response.
//
// Success outcomes carry the upstream bump interval. Failure outcomes carry
// the remaining channel cooldown reported upstream, or UnparseableMinutes.
type Outcome struct {
	Success          bool
	NextDelayMinutes int
}

// Known reports whether the outcome carries a usable delay.
func (o Outcome) Known() bool {
	return o.Success || o.NextDelayMinutes >= 0
}

func (o Outcome) String() string {
	switch {
	case o.Success:
		return fmt.Sprintf("success (next in %d min)", o.NextDelayMinutes)
	case o.Known():
		return fmt.Sprintf("cooldown (%d min left)", o.NextDelayMinutes)
	default:
		return "unknown"
	}
}
