package domain

import (
	"fmt"
	"time"
)

// StatusText is the human form of a cooldown: "ready" or "ready in N min".
func StatusText(nextBump int64, now time.Time) string {
	left := Remaining(nextBump, now)
	if left <= 0 {
		return "ready"
	}
	return fmt.Sprintf("ready in %d min", int((left+30*time.Second)/time.Minute))
}
