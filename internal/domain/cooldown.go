package domain

import "time"

// NeverBumped marks an entity that has no cooldown recorded yet.
const NeverBumped int64 = -1

// Eligible reports whether a cooldown stored as epoch seconds has expired at now.
func Eligible(nextBump int64, now time.Time) bool {
	return nextBump <= now.Unix()
}

// CooldownFrom returns the epoch-seconds timestamp d after now.
func CooldownFrom(now time.Time, d time.Duration) int64 {
	return now.Add(d).Unix()
}

// Remaining returns how long until nextBump, or 0 if it already passed.
func Remaining(nextBump int64, now time.Time) time.Duration {
	left := time.Unix(nextBump, 0).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
