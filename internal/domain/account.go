package domain

import "time"

// Account is an automation identity able to issue the bump command.
type Account struct {
	ID       string
	Token    string
	Name     string
	NextBump int64
}

func (a Account) Eligible(now time.Time) bool { return Eligible(a.NextBump, now) }

// Identity is what a live session reports about its own account.
type Identity struct {
	ID   string
	Name string
}
