// Package clock abstracts the time source so timeouts and cooldowns can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the bumper depends on.
type Clock interface {
	Now() time.Time
	// After behaves like time.After. d <= 0 fires immediately.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Stepper is a fake clock in which every After fires at once and moves the
// clock forward by d. Sleeps and timeouts therefore cost no wall time while
// cooldown arithmetic still sees time pass.
type Stepper struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
	waits []time.Duration
}

// NewStepper returns a Stepper starting at start.
func NewStepper(start time.Time) *Stepper {
	return &Stepper{now: start}
}

func (s *Stepper) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Stepper) After(d time.Duration) <-chan time.Time {
	s.mu.Lock()
	if d > 0 {
		s.now = s.now.Add(d)
		s.slept += d
	}
	s.waits = append(s.waits, d)
	now := s.now
	s.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward without recording a wait.
func (s *Stepper) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

// Slept is the sum of all After durations so far.
func (s *Stepper) Slept() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slept
}

// Waits returns every After duration in call order.
func (s *Stepper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
