package scheduler

import "time"

// Config holds the sweep timings. All of it can change at runtime via Apply.
type Config struct {
	PollInterval      time.Duration
	CourtesyDelay     time.Duration
	AccountCooldown   time.Duration
	ConnectTimeout    time.Duration
	ResponseTimeout   time.Duration
	DisconnectTimeout time.Duration
	LookupTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:      10 * time.Second,
		CourtesyDelay:     time.Second,
		AccountCooldown:   30 * time.Minute,
		ConnectTimeout:    30 * time.Second,
		ResponseTimeout:   5 * time.Second,
		DisconnectTimeout: 10 * time.Second,
		LookupTimeout:     10 * time.Second,
	}
}

// withDefaults fills zero fields; negative courtesy or poll values mean none.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.CourtesyDelay == 0 {
		c.CourtesyDelay = d.CourtesyDelay
	}
	if c.AccountCooldown <= 0 {
		c.AccountCooldown = d.AccountCooldown
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = d.DisconnectTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	return c
}
