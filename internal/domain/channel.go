package domain

import "time"

// Channel is a bump destination: one channel per guild.
type Channel struct {
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
	NextBump    int64
}

func (c Channel) Eligible(now time.Time) bool { return Eligible(c.NextBump, now) }

// NoChannelName is shown for a guild whose channel could not be resolved.
const NoChannelName = "NO CHANNEL"
