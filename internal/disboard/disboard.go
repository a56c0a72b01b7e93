// Package disboard knows the DISBOARD bump command and how to read its replies.
package disboard

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"autobump/internal/domain"
)

const (
	// ApplicationID is the DISBOARD application that owns the slash command.
	ApplicationID = "302050872383242240"
	// BotID is the user id DISBOARD replies with. It equals ApplicationID.
	BotID = "302050872383242240"
	// CommandName is the slash command that bumps a server.
	CommandName = "bump"

	// BaseLink prefixes every server page link in DISBOARD embeds.
	BaseLink = "https://disboard.org/"

	// BumpIntervalMinutes is how long a guild waits between successful bumps.
	BumpIntervalMinutes = 120
)

// ErrClassificationUnknown is reported for replies that match no known pattern.
var ErrClassificationUnknown = errors.New("disboard: unrecognized bump reply")

var reMinutes = regexp.MustCompile(`(\d+)\s+minutes`)

// ServerLink returns the server page link a success embed contains.
func ServerLink(guildID string) string {
	return BaseLink + "server/" + guildID
}

// Classify turns the first embed description of a bump reply into an outcome.
//
// A reply linking to the guild's server page is a success. Otherwise the
// first "<N> minutes" match is the remaining cooldown. Anything else yields
// an outcome with NextDelayMinutes == domain.UnparseableMinutes.
func Classify(description, guildID string) domain.Outcome {
	if guildID != "" && strings.Contains(description, ServerLink(guildID)) {
		return domain.Outcome{Success: true, NextDelayMinutes: BumpIntervalMinutes}
	}
	if m := ExtractMinutes(description); m >= 0 {
		return domain.Outcome{Success: false, NextDelayMinutes: m}
	}
	return domain.Outcome{Success: false, NextDelayMinutes: domain.UnparseableMinutes}
}

// ExtractMinutes returns the integer before the first "minutes" word, or
// domain.UnparseableMinutes.
func ExtractMinutes(text string) int {
	m := reMinutes.FindStringSubmatch(text)
	if m == nil {
		return domain.UnparseableMinutes
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return domain.UnparseableMinutes
	}
	return n
}
