// Package domain holds the bump data model: accounts, channels, cooldown
// timestamps and classified bump outcomes.
//
// Cooldowns are absolute epoch-second timestamps. NeverBumped is smaller
// than any real clock reading, so freshly registered entities are eligible
// immediately.
package domain
