// Package notifier tells operators what the bumper is doing.
//
// It listens on the event bus for bump attempts and mode changes, turns the
// interesting ones into short messages, and delivers them through a
// transport.Sender (Telegram) to every configured chat. Delivery is queued,
// rate limited, retried with backoff, and identical messages are suppressed
// inside a dedup window so a failure repeating every sweep is reported once.
//
// A cron-scheduled digest summarises current cooldowns and the attempt
// tally since the previous digest.
package notifier
