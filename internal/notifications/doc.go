// Package notifications publishes push notifications for session outcomes via
// ntfy.
//
// When no ntfy topic is configured, NewService returns a noop implementation
// so callers never need nil checks. Notification failures are advisory and
// never affect session state.
package notifications
