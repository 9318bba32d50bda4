// Package logging assembles the structured slog loggers shared by the daemon,
// the capability controllers, and the CLI.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes attribute helpers so controllers tag log lines with
// capability kinds, session identifiers, and epochs in a uniform shape. A
// no-op logger is provided for tests and wiring code that cannot fail.
package logging
