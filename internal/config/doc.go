// Package config loads, normalizes, and validates the TOML configuration
// shared by the atelier daemon and CLI.
//
// Load resolves the config path (explicit flag, then ~/.config/atelier,
// then a project-local atelier.toml), parses it over repository defaults,
// expands ~ in every path field, and validates the result. Callers receive
// a fully resolved Config; nothing downstream re-reads the file.
package config
