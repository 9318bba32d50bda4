// Package engine holds shared plumbing for the native engine adapters under
// engine/whispercli and engine/sdcli.
package engine
