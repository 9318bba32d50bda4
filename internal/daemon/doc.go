// Package daemon coordinates the long-running atelier process and system
// integration points.
//
// It wires configuration, the artifact store, both engine gateways, and the
// capture device monitor into a single lifecycle with flock-based locking to
// prevent multiple instances. The daemon exposes the capability controllers
// to the IPC layer, emits dependency health summaries, and owns notifications
// triggered by completed work.
//
// Keep orchestration logic here: capability semantics live in transcription
// and generation while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
