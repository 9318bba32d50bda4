// Package ipc implements the JSON-RPC control channel between the atelier
// CLI and the daemon. The server listens on a Unix domain socket and
// delegates to the daemon's capability controllers; the client offers one
// typed method per RPC.
package ipc
