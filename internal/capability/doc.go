// Package capability defines the boundary between the session controllers and
// the native engines that back them.
//
// A Gateway adapts one external engine (speech capture, image diffusion) into
// availability/permission/lifecycle calls plus an event stream delivered
// through explicitly owned subscriptions. The error taxonomy here is the
// single vocabulary for engine failures: controllers classify with errors.Is
// against the exported sentinels and never invent their own failure kinds.
package capability
