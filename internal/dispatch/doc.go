// Package dispatch moves raw engine events onto the controller's execution
// context.
//
// A Dispatcher holds the single gateway subscription a controller is allowed
// to own, stamps each inbound event with the session epoch current at arrival,
// and replays events in arrival order on one consumer goroutine. Controllers
// decide delivery by comparing the stamp against their machine's current
// epoch; the dispatcher never reorders, batches, or drops on its own. Attach
// may be called again to replace the subscription; the most recently installed
// one wins and a superseded subscription is guaranteed inert.
package dispatch
