// Package session owns the lifecycle record for one capability session at a
// time: the authoritative answer to "is a session running".
//
// A Machine serializes every mutation behind its own mutex and enforces the
// legal transition set. Each accepted start mints a strictly increasing epoch;
// cancellation also advances the epoch so events already in flight for the
// cancelled run can never match again. Controllers gate every event delivery
// on ObserveActive, which checks state and epoch together and counts stale
// arrivals instead of surfacing them.
package session
