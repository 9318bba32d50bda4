// Package transcription specializes the session state machine for streaming
// speech-to-text.
//
// A Session owns the partial/final text buffers for the live epoch. Buffers
// are cleared on every start and synchronously on cancel; partial and final
// handlers gate on both the cancelled flag and the delivery epoch, with the
// epoch comparison authoritative. Permission, availability, start, and
// runtime failures each keep their own error surface.
package transcription
