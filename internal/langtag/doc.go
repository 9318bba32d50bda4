// Package langtag normalizes user-supplied language input into the canonical
// form the speech engine expects.
//
// Input may be a BCP-47 tag ("en-US"), a bare ISO 639-1 code ("de"), or a
// display name ("german"); output is always the engine-facing base code.
package langtag
