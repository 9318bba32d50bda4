package capability

import (
	"context"
	"time"
)

// Kind identifies one of the supported capability families.
type Kind string

const (
	KindTranscription   Kind = "transcription"
	KindImageGeneration Kind = "image_generation"
)

// EventType classifies messages emitted by an engine.
type EventType string

const (
	EventStart    EventType = "start"
	EventPartial  EventType = "partial"
	EventFinal    EventType = "final"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is a single engine emission. Only the fields relevant to the event
// type are populated.
type Event struct {
	Type     EventType
	Text     string
	Percent  float64
	Artifact *Artifact
	Message  string
}

// Artifact is a persisted output produced by a generation job.
type Artifact struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Path      string    `json:"path"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Steps     int       `json:"steps"`
	Seed      int64     `json:"seed"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StartParams carries engine invocation parameters. Transcription uses the
// language field; generation uses the remaining ones.
type StartParams struct {
	Language       string
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Seed           int64
	Width          int
	Height         int
}

// Subscription is an owned handle on an event stream registration. Close
// releases it; releasing twice is safe and the second call is a no-op.
type Subscription interface {
	Close()
}

// Gateway is the surface the session controllers consume. Implementations
// may be called from multiple goroutines; event callbacks may fire from
// engine-owned goroutines and are marshaled by the dispatcher before they
// reach controller state.
type Gateway interface {
	// Available reports whether the engine can run on this host. No side effects.
	Available(ctx context.Context) bool

	// RequestPermission asks for any user consent the capability needs.
	// Idempotent; false means the caller must not proceed to Initialize.
	RequestPermission(ctx context.Context) bool

	// Initialize prepares the engine. Idempotent; false (not an error) when
	// the engine cannot be prepared.
	Initialize(ctx context.Context) bool

	// Start begins an engine run. Failures carry a sentinel from this package.
	Start(ctx context.Context, params StartParams) error

	// Stop requests a graceful finalize of the current run.
	Stop(ctx context.Context) error

	// Cancel aborts the current run immediately.
	Cancel(ctx context.Context) error

	// Subscribe registers an event callback and returns its owned handle.
	Subscribe(fn func(Event)) (Subscription, error)
}

// GenerationGateway extends Gateway with the model and artifact surface only
// the image capability carries.
type GenerationGateway interface {
	Gateway

	// Load prepares the named model. Idempotent; false when the model cannot
	// be prepared.
	Load(ctx context.Context, modelPath string) bool

	// Unload releases the model. Idempotent.
	Unload(ctx context.Context) bool

	// List returns the persisted artifacts, newest first.
	List(ctx context.Context) ([]Artifact, error)

	// Delete removes one artifact by id, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}
