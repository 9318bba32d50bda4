package ipc

import "time"

// StatusRequest asks for the daemon status.
type StatusRequest struct{}

// StatusResponse reports daemon and capability state.
type StatusResponse struct {
	Running       bool                `json:"running"`
	PID           int                 `json:"pid"`
	StartedAt     time.Time           `json:"started_at"`
	LockPath      string              `json:"lock_path"`
	SocketPath    string              `json:"socket_path"`
	MicPresent    bool                `json:"mic_present"`
	Transcription TranscriptionStatus `json:"transcription"`
	Generation    GenerationStatus    `json:"generation"`
	Dependencies  []DependencyStatus  `json:"dependencies,omitempty"`
	Preflight     []PreflightResult   `json:"preflight,omitempty"`
}

// TranscriptionStatus mirrors the speech controller snapshot.
type TranscriptionStatus struct {
	State       string `json:"state"`
	Epoch       uint64 `json:"epoch"`
	PartialText string `json:"partial_text"`
	FinalText   string `json:"final_text"`
	Error       string `json:"error"`
	StaleDrops  uint64 `json:"stale_drops"`
}

// GenerationStatus mirrors the image controller snapshot.
type GenerationStatus struct {
	JobState   string    `json:"job_state"`
	Epoch      uint64    `json:"epoch"`
	ModelState string    `json:"model_state"`
	ModelID    string    `json:"model_id"`
	Progress   float64   `json:"progress"`
	Result     *Artifact `json:"result,omitempty"`
	Error      string    `json:"error"`
	StaleDrops uint64    `json:"stale_drops"`
}

// Artifact is the wire form of a persisted generation output.
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

// DependencyStatus reports availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// PreflightResult reports one startup readiness check.
type PreflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// StopRequest asks the daemon to shut down.
type StopRequest struct{}

// StopResponse acknowledges a daemon stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// TranscribeStartRequest begins a capture session. Language overrides the
// configured default when set.
type TranscribeStartRequest struct {
	Language string `json:"language,omitempty"`
}

// TranscribeStartResponse reports the outcome of a start request.
type TranscribeStartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`
}

// TranscribeStopRequest requests a graceful stop of the active capture.
type TranscribeStopRequest struct{}

// TranscribeStopResponse reports the outcome of a stop request.
type TranscribeStopResponse struct {
	Stopped bool   `json:"stopped"`
	Message string `json:"message,omitempty"`
}

// TranscribeCancelRequest discards the active capture session.
type TranscribeCancelRequest struct{}

// TranscribeCancelResponse acknowledges a cancel.
type TranscribeCancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// TranscribeTextRequest asks for the current transcript.
type TranscribeTextRequest struct{}

// TranscribeTextResponse carries the live transcript view.
type TranscribeTextResponse struct {
	State       string `json:"state"`
	PartialText string `json:"partial_text"`
	FinalText   string `json:"final_text"`
	Error       string `json:"error,omitempty"`
}

// TranscribeClearRequest discards the retained final transcript.
type TranscribeClearRequest struct{}

// TranscribeClearResponse acknowledges a clear.
type TranscribeClearResponse struct {
	Cleared bool `json:"cleared"`
}

// GenerateRequest describes one image generation job. Zero fields take the
// documented defaults; out-of-range values are rejected before the engine
// is invoked.
type GenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
}

// GenerateResponse carries the finished artifact or a failure message. The
// call blocks until the job resolves.
type GenerateResponse struct {
	Artifact *Artifact `json:"artifact,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// GenerateCancelRequest aborts the in-flight generation job.
type GenerateCancelRequest struct{}

// GenerateCancelResponse acknowledges a cancel.
type GenerateCancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ModelLoadRequest loads a diffusion model from disk.
type ModelLoadRequest struct {
	Path string `json:"path"`
}

// ModelLoadResponse reports the outcome of a model load.
type ModelLoadResponse struct {
	Loaded  bool   `json:"loaded"`
	Message string `json:"message,omitempty"`
}

// ModelUnloadRequest releases the loaded diffusion model.
type ModelUnloadRequest struct{}

// ModelUnloadResponse acknowledges an unload.
type ModelUnloadResponse struct {
	Unloaded bool `json:"unloaded"`
}

// ArtifactsListRequest asks for the persisted artifact index.
type ArtifactsListRequest struct{}

// ArtifactsListResponse lists artifacts newest first.
type ArtifactsListResponse struct {
	Artifacts []Artifact `json:"artifacts"`
}

// ArtifactsDeleteRequest removes one artifact and its image file.
type ArtifactsDeleteRequest struct {
	ID string `json:"id"`
}

// ArtifactsDeleteResponse reports whether the artifact existed.
type ArtifactsDeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// LogTailRequest asks for daemon log lines starting at Offset.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int64 `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next read offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest triggers a test push notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}
