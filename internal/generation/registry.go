package generation

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"atelier/internal/capability"
	"atelier/internal/dispatch"
	"atelier/internal/logging"
	"atelier/internal/notifications"
	"atelier/internal/session"
)

// ModelState tracks diffusion model readiness, independent of job state.
type ModelState string

const (
	ModelUnloaded ModelState = "unloaded"
	ModelLoading  ModelState = "loading"
	ModelLoaded   ModelState = "loaded"
)

// ErrJobCancelled resolves a blocked Generate call whose job was cancelled.
// Cancellation is not a failure; the session lands in Idle.
var ErrJobCancelled = errors.New("generation cancelled")

type outcome struct {
	artifact *capability.Artifact
	err      error
}

// Snapshot is the caller-visible view of the registry.
type Snapshot struct {
	JobState   session.State        `json:"job_state"`
	Epoch      uint64               `json:"epoch"`
	ModelState ModelState           `json:"model_state"`
	ModelID    string               `json:"model_id"`
	Progress   float64              `json:"progress"`
	Result     *capability.Artifact `json:"result,omitempty"`
	Error      string               `json:"error"`
	StaleDrops uint64               `json:"stale_drops"`
}

// Registry is the image capability controller. One instance lives for the
// daemon's lifetime and runs at most one job at a time.
type Registry struct {
	gw         capability.GenerationGateway
	logger     *slog.Logger
	machine    *session.Machine
	dispatcher *dispatch.Dispatcher
	notifier   notifications.Service

	mu          sync.Mutex
	modelState  ModelState
	modelID     string
	progress    float64
	result      *capability.Artifact
	prompt      string
	waiter      chan outcome
	waiterEpoch uint64
	cache       []capability.Artifact
	cacheLoaded bool
}

// New constructs the registry and installs its single gateway subscription,
// which lives until Close.
func New(gw capability.GenerationGateway, notifier notifications.Service, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		gw:         gw,
		logger:     logging.NewComponentLogger(logger, "generation"),
		machine:    session.NewMachine(capability.KindImageGeneration),
		notifier:   notifier,
		modelState: ModelUnloaded,
	}
	r.dispatcher = dispatch.New(logger, r.machine.Epoch, r.handleEvent)
	if err := r.dispatcher.Attach(gw); err != nil {
		r.dispatcher.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the gateway subscription.
func (r *Registry) Close() {
	r.dispatcher.Close()
}

// Load prepares the diffusion model. Idempotent and safe from any state; a
// load while Loading or Loaded with the same model is a no-op success.
func (r *Registry) Load(ctx context.Context, modelPath string) bool {
	modelID := filepath.Base(modelPath)

	r.mu.Lock()
	if r.modelState == ModelLoaded && r.modelID == modelID {
		r.mu.Unlock()
		return true
	}
	if r.modelState == ModelLoading {
		r.mu.Unlock()
		return false
	}
	r.modelState = ModelLoading
	r.mu.Unlock()

	ok := r.gw.Load(ctx, modelPath)

	r.mu.Lock()
	if ok {
		r.modelState = ModelLoaded
		r.modelID = modelID
	} else {
		r.modelState = ModelUnloaded
		r.modelID = ""
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("model loaded", logging.String("model", modelID))
	}
	return ok
}

// Unload releases the model. A job still running resolves as a native
// failure before the model state drops to Unloaded. Idempotent.
func (r *Registry) Unload(ctx context.Context) bool {
	info := r.machine.Snapshot()
	if live := info.State == session.StateInitializing || info.State == session.StateReady ||
		info.State == session.StateActive; live {
		epoch := info.Epoch
		if err := r.gw.Cancel(ctx); err != nil {
			r.logger.Warn("engine abort on unload failed", logging.Error(err),
				logging.String(logging.FieldEventType, "generation_unload_abort_failed"))
		}
		if r.machine.Fail(epoch, "model unloaded during generation") {
			r.resolve(epoch, outcome{err: capability.Wrap(capability.ErrNativeFailure,
				"generation", "unload", "model unloaded during generation", nil)})
		}
	}

	ok := r.gw.Unload(ctx)

	r.mu.Lock()
	r.modelState = ModelUnloaded
	r.modelID = ""
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("engine unload reported failure",
			logging.String(logging.FieldEventType, "generation_unload_failed"))
	}
	return true
}

// Generate runs one job to completion and returns its artifact. A job already
// Active rejects with Busy before any engine invocation; invalid parameters
// reject before any engine call.
func (r *Registry) Generate(ctx context.Context, params Params) (*capability.Artifact, error) {
	epoch, err := r.machine.Begin()
	if err != nil {
		return nil, err
	}

	normalized, err := params.withDefaults()
	if err != nil {
		r.machine.Abort(epoch)
		return nil, err
	}

	r.mu.Lock()
	if r.modelState != ModelLoaded {
		r.mu.Unlock()
		r.machine.Abort(epoch)
		return nil, capability.Wrap(capability.ErrUnavailable, "generation", "generate", "no model loaded", nil)
	}
	r.progress = 0
	r.result = nil
	r.prompt = normalized.Prompt
	wait := make(chan outcome, 1)
	r.waiter = wait
	r.waiterEpoch = epoch
	r.mu.Unlock()

	if !r.machine.MarkReady(epoch) {
		return nil, ErrJobCancelled
	}

	if err := r.gw.Start(ctx, normalized.startParams()); err != nil {
		r.machine.Fail(epoch, err.Error())
		r.dropWaiter(epoch)
		return nil, capability.Wrap(capability.ErrStartFailure, "generation", "generate", "", err)
	}

	if !r.machine.Activate(epoch) {
		// Cancelled while the start call was in flight. The cancel path may
		// have aborted before this job process existed, so abort it here too;
		// the stale epoch can deliver nothing, so resolve directly.
		if err := r.gw.Cancel(ctx); err != nil {
			r.logger.Warn("engine abort after raced start failed", logging.Error(err),
				logging.Uint64(logging.FieldEpoch, epoch),
				logging.String(logging.FieldEventType, "generation_cancel_failed"))
		}
		r.dropWaiter(epoch)
		return nil, ErrJobCancelled
	}

	r.logger.Info("job started",
		logging.Uint64(logging.FieldEpoch, epoch),
		logging.Int("steps", normalized.Steps),
		logging.Int("width", normalized.Width),
		logging.Int("height", normalized.Height))

	select {
	case out := <-wait:
		return out.artifact, out.err
	case <-ctx.Done():
		r.Cancel(context.WithoutCancel(ctx))
		return nil, ctx.Err()
	}
}

// Cancel aborts the live job; the session lands in Idle.
func (r *Registry) Cancel(ctx context.Context) {
	epoch, ok := r.machine.Cancel()
	if !ok {
		return
	}

	r.mu.Lock()
	r.progress = 0
	r.result = nil
	r.mu.Unlock()

	if err := r.gw.Cancel(ctx); err != nil {
		r.logger.Warn("engine abort failed", logging.Error(err),
			logging.Uint64(logging.FieldEpoch, epoch),
			logging.String(logging.FieldEventType, "generation_cancel_failed"))
	}
	r.machine.FinishCancel()
	r.resolve(epoch, outcome{err: ErrJobCancelled})
	r.logger.Info("job cancelled", logging.Uint64(logging.FieldEpoch, epoch))
}

// ClearResult acknowledges a terminal job state.
func (r *Registry) ClearResult() {
	r.mu.Lock()
	r.result = nil
	r.progress = 0
	r.mu.Unlock()
	r.machine.Acknowledge()
}

// Progress returns the live job's completion percentage.
func (r *Registry) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Result returns the most recent completed artifact, if any.
func (r *Registry) Result() *capability.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// JobState returns the current job lifecycle state.
func (r *Registry) JobState() session.State {
	return r.machine.State()
}

// Model returns the model-load state and identifier.
func (r *Registry) Model() (ModelState, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelState, r.modelID
}

// View returns a consistent snapshot for status surfaces.
func (r *Registry) View() Snapshot {
	info := r.machine.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		JobState:   info.State,
		Epoch:      info.Epoch,
		ModelState: r.modelState,
		ModelID:    r.modelID,
		Progress:   r.progress,
		Result:     r.result,
		Error:      info.Err,
		StaleDrops: r.machine.StaleDrops(),
	}
}

// ListArtifacts returns the persisted artifacts through the read-through
// cache. A gateway failure degrades to an empty list; listing is never a
// reason to fail a caller.
func (r *Registry) ListArtifacts(ctx context.Context) []capability.Artifact {
	r.mu.Lock()
	if r.cacheLoaded {
		out := make([]capability.Artifact, len(r.cache))
		copy(out, r.cache)
		r.mu.Unlock()
		return out
	}
	r.mu.Unlock()

	list, err := r.gw.List(ctx)
	if err != nil {
		r.logger.Warn("artifact listing failed", logging.Error(err),
			logging.String(logging.FieldEventType, "artifact_list_failed"),
			logging.String(logging.FieldErrorHint, "check the artifact store; returning an empty list"))
		return []capability.Artifact{}
	}

	r.mu.Lock()
	r.cache = list
	r.cacheLoaded = true
	out := make([]capability.Artifact, len(list))
	copy(out, list)
	r.mu.Unlock()
	return out
}

// DeleteArtifact removes one artifact. Failures degrade to false.
func (r *Registry) DeleteArtifact(ctx context.Context, id string) bool {
	removed, err := r.gw.Delete(ctx, id)
	if err != nil {
		r.logger.Warn("artifact delete failed", logging.Error(err),
			logging.String("artifact_id", id),
			logging.String(logging.FieldEventType, "artifact_delete_failed"))
		return false
	}
	if removed {
		r.mu.Lock()
		for i := range r.cache {
			if r.cache[i].ID == id {
				r.cache = append(r.cache[:i], r.cache[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
	return removed
}

// resolve delivers the job outcome to a Generate caller blocked on epoch.
func (r *Registry) resolve(epoch uint64, out outcome) {
	r.mu.Lock()
	wait := r.waiter
	match := wait != nil && r.waiterEpoch == epoch
	if match {
		r.waiter = nil
	}
	r.mu.Unlock()
	if match {
		wait <- out
	}
}

func (r *Registry) dropWaiter(epoch uint64) {
	r.mu.Lock()
	if r.waiter != nil && r.waiterEpoch == epoch {
		r.waiter = nil
	}
	r.mu.Unlock()
}

// handleEvent runs on the dispatcher goroutine.
func (r *Registry) handleEvent(epoch uint64, ev capability.Event) {
	switch ev.Type {
	case capability.EventStart:
	case capability.EventProgress:
		if !r.machine.ObserveActive(epoch) {
			return
		}
		r.mu.Lock()
		r.progress = ev.Percent
		r.mu.Unlock()
	case capability.EventComplete:
		if !r.machine.ObserveActive(epoch) || !r.machine.Complete(epoch) {
			return
		}
		r.mu.Lock()
		r.result = ev.Artifact
		r.progress = 100
		prompt := r.prompt
		if ev.Artifact != nil {
			r.cache = append([]capability.Artifact{*ev.Artifact}, r.cache...)
		}
		r.mu.Unlock()
		r.resolve(epoch, outcome{artifact: ev.Artifact})
		if ev.Artifact != nil {
			if err := r.notifier.NotifyGenerationCompleted(context.Background(), prompt, ev.Artifact.Path); err != nil {
				r.logger.Debug("completion notification failed", logging.Error(err))
			}
		}
	case capability.EventError:
		if !r.machine.ObserveActive(epoch) || !r.machine.Fail(epoch, ev.Message) {
			return
		}
		r.mu.Lock()
		prompt := r.prompt
		r.mu.Unlock()
		r.resolve(epoch, outcome{err: capability.Wrap(capability.ErrNativeFailure, "generation", "generate", ev.Message, nil)})
		if err := r.notifier.NotifyGenerationFailed(context.Background(), prompt, ev.Message); err != nil {
			r.logger.Debug("failure notification failed", logging.Error(err))
		}
	}
}
