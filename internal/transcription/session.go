package transcription

import (
	"context"
	"log/slog"
	"sync"

	"atelier/internal/capability"
	"atelier/internal/dispatch"
	"atelier/internal/langtag"
	"atelier/internal/logging"
	"atelier/internal/session"
)

// Snapshot is the caller-visible view of the session.
type Snapshot struct {
	State       session.State `json:"state"`
	Epoch       uint64        `json:"epoch"`
	PartialText string        `json:"partial_text"`
	FinalText   string        `json:"final_text"`
	Error       string        `json:"error"`
	StaleDrops  uint64        `json:"stale_drops"`
}

// Session is the speech capability controller. One instance lives for the
// daemon's lifetime and runs at most one capture at a time.
type Session struct {
	gw              capability.Gateway
	logger          *slog.Logger
	machine         *session.Machine
	dispatcher      *dispatch.Dispatcher
	defaultLanguage string

	mu          sync.Mutex
	partial     string
	final       string
	cancelled   bool
	permitted   bool
	permChecked bool
}

// New constructs the controller and installs its single gateway subscription,
// which lives until Close. Repeated start/stop cycles never resubscribe.
func New(gw capability.Gateway, defaultLanguage string, logger *slog.Logger) (*Session, error) {
	s := &Session{
		gw:              gw,
		logger:          logging.NewComponentLogger(logger, "transcription"),
		machine:         session.NewMachine(capability.KindTranscription),
		defaultLanguage: defaultLanguage,
	}
	s.dispatcher = dispatch.New(logger, s.machine.Epoch, s.handleEvent)
	if err := s.dispatcher.Attach(gw); err != nil {
		s.dispatcher.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the gateway subscription. The session must not be used
// afterwards.
func (s *Session) Close() {
	s.dispatcher.Close()
}

// Available reports whether the speech engine can run on this host.
func (s *Session) Available(ctx context.Context) bool {
	return s.gw.Available(ctx)
}

// RequestPermission asks for microphone consent. The result is cached; the
// gateway call itself is idempotent.
func (s *Session) RequestPermission(ctx context.Context) bool {
	s.mu.Lock()
	if s.permChecked && s.permitted {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	granted := s.gw.RequestPermission(ctx)

	s.mu.Lock()
	s.permChecked = true
	s.permitted = granted
	s.mu.Unlock()
	return granted
}

// Start begins a new capture session. It is rejected with Busy while a
// session is live; permission and availability are checked before the engine
// is touched.
func (s *Session) Start(ctx context.Context, language string) error {
	epoch, err := s.machine.Begin()
	if err != nil {
		return err
	}

	if !s.RequestPermission(ctx) {
		s.machine.Abort(epoch)
		return capability.Wrap(capability.ErrPermissionDenied, "transcription", "start", "microphone access not granted", nil)
	}
	if !s.gw.Available(ctx) {
		s.machine.Abort(epoch)
		return capability.Wrap(capability.ErrUnavailable, "transcription", "start", "speech engine missing", nil)
	}
	if !s.gw.Initialize(ctx) {
		s.machine.Abort(epoch)
		return capability.Wrap(capability.ErrUnavailable, "transcription", "start", "speech engine could not be prepared", nil)
	}
	if !s.machine.MarkReady(epoch) {
		// Cancelled while initializing; the epoch already moved on.
		return nil
	}

	lang, err := s.resolveLanguage(language)
	if err != nil {
		s.machine.Abort(epoch)
		return capability.Wrap(capability.ErrInvalidParams, "transcription", "start", err.Error(), nil)
	}

	s.mu.Lock()
	s.partial = ""
	s.final = ""
	s.cancelled = false
	s.mu.Unlock()

	if err := s.gw.Start(ctx, capability.StartParams{Language: lang}); err != nil {
		if s.machine.Fail(epoch, err.Error()) {
			s.logger.Warn("engine rejected start",
				logging.Error(err),
				logging.Uint64(logging.FieldEpoch, epoch),
				logging.String(logging.FieldEventType, "transcription_start_failed"))
		}
		return capability.Wrap(capability.ErrStartFailure, "transcription", "start", "", err)
	}

	if !s.machine.Activate(epoch) {
		// Cancel won the race against our own start call. Its abort may have
		// fired before the engine process existed, so tear down the process we
		// just spawned as well; this epoch can deliver nothing either way.
		if err := s.gw.Cancel(ctx); err != nil {
			s.logger.Warn("engine abort after raced start failed",
				logging.Error(err),
				logging.Uint64(logging.FieldEpoch, epoch),
				logging.String(logging.FieldEventType, "transcription_cancel_failed"))
		}
		return nil
	}

	s.logger.Info("capture started",
		logging.Uint64(logging.FieldEpoch, epoch),
		logging.String("language", lang))
	return nil
}

// Stop requests a graceful finalize. The final transcript for this epoch is
// still delivered.
func (s *Session) Stop(ctx context.Context) error {
	snap := s.machine.Snapshot()
	if snap.State != session.StateActive {
		return capability.Wrap(capability.ErrNoSession, "transcription", "stop", "", nil)
	}
	if err := s.gw.Stop(ctx); err != nil {
		return capability.Wrap(capability.ErrNativeFailure, "transcription", "stop", "", err)
	}
	s.machine.Complete(snap.Epoch)
	return nil
}

// Cancel aborts the live session. Buffers clear synchronously, before the
// engine acknowledges anything, and the state always lands in Idle.
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	s.cancelled = true
	s.partial = ""
	s.final = ""
	s.mu.Unlock()

	epoch, ok := s.machine.Cancel()
	if !ok {
		return
	}
	if err := s.gw.Cancel(ctx); err != nil {
		s.logger.Warn("engine abort failed",
			logging.Error(err),
			logging.Uint64(logging.FieldEpoch, epoch),
			logging.String(logging.FieldEventType, "transcription_cancel_failed"),
			logging.String(logging.FieldErrorHint, "the engine process may need to be killed manually"))
	}
	s.machine.FinishCancel()
	s.logger.Info("capture cancelled", logging.Uint64(logging.FieldEpoch, epoch))
}

// ClearResult acknowledges a terminal state and clears the buffers.
func (s *Session) ClearResult() {
	s.mu.Lock()
	s.partial = ""
	s.final = ""
	s.mu.Unlock()
	s.machine.Acknowledge()
}

// PartialText returns the in-flight hypothesis for the live epoch.
func (s *Session) PartialText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

// FinalText returns the committed transcript.
func (s *Session) FinalText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// State returns the current session state.
func (s *Session) State() session.State {
	return s.machine.State()
}

// View returns a consistent snapshot for status surfaces.
func (s *Session) View() Snapshot {
	info := s.machine.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       info.State,
		Epoch:       info.Epoch,
		PartialText: s.partial,
		FinalText:   s.final,
		Error:       info.Err,
		StaleDrops:  s.machine.StaleDrops(),
	}
}

func (s *Session) resolveLanguage(language string) (string, error) {
	normalized, err := langtag.Normalize(language)
	if err != nil {
		return "", err
	}
	if normalized == "" {
		return s.defaultLanguage, nil
	}
	return normalized, nil
}

// handleEvent runs on the dispatcher goroutine; it is the only event path
// into buffer state.
func (s *Session) handleEvent(epoch uint64, ev capability.Event) {
	switch ev.Type {
	case capability.EventStart:
		// Engine acknowledged; state already moved in Start.
	case capability.EventPartial:
		if !s.machine.ObserveActive(epoch) {
			return
		}
		s.mu.Lock()
		if !s.cancelled {
			s.partial = ev.Text
		}
		s.mu.Unlock()
	case capability.EventFinal:
		if !s.machine.ObserveFinal(epoch) {
			return
		}
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return
		}
		s.final = ev.Text
		s.partial = ""
		s.mu.Unlock()
		s.machine.Complete(epoch)
	case capability.EventError:
		if !s.machine.Fail(epoch, ev.Message) {
			return
		}
		s.logger.Warn("engine runtime error",
			logging.String("message", ev.Message),
			logging.Uint64(logging.FieldEpoch, epoch),
			logging.String(logging.FieldEventType, "transcription_runtime_error"))
	}
}
