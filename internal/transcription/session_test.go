package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"atelier/internal/capability"
	"atelier/internal/logging"
	"atelier/internal/session"
)

type fakeGateway struct {
	mu          sync.Mutex
	subs        map[int]func(capability.Event)
	next        int
	available   bool
	permission  bool
	initializes bool
	startErr    error
	startHook   func()

	permissionCalls int
	initializeCalls int
	startCalls      int
	stopCalls       int
	cancelCalls     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subs:        map[int]func(capability.Event){},
		available:   true,
		permission:  true,
		initializes: true,
	}
}

func (g *fakeGateway) Available(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available && g.permission
}

func (g *fakeGateway) RequestPermission(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permissionCalls++
	return g.permission
}

func (g *fakeGateway) Initialize(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initializeCalls++
	return g.initializes
}

func (g *fakeGateway) Start(context.Context, capability.StartParams) error {
	g.mu.Lock()
	g.startCalls++
	err := g.startErr
	hook := g.startHook
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (g *fakeGateway) Stop(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopCalls++
	return nil
}

func (g *fakeGateway) Cancel(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	return nil
}

func (g *fakeGateway) Subscribe(fn func(capability.Event)) (capability.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	id := g.next
	g.subs[id] = fn
	return &fakeSub{gw: g, id: id}, nil
}

func (g *fakeGateway) emit(ev capability.Event) {
	g.mu.Lock()
	fns := make([]func(capability.Event), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type fakeSub struct {
	gw   *fakeGateway
	id   int
	once sync.Once
}

func (s *fakeSub) Close() {
	s.once.Do(func() {
		s.gw.mu.Lock()
		delete(s.gw.subs, s.id)
		s.gw.mu.Unlock()
	})
}

func newSession(t *testing.T, gw *fakeGateway) *Session {
	t.Helper()
	s, err := New(gw, "en", logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestStreamingAccumulation(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)
	ctx := context.Background()

	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	gw.emit(capability.Event{Type: capability.EventPartial, Text: "hel"})
	gw.emit(capability.Event{Type: capability.EventPartial, Text: "hello"})
	waitFor(t, func() bool { return s.PartialText() == "hello" })

	gw.emit(capability.Event{Type: capability.EventFinal, Text: "hello world"})
	waitFor(t, func() bool { return s.FinalText() == "hello world" })

	if s.PartialText() != "" {
		t.Fatalf("partial not cleared: %q", s.PartialText())
	}
	if got := s.State(); got != session.StateCompleted {
		t.Fatalf("expected Completed, got %s", got)
	}
}

func TestLateCancelSuppression(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)
	ctx := context.Background()

	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Cancel(ctx)

	gw.emit(capability.Event{Type: capability.EventFinal, Text: "x"})
	time.Sleep(20 * time.Millisecond)

	if got := s.FinalText(); got != "" {
		t.Fatalf("late final leaked into buffer: %q", got)
	}
	if got := s.State(); got != session.StateIdle {
		t.Fatalf("expected Idle after cancel, got %s", got)
	}
	if gw.cancelCalls != 1 {
		t.Fatalf("expected gateway abort, got %d calls", gw.cancelCalls)
	}
}

func TestCancelDuringStartAbortsSpawnedEngine(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)
	ctx := context.Background()

	// The cancel lands while our own start call is still in flight, before
	// any engine process exists.
	gw.startHook = func() { s.Cancel(ctx) }

	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("raced Start returned error: %v", err)
	}
	if got := s.State(); got != session.StateIdle {
		t.Fatalf("expected Idle after raced cancel, got %s", got)
	}

	// One abort from Cancel before the process existed, one for the process
	// the start call went on to spawn.
	gw.mu.Lock()
	aborts := gw.cancelCalls
	gw.mu.Unlock()
	if aborts != 2 {
		t.Fatalf("spawned engine not aborted, %d cancel calls", aborts)
	}

	// The capability stays usable: the next start must not find an engine
	// still running.
	gw.startHook = nil
	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("start after raced cancel: %v", err)
	}
	if got := s.State(); got != session.StateActive {
		t.Fatalf("expected Active, got %s", got)
	}
}

func TestStaleEpochEventDroppedAfterRestart(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)
	ctx := context.Background()

	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	firstEpoch := s.machine.Epoch()
	s.Cancel(ctx)
	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	// The cancelled flag was reset by the restart; only the epoch check can
	// reject an event delivered under the dead epoch now.
	s.handleEvent(firstEpoch, capability.Event{Type: capability.EventFinal, Text: "stale"})

	if got := s.FinalText(); got != "" {
		t.Fatalf("event from dead epoch mutated buffer: %q", got)
	}
	if s.View().StaleDrops == 0 {
		t.Fatal("stale drop not counted")
	}
}

func TestStartWhileActiveIsBusy(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)
	ctx := context.Background()

	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := s.Start(ctx, "")
	if !errors.Is(err, capability.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if gw.startCalls != 1 {
		t.Fatalf("expected a single engine invocation, got %d", gw.startCalls)
	}
	if got := s.State(); got != session.StateActive {
		t.Fatalf("busy start mutated state to %s", got)
	}
}

func TestPermissionGate(t *testing.T) {
	gw := newFakeGateway()
	gw.permission = false
	s := newSession(t, gw)
	ctx := context.Background()

	if s.Available(ctx) {
		t.Fatal("expected unavailable without permission")
	}
	err := s.Start(ctx, "")
	if !errors.Is(err, capability.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if gw.initializeCalls != 0 || gw.startCalls != 0 {
		t.Fatalf("engine touched despite denied permission: init=%d start=%d",
			gw.initializeCalls, gw.startCalls)
	}
}

func TestEngineMissingIsUnavailable(t *testing.T) {
	gw := newFakeGateway()
	gw.available = false
	s := newSession(t, gw)

	err := s.Start(context.Background(), "")
	if !errors.Is(err, capability.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if gw.startCalls != 0 {
		t.Fatal("engine invoked despite being unavailable")
	}
}

func TestStartFailureSurface(t *testing.T) {
	gw := newFakeGateway()
	gw.startErr = errors.New("device busy")
	s := newSession(t, gw)

	err := s.Start(context.Background(), "")
	if !errors.Is(err, capability.ErrStartFailure) {
		t.Fatalf("expected ErrStartFailure, got %v", err)
	}
	if got := s.State(); got != session.StateFailed {
		t.Fatalf("expected Failed, got %s", got)
	}
}

func TestRuntimeErrorMovesToFailed(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)
	ctx := context.Background()

	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	gw.emit(capability.Event{Type: capability.EventError, Message: "decoder crashed"})
	waitFor(t, func() bool { return s.State() == session.StateFailed })

	if s.View().Error != "decoder crashed" {
		t.Fatalf("error not surfaced: %+v", s.View())
	}

	// Failed resets on the next start.
	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	if got := s.State(); got != session.StateActive {
		t.Fatalf("expected Active after restart, got %s", got)
	}
}

func TestStopRequestsGracefulFinalize(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)
	ctx := context.Background()

	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if gw.stopCalls != 1 {
		t.Fatalf("expected stop call, got %d", gw.stopCalls)
	}

	// The engine's final still lands for this epoch after stop.
	gw.emit(capability.Event{Type: capability.EventFinal, Text: "done"})
	waitFor(t, func() bool { return s.FinalText() == "done" })
	if got := s.State(); got != session.StateCompleted {
		t.Fatalf("expected Completed, got %s", got)
	}
}

func TestStopWithoutActiveSession(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)

	err := s.Stop(context.Background())
	if !errors.Is(err, capability.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if gw.stopCalls != 0 {
		t.Fatal("engine stop issued with no session")
	}
}

func TestInvalidLanguageRejectedBeforeEngine(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)

	err := s.Start(context.Background(), "!!bogus!!")
	if !errors.Is(err, capability.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	if gw.startCalls != 0 {
		t.Fatal("engine invoked with invalid params")
	}
}

func TestClearResultAcknowledgesTerminalState(t *testing.T) {
	gw := newFakeGateway()
	s := newSession(t, gw)
	ctx := context.Background()

	if err := s.Start(ctx, ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	gw.emit(capability.Event{Type: capability.EventFinal, Text: "hello"})
	waitFor(t, func() bool { return s.State() == session.StateCompleted })

	s.ClearResult()
	if s.FinalText() != "" || s.State() != session.StateIdle {
		t.Fatalf("ClearResult left %q in state %s", s.FinalText(), s.State())
	}
}
