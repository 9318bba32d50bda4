package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"atelier/internal/capability"
	"atelier/internal/config"
	"atelier/internal/logging"
	"atelier/internal/notifications"
	"atelier/internal/session"
)

type fakeGenGateway struct {
	mu         sync.Mutex
	subs       map[int]func(capability.Event)
	next       int
	loads      bool
	startErr   error
	startHook  func()
	listErr    error
	deleteErr  error
	artifacts  []capability.Artifact
	lastParams capability.StartParams

	startCalls  int
	cancelCalls int
	loadCalls   int
	unloadCalls int
	listCalls   int
}

func newFakeGenGateway() *fakeGenGateway {
	return &fakeGenGateway{
		subs:  map[int]func(capability.Event){},
		loads: true,
	}
}

func (g *fakeGenGateway) Available(context.Context) bool         { return true }
func (g *fakeGenGateway) RequestPermission(context.Context) bool { return true }
func (g *fakeGenGateway) Initialize(context.Context) bool        { return true }

func (g *fakeGenGateway) Start(_ context.Context, params capability.StartParams) error {
	g.mu.Lock()
	g.startCalls++
	g.lastParams = params
	err := g.startErr
	hook := g.startHook
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (g *fakeGenGateway) Stop(context.Context) error { return nil }

func (g *fakeGenGateway) Cancel(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	return nil
}

func (g *fakeGenGateway) Subscribe(fn func(capability.Event)) (capability.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	id := g.next
	g.subs[id] = fn
	return &fakeGenSub{gw: g, id: id}, nil
}

func (g *fakeGenGateway) Load(context.Context, string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loadCalls++
	return g.loads
}

func (g *fakeGenGateway) Unload(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unloadCalls++
	return true
}

func (g *fakeGenGateway) List(context.Context) ([]capability.Artifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]capability.Artifact, len(g.artifacts))
	copy(out, g.artifacts)
	return out, nil
}

func (g *fakeGenGateway) Delete(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return false, g.deleteErr
	}
	for i := range g.artifacts {
		if g.artifacts[i].ID == id {
			g.artifacts = append(g.artifacts[:i], g.artifacts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (g *fakeGenGateway) emit(ev capability.Event) {
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

type fakeGenSub struct {
	gw   *fakeGenGateway
	id   int
	once sync.Once
}

func (s *fakeGenSub) Close() {
	s.once.Do(func() {
		s.gw.mu.Lock()
		delete(s.gw.subs, s.id)
		s.gw.mu.Unlock()
	})
}

func newRegistry(t *testing.T, gw *fakeGenGateway) *Registry {
	t.Helper()
	r, err := New(gw, notifications.NewService(&config.Config{}), logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func loadModel(t *testing.T, r *Registry) {
	t.Helper()
	if !r.Load(context.Background(), "/models/sd-v1-5.safetensors") {
		t.Fatal("Load failed")
	}
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

// startJob launches Generate on its own goroutine and waits for the job to
// reach Active before returning the result channel.
func startJob(t *testing.T, r *Registry, params Params) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := r.Generate(context.Background(), params)
		done <- err
	}()
	waitFor(t, func() bool { return r.JobState() == session.StateActive })
	return done
}

func TestGenerateProducesArtifact(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)
	loadModel(t, r)

	done := startJob(t, r, Params{Prompt: "a lighthouse at dusk"})

	gw.emit(capability.Event{Type: capability.EventProgress, Percent: 50})
	waitFor(t, func() bool { return r.Progress() == 50 })

	want := &capability.Artifact{ID: "a1", Prompt: "a lighthouse at dusk", Path: "/x/a1.png"}
	gw.emit(capability.Event{Type: capability.EventComplete, Artifact: want})

	if err := <-done; err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := r.Result(); got == nil || got.ID != "a1" {
		t.Fatalf("result not recorded: %+v", got)
	}
	if got := r.JobState(); got != session.StateCompleted {
		t.Fatalf("expected Completed, got %s", got)
	}

	gw.mu.Lock()
	params := gw.lastParams
	gw.mu.Unlock()
	if params.Steps != DefaultSteps || params.Width != DefaultSize || params.GuidanceScale != DefaultGuidanceScale {
		t.Fatalf("defaults not applied: %+v", params)
	}
}

func TestGenerateWhileActiveIsBusy(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)
	loadModel(t, r)

	done := startJob(t, r, Params{Prompt: "first"})

	_, err := r.Generate(context.Background(), Params{Prompt: "second"})
	if !errors.Is(err, capability.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	gw.mu.Lock()
	calls := gw.startCalls
	gw.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single engine invocation, got %d", calls)
	}

	gw.emit(capability.Event{Type: capability.EventComplete, Artifact: &capability.Artifact{ID: "a1"}})
	if err := <-done; err != nil {
		t.Fatalf("first job failed: %v", err)
	}
}

func TestInvalidParamsRejectedBeforeEngine(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)
	loadModel(t, r)

	cases := []struct {
		name   string
		params Params
	}{
		{"empty prompt", Params{}},
		{"steps too high", Params{Prompt: "x", Steps: 500}},
		{"negative guidance", Params{Prompt: "x", GuidanceScale: -1}},
		{"unsupported size", Params{Prompt: "x", Width: 300}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Generate(context.Background(), tc.params)
			if !errors.Is(err, capability.ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
			if got := r.JobState(); got != session.StateIdle {
				t.Fatalf("rejected params left state %s", got)
			}
		})
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.startCalls != 0 {
		t.Fatalf("engine invoked with invalid params: %d calls", gw.startCalls)
	}
}

func TestGenerateWithoutModelIsUnavailable(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	if !errors.Is(err, capability.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := r.JobState(); got != session.StateIdle {
		t.Fatalf("expected Idle, got %s", got)
	}
}

func TestCancelResolvesBlockedGenerate(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)
	loadModel(t, r)

	done := startJob(t, r, Params{Prompt: "x"})
	r.Cancel(context.Background())

	if err := <-done; !errors.Is(err, ErrJobCancelled) {
		t.Fatalf("expected ErrJobCancelled, got %v", err)
	}
	if got := r.JobState(); got != session.StateIdle {
		t.Fatalf("expected Idle after cancel, got %s", got)
	}
	gw.mu.Lock()
	aborts := gw.cancelCalls
	gw.mu.Unlock()
	if aborts != 1 {
		t.Fatalf("expected engine abort, got %d", aborts)
	}

	// The cancelled run's completion arrives afterwards and must be dropped.
	gw.emit(capability.Event{Type: capability.EventComplete, Artifact: &capability.Artifact{ID: "late"}})
	time.Sleep(20 * time.Millisecond)
	if r.Result() != nil {
		t.Fatalf("late completion leaked: %+v", r.Result())
	}
	if r.View().StaleDrops == 0 {
		t.Fatal("stale drop not counted")
	}
}

func TestCancelDuringStartAbortsSpawnedJob(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)
	loadModel(t, r)

	// The cancel lands while our own start call is still in flight, before
	// any job process exists.
	gw.startHook = func() { r.Cancel(context.Background()) }

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	if !errors.Is(err, ErrJobCancelled) {
		t.Fatalf("expected ErrJobCancelled, got %v", err)
	}
	if got := r.JobState(); got != session.StateIdle {
		t.Fatalf("expected Idle after raced cancel, got %s", got)
	}

	// One abort from Cancel before the process existed, one for the process
	// the start call went on to spawn.
	gw.mu.Lock()
	aborts := gw.cancelCalls
	gw.mu.Unlock()
	if aborts != 2 {
		t.Fatalf("spawned job not aborted, %d cancel calls", aborts)
	}

	// A completion from the orphaned run must not surface or persist.
	gw.emit(capability.Event{Type: capability.EventComplete, Artifact: &capability.Artifact{ID: "orphan"}})
	time.Sleep(20 * time.Millisecond)
	if r.Result() != nil {
		t.Fatalf("orphan completion leaked: %+v", r.Result())
	}

	// The capability stays usable for the next job.
	gw.startHook = nil
	done := startJob(t, r, Params{Prompt: "y"})
	gw.emit(capability.Event{Type: capability.EventComplete, Artifact: &capability.Artifact{ID: "a2"}})
	if err := <-done; err != nil {
		t.Fatalf("job after raced cancel: %v", err)
	}
}

func TestUnloadDuringJobIsNativeFailure(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)
	loadModel(t, r)

	done := startJob(t, r, Params{Prompt: "x"})

	if !r.Unload(context.Background()) {
		t.Fatal("Unload failed")
	}
	if err := <-done; !errors.Is(err, capability.ErrNativeFailure) {
		t.Fatalf("expected ErrNativeFailure, got %v", err)
	}
	if got := r.JobState(); got != session.StateFailed {
		t.Fatalf("expected Failed, got %s", got)
	}
	if state, _ := r.Model(); state != ModelUnloaded {
		t.Fatalf("model still %s after unload", state)
	}
	gw.mu.Lock()
	aborts := gw.cancelCalls
	gw.mu.Unlock()
	if aborts != 1 {
		t.Fatal("running job not aborted on unload")
	}
}

func TestEngineErrorFailsJob(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)
	loadModel(t, r)

	done := startJob(t, r, Params{Prompt: "x"})
	gw.emit(capability.Event{Type: capability.EventError, Message: "out of memory"})

	if err := <-done; !errors.Is(err, capability.ErrNativeFailure) {
		t.Fatalf("expected ErrNativeFailure, got %v", err)
	}
	if got := r.View().Error; got != "out of memory" {
		t.Fatalf("error not surfaced: %q", got)
	}

	// Failed acknowledges and the next job starts clean.
	r.ClearResult()
	done = startJob(t, r, Params{Prompt: "y"})
	gw.emit(capability.Event{Type: capability.EventComplete, Artifact: &capability.Artifact{ID: "a2"}})
	if err := <-done; err != nil {
		t.Fatalf("job after failure: %v", err)
	}
}

func TestStartFailureSurface(t *testing.T) {
	gw := newFakeGenGateway()
	gw.startErr = errors.New("binary exited 1")
	r := newRegistry(t, gw)
	loadModel(t, r)

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	if !errors.Is(err, capability.ErrStartFailure) {
		t.Fatalf("expected ErrStartFailure, got %v", err)
	}
	if got := r.JobState(); got != session.StateFailed {
		t.Fatalf("expected Failed, got %s", got)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	gw := newFakeGenGateway()
	r := newRegistry(t, gw)

	loadModel(t, r)
	loadModel(t, r)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.loadCalls != 1 {
		t.Fatalf("expected one engine load, got %d", gw.loadCalls)
	}
}

func TestListArtifactsCachesAndDegrades(t *testing.T) {
	gw := newFakeGenGateway()
	gw.artifacts = []capability.Artifact{{ID: "a1"}, {ID: "a2"}}
	r := newRegistry(t, gw)
	ctx := context.Background()

	if got := r.ListArtifacts(ctx); len(got) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(got))
	}
	r.ListArtifacts(ctx)
	gw.mu.Lock()
	calls := gw.listCalls
	gw.mu.Unlock()
	if calls != 1 {
		t.Fatalf("second list hit the gateway: %d calls", calls)
	}

	if !r.DeleteArtifact(ctx, "a1") {
		t.Fatal("delete reported missing artifact")
	}
	if got := r.ListArtifacts(ctx); len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("cache not updated after delete: %+v", got)
	}

	failing := newFakeGenGateway()
	failing.listErr = errors.New("database locked")
	r2 := newRegistry(t, failing)
	if got := r2.ListArtifacts(ctx); got == nil || len(got) != 0 {
		t.Fatalf("expected empty list on failure, got %v", got)
	}
	if r2.DeleteArtifact(ctx, "a1") {
		t.Fatal("delete of unknown artifact reported success")
	}
}
