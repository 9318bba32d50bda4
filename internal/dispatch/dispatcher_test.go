package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"atelier/internal/capability"
	"atelier/internal/logging"
)

type stubGateway struct {
	mu   sync.Mutex
	subs map[int]func(capability.Event)
	next int
}

func newStubGateway() *stubGateway {
	return &stubGateway{subs: map[int]func(capability.Event){}}
}

func (g *stubGateway) Subscribe(fn func(capability.Event)) (capability.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	id := g.next
	g.subs[id] = fn
	return &stubSub{gw: g, id: id}, nil
}

func (g *stubGateway) emit(ev capability.Event) {
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

func (g *stubGateway) subscriberCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

func (g *stubGateway) Available(context.Context) bool         { return true }
func (g *stubGateway) RequestPermission(context.Context) bool { return true }
func (g *stubGateway) Initialize(context.Context) bool        { return true }
func (g *stubGateway) Start(context.Context, capability.StartParams) error {
	return nil
}
func (g *stubGateway) Stop(context.Context) error   { return nil }
func (g *stubGateway) Cancel(context.Context) error { return nil }

type stubSub struct {
	gw   *stubGateway
	id   int
	once sync.Once
}

func (s *stubSub) Close() {
	s.once.Do(func() {
		s.gw.mu.Lock()
		delete(s.gw.subs, s.id)
		s.gw.mu.Unlock()
	})
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

func TestDeliversInArrivalOrderWithEpochStamp(t *testing.T) {
	gw := newStubGateway()
	var epoch atomic.Uint64
	epoch.Store(7)

	var mu sync.Mutex
	var got []stamped
	d := New(logging.NewNop(), epoch.Load, func(e uint64, ev capability.Event) {
		mu.Lock()
		got = append(got, stamped{epoch: e, ev: ev})
		mu.Unlock()
	})
	defer d.Close()
	if err := d.Attach(gw); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	gw.emit(capability.Event{Type: capability.EventPartial, Text: "hel"})
	gw.emit(capability.Event{Type: capability.EventPartial, Text: "hello"})
	epoch.Store(8)
	gw.emit(capability.Event{Type: capability.EventFinal, Text: "hello world"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].ev.Text != "hel" || got[1].ev.Text != "hello" || got[2].ev.Text != "hello world" {
		t.Fatalf("order violated: %+v", got)
	}
	if got[0].epoch != 7 || got[1].epoch != 7 || got[2].epoch != 8 {
		t.Fatalf("epoch stamps wrong: %+v", got)
	}
}

func TestReattachReplacesSubscriptionAndMutesOldOne(t *testing.T) {
	gw := newStubGateway()
	var delivered atomic.Int64
	d := New(logging.NewNop(), func() uint64 { return 1 }, func(uint64, capability.Event) {
		delivered.Add(1)
	})
	defer d.Close()

	if err := d.Attach(gw); err != nil {
		t.Fatalf("first Attach failed: %v", err)
	}
	if err := d.Attach(gw); err != nil {
		t.Fatalf("second Attach failed: %v", err)
	}
	if n := gw.subscriberCount(); n != 1 {
		t.Fatalf("expected exactly one live subscription, got %d", n)
	}

	gw.emit(capability.Event{Type: capability.EventPartial, Text: "x"})
	waitFor(t, func() bool { return delivered.Load() == 1 })
}

func TestCloseReleasesSubscriptionAndIsIdempotent(t *testing.T) {
	gw := newStubGateway()
	d := New(logging.NewNop(), func() uint64 { return 1 }, func(uint64, capability.Event) {})
	if err := d.Attach(gw); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	d.Close()
	d.Close()
	if n := gw.subscriberCount(); n != 0 {
		t.Fatalf("subscription leaked: %d", n)
	}
}
