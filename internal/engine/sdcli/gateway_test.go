package sdcli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"atelier/internal/artifacts"
	"atelier/internal/capability"
	"atelier/internal/logging"
)

func setHelperCommand(t *testing.T, mode string) *[][]string {
	t.Helper()
	var calls [][]string
	var mu sync.Mutex
	original := command
	command = func(name string, args ...string) *exec.Cmd {
		mu.Lock()
		calls = append(calls, append([]string(nil), args...))
		mu.Unlock()
		outPath := ""
		for i, arg := range args {
			if arg == "--output" && i+1 < len(args) {
				outPath = args[i+1]
			}
		}
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("SD_HELPER_MODE=%s", mode),
			fmt.Sprintf("SD_HELPER_OUT=%s", outPath))
		return cmd
	}
	t.Cleanup(func() {
		command = original
	})
	return &calls
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("SD_HELPER_MODE") {
	case "success":
		fmt.Println("loading model")
		fmt.Println("sampling: 10/20")
		fmt.Println("sampling: 20/20")
		if out := os.Getenv("SD_HELPER_OUT"); out != "" {
			os.WriteFile(out, []byte("png"), 0o644)
		}
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "ggml assert failed")
		os.Exit(1)
	case "noimage":
		os.Exit(0)
	default:
		os.Exit(0)
	}
}

func newGateway(t *testing.T) (*Gateway, *artifacts.Store) {
	t.Helper()
	store, err := artifacts.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	g := New(Options{Binary: "sd", Threads: 4}, store, logging.NewNop())
	t.Cleanup(g.Close)
	return g, store
}

func loadTestModel(t *testing.T, g *Gateway) {
	t.Helper()
	model := t.TempDir() + "/sd-v1-5.safetensors"
	if err := os.WriteFile(model, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !g.Load(context.Background(), model) {
		t.Fatal("Load failed")
	}
}

type collector struct {
	mu     sync.Mutex
	events []capability.Event
}

func (c *collector) add(ev capability.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) find(typ capability.EventType) (capability.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return capability.Event{}, false
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

func TestParseProgress(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"sampling: 10/20", 50, true},
		{"step 3/4", 75, true},
		{"sampling: 20/20", 100, true},
		{"loading model from /m/sd.safetensors", 0, false},
		{"sampling: 1/0", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseProgress(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseProgress(%q) = %f, %v", tc.line, got, ok)
		}
	}
}

func TestRunPersistsArtifact(t *testing.T) {
	calls := setHelperCommand(t, "success")
	g, store := newGateway(t)
	loadTestModel(t, g)
	ctx := context.Background()

	var c collector
	if _, err := g.Subscribe(c.add); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	params := capability.StartParams{Prompt: "a red barn", Steps: 20, GuidanceScale: 7.5, Width: 512, Height: 512}
	if err := g.Start(ctx, params); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool {
		_, ok := c.find(capability.EventComplete)
		return ok
	})

	if _, ok := c.find(capability.EventProgress); !ok {
		t.Fatal("no progress events observed")
	}
	complete, _ := c.find(capability.EventComplete)
	if complete.Artifact == nil || complete.Artifact.Prompt != "a red barn" {
		t.Fatalf("artifact missing from completion: %+v", complete)
	}
	if complete.Artifact.Seed == 0 {
		t.Fatal("seed not assigned")
	}
	if _, err := os.Stat(complete.Artifact.Path); err != nil {
		t.Fatalf("image not on disk: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("store list = %v, %v", list, err)
	}

	if len(*calls) != 1 {
		t.Fatalf("expected one engine invocation, got %d", len(*calls))
	}
	args := (*calls)[0]
	for _, flag := range []string{"--prompt", "--steps", "--cfg-scale", "--width", "--height", "--seed", "--threads"} {
		found := false
		for _, arg := range args {
			if arg == flag {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("args missing %s: %v", flag, args)
		}
	}
}

func TestEngineFailureEmitsError(t *testing.T) {
	setHelperCommand(t, "failure")
	g, store := newGateway(t)
	loadTestModel(t, g)

	var c collector
	if _, err := g.Subscribe(c.add); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := g.Start(context.Background(), capability.StartParams{Prompt: "x"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool {
		_, ok := c.find(capability.EventError)
		return ok
	})

	list, err := store.List(context.Background())
	if err != nil || len(list) != 0 {
		t.Fatalf("failed run persisted an artifact: %v, %v", list, err)
	}
}

func TestMissingImageIsError(t *testing.T) {
	setHelperCommand(t, "noimage")
	g, _ := newGateway(t)
	loadTestModel(t, g)

	var c collector
	if _, err := g.Subscribe(c.add); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := g.Start(context.Background(), capability.StartParams{Prompt: "x"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		ev, ok := c.find(capability.EventError)
		return ok && ev.Message == "engine produced no image"
	})
}

func TestStartRequiresModel(t *testing.T) {
	setHelperCommand(t, "success")
	g, _ := newGateway(t)

	err := g.Start(context.Background(), capability.StartParams{Prompt: "x"})
	if err == nil {
		t.Fatal("expected start without a model to fail")
	}
}

func TestLoadRequiresExistingModel(t *testing.T) {
	g, _ := newGateway(t)
	if g.Load(context.Background(), "/does/not/exist.safetensors") {
		t.Fatal("expected load of missing model to fail")
	}
}
