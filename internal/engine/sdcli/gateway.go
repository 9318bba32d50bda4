package sdcli

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"atelier/internal/artifacts"
	"atelier/internal/capability"
	"atelier/internal/engine"
	"atelier/internal/logging"
)

var (
	command  = exec.Command
	lookPath = exec.LookPath
)

var stepPattern = regexp.MustCompile(`(?:step|sampling)[:\s]+(\d+)\s*/\s*(\d+)`)

// Options configures the gateway.
type Options struct {
	Binary  string
	Threads int
}

// Gateway runs the diffusion engine and owns artifact persistence.
type Gateway struct {
	binary  string
	threads int
	store   *artifacts.Store
	logger  *slog.Logger
	hub     *engine.Hub

	mu        sync.Mutex
	cmd       *exec.Cmd
	modelPath string
	killed    bool
	stopping  bool
}

// New constructs the gateway around an open artifact store.
func New(opts Options, store *artifacts.Store, logger *slog.Logger) *Gateway {
	return &Gateway{
		binary:  opts.Binary,
		threads: opts.Threads,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "sdcli"),
		hub:     engine.NewHub(),
	}
}

// Available reports whether the engine binary is on the path.
func (g *Gateway) Available(context.Context) bool {
	_, err := lookPath(g.binary)
	return err == nil
}

// RequestPermission always grants; generation only touches the artifact
// directory.
func (g *Gateway) RequestPermission(context.Context) bool { return true }

// Initialize confirms the artifact store is usable.
func (g *Gateway) Initialize(ctx context.Context) bool {
	if g.store == nil {
		return false
	}
	if _, err := g.store.Count(ctx); err != nil {
		g.logger.Warn("artifact store unusable", logging.Error(err))
		return false
	}
	return true
}

// Load records the model after verifying it exists on disk.
func (g *Gateway) Load(_ context.Context, modelPath string) bool {
	if _, err := os.Stat(modelPath); err != nil {
		g.logger.Warn("model not found", logging.String("model", modelPath), logging.Error(err))
		return false
	}
	g.mu.Lock()
	g.modelPath = modelPath
	g.mu.Unlock()
	return true
}

// Unload forgets the model. Idempotent.
func (g *Gateway) Unload(context.Context) bool {
	g.mu.Lock()
	g.modelPath = ""
	g.mu.Unlock()
	return true
}

// Start launches one generation run. The process lifetime is governed by
// Stop and Cancel, not the start call's context.
func (g *Gateway) Start(_ context.Context, params capability.StartParams) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmd != nil {
		return capability.Wrap(capability.ErrStartFailure, "sdcli", "start", "engine already running", nil)
	}
	if g.modelPath == "" {
		return capability.Wrap(capability.ErrStartFailure, "sdcli", "start", "no model loaded", nil)
	}

	seed := params.Seed
	if seed == 0 {
		seed = rand.Int63n(1<<31 - 1)
	}
	id := uuid.NewString()
	outPath := filepath.Join(g.store.Dir(), id+".png")

	cmd := command(g.binary, g.buildArgs(params, g.modelPath, seed, outPath)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return capability.Wrap(capability.ErrStartFailure, "sdcli", "start", "stdout pipe", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return capability.Wrap(capability.ErrStartFailure, "sdcli", "start", "spawn engine", err)
	}

	artifact := capability.Artifact{
		ID:      id,
		Prompt:  params.Prompt,
		Path:    outPath,
		Width:   params.Width,
		Height:  params.Height,
		Steps:   params.Steps,
		Seed:    seed,
		ModelID: filepath.Base(g.modelPath),
	}
	g.cmd = cmd
	g.killed = false
	g.stopping = false
	go g.consume(cmd, stdout, artifact)
	return nil
}

// Stop interrupts the run gracefully.
func (g *Gateway) Stop(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmd == nil || g.cmd.Process == nil {
		return nil
	}
	g.stopping = true
	return g.cmd.Process.Signal(syscall.SIGINT)
}

// Cancel kills the run immediately. Idempotent.
func (g *Gateway) Cancel(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmd == nil || g.cmd.Process == nil {
		return nil
	}
	g.killed = true
	return g.cmd.Process.Kill()
}

// Subscribe registers an event callback.
func (g *Gateway) Subscribe(fn func(capability.Event)) (capability.Subscription, error) {
	return g.hub.Subscribe(fn)
}

// List returns the persisted artifacts, newest first.
func (g *Gateway) List(ctx context.Context) ([]capability.Artifact, error) {
	return g.store.List(ctx)
}

// Delete removes one artifact and its image file.
func (g *Gateway) Delete(ctx context.Context, id string) (bool, error) {
	return g.store.Delete(ctx, id)
}

// Close tears the engine down and drops all subscribers.
func (g *Gateway) Close() {
	g.Cancel(context.Background())
	g.hub.Close()
}

func (g *Gateway) buildArgs(params capability.StartParams, model string, seed int64, outPath string) []string {
	args := []string{
		"--model", model,
		"--prompt", params.Prompt,
		"--steps", strconv.Itoa(params.Steps),
		"--cfg-scale", strconv.FormatFloat(params.GuidanceScale, 'f', -1, 64),
		"--width", strconv.Itoa(params.Width),
		"--height", strconv.Itoa(params.Height),
		"--seed", strconv.FormatInt(seed, 10),
		"--output", outPath,
	}
	if params.NegativePrompt != "" {
		args = append(args, "--negative-prompt", params.NegativePrompt)
	}
	if g.threads > 0 {
		args = append(args, "--threads", strconv.Itoa(g.threads))
	}
	return args
}

// parseProgress extracts a step counter from one engine output line.
func parseProgress(line string) (float64, bool) {
	m := stepPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	step, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	total, err := strconv.Atoi(m[2])
	if err != nil || total <= 0 {
		return 0, false
	}
	return float64(step) / float64(total) * 100, true
}

func (g *Gateway) consume(cmd *exec.Cmd, stdout io.ReadCloser, artifact capability.Artifact) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if percent, ok := parseProgress(scanner.Text()); ok {
			g.hub.Emit(capability.Event{Type: capability.EventProgress, Percent: percent})
		}
	}
	err := cmd.Wait()

	g.mu.Lock()
	killed := g.killed
	stopping := g.stopping
	if g.cmd == cmd {
		g.cmd = nil
	}
	g.mu.Unlock()

	if killed || stopping {
		os.Remove(artifact.Path)
		return
	}
	if err != nil {
		g.logger.Warn("engine exited unexpectedly", logging.Error(err),
			logging.String(logging.FieldEventType, "generation_engine_exit"))
		g.hub.Emit(capability.Event{Type: capability.EventError, Message: err.Error()})
		return
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		g.hub.Emit(capability.Event{Type: capability.EventError, Message: "engine produced no image"})
		return
	}

	artifact.CreatedAt = time.Now().UTC()
	if err := g.store.Insert(context.Background(), artifact); err != nil {
		g.logger.Warn("artifact not recorded", logging.Error(err),
			logging.String("artifact_id", artifact.ID))
	}
	g.hub.Emit(capability.Event{Type: capability.EventComplete, Artifact: &artifact})
}
