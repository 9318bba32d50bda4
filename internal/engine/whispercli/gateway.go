package whispercli

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"atelier/internal/capability"
	"atelier/internal/engine"
	"atelier/internal/logging"
)

var (
	command  = exec.Command
	lookPath = exec.LookPath
)

// Options configures the gateway. Zero values fall back to the defaults in
// config.
type Options struct {
	Binary      string
	ModelPath   string
	AudioDevice string
	SampleRate  int

	// MicProbe reports whether a capture device is present. Defaults to a
	// /dev/snd scan when nil.
	MicProbe func() bool
}

// Gateway runs the streaming speech engine.
type Gateway struct {
	binary      string
	modelPath   string
	audioDevice string
	sampleRate  int
	micProbe    func() bool
	logger      *slog.Logger
	hub         *engine.Hub

	mu          sync.Mutex
	cmd         *exec.Cmd
	initialized bool
	permitted   bool
	stopping    bool
	killed      bool
}

// New constructs the gateway. It does not touch the engine binary.
func New(opts Options, logger *slog.Logger) *Gateway {
	probe := opts.MicProbe
	if probe == nil {
		probe = defaultMicProbe
	}
	return &Gateway{
		binary:      opts.Binary,
		modelPath:   opts.ModelPath,
		audioDevice: opts.AudioDevice,
		sampleRate:  opts.SampleRate,
		micProbe:    probe,
		logger:      logging.NewComponentLogger(logger, "whispercli"),
		hub:         engine.NewHub(),
	}
}

// Available reports whether the engine binary, model, and a capture device
// are all present. No side effects.
func (g *Gateway) Available(context.Context) bool {
	if _, err := lookPath(g.binary); err != nil {
		return false
	}
	if _, err := os.Stat(g.modelPath); err != nil {
		return false
	}
	return g.micProbe()
}

// RequestPermission verifies the process can read the capture device. The
// result is cached; asking again after a grant is a no-op.
func (g *Gateway) RequestPermission(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.permitted {
		return true
	}
	device := g.audioDevice
	if device == "" {
		device = "/dev/snd"
	}
	if err := unix.Access(device, unix.R_OK); err != nil {
		g.logger.Warn("capture device not readable",
			logging.String("device", device), logging.Error(err),
			logging.String(logging.FieldErrorHint, "add the daemon user to the audio group"))
		return false
	}
	g.permitted = true
	return true
}

// Initialize confirms the model file is readable. Idempotent.
func (g *Gateway) Initialize(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initialized {
		return true
	}
	f, err := os.Open(g.modelPath)
	if err != nil {
		g.logger.Warn("model not readable", logging.String("model", g.modelPath), logging.Error(err))
		return false
	}
	f.Close()
	g.initialized = true
	return true
}

// Start launches the engine process. The process outlives the start call's
// context; its lifetime is governed by Stop and Cancel.
func (g *Gateway) Start(_ context.Context, params capability.StartParams) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmd != nil {
		return capability.Wrap(capability.ErrStartFailure, "whispercli", "start", "engine already running", nil)
	}

	cmd := command(g.binary, g.buildArgs(params.Language)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return capability.Wrap(capability.ErrStartFailure, "whispercli", "start", "stdout pipe", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return capability.Wrap(capability.ErrStartFailure, "whispercli", "start", "spawn engine", err)
	}

	g.cmd = cmd
	g.stopping = false
	g.killed = false
	go g.consume(cmd, stdout)
	return nil
}

// Stop asks the running engine to finalize and exit.
func (g *Gateway) Stop(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmd == nil || g.cmd.Process == nil {
		return nil
	}
	g.stopping = true
	return g.cmd.Process.Signal(syscall.SIGINT)
}

// Cancel kills the running engine immediately. Idempotent.
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

// Close tears the engine down and drops all subscribers.
func (g *Gateway) Close() {
	g.Cancel(context.Background())
	g.hub.Close()
}

func (g *Gateway) buildArgs(language string) []string {
	args := []string{
		"--model", g.modelPath,
		"--output-json",
	}
	if g.sampleRate > 0 {
		args = append(args, "--sample-rate", strconv.Itoa(g.sampleRate))
	}
	if g.audioDevice != "" {
		args = append(args, "--device", g.audioDevice)
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	return args
}

type engineLine struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

// parseLine maps one engine output line to an event. Non-JSON diagnostics
// from the engine are skipped.
func parseLine(line []byte) (capability.Event, bool) {
	var payload engineLine
	if err := json.Unmarshal(line, &payload); err != nil {
		return capability.Event{}, false
	}
	switch payload.Type {
	case "start":
		return capability.Event{Type: capability.EventStart}, true
	case "partial":
		return capability.Event{Type: capability.EventPartial, Text: payload.Text}, true
	case "final":
		return capability.Event{Type: capability.EventFinal, Text: payload.Text}, true
	case "error":
		return capability.Event{Type: capability.EventError, Message: payload.Message}, true
	default:
		return capability.Event{}, false
	}
}

// consume owns the process from spawn to reap.
func (g *Gateway) consume(cmd *exec.Cmd, stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if ev, ok := parseLine(scanner.Bytes()); ok {
			g.hub.Emit(ev)
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

	if err != nil && !killed && !stopping {
		g.logger.Warn("engine exited unexpectedly", logging.Error(err),
			logging.String(logging.FieldEventType, "speech_engine_exit"))
		g.hub.Emit(capability.Event{Type: capability.EventError, Message: err.Error()})
	}
}

// defaultMicProbe looks for an ALSA capture node.
func defaultMicProbe() bool {
	entries, err := os.ReadDir("/dev/snd")
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if len(name) > 0 && name[0] == 'p' && name[len(name)-1] == 'c' {
			// pcmC*D*c nodes are capture devices.
			return true
		}
	}
	return false
}
