package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"atelier/internal/artifacts"
	"atelier/internal/capability"
	"atelier/internal/config"
	"atelier/internal/deps"
	"atelier/internal/engine/sdcli"
	"atelier/internal/engine/whispercli"
	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/micwatch"
	"atelier/internal/notifications"
	"atelier/internal/preflight"
	"atelier/internal/transcription"
)

// Daemon owns the capability controllers and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier notifications.Service
	mic      *micwatch.Monitor

	store       *artifacts.Store
	speech      *whispercli.Gateway
	diffusion   *sdcli.Gateway
	transcriber *transcription.Session
	registry    *generation.Registry

	logPath  string
	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	LockFilePath  string
	SocketPath    string
	MicPresent    bool
	Transcription transcription.Snapshot
	Generation    generation.Snapshot
	Dependencies  []deps.Status
	Preflight     []preflight.Result
}

// New constructs a daemon with initialized controllers. The artifact store is
// opened immediately; engine processes spawn lazily on first use.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	store, err := artifacts.Open(cfg.Paths.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	mic := micwatch.NewMonitor(logger)
	speech := whispercli.New(whispercli.Options{
		Binary:      cfg.Speech.Binary,
		ModelPath:   cfg.Speech.ModelPath,
		AudioDevice: cfg.Speech.AudioDevice,
		SampleRate:  cfg.Speech.SampleRate,
		MicProbe:    mic.Present,
	}, logger)
	diffusion := sdcli.New(sdcli.Options{
		Binary:  cfg.Generation.Binary,
		Threads: cfg.Generation.Threads,
	}, store, logger)
	notifier := notifications.NewService(cfg)

	transcriber, err := transcription.New(speech, cfg.Speech.Language, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create transcription session: %w", err)
	}
	registry, err := generation.New(diffusion, notifier, logger)
	if err != nil {
		transcriber.Close()
		store.Close()
		return nil, fmt.Errorf("create generation registry: %w", err)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "atelierd.lock")
	return &Daemon{
		cfg:         cfg,
		logger:      logger,
		notifier:    notifier,
		mic:         mic,
		store:       store,
		speech:      speech,
		diffusion:   diffusion,
		transcriber: transcriber,
		registry:    registry,
		logPath:     filepath.Join(cfg.Paths.LogDir, "atelier.log"),
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, begins device tracking, and runs the
// startup preflight. Preflight failures are logged, not fatal; the affected
// capability reports unavailable instead.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another atelier daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.mic.Start(d.ctx); err != nil {
		d.logger.Warn("capture device monitor failed to start", logging.Error(err))
	}

	for _, result := range preflight.RunAll(d.ctx, d.cfg) {
		if result.Passed {
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"))
	}

	if d.cfg.Generation.ModelPath != "" {
		go func() {
			if !d.registry.Load(d.ctx, d.cfg.Generation.ModelPath) {
				d.logger.Warn("configured diffusion model failed to load",
					logging.String("model", d.cfg.Generation.ModelPath))
			}
		}()
	}

	d.running.Store(true)
	d.startedAt = time.Now().UTC()
	d.logger.Info("atelier daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop cancels any live work and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	bg := context.Background()
	d.transcriber.Cancel(bg)
	d.registry.Cancel(bg)
	d.mic.Stop()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("atelier daemon stopped")
}

// Close releases all resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.transcriber.Close()
	d.registry.Close()
	d.speech.Close()
	d.diffusion.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Transcriber exposes the speech session controller.
func (d *Daemon) Transcriber() *transcription.Session {
	return d.transcriber
}

// Registry exposes the image job controller.
func (d *Daemon) Registry() *generation.Registry {
	return d.registry
}

// StopTranscription finalizes the live speech session and, once the final
// text is in, pushes a completion notification.
func (d *Daemon) StopTranscription(ctx context.Context) error {
	if err := d.transcriber.Stop(ctx); err != nil {
		return err
	}
	go func() {
		// The final hypothesis may land shortly after the stop request.
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if text := d.transcriber.FinalText(); text != "" {
				if err := d.notifier.NotifyTranscriptionCompleted(context.Background(), len(text)); err != nil {
					d.logger.Debug("transcription notification failed", logging.Error(err))
				}
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()
	return nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// UserMessage translates a controller error into its status-surface wording.
func (d *Daemon) UserMessage(err error) string {
	return capability.UserMessage(err)
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StartedAt:     d.startedAt,
		LockFilePath:  d.lockPath,
		SocketPath:    d.cfg.SocketPath(),
		MicPresent:    d.mic.Present(),
		Transcription: d.transcriber.View(),
		Generation:    d.registry.View(),
		Dependencies:  preflight.CheckSystemDeps(d.cfg),
		Preflight:     preflight.RunAll(ctx, d.cfg),
	}
}
