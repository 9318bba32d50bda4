package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"atelier/internal/capability"
	"atelier/internal/daemon"
	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/logs"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Atelier", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun atelier stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func convertArtifact(artifact *capability.Artifact) *Artifact {
	if artifact == nil {
		return nil
	}
	out := Artifact(*artifact)
	return &out
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.LockPath = status.LockFilePath
	resp.SocketPath = status.SocketPath
	resp.MicPresent = status.MicPresent
	resp.Transcription = TranscriptionStatus{
		State:       string(status.Transcription.State),
		Epoch:       status.Transcription.Epoch,
		PartialText: status.Transcription.PartialText,
		FinalText:   status.Transcription.FinalText,
		Error:       status.Transcription.Error,
		StaleDrops:  status.Transcription.StaleDrops,
	}
	resp.Generation = GenerationStatus{
		JobState:   string(status.Generation.JobState),
		Epoch:      status.Generation.Epoch,
		ModelState: string(status.Generation.ModelState),
		ModelID:    status.Generation.ModelID,
		Progress:   status.Generation.Progress,
		Result:     convertArtifact(status.Generation.Result),
		Error:      status.Generation.Error,
		StaleDrops: status.Generation.StaleDrops,
	}
	if len(status.Dependencies) > 0 {
		resp.Dependencies = make([]DependencyStatus, 0, len(status.Dependencies))
		for _, dep := range status.Dependencies {
			resp.Dependencies = append(resp.Dependencies, DependencyStatus{
				Name:        dep.Name,
				Command:     dep.Command,
				Description: dep.Description,
				Optional:    dep.Optional,
				Available:   dep.Available,
				Detail:      dep.Detail,
			})
		}
	}
	if len(status.Preflight) > 0 {
		resp.Preflight = make([]PreflightResult, 0, len(status.Preflight))
		for _, check := range status.Preflight {
			resp.Preflight = append(resp.Preflight, PreflightResult{
				Name:   check.Name,
				Passed: check.Passed,
				Detail: check.Detail,
			})
		}
	}
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) TranscribeStart(req TranscribeStartRequest, resp *TranscribeStartResponse) error {
	s.log().Debug("transcription start requested")
	if err := s.daemon.Transcriber().Start(s.ctx, req.Language); err != nil {
		resp.Started = false
		resp.Message = s.daemon.UserMessage(err)
		return nil
	}
	resp.Started = true
	s.log().Info("transcription started via IPC",
		logging.String(logging.FieldEventType, "transcription_start"))
	return nil
}

func (s *service) TranscribeStop(_ TranscribeStopRequest, resp *TranscribeStopResponse) error {
	s.log().Debug("transcription stop requested")
	if err := s.daemon.StopTranscription(s.ctx); err != nil {
		resp.Stopped = false
		resp.Message = s.daemon.UserMessage(err)
		return nil
	}
	resp.Stopped = true
	return nil
}

func (s *service) TranscribeCancel(_ TranscribeCancelRequest, resp *TranscribeCancelResponse) error {
	s.log().Debug("transcription cancel requested")
	s.daemon.Transcriber().Cancel(s.ctx)
	resp.Cancelled = true
	return nil
}

func (s *service) TranscribeText(_ TranscribeTextRequest, resp *TranscribeTextResponse) error {
	snapshot := s.daemon.Transcriber().View()
	resp.State = string(snapshot.State)
	resp.PartialText = snapshot.PartialText
	resp.FinalText = snapshot.FinalText
	resp.Error = snapshot.Error
	return nil
}

func (s *service) TranscribeClear(_ TranscribeClearRequest, resp *TranscribeClearResponse) error {
	s.daemon.Transcriber().ClearResult()
	resp.Cleared = true
	return nil
}

func (s *service) Generate(req GenerateRequest, resp *GenerateResponse) error {
	s.log().Debug("generation requested")
	artifact, err := s.daemon.Registry().Generate(s.ctx, generation.Params{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		Seed:           req.Seed,
		Width:          req.Width,
		Height:         req.Height,
	})
	if err != nil {
		if errors.Is(err, generation.ErrJobCancelled) {
			resp.Message = "generation cancelled"
		} else {
			resp.Message = s.daemon.UserMessage(err)
		}
		return nil
	}
	resp.Artifact = convertArtifact(artifact)
	s.log().Info("generation finished via IPC",
		logging.String(logging.FieldEventType, "generation_complete"))
	return nil
}

func (s *service) GenerateCancel(_ GenerateCancelRequest, resp *GenerateCancelResponse) error {
	s.log().Debug("generation cancel requested")
	s.daemon.Registry().Cancel(s.ctx)
	resp.Cancelled = true
	return nil
}

func (s *service) ModelLoad(req ModelLoadRequest, resp *ModelLoadResponse) error {
	if req.Path == "" {
		return errors.New("model load requires a path")
	}
	s.log().Debug("model load requested", logging.String("model", req.Path))
	if !s.daemon.Registry().Load(s.ctx, req.Path) {
		resp.Loaded = false
		resp.Message = "model could not be loaded"
		return nil
	}
	resp.Loaded = true
	s.log().Info("model loaded via IPC",
		logging.String(logging.FieldEventType, "model_load"),
		logging.String("model", req.Path))
	return nil
}

func (s *service) ModelUnload(_ ModelUnloadRequest, resp *ModelUnloadResponse) error {
	s.log().Debug("model unload requested")
	resp.Unloaded = s.daemon.Registry().Unload(s.ctx)
	return nil
}

func (s *service) ArtifactsList(_ ArtifactsListRequest, resp *ArtifactsListResponse) error {
	artifacts := s.daemon.Registry().ListArtifacts(s.ctx)
	resp.Artifacts = make([]Artifact, 0, len(artifacts))
	for i := range artifacts {
		resp.Artifacts = append(resp.Artifacts, Artifact(artifacts[i]))
	}
	return nil
}

func (s *service) ArtifactsDelete(req ArtifactsDeleteRequest, resp *ArtifactsDeleteResponse) error {
	if req.ID == "" {
		return errors.New("artifact delete requires an id")
	}
	resp.Deleted = s.daemon.Registry().DeleteArtifact(s.ctx, req.ID)
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
