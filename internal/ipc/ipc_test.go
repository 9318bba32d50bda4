package ipc_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"atelier/internal/daemon"
	"atelier/internal/ipc"
	"atelier/internal/logging"
	"atelier/internal/testsupport"
)

func TestIPCServerEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	socketPath := cfg.SocketPath()
	server, err := ipc.NewServer(ctx, socketPath, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("unix sockets not permitted in this environment: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	server.Serve()
	defer server.Close()

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running daemon")
	}
	if status.PID <= 0 {
		t.Fatalf("unexpected pid %d", status.PID)
	}
	if status.SocketPath != socketPath {
		t.Fatalf("socket path = %q, want %q", status.SocketPath, socketPath)
	}
	if status.Transcription.State != "idle" {
		t.Fatalf("transcription state = %q, want idle", status.Transcription.State)
	}
	if status.Generation.ModelState != "unloaded" {
		t.Fatalf("model state = %q, want unloaded", status.Generation.ModelState)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency statuses")
	}

	// No speech model is configured, so starting capture must fail with a
	// user-facing message rather than an RPC error.
	start, err := client.TranscribeStart("")
	if err != nil {
		t.Fatalf("TranscribeStart: %v", err)
	}
	if start.Started {
		t.Fatal("expected start to be refused without a model")
	}
	if start.Message == "" {
		t.Fatal("expected a user-facing message")
	}

	text, err := client.TranscribeText()
	if err != nil {
		t.Fatalf("TranscribeText: %v", err)
	}
	if text.State != "idle" {
		t.Fatalf("transcript state = %q, want idle", text.State)
	}

	gen, err := client.Generate(ipc.GenerateRequest{Prompt: "a lighthouse"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Artifact != nil {
		t.Fatal("expected no artifact without a loaded model")
	}
	if gen.Message == "" {
		t.Fatal("expected a user-facing message")
	}

	artifacts, err := client.ArtifactsList()
	if err != nil {
		t.Fatalf("ArtifactsList: %v", err)
	}
	if len(artifacts.Artifacts) != 0 {
		t.Fatalf("expected empty artifact list, got %d", len(artifacts.Artifacts))
	}

	deleted, err := client.ArtifactsDelete("no-such-artifact")
	if err != nil {
		t.Fatalf("ArtifactsDelete: %v", err)
	}
	if deleted.Deleted {
		t.Fatal("expected delete of unknown artifact to report false")
	}

	notify, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if notify.Sent {
		t.Fatal("expected notification to be skipped without a topic")
	}
	if notify.Message != "ntfy topic not configured" {
		t.Fatalf("unexpected message %q", notify.Message)
	}

	logPath := d.LogPath()
	if err := os.WriteFile(logPath, []byte("line one\nline two\nline three\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	tail, err := client.LogTail(ipc.LogTailRequest{Limit: 2})
	if err != nil {
		t.Fatalf("LogTail: %v", err)
	}
	if len(tail.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(tail.Lines))
	}
	if tail.Lines[0] != "line two" || tail.Lines[1] != "line three" {
		t.Fatalf("unexpected lines %q", tail.Lines)
	}

	// Follow mode should pick up lines appended after the recorded offset.
	appendDone := make(chan struct{})
	go func() {
		defer close(appendDone)
		time.Sleep(100 * time.Millisecond)
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = f.WriteString("line four\n")
	}()
	follow, err := client.LogTail(ipc.LogTailRequest{
		Offset:     tail.Offset,
		Follow:     true,
		WaitMillis: 2000,
	})
	if err != nil {
		t.Fatalf("LogTail follow: %v", err)
	}
	<-appendDone
	if len(follow.Lines) == 0 || follow.Lines[len(follow.Lines)-1] != "line four" {
		t.Fatalf("expected appended line, got %q", follow.Lines)
	}

	stop, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stop.Stopped {
		t.Fatal("expected stop to be acknowledged")
	}
}
