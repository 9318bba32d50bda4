package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"atelier/internal/config"
)

const userAgent = "Atelier/0.1.0"

// Service defines the notification surface exposed to the capability
// controllers and the daemon.
type Service interface {
	NotifyGenerationCompleted(ctx context.Context, prompt, path string) error
	NotifyGenerationFailed(ctx context.Context, prompt, reason string) error
	NotifyTranscriptionCompleted(ctx context.Context, length int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:          topic,
		client:            &http.Client{Timeout: timeout},
		generationEnabled: cfg.Notifications.Generation,
		speechEnabled:     cfg.Notifications.Transcription,
		errorsEnabled:     cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint          string
	client            *http.Client
	generationEnabled bool
	speechEnabled     bool
	errorsEnabled     bool
}

func (n *ntfyService) NotifyGenerationCompleted(ctx context.Context, prompt, path string) error {
	if !n.generationEnabled {
		return nil
	}
	prompt = strings.TrimSpace(prompt)
	message := fmt.Sprintf("Image ready: %s", truncate(prompt, 120))
	if path = strings.TrimSpace(path); path != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, path)
	}
	return n.send(ctx, payload{
		title:   "Atelier - Image Ready",
		message: message,
		tags:    []string{"atelier", "generation", "completed"},
	})
}

func (n *ntfyService) NotifyGenerationFailed(ctx context.Context, prompt, reason string) error {
	if !n.generationEnabled {
		return nil
	}
	return n.send(ctx, payload{
		title:    "Atelier - Generation Failed",
		message:  fmt.Sprintf("Generation failed: %s\n%s", truncate(strings.TrimSpace(prompt), 120), strings.TrimSpace(reason)),
		tags:     []string{"atelier", "generation", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyTranscriptionCompleted(ctx context.Context, length int) error {
	if !n.speechEnabled {
		return nil
	}
	return n.send(ctx, payload{
		title:   "Atelier - Transcript Ready",
		message: fmt.Sprintf("Transcription complete (%d characters)", length),
		tags:    []string{"atelier", "transcription", "completed"},
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errorsEnabled {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "Atelier - Error",
		message:  builder.String(),
		tags:     []string{"atelier", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Atelier - Test",
		message:  "Notification system test",
		tags:     []string{"atelier", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

type noopService struct{}

func (noopService) NotifyGenerationCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyGenerationFailed(context.Context, string, string) error    { return nil }
func (noopService) NotifyTranscriptionCompleted(context.Context, int) error         { return nil }
func (noopService) NotifyError(context.Context, error, string) error                { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }
