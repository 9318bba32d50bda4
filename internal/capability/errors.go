package capability

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for capability failures. Wrap tags errors with one of
// these so callers can classify with errors.Is without string matching.
var (
	// ErrUnavailable means the engine or device is unsupported on this host.
	// Terminal; retrying without an environment change is pointless.
	ErrUnavailable = errors.New("capability unavailable")

	// ErrPermissionDenied means required user consent is missing or revoked.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrBusy means a session is already active for the capability. The
	// rejected call mutated nothing.
	ErrBusy = errors.New("session busy")

	// ErrNoSession means the operation needs a live session and none exists.
	ErrNoSession = errors.New("no active session")

	// ErrInvalidParams means local validation failed before any engine call.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrStartFailure means the engine rejected the start request.
	ErrStartFailure = errors.New("engine start failure")

	// ErrNativeFailure means the engine reported a runtime error mid-session.
	ErrNativeFailure = errors.New("native engine failure")
)

// Wrap builds an error tagged with the given sentinel so it classifies
// correctly while keeping component and operation context in the message.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrNativeFailure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "capability failure"
	}
	return strings.Join(parts, ": ")
}

// UserMessage maps a capability error onto the caller-visible description for
// its failure surface. Each sentinel keeps a distinct message so the surfaces
// never collapse into a generic error.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Permission denied. Grant access and try again."
	case errors.Is(err, ErrUnavailable):
		return "This capability is not available on this device."
	case errors.Is(err, ErrBusy):
		return "A session is already running."
	case errors.Is(err, ErrNoSession):
		return "No session is running."
	case errors.Is(err, ErrInvalidParams):
		return "Invalid parameters: " + trimSentinel(err)
	case errors.Is(err, ErrStartFailure):
		return "The engine failed to start."
	case errors.Is(err, ErrNativeFailure):
		return "The engine reported an error: " + trimSentinel(err)
	default:
		return err.Error()
	}
}

func trimSentinel(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx >= 0 {
		return msg[idx+2:]
	}
	return msg
}
