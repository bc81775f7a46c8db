package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	// ErrPoison marks payloads that can never be processed and must be dead-lettered.
	ErrPoison = errors.New("poison message")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails is the user-facing summary of a classified error.
type ErrorDetails struct {
	Kind    string
	Message string
}

// Details classifies err and strips the marker prefix from its message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	kind, marker := classify(err)
	message := strings.TrimSpace(err.Error())
	if marker != nil {
		message = strings.TrimSpace(strings.TrimPrefix(message, marker.Error()+":"))
	}
	return ErrorDetails{Kind: kind, Message: message}
}

// IsPoison reports whether err marks an unprocessable payload.
func IsPoison(err error) bool {
	return errors.Is(err, ErrPoison)
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPoison) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err is worth retrying locally.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func classify(err error) (string, error) {
	switch {
	case errors.Is(err, ErrPoison):
		return "poison", ErrPoison
	case errors.Is(err, ErrValidation):
		return "validation", ErrValidation
	case errors.Is(err, ErrConfiguration):
		return "configuration", ErrConfiguration
	case errors.Is(err, ErrNotFound):
		return "not_found", ErrNotFound
	case errors.Is(err, ErrTimeout):
		return "timeout", ErrTimeout
	case errors.Is(err, ErrExternalTool):
		return "external", ErrExternalTool
	case errors.Is(err, ErrTransient):
		return "transient", ErrTransient
	default:
		return "unknown", nil
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
