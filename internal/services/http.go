package services

import (
	"fmt"
	"net/http"
	"strings"
)

const maxStatusBody = 512

// HTTPStatusError classifies a non-2xx response. Rate limits and server
// errors are transient; auth failures are configuration problems; other
// client errors are validation failures.
func HTTPStatusError(stage, operation string, status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxStatusBody {
		snippet = snippet[:maxStatusBody]
	}
	message := fmt.Sprintf("http %d", status)
	if snippet != "" {
		message += ": " + snippet
	}

	var marker error
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		marker = ErrTransient
	case status == http.StatusNotFound:
		marker = ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		marker = ErrConfiguration
	default:
		marker = ErrValidation
	}
	return Wrap(marker, stage, operation, message, nil)
}
