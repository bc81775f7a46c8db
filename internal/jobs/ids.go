package jobs

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns "<prefix>_<32 hex chars>".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewJobID returns a fresh job identifier.
func NewJobID() string { return NewID("job") }

// NewItemID returns a fresh item identifier.
func NewItemID() string { return NewID("item") }

// NewCorrelationID returns a fresh tracing token.
func NewCorrelationID() string { return NewID("corr") }
