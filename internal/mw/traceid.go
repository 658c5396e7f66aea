package mw

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewTraceIDFunc returns the trace id generator for format "uuid" or "ulid".
// Ids are always fresh; inbound request ids are not reused.
func NewTraceIDFunc(format string) (func() string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "uuid":
		return uuid.NewString, nil
	case "ulid":
		return func() string { return ulid.Make().String() }, nil
	default:
		return nil, fmt.Errorf("unknown trace id format %q", format)
	}
}
