package mw

import (
	"encoding/json"
	"net/http"
	"strings"
)

type TooLargePolicy string

const (
	// TooLargeReject answers 413 without calling the handler.
	TooLargeReject TooLargePolicy = "reject"
	// TooLargePassthrough hands the full stream to the handler and leaves the
	// body out of the log.
	TooLargePassthrough TooLargePolicy = "passthrough"
)

const omittedBody = "<omitted: request too large>"

func ParseTooLargePolicy(s string) TooLargePolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(TooLargePassthrough)) {
		return TooLargePassthrough
	}
	return TooLargeReject
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":     "request_too_large",
		"max_bytes": limit,
	})
}
