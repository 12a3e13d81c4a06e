package backend

import (
	"encoding/json"
	"fmt"
)

// Job kinds understood by the processing backend.
const (
	KindParse      = "parse"
	KindFindBroken = "find-broken"
)

var submitPaths = map[string]string{
	KindParse:      "/api/parse-files",
	KindFindBroken: "/api/find-broken-files",
}

// Error is a non-2xx answer from the backend. It carries no Timeout method on
// purpose: an HTTP-level rejection is never retried.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
}

// submitResponse mirrors the backend's job-creation answer.
type submitResponse struct {
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// resultResponse mirrors the backend's result endpoint.
type resultResponse struct {
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result"`
}

// errorResponse mirrors the backend's error body.
type errorResponse struct {
	Detail string `json:"detail"`
}
