// Package httpx renders the API's JSON error envelope.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/RelayDigital/vrem-sub004/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Error is an API error before rendering. Details are merged into the top
// level of the envelope, next to error, message and status.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an error envelope. A zero status renders as 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLen),
		Message: clean(message, maxMessageLen),
		Status:  status,
	}
}

// WithDetails returns a copy of the error carrying extra envelope fields.
// Keys that collide with the reserved envelope fields are dropped at render
// time, never the other way around.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError renders the envelope. The request id comes from the chi
// middleware and the trace id from the request context, so handlers only
// supply code, message and status.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status

	if requestID := clean(middleware.GetReqID(ctx), maxIDLen); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := clean(requestctx.TraceID(ctx), maxIDLen); traceID != "" {
		payload["trace_id"] = traceID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// clean collapses newlines and caps length so envelope fields stay log and
// header safe.
func clean(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
