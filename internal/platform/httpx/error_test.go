package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/RelayDigital/vrem-sub004/internal/platform/requestctx"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return payload
}

func TestWriteErrorRendersEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("order_not_found", "order not found", http.StatusNotFound))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	payload := decodeEnvelope(t, rr)
	if payload["error"] != "order_not_found" || payload["message"] != "order not found" {
		t.Fatalf("unexpected envelope %v", payload)
	}
	if payload["status"] != float64(http.StatusNotFound) {
		t.Fatalf("unexpected status field %v", payload["status"])
	}
	if _, ok := payload["request_id"]; ok {
		t.Fatal("expected no request id outside middleware")
	}
}

func TestWriteErrorMergesDetailsAtTopLevel(t *testing.T) {
	rr := httptest.NewRecorder()
	err := NewError("schedule_conflict", "slot taken", http.StatusConflict).
		WithDetails(map[string]any{"conflicts": []any{"prj_1"}})
	WriteError(context.Background(), rr, err)

	payload := decodeEnvelope(t, rr)
	conflicts, ok := payload["conflicts"].([]any)
	if !ok || len(conflicts) != 1 || conflicts[0] != "prj_1" {
		t.Fatalf("expected top-level conflicts detail, got %v", payload)
	}
}

func TestWriteErrorReservedFieldsWin(t *testing.T) {
	rr := httptest.NewRecorder()
	err := NewError("invalid_request", "bad input", http.StatusBadRequest).
		WithDetails(map[string]any{"error": "spoofed", "hint": "fix it"})
	WriteError(context.Background(), rr, err)

	payload := decodeEnvelope(t, rr)
	if payload["error"] != "invalid_request" {
		t.Fatalf("expected reserved error field to win, got %v", payload["error"])
	}
	if payload["hint"] != "fix it" {
		t.Fatalf("expected hint detail, got %v", payload)
	}
}

func TestWriteErrorIncludesRequestAndTraceIDs(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-42"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("orders_error", "boom", http.StatusInternalServerError))

	payload := decodeEnvelope(t, rr)
	if payload["request_id"] != "req-42" {
		t.Fatalf("expected request id, got %v", payload["request_id"])
	}
	if payload["trace_id"] != "trace-42" {
		t.Fatalf("expected trace id, got %v", payload["trace_id"])
	}
}

func TestWriteErrorDefaultsZeroStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, Error{Code: "orders_error", Message: "boom"})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestNewErrorCleansInput(t *testing.T) {
	err := NewError("code\nwith\rbreaks", strings.Repeat("m", 600), http.StatusBadRequest)
	if strings.ContainsAny(err.Code, "\n\r") {
		t.Fatalf("expected newline-free code, got %q", err.Code)
	}
	if len(err.Message) != 512 {
		t.Fatalf("expected message capped at 512, got %d", len(err.Message))
	}
}
