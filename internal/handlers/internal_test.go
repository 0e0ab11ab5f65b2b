package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RelayDigital/vrem-sub004/internal/services"
)

func newInternalRouter(h *InternalHandlers) http.Handler {
	router := chi.NewRouter()
	h.Routes(router)
	return router
}

func postExpireStale(router http.Handler, token string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders/expire-stale", bytes.NewReader([]byte(body)))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestExpireStaleSweepsWithDefaultCutoff(t *testing.T) {
	var captured time.Duration
	fulfillment := &stubFulfillmentService{
		expireStale: func(_ context.Context, olderThan time.Duration) (int, error) {
			captured = olderThan
			return 3, nil
		},
	}
	handler := NewInternalHandlers(InternalHandlersConfig{
		Fulfillment:   fulfillment,
		Token:         "scheduler-secret",
		StaleOrderAge: 45 * time.Minute,
	})

	rr := postExpireStale(newInternalRouter(handler), "scheduler-secret", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured != 45*time.Minute {
		t.Fatalf("expected configured cutoff, got %v", captured)
	}
	payload := decodeJSONBody(t, rr)
	if payload["expired"] != float64(3) {
		t.Fatalf("unexpected expired count %v", payload["expired"])
	}
}

func TestExpireStaleParsesRequestedCutoff(t *testing.T) {
	var captured time.Duration
	fulfillment := &stubFulfillmentService{
		expireStale: func(_ context.Context, olderThan time.Duration) (int, error) {
			captured = olderThan
			return 0, nil
		},
	}
	handler := NewInternalHandlers(InternalHandlersConfig{
		Fulfillment: fulfillment,
		Token:       "scheduler-secret",
	})

	rr := postExpireStale(newInternalRouter(handler), "scheduler-secret", `{"olderThan":"90m"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured != 90*time.Minute {
		t.Fatalf("expected 90m cutoff, got %v", captured)
	}
}

func TestExpireStaleRejectsBadCutoff(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unparseable", `{"olderThan":"soon"}`},
		{"negative", `{"olderThan":"-5m"}`},
		{"zero", `{"olderThan":"0s"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fulfillment := &stubFulfillmentService{
				expireStale: func(context.Context, time.Duration) (int, error) {
					t.Fatal("sweep must not run with an invalid cutoff")
					return 0, nil
				},
			}
			handler := NewInternalHandlers(InternalHandlersConfig{
				Fulfillment: fulfillment,
				Token:       "scheduler-secret",
			})

			rr := postExpireStale(newInternalRouter(handler), "scheduler-secret", tc.body)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			if payload := decodeJSONBody(t, rr); payload["error"] != "invalid_request" {
				t.Fatalf("unexpected error code %v", payload["error"])
			}
		})
	}
}

func TestExpireStaleMasksUnauthorizedCallers(t *testing.T) {
	cases := []struct {
		name      string
		configure string
		present   string
	}{
		{"missing token", "scheduler-secret", ""},
		{"wrong token", "scheduler-secret", "guessed-secret"},
		{"endpoint disabled", "", "scheduler-secret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fulfillment := &stubFulfillmentService{
				expireStale: func(context.Context, time.Duration) (int, error) {
					t.Fatal("unauthorized callers must not trigger the sweep")
					return 0, nil
				},
			}
			handler := NewInternalHandlers(InternalHandlersConfig{
				Fulfillment: fulfillment,
				Token:       tc.configure,
			})

			rr := postExpireStale(newInternalRouter(handler), tc.present, "")

			if rr.Code != http.StatusNotFound {
				t.Fatalf("expected status 404, got %d", rr.Code)
			}
			payload := decodeJSONBody(t, rr)
			if payload["error"] != errorNotFoundCode {
				t.Fatalf("expected masked error code, got %v", payload["error"])
			}
			message, _ := payload["message"].(string)
			if !strings.Contains(message, "no route for /orders/expire-stale") {
				t.Fatalf("expected masked message, got %q", message)
			}
		})
	}
}

func TestExpireStaleSurfacesSweepFailure(t *testing.T) {
	fulfillment := &stubFulfillmentService{
		expireStale: func(context.Context, time.Duration) (int, error) {
			return 0, services.ErrPaymentGateway
		},
	}
	handler := NewInternalHandlers(InternalHandlersConfig{
		Fulfillment: fulfillment,
		Token:       "scheduler-secret",
	})

	rr := postExpireStale(newInternalRouter(handler), "scheduler-secret", "")

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
	if payload := decodeJSONBody(t, rr); payload["error"] != "payment_gateway_unavailable" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
}
