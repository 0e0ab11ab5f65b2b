package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RelayDigital/vrem-sub004/internal/platform/auth"
	"github.com/RelayDigital/vrem-sub004/internal/platform/httpx"
	"github.com/RelayDigital/vrem-sub004/internal/services"
)

// InternalHandlersConfig wires the internal maintenance endpoints.
type InternalHandlersConfig struct {
	Fulfillment services.FulfillmentService

	// Token is the static bearer token expected from the scheduler. An empty
	// token disables the endpoints entirely.
	Token string

	// StaleOrderAge is the default cutoff for the expiry sweep when the
	// request does not carry one.
	StaleOrderAge time.Duration

	// OIDC, when set, accepts a Google-signed OIDC token (Cloud Scheduler,
	// IAP) as an alternative to the static token.
	OIDC         *auth.OIDCValidator
	OIDCAudience string
	OIDCIssuers  []string
}

// InternalHandlers serves scheduler-invoked maintenance work. Requests that
// fail authentication get a 404, not a 401, so the endpoints stay invisible
// to probing.
type InternalHandlers struct {
	fulfillment  services.FulfillmentService
	token        string
	staleAge     time.Duration
	oidc         *auth.OIDCValidator
	oidcAudience string
	oidcIssuers  []string
}

// NewInternalHandlers constructs the internal handlers.
func NewInternalHandlers(cfg InternalHandlersConfig) *InternalHandlers {
	staleAge := cfg.StaleOrderAge
	if staleAge <= 0 {
		staleAge = time.Hour
	}
	return &InternalHandlers{
		fulfillment:  cfg.Fulfillment,
		token:        strings.TrimSpace(cfg.Token),
		staleAge:     staleAge,
		oidc:         cfg.OIDC,
		oidcAudience: strings.TrimSpace(cfg.OIDCAudience),
		oidcIssuers:  cfg.OIDCIssuers,
	}
}

// Routes registers internal endpoints under the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/expire-stale", h.expireStale)
}

type expireStaleRequest struct {
	OlderThan string `json:"olderThan"`
}

type expireStaleResponse struct {
	Expired int `json:"expired"`
}

func (h *InternalHandlers) expireStale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorized(r) {
		httpx.WriteError(ctx, w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", r.URL.Path), http.StatusNotFound))
		return
	}
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	olderThan := h.staleAge
	if r.Body != nil {
		var req expireStaleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && strings.TrimSpace(req.OlderThan) != "" {
			parsed, err := time.ParseDuration(strings.TrimSpace(req.OlderThan))
			if err != nil || parsed <= 0 {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "olderThan must be a positive duration", http.StatusBadRequest))
				return
			}
			olderThan = parsed
		}
	}

	expired, err := h.fulfillment.ExpireStale(ctx, olderThan)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, expireStaleResponse{Expired: expired})
}

// authorized checks the static scheduler token, then falls back to OIDC when
// a validator is configured. An unset token and no validator always fails, so
// a misconfigured deployment rejects rather than exposes the endpoint.
func (h *InternalHandlers) authorized(r *http.Request) bool {
	if h.tokenMatches(r) {
		return true
	}
	if h.oidc != nil && h.oidcAudience != "" {
		if _, verr := h.oidc.VerifyRequest(r, h.oidcAudience, h.oidcIssuers); verr == nil {
			return true
		}
	}
	return false
}

func (h *InternalHandlers) tokenMatches(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	presented := strings.TrimSpace(header[len(prefix):])
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}
