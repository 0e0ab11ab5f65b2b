package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RelayDigital/vrem-sub004/internal/payments"
	"github.com/RelayDigital/vrem-sub004/internal/platform/httpx"
	"github.com/RelayDigital/vrem-sub004/internal/services"
)

const (
	maxWebhookBody          = 1 << 20
	stripeSignatureHeader   = "Stripe-Signature"
	pendingOrderMetadataKey = "pendingOrderId"
)

// WebhookHandlersConfig wires the payment webhook ingress.
type WebhookHandlersConfig struct {
	Gateway     payments.Provider
	Fulfillment services.FulfillmentService
	Clock       func() time.Time
	Logger      services.Logger
}

// WebhookHandlers receives payment provider notifications. Signature
// verification happens before any event is acted on; verified events are
// always acknowledged so the provider stops retrying.
type WebhookHandlers struct {
	gateway     payments.Provider
	fulfillment services.FulfillmentService
	clock       func() time.Time
	logger      services.Logger
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(cfg WebhookHandlersConfig) *WebhookHandlers {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		gateway:     cfg.Gateway,
		fulfillment: cfg.Fulfillment,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookAckResponse struct {
	Received bool `json:"received"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateway == nil || h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook handling unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBody {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.gateway.VerifyWebhook(payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrWebhookSecretMissing):
			h.logger(ctx, "webhooks.stripe.secret_missing", nil)
			httpx.WriteError(ctx, w, httpx.NewError("webhook_not_configured", "webhook signing secret is not configured", http.StatusBadRequest))
		case errors.Is(err, payments.ErrWebhookSignature):
			h.logger(ctx, "webhooks.stripe.bad_signature", nil)
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		default:
			h.logger(ctx, "webhooks.stripe.malformed_event", map[string]any{"error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook event", http.StatusBadRequest))
		}
		return
	}

	switch event.Type {
	case payments.EventCheckoutCompleted:
		h.handleCheckoutCompleted(ctx, event)
	case payments.EventCheckoutExpired:
		h.handleCheckoutExpired(ctx, event)
	case payments.EventPaymentFailed:
		h.logger(ctx, "webhooks.stripe.payment_failed", map[string]any{
			"paymentIntentId": event.PaymentIntentID,
			"failureMessage":  event.FailureMessage,
		})
	default:
		h.logger(ctx, "webhooks.stripe.ignored", map[string]any{"eventType": event.RawType})
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true})
}

func (h *WebhookHandlers) handleCheckoutCompleted(ctx context.Context, event payments.WebhookEvent) {
	orderID := strings.TrimSpace(event.Session.Metadata[pendingOrderMetadataKey])
	if orderID == "" {
		h.logger(ctx, "webhooks.stripe.uncorrelated_event", map[string]any{
			"eventType": event.RawType,
			"sessionId": event.Session.ID,
		})
		return
	}

	confirmation := services.PaymentConfirmation{
		SessionID:       event.Session.ID,
		PaymentIntentID: event.PaymentIntentID,
		Amount:          event.Session.AmountTotal,
		Currency:        event.Session.Currency,
		PaidAt:          h.clock(),
	}
	if _, err := h.fulfillment.FulfillOrder(ctx, orderID, confirmation); err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			h.logger(ctx, "webhooks.stripe.uncorrelated_event", map[string]any{
				"eventType":      event.RawType,
				"sessionId":      event.Session.ID,
				"pendingOrderId": orderID,
			})
		case errors.Is(err, services.ErrOrderTerminal):
			h.logger(ctx, "webhooks.stripe.order_settled", map[string]any{"pendingOrderId": orderID})
		default:
			h.logger(ctx, "webhooks.stripe.fulfillment_failed", map[string]any{
				"pendingOrderId": orderID,
				"error":          err.Error(),
			})
		}
	}
}

func (h *WebhookHandlers) handleCheckoutExpired(ctx context.Context, event payments.WebhookEvent) {
	orderID := strings.TrimSpace(event.Session.Metadata[pendingOrderMetadataKey])
	if orderID == "" {
		h.logger(ctx, "webhooks.stripe.uncorrelated_event", map[string]any{
			"eventType": event.RawType,
			"sessionId": event.Session.ID,
		})
		return
	}

	if err := h.fulfillment.ExpireOrder(ctx, orderID); err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			h.logger(ctx, "webhooks.stripe.uncorrelated_event", map[string]any{
				"eventType":      event.RawType,
				"pendingOrderId": orderID,
			})
		default:
			h.logger(ctx, "webhooks.stripe.expire_failed", map[string]any{
				"pendingOrderId": orderID,
				"error":          err.Error(),
			})
		}
	}
}
