package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/RelayDigital/vrem-sub004/internal/platform/textutil"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
}

type webhookVerifier func(payload []byte, header string, secret string) (stripe.Event, error)

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
	Verifier      webhookVerifier
}

// StripeProvider implements the Provider interface using Stripe APIs.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        StripeLogger
	verify        webhookVerifier
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
		}
	}

	if clients.sessions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	verify := cfg.Verifier
	if verify == nil {
		verify = webhook.ConstructEvent
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		verify: verify,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session in payment mode.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}

	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.UTC().Unix())
	}
	metadata := textutil.NormalizeStringMap(req.Metadata)
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, req.Currency))),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.Description != "" {
			line.PriceData.ProductData.Description = stripe.String(item.Description)
		}
		lineItems = append(lineItems, line)
	}

	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Media package"),
				},
			},
		})
	}

	params.LineItems = lineItems
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{}
	if len(metadata) > 0 {
		params.PaymentIntentData.Metadata = metadata
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	normalised := p.normaliseSession(session)
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     normalised.ID,
		"paymentIntent": normalised.PaymentIntentID,
		"currency":      normalised.Currency,
	})
	return normalised, nil
}

// GetCheckoutSession retrieves the live session state from Stripe.
func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return CheckoutSession{}, errors.New("stripe: session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	session, err := p.api.sessions.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return CheckoutSession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return CheckoutSession{}, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}
	return p.normaliseSession(session), nil
}

// VerifyWebhook checks the payload signature and normalises the event. A
// missing signing secret is a configuration fault and always rejects.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return WebhookEvent{}, ErrWebhookSecretMissing
	}

	event, err := p.verify(payload, signature, p.webhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	normalised := WebhookEvent{RawType: string(event.Type)}
	switch event.Type {
	case "checkout.session.completed":
		normalised.Type = EventCheckoutCompleted
	case "checkout.session.expired":
		normalised.Type = EventCheckoutExpired
	case "payment_intent.payment_failed":
		normalised.Type = EventPaymentFailed
	default:
		normalised.Type = EventIgnored
		return normalised, nil
	}

	if normalised.Type == EventPaymentFailed {
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		normalised.PaymentIntentID = intent.ID
		if intent.LastPaymentError != nil {
			normalised.FailureMessage = intent.LastPaymentError.Msg
		}
		return normalised, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
	}
	normalised.Session = p.normaliseSession(&session)
	normalised.PaymentIntentID = normalised.Session.PaymentIntentID
	return normalised, nil
}

func (p *StripeProvider) normaliseSession(session *stripe.CheckoutSession) CheckoutSession {
	if session == nil {
		return CheckoutSession{}
	}

	status := SessionOpen
	switch session.Status {
	case stripe.CheckoutSessionStatusComplete:
		status = SessionComplete
	case stripe.CheckoutSessionStatusExpired:
		status = SessionExpired
	}

	paymentStatus := StatusPending
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		paymentStatus = StatusSucceeded
	} else if status == SessionExpired {
		paymentStatus = StatusFailed
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	email := session.CustomerEmail
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	var metadata map[string]string
	if len(session.Metadata) > 0 {
		metadata = make(map[string]string, len(session.Metadata))
		for k, v := range session.Metadata {
			metadata[k] = v
		}
	}

	return CheckoutSession{
		ID:              session.ID,
		Provider:        "stripe",
		URL:             session.URL,
		Status:          status,
		PaymentStatus:   paymentStatus,
		PaymentIntentID: intentID,
		AmountTotal:     session.AmountTotal,
		Currency:        strings.ToUpper(string(session.Currency)),
		CustomerEmail:   email,
		Metadata:        metadata,
		ExpiresAt:       expiresAt,
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
