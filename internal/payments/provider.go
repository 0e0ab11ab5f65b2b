package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// SessionStatus enumerates the normalised checkout session states.
type SessionStatus string

const (
	// SessionOpen means the customer can still complete payment.
	SessionOpen SessionStatus = "open"
	// SessionComplete means the session finished and payment was collected.
	SessionComplete SessionStatus = "complete"
	// SessionExpired means the session lapsed before payment.
	SessionExpired SessionStatus = "expired"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrWebhookSecretMissing is returned when webhook verification is attempted
// without a configured signing secret. Callers must treat this as a hard
// rejection, never as a pass.
var ErrWebhookSecretMissing = errors.New("payments: webhook signing secret is not configured")

// ErrWebhookSignature is returned when the webhook payload fails signature
// verification.
var ErrWebhookSignature = errors.New("payments: webhook signature verification failed")

// ErrSessionNotFound is returned when the PSP has no session for the given id.
var ErrSessionNotFound = errors.New("payments: checkout session not found")

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name        string
	Description string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	ExpiresAt      time.Time
	Items          []CheckoutLineItem
}

// CheckoutSession represents the PSP session state, both freshly created and
// as retrieved during reconciliation.
type CheckoutSession struct {
	ID              string
	Provider        string
	URL             string
	Status          SessionStatus
	PaymentStatus   Status
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	Metadata        map[string]string
	ExpiresAt       time.Time
}

// WebhookEventType enumerates the webhook events the engine reacts to.
type WebhookEventType string

const (
	// EventCheckoutCompleted signals a paid checkout session.
	EventCheckoutCompleted WebhookEventType = "checkout.completed"
	// EventCheckoutExpired signals a lapsed checkout session.
	EventCheckoutExpired WebhookEventType = "checkout.expired"
	// EventPaymentFailed signals a failed payment attempt.
	EventPaymentFailed WebhookEventType = "payment.failed"
	// EventIgnored covers verified events the engine does not act on.
	EventIgnored WebhookEventType = "ignored"
)

// WebhookEvent is a verified, normalised webhook notification.
type WebhookEvent struct {
	Type            WebhookEventType
	RawType         string
	Session         CheckoutSession
	PaymentIntentID string
	FailureMessage  string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
	VerifyWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Default returns the provider resolved without any routing hints. It is how
// callers that only ever talk to one PSP obtain their adapter.
func (m *Manager) Default() (Provider, error) {
	_, provider, err := m.resolveProvider(PaymentContext{})
	return provider, err
}

// CreateCheckoutSession delegates to the resolved provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, paymentCtx PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// GetCheckoutSession delegates to the resolved provider.
func (m *Manager) GetCheckoutSession(ctx context.Context, paymentCtx PaymentContext, sessionID string) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// VerifyWebhook delegates to the resolved provider.
func (m *Manager) VerifyWebhook(paymentCtx PaymentContext, payload []byte, signature string) (WebhookEvent, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return WebhookEvent{}, err
	}
	return provider.VerifyWebhook(payload, signature)
}
