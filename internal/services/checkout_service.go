package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/payments"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

const defaultCheckoutSessionTTL = 30 * time.Minute

// CheckoutServiceDeps bundles collaborators required to construct a checkout service.
type CheckoutServiceDeps struct {
	Organizations repositories.OrganizationRepository
	Customers     repositories.CustomerRepository
	PendingOrders repositories.PendingOrderRepository
	Gateway       payments.Provider
	Geocoder      Geocoder
	SessionTTL    time.Duration
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type checkoutService struct {
	organizations repositories.OrganizationRepository
	customers     repositories.CustomerRepository
	pendingOrders repositories.PendingOrderRepository
	gateway       payments.Provider
	geocoder      Geocoder
	sessionTTL    time.Duration
	clock         func() time.Time
	nextID        func() string
	logger        Logger
	sanitizer     *bluemonday.Policy
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService assembles the provider-flow checkout service.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Organizations == nil {
		return nil, errors.New("checkout service: organization repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("checkout service: customer repository is required")
	}
	if deps.PendingOrders == nil {
		return nil, errors.New("checkout service: pending order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	nextID := deps.IDGenerator
	if nextID == nil {
		nextID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sessionTTL := deps.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultCheckoutSessionTTL
	}

	return &checkoutService{
		organizations: deps.Organizations,
		customers:     deps.Customers,
		pendingOrders: deps.PendingOrders,
		gateway:       deps.Gateway,
		geocoder:      deps.Geocoder,
		sessionTTL:    sessionTTL,
		clock: func() time.Time {
			return clock().UTC()
		},
		nextID:    nextID,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// CreateCheckoutSession prices the selected package, opens the payment
// session and records the pending order that fulfillment will later replay.
// The full booking intent travels inside the pending order, so payment
// confirmation needs nothing beyond the order id.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutCommand) (CheckoutSessionResult, error) {
	if ctx == nil {
		return CheckoutSessionResult{}, errors.New("checkout service: context is required")
	}
	intent, err := s.normalizeIntent(cmd)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	org, err := s.organizations.FindByID(ctx, cmd.ProviderOrgID)
	if err != nil {
		return CheckoutSessionResult{}, mapRepositoryError(err, ErrOrganizationNotFound)
	}
	if org.Type != domain.OrgTypeProvider {
		return CheckoutSessionResult{}, fmt.Errorf("%w: org %s does not sell packages", ErrPermissionDenied, org.ID)
	}

	// Agents may only buy from providers that already registered them as a
	// customer. There is no self-signup through checkout.
	agentCustomer, err := s.customers.FindByUser(ctx, org.ID, cmd.AgentUserID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutSessionResult{}, fmt.Errorf("%w: user %s has no purchasing relationship with org %s", ErrPermissionDenied, cmd.AgentUserID, org.ID)
		}
		return CheckoutSessionResult{}, fmt.Errorf("resolve agent customer: %w", err)
	}

	pkg, err := s.organizations.FindPackage(ctx, org.ID, intent.PackageKey)
	if err != nil {
		return CheckoutSessionResult{}, mapRepositoryError(err, ErrPackageNotFound)
	}
	currency := pkg.Currency
	if currency == "" {
		currency = org.Currency
	}
	if pkg.Amount <= 0 || currency == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: package %s has no usable price", ErrPackageNotFound, intent.PackageKey)
	}

	if intent.Customer.Email == "" {
		intent.Customer = domain.CustomerInput{
			Name:  agentCustomer.Name,
			Email: agentCustomer.Email,
			Phone: agentCustomer.Phone,
		}
	}
	if intent.DurationMinutes <= 0 {
		intent.DurationMinutes = pkg.DurationMinutes
	}
	if len(intent.MediaTypes) == 0 {
		intent.MediaTypes = normalizeMediaTypes(pkg.MediaTypes)
	}
	// Every order names at least one deliverable, whether requested
	// explicitly or inherited from the package.
	if len(intent.MediaTypes) == 0 {
		return CheckoutSessionResult{}, fmt.Errorf("%w: package %s defines no media types and none were requested", ErrInvalidOrder, pkg.Key)
	}
	intent.OrgID = org.ID
	intent.ProviderOrgID = org.ID
	intent.Address = enrichAddress(ctx, s.geocoder, s.logger, intent.Address)

	now := s.clock()
	orderID := fmt.Sprintf("po_%s", strings.ToLower(s.nextID()))

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Amount:        pkg.Amount,
		Currency:      currency,
		CustomerEmail: intent.Customer.Email,
		SuccessURL:    cmd.SuccessURL,
		CancelURL:     cmd.CancelURL,
		Metadata: map[string]string{
			"pendingOrderId": orderID,
			"providerOrgId":  org.ID,
			"packageKey":     pkg.Key,
		},
		IdempotencyKey: checkoutIdempotencyKey(orderID),
		ExpiresAt:      now.Add(s.sessionTTL),
		Items: []payments.CheckoutLineItem{
			{
				Name:     pkg.Name,
				Quantity: 1,
				Amount:   pkg.Amount,
				Currency: currency,
			},
		},
	})
	if err != nil {
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	order := domain.PendingOrder{
		ID:            orderID,
		ProviderOrgID: org.ID,
		AgentUserID:   cmd.AgentUserID,
		SessionID:     session.ID,
		Status:        domain.OrderStatusPendingPayment,
		PackageKey:    pkg.Key,
		Amount:        pkg.Amount,
		Currency:      currency,
		Intent:        intent,
		SchemaVersion: domain.OrderIntentSchemaVersion,
		ExpiresAt:     session.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.pendingOrders.Insert(ctx, order); err != nil {
		// The session exists but nothing references it; it will expire on
		// its own and the webhook for it will be dropped as uncorrelatable.
		s.logger(ctx, "orders.checkout.persist_failed", map[string]any{
			"pendingOrderId": orderID,
			"sessionId":      session.ID,
			"error":          err.Error(),
		})
		return CheckoutSessionResult{}, fmt.Errorf("persist pending order: %w", err)
	}

	s.logger(ctx, "orders.checkout.session_created", map[string]any{
		"pendingOrderId": orderID,
		"sessionId":      session.ID,
		"orgId":          org.ID,
		"amount":         pkg.Amount,
		"currency":       currency,
	})

	return CheckoutSessionResult{
		CheckoutURL:    session.URL,
		SessionID:      session.ID,
		PendingOrderID: orderID,
		Amount:         pkg.Amount,
		Currency:       currency,
		ExpiresAt:      session.ExpiresAt,
	}, nil
}

func (s *checkoutService) normalizeIntent(cmd CreateCheckoutCommand) (OrderIntent, error) {
	if strings.TrimSpace(cmd.ProviderOrgID) == "" {
		return OrderIntent{}, fmt.Errorf("%w: provider org id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(cmd.AgentUserID) == "" {
		return OrderIntent{}, fmt.Errorf("%w: requesting user is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(cmd.SuccessURL) == "" || strings.TrimSpace(cmd.CancelURL) == "" {
		return OrderIntent{}, fmt.Errorf("%w: success and cancel urls are required", ErrInvalidOrder)
	}

	intent := cmd.Intent
	intent.Title = strings.TrimSpace(intent.Title)
	intent.AssigneeID = strings.TrimSpace(intent.AssigneeID)
	intent.PackageKey = strings.TrimSpace(intent.PackageKey)
	intent.Notes = strings.TrimSpace(s.sanitizer.Sanitize(intent.Notes))
	intent.ScheduledAt = intent.ScheduledAt.UTC()
	intent.MediaTypes = normalizeMediaTypes(intent.MediaTypes)

	if intent.PackageKey == "" {
		return OrderIntent{}, fmt.Errorf("%w: package key is required", ErrInvalidOrder)
	}
	if intent.ScheduledAt.IsZero() {
		return OrderIntent{}, fmt.Errorf("%w: scheduled time is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(intent.Address.Line1) == "" {
		return OrderIntent{}, fmt.Errorf("%w: address line is required", ErrInvalidOrder)
	}
	return intent, nil
}

func checkoutIdempotencyKey(orderID string) string {
	sum := sha256.Sum256([]byte("checkout:" + orderID))
	return hex.EncodeToString(sum[:])
}
