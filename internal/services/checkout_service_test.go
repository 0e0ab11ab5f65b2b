package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/payments"
)

func providerOrgRepo() *stubOrganizationRepo {
	return &stubOrganizationRepo{
		findByID: func(_ context.Context, orgID string) (domain.Organization, error) {
			return domain.Organization{ID: orgID, Type: domain.OrgTypeProvider, Currency: "CAD"}, nil
		},
		findPackage: func(_ context.Context, _ string, key string) (domain.MediaPackage, error) {
			if key != "standard" {
				return domain.MediaPackage{}, notFoundErr("package not found")
			}
			return domain.MediaPackage{
				Key:             "standard",
				Name:            "Standard Listing Package",
				Amount:          24900,
				Currency:        "CAD",
				DurationMinutes: 90,
				MediaTypes:      []string{"photos", "video"},
			}, nil
		},
	}
}

func agentCustomerRepo() *stubCustomerRepo {
	return &stubCustomerRepo{
		findByUser: func(_ context.Context, orgID string, userID string) (domain.Customer, error) {
			if userID != "agent-1" {
				return domain.Customer{}, notFoundErr("no relationship")
			}
			return domain.Customer{
				ID:    "cus_agent",
				OrgID: orgID,
				Name:  "Avery Quinn",
				Email: "avery@realty.test",
			}, nil
		},
	}
}

func checkoutIntent() OrderIntent {
	intent := validIntent()
	intent.Customer = CustomerInput{}
	intent.AssigneeID = ""
	intent.DurationMinutes = 0
	intent.MediaTypes = nil
	intent.PackageKey = "standard"
	return intent
}

func newTestCheckoutService(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.Organizations == nil {
		deps.Organizations = providerOrgRepo()
	}
	if deps.Customers == nil {
		deps.Customers = agentCustomerRepo()
	}
	if deps.PendingOrders == nil {
		deps.PendingOrders = &stubPendingOrderRepo{}
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubGateway{
			create: func(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
				return payments.CheckoutSession{
					ID:        "cs_test_1",
					URL:       "https://pay.example.com/cs_test_1",
					Status:    payments.SessionOpen,
					ExpiresAt: req.ExpiresAt,
				}, nil
			},
		}
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC))
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("ID")
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func checkoutCommand() CreateCheckoutCommand {
	return CreateCheckoutCommand{
		ProviderOrgID: "org_provider",
		AgentUserID:   "agent-1",
		Intent:        checkoutIntent(),
		SuccessURL:    "https://app.example.com/orders/success",
		CancelURL:     "https://app.example.com/orders/cancel",
	}
}

func TestCheckoutServiceCreatesSessionAndPendingOrder(t *testing.T) {
	var captured payments.CheckoutSessionRequest
	var inserted *domain.PendingOrder

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Gateway: &stubGateway{
			create: func(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
				captured = req
				return payments.CheckoutSession{
					ID:        "cs_test_1",
					URL:       "https://pay.example.com/cs_test_1",
					ExpiresAt: req.ExpiresAt,
				}, nil
			},
		},
		PendingOrders: &stubPendingOrderRepo{
			insert: func(_ context.Context, order domain.PendingOrder) error {
				inserted = &order
				return nil
			},
		},
	})

	result, err := svc.CreateCheckoutSession(context.Background(), checkoutCommand())
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}

	if result.CheckoutURL != "https://pay.example.com/cs_test_1" {
		t.Fatalf("unexpected checkout url %q", result.CheckoutURL)
	}
	if result.Amount != 24900 || result.Currency != "CAD" {
		t.Fatalf("unexpected pricing %d %s", result.Amount, result.Currency)
	}
	if !strings.HasPrefix(result.PendingOrderID, "po_") {
		t.Fatalf("unexpected order id %q", result.PendingOrderID)
	}

	if captured.Amount != 24900 || captured.Currency != "CAD" {
		t.Fatalf("unexpected session pricing %d %s", captured.Amount, captured.Currency)
	}
	if captured.Metadata["pendingOrderId"] != result.PendingOrderID {
		t.Fatalf("session metadata missing order id: %v", captured.Metadata)
	}
	if captured.IdempotencyKey == "" {
		t.Fatal("expected idempotency key on session creation")
	}
	if captured.CustomerEmail != "avery@realty.test" {
		t.Fatalf("expected agent email on session, got %q", captured.CustomerEmail)
	}
	wantExpiry := time.Date(2025, time.June, 1, 9, 30, 0, 0, time.UTC)
	if !captured.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected session expiry %s, got %s", wantExpiry, captured.ExpiresAt)
	}
	if len(captured.Items) != 1 || captured.Items[0].Name != "Standard Listing Package" {
		t.Fatalf("unexpected line items %+v", captured.Items)
	}

	if inserted == nil {
		t.Fatal("expected pending order insert")
	}
	if inserted.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected PENDING_PAYMENT, got %s", inserted.Status)
	}
	if inserted.SessionID != "cs_test_1" || inserted.AgentUserID != "agent-1" {
		t.Fatalf("unexpected pending order %+v", inserted)
	}
	if inserted.SchemaVersion != domain.OrderIntentSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", domain.OrderIntentSchemaVersion, inserted.SchemaVersion)
	}
	if inserted.Intent.Customer.Email != "avery@realty.test" {
		t.Fatalf("expected agent contact backfill, got %+v", inserted.Intent.Customer)
	}
	if inserted.Intent.DurationMinutes != 90 {
		t.Fatalf("expected package duration backfill, got %d", inserted.Intent.DurationMinutes)
	}
	if inserted.Intent.OrgID != "org_provider" {
		t.Fatalf("expected provider as target org, got %q", inserted.Intent.OrgID)
	}
}

func TestCheckoutServiceBackfillsMediaTypesFromPackage(t *testing.T) {
	var inserted *domain.PendingOrder
	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		PendingOrders: &stubPendingOrderRepo{
			insert: func(_ context.Context, order domain.PendingOrder) error {
				inserted = &order
				return nil
			},
		},
	})

	if _, err := svc.CreateCheckoutSession(context.Background(), checkoutCommand()); err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if inserted == nil {
		t.Fatal("expected pending order insert")
	}
	want := []string{"photos", "video"}
	if len(inserted.Intent.MediaTypes) != len(want) || inserted.Intent.MediaTypes[0] != want[0] || inserted.Intent.MediaTypes[1] != want[1] {
		t.Fatalf("expected package media types %v, got %v", want, inserted.Intent.MediaTypes)
	}
}

func TestCheckoutServiceRejectsOrderWithoutMediaTypes(t *testing.T) {
	inserts := 0
	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Organizations: &stubOrganizationRepo{
			findByID: func(_ context.Context, orgID string) (domain.Organization, error) {
				return domain.Organization{ID: orgID, Type: domain.OrgTypeProvider, Currency: "CAD"}, nil
			},
			findPackage: func(_ context.Context, _ string, key string) (domain.MediaPackage, error) {
				// A misconfigured package with a price but no deliverables.
				return domain.MediaPackage{
					Key:             key,
					Name:            "Bare Package",
					Amount:          9900,
					Currency:        "CAD",
					DurationMinutes: 30,
				}, nil
			},
		},
		PendingOrders: &stubPendingOrderRepo{
			insert: func(context.Context, domain.PendingOrder) error {
				inserts++
				return nil
			},
		},
	})

	_, err := svc.CreateCheckoutSession(context.Background(), checkoutCommand())
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if inserts != 0 {
		t.Fatalf("expected no pending order insert, got %d", inserts)
	}
}

func TestCheckoutServiceRejectsNonProviderOrg(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Organizations: &stubOrganizationRepo{
			findByID: func(_ context.Context, orgID string) (domain.Organization, error) {
				return domain.Organization{ID: orgID, Type: domain.OrgTypeCompany}, nil
			},
		},
	})

	_, err := svc.CreateCheckoutSession(context.Background(), checkoutCommand())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestCheckoutServiceRejectsUnknownAgent(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	cmd := checkoutCommand()
	cmd.AgentUserID = "agent-unknown"
	_, err := svc.CreateCheckoutSession(context.Background(), cmd)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestCheckoutServiceRejectsUnknownPackage(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	cmd := checkoutCommand()
	cmd.Intent.PackageKey = "platinum"
	_, err := svc.CreateCheckoutSession(context.Background(), cmd)
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestCheckoutServiceGatewayFailure(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Gateway: &stubGateway{
			create: func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
				return payments.CheckoutSession{}, errors.New("stripe is down")
			},
		},
	})

	_, err := svc.CreateCheckoutSession(context.Background(), checkoutCommand())
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
}

func TestCheckoutServiceRequiresRedirectURLs(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	cmd := checkoutCommand()
	cmd.SuccessURL = ""
	_, err := svc.CreateCheckoutSession(context.Background(), cmd)
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestCheckoutServicePersistFailureSurfaces(t *testing.T) {
	recorder := &eventRecorder{}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		PendingOrders: &stubPendingOrderRepo{
			insert: func(context.Context, domain.PendingOrder) error {
				return unavailableErr("firestore write failed")
			},
		},
		Logger: recorder.logger(),
	})

	_, err := svc.CreateCheckoutSession(context.Background(), checkoutCommand())
	if err == nil {
		t.Fatal("expected error when pending order cannot be persisted")
	}
	if !recorder.has("orders.checkout.persist_failed") {
		t.Fatalf("expected persist failure event, got %v", recorder.events)
	}
}
