package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/payments"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

func pendingOrderFixture() domain.PendingOrder {
	intent := checkoutIntent()
	intent.OrgID = "org_provider"
	intent.ProviderOrgID = "org_provider"
	intent.Customer = CustomerInput{
		Name:  "Avery Quinn",
		Email: "avery@realty.test",
	}
	intent.DurationMinutes = 90
	return domain.PendingOrder{
		ID:            "po_abc",
		ProviderOrgID: "org_provider",
		AgentUserID:   "agent-1",
		SessionID:     "cs_test_1",
		Status:        domain.OrderStatusPendingPayment,
		PackageKey:    "standard",
		Amount:        24900,
		Currency:      "CAD",
		Intent:        intent,
		SchemaVersion: domain.OrderIntentSchemaVersion,
		ExpiresAt:     time.Date(2025, time.June, 1, 9, 30, 0, 0, time.UTC),
		CreatedAt:     time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC),
	}
}

func paymentFixture() PaymentConfirmation {
	return PaymentConfirmation{
		SessionID:       "cs_test_1",
		PaymentIntentID: "pi_123",
		Amount:          24900,
		Currency:        "CAD",
		PaidAt:          time.Date(2025, time.June, 1, 9, 10, 0, 0, time.UTC),
	}
}

func newTestFulfillmentService(t *testing.T, deps FulfillmentServiceDeps) FulfillmentService {
	t.Helper()
	if deps.PendingOrders == nil {
		deps.PendingOrders = &stubPendingOrderRepo{}
	}
	if deps.Projects == nil {
		deps.Projects = &stubProjectRepo{}
	}
	if deps.Customers == nil {
		deps.Customers = &stubCustomerRepo{}
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC))
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs("ID")
	}
	svc, err := NewFulfillmentService(deps)
	if err != nil {
		t.Fatalf("NewFulfillmentService: %v", err)
	}
	return svc
}

// fulfillingOrderRepo transitions the order like the Firestore repository:
// only a PENDING_PAYMENT order flips, and the builder's project is attached.
func fulfillingOrderRepo(order domain.PendingOrder) *stubPendingOrderRepo {
	state := order
	repo := &stubPendingOrderRepo{}
	repo.findByID = func(_ context.Context, orderID string) (domain.PendingOrder, error) {
		if orderID != state.ID {
			return domain.PendingOrder{}, notFoundErr("order not found")
		}
		return state, nil
	}
	repo.findBySessionID = func(_ context.Context, sessionID string) (domain.PendingOrder, error) {
		if sessionID != state.SessionID {
			return domain.PendingOrder{}, notFoundErr("order not found")
		}
		return state, nil
	}
	repo.fulfill = func(_ context.Context, orderID string, paymentIntentID string, paidAt time.Time, build repositories.ProjectBuilder) (repositories.FulfillResult, error) {
		if orderID != state.ID {
			return repositories.FulfillResult{}, notFoundErr("order not found")
		}
		if state.Status != domain.OrderStatusPendingPayment {
			return repositories.FulfillResult{Order: state}, conflictErr("order already settled")
		}
		project, err := build(state)
		if err != nil {
			return repositories.FulfillResult{}, err
		}
		state.Status = domain.OrderStatusFulfilled
		state.PaymentIntentID = paymentIntentID
		projectID := project.ID
		state.ProjectID = &projectID
		state.UpdatedAt = paidAt
		return repositories.FulfillResult{Order: state, Project: project}, nil
	}
	repo.expire = func(_ context.Context, orderID string, now time.Time) (domain.PendingOrder, error) {
		if orderID != state.ID {
			return domain.PendingOrder{}, notFoundErr("order not found")
		}
		if state.Status != domain.OrderStatusPendingPayment {
			return state, conflictErr("order already settled")
		}
		state.Status = domain.OrderStatusExpired
		state.UpdatedAt = now
		return state, nil
	}
	return repo
}

func TestFulfillOrderCreatesProjectOnce(t *testing.T) {
	order := pendingOrderFixture()
	repo := fulfillingOrderRepo(order)
	recorder := &eventRecorder{}
	var published []CalendarEventMessage

	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: repo,
		Calendar: calendarPublisherFunc(func(_ context.Context, message CalendarEventMessage) (string, error) {
			published = append(published, message)
			return "msg-1", nil
		}),
		Logger: recorder.logger(),
	})

	result, err := svc.FulfillOrder(context.Background(), order.ID, paymentFixture())
	if err != nil {
		t.Fatalf("FulfillOrder: %v", err)
	}
	if result.AlreadyFulfilled {
		t.Fatal("first fulfillment must not report already fulfilled")
	}
	if result.Order.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected FULFILLED, got %s", result.Order.Status)
	}
	if !strings.HasPrefix(result.Project.ID, "prj_") {
		t.Fatalf("unexpected project id %q", result.Project.ID)
	}
	if result.Project.Payment == nil || result.Project.Payment.PaymentIntentID != "pi_123" {
		t.Fatalf("expected payment info on project, got %+v", result.Project.Payment)
	}
	if result.Project.PendingOrderID == nil || *result.Project.PendingOrderID != order.ID {
		t.Fatal("expected project to reference the pending order")
	}
	if len(published) != 1 || published[0].ProjectID != result.Project.ID {
		t.Fatalf("expected calendar publish for project, got %+v", published)
	}
	if !recorder.has("orders.fulfillment.fulfilled") {
		t.Fatalf("expected fulfilled event, got %v", recorder.events)
	}

	// A replayed confirmation settles on the same outcome.
	replay, err := svc.FulfillOrder(context.Background(), order.ID, paymentFixture())
	if err != nil {
		t.Fatalf("replayed FulfillOrder: %v", err)
	}
	if !replay.AlreadyFulfilled {
		t.Fatal("expected replay to report already fulfilled")
	}
	if len(published) != 1 {
		t.Fatalf("replay must not publish again, got %d messages", len(published))
	}
}

func TestFulfillOrderLosingRaceSettlesOnWinner(t *testing.T) {
	order := pendingOrderFixture()
	projectID := "prj_winner"
	fulfilled := order
	fulfilled.Status = domain.OrderStatusFulfilled
	fulfilled.ProjectID = &projectID

	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: &stubPendingOrderRepo{
			findByID: func(context.Context, string) (domain.PendingOrder, error) {
				// Read sees the order still pending.
				return order, nil
			},
			fulfill: func(context.Context, string, string, time.Time, repositories.ProjectBuilder) (repositories.FulfillResult, error) {
				// The transaction loses to a concurrent confirmation.
				return repositories.FulfillResult{Order: fulfilled}, conflictErr("order already settled")
			},
		},
		Projects: &stubProjectRepo{
			findByID: func(_ context.Context, id string) (domain.Project, error) {
				return domain.Project{ID: id}, nil
			},
		},
	})

	result, err := svc.FulfillOrder(context.Background(), order.ID, paymentFixture())
	if err != nil {
		t.Fatalf("FulfillOrder: %v", err)
	}
	if !result.AlreadyFulfilled {
		t.Fatal("expected losing race to settle as already fulfilled")
	}
	if result.Project.ID != projectID {
		t.Fatalf("expected winner's project, got %q", result.Project.ID)
	}
}

func TestFulfillOrderExpiredOrderIsTerminal(t *testing.T) {
	order := pendingOrderFixture()
	order.Status = domain.OrderStatusExpired
	recorder := &eventRecorder{}

	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: &stubPendingOrderRepo{
			findByID: func(context.Context, string) (domain.PendingOrder, error) {
				return order, nil
			},
		},
		Logger: recorder.logger(),
	})

	_, err := svc.FulfillOrder(context.Background(), order.ID, paymentFixture())
	if !errors.Is(err, ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal, got %v", err)
	}
	if !recorder.has("orders.fulfillment.payment_for_expired_order") {
		t.Fatalf("expected expired-order payment event, got %v", recorder.events)
	}
}

func TestFulfillOrderUnknownOrder(t *testing.T) {
	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{})

	_, err := svc.FulfillOrder(context.Background(), "po_missing", paymentFixture())
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestExpireOrderIsNoOpOnSettledOrder(t *testing.T) {
	order := pendingOrderFixture()
	repo := fulfillingOrderRepo(order)
	recorder := &eventRecorder{}

	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: repo,
		Logger:        recorder.logger(),
	})

	if _, err := svc.FulfillOrder(context.Background(), order.ID, paymentFixture()); err != nil {
		t.Fatalf("FulfillOrder: %v", err)
	}

	// The abandonment signal arriving after payment changes nothing.
	if err := svc.ExpireOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("ExpireOrder on settled order: %v", err)
	}
	if !recorder.has("orders.fulfillment.expire_noop") {
		t.Fatalf("expected expire noop event, got %v", recorder.events)
	}

	status, err := svc.GetOrderStatus(context.Background(), order.SessionID, "agent-1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if status.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected order to stay FULFILLED, got %s", status.Status)
	}
}

func TestExpireOrderMarksPendingOrder(t *testing.T) {
	order := pendingOrderFixture()
	repo := fulfillingOrderRepo(order)

	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{PendingOrders: repo})

	if err := svc.ExpireOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("ExpireOrder: %v", err)
	}

	current, err := repo.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if current.Status != domain.OrderStatusExpired {
		t.Fatalf("expected EXPIRED, got %s", current.Status)
	}
}

func TestGetOrderStatusRejectsForeignRequester(t *testing.T) {
	order := pendingOrderFixture()
	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: &stubPendingOrderRepo{
			findBySessionID: func(context.Context, string) (domain.PendingOrder, error) {
				return order, nil
			},
		},
	})

	_, err := svc.GetOrderStatus(context.Background(), order.SessionID, "someone-else")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestGetOrderStatusDegradesWhenGatewayUnavailable(t *testing.T) {
	order := pendingOrderFixture()
	recorder := &eventRecorder{}
	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: &stubPendingOrderRepo{
			findBySessionID: func(context.Context, string) (domain.PendingOrder, error) {
				return order, nil
			},
		},
		Gateway: &stubGateway{
			get: func(context.Context, string) (payments.CheckoutSession, error) {
				return payments.CheckoutSession{}, errors.New("connection refused")
			},
		},
		Logger: recorder.logger(),
	})

	result, err := svc.GetOrderStatus(context.Background(), order.SessionID, "agent-1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if result.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected last known status, got %s", result.Status)
	}
	if !result.Degraded {
		t.Fatal("expected degraded result")
	}
	if !recorder.has("orders.status.gateway_unavailable") {
		t.Fatalf("expected gateway unavailable event, got %v", recorder.events)
	}
}

func TestGetOrderStatusReconcilesPaidSession(t *testing.T) {
	order := pendingOrderFixture()
	repo := fulfillingOrderRepo(order)

	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: repo,
		Gateway: &stubGateway{
			get: func(_ context.Context, sessionID string) (payments.CheckoutSession, error) {
				return payments.CheckoutSession{
					ID:              sessionID,
					Status:          payments.SessionComplete,
					PaymentStatus:   payments.StatusSucceeded,
					PaymentIntentID: "pi_123",
					AmountTotal:     24900,
					Currency:        "CAD",
				}, nil
			},
		},
	})

	result, err := svc.GetOrderStatus(context.Background(), order.SessionID, "agent-1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if result.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected fallback poll to fulfill, got %s", result.Status)
	}
	if result.ProjectID == "" {
		t.Fatal("expected project id after reconciliation")
	}
}

func TestGetOrderStatusExpiresLapsedSession(t *testing.T) {
	order := pendingOrderFixture()
	repo := fulfillingOrderRepo(order)

	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: repo,
		Gateway: &stubGateway{
			get: func(_ context.Context, sessionID string) (payments.CheckoutSession, error) {
				return payments.CheckoutSession{ID: sessionID, Status: payments.SessionExpired}, nil
			},
		},
	})

	result, err := svc.GetOrderStatus(context.Background(), order.SessionID, "agent-1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if result.Status != domain.OrderStatusExpired {
		t.Fatalf("expected EXPIRED, got %s", result.Status)
	}
}

func TestGetOrderStatusUnknownSession(t *testing.T) {
	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{})

	_, err := svc.GetOrderStatus(context.Background(), "cs_unknown", "agent-1")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestExpireStaleSweepRecoversPaidOrders(t *testing.T) {
	paid := pendingOrderFixture()
	unpaid := pendingOrderFixture()
	unpaid.ID = "po_def"
	unpaid.SessionID = "cs_test_2"

	paidRepo := fulfillingOrderRepo(paid)
	unpaidRepo := fulfillingOrderRepo(unpaid)

	repo := &stubPendingOrderRepo{
		listStalePending: func(_ context.Context, before time.Time, limit int) ([]domain.PendingOrder, error) {
			if limit != 25 {
				t.Fatalf("expected configured sweep limit, got %d", limit)
			}
			return []domain.PendingOrder{paid, unpaid}, nil
		},
	}
	repo.findByID = func(ctx context.Context, orderID string) (domain.PendingOrder, error) {
		if orderID == paid.ID {
			return paidRepo.FindByID(ctx, orderID)
		}
		return unpaidRepo.FindByID(ctx, orderID)
	}
	repo.fulfill = func(ctx context.Context, orderID string, pi string, paidAt time.Time, build repositories.ProjectBuilder) (repositories.FulfillResult, error) {
		if orderID == paid.ID {
			return paidRepo.Fulfill(ctx, orderID, pi, paidAt, build)
		}
		return unpaidRepo.Fulfill(ctx, orderID, pi, paidAt, build)
	}
	repo.expire = func(ctx context.Context, orderID string, now time.Time) (domain.PendingOrder, error) {
		if orderID == paid.ID {
			return paidRepo.Expire(ctx, orderID, now)
		}
		return unpaidRepo.Expire(ctx, orderID, now)
	}

	svc := newTestFulfillmentService(t, FulfillmentServiceDeps{
		PendingOrders: repo,
		SweepLimit:    25,
		Gateway: &stubGateway{
			get: func(_ context.Context, sessionID string) (payments.CheckoutSession, error) {
				if sessionID == paid.SessionID {
					return payments.CheckoutSession{
						ID:              sessionID,
						PaymentStatus:   payments.StatusSucceeded,
						PaymentIntentID: "pi_lost_webhook",
					}, nil
				}
				return payments.CheckoutSession{ID: sessionID, Status: payments.SessionExpired}, nil
			},
		},
	})

	expired, err := svc.ExpireStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired order, got %d", expired)
	}

	recoveredOrder, err := paidRepo.FindByID(context.Background(), paid.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if recoveredOrder.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected paid order fulfilled by sweep, got %s", recoveredOrder.Status)
	}
	abandonedOrder, err := unpaidRepo.FindByID(context.Background(), unpaid.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if abandonedOrder.Status != domain.OrderStatusExpired {
		t.Fatalf("expected unpaid order expired, got %s", abandonedOrder.Status)
	}
}
