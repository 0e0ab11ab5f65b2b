package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/payments"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

const defaultStaleSweepLimit = 100

// FulfillmentServiceDeps bundles collaborators required to construct a fulfillment service.
type FulfillmentServiceDeps struct {
	PendingOrders repositories.PendingOrderRepository
	Projects      repositories.ProjectRepository
	Customers     repositories.CustomerRepository
	Gateway       payments.Provider
	Calendar      CalendarPublisher
	SweepLimit    int
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type fulfillmentService struct {
	pendingOrders repositories.PendingOrderRepository
	projects      repositories.ProjectRepository
	customers     repositories.CustomerRepository
	gateway       payments.Provider
	calendar      CalendarPublisher
	sweepLimit    int
	clock         func() time.Time
	nextID        func() string
	logger        Logger
}

var _ FulfillmentService = (*fulfillmentService)(nil)

// NewFulfillmentService assembles the payment reconciliation service.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.PendingOrders == nil {
		return nil, errors.New("fulfillment service: pending order repository is required")
	}
	if deps.Projects == nil {
		return nil, errors.New("fulfillment service: project repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("fulfillment service: customer repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("fulfillment service: payment gateway is required")
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
	sweepLimit := deps.SweepLimit
	if sweepLimit <= 0 {
		sweepLimit = defaultStaleSweepLimit
	}

	return &fulfillmentService{
		pendingOrders: deps.PendingOrders,
		projects:      deps.Projects,
		customers:     deps.Customers,
		gateway:       deps.Gateway,
		calendar:      deps.Calendar,
		sweepLimit:    sweepLimit,
		clock: func() time.Time {
			return clock().UTC()
		},
		nextID: nextID,
		logger: logger,
	}, nil
}

// FulfillOrder converts a paid pending order into a booked project exactly
// once. The status flip and the project insert share one storage transaction;
// any number of concurrent or repeated confirmations for the same order
// settle on the single project created by the first winner.
func (s *fulfillmentService) FulfillOrder(ctx context.Context, pendingOrderID string, payment PaymentConfirmation) (FulfillOrderResult, error) {
	if ctx == nil {
		return FulfillOrderResult{}, errors.New("fulfillment service: context is required")
	}
	orderID := strings.TrimSpace(pendingOrderID)
	if orderID == "" {
		return FulfillOrderResult{}, fmt.Errorf("%w: pending order id is required", ErrInvalidOrder)
	}

	order, err := s.pendingOrders.FindByID(ctx, orderID)
	if err != nil {
		return FulfillOrderResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	switch order.Status {
	case domain.OrderStatusFulfilled:
		return s.alreadyFulfilled(ctx, order)
	case domain.OrderStatusExpired:
		s.logger(ctx, "orders.fulfillment.payment_for_expired_order", map[string]any{
			"pendingOrderId":  order.ID,
			"sessionId":       order.SessionID,
			"paymentIntentId": payment.PaymentIntentID,
		})
		return FulfillOrderResult{Order: order}, fmt.Errorf("%w: order %s expired before payment confirmation", ErrOrderTerminal, order.ID)
	}

	if payment.Amount != 0 && payment.Amount != order.Amount {
		s.logger(ctx, "orders.fulfillment.amount_mismatch", map[string]any{
			"pendingOrderId": order.ID,
			"expected":       order.Amount,
			"received":       payment.Amount,
		})
	}

	now := s.clock()
	paidAt := payment.PaidAt.UTC()
	if paidAt.IsZero() {
		paidAt = now
	}

	// Customer resolution happens outside the transaction: dedup by email
	// makes a replayed resolution land on the same customer document.
	customer, _, err := resolveCustomer(ctx, s.customers, order.Intent.OrgID, order.Intent.Customer, order.AgentUserID, now, s.nextID)
	if err != nil {
		return FulfillOrderResult{}, err
	}

	result, err := s.pendingOrders.Fulfill(ctx, order.ID, payment.PaymentIntentID, paidAt, func(current domain.PendingOrder) (domain.Project, error) {
		return s.buildProject(current, customer.ID, payment, paidAt, now), nil
	})
	if err != nil {
		if isRepoConflict(err) {
			// Another confirmation won between our read and the transaction.
			if result.Order.Status == domain.OrderStatusFulfilled {
				return s.alreadyFulfilled(ctx, result.Order)
			}
			return FulfillOrderResult{Order: result.Order}, fmt.Errorf("%w: order %s is %s", ErrOrderTerminal, order.ID, result.Order.Status)
		}
		return FulfillOrderResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	publishCalendarEvent(ctx, s.calendar, s.logger, result.Project)

	s.logger(ctx, "orders.fulfillment.fulfilled", map[string]any{
		"pendingOrderId":  result.Order.ID,
		"projectId":       result.Project.ID,
		"sessionId":       result.Order.SessionID,
		"paymentIntentId": payment.PaymentIntentID,
	})
	return FulfillOrderResult{Order: result.Order, Project: result.Project}, nil
}

// ExpireOrder abandons an unpaid order. Settled or already expired orders
// are left untouched.
func (s *fulfillmentService) ExpireOrder(ctx context.Context, pendingOrderID string) error {
	if ctx == nil {
		return errors.New("fulfillment service: context is required")
	}
	orderID := strings.TrimSpace(pendingOrderID)
	if orderID == "" {
		return fmt.Errorf("%w: pending order id is required", ErrInvalidOrder)
	}

	order, err := s.pendingOrders.Expire(ctx, orderID, s.clock())
	if err != nil {
		if isRepoConflict(err) {
			s.logger(ctx, "orders.fulfillment.expire_noop", map[string]any{
				"pendingOrderId": orderID,
				"status":         string(order.Status),
			})
			return nil
		}
		return mapRepositoryError(err, ErrOrderNotFound)
	}

	s.logger(ctx, "orders.fulfillment.expired", map[string]any{
		"pendingOrderId": order.ID,
		"sessionId":      order.SessionID,
	})
	return nil
}

// GetOrderStatus reports the order state for client polling. While the order
// is still pending it asks the gateway for the live session and reconciles on
// the spot, so a lost webhook cannot strand a paid order. Gateway outages
// degrade to the last known status instead of failing the poll.
func (s *fulfillmentService) GetOrderStatus(ctx context.Context, sessionID string, requestedBy string) (OrderStatusResult, error) {
	if ctx == nil {
		return OrderStatusResult{}, errors.New("fulfillment service: context is required")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return OrderStatusResult{}, fmt.Errorf("%w: session id is required", ErrInvalidOrder)
	}

	order, err := s.pendingOrders.FindBySessionID(ctx, sid)
	if err != nil {
		return OrderStatusResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if requester := strings.TrimSpace(requestedBy); requester != "" && requester != order.AgentUserID {
		return OrderStatusResult{}, fmt.Errorf("%w: session %s does not belong to user %s", ErrPermissionDenied, sid, requester)
	}

	if order.Status != domain.OrderStatusPendingPayment {
		return s.statusResult(ctx, order), nil
	}

	session, err := s.gateway.GetCheckoutSession(ctx, order.SessionID)
	if err != nil {
		s.logger(ctx, "orders.status.gateway_unavailable", map[string]any{
			"pendingOrderId": order.ID,
			"sessionId":      order.SessionID,
			"error":          err.Error(),
		})
		result := s.statusResult(ctx, order)
		result.Degraded = true
		return result, nil
	}

	switch {
	case session.PaymentStatus == payments.StatusSucceeded:
		fulfilled, err := s.FulfillOrder(ctx, order.ID, PaymentConfirmation{
			SessionID:       session.ID,
			PaymentIntentID: session.PaymentIntentID,
			Amount:          session.AmountTotal,
			Currency:        session.Currency,
			PaidAt:          s.clock(),
		})
		if err != nil && !errors.Is(err, ErrOrderTerminal) {
			return OrderStatusResult{}, err
		}
		return s.statusResult(ctx, fulfilled.Order), nil
	case session.Status == payments.SessionExpired:
		if err := s.ExpireOrder(ctx, order.ID); err != nil {
			return OrderStatusResult{}, err
		}
		order.Status = domain.OrderStatusExpired
		return s.statusResult(ctx, order), nil
	default:
		return s.statusResult(ctx, order), nil
	}
}

// ExpireStale sweeps orders whose checkout session lapsed at least olderThan
// ago. Each candidate is re-checked against the gateway first: an order the
// gateway reports as paid is fulfilled instead of expired, covering webhooks
// that never arrived.
func (s *fulfillmentService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if ctx == nil {
		return 0, errors.New("fulfillment service: context is required")
	}
	if olderThan < 0 {
		olderThan = 0
	}

	cutoff := s.clock().Add(-olderThan)
	orders, err := s.pendingOrders.ListStalePending(ctx, cutoff, s.sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list stale pending orders: %w", err)
	}

	expired := 0
	for _, order := range orders {
		session, err := s.gateway.GetCheckoutSession(ctx, order.SessionID)
		if err == nil && session.PaymentStatus == payments.StatusSucceeded {
			if _, err := s.FulfillOrder(ctx, order.ID, PaymentConfirmation{
				SessionID:       session.ID,
				PaymentIntentID: session.PaymentIntentID,
				Amount:          session.AmountTotal,
				Currency:        session.Currency,
				PaidAt:          s.clock(),
			}); err != nil {
				s.logger(ctx, "orders.sweep.fulfill_failed", map[string]any{
					"pendingOrderId": order.ID,
					"error":          err.Error(),
				})
			}
			continue
		}
		if err != nil {
			s.logger(ctx, "orders.sweep.gateway_unavailable", map[string]any{
				"pendingOrderId": order.ID,
				"sessionId":      order.SessionID,
				"error":          err.Error(),
			})
		}

		if err := s.ExpireOrder(ctx, order.ID); err != nil {
			s.logger(ctx, "orders.sweep.expire_failed", map[string]any{
				"pendingOrderId": order.ID,
				"error":          err.Error(),
			})
			continue
		}
		expired++
	}

	s.logger(ctx, "orders.sweep.completed", map[string]any{
		"candidates": len(orders),
		"expired":    expired,
	})
	return expired, nil
}

func (s *fulfillmentService) alreadyFulfilled(ctx context.Context, order PendingOrder) (FulfillOrderResult, error) {
	result := FulfillOrderResult{Order: order, AlreadyFulfilled: true}
	if order.ProjectID != nil {
		if project, err := s.projects.FindByID(ctx, *order.ProjectID); err == nil {
			result.Project = project
		}
	}
	return result, nil
}

func (s *fulfillmentService) statusResult(ctx context.Context, order PendingOrder) OrderStatusResult {
	result := OrderStatusResult{Status: order.Status}
	if order.Status == domain.OrderStatusFulfilled && order.ProjectID != nil {
		result.ProjectID = *order.ProjectID
		if project, err := s.projects.FindByID(ctx, *order.ProjectID); err == nil {
			result.Project = &project
		}
	}
	return result
}

func (s *fulfillmentService) buildProject(order PendingOrder, customerID string, payment PaymentConfirmation, paidAt time.Time, now time.Time) Project {
	intent := order.Intent
	orderID := order.ID
	amount := order.Amount
	currency := order.Currency
	if payment.Amount != 0 {
		amount = payment.Amount
	}
	if payment.Currency != "" {
		currency = payment.Currency
	}

	project := Project{
		ID:              fmt.Sprintf("prj_%s", strings.ToLower(s.nextID())),
		OrgID:           intent.OrgID,
		CustomerID:      customerID,
		Status:          domain.ProjectStatusBooked,
		Title:           intent.Title,
		Address:         intent.Address,
		ScheduledAt:     intent.ScheduledAt,
		DurationMinutes: intent.DurationMinutes,
		MediaTypes:      append([]string(nil), intent.MediaTypes...),
		Notes:           intent.Notes,
		PendingOrderID:  &orderID,
		Payment: &domain.PaymentInfo{
			Provider:          "stripe",
			CheckoutSessionID: order.SessionID,
			PaymentIntentID:   payment.PaymentIntentID,
			Amount:            amount,
			Currency:          currency,
			PaidAt:            &paidAt,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if intent.AssigneeID != "" {
		assignee := intent.AssigneeID
		project.AssigneeID = &assignee
	}
	return project
}
