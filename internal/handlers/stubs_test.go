package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/RelayDigital/vrem-sub004/internal/payments"
	"github.com/RelayDigital/vrem-sub004/internal/services"
)

type stubIntakeService struct {
	createOrder func(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error)
}

func (s *stubIntakeService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createOrder == nil {
		return services.CreateOrderResult{}, nil
	}
	return s.createOrder(ctx, cmd)
}

type stubCheckoutService struct {
	createCheckoutSession func(ctx context.Context, cmd services.CreateCheckoutCommand) (services.CheckoutSessionResult, error)
}

func (s *stubCheckoutService) CreateCheckoutSession(ctx context.Context, cmd services.CreateCheckoutCommand) (services.CheckoutSessionResult, error) {
	if s.createCheckoutSession == nil {
		return services.CheckoutSessionResult{}, nil
	}
	return s.createCheckoutSession(ctx, cmd)
}

type stubFulfillmentService struct {
	fulfillOrder   func(ctx context.Context, pendingOrderID string, payment services.PaymentConfirmation) (services.FulfillOrderResult, error)
	expireOrder    func(ctx context.Context, pendingOrderID string) error
	getOrderStatus func(ctx context.Context, sessionID string, requestedBy string) (services.OrderStatusResult, error)
	expireStale    func(ctx context.Context, olderThan time.Duration) (int, error)
}

func (s *stubFulfillmentService) FulfillOrder(ctx context.Context, pendingOrderID string, payment services.PaymentConfirmation) (services.FulfillOrderResult, error) {
	if s.fulfillOrder == nil {
		return services.FulfillOrderResult{}, nil
	}
	return s.fulfillOrder(ctx, pendingOrderID, payment)
}

func (s *stubFulfillmentService) ExpireOrder(ctx context.Context, pendingOrderID string) error {
	if s.expireOrder == nil {
		return nil
	}
	return s.expireOrder(ctx, pendingOrderID)
}

func (s *stubFulfillmentService) GetOrderStatus(ctx context.Context, sessionID string, requestedBy string) (services.OrderStatusResult, error) {
	if s.getOrderStatus == nil {
		return services.OrderStatusResult{}, nil
	}
	return s.getOrderStatus(ctx, sessionID, requestedBy)
}

func (s *stubFulfillmentService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.expireStale == nil {
		return 0, nil
	}
	return s.expireStale(ctx, olderThan)
}

var (
	_ services.IntakeService      = (*stubIntakeService)(nil)
	_ services.CheckoutService    = (*stubCheckoutService)(nil)
	_ services.FulfillmentService = (*stubFulfillmentService)(nil)
)

type stubPaymentGateway struct {
	create func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	get    func(ctx context.Context, sessionID string) (payments.CheckoutSession, error)
	verify func(payload []byte, signature string) (payments.WebhookEvent, error)
}

func (s *stubPaymentGateway) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.create == nil {
		return payments.CheckoutSession{}, nil
	}
	return s.create(ctx, req)
}

func (s *stubPaymentGateway) GetCheckoutSession(ctx context.Context, sessionID string) (payments.CheckoutSession, error) {
	if s.get == nil {
		return payments.CheckoutSession{}, nil
	}
	return s.get(ctx, sessionID)
}

func (s *stubPaymentGateway) VerifyWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	if s.verify == nil {
		return payments.WebhookEvent{}, nil
	}
	return s.verify(payload, signature)
}

var _ payments.Provider = (*stubPaymentGateway)(nil)

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) logger() services.Logger {
	return func(_ context.Context, event string, _ map[string]any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
	}
}

func (r *eventRecorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}
