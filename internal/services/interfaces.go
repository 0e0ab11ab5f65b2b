package services

import (
	"context"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
)

// Re-exported domain aliases keep handler and service signatures terse.
type (
	// Organization aliases the domain organization entity.
	Organization = domain.Organization
	// Customer aliases the domain customer entity.
	Customer = domain.Customer
	// CustomerInput aliases the intake contact block.
	CustomerInput = domain.CustomerInput
	// Project aliases the domain production job entity.
	Project = domain.Project
	// PendingOrder aliases the domain pending order entity.
	PendingOrder = domain.PendingOrder
	// OrderIntent aliases the domain booking intent.
	OrderIntent = domain.OrderIntent
	// Address aliases the domain address value.
	Address = domain.Address
	// MediaPackage aliases a provider's purchasable bundle.
	MediaPackage = domain.MediaPackage
	// ScheduleConflict aliases the domain scheduling conflict record.
	ScheduleConflict = domain.ScheduleConflict
	// SystemHealthReport aliases the health report domain type.
	SystemHealthReport = domain.SystemHealthReport
)

// Logger defines the minimal structured logging contract consumed by services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CreateOrderCommand captures a direct booking request from an organization member.
type CreateOrderCommand struct {
	OrgID       string
	RequestedBy string
	Intent      OrderIntent
}

// CreateOrderResult reports the created project and resolved customer.
type CreateOrderResult struct {
	Project       Project
	Customer      Customer
	IsNewCustomer bool
}

// CreateCheckoutCommand captures an agent's package purchase from a provider.
type CreateCheckoutCommand struct {
	ProviderOrgID string
	AgentUserID   string
	Intent        OrderIntent
	SuccessURL    string
	CancelURL     string
}

// CheckoutSessionResult carries what the client needs to redirect to payment.
type CheckoutSessionResult struct {
	CheckoutURL    string
	SessionID      string
	PendingOrderID string
	Amount         int64
	Currency       string
	ExpiresAt      time.Time
}

// PaymentConfirmation carries the verified payment facts used at fulfillment.
type PaymentConfirmation struct {
	SessionID       string
	PaymentIntentID string
	Amount          int64
	Currency        string
	PaidAt          time.Time
}

// FulfillOrderResult reports the order and project after a fulfillment attempt.
// AlreadyFulfilled is set when a previous attempt had won and this call
// changed nothing.
type FulfillOrderResult struct {
	Order            PendingOrder
	Project          Project
	AlreadyFulfilled bool
}

// OrderStatusResult is the polling view of a checkout-backed order. Degraded
// is set when the payment gateway could not be reached and the status may lag
// behind reality.
type OrderStatusResult struct {
	Status    domain.PendingOrderStatus
	ProjectID string
	Project   *Project
	Degraded  bool
}

// IntakeService books projects for authenticated organization members.
type IntakeService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
}

// CheckoutService starts the paid provider flow for outside agents.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutCommand) (CheckoutSessionResult, error)
}

// FulfillmentService converges pending orders onto their terminal states. All
// transitions are idempotent: replays and races settle on the first outcome.
type FulfillmentService interface {
	FulfillOrder(ctx context.Context, pendingOrderID string, payment PaymentConfirmation) (FulfillOrderResult, error)
	ExpireOrder(ctx context.Context, pendingOrderID string) error
	GetOrderStatus(ctx context.Context, sessionID string, requestedBy string) (OrderStatusResult, error)
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// SystemService exposes operational health for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PermissionChecker answers whether a user may book work for an organization.
// Implementations are opaque to the intake flow.
type PermissionChecker interface {
	CanCreateOrder(ctx context.Context, orgID string, userID string) (bool, error)
}

// CalendarEventMessage is the payload published for downstream calendar sync.
type CalendarEventMessage struct {
	Action          string    `json:"action"`
	ProjectID       string    `json:"projectId"`
	OrgID           string    `json:"orgId"`
	AssigneeID      string    `json:"assigneeId,omitempty"`
	Title           string    `json:"title"`
	Location        string    `json:"location,omitempty"`
	ScheduledAt     time.Time `json:"scheduledAt"`
	DurationMinutes int       `json:"durationMinutes"`
}

// CalendarPublisher hands calendar sync work to an async worker. Publishing
// is best effort and never rolls back a booking.
type CalendarPublisher interface {
	PublishCalendarEvent(ctx context.Context, message CalendarEventMessage) (string, error)
}

// GeocodeResult is the resolved location for a free-form address.
type GeocodeResult struct {
	Formatted string
	PlaceID   string
	Lat       float64
	Lng       float64
}

// Geocoder enriches addresses with coordinates. Failures leave the raw
// address untouched.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (GeocodeResult, error)
}
