package domain

import (
	"time"
)

// OrganizationType distinguishes how an organization books and pays for work.
type OrganizationType string

const (
	// OrgTypeCompany is a brokerage or media company booking directly.
	OrgTypeCompany OrganizationType = "company"
	// OrgTypeProvider sells media services to outside agents via checkout.
	OrgTypeProvider OrganizationType = "provider"
	// OrgTypeSelfServe is a solo operator booking their own shoots.
	OrgTypeSelfServe OrganizationType = "self_serve"
)

// Organization is a tenant. Every customer, project and pending order is
// scoped to exactly one organization.
type Organization struct {
	ID        string
	Name      string
	Type      OrganizationType
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Customer is an organization-scoped contact. Email is the dedup identity;
// UserID links the customer to an authenticated agent account when the
// customer came in through a provider checkout.
type Customer struct {
	ID        string
	OrgID     string
	Name      string
	Email     string
	Phone     string
	UserID    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address carries shoot-location fields. Lat/Lng and Formatted are filled by
// geocoding when available; the raw fields are always kept.
type Address struct {
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
	Formatted  string
	PlaceID    string
	Lat        *float64
	Lng        *float64
}

// MediaPackage is a provider's purchasable bundle. Amount is in minor
// currency units.
type MediaPackage struct {
	Key             string
	Name            string
	Amount          int64
	Currency        string
	DurationMinutes int
	MediaTypes      []string
}

// ProjectStatus describes lifecycle states for a production job.
type ProjectStatus string

const (
	// ProjectStatusBooked marks a confirmed, scheduled shoot.
	ProjectStatusBooked ProjectStatus = "BOOKED"
	// ProjectStatusCompleted marks a delivered shoot.
	ProjectStatusCompleted ProjectStatus = "COMPLETED"
	// ProjectStatusCanceled marks a shoot canceled before delivery.
	ProjectStatusCanceled ProjectStatus = "CANCELED"
)

// PaymentInfo records the settled payment attached to a project created
// through checkout.
type PaymentInfo struct {
	Provider          string
	CheckoutSessionID string
	PaymentIntentID   string
	Amount            int64
	Currency          string
	PaidAt            *time.Time
}

// Project is a production job: a scheduled shoot at an address for a
// customer, optionally assigned to a team member.
type Project struct {
	ID              string
	OrgID           string
	CustomerID      string
	Status          ProjectStatus
	Title           string
	Address         Address
	ScheduledAt     time.Time
	DurationMinutes int
	AssigneeID      *string
	MediaTypes      []string
	Notes           string
	Payment         *PaymentInfo
	PendingOrderID  *string
	CalendarEventID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PendingOrderStatus describes lifecycle states for a checkout-backed order.
// FULFILLED and EXPIRED are terminal.
type PendingOrderStatus string

const (
	// OrderStatusPendingPayment means a checkout session exists and payment
	// has not been confirmed.
	OrderStatusPendingPayment PendingOrderStatus = "PENDING_PAYMENT"
	// OrderStatusFulfilled means payment confirmed and the project exists.
	OrderStatusFulfilled PendingOrderStatus = "FULFILLED"
	// OrderStatusExpired means the checkout session lapsed unpaid.
	OrderStatusExpired PendingOrderStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s PendingOrderStatus) Terminal() bool {
	return s == OrderStatusFulfilled || s == OrderStatusExpired
}

// PendingOrder tracks a provider-flow purchase between checkout creation and
// payment confirmation. SessionID is the payment provider's checkout session
// id and is unique per order.
type PendingOrder struct {
	ID              string
	ProviderOrgID   string
	AgentUserID     string
	SessionID       string
	Status          PendingOrderStatus
	PackageKey      string
	Amount          int64
	Currency        string
	Intent          OrderIntent
	SchemaVersion   int
	ProjectID       *string
	PaymentIntentID string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ScheduleConflict identifies a project already occupying the requested
// assignee's window.
type ScheduleConflict struct {
	ProjectID       string
	ScheduledAt     time.Time
	DurationMinutes int
}

// Membership links an authenticated user to an organization with a role.
type Membership struct {
	ID        string
	OrgID     string
	UserID    string
	Role      MembershipRole
	CreatedAt time.Time
}

// MembershipRole scopes what a member may do inside an organization.
type MembershipRole string

const (
	// RoleOwner administers the organization.
	RoleOwner MembershipRole = "owner"
	// RoleCoordinator books and schedules work.
	RoleCoordinator MembershipRole = "coordinator"
	// RoleShooter executes assigned shoots.
	RoleShooter MembershipRole = "shooter"
)

// CanBook reports whether the role may create orders for the organization.
func (r MembershipRole) CanBook() bool {
	return r == RoleOwner || r == RoleCoordinator
}
