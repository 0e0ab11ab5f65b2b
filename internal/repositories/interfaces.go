package repositories

import (
	"context"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Organizations() OrganizationRepository
	Memberships() MembershipRepository
	Customers() CustomerRepository
	Projects() ProjectRepository
	PendingOrders() PendingOrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrganizationRepository reads tenant records and their purchasable packages.
type OrganizationRepository interface {
	FindByID(ctx context.Context, orgID string) (domain.Organization, error)
	FindPackage(ctx context.Context, orgID string, key string) (domain.MediaPackage, error)
	ListPackages(ctx context.Context, orgID string) ([]domain.MediaPackage, error)
}

// MembershipRepository resolves a user's role within an organization.
type MembershipRepository interface {
	Find(ctx context.Context, orgID string, userID string) (domain.Membership, error)
}

// CustomerRepository stores organization-scoped customer contacts. FindByEmail
// matches on the normalized email identity used for dedup.
type CustomerRepository interface {
	Insert(ctx context.Context, customer domain.Customer) error
	Update(ctx context.Context, customer domain.Customer) error
	FindByID(ctx context.Context, orgID string, customerID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, orgID string, email string) (domain.Customer, error)
	FindByUser(ctx context.Context, orgID string, userID string) (domain.Customer, error)
}

// ScheduleWindowQuery selects an assignee's projects scheduled inside [From, To).
type ScheduleWindowQuery struct {
	OrgID      string
	AssigneeID string
	From       time.Time
	To         time.Time
}

// ProjectRepository persists production jobs and answers scheduling queries.
type ProjectRepository interface {
	Insert(ctx context.Context, project domain.Project) error
	FindByID(ctx context.Context, projectID string) (domain.Project, error)
	ListScheduledInWindow(ctx context.Context, query ScheduleWindowQuery) ([]domain.Project, error)
}

// ProjectBuilder derives the project to create from the pending order being
// fulfilled. It runs inside the fulfillment transaction.
type ProjectBuilder func(order domain.PendingOrder) (domain.Project, error)

// FulfillResult reports the order and project state after a fulfillment attempt.
type FulfillResult struct {
	Order   domain.PendingOrder
	Project domain.Project
}

// PendingOrderRepository owns the checkout-order lifecycle. Fulfill and Expire
// are conditional transitions: they re-read the document inside a transaction
// and mutate it only while it is still PENDING_PAYMENT, returning a conflict
// RepositoryError (with the current order populated in the result) otherwise.
// Fulfill additionally creates the built project in the same transaction.
type PendingOrderRepository interface {
	Insert(ctx context.Context, order domain.PendingOrder) error
	FindByID(ctx context.Context, orderID string) (domain.PendingOrder, error)
	FindBySessionID(ctx context.Context, sessionID string) (domain.PendingOrder, error)
	Fulfill(ctx context.Context, orderID string, paymentIntentID string, paidAt time.Time, build ProjectBuilder) (FulfillResult, error)
	Expire(ctx context.Context, orderID string, now time.Time) (domain.PendingOrder, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.PendingOrder, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
