package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/RelayDigital/vrem-sub004/internal/platform/firestore"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	organizations *OrganizationRepository
	memberships   *MembershipRepository
	customers     *CustomerRepository
	projects      *ProjectRepository
	pendingOrders *PendingOrderRepository
	health        repositories.HealthRepository
}

// NewRegistry wires every repository against the shared provider. The health
// repository is injected because its probe set depends on the deployment.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	if health == nil {
		return nil, errors.New("registry requires health repository")
	}

	organizations, err := NewOrganizationRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build organization repository: %w", err)
	}
	memberships, err := NewMembershipRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build membership repository: %w", err)
	}
	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build customer repository: %w", err)
	}
	projects, err := NewProjectRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build project repository: %w", err)
	}
	pendingOrders, err := NewPendingOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build pending order repository: %w", err)
	}

	return &Registry{
		provider:      provider,
		organizations: organizations,
		memberships:   memberships,
		customers:     customers,
		projects:      projects,
		pendingOrders: pendingOrders,
		health:        health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Organizations returns the organization repository.
func (r *Registry) Organizations() repositories.OrganizationRepository { return r.organizations }

// Memberships returns the membership repository.
func (r *Registry) Memberships() repositories.MembershipRepository { return r.memberships }

// Customers returns the customer repository.
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }

// Projects returns the project repository.
func (r *Registry) Projects() repositories.ProjectRepository { return r.projects }

// PendingOrders returns the pending order repository.
func (r *Registry) PendingOrders() repositories.PendingOrderRepository { return r.pendingOrders }

// Health returns the health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction boundary.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		// Bind the transaction so repository calls inside fn stage their
		// reads and writes on it instead of writing through immediately.
		return fn(pfirestore.ContextWithTx(txCtx, tx))
	})
}

var _ repositories.Registry = (*Registry)(nil)
