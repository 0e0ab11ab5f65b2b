package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RelayDigital/vrem-sub004/internal/payments"
	"github.com/RelayDigital/vrem-sub004/internal/platform/config"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
	"github.com/RelayDigital/vrem-sub004/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Intake      services.IntakeService
	Checkout    services.CheckoutService
	Fulfillment services.FulfillmentService
	System      services.SystemService
}

// Dependencies carries the infrastructure collaborators the container cannot
// build on its own: the payment gateway plus the optional enrichment and
// side-effect publishers.
type Dependencies struct {
	Gateway   payments.Provider
	Geocoder  services.Geocoder
	Calendar  services.CalendarPublisher
	Logger    services.Logger
	Clock     func() time.Time
	BuildInfo services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// Firestore-backed registries and a Stripe gateway; tests supply in-memory
// registries and fakes.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	permissions, err := services.NewMembershipPermissionChecker(reg.Memberships())
	if err != nil {
		return Services{}, fmt.Errorf("build permission checker: %w", err)
	}

	geocoder := deps.Geocoder
	if !cfg.Features.EnableGeocoding {
		geocoder = nil
	}
	calendar := deps.Calendar
	if !cfg.Features.EnableCalendarSync {
		calendar = nil
	}

	intake, err := services.NewIntakeService(services.IntakeServiceDeps{
		Organizations: reg.Organizations(),
		Customers:     reg.Customers(),
		Projects:      reg.Projects(),
		Permissions:   permissions,
		Geocoder:      geocoder,
		Calendar:      calendar,
		UnitOfWork:    reg,
		Clock:         clock,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build intake service: %w", err)
	}
	svc.Intake = intake

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Organizations: reg.Organizations(),
		Customers:     reg.Customers(),
		PendingOrders: reg.PendingOrders(),
		Gateway:       deps.Gateway,
		Geocoder:      geocoder,
		SessionTTL:    cfg.Checkout.SessionTTL,
		Clock:         clock,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	fulfillment, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		PendingOrders: reg.PendingOrders(),
		Projects:      reg.Projects(),
		Customers:     reg.Customers(),
		Gateway:       deps.Gateway,
		Calendar:      calendar,
		SweepLimit:    cfg.Jobs.SweepLimit,
		Clock:         clock,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillment

	if healthRepo := reg.Health(); healthRepo != nil {
		build := deps.BuildInfo
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
