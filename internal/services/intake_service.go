package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

// IntakeServiceDeps bundles collaborators required to construct an intake service.
type IntakeServiceDeps struct {
	Organizations repositories.OrganizationRepository
	Customers     repositories.CustomerRepository
	Projects      repositories.ProjectRepository
	Permissions   PermissionChecker
	Geocoder      Geocoder
	Calendar      CalendarPublisher
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type intakeService struct {
	organizations repositories.OrganizationRepository
	customers     repositories.CustomerRepository
	projects      repositories.ProjectRepository
	permissions   PermissionChecker
	geocoder      Geocoder
	calendar      CalendarPublisher
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	nextID        func() string
	logger        Logger
	sanitizer     *bluemonday.Policy
}

var _ IntakeService = (*intakeService)(nil)

// NewIntakeService assembles the booking intake service.
func NewIntakeService(deps IntakeServiceDeps) (IntakeService, error) {
	if deps.Organizations == nil {
		return nil, errors.New("intake service: organization repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("intake service: customer repository is required")
	}
	if deps.Projects == nil {
		return nil, errors.New("intake service: project repository is required")
	}
	if deps.Permissions == nil {
		return nil, errors.New("intake service: permission checker is required")
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
	unitOfWork := deps.UnitOfWork
	if unitOfWork == nil {
		unitOfWork = noopUnitOfWork{}
	}

	return &intakeService{
		organizations: deps.Organizations,
		customers:     deps.Customers,
		projects:      deps.Projects,
		permissions:   deps.Permissions,
		geocoder:      deps.Geocoder,
		calendar:      deps.Calendar,
		unitOfWork:    unitOfWork,
		clock: func() time.Time {
			return clock().UTC()
		},
		nextID:    nextID,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// CreateOrder books a project for an organization member: resolves the
// customer by email, rejects scheduling collisions for the requested
// assignee, persists the project and hands the calendar sync off async.
func (s *intakeService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if ctx == nil {
		return CreateOrderResult{}, errors.New("intake service: context is required")
	}
	intent, err := s.normalizeIntent(cmd)
	if err != nil {
		return CreateOrderResult{}, err
	}

	// Provider package purchases carry a price and settle through checkout;
	// intake only books work the organization fulfills itself.
	if intent.ProviderOrgID != "" {
		return CreateOrderResult{}, fmt.Errorf("%w: org %s", ErrProviderCheckoutRequired, intent.ProviderOrgID)
	}

	org, err := s.organizations.FindByID(ctx, cmd.OrgID)
	if err != nil {
		return CreateOrderResult{}, mapRepositoryError(err, ErrOrganizationNotFound)
	}

	allowed, err := s.permissions.CanCreateOrder(ctx, org.ID, cmd.RequestedBy)
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("check booking permission: %w", err)
	}
	if !allowed {
		return CreateOrderResult{}, fmt.Errorf("%w: user %s cannot book for org %s", ErrPermissionDenied, cmd.RequestedBy, org.ID)
	}

	// Solo operators shoot their own bookings unless they named someone else.
	if org.Type == domain.OrgTypeSelfServe && intent.AssigneeID == "" {
		intent.AssigneeID = cmd.RequestedBy
	}

	intent.Address = s.enrichAddress(ctx, intent.Address)

	now := s.clock()
	var result CreateOrderResult
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		// All reads come first: the conflict scan runs inside the
		// transaction so a concurrent booking of the same slot forces a
		// retry instead of slipping past a stale check.
		if intent.AssigneeID != "" {
			conflicts, err := findScheduleConflicts(txCtx, s.projects, org.ID, intent.AssigneeID, intent.ScheduledAt, intent.DurationMinutes)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return &ScheduleConflictError{Conflicts: conflicts}
			}
		}

		customer, isNew, err := resolveCustomer(txCtx, s.customers, org.ID, intent.Customer, "", now, s.nextID)
		if err != nil {
			return err
		}

		project := s.buildProject(org.ID, customer.ID, intent, now)
		if err := s.projects.Insert(txCtx, project); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}

		result = CreateOrderResult{
			Project:       project,
			Customer:      customer,
			IsNewCustomer: isNew,
		}
		return nil
	})
	if err != nil {
		return CreateOrderResult{}, err
	}

	s.publishCalendarEvent(ctx, result.Project)

	s.logger(ctx, "orders.intake.created", map[string]any{
		"projectId":   result.Project.ID,
		"orgId":       org.ID,
		"customerId":  result.Customer.ID,
		"newCustomer": result.IsNewCustomer,
	})
	return result, nil
}

func (s *intakeService) normalizeIntent(cmd CreateOrderCommand) (OrderIntent, error) {
	if strings.TrimSpace(cmd.OrgID) == "" {
		return OrderIntent{}, fmt.Errorf("%w: org id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(cmd.RequestedBy) == "" {
		return OrderIntent{}, fmt.Errorf("%w: requesting user is required", ErrInvalidOrder)
	}

	intent := cmd.Intent
	intent.OrgID = strings.TrimSpace(cmd.OrgID)
	intent.ProviderOrgID = strings.TrimSpace(intent.ProviderOrgID)
	intent.Title = strings.TrimSpace(intent.Title)
	intent.AssigneeID = strings.TrimSpace(intent.AssigneeID)
	intent.Notes = strings.TrimSpace(s.sanitizer.Sanitize(intent.Notes))
	intent.ScheduledAt = intent.ScheduledAt.UTC()
	intent.MediaTypes = normalizeMediaTypes(intent.MediaTypes)

	if strings.TrimSpace(intent.Customer.Email) == "" {
		return OrderIntent{}, fmt.Errorf("%w: customer email is required", ErrInvalidOrder)
	}
	if intent.ScheduledAt.IsZero() {
		return OrderIntent{}, fmt.Errorf("%w: scheduled time is required", ErrInvalidOrder)
	}
	if intent.DurationMinutes <= 0 {
		return OrderIntent{}, fmt.Errorf("%w: duration must be positive", ErrInvalidOrder)
	}
	if len(intent.MediaTypes) == 0 {
		return OrderIntent{}, fmt.Errorf("%w: at least one media type is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(intent.Address.Line1) == "" {
		return OrderIntent{}, fmt.Errorf("%w: address line is required", ErrInvalidOrder)
	}
	return intent, nil
}

// normalizeMediaTypes trims entries and drops empties.
func normalizeMediaTypes(raw []string) []string {
	types := make([]string, 0, len(raw))
	for _, entry := range raw {
		if entry = strings.TrimSpace(entry); entry != "" {
			types = append(types, entry)
		}
	}
	return types
}

// enrichAddress geocodes best effort. The raw fields always survive.
func (s *intakeService) enrichAddress(ctx context.Context, addr Address) Address {
	return enrichAddress(ctx, s.geocoder, s.logger, addr)
}

func (s *intakeService) buildProject(orgID string, customerID string, intent OrderIntent, now time.Time) Project {
	project := Project{
		ID:              fmt.Sprintf("prj_%s", strings.ToLower(s.nextID())),
		OrgID:           orgID,
		CustomerID:      customerID,
		Status:          domain.ProjectStatusBooked,
		Title:           intent.Title,
		Address:         intent.Address,
		ScheduledAt:     intent.ScheduledAt,
		DurationMinutes: intent.DurationMinutes,
		MediaTypes:      append([]string(nil), intent.MediaTypes...),
		Notes:           intent.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if intent.AssigneeID != "" {
		assignee := intent.AssigneeID
		project.AssigneeID = &assignee
	}
	return project
}

func (s *intakeService) publishCalendarEvent(ctx context.Context, project Project) {
	publishCalendarEvent(ctx, s.calendar, s.logger, project)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("unit of work: fn is required")
	}
	return fn(ctx)
}
