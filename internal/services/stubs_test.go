package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/payments"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

// repoError is the categorised storage error used by repository stubs.
type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*repoError)(nil)

func notFoundErr(msg string) error    { return &repoError{msg: msg, notFound: true} }
func conflictErr(msg string) error    { return &repoError{msg: msg, conflict: true} }
func unavailableErr(msg string) error { return &repoError{msg: msg, unavailable: true} }

type stubUnitOfWork struct {
	runInTx func(ctx context.Context, fn func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runInTx == nil {
		return fn(ctx)
	}
	return s.runInTx(ctx, fn)
}

var _ repositories.UnitOfWork = (*stubUnitOfWork)(nil)

type stubOrganizationRepo struct {
	findByID     func(ctx context.Context, orgID string) (domain.Organization, error)
	findPackage  func(ctx context.Context, orgID string, key string) (domain.MediaPackage, error)
	listPackages func(ctx context.Context, orgID string) ([]domain.MediaPackage, error)
}

func (s *stubOrganizationRepo) FindByID(ctx context.Context, orgID string) (domain.Organization, error) {
	if s.findByID == nil {
		return domain.Organization{}, notFoundErr("organization not found")
	}
	return s.findByID(ctx, orgID)
}

func (s *stubOrganizationRepo) FindPackage(ctx context.Context, orgID string, key string) (domain.MediaPackage, error) {
	if s.findPackage == nil {
		return domain.MediaPackage{}, notFoundErr("package not found")
	}
	return s.findPackage(ctx, orgID, key)
}

func (s *stubOrganizationRepo) ListPackages(ctx context.Context, orgID string) ([]domain.MediaPackage, error) {
	if s.listPackages == nil {
		return nil, nil
	}
	return s.listPackages(ctx, orgID)
}

type stubMembershipRepo struct {
	find func(ctx context.Context, orgID string, userID string) (domain.Membership, error)
}

func (s *stubMembershipRepo) Find(ctx context.Context, orgID string, userID string) (domain.Membership, error) {
	if s.find == nil {
		return domain.Membership{}, notFoundErr("membership not found")
	}
	return s.find(ctx, orgID, userID)
}

type stubCustomerRepo struct {
	insert      func(ctx context.Context, customer domain.Customer) error
	update      func(ctx context.Context, customer domain.Customer) error
	findByID    func(ctx context.Context, orgID string, customerID string) (domain.Customer, error)
	findByEmail func(ctx context.Context, orgID string, email string) (domain.Customer, error)
	findByUser  func(ctx context.Context, orgID string, userID string) (domain.Customer, error)
}

func (s *stubCustomerRepo) Insert(ctx context.Context, customer domain.Customer) error {
	if s.insert == nil {
		return nil
	}
	return s.insert(ctx, customer)
}

func (s *stubCustomerRepo) Update(ctx context.Context, customer domain.Customer) error {
	if s.update == nil {
		return nil
	}
	return s.update(ctx, customer)
}

func (s *stubCustomerRepo) FindByID(ctx context.Context, orgID string, customerID string) (domain.Customer, error) {
	if s.findByID == nil {
		return domain.Customer{}, notFoundErr("customer not found")
	}
	return s.findByID(ctx, orgID, customerID)
}

func (s *stubCustomerRepo) FindByEmail(ctx context.Context, orgID string, email string) (domain.Customer, error) {
	if s.findByEmail == nil {
		return domain.Customer{}, notFoundErr("customer not found")
	}
	return s.findByEmail(ctx, orgID, email)
}

func (s *stubCustomerRepo) FindByUser(ctx context.Context, orgID string, userID string) (domain.Customer, error) {
	if s.findByUser == nil {
		return domain.Customer{}, notFoundErr("customer not found")
	}
	return s.findByUser(ctx, orgID, userID)
}

type stubProjectRepo struct {
	insert       func(ctx context.Context, project domain.Project) error
	findByID     func(ctx context.Context, projectID string) (domain.Project, error)
	listInWindow func(ctx context.Context, query repositories.ScheduleWindowQuery) ([]domain.Project, error)
}

func (s *stubProjectRepo) Insert(ctx context.Context, project domain.Project) error {
	if s.insert == nil {
		return nil
	}
	return s.insert(ctx, project)
}

func (s *stubProjectRepo) FindByID(ctx context.Context, projectID string) (domain.Project, error) {
	if s.findByID == nil {
		return domain.Project{}, notFoundErr("project not found")
	}
	return s.findByID(ctx, projectID)
}

func (s *stubProjectRepo) ListScheduledInWindow(ctx context.Context, query repositories.ScheduleWindowQuery) ([]domain.Project, error) {
	if s.listInWindow == nil {
		return nil, nil
	}
	return s.listInWindow(ctx, query)
}

type stubPendingOrderRepo struct {
	insert           func(ctx context.Context, order domain.PendingOrder) error
	findByID         func(ctx context.Context, orderID string) (domain.PendingOrder, error)
	findBySessionID  func(ctx context.Context, sessionID string) (domain.PendingOrder, error)
	fulfill          func(ctx context.Context, orderID string, paymentIntentID string, paidAt time.Time, build repositories.ProjectBuilder) (repositories.FulfillResult, error)
	expire           func(ctx context.Context, orderID string, now time.Time) (domain.PendingOrder, error)
	listStalePending func(ctx context.Context, before time.Time, limit int) ([]domain.PendingOrder, error)
}

func (s *stubPendingOrderRepo) Insert(ctx context.Context, order domain.PendingOrder) error {
	if s.insert == nil {
		return nil
	}
	return s.insert(ctx, order)
}

func (s *stubPendingOrderRepo) FindByID(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	if s.findByID == nil {
		return domain.PendingOrder{}, notFoundErr("order not found")
	}
	return s.findByID(ctx, orderID)
}

func (s *stubPendingOrderRepo) FindBySessionID(ctx context.Context, sessionID string) (domain.PendingOrder, error) {
	if s.findBySessionID == nil {
		return domain.PendingOrder{}, notFoundErr("order not found")
	}
	return s.findBySessionID(ctx, sessionID)
}

func (s *stubPendingOrderRepo) Fulfill(ctx context.Context, orderID string, paymentIntentID string, paidAt time.Time, build repositories.ProjectBuilder) (repositories.FulfillResult, error) {
	if s.fulfill == nil {
		return repositories.FulfillResult{}, errors.New("fulfill not stubbed")
	}
	return s.fulfill(ctx, orderID, paymentIntentID, paidAt, build)
}

func (s *stubPendingOrderRepo) Expire(ctx context.Context, orderID string, now time.Time) (domain.PendingOrder, error) {
	if s.expire == nil {
		return domain.PendingOrder{}, errors.New("expire not stubbed")
	}
	return s.expire(ctx, orderID, now)
}

func (s *stubPendingOrderRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.PendingOrder, error) {
	if s.listStalePending == nil {
		return nil, nil
	}
	return s.listStalePending(ctx, before, limit)
}

type stubGateway struct {
	create func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	get    func(ctx context.Context, sessionID string) (payments.CheckoutSession, error)
	verify func(payload []byte, signature string) (payments.WebhookEvent, error)
}

func (s *stubGateway) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.create == nil {
		return payments.CheckoutSession{}, errors.New("create not stubbed")
	}
	return s.create(ctx, req)
}

func (s *stubGateway) GetCheckoutSession(ctx context.Context, sessionID string) (payments.CheckoutSession, error) {
	if s.get == nil {
		return payments.CheckoutSession{}, errors.New("get not stubbed")
	}
	return s.get(ctx, sessionID)
}

func (s *stubGateway) VerifyWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	if s.verify == nil {
		return payments.WebhookEvent{}, errors.New("verify not stubbed")
	}
	return s.verify(payload, signature)
}

type permissionCheckerFunc func(ctx context.Context, orgID string, userID string) (bool, error)

func (f permissionCheckerFunc) CanCreateOrder(ctx context.Context, orgID string, userID string) (bool, error) {
	return f(ctx, orgID, userID)
}

type geocoderFunc func(ctx context.Context, address string) (GeocodeResult, error)

func (f geocoderFunc) Geocode(ctx context.Context, address string) (GeocodeResult, error) {
	return f(ctx, address)
}

type calendarPublisherFunc func(ctx context.Context, message CalendarEventMessage) (string, error)

func (f calendarPublisherFunc) PublishCalendarEvent(ctx context.Context, message CalendarEventMessage) (string, error) {
	return f(ctx, message)
}

// eventRecorder captures structured log events emitted by services.
type eventRecorder struct {
	events []string
	fields []map[string]any
}

func (r *eventRecorder) logger() Logger {
	return func(_ context.Context, event string, fields map[string]any) {
		r.events = append(r.events, event)
		r.fields = append(r.fields, fields)
	}
}

func (r *eventRecorder) has(event string) bool {
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%02d", prefix, n)
	}
}
