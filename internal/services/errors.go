package services

import (
	"errors"
	"fmt"

	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

// Sentinel errors shared by the order services. Handlers translate these to
// transport status codes.
var (
	// ErrInvalidOrder flags a structurally invalid booking request.
	ErrInvalidOrder = errors.New("orders: invalid order request")
	// ErrPermissionDenied flags a caller without booking rights for the target organization.
	ErrPermissionDenied = errors.New("orders: permission denied")
	// ErrOrganizationNotFound flags an unknown target organization.
	ErrOrganizationNotFound = errors.New("orders: organization not found")
	// ErrPackageNotFound flags an unknown package key for the provider.
	ErrPackageNotFound = errors.New("orders: package not found")
	// ErrOrderNotFound flags an unknown pending order or checkout session.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrOrderTerminal flags a transition attempt against a settled order.
	ErrOrderTerminal = errors.New("orders: order already settled")
	// ErrProviderCheckoutRequired flags a direct booking that targets a
	// provider package. Those orders settle through the checkout flow.
	ErrProviderCheckoutRequired = errors.New("orders: provider package orders settle through checkout")
	// ErrPaymentGateway flags an unreachable or failing payment provider.
	ErrPaymentGateway = errors.New("orders: payment gateway unavailable")
)

// ScheduleConflictError reports the bookings that block the requested slot.
type ScheduleConflictError struct {
	Conflicts []ScheduleConflict
}

// Error implements the error interface.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("orders: schedule conflict with %d existing booking(s)", len(e.Conflicts))
}

// mapRepositoryError translates repository categorisation into service
// sentinels, defaulting to the original error for uncategorised failures.
func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			if notFound != nil {
				return fmt.Errorf("%w: %v", notFound, err)
			}
		case repoErr.IsUnavailable():
			return fmt.Errorf("orders: storage unavailable: %w", err)
		}
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
