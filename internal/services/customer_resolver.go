package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/platform/textutil"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

// resolveCustomer finds the organization's customer by normalized email or
// creates one. Existing customers are returned as-is apart from backfilling a
// missing phone or user link, so repeated bookings never fork contacts.
func resolveCustomer(ctx context.Context, repo repositories.CustomerRepository, orgID string, input CustomerInput, linkUserID string, now time.Time, nextID func() string) (Customer, bool, error) {
	email := textutil.NormalizeEmail(input.Email)
	if email == "" {
		return Customer{}, false, fmt.Errorf("%w: customer email is required", ErrInvalidOrder)
	}

	existing, err := repo.FindByEmail(ctx, orgID, email)
	if err == nil {
		updated := false
		if existing.Phone == "" {
			if phone := textutil.NormalizePhone(input.Phone); phone != "" {
				existing.Phone = phone
				updated = true
			}
		}
		if link := strings.TrimSpace(linkUserID); link != "" && existing.UserID == nil {
			existing.UserID = &link
			updated = true
		}
		if updated {
			existing.UpdatedAt = now
			if err := repo.Update(ctx, existing); err != nil {
				return Customer{}, false, fmt.Errorf("update customer %s: %w", existing.ID, err)
			}
		}
		return existing, false, nil
	}
	if !isRepoNotFound(err) {
		return Customer{}, false, fmt.Errorf("find customer by email: %w", err)
	}

	customer := domain.Customer{
		ID:        fmt.Sprintf("cus_%s", strings.ToLower(nextID())),
		OrgID:     orgID,
		Name:      textutil.NormalizeName(input.Name),
		Email:     email,
		Phone:     textutil.NormalizePhone(input.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if link := strings.TrimSpace(linkUserID); link != "" {
		customer.UserID = &link
	}
	if err := repo.Insert(ctx, customer); err != nil {
		return Customer{}, false, fmt.Errorf("insert customer: %w", err)
	}
	return customer, true, nil
}
