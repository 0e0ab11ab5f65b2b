package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

type membershipPermissionChecker struct {
	memberships repositories.MembershipRepository
}

var _ PermissionChecker = (*membershipPermissionChecker)(nil)

// NewMembershipPermissionChecker grants booking rights to organization
// members whose role allows it. Non-members are denied, not errored.
func NewMembershipPermissionChecker(memberships repositories.MembershipRepository) (PermissionChecker, error) {
	if memberships == nil {
		return nil, errors.New("permission checker: membership repository is required")
	}
	return &membershipPermissionChecker{memberships: memberships}, nil
}

func (c *membershipPermissionChecker) CanCreateOrder(ctx context.Context, orgID string, userID string) (bool, error) {
	if c == nil || c.memberships == nil {
		return false, errors.New("permission checker not initialised")
	}
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(userID) == "" {
		return false, nil
	}

	membership, err := c.memberships.Find(ctx, orgID, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("resolve membership: %w", err)
	}
	return membership.Role.CanBook(), nil
}
