package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
)

func TestMembershipPermissionCheckerRoles(t *testing.T) {
	cases := []struct {
		role    domain.MembershipRole
		allowed bool
	}{
		{domain.RoleOwner, true},
		{domain.RoleCoordinator, true},
		{domain.RoleShooter, false},
	}

	for _, tc := range cases {
		checker, err := NewMembershipPermissionChecker(&stubMembershipRepo{
			find: func(_ context.Context, orgID string, userID string) (domain.Membership, error) {
				return domain.Membership{OrgID: orgID, UserID: userID, Role: tc.role}, nil
			},
		})
		if err != nil {
			t.Fatalf("NewMembershipPermissionChecker: %v", err)
		}

		allowed, err := checker.CanCreateOrder(context.Background(), "org_main", "user-1")
		if err != nil {
			t.Fatalf("CanCreateOrder(%s): %v", tc.role, err)
		}
		if allowed != tc.allowed {
			t.Fatalf("role %s: expected allowed=%t, got %t", tc.role, tc.allowed, allowed)
		}
	}
}

func TestMembershipPermissionCheckerNonMember(t *testing.T) {
	checker, err := NewMembershipPermissionChecker(&stubMembershipRepo{})
	if err != nil {
		t.Fatalf("NewMembershipPermissionChecker: %v", err)
	}

	allowed, err := checker.CanCreateOrder(context.Background(), "org_main", "user-outsider")
	if err != nil {
		t.Fatalf("CanCreateOrder: %v", err)
	}
	if allowed {
		t.Fatal("expected non-member to be denied")
	}
}

func TestMembershipPermissionCheckerStorageError(t *testing.T) {
	checker, err := NewMembershipPermissionChecker(&stubMembershipRepo{
		find: func(context.Context, string, string) (domain.Membership, error) {
			return domain.Membership{}, errors.New("firestore unavailable")
		},
	})
	if err != nil {
		t.Fatalf("NewMembershipPermissionChecker: %v", err)
	}

	if _, err := checker.CanCreateOrder(context.Background(), "org_main", "user-1"); err == nil {
		t.Fatal("expected storage error to surface")
	}
}

func TestMembershipPermissionCheckerBlankIdentifiers(t *testing.T) {
	checker, err := NewMembershipPermissionChecker(&stubMembershipRepo{})
	if err != nil {
		t.Fatalf("NewMembershipPermissionChecker: %v", err)
	}

	allowed, err := checker.CanCreateOrder(context.Background(), "", "user-1")
	if err != nil || allowed {
		t.Fatalf("expected blank org to be denied, got allowed=%t err=%v", allowed, err)
	}
}
