package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	pfirestore "github.com/RelayDigital/vrem-sub004/internal/platform/firestore"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

const (
	membershipCollection = "memberships"
)

// MembershipRepository resolves organization roles for authenticated users.
type MembershipRepository struct {
	base *pfirestore.BaseRepository[membershipDocument]
}

// NewMembershipRepository constructs a Firestore-backed membership repository.
func NewMembershipRepository(provider *pfirestore.Provider) (*MembershipRepository, error) {
	if provider == nil {
		return nil, errors.New("membership repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[membershipDocument](provider, membershipCollection, nil, nil)
	return &MembershipRepository{base: base}, nil
}

// Find returns the user's membership in the organization.
func (r *MembershipRepository) Find(ctx context.Context, orgID string, userID string) (domain.Membership, error) {
	if r == nil || r.base == nil {
		return domain.Membership{}, errors.New("membership repository not initialised")
	}
	org := strings.TrimSpace(orgID)
	uid := strings.TrimSpace(userID)
	if org == "" || uid == "" {
		return domain.Membership{}, errors.New("membership repository: org id and user id are required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("orgId", "==", org).Where("userId", "==", uid).Limit(1)
	})
	if err != nil {
		return domain.Membership{}, err
	}
	if len(docs) == 0 {
		return domain.Membership{}, pfirestore.NewNotFoundError("memberships.find",
			fmt.Errorf("user %s is not a member of org %s", uid, org))
	}

	doc := docs[0]
	return domain.Membership{
		ID:        doc.ID,
		OrgID:     doc.Data.OrgID,
		UserID:    doc.Data.UserID,
		Role:      domain.MembershipRole(doc.Data.Role),
		CreatedAt: doc.Data.CreatedAt,
	}, nil
}

type membershipDocument struct {
	OrgID     string    `firestore:"orgId"`
	UserID    string    `firestore:"userId"`
	Role      string    `firestore:"role"`
	CreatedAt time.Time `firestore:"createdAt"`
}

var _ repositories.MembershipRepository = (*MembershipRepository)(nil)
