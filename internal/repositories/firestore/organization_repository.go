package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	pfirestore "github.com/RelayDigital/vrem-sub004/internal/platform/firestore"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

const (
	organizationCollection = "organizations"
	packageSubcollection   = "packages"
)

// OrganizationRepository reads tenant documents and their package subcollection.
type OrganizationRepository struct {
	base     *pfirestore.BaseRepository[organizationDocument]
	provider *pfirestore.Provider
}

// NewOrganizationRepository constructs a Firestore-backed organization repository.
func NewOrganizationRepository(provider *pfirestore.Provider) (*OrganizationRepository, error) {
	if provider == nil {
		return nil, errors.New("organization repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[organizationDocument](provider, organizationCollection, nil, nil)
	return &OrganizationRepository{
		base:     base,
		provider: provider,
	}, nil
}

// FindByID loads a single organization.
func (r *OrganizationRepository) FindByID(ctx context.Context, orgID string) (domain.Organization, error) {
	if r == nil || r.base == nil {
		return domain.Organization{}, errors.New("organization repository not initialised")
	}
	id := strings.TrimSpace(orgID)
	if id == "" {
		return domain.Organization{}, errors.New("organization repository: org id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Organization{}, err
	}
	return decodeOrganization(doc.ID, doc.Data, doc.UpdateTime), nil
}

// FindPackage loads one purchasable package for a provider organization.
func (r *OrganizationRepository) FindPackage(ctx context.Context, orgID string, key string) (domain.MediaPackage, error) {
	if r == nil || r.provider == nil {
		return domain.MediaPackage{}, errors.New("organization repository not initialised")
	}
	id := strings.TrimSpace(orgID)
	pkgKey := strings.TrimSpace(key)
	if id == "" || pkgKey == "" {
		return domain.MediaPackage{}, errors.New("organization repository: org id and package key are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.MediaPackage{}, err
	}

	snap, err := client.Collection(organizationCollection).Doc(id).Collection(packageSubcollection).Doc(pkgKey).Get(ctx)
	if err != nil {
		return domain.MediaPackage{}, pfirestore.WrapError("organizations.packages.get", err)
	}

	var doc packageDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.MediaPackage{}, fmt.Errorf("organization repository: decode package %s: %w", pkgKey, err)
	}
	return decodePackage(snap.Ref.ID, doc), nil
}

// ListPackages returns all purchasable packages for a provider organization.
func (r *OrganizationRepository) ListPackages(ctx context.Context, orgID string) ([]domain.MediaPackage, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("organization repository not initialised")
	}
	id := strings.TrimSpace(orgID)
	if id == "" {
		return nil, errors.New("organization repository: org id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	snaps, err := client.Collection(organizationCollection).Doc(id).Collection(packageSubcollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("organizations.packages.list", err)
	}

	packages := make([]domain.MediaPackage, 0, len(snaps))
	for _, snap := range snaps {
		var doc packageDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("organization repository: decode package %s: %w", snap.Ref.ID, err)
		}
		packages = append(packages, decodePackage(snap.Ref.ID, doc))
	}
	return packages, nil
}

func decodeOrganization(id string, doc organizationDocument, updateTime time.Time) domain.Organization {
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = updateTime
	}
	return domain.Organization{
		ID:        id,
		Name:      strings.TrimSpace(doc.Name),
		Type:      domain.OrganizationType(strings.TrimSpace(doc.Type)),
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Currency)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: updatedAt,
	}
}

func decodePackage(key string, doc packageDocument) domain.MediaPackage {
	return domain.MediaPackage{
		Key:             key,
		Name:            strings.TrimSpace(doc.Name),
		Amount:          doc.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(doc.Currency)),
		DurationMinutes: doc.DurationMinutes,
		MediaTypes:      append([]string(nil), doc.MediaTypes...),
	}
}

type organizationDocument struct {
	Name      string    `firestore:"name"`
	Type      string    `firestore:"type"`
	Currency  string    `firestore:"currency"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type packageDocument struct {
	Name            string   `firestore:"name"`
	Amount          int64    `firestore:"amount"`
	Currency        string   `firestore:"currency"`
	DurationMinutes int      `firestore:"durationMinutes"`
	MediaTypes      []string `firestore:"mediaTypes,omitempty"`
}

var _ repositories.OrganizationRepository = (*OrganizationRepository)(nil)
