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
	customerCollection = "customers"
)

// CustomerRepository persists organization-scoped customer contacts.
type CustomerRepository struct {
	base *pfirestore.BaseRepository[customerDocument]
}

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[customerDocument](provider, customerCollection, nil, nil)
	return &CustomerRepository{base: base}, nil
}

// Insert creates the customer document. The caller assigns the ID and the
// normalized email identity.
func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) error {
	if r == nil || r.base == nil {
		return errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(customer.ID) == "" {
		return errors.New("customer repository: customer id is required")
	}
	if strings.TrimSpace(customer.OrgID) == "" {
		return errors.New("customer repository: org id is required")
	}

	_, err := r.base.Set(ctx, customer.ID, encodeCustomer(customer))
	return err
}

// Update overwrites the customer document.
func (r *CustomerRepository) Update(ctx context.Context, customer domain.Customer) error {
	if r == nil || r.base == nil {
		return errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(customer.ID) == "" {
		return errors.New("customer repository: customer id is required")
	}

	_, err := r.base.Set(ctx, customer.ID, encodeCustomer(customer))
	return err
}

// FindByID loads a customer and verifies it belongs to the organization.
func (r *CustomerRepository) FindByID(ctx context.Context, orgID string, customerID string) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	id := strings.TrimSpace(customerID)
	if id == "" {
		return domain.Customer{}, errors.New("customer repository: customer id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	customer := decodeCustomer(doc.ID, doc.Data)
	if customer.OrgID != strings.TrimSpace(orgID) {
		return domain.Customer{}, pfirestore.NewNotFoundError("customers.get",
			fmt.Errorf("customer %s not found in org %s", id, orgID))
	}
	return customer, nil
}

// FindByEmail looks up the customer by normalized email within the organization.
func (r *CustomerRepository) FindByEmail(ctx context.Context, orgID string, email string) (domain.Customer, error) {
	return r.findOne(ctx, "customers.findByEmail", orgID, "email", strings.TrimSpace(email))
}

// FindByUser looks up the customer linked to an authenticated user account.
func (r *CustomerRepository) FindByUser(ctx context.Context, orgID string, userID string) (domain.Customer, error) {
	return r.findOne(ctx, "customers.findByUser", orgID, "userId", strings.TrimSpace(userID))
}

func (r *CustomerRepository) findOne(ctx context.Context, op string, orgID string, field string, value string) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	org := strings.TrimSpace(orgID)
	if org == "" || value == "" {
		return domain.Customer{}, fmt.Errorf("customer repository: org id and %s are required", field)
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("orgId", "==", org).Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	if len(docs) == 0 {
		return domain.Customer{}, pfirestore.NewNotFoundError(op,
			fmt.Errorf("no customer with %s %q in org %s", field, value, org))
	}
	return decodeCustomer(docs[0].ID, docs[0].Data), nil
}

func encodeCustomer(customer domain.Customer) customerDocument {
	doc := customerDocument{
		OrgID:     strings.TrimSpace(customer.OrgID),
		Name:      strings.TrimSpace(customer.Name),
		Email:     strings.TrimSpace(customer.Email),
		Phone:     strings.TrimSpace(customer.Phone),
		CreatedAt: customer.CreatedAt.UTC(),
		UpdatedAt: customer.UpdatedAt.UTC(),
	}
	if customer.UserID != nil && strings.TrimSpace(*customer.UserID) != "" {
		doc.UserID = strings.TrimSpace(*customer.UserID)
	}
	return doc
}

func decodeCustomer(id string, doc customerDocument) domain.Customer {
	customer := domain.Customer{
		ID:        id,
		OrgID:     strings.TrimSpace(doc.OrgID),
		Name:      strings.TrimSpace(doc.Name),
		Email:     strings.TrimSpace(doc.Email),
		Phone:     strings.TrimSpace(doc.Phone),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if strings.TrimSpace(doc.UserID) != "" {
		uid := strings.TrimSpace(doc.UserID)
		customer.UserID = &uid
	}
	return customer
}

type customerDocument struct {
	OrgID     string    `firestore:"orgId"`
	Name      string    `firestore:"name"`
	Email     string    `firestore:"email"`
	Phone     string    `firestore:"phone,omitempty"`
	UserID    string    `firestore:"userId,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)
