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
	pendingOrderCollection = "pendingOrders"
)

// PendingOrderRepository owns the checkout-order lifecycle. Status transitions
// out of PENDING_PAYMENT run inside Firestore transactions that re-read the
// document first, so a concurrent webhook and poller can never both win.
type PendingOrderRepository struct {
	base     *pfirestore.BaseRepository[pendingOrderDocument]
	provider *pfirestore.Provider
}

// NewPendingOrderRepository constructs a Firestore-backed pending order repository.
func NewPendingOrderRepository(provider *pfirestore.Provider) (*PendingOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("pending order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[pendingOrderDocument](provider, pendingOrderCollection, nil, nil)
	return &PendingOrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the pending order document. The caller assigns the ID and
// must have already obtained the checkout session id.
func (r *PendingOrderRepository) Insert(ctx context.Context, order domain.PendingOrder) error {
	if r == nil || r.base == nil {
		return errors.New("pending order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("pending order repository: order id is required")
	}
	if strings.TrimSpace(order.SessionID) == "" {
		return errors.New("pending order repository: session id is required")
	}

	doc, err := encodePendingOrder(order)
	if err != nil {
		return err
	}
	_, err = r.base.Set(ctx, order.ID, doc)
	return err
}

// FindByID loads a pending order.
func (r *PendingOrderRepository) FindByID(ctx context.Context, orderID string) (domain.PendingOrder, error) {
	if r == nil || r.base == nil {
		return domain.PendingOrder{}, errors.New("pending order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.PendingOrder{}, errors.New("pending order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	return decodePendingOrder(doc.ID, doc.Data)
}

// FindBySessionID looks the order up by its checkout session id.
func (r *PendingOrderRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.PendingOrder, error) {
	if r == nil || r.base == nil {
		return domain.PendingOrder{}, errors.New("pending order repository not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return domain.PendingOrder{}, errors.New("pending order repository: session id is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("sessionId", "==", sid).Limit(1)
	})
	if err != nil {
		return domain.PendingOrder{}, err
	}
	if len(docs) == 0 {
		return domain.PendingOrder{}, pfirestore.NewNotFoundError("pendingOrders.findBySession",
			fmt.Errorf("no pending order for session %s", sid))
	}
	return decodePendingOrder(docs[0].ID, docs[0].Data)
}

// Fulfill transitions the order PENDING_PAYMENT -> FULFILLED and creates the
// project built by the callback, all in one transaction. When the order is
// already terminal it returns a conflict error with the current order state
// populated in the result, and writes nothing.
func (r *PendingOrderRepository) Fulfill(ctx context.Context, orderID string, paymentIntentID string, paidAt time.Time, build repositories.ProjectBuilder) (repositories.FulfillResult, error) {
	if r == nil || r.provider == nil {
		return repositories.FulfillResult{}, errors.New("pending order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return repositories.FulfillResult{}, errors.New("pending order repository: order id is required")
	}
	if build == nil {
		return repositories.FulfillResult{}, errors.New("pending order repository: project builder is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.FulfillResult{}, err
	}

	var result repositories.FulfillResult
	txErr := pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		ref := client.Collection(pendingOrderCollection).Doc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc pendingOrderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode pending order %s: %w", id, err)
		}
		order, err := decodePendingOrder(snap.Ref.ID, doc)
		if err != nil {
			return err
		}

		result = repositories.FulfillResult{Order: order}
		if order.Status != domain.OrderStatusPendingPayment {
			return pfirestore.NewConflictError("pendingOrders.fulfill",
				fmt.Errorf("order %s is %s", id, order.Status))
		}

		project, err := build(order)
		if err != nil {
			return err
		}
		if strings.TrimSpace(project.ID) == "" {
			return errors.New("pending order repository: built project is missing an id")
		}

		projectRef := client.Collection(projectCollection).Doc(project.ID)
		if err := tx.Create(projectRef, encodeProject(project)); err != nil {
			return err
		}

		now := paidAt.UTC()
		updates := []firestore.Update{
			{Path: "status", Value: string(domain.OrderStatusFulfilled)},
			{Path: "projectId", Value: project.ID},
			{Path: "updatedAt", Value: now},
		}
		if strings.TrimSpace(paymentIntentID) != "" {
			updates = append(updates, firestore.Update{Path: "paymentIntentId", Value: strings.TrimSpace(paymentIntentID)})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		order.Status = domain.OrderStatusFulfilled
		order.ProjectID = &project.ID
		if strings.TrimSpace(paymentIntentID) != "" {
			order.PaymentIntentID = strings.TrimSpace(paymentIntentID)
		}
		order.UpdatedAt = now
		result.Order = order
		result.Project = project
		return nil
	})
	if txErr != nil {
		return result, pfirestore.WrapError("pendingOrders.fulfill", txErr)
	}
	return result, nil
}

// Expire transitions the order PENDING_PAYMENT -> EXPIRED. Terminal orders
// are left untouched and reported via a conflict error.
func (r *PendingOrderRepository) Expire(ctx context.Context, orderID string, now time.Time) (domain.PendingOrder, error) {
	if r == nil || r.provider == nil {
		return domain.PendingOrder{}, errors.New("pending order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.PendingOrder{}, errors.New("pending order repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PendingOrder{}, err
	}

	var current domain.PendingOrder
	txErr := pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		ref := client.Collection(pendingOrderCollection).Doc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var doc pendingOrderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode pending order %s: %w", id, err)
		}
		order, err := decodePendingOrder(snap.Ref.ID, doc)
		if err != nil {
			return err
		}

		current = order
		if order.Status != domain.OrderStatusPendingPayment {
			return pfirestore.NewConflictError("pendingOrders.expire",
				fmt.Errorf("order %s is %s", id, order.Status))
		}

		stamp := now.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(domain.OrderStatusExpired)},
			{Path: "updatedAt", Value: stamp},
		}); err != nil {
			return err
		}

		current.Status = domain.OrderStatusExpired
		current.UpdatedAt = stamp
		return nil
	})
	if txErr != nil {
		return current, pfirestore.WrapError("pendingOrders.expire", txErr)
	}
	return current, nil
}

// ListStalePending returns orders still PENDING_PAYMENT whose checkout
// session expired before the cutoff.
func (r *PendingOrderRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.PendingOrder, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("pending order repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("status", "==", string(domain.OrderStatusPendingPayment)).
			Where("expiresAt", "<", before.UTC()).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.PendingOrder, 0, len(docs))
	for _, doc := range docs {
		order, err := decodePendingOrder(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func encodePendingOrder(order domain.PendingOrder) (pendingOrderDocument, error) {
	payload, err := domain.EncodeOrderIntent(order.Intent)
	if err != nil {
		return pendingOrderDocument{}, err
	}
	doc := pendingOrderDocument{
		ProviderOrgID:   strings.TrimSpace(order.ProviderOrgID),
		AgentUserID:     strings.TrimSpace(order.AgentUserID),
		SessionID:       strings.TrimSpace(order.SessionID),
		Status:          string(order.Status),
		PackageKey:      strings.TrimSpace(order.PackageKey),
		Amount:          order.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		IntentPayload:   string(payload),
		SchemaVersion:   domain.OrderIntentSchemaVersion,
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		ExpiresAt:       order.ExpiresAt.UTC(),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.ProjectID != nil && strings.TrimSpace(*order.ProjectID) != "" {
		doc.ProjectID = strings.TrimSpace(*order.ProjectID)
	}
	return doc, nil
}

func decodePendingOrder(id string, doc pendingOrderDocument) (domain.PendingOrder, error) {
	intent, err := domain.DecodeOrderIntent([]byte(doc.IntentPayload))
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("pending order %s: %w", id, err)
	}
	order := domain.PendingOrder{
		ID:              id,
		ProviderOrgID:   doc.ProviderOrgID,
		AgentUserID:     doc.AgentUserID,
		SessionID:       doc.SessionID,
		Status:          domain.PendingOrderStatus(doc.Status),
		PackageKey:      doc.PackageKey,
		Amount:          doc.Amount,
		Currency:        doc.Currency,
		Intent:          intent,
		SchemaVersion:   doc.SchemaVersion,
		PaymentIntentID: doc.PaymentIntentID,
		ExpiresAt:       doc.ExpiresAt,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if strings.TrimSpace(doc.ProjectID) != "" {
		projectID := doc.ProjectID
		order.ProjectID = &projectID
	}
	return order, nil
}

type pendingOrderDocument struct {
	ProviderOrgID   string    `firestore:"providerOrgId"`
	AgentUserID     string    `firestore:"agentUserId"`
	SessionID       string    `firestore:"sessionId"`
	Status          string    `firestore:"status"`
	PackageKey      string    `firestore:"packageKey,omitempty"`
	Amount          int64     `firestore:"amount"`
	Currency        string    `firestore:"currency"`
	IntentPayload   string    `firestore:"intentPayload"`
	SchemaVersion   int       `firestore:"schemaVersion"`
	ProjectID       string    `firestore:"projectId,omitempty"`
	PaymentIntentID string    `firestore:"paymentIntentId,omitempty"`
	ExpiresAt       time.Time `firestore:"expiresAt"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

var _ repositories.PendingOrderRepository = (*PendingOrderRepository)(nil)
