package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	pfirestore "github.com/RelayDigital/vrem-sub004/internal/platform/firestore"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

const (
	projectCollection = "projects"
)

// ProjectRepository persists production jobs.
type ProjectRepository struct {
	base *pfirestore.BaseRepository[projectDocument]
}

// NewProjectRepository constructs a Firestore-backed project repository.
func NewProjectRepository(provider *pfirestore.Provider) (*ProjectRepository, error) {
	if provider == nil {
		return nil, errors.New("project repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[projectDocument](provider, projectCollection, nil, nil)
	return &ProjectRepository{base: base}, nil
}

// Insert creates the project document. The caller assigns the ID.
func (r *ProjectRepository) Insert(ctx context.Context, project domain.Project) error {
	if r == nil || r.base == nil {
		return errors.New("project repository not initialised")
	}
	if strings.TrimSpace(project.ID) == "" {
		return errors.New("project repository: project id is required")
	}
	if strings.TrimSpace(project.OrgID) == "" {
		return errors.New("project repository: org id is required")
	}

	_, err := r.base.Set(ctx, project.ID, encodeProject(project))
	return err
}

// FindByID loads a single project.
func (r *ProjectRepository) FindByID(ctx context.Context, projectID string) (domain.Project, error) {
	if r == nil || r.base == nil {
		return domain.Project{}, errors.New("project repository not initialised")
	}
	id := strings.TrimSpace(projectID)
	if id == "" {
		return domain.Project{}, errors.New("project repository: project id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	return decodeProject(doc.ID, doc.Data), nil
}

// ListScheduledInWindow returns the assignee's projects scheduled inside
// [From, To). Canceled shoots do not block the calendar.
func (r *ProjectRepository) ListScheduledInWindow(ctx context.Context, query repositories.ScheduleWindowQuery) ([]domain.Project, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("project repository not initialised")
	}
	if strings.TrimSpace(query.OrgID) == "" || strings.TrimSpace(query.AssigneeID) == "" {
		return nil, errors.New("project repository: org id and assignee id are required")
	}
	if !query.From.Before(query.To) {
		return nil, errors.New("project repository: window start must precede window end")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("orgId", "==", strings.TrimSpace(query.OrgID)).
			Where("assigneeId", "==", strings.TrimSpace(query.AssigneeID)).
			Where("scheduledAt", ">=", query.From.UTC()).
			Where("scheduledAt", "<", query.To.UTC())
	})
	if err != nil {
		return nil, err
	}

	projects := make([]domain.Project, 0, len(docs))
	for _, doc := range docs {
		project := decodeProject(doc.ID, doc.Data)
		if project.Status == domain.ProjectStatusCanceled {
			continue
		}
		projects = append(projects, project)
	}
	return projects, nil
}

func encodeProject(project domain.Project) projectDocument {
	doc := projectDocument{
		OrgID:           strings.TrimSpace(project.OrgID),
		CustomerID:      strings.TrimSpace(project.CustomerID),
		Status:          string(project.Status),
		Title:           strings.TrimSpace(project.Title),
		Address:         encodeAddress(project.Address),
		ScheduledAt:     project.ScheduledAt.UTC(),
		DurationMinutes: project.DurationMinutes,
		MediaTypes:      append([]string(nil), project.MediaTypes...),
		Notes:           project.Notes,
		CreatedAt:       project.CreatedAt.UTC(),
		UpdatedAt:       project.UpdatedAt.UTC(),
	}
	if project.AssigneeID != nil && strings.TrimSpace(*project.AssigneeID) != "" {
		doc.AssigneeID = strings.TrimSpace(*project.AssigneeID)
	}
	if project.PendingOrderID != nil && strings.TrimSpace(*project.PendingOrderID) != "" {
		doc.PendingOrderID = strings.TrimSpace(*project.PendingOrderID)
	}
	if project.CalendarEventID != nil && strings.TrimSpace(*project.CalendarEventID) != "" {
		doc.CalendarEventID = strings.TrimSpace(*project.CalendarEventID)
	}
	if project.Payment != nil {
		doc.Payment = &paymentDocument{
			Provider:          project.Payment.Provider,
			CheckoutSessionID: project.Payment.CheckoutSessionID,
			PaymentIntentID:   project.Payment.PaymentIntentID,
			Amount:            project.Payment.Amount,
			Currency:          strings.ToUpper(strings.TrimSpace(project.Payment.Currency)),
			PaidAt:            project.Payment.PaidAt,
		}
	}
	return doc
}

func decodeProject(id string, doc projectDocument) domain.Project {
	project := domain.Project{
		ID:              id,
		OrgID:           doc.OrgID,
		CustomerID:      doc.CustomerID,
		Status:          domain.ProjectStatus(doc.Status),
		Title:           doc.Title,
		Address:         decodeAddress(doc.Address),
		ScheduledAt:     doc.ScheduledAt,
		DurationMinutes: doc.DurationMinutes,
		MediaTypes:      append([]string(nil), doc.MediaTypes...),
		Notes:           doc.Notes,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if strings.TrimSpace(doc.AssigneeID) != "" {
		assignee := doc.AssigneeID
		project.AssigneeID = &assignee
	}
	if strings.TrimSpace(doc.PendingOrderID) != "" {
		orderID := doc.PendingOrderID
		project.PendingOrderID = &orderID
	}
	if strings.TrimSpace(doc.CalendarEventID) != "" {
		eventID := doc.CalendarEventID
		project.CalendarEventID = &eventID
	}
	if doc.Payment != nil {
		project.Payment = &domain.PaymentInfo{
			Provider:          doc.Payment.Provider,
			CheckoutSessionID: doc.Payment.CheckoutSessionID,
			PaymentIntentID:   doc.Payment.PaymentIntentID,
			Amount:            doc.Payment.Amount,
			Currency:          doc.Payment.Currency,
			PaidAt:            doc.Payment.PaidAt,
		}
	}
	return project
}

func encodeAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		Region:     strings.TrimSpace(addr.Region),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Formatted:  strings.TrimSpace(addr.Formatted),
		PlaceID:    strings.TrimSpace(addr.PlaceID),
		Lat:        addr.Lat,
		Lng:        addr.Lng,
	}
}

func decodeAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		Region:     doc.Region,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Formatted:  doc.Formatted,
		PlaceID:    doc.PlaceID,
		Lat:        doc.Lat,
		Lng:        doc.Lng,
	}
}

type projectDocument struct {
	OrgID           string           `firestore:"orgId"`
	CustomerID      string           `firestore:"customerId"`
	Status          string           `firestore:"status"`
	Title           string           `firestore:"title,omitempty"`
	Address         addressDocument  `firestore:"address"`
	ScheduledAt     time.Time        `firestore:"scheduledAt"`
	DurationMinutes int              `firestore:"durationMinutes"`
	AssigneeID      string           `firestore:"assigneeId,omitempty"`
	MediaTypes      []string         `firestore:"mediaTypes,omitempty"`
	Notes           string           `firestore:"notes,omitempty"`
	Payment         *paymentDocument `firestore:"payment,omitempty"`
	PendingOrderID  string           `firestore:"pendingOrderId,omitempty"`
	CalendarEventID string           `firestore:"calendarEventId,omitempty"`
	CreatedAt       time.Time        `firestore:"createdAt"`
	UpdatedAt       time.Time        `firestore:"updatedAt"`
}

type addressDocument struct {
	Line1      string   `firestore:"line1"`
	Line2      string   `firestore:"line2,omitempty"`
	City       string   `firestore:"city,omitempty"`
	Region     string   `firestore:"region,omitempty"`
	PostalCode string   `firestore:"postalCode,omitempty"`
	Country    string   `firestore:"country,omitempty"`
	Formatted  string   `firestore:"formatted,omitempty"`
	PlaceID    string   `firestore:"placeId,omitempty"`
	Lat        *float64 `firestore:"lat,omitempty"`
	Lng        *float64 `firestore:"lng,omitempty"`
}

type paymentDocument struct {
	Provider          string     `firestore:"provider"`
	CheckoutSessionID string     `firestore:"checkoutSessionId"`
	PaymentIntentID   string     `firestore:"paymentIntentId,omitempty"`
	Amount            int64      `firestore:"amount"`
	Currency          string     `firestore:"currency"`
	PaidAt            *time.Time `firestore:"paidAt,omitempty"`
}

var _ repositories.ProjectRepository = (*ProjectRepository)(nil)
