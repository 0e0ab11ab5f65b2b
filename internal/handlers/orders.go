package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/platform/auth"
	"github.com/RelayDigital/vrem-sub004/internal/platform/httpx"
	"github.com/RelayDigital/vrem-sub004/internal/services"
)

const maxOrderRequestBody = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// OrderHandlersConfig wires the order endpoints to their services.
type OrderHandlersConfig struct {
	Authenticator *auth.Authenticator
	Intake        services.IntakeService
	Checkout      services.CheckoutService
	Fulfillment   services.FulfillmentService

	// Fallback redirect targets used when a checkout request omits them.
	DefaultSuccessURL string
	DefaultCancelURL  string
}

// OrderHandlers exposes booking intake, provider checkout and order status
// endpoints for authenticated users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	intake      services.IntakeService
	checkout    services.CheckoutService
	fulfillment services.FulfillmentService
	successURL  string
	cancelURL   string
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(cfg OrderHandlersConfig) *OrderHandlers {
	return &OrderHandlers{
		authn:       cfg.Authenticator,
		intake:      cfg.Intake,
		checkout:    cfg.Checkout,
		fulfillment: cfg.Fulfillment,
		successURL:  strings.TrimSpace(cfg.DefaultSuccessURL),
		cancelURL:   strings.TrimSpace(cfg.DefaultCancelURL),
	}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/create", h.createOrder)
	group.Post("/checkout", h.createCheckoutSession)
	group.Get("/status/{sessionID}", h.orderStatus)
}

type orderIntentWire struct {
	OrgID           string       `json:"orgId"`
	ProviderOrgID   string       `json:"providerOrgId"`
	Customer        customerWire `json:"customer"`
	Title           string       `json:"title"`
	ScheduledAt     time.Time    `json:"scheduledAt"`
	DurationMinutes int          `json:"durationMinutes"`
	AssigneeID      string       `json:"assigneeId"`
	Address         addressWire  `json:"address"`
	MediaTypes      []string     `json:"mediaTypes"`
	PackageKey      string       `json:"packageKey"`
	Notes           string       `json:"notes"`
}

type customerWire struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type addressWire struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city,omitempty"`
	Region     string   `json:"region,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
	Formatted  string   `json:"formatted,omitempty"`
	PlaceID    string   `json:"placeId,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

type createOrderRequest struct {
	SchemaVersion int             `json:"schemaVersion"`
	Intent        orderIntentWire `json:"intent"`
}

type createCheckoutRequest struct {
	SchemaVersion int             `json:"schemaVersion"`
	Intent        orderIntentWire `json:"intent"`
	SuccessURL    string          `json:"successUrl"`
	CancelURL     string          `json:"cancelUrl"`
}

type createOrderResponse struct {
	Project       projectPayload  `json:"project"`
	Customer      customerPayload `json:"customer"`
	IsNewCustomer bool            `json:"isNewCustomer"`
}

type createCheckoutResponse struct {
	CheckoutURL    string `json:"checkoutUrl"`
	SessionID      string `json:"sessionId"`
	PendingOrderID string `json:"pendingOrderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
}

type orderStatusResponse struct {
	Status    string          `json:"status"`
	ProjectID string          `json:"projectId,omitempty"`
	Project   *projectPayload `json:"project,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
}

type projectPayload struct {
	ID              string          `json:"id"`
	OrgID           string          `json:"orgId"`
	CustomerID      string          `json:"customerId"`
	Status          string          `json:"status"`
	Title           string          `json:"title"`
	Address         addressWire     `json:"address"`
	ScheduledAt     time.Time       `json:"scheduledAt"`
	DurationMinutes int             `json:"durationMinutes"`
	AssigneeID      string          `json:"assigneeId,omitempty"`
	MediaTypes      []string        `json:"mediaTypes,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Payment         *paymentPayload `json:"payment,omitempty"`
	PendingOrderID  string          `json:"pendingOrderId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type paymentPayload struct {
	Provider          string `json:"provider"`
	CheckoutSessionID string `json:"checkoutSessionId"`
	PaymentIntentID   string `json:"paymentIntentId,omitempty"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	PaidAt            string `json:"paidAt,omitempty"`
}

type customerPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.intake == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createOrderRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}
	if req.SchemaVersion != domain.OrderIntentSchemaVersion {
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_schema", "unsupported order intent schema version", http.StatusBadRequest))
		return
	}

	intent := req.Intent.toDomain()
	result, err := h.intake.CreateOrder(ctx, services.CreateOrderCommand{
		OrgID:       intent.OrgID,
		RequestedBy: identity.UID,
		Intent:      intent,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		Project:       toProjectPayload(result.Project),
		Customer:      toCustomerPayload(result.Customer),
		IsNewCustomer: result.IsNewCustomer,
	})
}

func (h *OrderHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createCheckoutRequest
	if !decodeOrderBody(ctx, w, r, &req) {
		return
	}
	if req.SchemaVersion != domain.OrderIntentSchemaVersion {
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_schema", "unsupported order intent schema version", http.StatusBadRequest))
		return
	}

	successURL := strings.TrimSpace(req.SuccessURL)
	if successURL == "" {
		successURL = h.successURL
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = h.cancelURL
	}
	if successURL == "" || cancelURL == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "successUrl and cancelUrl are required", http.StatusBadRequest))
		return
	}

	intent := req.Intent.toDomain()
	session, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutCommand{
		ProviderOrgID: intent.ProviderOrgID,
		AgentUserID:   identity.UID,
		Intent:        intent,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := createCheckoutResponse{
		CheckoutURL:    session.CheckoutURL,
		SessionID:      session.SessionID,
		PendingOrderID: session.PendingOrderID,
		Amount:         session.Amount,
		Currency:       session.Currency,
	}
	if !session.ExpiresAt.IsZero() {
		resp.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	status, err := h.fulfillment.GetOrderStatus(ctx, sessionID, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderStatusResponse{
		Status:    string(status.Status),
		ProjectID: status.ProjectID,
		Degraded:  status.Degraded,
	}
	if status.Project != nil {
		payload := toProjectPayload(*status.Project)
		resp.Project = &payload
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func decodeOrderBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var conflictErr *services.ScheduleConflictError
	switch {
	case errors.As(err, &conflictErr):
		conflicts := make([]map[string]any, 0, len(conflictErr.Conflicts))
		for _, c := range conflictErr.Conflicts {
			conflicts = append(conflicts, map[string]any{
				"projectId":       c.ProjectID,
				"scheduledAt":     c.ScheduledAt.UTC().Format(time.RFC3339),
				"durationMinutes": c.DurationMinutes,
			})
		}
		httpErr := httpx.NewError("schedule_conflict", "requested slot conflicts with existing bookings", http.StatusConflict)
		httpx.WriteError(ctx, w, httpErr.WithDetails(map[string]any{"conflicts": conflicts}))
	case errors.Is(err, services.ErrProviderCheckoutRequired):
		// Redirect-to-payment signal: the caller retries against the
		// checkout endpoint, which opens the payment session.
		httpErr := httpx.NewError("payment_required", "provider package orders settle through checkout", http.StatusPaymentRequired)
		httpx.WriteError(ctx, w, httpErr.WithDetails(map[string]any{"checkoutPath": "/orders/checkout"}))
	case errors.Is(err, services.ErrInvalidOrder):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "not allowed to book for this organization", http.StatusForbidden))
	case errors.Is(err, services.ErrOrganizationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("organization_not_found", "organization not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPackageNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("package_not_found", "package not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderTerminal):
		httpx.WriteError(ctx, w, httpx.NewError("order_settled", "order already settled", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment provider unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("orders_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func (wire orderIntentWire) toDomain() domain.OrderIntent {
	return domain.OrderIntent{
		OrgID:         strings.TrimSpace(wire.OrgID),
		ProviderOrgID: strings.TrimSpace(wire.ProviderOrgID),
		Customer: domain.CustomerInput{
			Name:  wire.Customer.Name,
			Email: wire.Customer.Email,
			Phone: wire.Customer.Phone,
		},
		Title:           wire.Title,
		ScheduledAt:     wire.ScheduledAt,
		DurationMinutes: wire.DurationMinutes,
		AssigneeID:      strings.TrimSpace(wire.AssigneeID),
		Address: domain.Address{
			Line1:      wire.Address.Line1,
			Line2:      wire.Address.Line2,
			City:       wire.Address.City,
			Region:     wire.Address.Region,
			PostalCode: wire.Address.PostalCode,
			Country:    wire.Address.Country,
			Formatted:  wire.Address.Formatted,
			PlaceID:    wire.Address.PlaceID,
			Lat:        wire.Address.Lat,
			Lng:        wire.Address.Lng,
		},
		MediaTypes: wire.MediaTypes,
		PackageKey: strings.TrimSpace(wire.PackageKey),
		Notes:      wire.Notes,
	}
}

func toProjectPayload(project domain.Project) projectPayload {
	payload := projectPayload{
		ID:         project.ID,
		OrgID:      project.OrgID,
		CustomerID: project.CustomerID,
		Status:     string(project.Status),
		Title:      project.Title,
		Address: addressWire{
			Line1:      project.Address.Line1,
			Line2:      project.Address.Line2,
			City:       project.Address.City,
			Region:     project.Address.Region,
			PostalCode: project.Address.PostalCode,
			Country:    project.Address.Country,
			Formatted:  project.Address.Formatted,
			PlaceID:    project.Address.PlaceID,
			Lat:        project.Address.Lat,
			Lng:        project.Address.Lng,
		},
		ScheduledAt:     project.ScheduledAt,
		DurationMinutes: project.DurationMinutes,
		MediaTypes:      project.MediaTypes,
		Notes:           project.Notes,
		CreatedAt:       project.CreatedAt,
	}
	if project.AssigneeID != nil {
		payload.AssigneeID = *project.AssigneeID
	}
	if project.PendingOrderID != nil {
		payload.PendingOrderID = *project.PendingOrderID
	}
	if project.Payment != nil {
		payment := paymentPayload{
			Provider:          project.Payment.Provider,
			CheckoutSessionID: project.Payment.CheckoutSessionID,
			PaymentIntentID:   project.Payment.PaymentIntentID,
			Amount:            project.Payment.Amount,
			Currency:          project.Payment.Currency,
		}
		if project.Payment.PaidAt != nil {
			payment.PaidAt = project.Payment.PaidAt.UTC().Format(time.RFC3339Nano)
		}
		payload.Payment = &payment
	}
	return payload
}

func toCustomerPayload(customer domain.Customer) customerPayload {
	return customerPayload{
		ID:    customer.ID,
		Name:  customer.Name,
		Email: customer.Email,
		Phone: customer.Phone,
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderRequestBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
