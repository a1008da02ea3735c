package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/platform/auth"
	"github.com/planvault/api/internal/platform/httpx"
	"github.com/planvault/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes the buyer's read-only view of the order ledger.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderQueryService
	clock  func() time.Time
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderQueryService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
		clock:  time.Now,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID           string           `json:"id"`
	ListingID    string           `json:"listing_id"`
	PaymentState string           `json:"payment_state"`
	Currency     string           `json:"currency"`
	BasePrice    int64            `json:"base_price"`
	PlatformFee  int64            `json:"platform_fee"`
	TotalCharged int64            `json:"total_charged"`
	Download     *downloadPayload `json:"download,omitempty"`
	CreatedAt    string           `json:"created_at"`
	PaidAt       string           `json:"paid_at,omitempty"`
	DownloadedAt string           `json:"downloaded_at,omitempty"`
	RefundedAt   string           `json:"refunded_at,omitempty"`
}

type downloadPayload struct {
	ExpiresAt    string `json:"expires_at"`
	Expired      bool   `json:"expired"`
	AttemptCount int64  `json:"attempt_count"`
	RetryCount   int64  `json:"retry_count"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, strings.TrimSpace(identity.UID), pager)
	if err != nil {
		writeOrderQueryError(ctx, w, err)
		return
	}

	now := h.clock()
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order, now))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, strings.TrimSpace(identity.UID))
	if err != nil {
		writeOrderQueryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, h.clock())})
}

func buildOrderPayload(order domain.Order, now time.Time) orderPayload {
	payload := orderPayload{
		ID:           strings.TrimSpace(order.ID),
		ListingID:    strings.TrimSpace(order.ListingID),
		PaymentState: string(order.PaymentState),
		Currency:     strings.ToUpper(strings.TrimSpace(order.Currency)),
		BasePrice:    order.BasePriceMinor,
		PlatformFee:  order.PlatformFeeMinor,
		TotalCharged: order.TotalChargedMinor,
		CreatedAt:    formatTime(order.CreatedAt),
		PaidAt:       formatTime(pointerTime(order.PaidAt)),
		DownloadedAt: formatTime(pointerTime(order.DownloadedAt)),
		RefundedAt:   formatTime(pointerTime(order.RefundedAt)),
	}

	if credential, ok := order.Credential(); ok {
		payload.Download = &downloadPayload{
			ExpiresAt:    formatTime(credential.ExpiresAt),
			Expired:      credential.Expired(now.UTC()),
			AttemptCount: order.DownloadAttemptCount,
			RetryCount:   order.DeliveryRetryCount,
		}
	}
	return payload
}

func writeOrderQueryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderQueryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderQueryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderQueryForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
