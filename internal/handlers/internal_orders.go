package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/planvault/api/internal/platform/httpx"
	"github.com/planvault/api/internal/services"
)

const (
	defaultUnsettledPageSize = 50
	maxUnsettledPageSize     = 200
)

// InternalOrderHandlers exposes the reconciliation surface for ops tooling.
// OIDC enforcement happens in the router's internal middleware chain.
type InternalOrderHandlers struct {
	orders services.OrderQueryService
}

// NewInternalOrderHandlers constructs the internal order handlers.
func NewInternalOrderHandlers(orders services.OrderQueryService) *InternalOrderHandlers {
	return &InternalOrderHandlers{orders: orders}
}

// Routes registers the internal reconciliation endpoints.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/unsettled", h.listUnsettled)
	r.Get("/orders/{orderID}/payouts", h.listPayouts)
}

type payoutPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	ParticipantID string `json:"participant_id"`
	Amount        int64  `json:"amount"`
	Position      int    `json:"position"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type payoutListResponse struct {
	Items []payoutPayload `json:"items"`
}

func (h *InternalOrderHandlers) listUnsettled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultUnsettledPageSize, maxUnsettledPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListUnsettled(ctx, pager)
	if err != nil {
		writeOrderQueryError(ctx, w, err)
		return
	}

	now := time.Now()
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order, now))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *InternalOrderHandlers) listPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	payouts, err := h.orders.ListPayouts(ctx, orderID)
	if err != nil {
		writeOrderQueryError(ctx, w, err)
		return
	}

	items := make([]payoutPayload, 0, len(payouts))
	for _, payout := range payouts {
		items = append(items, payoutPayload{
			ID:            strings.TrimSpace(payout.ID),
			OrderID:       strings.TrimSpace(payout.OrderID),
			ParticipantID: strings.TrimSpace(payout.ParticipantID),
			Amount:        payout.AmountMinor,
			Position:      payout.Position,
			Status:        string(payout.Status),
			CreatedAt:     formatTime(payout.CreatedAt),
			UpdatedAt:     formatTime(payout.UpdatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, payoutListResponse{Items: items})
}
