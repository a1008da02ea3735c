package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/planvault/api/internal/platform/auth"
	"github.com/planvault/api/internal/platform/httpx"
	"github.com/planvault/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the purchase entry point for authenticated buyers.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers the checkout endpoint under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/", h.openCheckout)
}

type openCheckoutRequest struct {
	ListingID  string `json:"listingId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type openCheckoutResponse struct {
	OrderID      string `json:"orderId"`
	CheckoutURL  string `json:"checkoutUrl"`
	TotalCharged int64  `json:"totalCharged"`
	Currency     string `json:"currency"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

func (h *CheckoutHandlers) openCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req openCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	listingID := strings.TrimSpace(req.ListingID)
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listingId is required", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.OpenCheckout(ctx, services.OpenCheckoutCommand{
		ListingID:     listingID,
		BuyerIdentity: strings.TrimSpace(identity.UID),
		BuyerLocale:   strings.TrimSpace(identity.Locale),
		SuccessURL:    strings.TrimSpace(req.SuccessURL),
		CancelURL:     strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, openCheckoutResponse{
		OrderID:      result.OrderID,
		CheckoutURL:  result.RedirectURL,
		TotalCharged: result.TotalCharged,
		Currency:     strings.ToUpper(strings.TrimSpace(result.Currency)),
		ExpiresAt:    formatTime(result.ExpiresAt),
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutFeatureDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_disabled", "purchasing is currently disabled", http.StatusForbidden))
	case errors.Is(err, services.ErrCheckoutListingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("listing_not_found", "listing not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutListingNotListed):
		httpx.WriteError(ctx, w, httpx.NewError("listing_not_purchasable", "listing is not purchasable", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutMisconfiguredListing):
		httpx.WriteError(ctx, w, httpx.NewError("listing_misconfigured", "listing royalty split is misconfigured", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "payment provider rejected the session", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to open checkout", http.StatusInternalServerError))
	}
}
