package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/planvault/api/internal/platform/auth"
	"github.com/planvault/api/internal/platform/httpx"
	"github.com/planvault/api/internal/services"
)

// DownloadHandlers exposes credential renewal and redemption. Redemption is a
// public endpoint: the token in the URL is the whole proof of entitlement.
type DownloadHandlers struct {
	authn     *auth.Authenticator
	downloads services.DownloadService
	limiter   RateLimiter
}

// NewDownloadHandlers constructs download handlers.
func NewDownloadHandlers(authn *auth.Authenticator, downloads services.DownloadService, limiter RateLimiter) *DownloadHandlers {
	return &DownloadHandlers{
		authn:     authn,
		downloads: downloads,
		limiter:   limiter,
	}
}

// Routes registers the public redemption endpoint.
func (h *DownloadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{token}", h.redeem)
}

// RenewRoutes registers the renewal endpoint inside the orders group.
func (h *DownloadHandlers) RenewRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{orderID}/download/renew", h.renew)
}

type renewDownloadResponse struct {
	OrderID   string `json:"orderId"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *DownloadHandlers) renew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.downloads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("download_unavailable", "download service unavailable", http.StatusServiceUnavailable))
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

	credential, err := h.downloads.Renew(ctx, services.RenewDownloadCommand{
		OrderID:           orderID,
		RequesterIdentity: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeDownloadError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, renewDownloadResponse{
		OrderID:   orderID,
		ExpiresAt: formatTime(credential.ExpiresAt),
	})
}

func (h *DownloadHandlers) redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.downloads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("download_unavailable", "download service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many download attempts", http.StatusTooManyRequests))
		return
	}

	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "download token is required", http.StatusBadRequest))
		return
	}

	var requester string
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		requester = strings.TrimSpace(identity.UID)
	}

	result, err := h.downloads.Redeem(ctx, services.RedeemDownloadCommand{
		Token:             token,
		RequesterIdentity: requester,
	})
	if err != nil {
		writeDownloadError(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	http.Redirect(w, r, result.SignedURL, http.StatusFound)
}

func writeDownloadError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDownloadInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDownloadInvalidToken):
		httpx.WriteError(ctx, w, httpx.NewError("download_not_found", "download not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDownloadOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDownloadForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "requester does not own this order", http.StatusForbidden))
	case errors.Is(err, services.ErrDownloadPaymentIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("payment_incomplete", "order payment is not complete", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDownloadExpired):
		httpx.WriteError(ctx, w, httpx.NewError("download_expired", "download window has expired", http.StatusGone))
	case errors.Is(err, services.ErrDownloadRetryLimitExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("retry_limit_exceeded", "delivery retry limit reached", http.StatusTooManyRequests))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("download_error", "failed to process download request", http.StatusInternalServerError))
	}
}
