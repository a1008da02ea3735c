package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/planvault/api/internal/platform/httpx"
	"github.com/planvault/api/internal/platform/storage"
	"github.com/planvault/api/internal/services"
)

// ListingHandlers exposes the public catalog read surface.
type ListingHandlers struct {
	listings      services.ListingService
	previewBucket string
	limiter       RateLimiter
}

// NewListingHandlers constructs listing handlers. previewBucket names the
// publicly readable bucket holding preview assets.
func NewListingHandlers(listings services.ListingService, previewBucket string, limiter RateLimiter) *ListingHandlers {
	return &ListingHandlers{
		listings:      listings,
		previewBucket: strings.TrimSpace(previewBucket),
		limiter:       limiter,
	}
}

// Routes registers the public listing endpoints.
func (h *ListingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{listingID}", h.getListing)
}

type listingResponse struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	DescriptionHTML string   `json:"description_html,omitempty"`
	Formats         []string `json:"formats,omitempty"`
	BasePrice       int64    `json:"base_price"`
	Currency        string   `json:"currency"`
	PreviewURL      string   `json:"preview_url,omitempty"`
}

func (h *ListingHandlers) getListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.listings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("listing_unavailable", "listing service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}

	listingID := strings.TrimSpace(chi.URLParam(r, "listingID"))
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listing id is required", http.StatusBadRequest))
		return
	}

	listing, err := h.listings.GetListing(ctx, listingID)
	if err != nil {
		writeListingError(ctx, w, err)
		return
	}

	response := listingResponse{
		ID:              strings.TrimSpace(listing.ID),
		Title:           strings.TrimSpace(listing.Title),
		DescriptionHTML: listing.DescriptionHTML,
		Formats:         listing.Formats,
		BasePrice:       listing.BasePriceMinor,
		Currency:        strings.ToUpper(strings.TrimSpace(listing.Currency)),
	}
	if h.previewBucket != "" && strings.TrimSpace(listing.PreviewPath) != "" {
		if previewURL, err := storage.PublicObjectURL(h.previewBucket, listing.PreviewPath); err == nil {
			response.PreviewURL = previewURL
		}
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func writeListingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrListingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrListingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("listing_not_found", "listing not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("listing_error", "failed to load listing", http.StatusInternalServerError))
	}
}
