package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/services"
)

type stubListingService struct {
	getFn func(ctx context.Context, listingID string) (domain.Listing, error)
}

func (s *stubListingService) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	if s.getFn == nil {
		return domain.Listing{}, services.ErrListingNotFound
	}
	return s.getFn(ctx, listingID)
}

func TestListingHandlersGetListing(t *testing.T) {
	svc := &stubListingService{
		getFn: func(_ context.Context, listingID string) (domain.Listing, error) {
			if listingID != "lst_1" {
				t.Fatalf("unexpected listing id %q", listingID)
			}
			return domain.Listing{
				ID:              "lst_1",
				Title:           "Bracket v2",
				DescriptionHTML: "<p>Parametric bracket</p>",
				Formats:         []string{"step", "dxf"},
				BasePriceMinor:  500,
				Currency:        "usd",
				PreviewPath:     "previews/lst_1/cover.png",
			}, nil
		},
	}
	handlers := NewListingHandlers(svc, "planvault-previews", nil)
	r := chi.NewRouter()
	handlers.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/lst_1", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response listingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.ID != "lst_1" || response.Title != "Bracket v2" {
		t.Fatalf("unexpected payload %+v", response)
	}
	if response.Currency != "USD" || response.BasePrice != 500 {
		t.Fatalf("unexpected pricing %+v", response)
	}
	if response.PreviewURL != "https://storage.googleapis.com/planvault-previews/previews/lst_1/cover.png" {
		t.Fatalf("unexpected preview url %q", response.PreviewURL)
	}
}

func TestListingHandlersGetListingNotFound(t *testing.T) {
	handlers := NewListingHandlers(&stubListingService{}, "planvault-previews", nil)
	r := chi.NewRouter()
	handlers.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/lst_missing", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestListingHandlersRateLimited(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now })
	svc := &stubListingService{
		getFn: func(context.Context, string) (domain.Listing, error) {
			return domain.Listing{ID: "lst_1"}, nil
		},
	}
	handlers := NewListingHandlers(svc, "", limiter)
	r := chi.NewRouter()
	handlers.Routes(r)

	first := httptest.NewRequest(http.MethodGet, "/lst_1", nil)
	first.RemoteAddr = "203.0.113.9:4321"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, first)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/lst_1", nil)
	second.RemoteAddr = "203.0.113.9:4321"
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}
