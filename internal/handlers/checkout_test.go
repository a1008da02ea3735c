package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/planvault/api/internal/platform/auth"
	"github.com/planvault/api/internal/services"
)

type stubCheckoutService struct {
	openFn func(ctx context.Context, cmd services.OpenCheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) OpenCheckout(ctx context.Context, cmd services.OpenCheckoutCommand) (services.CheckoutResult, error) {
	if s.openFn == nil {
		return services.CheckoutResult{}, nil
	}
	return s.openFn(ctx, cmd)
}

func newCheckoutRouter(svc services.CheckoutService) chi.Router {
	handlers := NewCheckoutHandlers(nil, svc)
	r := chi.NewRouter()
	handlers.Routes(r)
	return r
}

func authed(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func TestCheckoutHandlersOpenCheckout(t *testing.T) {
	var captured services.OpenCheckoutCommand
	svc := &stubCheckoutService{
		openFn: func(_ context.Context, cmd services.OpenCheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{
				CheckoutHandle: "cs_123",
				RedirectURL:    "https://pay.example.com/cs_123",
				OrderID:        "ord_1",
				TotalCharged:   550,
				Currency:       "usd",
				ExpiresAt:      time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newCheckoutRouter(svc)

	body := `{"listingId":"lst_1","successUrl":"https://shop.example.com/done","cancelUrl":"https://shop.example.com/cancel"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ListingID != "lst_1" || captured.BuyerIdentity != "buyer-1" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var response openCheckoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.OrderID != "ord_1" {
		t.Fatalf("unexpected order id %q", response.OrderID)
	}
	if response.CheckoutURL != "https://pay.example.com/cs_123" {
		t.Fatalf("unexpected checkout url %q", response.CheckoutURL)
	}
	if response.TotalCharged != 550 || response.Currency != "USD" {
		t.Fatalf("unexpected totals %+v", response)
	}
}

func TestCheckoutHandlersRequiresAuthentication(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"listingId":"lst_1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCheckoutHandlersRequiresListingID(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})

	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"listingId":"  "}`)), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "feature disabled", err: services.ErrCheckoutFeatureDisabled, wantStatus: http.StatusForbidden, wantCode: "checkout_disabled"},
		{name: "listing missing", err: services.ErrCheckoutListingNotFound, wantStatus: http.StatusNotFound, wantCode: "listing_not_found"},
		{name: "listing not listed", err: services.ErrCheckoutListingNotListed, wantStatus: http.StatusUnprocessableEntity, wantCode: "listing_not_purchasable"},
		{name: "misconfigured split", err: services.ErrCheckoutMisconfiguredListing, wantStatus: http.StatusUnprocessableEntity, wantCode: "listing_misconfigured"},
		{name: "payment failed", err: services.ErrCheckoutPaymentFailed, wantStatus: http.StatusInternalServerError, wantCode: "payment_session_failed"},
		{name: "unavailable", err: services.ErrCheckoutUnavailable, wantStatus: http.StatusInternalServerError, wantCode: "checkout_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newCheckoutRouter(&stubCheckoutService{
				openFn: func(context.Context, services.OpenCheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			})

			req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"listingId":"lst_1"}`)), "buyer-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("expected error code %q, got %v", tc.wantCode, body["error"])
			}
		})
	}
}
