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

type stubOrderQueryService struct {
	getFn           func(ctx context.Context, orderID, requester string) (domain.Order, error)
	listFn          func(ctx context.Context, buyer string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	listUnsettledFn func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	listPayoutsFn   func(ctx context.Context, orderID string) ([]domain.Payout, error)
}

func (s *stubOrderQueryService) GetOrder(ctx context.Context, orderID, requester string) (domain.Order, error) {
	if s.getFn == nil {
		return domain.Order{}, services.ErrOrderQueryNotFound
	}
	return s.getFn(ctx, orderID, requester)
}

func (s *stubOrderQueryService) ListOrders(ctx context.Context, buyer string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listFn(ctx, buyer, pager)
}

func (s *stubOrderQueryService) ListUnsettled(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listUnsettledFn == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listUnsettledFn(ctx, pager)
}

func (s *stubOrderQueryService) ListPayouts(ctx context.Context, orderID string) ([]domain.Payout, error) {
	if s.listPayoutsFn == nil {
		return nil, nil
	}
	return s.listPayoutsFn(ctx, orderID)
}

func paidOrder() domain.Order {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	paid := created.Add(5 * time.Minute)
	return domain.Order{
		ID:                "ord_1",
		ListingID:         "lst_1",
		BuyerIdentity:     "buyer-1",
		BasePriceMinor:    500,
		PlatformFeeMinor:  50,
		TotalChargedMinor: 550,
		Currency:          "usd",
		PaymentReference:  "cs_123",
		PaymentState:      domain.PaymentStatePaid,
		DownloadCredential: &domain.DownloadCredential{
			Token:     "dl_abc",
			IssuedAt:  paid,
			ExpiresAt: paid.Add(72 * time.Hour),
		},
		DownloadAttemptCount: 2,
		DeliveryRetryCount:   1,
		CreatedAt:            created,
		PaidAt:               &paid,
	}
}

func newOrderRouter(svc services.OrderQueryService) chi.Router {
	handlers := NewOrderHandlers(nil, svc)
	r := chi.NewRouter()
	handlers.Routes(r)
	return r
}

func TestOrderHandlersListOrders(t *testing.T) {
	var capturedBuyer string
	var capturedPager domain.Pagination
	svc := &stubOrderQueryService{
		listFn: func(_ context.Context, buyer string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			capturedBuyer = buyer
			capturedPager = pager
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{paidOrder()},
				NextPageToken: "tok_next",
			}, nil
		},
	}
	router := newOrderRouter(svc)

	req := authed(httptest.NewRequest(http.MethodGet, "/?page_size=10&page_token=tok_1", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedBuyer != "buyer-1" {
		t.Fatalf("unexpected buyer %q", capturedBuyer)
	}
	if capturedPager.PageSize != 10 || capturedPager.PageToken != "tok_1" {
		t.Fatalf("unexpected pagination %+v", capturedPager)
	}

	var response orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(response.Items))
	}
	item := response.Items[0]
	if item.ID != "ord_1" || item.PaymentState != "paid" || item.TotalCharged != 550 {
		t.Fatalf("unexpected payload %+v", item)
	}
	if item.Download == nil || item.Download.RetryCount != 1 || item.Download.AttemptCount != 2 {
		t.Fatalf("unexpected download payload %+v", item.Download)
	}
	if response.NextPageToken != "tok_next" {
		t.Fatalf("unexpected next page token %q", response.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRequiresAuthentication(t *testing.T) {
	router := newOrderRouter(&stubOrderQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersRejectsBadPageSize(t *testing.T) {
	router := newOrderRouter(&stubOrderQueryService{})

	req := authed(httptest.NewRequest(http.MethodGet, "/?page_size=ten", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	svc := &stubOrderQueryService{
		getFn: func(_ context.Context, orderID, requester string) (domain.Order, error) {
			if orderID != "ord_1" || requester != "buyer-1" {
				t.Fatalf("unexpected lookup %q by %q", orderID, requester)
			}
			return paidOrder(), nil
		},
	}
	router := newOrderRouter(svc)

	req := authed(httptest.NewRequest(http.MethodGet, "/ord_1", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Order.ID != "ord_1" || response.Order.ListingID != "lst_1" {
		t.Fatalf("unexpected order payload %+v", response.Order)
	}
	if response.Order.PaidAt == "" {
		t.Fatal("expected paid timestamp")
	}
}

func TestOrderHandlersGetOrderForbiddenReadsAsMissing(t *testing.T) {
	svc := &stubOrderQueryService{
		getFn: func(context.Context, string, string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderQueryForbidden
		},
	}
	router := newOrderRouter(svc)

	req := authed(httptest.NewRequest(http.MethodGet, "/ord_1", nil), "stranger")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestInternalOrderHandlersListUnsettled(t *testing.T) {
	svc := &stubOrderQueryService{
		listUnsettledFn: func(_ context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			if pager.PageSize != defaultUnsettledPageSize {
				t.Fatalf("unexpected page size %d", pager.PageSize)
			}
			return domain.CursorPage[domain.Order]{Items: []domain.Order{paidOrder()}}, nil
		},
	}
	handlers := NewInternalOrderHandlers(svc)
	r := chi.NewRouter()
	handlers.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/orders/unsettled", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 1 || response.Items[0].ID != "ord_1" {
		t.Fatalf("unexpected items %+v", response.Items)
	}
}

func TestInternalOrderHandlersListPayouts(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubOrderQueryService{
		listPayoutsFn: func(_ context.Context, orderID string) ([]domain.Payout, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return []domain.Payout{
				{ID: "po_1", OrderID: "ord_1", ParticipantID: "creator-1", AmountMinor: 350, Position: 0, Status: domain.PayoutStatusPending, CreatedAt: created},
				{ID: "po_2", OrderID: "ord_1", ParticipantID: "creator-2", AmountMinor: 150, Position: 1, Status: domain.PayoutStatusPending, CreatedAt: created},
			}, nil
		},
	}
	handlers := NewInternalOrderHandlers(svc)
	r := chi.NewRouter()
	handlers.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1/payouts", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response payoutListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 2 {
		t.Fatalf("expected two payouts, got %d", len(response.Items))
	}
	if response.Items[0].ParticipantID != "creator-1" || response.Items[0].Amount != 350 {
		t.Fatalf("unexpected payouts %+v", response.Items)
	}
}
