package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/repositories"
)

func newOrderQueryFixture(t *testing.T, orders *stubOrderRepository, payouts *stubPayoutRepository) OrderQueryService {
	t.Helper()
	if orders == nil {
		orders = &stubOrderRepository{}
	}
	if payouts == nil {
		payouts = &stubPayoutRepository{}
	}
	service, err := NewOrderQueryService(OrderQueryServiceDeps{Orders: orders, Payouts: payouts})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}
	return service
}

func TestNewOrderQueryServiceValidatesDeps(t *testing.T) {
	if _, err := NewOrderQueryService(OrderQueryServiceDeps{Payouts: &stubPayoutRepository{}}); err == nil {
		t.Fatal("expected error for missing order repository")
	}
	if _, err := NewOrderQueryService(OrderQueryServiceDeps{Orders: &stubOrderRepository{}}); err == nil {
		t.Fatal("expected error for missing payout repository")
	}
}

func TestOrderQueryServiceGetOrderSuccess(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return domain.Order{ID: "ord_1", BuyerIdentity: "buyer@example.com"}, nil
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	order, err := service.GetOrder(context.Background(), "ord_1", "buyer@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != "ord_1" {
		t.Fatalf("expected order ord_1, got %s", order.ID)
	}
}

func TestOrderQueryServiceGetOrderRequiresInput(t *testing.T) {
	service := newOrderQueryFixture(t, nil, nil)

	if _, err := service.GetOrder(context.Background(), " ", "buyer@example.com"); !errors.Is(err, ErrOrderQueryInvalidInput) {
		t.Fatalf("expected ErrOrderQueryInvalidInput, got %v", err)
	}
	if _, err := service.GetOrder(context.Background(), "ord_1", ""); !errors.Is(err, ErrOrderQueryInvalidInput) {
		t.Fatalf("expected ErrOrderQueryInvalidInput, got %v", err)
	}
}

func TestOrderQueryServiceGetOrderNotFound(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, notFoundErr("no such order")
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	if _, err := service.GetOrder(context.Background(), "ord_missing", "buyer@example.com"); !errors.Is(err, ErrOrderQueryNotFound) {
		t.Fatalf("expected ErrOrderQueryNotFound, got %v", err)
	}
}

func TestOrderQueryServiceGetOrderForbiddenForOtherBuyer(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", BuyerIdentity: "buyer@example.com"}, nil
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	if _, err := service.GetOrder(context.Background(), "ord_1", "other@example.com"); !errors.Is(err, ErrOrderQueryForbidden) {
		t.Fatalf("expected ErrOrderQueryForbidden, got %v", err)
	}
}

func TestOrderQueryServiceGetOrderRepositoryFailure(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, unavailableErr("firestore down")
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	if _, err := service.GetOrder(context.Background(), "ord_1", "buyer@example.com"); !errors.Is(err, ErrOrderQueryUnavailable) {
		t.Fatalf("expected ErrOrderQueryUnavailable, got %v", err)
	}
}

func TestOrderQueryServiceListOrdersScopesToBuyer(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderRepository{
		listFunc: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{{ID: "ord_2"}, {ID: "ord_1"}},
				NextPageToken: "tok_next",
			}, nil
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	page, err := service.ListOrders(context.Background(), "buyer@example.com", Pagination{PageSize: 2, PageToken: "tok_prev"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.BuyerIdentity != "buyer@example.com" {
		t.Fatalf("expected buyer filter, got %q", captured.BuyerIdentity)
	}
	if captured.Pagination.PageSize != 2 || captured.Pagination.PageToken != "tok_prev" {
		t.Fatalf("expected pagination passed through, got %#v", captured.Pagination)
	}
	if len(page.Items) != 2 || page.NextPageToken != "tok_next" {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestOrderQueryServiceListOrdersRequiresBuyer(t *testing.T) {
	service := newOrderQueryFixture(t, nil, nil)

	if _, err := service.ListOrders(context.Background(), "  ", Pagination{}); !errors.Is(err, ErrOrderQueryInvalidInput) {
		t.Fatalf("expected ErrOrderQueryInvalidInput, got %v", err)
	}
}

func TestOrderQueryServiceListOrdersRepositoryFailure(t *testing.T) {
	orders := &stubOrderRepository{
		listFunc: func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			return domain.CursorPage[domain.Order]{}, unavailableErr("firestore down")
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	if _, err := service.ListOrders(context.Background(), "buyer@example.com", Pagination{}); !errors.Is(err, ErrOrderQueryUnavailable) {
		t.Fatalf("expected ErrOrderQueryUnavailable, got %v", err)
	}
}

func TestOrderQueryServiceListUnsettled(t *testing.T) {
	var captured domain.Pagination
	orders := &stubOrderRepository{
		listUnsettledFunc: func(_ context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			captured = pager
			return domain.CursorPage[domain.Order]{Items: []domain.Order{{ID: "ord_1"}}}, nil
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	page, err := service.ListUnsettled(context.Background(), Pagination{PageSize: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.PageSize != 50 {
		t.Fatalf("expected page size passed through, got %d", captured.PageSize)
	}
	if len(page.Items) != 1 {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestOrderQueryServiceListUnsettledRepositoryFailure(t *testing.T) {
	orders := &stubOrderRepository{
		listUnsettledFunc: func(context.Context, domain.Pagination) (domain.CursorPage[domain.Order], error) {
			return domain.CursorPage[domain.Order]{}, unavailableErr("firestore down")
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	if _, err := service.ListUnsettled(context.Background(), Pagination{}); !errors.Is(err, ErrOrderQueryUnavailable) {
		t.Fatalf("expected ErrOrderQueryUnavailable, got %v", err)
	}
}

func TestOrderQueryServiceListPayoutsSuccess(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1"}, nil
		},
	}
	payouts := &stubPayoutRepository{
		listFunc: func(_ context.Context, orderID string) ([]domain.Payout, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return []domain.Payout{
				{ID: "pay_1", OrderID: "ord_1", ParticipantID: "creator-1"},
				{ID: "pay_2", OrderID: "ord_1", ParticipantID: "creator-2"},
			}, nil
		},
	}
	service := newOrderQueryFixture(t, orders, payouts)

	rows, err := service.ListPayouts(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(rows))
	}
}

func TestOrderQueryServiceListPayoutsRequiresID(t *testing.T) {
	service := newOrderQueryFixture(t, nil, nil)

	if _, err := service.ListPayouts(context.Background(), ""); !errors.Is(err, ErrOrderQueryInvalidInput) {
		t.Fatalf("expected ErrOrderQueryInvalidInput, got %v", err)
	}
}

func TestOrderQueryServiceListPayoutsOrderNotFound(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, notFoundErr("no such order")
		},
	}
	service := newOrderQueryFixture(t, orders, nil)

	if _, err := service.ListPayouts(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderQueryNotFound) {
		t.Fatalf("expected ErrOrderQueryNotFound, got %v", err)
	}
}

func TestOrderQueryServiceListPayoutsRepositoryFailure(t *testing.T) {
	orders := &stubOrderRepository{
		findFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1"}, nil
		},
	}
	payouts := &stubPayoutRepository{
		listFunc: func(context.Context, string) ([]domain.Payout, error) {
			return nil, unavailableErr("firestore down")
		},
	}
	service := newOrderQueryFixture(t, orders, payouts)

	if _, err := service.ListPayouts(context.Background(), "ord_1"); !errors.Is(err, ErrOrderQueryUnavailable) {
		t.Fatalf("expected ErrOrderQueryUnavailable, got %v", err)
	}
}
