package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/repositories"
)

var (
	// ErrOrderQueryInvalidInput indicates the caller supplied invalid parameters.
	ErrOrderQueryInvalidInput = errors.New("orderquery: invalid input")
	// ErrOrderQueryNotFound indicates the order does not exist.
	ErrOrderQueryNotFound = errors.New("orderquery: order not found")
	// ErrOrderQueryForbidden indicates the requester does not own the order.
	ErrOrderQueryForbidden = errors.New("orderquery: requester does not own order")
	// ErrOrderQueryUnavailable indicates a dependency failure.
	ErrOrderQueryUnavailable = errors.New("orderquery: unavailable")
)

// OrderQueryServiceDeps wires the collaborators of the order ledger read side.
type OrderQueryServiceDeps struct {
	Orders       repositories.OrderRepository
	Payouts      repositories.PayoutRepository
	AccessPolicy OrderAccessPolicy
}

type orderQueryService struct {
	orders  repositories.OrderRepository
	payouts repositories.PayoutRepository
	allowed OrderAccessPolicy
}

// NewOrderQueryService constructs an OrderQueryService validating required dependencies.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	if deps.Payouts == nil {
		return nil, errors.New("order query service: payout repository is required")
	}
	policy := deps.AccessPolicy
	if policy == nil {
		policy = BuyerOnlyAccessPolicy
	}
	return &orderQueryService{
		orders:  deps.Orders,
		payouts: deps.Payouts,
		allowed: policy,
	}, nil
}

// GetOrder returns one order to its buyer.
func (s *orderQueryService) GetOrder(ctx context.Context, orderID, requesterIdentity string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	requester := strings.TrimSpace(requesterIdentity)
	if orderID == "" || requester == "" {
		return Order{}, fmt.Errorf("%w: order id and requester identity are required", ErrOrderQueryInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderQueryNotFound, orderID)
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderQueryUnavailable, err)
	}
	if !s.allowed(requester, order) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderQueryForbidden, orderID)
	}
	return order, nil
}

// ListOrders pages through the buyer's own orders, newest first.
func (s *orderQueryService) ListOrders(ctx context.Context, buyerIdentity string, pager Pagination) (domain.CursorPage[Order], error) {
	buyer := strings.TrimSpace(buyerIdentity)
	if buyer == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer identity is required", ErrOrderQueryInvalidInput)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{BuyerIdentity: buyer, Pagination: pager})
	if err != nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderQueryUnavailable, err)
	}
	return page, nil
}

// ListUnsettled pages through paid orders whose payouts were never written.
// It backs the reconciliation surface and is not buyer-scoped; callers must
// gate access.
func (s *orderQueryService) ListUnsettled(ctx context.Context, pager Pagination) (domain.CursorPage[Order], error) {
	page, err := s.orders.ListUnsettled(ctx, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderQueryUnavailable, err)
	}
	return page, nil
}

// ListPayouts returns the payout rows of one order in split position order.
func (s *orderQueryService) ListPayouts(ctx context.Context, orderID string) ([]Payout, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderQueryInvalidInput)
	}

	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrOrderQueryNotFound, orderID)
		}
		return nil, fmt.Errorf("%w: %v", ErrOrderQueryUnavailable, err)
	}
	payouts, err := s.payouts.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderQueryUnavailable, err)
	}
	return payouts, nil
}
