package services

import (
	"context"
	"time"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/payments"
	"github.com/planvault/api/internal/repositories"
)

type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(msg string) error    { return &repoError{msg: msg, notFound: true} }
func conflictErr(msg string) error    { return &repoError{msg: msg, conflict: true} }
func unavailableErr(msg string) error { return &repoError{msg: msg, unavailable: true} }

type stubListingRepository struct {
	findFunc  func(ctx context.Context, listingID string) (domain.Listing, error)
	splitFunc func(ctx context.Context, listingID string) (domain.RoyaltySplit, error)
}

func (s *stubListingRepository) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	if s.findFunc == nil {
		return domain.Listing{}, notFoundErr("listing missing")
	}
	return s.findFunc(ctx, listingID)
}

func (s *stubListingRepository) GetRoyaltySplit(ctx context.Context, listingID string) (domain.RoyaltySplit, error) {
	if s.splitFunc == nil {
		return domain.RoyaltySplit{}, notFoundErr("split missing")
	}
	return s.splitFunc(ctx, listingID)
}

type stubOrderRepository struct {
	insertFunc         func(ctx context.Context, order domain.Order) error
	findFunc           func(ctx context.Context, orderID string) (domain.Order, error)
	findByRefFunc      func(ctx context.Context, paymentReference string) (domain.Order, error)
	findByTokenFunc    func(ctx context.Context, token string) (domain.Order, error)
	transitionFunc     func(ctx context.Context, orderID string, expected, next domain.PaymentState, update repositories.OrderTransitionUpdate) (domain.Order, error)
	updateCredFunc     func(ctx context.Context, orderID string, update repositories.CredentialUpdate) (domain.Order, error)
	recordAttemptFunc  func(ctx context.Context, orderID string, downloadedAt time.Time) (domain.Order, error)
	listFunc           func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listUnsettledFunc  func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFunc == nil {
		return domain.Order{}, notFoundErr("order missing")
	}
	return s.findFunc(ctx, orderID)
}

func (s *stubOrderRepository) FindByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error) {
	if s.findByRefFunc == nil {
		return domain.Order{}, notFoundErr("order missing")
	}
	return s.findByRefFunc(ctx, paymentReference)
}

func (s *stubOrderRepository) FindByCredentialToken(ctx context.Context, token string) (domain.Order, error) {
	if s.findByTokenFunc == nil {
		return domain.Order{}, notFoundErr("order missing")
	}
	return s.findByTokenFunc(ctx, token)
}

func (s *stubOrderRepository) TransitionPaymentState(ctx context.Context, orderID string, expected, next domain.PaymentState, update repositories.OrderTransitionUpdate) (domain.Order, error) {
	if s.transitionFunc == nil {
		return domain.Order{}, unavailableErr("transition not stubbed")
	}
	return s.transitionFunc(ctx, orderID, expected, next, update)
}

func (s *stubOrderRepository) UpdateCredential(ctx context.Context, orderID string, update repositories.CredentialUpdate) (domain.Order, error) {
	if s.updateCredFunc == nil {
		return domain.Order{}, unavailableErr("update credential not stubbed")
	}
	return s.updateCredFunc(ctx, orderID, update)
}

func (s *stubOrderRepository) RecordDownloadAttempt(ctx context.Context, orderID string, downloadedAt time.Time) (domain.Order, error) {
	if s.recordAttemptFunc == nil {
		return domain.Order{}, unavailableErr("record attempt not stubbed")
	}
	return s.recordAttemptFunc(ctx, orderID, downloadedAt)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderRepository) ListUnsettled(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listUnsettledFunc == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listUnsettledFunc(ctx, pager)
}

type stubPayoutRepository struct {
	insertBatchFunc func(ctx context.Context, orderID string, payouts []domain.Payout, settledAt time.Time) error
	listFunc        func(ctx context.Context, orderID string) ([]domain.Payout, error)
	updateFunc      func(ctx context.Context, payoutID string, status domain.PayoutStatus, updatedAt time.Time) (domain.Payout, error)
	flagFunc        func(ctx context.Context, orderID string, status domain.PayoutStatus, updatedAt time.Time) (int, error)
}

func (s *stubPayoutRepository) InsertBatch(ctx context.Context, orderID string, payouts []domain.Payout, settledAt time.Time) error {
	if s.insertBatchFunc == nil {
		return nil
	}
	return s.insertBatchFunc(ctx, orderID, payouts, settledAt)
}

func (s *stubPayoutRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payout, error) {
	if s.listFunc == nil {
		return nil, nil
	}
	return s.listFunc(ctx, orderID)
}

func (s *stubPayoutRepository) UpdateStatus(ctx context.Context, payoutID string, status domain.PayoutStatus, updatedAt time.Time) (domain.Payout, error) {
	if s.updateFunc == nil {
		return domain.Payout{}, unavailableErr("update status not stubbed")
	}
	return s.updateFunc(ctx, payoutID, status, updatedAt)
}

func (s *stubPayoutRepository) FlagOrderPayouts(ctx context.Context, orderID string, status domain.PayoutStatus, updatedAt time.Time) (int, error) {
	if s.flagFunc == nil {
		return 0, nil
	}
	return s.flagFunc(ctx, orderID, status, updatedAt)
}

type stubFeatureGate struct {
	enabledFunc func(ctx context.Context, key string) bool
}

func (s *stubFeatureGate) Enabled(ctx context.Context, key string) bool {
	if s.enabledFunc == nil {
		return true
	}
	return s.enabledFunc(ctx, key)
}

type stubSessionOpener struct {
	createFunc func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

func (s *stubSessionOpener) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.createFunc == nil {
		return payments.CheckoutSession{}, unavailableErr("create session not stubbed")
	}
	return s.createFunc(ctx, paymentCtx, req)
}

type stubCredentialIssuer struct {
	issueFunc func(ctx context.Context, orderID string) (domain.DownloadCredential, error)
}

func (s *stubCredentialIssuer) Issue(ctx context.Context, orderID string) (domain.DownloadCredential, error) {
	if s.issueFunc == nil {
		return domain.DownloadCredential{}, nil
	}
	return s.issueFunc(ctx, orderID)
}

type stubDeliveryNotifier struct {
	sendFunc func(ctx context.Context, notice DeliveryNotice) error
}

func (s *stubDeliveryNotifier) SendDeliveryNotice(ctx context.Context, notice DeliveryNotice) error {
	if s.sendFunc == nil {
		return nil
	}
	return s.sendFunc(ctx, notice)
}

type stubLinkSigner struct {
	signFunc func(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

func (s *stubLinkSigner) SignedDownloadURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	if s.signFunc == nil {
		return "https://signed.example/" + objectPath, nil
	}
	return s.signFunc(ctx, objectPath, ttl)
}
