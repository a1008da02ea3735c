package repositories

import (
	"context"
	"time"

	domain "github.com/planvault/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ListingRepository reads listing records and their royalty configuration.
// The order engine never mutates listings.
type ListingRepository interface {
	FindByID(ctx context.Context, listingID string) (domain.Listing, error)
	GetRoyaltySplit(ctx context.Context, listingID string) (domain.RoyaltySplit, error)
}

// OrderTransitionUpdate carries the fields written alongside a payment-state
// transition. Only fields matching the target state are applied.
type OrderTransitionUpdate struct {
	PaidAt           *time.Time
	RefundedAt       *time.Time
	Credential       *domain.DownloadCredential
	RevokeCredential bool
}

// CredentialUpdate replaces an order's download credential. When
// IncrementRetry is set the repository bumps deliveryRetryCount in the same
// conditional write and rejects the update once the count reaches RetryCap.
type CredentialUpdate struct {
	Credential     domain.DownloadCredential
	IncrementRetry bool
	RetryCap       int64
}

// OrderListFilter narrows order listings for buyers and operators.
type OrderListFilter struct {
	BuyerIdentity string
	PaymentState  *domain.PaymentState
	Pagination    domain.Pagination
}

// OrderRepository persists the append-only purchase ledger. Every mutation is
// a conditional write predicated on the order's current payment state so
// concurrent duplicate webhook deliveries and renew calls stay safe.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error)
	FindByCredentialToken(ctx context.Context, token string) (domain.Order, error)
	// TransitionPaymentState moves the order from expected to next atomically.
	// A state mismatch surfaces as a conflict-categorised error carrying no
	// partial writes; callers decide between idempotent no-op and failure.
	TransitionPaymentState(ctx context.Context, orderID string, expected, next domain.PaymentState, update OrderTransitionUpdate) (domain.Order, error)
	// UpdateCredential swaps the credential of a paid order, optionally
	// consuming one delivery retry. Fails with a conflict error when the
	// order is not paid or the retry budget is spent.
	UpdateCredential(ctx context.Context, orderID string, update CredentialUpdate) (domain.Order, error)
	// RecordDownloadAttempt increments downloadAttemptCount and stamps
	// downloadedAt on a paid order.
	RecordDownloadAttempt(ctx context.Context, orderID string, downloadedAt time.Time) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListUnsettled returns paid orders whose payout batch never landed,
	// for the reconciliation surface.
	ListUnsettled(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// PayoutRepository persists royalty payout rows.
type PayoutRepository interface {
	// InsertBatch writes every payout row of one paid order and stamps the
	// order's payoutsSettledAt marker in a single transaction, so a partial
	// batch can never be observed. A second batch for the same order fails
	// with a conflict-categorised error.
	InsertBatch(ctx context.Context, orderID string, payouts []domain.Payout, settledAt time.Time) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payout, error)
	UpdateStatus(ctx context.Context, payoutID string, status domain.PayoutStatus, updatedAt time.Time) (domain.Payout, error)
	// FlagOrderPayouts moves every payout of an order to the given status,
	// returning how many rows changed. Used when a paid order is refunded.
	FlagOrderPayouts(ctx context.Context, orderID string, status domain.PayoutStatus, updatedAt time.Time) (int, error)
}

// HealthRepository answers readiness probes against the backing datastore.
type HealthRepository interface {
	CheckReadiness(ctx context.Context) error
}
