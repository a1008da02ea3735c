package services

import (
	"context"
	"time"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Listing            = domain.Listing
	ListingStage       = domain.ListingStage
	RoyaltySplit       = domain.RoyaltySplit
	SplitParticipant   = domain.SplitParticipant
	RoyaltyBreakdown   = domain.RoyaltyBreakdown
	ParticipantPayout  = domain.ParticipantPayout
	Order              = domain.Order
	PaymentState       = domain.PaymentState
	DownloadCredential = domain.DownloadCredential
	Payout             = domain.Payout
	PayoutStatus       = domain.PayoutStatus
)

// RoyaltyCalculator computes the fee and payout split for a sale. It is pure:
// the same inputs always produce the same breakdown.
type RoyaltyCalculator interface {
	Compute(basePriceMinor int64, currency string, split RoyaltySplit) (RoyaltyBreakdown, error)
}

// CheckoutService validates purchase eligibility and opens pending orders.
type CheckoutService interface {
	OpenCheckout(ctx context.Context, cmd OpenCheckoutCommand) (CheckoutResult, error)
}

// OpenCheckoutCommand carries the inputs for opening a checkout.
type OpenCheckoutCommand struct {
	ListingID     string
	BuyerIdentity string
	BuyerLocale   string
	SuccessURL    string
	CancelURL     string
}

// CheckoutResult returns the PSP handle and the pending order identifier.
type CheckoutResult struct {
	CheckoutHandle string
	RedirectURL    string
	OrderID        string
	TotalCharged   int64
	Currency       string
	ExpiresAt      time.Time
}

// PaymentOutcomeKind tags the variants of an asynchronous payment notification.
type PaymentOutcomeKind string

const (
	// PaymentOutcomeCheckoutCompleted signals a captured payment.
	PaymentOutcomeCheckoutCompleted PaymentOutcomeKind = "checkout_completed"
	// PaymentOutcomePaymentFailed signals a terminally failed payment.
	PaymentOutcomePaymentFailed PaymentOutcomeKind = "payment_failed"
	// PaymentOutcomePaymentRefunded signals a refund of a captured payment.
	PaymentOutcomePaymentRefunded PaymentOutcomeKind = "payment_refunded"
)

// PaymentOutcomeEvent is one authenticated notification from the payment
// provider, already signature-verified at the transport boundary.
type PaymentOutcomeEvent struct {
	Kind             PaymentOutcomeKind
	PaymentReference string
	Metadata         map[string]string
	OccurredAt       time.Time
}

// PaymentEventService consumes payment outcome notifications idempotently.
type PaymentEventService interface {
	HandlePaymentOutcome(ctx context.Context, event PaymentOutcomeEvent) error
}

// DownloadService issues, renews, and redeems download credentials.
type DownloadService interface {
	Issue(ctx context.Context, orderID string) (DownloadCredential, error)
	Renew(ctx context.Context, cmd RenewDownloadCommand) (DownloadCredential, error)
	Redeem(ctx context.Context, cmd RedeemDownloadCommand) (RedeemResult, error)
}

// RenewDownloadCommand requests a fresh credential for an order.
type RenewDownloadCommand struct {
	OrderID           string
	RequesterIdentity string
}

// RedeemDownloadCommand exchanges a credential token for a signed location.
// RequesterIdentity is empty for unauthenticated redemption links.
type RedeemDownloadCommand struct {
	Token             string
	RequesterIdentity string
}

// RedeemResult carries the short-lived signed location of the purchased file.
type RedeemResult struct {
	SignedURL     string
	ExpiresIn     time.Duration
	OrderID       string
	AttemptNumber int64
}

// ListingService exposes the public read surface of the catalog.
type ListingService interface {
	GetListing(ctx context.Context, listingID string) (Listing, error)
}

// OrderQueryService exposes the buyer-facing and operator-facing read side of
// the order ledger.
type OrderQueryService interface {
	GetOrder(ctx context.Context, orderID, requesterIdentity string) (Order, error)
	ListOrders(ctx context.Context, buyerIdentity string, pager Pagination) (domain.CursorPage[Order], error)
	ListUnsettled(ctx context.Context, pager Pagination) (domain.CursorPage[Order], error)
	ListPayouts(ctx context.Context, orderID string) ([]Payout, error)
}

// FeatureGate answers feature-flag lookups. Implementations must apply the
// master switch before any feature-specific key.
type FeatureGate interface {
	Enabled(ctx context.Context, key string) bool
}

// DeliveryNotice is the message handed to the delivery dispatch collaborator.
// The email worker consuming it is outside this system.
type DeliveryNotice struct {
	Recipient           string
	Locale              string
	ListingTitle        string
	OrderID             string
	RedemptionReference string
	ExpiresAt           time.Time
}

// DeliveryNotifier dispatches delivery notices. Failures are logged by
// callers and never fail the surrounding operation.
type DeliveryNotifier interface {
	SendDeliveryNotice(ctx context.Context, notice DeliveryNotice) error
}

// DownloadLinkSigner produces a short-lived signed location for a stored object.
type DownloadLinkSigner interface {
	SignedDownloadURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// OrderAccessPolicy decides whether a requester may act on an order. The
// default policy matches the order's buyer identity; deployments may widen it
// for support tooling.
type OrderAccessPolicy func(requesterIdentity string, order Order) bool

// Repository aliases keep service signatures aligned with the persistence layer.
type (
	OrderListFilter = repositories.OrderListFilter
)
