package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/payments"
	"github.com/planvault/api/internal/repositories"
)

// FeaturePurchasing gates the whole purchase path. The feature gate applies
// the master switch on top of it.
const FeaturePurchasing = "checkout.purchasing"

const orderIDPrefix = "ord_"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutFeatureDisabled indicates purchasing is switched off operationally.
	ErrCheckoutFeatureDisabled = errors.New("checkout: purchasing disabled")
	// ErrCheckoutListingNotFound indicates the listing does not exist.
	ErrCheckoutListingNotFound = errors.New("checkout: listing not found")
	// ErrCheckoutListingNotListed indicates the listing exists but is not purchasable.
	ErrCheckoutListingNotListed = errors.New("checkout: listing not purchasable")
	// ErrCheckoutMisconfiguredListing indicates the listing's royalty split is
	// invalid. This is a data-integrity fault requiring operator attention,
	// not something the buyer can fix by retrying.
	ErrCheckoutMisconfiguredListing = errors.New("checkout: listing royalty split misconfigured")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment session failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// checkoutSessionOpener abstracts payments.Manager for easier testing.
type checkoutSessionOpener interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Flags       FeatureGate
	Listings    repositories.ListingRepository
	Orders      repositories.OrderRepository
	Calculator  RoyaltyCalculator
	Payments    checkoutSessionOpener
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	flags      FeatureGate
	listings   repositories.ListingRepository
	orders     repositories.OrderRepository
	calculator RoyaltyCalculator
	payments   checkoutSessionOpener
	now        func() time.Time
	newID      func() string
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Flags == nil {
		return nil, errors.New("checkout service: feature gate is required")
	}
	if deps.Listings == nil {
		return nil, errors.New("checkout service: listing repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Calculator == nil {
		return nil, errors.New("checkout service: royalty calculator is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		flags:      deps.Flags,
		listings:   deps.Listings,
		orders:     deps.Orders,
		calculator: deps.Calculator,
		payments:   deps.Payments,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// OpenCheckout validates eligibility, opens a PSP session, and records a
// pending order. Exactly one order row is created per successful call; a
// failed call creates none and the caller re-invokes for a fresh attempt.
func (s *checkoutService) OpenCheckout(ctx context.Context, cmd OpenCheckoutCommand) (CheckoutResult, error) {
	if s == nil || s.orders == nil || s.payments == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	listingID := strings.TrimSpace(cmd.ListingID)
	buyer := strings.TrimSpace(cmd.BuyerIdentity)
	if listingID == "" || buyer == "" {
		return CheckoutResult{}, fmt.Errorf("%w: listing id and buyer identity are required", ErrCheckoutInvalidInput)
	}
	successURL := strings.TrimSpace(cmd.SuccessURL)
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutResult{}, fmt.Errorf("%w: successUrl and cancelUrl are required", ErrCheckoutInvalidInput)
	}

	if !s.flags.Enabled(ctx, FeaturePurchasing) {
		return CheckoutResult{}, ErrCheckoutFeatureDisabled
	}

	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if isNotFound(err) {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutListingNotFound, listingID)
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if !listing.Purchasable() {
		return CheckoutResult{}, fmt.Errorf("%w: listing is %s", ErrCheckoutListingNotListed, listing.Stage)
	}

	split, err := s.listings.GetRoyaltySplit(ctx, listingID)
	if err != nil {
		if isNotFound(err) {
			return CheckoutResult{}, fmt.Errorf("%w: split missing", ErrCheckoutMisconfiguredListing)
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	breakdown, err := s.calculator.Compute(listing.BasePriceMinor, listing.Currency, split)
	if err != nil {
		if errors.Is(err, ErrInvalidSplit) || errors.Is(err, ErrInvalidBasePrice) {
			s.logger(ctx, "checkout.misconfigured_listing", map[string]any{
				"listingId": listingID,
				"error":     err.Error(),
			})
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutMisconfiguredListing, err)
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	now := s.now()
	orderID := s.newID()

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: listing.Currency}, payments.CheckoutSessionRequest{
		Amount:     breakdown.TotalCharged,
		Currency:   listing.Currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"orderId":   orderID,
			"listingId": listingID,
		},
		Items: []payments.CheckoutLineItem{
			{
				Name:     listing.Title,
				SKU:      listingID,
				Quantity: 1,
				Amount:   breakdown.TotalCharged,
				Currency: listing.Currency,
			},
		},
	})
	if err != nil {
		s.logger(ctx, "checkout.session_failed", map[string]any{
			"listingId": listingID,
			"error":     err.Error(),
		})
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	order := domain.Order{
		ID:                orderID,
		ListingID:         listingID,
		BuyerIdentity:     buyer,
		BuyerLocale:       strings.TrimSpace(cmd.BuyerLocale),
		BasePriceMinor:    breakdown.BasePriceMinor,
		PlatformFeeMinor:  breakdown.PlatformFeeMinor,
		TotalChargedMinor: breakdown.TotalCharged,
		Currency:          listing.Currency,
		PaymentReference:  session.ID,
		PaymentState:      domain.PaymentStatePending,
		CreatedAt:         now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		// The PSP session stays open but no order exists for it; the
		// payment event processor will surface the orphan for manual
		// reconciliation if the buyer still pays.
		s.logger(ctx, "checkout.order_insert_failed", map[string]any{
			"orderId":          orderID,
			"paymentReference": session.ID,
			"error":            err.Error(),
		})
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	s.logger(ctx, "checkout.opened", map[string]any{
		"orderId":      orderID,
		"listingId":    listingID,
		"totalCharged": breakdown.TotalCharged,
	})

	return CheckoutResult{
		CheckoutHandle: session.ID,
		RedirectURL:    session.RedirectURL,
		OrderID:        orderID,
		TotalCharged:   breakdown.TotalCharged,
		Currency:       listing.Currency,
		ExpiresAt:      session.ExpiresAt,
	}, nil
}

// isNotFound reports whether the error is a not-found categorised repository error.
func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// isConflict reports whether the error is a conflict categorised repository error.
func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
