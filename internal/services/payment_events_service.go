package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/repositories"
)

const payoutIDPrefix = "pay_"

var (
	// ErrPaymentEventInvalid indicates the event is malformed.
	ErrPaymentEventInvalid = errors.New("payment event: invalid event")
	// ErrPaymentEventOrderNotFound indicates no order matches the payment
	// reference. The payment succeeded upstream, so these are logged for
	// manual reconciliation rather than retried.
	ErrPaymentEventOrderNotFound = errors.New("payment event: order not found")
	// ErrPaymentEventConflict indicates the order is in a state the event
	// cannot legally act on.
	ErrPaymentEventConflict = errors.New("payment event: conflicting order state")
	// ErrPaymentEventUnavailable indicates a dependency failure on the critical path.
	ErrPaymentEventUnavailable = errors.New("payment event: unavailable")
)

// credentialIssuer abstracts the download service's issue path for testing.
type credentialIssuer interface {
	Issue(ctx context.Context, orderID string) (DownloadCredential, error)
}

// PaymentEventServiceDeps wires the collaborators of the payment event processor.
type PaymentEventServiceDeps struct {
	Orders      repositories.OrderRepository
	Listings    repositories.ListingRepository
	Payouts     repositories.PayoutRepository
	Calculator  RoyaltyCalculator
	Credentials credentialIssuer
	Notifier    DeliveryNotifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentEventService struct {
	orders      repositories.OrderRepository
	listings    repositories.ListingRepository
	payouts     repositories.PayoutRepository
	calculator  RoyaltyCalculator
	credentials credentialIssuer
	notifier    DeliveryNotifier
	now         func() time.Time
	newID       func() string
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentEventService constructs the idempotent payment outcome processor.
func NewPaymentEventService(deps PaymentEventServiceDeps) (PaymentEventService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment event service: order repository is required")
	}
	if deps.Listings == nil {
		return nil, errors.New("payment event service: listing repository is required")
	}
	if deps.Payouts == nil {
		return nil, errors.New("payment event service: payout repository is required")
	}
	if deps.Calculator == nil {
		return nil, errors.New("payment event service: royalty calculator is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("payment event service: credential issuer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return payoutIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentEventService{
		orders:      deps.Orders,
		listings:    deps.Listings,
		payouts:     deps.Payouts,
		calculator:  deps.Calculator,
		credentials: deps.Credentials,
		notifier:    deps.Notifier,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// HandlePaymentOutcome consumes one authenticated provider notification.
// Replays of the same reference and outcome kind are no-op successes: the
// order is looked up by payment reference and every transition is a
// conditional write on the current payment state.
func (s *paymentEventService) HandlePaymentOutcome(ctx context.Context, event PaymentOutcomeEvent) error {
	if s == nil || s.orders == nil {
		return ErrPaymentEventUnavailable
	}

	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		return err
	}

	switch event.Kind {
	case PaymentOutcomeCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, order)
	case PaymentOutcomePaymentFailed:
		return s.handlePaymentFailed(ctx, order)
	case PaymentOutcomePaymentRefunded:
		return s.handlePaymentRefunded(ctx, order)
	default:
		return fmt.Errorf("%w: unknown outcome kind %q", ErrPaymentEventInvalid, event.Kind)
	}
}

// resolveOrder locates the order a notification refers to. Checkout-scoped
// events carry the session reference orders are stored under. Refund events
// reference the payment intent instead, which no order record carries, so a
// reference miss falls back to the orderId metadata mirrored onto the intent
// at session creation.
func (s *paymentEventService) resolveOrder(ctx context.Context, event PaymentOutcomeEvent) (Order, error) {
	reference := strings.TrimSpace(event.PaymentReference)
	orderID := strings.TrimSpace(event.Metadata["orderId"])
	if reference == "" && orderID == "" {
		return Order{}, fmt.Errorf("%w: payment reference or orderId metadata is required", ErrPaymentEventInvalid)
	}

	var (
		order Order
		err   error
	)
	if reference != "" {
		order, err = s.orders.FindByPaymentReference(ctx, reference)
		if err != nil && isNotFound(err) && orderID != "" {
			order, err = s.orders.FindByID(ctx, orderID)
		}
	} else {
		order, err = s.orders.FindByID(ctx, orderID)
	}
	if err != nil {
		if isNotFound(err) {
			s.logger(ctx, "payment.orphan_event", map[string]any{
				"paymentReference": reference,
				"orderId":          orderID,
				"kind":             string(event.Kind),
			})
			return Order{}, fmt.Errorf("%w: reference %q order %q", ErrPaymentEventOrderNotFound, reference, orderID)
		}
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentEventUnavailable, err)
	}
	return order, nil
}

func (s *paymentEventService) handleCheckoutCompleted(ctx context.Context, order Order) error {
	switch order.PaymentState {
	case domain.PaymentStatePaid:
		// Replay of an already processed completion.
		return nil
	case domain.PaymentStatePending:
	default:
		return fmt.Errorf("%w: order %s is %s", ErrPaymentEventConflict, order.ID, order.PaymentState)
	}

	now := s.now()
	updated, err := s.orders.TransitionPaymentState(ctx, order.ID, domain.PaymentStatePending, domain.PaymentStatePaid, repositories.OrderTransitionUpdate{
		PaidAt: &now,
	})
	if err != nil {
		if isConflict(err) && updated.PaymentState == domain.PaymentStatePaid {
			// A concurrent delivery won the race; nothing left to do.
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPaymentEventUnavailable, err)
	}

	s.logger(ctx, "payment.order_paid", map[string]any{
		"orderId":          updated.ID,
		"paymentReference": updated.PaymentReference,
	})

	// Payout settlement is independently reconcilable; its failure never
	// rolls back the paid transition.
	if err := s.settlePayouts(ctx, updated, now); err != nil {
		s.logger(ctx, "payment.payouts_failed", map[string]any{
			"orderId": updated.ID,
			"error":   err.Error(),
		})
	}

	credential, err := s.credentials.Issue(ctx, updated.ID)
	if err != nil {
		return fmt.Errorf("%w: issue credential: %v", ErrPaymentEventUnavailable, err)
	}

	s.dispatchDeliveryNotice(ctx, updated, credential)
	return nil
}

// settlePayouts computes the royalty breakdown and writes the payout batch.
// The batch is all-or-nothing; a replay that lost the settlement race
// surfaces as a conflict and is treated as already settled.
func (s *paymentEventService) settlePayouts(ctx context.Context, order Order, now time.Time) error {
	if order.PayoutsSettledAt != nil {
		return nil
	}

	split, err := s.listings.GetRoyaltySplit(ctx, order.ListingID)
	if err != nil {
		return fmt.Errorf("fetch royalty split: %w", err)
	}
	breakdown, err := s.calculator.Compute(order.BasePriceMinor, order.Currency, split)
	if err != nil {
		return fmt.Errorf("compute royalties: %w", err)
	}

	payouts := make([]domain.Payout, 0, len(breakdown.Payouts))
	for _, p := range breakdown.Payouts {
		payouts = append(payouts, domain.Payout{
			ID:            s.newID(),
			OrderID:       order.ID,
			ParticipantID: p.ParticipantID,
			AmountMinor:   p.AmountMinor,
			Position:      p.Position,
			Status:        domain.PayoutStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := s.payouts.InsertBatch(ctx, order.ID, payouts, now); err != nil {
		if isConflict(err) {
			return nil
		}
		return fmt.Errorf("insert payout batch: %w", err)
	}

	s.logger(ctx, "payment.payouts_settled", map[string]any{
		"orderId": order.ID,
		"rows":    len(payouts),
	})
	return nil
}

func (s *paymentEventService) handlePaymentFailed(ctx context.Context, order Order) error {
	if order.PaymentState != domain.PaymentStatePending {
		// Failure events only act on pending orders; anything else is a replay
		// or a stale notification racing a completed payment.
		return nil
	}
	updated, err := s.orders.TransitionPaymentState(ctx, order.ID, domain.PaymentStatePending, domain.PaymentStateFailed, repositories.OrderTransitionUpdate{})
	if err != nil {
		if isConflict(err) && updated.PaymentState != domain.PaymentStatePending {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPaymentEventUnavailable, err)
	}
	s.logger(ctx, "payment.order_failed", map[string]any{
		"orderId":          updated.ID,
		"paymentReference": updated.PaymentReference,
	})
	return nil
}

func (s *paymentEventService) handlePaymentRefunded(ctx context.Context, order Order) error {
	switch order.PaymentState {
	case domain.PaymentStateRefunded:
		return nil
	case domain.PaymentStatePaid:
	default:
		return fmt.Errorf("%w: refund for order %s in state %s", ErrPaymentEventConflict, order.ID, order.PaymentState)
	}

	now := s.now()
	updated, err := s.orders.TransitionPaymentState(ctx, order.ID, domain.PaymentStatePaid, domain.PaymentStateRefunded, repositories.OrderTransitionUpdate{
		RefundedAt:       &now,
		RevokeCredential: true,
	})
	if err != nil {
		if isConflict(err) && updated.PaymentState == domain.PaymentStateRefunded {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPaymentEventUnavailable, err)
	}

	if _, err := s.payouts.FlagOrderPayouts(ctx, updated.ID, domain.PayoutStatusClawback, now); err != nil {
		s.logger(ctx, "payment.clawback_flag_failed", map[string]any{
			"orderId": updated.ID,
			"error":   err.Error(),
		})
	}

	s.logger(ctx, "payment.order_refunded", map[string]any{
		"orderId":          updated.ID,
		"paymentReference": updated.PaymentReference,
	})
	return nil
}

func (s *paymentEventService) dispatchDeliveryNotice(ctx context.Context, order Order, credential DownloadCredential) {
	if s.notifier == nil {
		return
	}

	listingTitle := ""
	if listing, err := s.listings.FindByID(ctx, order.ListingID); err == nil {
		listingTitle = listing.Title
	}

	notice := DeliveryNotice{
		Recipient:           order.BuyerIdentity,
		Locale:              order.BuyerLocale,
		ListingTitle:        listingTitle,
		OrderID:             order.ID,
		RedemptionReference: credential.Token,
		ExpiresAt:           credential.ExpiresAt,
	}
	if err := s.notifier.SendDeliveryNotice(ctx, notice); err != nil {
		s.logger(ctx, "payment.delivery_notice_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}
