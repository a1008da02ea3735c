package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/payments"
)

func listedFixture() (domain.Listing, domain.RoyaltySplit) {
	listing := domain.Listing{
		ID:             "lst_1",
		CreatorID:      "creator-1",
		Title:          "Bracket v2",
		BasePriceMinor: 500,
		Currency:       "USD",
		Stage:          domain.ListingStageListed,
		ObjectPath:     "files/lst_1/bracket-v2.zip",
	}
	split := domain.RoyaltySplit{
		ListingID: "lst_1",
		Participants: []domain.SplitParticipant{
			{ParticipantID: "creator-1", ShareBasisPoints: 10000, Position: 0},
		},
	}
	return listing, split
}

func TestCheckoutServiceOpenCheckoutSuccess(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	listing, split := listedFixture()

	listings := &stubListingRepository{
		findFunc: func(_ context.Context, listingID string) (domain.Listing, error) {
			if listingID != "lst_1" {
				t.Fatalf("unexpected listing id %s", listingID)
			}
			return listing, nil
		},
		splitFunc: func(context.Context, string) (domain.RoyaltySplit, error) {
			return split, nil
		},
	}

	var inserted domain.Order
	orders := &stubOrderRepository{
		insertFunc: func(_ context.Context, order domain.Order) error {
			inserted = order
			return nil
		},
	}

	var sessionReq payments.CheckoutSessionRequest
	opener := &stubSessionOpener{
		createFunc: func(_ context.Context, _ payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			sessionReq = req
			if req.Amount != 550 {
				t.Fatalf("expected amount 550, got %d", req.Amount)
			}
			if req.Metadata["listingId"] != "lst_1" {
				t.Fatalf("expected listing metadata, got %#v", req.Metadata)
			}
			return payments.CheckoutSession{
				ID:          "cs_123",
				RedirectURL: "https://checkout.example/cs_123",
				ExpiresAt:   now.Add(30 * time.Minute),
			}, nil
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Flags:       &stubFeatureGate{},
		Listings:    listings,
		Orders:      orders,
		Calculator:  NewRoyaltyCalculator(),
		Payments:    opener,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "ord_01TEST" },
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	result, err := service.OpenCheckout(ctx, OpenCheckoutCommand{
		ListingID:     "lst_1",
		BuyerIdentity: "buyer@example.com",
		BuyerLocale:   "en-US",
		SuccessURL:    "https://shop.example/done",
		CancelURL:     "https://shop.example/cancel",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.OrderID != "ord_01TEST" {
		t.Fatalf("unexpected order id %s", result.OrderID)
	}
	if result.CheckoutHandle != "cs_123" || result.RedirectURL != "https://checkout.example/cs_123" {
		t.Fatalf("unexpected session handles %#v", result)
	}
	if result.TotalCharged != 550 || result.Currency != "USD" {
		t.Fatalf("unexpected totals %d %s", result.TotalCharged, result.Currency)
	}

	if inserted.ID != "ord_01TEST" {
		t.Fatalf("expected order persisted, got %#v", inserted)
	}
	if inserted.PaymentState != domain.PaymentStatePending {
		t.Fatalf("expected pending order, got %s", inserted.PaymentState)
	}
	if inserted.PaymentReference != "cs_123" {
		t.Fatalf("expected payment reference cs_123, got %s", inserted.PaymentReference)
	}
	if inserted.BasePriceMinor != 500 || inserted.PlatformFeeMinor != 50 || inserted.TotalChargedMinor != 550 {
		t.Fatalf("unexpected monetary snapshot %#v", inserted)
	}
	if !inserted.CreatedAt.Equal(now) {
		t.Fatalf("expected createdAt %v, got %v", now, inserted.CreatedAt)
	}
	if len(sessionReq.Items) != 1 || sessionReq.Items[0].Name != "Bracket v2" {
		t.Fatalf("unexpected line items %#v", sessionReq.Items)
	}
}

func TestCheckoutServiceOpenCheckoutFeatureDisabled(t *testing.T) {
	listing, split := listedFixture()
	listings := &stubListingRepository{
		findFunc:  func(context.Context, string) (domain.Listing, error) { return listing, nil },
		splitFunc: func(context.Context, string) (domain.RoyaltySplit, error) { return split, nil },
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Flags:      &stubFeatureGate{enabledFunc: func(context.Context, string) bool { return false }},
		Listings:   listings,
		Orders:     &stubOrderRepository{},
		Calculator: NewRoyaltyCalculator(),
		Payments:   &stubSessionOpener{},
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.OpenCheckout(context.Background(), OpenCheckoutCommand{
		ListingID:     "lst_1",
		BuyerIdentity: "buyer@example.com",
		SuccessURL:    "https://shop.example/done",
		CancelURL:     "https://shop.example/cancel",
	})
	if !errors.Is(err, ErrCheckoutFeatureDisabled) {
		t.Fatalf("expected feature disabled error, got %v", err)
	}
}

func TestCheckoutServiceOpenCheckoutRejectsUnpurchasableListing(t *testing.T) {

	for _, stage := range []domain.ListingStage{domain.ListingStageDraft, domain.ListingStageUnlisted, domain.ListingStageRemoved} {
		listing, split := listedFixture()
		listing.Stage = stage
		listings := &stubListingRepository{
			findFunc:  func(context.Context, string) (domain.Listing, error) { return listing, nil },
			splitFunc: func(context.Context, string) (domain.RoyaltySplit, error) { return split, nil },
		}

		service, err := NewCheckoutService(CheckoutServiceDeps{
			Flags:      &stubFeatureGate{},
			Listings:   listings,
			Orders:     &stubOrderRepository{},
			Calculator: NewRoyaltyCalculator(),
			Payments:   &stubSessionOpener{},
		})
		if err != nil {
			t.Fatalf("unexpected error creating service: %v", err)
		}

		_, err = service.OpenCheckout(context.Background(), OpenCheckoutCommand{
			ListingID:     "lst_1",
			BuyerIdentity: "buyer@example.com",
			SuccessURL:    "https://shop.example/done",
			CancelURL:     "https://shop.example/cancel",
		})
		if !errors.Is(err, ErrCheckoutListingNotListed) {
			t.Fatalf("stage %s: expected not purchasable error, got %v", stage, err)
		}
	}
}

func TestCheckoutServiceOpenCheckoutMisconfiguredSplit(t *testing.T) {
	listing, split := listedFixture()
	split.Participants[0].ShareBasisPoints = 9000

	listings := &stubListingRepository{
		findFunc:  func(context.Context, string) (domain.Listing, error) { return listing, nil },
		splitFunc: func(context.Context, string) (domain.RoyaltySplit, error) { return split, nil },
	}

	inserted := false
	orders := &stubOrderRepository{
		insertFunc: func(context.Context, domain.Order) error {
			inserted = true
			return nil
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Flags:      &stubFeatureGate{},
		Listings:   listings,
		Orders:     orders,
		Calculator: NewRoyaltyCalculator(),
		Payments:   &stubSessionOpener{},
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.OpenCheckout(context.Background(), OpenCheckoutCommand{
		ListingID:     "lst_1",
		BuyerIdentity: "buyer@example.com",
		SuccessURL:    "https://shop.example/done",
		CancelURL:     "https://shop.example/cancel",
	})
	if !errors.Is(err, ErrCheckoutMisconfiguredListing) {
		t.Fatalf("expected misconfigured listing error, got %v", err)
	}
	if inserted {
		t.Fatal("expected no order on misconfigured split")
	}
}

func TestCheckoutServiceOpenCheckoutSessionFailureCreatesNoOrder(t *testing.T) {
	listing, split := listedFixture()
	listings := &stubListingRepository{
		findFunc:  func(context.Context, string) (domain.Listing, error) { return listing, nil },
		splitFunc: func(context.Context, string) (domain.RoyaltySplit, error) { return split, nil },
	}

	inserted := false
	orders := &stubOrderRepository{
		insertFunc: func(context.Context, domain.Order) error {
			inserted = true
			return nil
		},
	}
	opener := &stubSessionOpener{
		createFunc: func(context.Context, payments.PaymentContext, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
			return payments.CheckoutSession{}, errors.New("psp unreachable")
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Flags:      &stubFeatureGate{},
		Listings:   listings,
		Orders:     orders,
		Calculator: NewRoyaltyCalculator(),
		Payments:   opener,
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.OpenCheckout(context.Background(), OpenCheckoutCommand{
		ListingID:     "lst_1",
		BuyerIdentity: "buyer@example.com",
		SuccessURL:    "https://shop.example/done",
		CancelURL:     "https://shop.example/cancel",
	})
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected payment failed error, got %v", err)
	}
	if inserted {
		t.Fatal("expected no order when session creation fails")
	}
}

func TestCheckoutServiceOpenCheckoutUnknownListing(t *testing.T) {
	service, err := NewCheckoutService(CheckoutServiceDeps{
		Flags:      &stubFeatureGate{},
		Listings:   &stubListingRepository{},
		Orders:     &stubOrderRepository{},
		Calculator: NewRoyaltyCalculator(),
		Payments:   &stubSessionOpener{},
	})
	if err != nil {
		t.Fatalf("unexpected error creating service: %v", err)
	}

	_, err = service.OpenCheckout(context.Background(), OpenCheckoutCommand{
		ListingID:     "lst_missing",
		BuyerIdentity: "buyer@example.com",
		SuccessURL:    "https://shop.example/done",
		CancelURL:     "https://shop.example/cancel",
	})
	if !errors.Is(err, ErrCheckoutListingNotFound) {
		t.Fatalf("expected listing not found error, got %v", err)
	}
}
