package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ListingStage enumerates the publication lifecycle of a sellable design file.
type ListingStage string

const (
	// ListingStageDraft marks a listing still being prepared by its creator.
	ListingStageDraft ListingStage = "draft"
	// ListingStageListed marks a listing visible and purchasable.
	ListingStageListed ListingStage = "listed"
	// ListingStageUnlisted marks a listing hidden from the catalog but retained.
	ListingStageUnlisted ListingStage = "unlisted"
	// ListingStageRemoved marks a listing withdrawn permanently.
	ListingStageRemoved ListingStage = "removed"
)

// Listing describes a sellable design file record. The order engine treats
// listings as read-only; the upload/validation pipeline owns their mutation.
type Listing struct {
	ID              string
	CreatorID       string
	Title           string
	DescriptionHTML string
	Formats         []string
	BasePriceMinor  int64
	Currency        string
	Stage           ListingStage
	ObjectPath      string
	PreviewPath     string
	ValidationOK    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Purchasable reports whether orders may be opened against the listing.
func (l Listing) Purchasable() bool {
	return l.Stage == ListingStageListed
}

// SplitParticipant is one row of a listing's royalty split. Position fixes the
// audit ordering of payout rows and carries no financial meaning.
type SplitParticipant struct {
	ParticipantID    string
	ShareBasisPoints int64
	Position         int
}

// RoyaltySplit is the ordered allocation of sale proceeds for one listing.
// Shares are expressed in basis points and must sum to exactly 10000 before
// any order can be created against the listing.
type RoyaltySplit struct {
	ListingID    string
	Participants []SplitParticipant
	UpdatedAt    time.Time
}

// TotalBasisPoints sums the participants' shares.
func (s RoyaltySplit) TotalBasisPoints() int64 {
	var total int64
	for _, p := range s.Participants {
		total += p.ShareBasisPoints
	}
	return total
}

// PaymentState captures an order's position in the payment lifecycle.
// pending is initial; paid and failed are reachable only from pending;
// refunded only from paid. failed and refunded are terminal.
type PaymentState string

const (
	// PaymentStatePending indicates the checkout session is open and unconfirmed.
	PaymentStatePending PaymentState = "pending"
	// PaymentStatePaid indicates the provider confirmed capture.
	PaymentStatePaid PaymentState = "paid"
	// PaymentStateFailed indicates the provider reported a terminal failure.
	PaymentStateFailed PaymentState = "failed"
	// PaymentStateRefunded indicates a paid order was refunded.
	PaymentStateRefunded PaymentState = "refunded"
)

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentStatePending: {PaymentStatePaid, PaymentStateFailed},
	PaymentStatePaid:    {PaymentStateRefunded},
}

// CanTransition reports whether moving from the current state to next is legal.
func (s PaymentState) CanTransition(next PaymentState) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DownloadCredential grants time-boxed access to a purchased file. At most one
// credential is valid per order at a time; renewing replaces the token.
type DownloadCredential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the credential's window has closed at the given instant.
func (c DownloadCredential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Order is the append-only purchase record driven through the payment state
// machine. Monetary totals are fixed at creation; only the payment state,
// credential, and the bookkeeping counters mutate afterwards.
type Order struct {
	ID                   string
	ListingID            string
	BuyerIdentity        string
	BuyerLocale          string
	BasePriceMinor       int64
	PlatformFeeMinor     int64
	TotalChargedMinor    int64
	Currency             string
	PaymentReference     string
	PaymentState         PaymentState
	DownloadCredential   *DownloadCredential
	DownloadAttemptCount int64
	DeliveryRetryCount   int64
	CreatedAt            time.Time
	PaidAt               *time.Time
	DownloadedAt         *time.Time
	RefundedAt           *time.Time
	PayoutsSettledAt     *time.Time
}

// Credential returns the order's credential when one is set.
func (o Order) Credential() (DownloadCredential, bool) {
	if o.DownloadCredential == nil {
		return DownloadCredential{}, false
	}
	return *o.DownloadCredential, true
}

// PayoutStatus tracks settlement of a single royalty payout row.
type PayoutStatus string

const (
	// PayoutStatusPending indicates the payout awaits transfer.
	PayoutStatusPending PayoutStatus = "pending"
	// PayoutStatusTransferred indicates funds reached the participant.
	PayoutStatusTransferred PayoutStatus = "transferred"
	// PayoutStatusFailed indicates the transfer attempt failed.
	PayoutStatusFailed PayoutStatus = "failed"
	// PayoutStatusClawback flags a payout of a refunded order for manual review.
	PayoutStatusClawback PayoutStatus = "clawback_review"
)

// Payout is one participant's share of a paid order. AmountMinor is immutable
// after creation; only Status moves.
type Payout struct {
	ID            string
	OrderID       string
	ParticipantID string
	AmountMinor   int64
	Position      int
	Status        PayoutStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
