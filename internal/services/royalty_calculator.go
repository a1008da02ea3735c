package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// basisPointsTotal is the full allocation of a royalty split.
	basisPointsTotal = 10000
	// platformFeeBasisPoints is the 10% surcharge added on top of the base price.
	platformFeeBasisPoints = 1000
)

var (
	// ErrInvalidSplit indicates the royalty split is empty or does not sum to 10000 basis points.
	ErrInvalidSplit = errors.New("royalty: invalid split")
	// ErrInvalidBasePrice indicates a negative base price.
	ErrInvalidBasePrice = errors.New("royalty: base price must not be negative")
)

// royaltyCalculator implements RoyaltyCalculator with fixed round-half-up
// integer arithmetic, keeping results reproducible bit for bit.
type royaltyCalculator struct{}

// NewRoyaltyCalculator returns the platform's royalty calculator.
func NewRoyaltyCalculator() RoyaltyCalculator {
	return royaltyCalculator{}
}

// Compute derives the platform fee and per-participant payouts for one sale.
//
// The fee is a 10% surcharge on top of the base price, so the buyer is charged
// base + fee and participants split only the base. Every rounding uses
// round half-up on positive integers: (value*bps + 5000) / 10000. Payout
// amounts are rounded independently per participant, then clamped in split
// position order so the running sum never exceeds the base price: later
// positions absorb the clamp when half-up rounding would overshoot. Residual
// minor units left under the base price are accepted, not redistributed.
func (royaltyCalculator) Compute(basePriceMinor int64, currency string, split RoyaltySplit) (RoyaltyBreakdown, error) {
	if basePriceMinor < 0 {
		return RoyaltyBreakdown{}, fmt.Errorf("%w: got %d", ErrInvalidBasePrice, basePriceMinor)
	}
	if len(split.Participants) == 0 {
		return RoyaltyBreakdown{}, fmt.Errorf("%w: split has no participants", ErrInvalidSplit)
	}
	for _, p := range split.Participants {
		if strings.TrimSpace(p.ParticipantID) == "" {
			return RoyaltyBreakdown{}, fmt.Errorf("%w: participant id is empty", ErrInvalidSplit)
		}
		if p.ShareBasisPoints <= 0 {
			return RoyaltyBreakdown{}, fmt.Errorf("%w: participant %s has non-positive share", ErrInvalidSplit, p.ParticipantID)
		}
	}
	if total := split.TotalBasisPoints(); total != basisPointsTotal {
		return RoyaltyBreakdown{}, fmt.Errorf("%w: shares sum to %d basis points, want %d", ErrInvalidSplit, total, basisPointsTotal)
	}

	fee := roundHalfUpBasisPoints(basePriceMinor, platformFeeBasisPoints)

	participants := make([]SplitParticipant, len(split.Participants))
	copy(participants, split.Participants)
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Position < participants[j].Position
	})

	payouts := make([]ParticipantPayout, 0, len(participants))
	remaining := basePriceMinor
	for _, p := range participants {
		amount := roundHalfUpBasisPoints(basePriceMinor, p.ShareBasisPoints)
		if amount > remaining {
			amount = remaining
		}
		remaining -= amount
		payouts = append(payouts, ParticipantPayout{
			ParticipantID:    p.ParticipantID,
			ShareBasisPoints: p.ShareBasisPoints,
			AmountMinor:      amount,
			Position:         p.Position,
		})
	}

	return RoyaltyBreakdown{
		Currency:         currency,
		BasePriceMinor:   basePriceMinor,
		PlatformFeeMinor: fee,
		TotalCharged:     basePriceMinor + fee,
		Payouts:          payouts,
	}, nil
}

// roundHalfUpBasisPoints computes amount*bps/10000 rounded half-up.
// Both operands are non-negative, so the plain integer form is exact.
func roundHalfUpBasisPoints(amount, bps int64) int64 {
	return (amount*bps + basisPointsTotal/2) / basisPointsTotal
}
