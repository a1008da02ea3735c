package domain

// RoyaltyBreakdown captures the monetary results of settling one sale.
// TotalCharged always equals BasePrice + PlatformFee. The payout amounts are
// rounded per participant, so their sum may fall short of BasePrice by a few
// minor units; that residual is accepted, never redistributed.
type RoyaltyBreakdown struct {
	Currency         string
	BasePriceMinor   int64
	PlatformFeeMinor int64
	TotalCharged     int64
	Payouts          []ParticipantPayout
}

// ParticipantPayout is one participant's computed share of a sale.
type ParticipantPayout struct {
	ParticipantID    string
	ShareBasisPoints int64
	AmountMinor      int64
	Position         int
}

// PayoutTotal sums the per-participant amounts.
func (b RoyaltyBreakdown) PayoutTotal() int64 {
	var total int64
	for _, p := range b.Payouts {
		total += p.AmountMinor
	}
	return total
}
