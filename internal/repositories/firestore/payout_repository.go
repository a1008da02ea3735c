package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/planvault/api/internal/domain"
	pfirestore "github.com/planvault/api/internal/platform/firestore"
)

const payoutsCollection = "payouts"

// PayoutRepository persists royalty payout rows. The batch insert for an order
// is transactional together with the order's payoutsSettledAt marker, so a
// partially written batch can never be observed and a replayed payment event
// cannot settle the same order twice.
type PayoutRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[payoutDocument]
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewPayoutRepository constructs a Firestore-backed payout repository.
func NewPayoutRepository(provider *pfirestore.Provider) (*PayoutRepository, error) {
	if provider == nil {
		return nil, errors.New("payout repository: firestore provider is required")
	}
	return &PayoutRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[payoutDocument](provider, payoutsCollection, nil, nil),
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// InsertBatch writes every payout row of one paid order in a single transaction.
func (r *PayoutRepository) InsertBatch(ctx context.Context, orderID string, payouts []domain.Payout, settledAt time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("payout repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("payout repository: order id is required")
	}
	if len(payouts) == 0 {
		return errors.New("payout repository: payout batch is empty")
	}
	for _, p := range payouts {
		if strings.TrimSpace(p.ID) == "" {
			return errors.New("payout repository: payout id is required")
		}
		if p.OrderID != orderID {
			return fmt.Errorf("payout repository: payout %s targets order %s, want %s", p.ID, p.OrderID, orderID)
		}
	}

	orderRef, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	settledAt = settledAt.UTC()

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if domain.PaymentState(doc.PaymentState) != domain.PaymentStatePaid {
			return status.Errorf(codes.FailedPrecondition, "order %s is %q, payouts require paid", orderID, doc.PaymentState)
		}
		if doc.PayoutsSettledAt != nil && !doc.PayoutsSettledAt.IsZero() {
			return status.Errorf(codes.AlreadyExists, "order %s payouts already settled", orderID)
		}

		for _, payout := range payouts {
			ref, err := r.base.DocumentRef(ctx, payout.ID)
			if err != nil {
				return err
			}
			if err := tx.Create(ref, encodePayoutDocument(payout)); err != nil {
				return err
			}
		}
		return tx.Update(orderRef, []firestore.Update{
			{Path: "payoutsSettledAt", Value: settledAt},
		})
	})
	if err != nil {
		return pfirestore.WrapError("payouts.insert_batch", err)
	}
	return nil
}

// ListByOrder returns the payout rows of an order in audit (position) order.
func (r *PayoutRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payout, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payout repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payout repository: order id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, err
	}
	payouts := make([]domain.Payout, 0, len(docs))
	for _, doc := range docs {
		payouts = append(payouts, decodePayoutDocument(doc.ID, doc.Data))
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].Position < payouts[j].Position })
	return payouts, nil
}

// UpdateStatus moves one payout row to the given settlement status.
func (r *PayoutRepository) UpdateStatus(ctx context.Context, payoutID string, payoutStatus domain.PayoutStatus, updatedAt time.Time) (domain.Payout, error) {
	if r == nil || r.base == nil {
		return domain.Payout{}, errors.New("payout repository not initialised")
	}
	payoutID = strings.TrimSpace(payoutID)
	if payoutID == "" {
		return domain.Payout{}, errors.New("payout repository: payout id is required")
	}
	updatedAt = updatedAt.UTC()
	if _, err := r.base.Update(ctx, payoutID, []firestore.Update{
		{Path: "status", Value: string(payoutStatus)},
		{Path: "updatedAt", Value: updatedAt},
	}); err != nil {
		return domain.Payout{}, err
	}
	doc, err := r.base.Get(ctx, payoutID)
	if err != nil {
		return domain.Payout{}, err
	}
	return decodePayoutDocument(payoutID, doc.Data), nil
}

// FlagOrderPayouts moves every payout of an order to the given status.
func (r *PayoutRepository) FlagOrderPayouts(ctx context.Context, orderID string, payoutStatus domain.PayoutStatus, updatedAt time.Time) (int, error) {
	payouts, err := r.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	updatedAt = updatedAt.UTC()
	changed := 0
	for _, payout := range payouts {
		if payout.Status == payoutStatus {
			continue
		}
		if _, err := r.base.Update(ctx, payout.ID, []firestore.Update{
			{Path: "status", Value: string(payoutStatus)},
			{Path: "updatedAt", Value: updatedAt},
		}); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

type payoutDocument struct {
	OrderID       string    `firestore:"orderId"`
	ParticipantID string    `firestore:"participantId"`
	AmountMinor   int64     `firestore:"amountMinor"`
	Position      int       `firestore:"position"`
	Status        string    `firestore:"status"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func encodePayoutDocument(payout domain.Payout) payoutDocument {
	return payoutDocument{
		OrderID:       payout.OrderID,
		ParticipantID: payout.ParticipantID,
		AmountMinor:   payout.AmountMinor,
		Position:      payout.Position,
		Status:        string(payout.Status),
		CreatedAt:     payout.CreatedAt.UTC(),
		UpdatedAt:     payout.UpdatedAt.UTC(),
	}
}

func decodePayoutDocument(id string, doc payoutDocument) domain.Payout {
	return domain.Payout{
		ID:            id,
		OrderID:       doc.OrderID,
		ParticipantID: doc.ParticipantID,
		AmountMinor:   doc.AmountMinor,
		Position:      doc.Position,
		Status:        domain.PayoutStatus(doc.Status),
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}
}
