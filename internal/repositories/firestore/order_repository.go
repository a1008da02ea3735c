package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/planvault/api/internal/domain"
	pfirestore "github.com/planvault/api/internal/platform/firestore"
	"github.com/planvault/api/internal/platform/pagination"
	"github.com/planvault/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists the purchase ledger. Every mutation runs inside a
// Firestore transaction predicated on the order's current payment state, which
// is what makes duplicate webhook deliveries and concurrent renews safe.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert stores a new pending order. The ID and payment reference must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data, doc.CreateTime), nil
}

// FindByPaymentReference resolves the order correlated to an external
// checkout session. Payment references are unique per order.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error) {
	return r.findOneByField(ctx, "paymentReference", strings.TrimSpace(paymentReference), "orders.find_by_payment_reference")
}

// FindByCredentialToken resolves the order holding the given live download token.
func (r *OrderRepository) FindByCredentialToken(ctx context.Context, token string) (domain.Order, error) {
	return r.findOneByField(ctx, "credential.token", strings.TrimSpace(token), "orders.find_by_credential_token")
}

func (r *OrderRepository) findOneByField(ctx context.Context, field, value, op string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if value == "" {
		return domain.Order{}, pfirestore.WrapError(op, status.Error(codes.NotFound, "lookup value is empty"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError(op, status.Errorf(codes.NotFound, "no order for %s", field))
	}
	return decodeOrderDocument(docs[0].ID, docs[0].Data, docs[0].CreateTime), nil
}

// TransitionPaymentState moves the order from expected to next atomically.
// When the stored state does not match expected, the current order is returned
// together with a conflict-categorised error and nothing is written.
func (r *OrderRepository) TransitionPaymentState(ctx context.Context, orderID string, expected, next domain.PaymentState, update repositories.OrderTransitionUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if !expected.CanTransition(next) {
		return domain.Order{}, fmt.Errorf("order repository: illegal transition %s -> %s", expected, next)
	}

	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var result domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		current := decodeOrderDocument(orderID, doc, snap.CreateTime)
		if current.PaymentState != expected {
			result = current
			return status.Errorf(codes.FailedPrecondition, "payment state is %q, expected %q", current.PaymentState, expected)
		}

		updates := []firestore.Update{
			{Path: "paymentState", Value: string(next)},
		}
		if update.PaidAt != nil {
			paidAt := update.PaidAt.UTC()
			updates = append(updates, firestore.Update{Path: "paidAt", Value: paidAt})
			current.PaidAt = &paidAt
		}
		if update.RefundedAt != nil {
			refundedAt := update.RefundedAt.UTC()
			updates = append(updates, firestore.Update{Path: "refundedAt", Value: refundedAt})
			current.RefundedAt = &refundedAt
		}
		switch {
		case update.Credential != nil:
			cred := *update.Credential
			updates = append(updates, firestore.Update{Path: "credential", Value: encodeCredential(cred)})
			current.DownloadCredential = &cred
		case update.RevokeCredential:
			updates = append(updates, firestore.Update{Path: "credential", Value: nil})
			current.DownloadCredential = nil
		}
		current.PaymentState = next
		result = current
		return tx.Update(docRef, updates)
	})
	if err != nil {
		return result, pfirestore.WrapError("orders.transition", err)
	}
	return result, nil
}

// UpdateCredential swaps the download credential of a paid order, optionally
// consuming one delivery retry. The retry cap and payment state are checked
// inside the transaction so concurrent renews cannot overshoot the budget.
func (r *OrderRepository) UpdateCredential(ctx context.Context, orderID string, update repositories.CredentialUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var result domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		current := decodeOrderDocument(orderID, doc, snap.CreateTime)
		if current.PaymentState != domain.PaymentStatePaid {
			result = current
			return status.Errorf(codes.FailedPrecondition, "payment state is %q, expected %q", current.PaymentState, domain.PaymentStatePaid)
		}
		if update.IncrementRetry && update.RetryCap > 0 && current.DeliveryRetryCount >= update.RetryCap {
			result = current
			return status.Errorf(codes.FailedPrecondition, "delivery retry budget exhausted (%d)", current.DeliveryRetryCount)
		}

		cred := update.Credential
		updates := []firestore.Update{
			{Path: "credential", Value: encodeCredential(cred)},
		}
		current.DownloadCredential = &cred
		if update.IncrementRetry {
			current.DeliveryRetryCount++
			updates = append(updates, firestore.Update{Path: "deliveryRetryCount", Value: current.DeliveryRetryCount})
		}
		result = current
		return tx.Update(docRef, updates)
	})
	if err != nil {
		return result, pfirestore.WrapError("orders.update_credential", err)
	}
	return result, nil
}

// RecordDownloadAttempt increments downloadAttemptCount and stamps downloadedAt.
func (r *OrderRepository) RecordDownloadAttempt(ctx context.Context, orderID string, downloadedAt time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	downloadedAt = downloadedAt.UTC()
	var result domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		current := decodeOrderDocument(orderID, doc, snap.CreateTime)
		if current.PaymentState != domain.PaymentStatePaid {
			result = current
			return status.Errorf(codes.FailedPrecondition, "payment state is %q, expected %q", current.PaymentState, domain.PaymentStatePaid)
		}
		current.DownloadAttemptCount++
		current.DownloadedAt = &downloadedAt
		result = current
		return tx.Update(docRef, []firestore.Update{
			{Path: "downloadAttemptCount", Value: current.DownloadAttemptCount},
			{Path: "downloadedAt", Value: downloadedAt},
		})
	})
	if err != nil {
		return result, pfirestore.WrapError("orders.record_download", err)
	}
	return result, nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	buyer := strings.TrimSpace(filter.BuyerIdentity)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if buyer != "" {
			q = q.Where("buyerIdentity", "==", buyer)
		}
		if filter.PaymentState != nil {
			q = q.Where("paymentState", "==", string(*filter.PaymentState))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return r.buildOrderPage(docs, limit, fetchLimit), nil
}

// ListUnsettled returns paid orders whose payout batch never landed.
func (r *OrderRepository) ListUnsettled(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("paymentState", "==", string(domain.PaymentStatePaid)).
			Where("payoutsSettledAt", "==", nil).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return r.buildOrderPage(docs, limit, fetchLimit), nil
}

func (r *OrderRepository) buildOrderPage(docs []pfirestore.Document[orderDocument], limit, fetchLimit int) domain.CursorPage[domain.Order] {
	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}
}

type orderDocument struct {
	ListingID            string              `firestore:"listingId"`
	BuyerIdentity        string              `firestore:"buyerIdentity"`
	BuyerLocale          string              `firestore:"buyerLocale,omitempty"`
	BasePriceMinor       int64               `firestore:"basePriceMinor"`
	PlatformFeeMinor     int64               `firestore:"platformFeeMinor"`
	TotalChargedMinor    int64               `firestore:"totalChargedMinor"`
	Currency             string              `firestore:"currency"`
	PaymentReference     string              `firestore:"paymentReference"`
	PaymentState         string              `firestore:"paymentState"`
	Credential           *credentialDocument `firestore:"credential"`
	DownloadAttemptCount int64               `firestore:"downloadAttemptCount"`
	DeliveryRetryCount   int64               `firestore:"deliveryRetryCount"`
	CreatedAt            time.Time           `firestore:"createdAt"`
	PaidAt               *time.Time          `firestore:"paidAt"`
	DownloadedAt         *time.Time          `firestore:"downloadedAt"`
	RefundedAt           *time.Time          `firestore:"refundedAt"`
	PayoutsSettledAt     *time.Time          `firestore:"payoutsSettledAt"`
}

type credentialDocument struct {
	Token     string    `firestore:"token"`
	IssuedAt  time.Time `firestore:"issuedAt"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ListingID:            order.ListingID,
		BuyerIdentity:        order.BuyerIdentity,
		BuyerLocale:          order.BuyerLocale,
		BasePriceMinor:       order.BasePriceMinor,
		PlatformFeeMinor:     order.PlatformFeeMinor,
		TotalChargedMinor:    order.TotalChargedMinor,
		Currency:             order.Currency,
		PaymentReference:     order.PaymentReference,
		PaymentState:         string(order.PaymentState),
		DownloadAttemptCount: order.DownloadAttemptCount,
		DeliveryRetryCount:   order.DeliveryRetryCount,
		CreatedAt:            order.CreatedAt.UTC(),
		PaidAt:               utcOrNil(order.PaidAt),
		DownloadedAt:         utcOrNil(order.DownloadedAt),
		RefundedAt:           utcOrNil(order.RefundedAt),
		PayoutsSettledAt:     utcOrNil(order.PayoutsSettledAt),
	}
	if order.DownloadCredential != nil {
		cred := encodeCredential(*order.DownloadCredential)
		doc.Credential = &cred
	}
	return doc
}

func encodeCredential(cred domain.DownloadCredential) credentialDocument {
	return credentialDocument{
		Token:     cred.Token,
		IssuedAt:  cred.IssuedAt.UTC(),
		ExpiresAt: cred.ExpiresAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument, createTime time.Time) domain.Order {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = createTime
	}
	order := domain.Order{
		ID:                   id,
		ListingID:            doc.ListingID,
		BuyerIdentity:        doc.BuyerIdentity,
		BuyerLocale:          doc.BuyerLocale,
		BasePriceMinor:       doc.BasePriceMinor,
		PlatformFeeMinor:     doc.PlatformFeeMinor,
		TotalChargedMinor:    doc.TotalChargedMinor,
		Currency:             doc.Currency,
		PaymentReference:     doc.PaymentReference,
		PaymentState:         domain.PaymentState(doc.PaymentState),
		DownloadAttemptCount: doc.DownloadAttemptCount,
		DeliveryRetryCount:   doc.DeliveryRetryCount,
		CreatedAt:            createdAt.UTC(),
		PaidAt:               utcOrNil(doc.PaidAt),
		DownloadedAt:         utcOrNil(doc.DownloadedAt),
		RefundedAt:           utcOrNil(doc.RefundedAt),
		PayoutsSettledAt:     utcOrNil(doc.PayoutsSettledAt),
	}
	if doc.Credential != nil {
		order.DownloadCredential = &domain.DownloadCredential{
			Token:     doc.Credential.Token,
			IssuedAt:  doc.Credential.IssuedAt.UTC(),
			ExpiresAt: doc.Credential.ExpiresAt.UTC(),
		}
	}
	return order
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func encodeOrderListToken(t time.Time, id string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{t.UTC().Format(time.RFC3339Nano), id},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor", pagination.ErrInvalidPageToken)
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor time", pagination.ErrInvalidPageToken)
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("%w: malformed cursor id", pagination.ErrInvalidPageToken)
	}
	t, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return t.UTC(), id, nil
}
