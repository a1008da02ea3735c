package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/planvault/api/internal/domain"
	"github.com/planvault/api/internal/repositories"
)

const (
	// defaultCredentialTTL is the access window granted on issue and renew.
	defaultCredentialTTL = 72 * time.Hour
	// defaultSignedURLTTL bounds the lifetime of a redeemed download location.
	defaultSignedURLTTL = 10 * time.Minute
	// defaultRenewRetryCap is the delivery retry budget per order. Once spent,
	// renewal requires manual support intervention.
	defaultRenewRetryCap = 5
)

var (
	// ErrDownloadInvalidInput indicates the caller supplied invalid parameters.
	ErrDownloadInvalidInput = errors.New("download: invalid input")
	// ErrDownloadOrderNotFound indicates the order does not exist.
	ErrDownloadOrderNotFound = errors.New("download: order not found")
	// ErrDownloadForbidden indicates the requester does not own the order.
	ErrDownloadForbidden = errors.New("download: requester does not own order")
	// ErrDownloadPaymentIncomplete indicates the order is not paid.
	ErrDownloadPaymentIncomplete = errors.New("download: payment incomplete")
	// ErrDownloadInvalidToken indicates no order holds the presented token.
	ErrDownloadInvalidToken = errors.New("download: invalid token")
	// ErrDownloadExpired indicates the credential window has closed and the
	// requester could not be verified as the buyer.
	ErrDownloadExpired = errors.New("download: credential expired")
	// ErrDownloadRetryLimitExceeded indicates the delivery retry budget is
	// spent; further renewals need the support path.
	ErrDownloadRetryLimitExceeded = errors.New("download: delivery retry limit exceeded")
	// ErrDownloadUnavailable indicates a dependency failure on the critical path.
	ErrDownloadUnavailable = errors.New("download: unavailable")
)

// DownloadServiceDeps wires the collaborators of the download credential manager.
type DownloadServiceDeps struct {
	Orders         repositories.OrderRepository
	Listings       repositories.ListingRepository
	Signer         DownloadLinkSigner
	Notifier       DeliveryNotifier
	AccessPolicy   OrderAccessPolicy
	CredentialTTL  time.Duration
	SignedURLTTL   time.Duration
	RenewRetryCap  int64
	Clock          func() time.Time
	TokenGenerator func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type downloadService struct {
	orders        repositories.OrderRepository
	listings      repositories.ListingRepository
	signer        DownloadLinkSigner
	notifier      DeliveryNotifier
	allowed       OrderAccessPolicy
	credentialTTL time.Duration
	signedURLTTL  time.Duration
	retryCap      int64
	now           func() time.Time
	newToken      func() string
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// BuyerOnlyAccessPolicy allows exactly the order's buyer, compared case-insensitively.
func BuyerOnlyAccessPolicy(requesterIdentity string, order Order) bool {
	requester := strings.TrimSpace(requesterIdentity)
	return requester != "" && strings.EqualFold(requester, strings.TrimSpace(order.BuyerIdentity))
}

// NewDownloadService constructs a DownloadService validating required dependencies.
func NewDownloadService(deps DownloadServiceDeps) (DownloadService, error) {
	if deps.Orders == nil {
		return nil, errors.New("download service: order repository is required")
	}
	if deps.Listings == nil {
		return nil, errors.New("download service: listing repository is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("download service: download link signer is required")
	}

	policy := deps.AccessPolicy
	if policy == nil {
		policy = BuyerOnlyAccessPolicy
	}
	credentialTTL := deps.CredentialTTL
	if credentialTTL <= 0 {
		credentialTTL = defaultCredentialTTL
	}
	signedURLTTL := deps.SignedURLTTL
	if signedURLTTL <= 0 {
		signedURLTTL = defaultSignedURLTTL
	}
	retryCap := deps.RenewRetryCap
	if retryCap <= 0 {
		retryCap = defaultRenewRetryCap
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	tokenGen := deps.TokenGenerator
	if tokenGen == nil {
		tokenGen = randomToken
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &downloadService{
		orders:        deps.Orders,
		listings:      deps.Listings,
		signer:        deps.Signer,
		notifier:      deps.Notifier,
		allowed:       policy,
		credentialTTL: credentialTTL,
		signedURLTTL:  signedURLTTL,
		retryCap:      retryCap,
		now: func() time.Time {
			return clock().UTC()
		},
		newToken: tokenGen,
		logger:   logger,
	}, nil
}

// Issue mints the first credential of a paid order. Re-issuing while a
// credential already exists returns the stored one unchanged, which keeps
// replayed payment completions from invalidating delivered tokens.
func (s *downloadService) Issue(ctx context.Context, orderID string) (DownloadCredential, error) {
	if s == nil || s.orders == nil {
		return DownloadCredential{}, ErrDownloadUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return DownloadCredential{}, fmt.Errorf("%w: order id is required", ErrDownloadInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return DownloadCredential{}, fmt.Errorf("%w: %s", ErrDownloadOrderNotFound, orderID)
		}
		return DownloadCredential{}, fmt.Errorf("%w: %v", ErrDownloadUnavailable, err)
	}
	if order.PaymentState != domain.PaymentStatePaid {
		return DownloadCredential{}, fmt.Errorf("%w: order is %s", ErrDownloadPaymentIncomplete, order.PaymentState)
	}
	if existing, ok := order.Credential(); ok {
		return existing, nil
	}

	credential := s.mintCredential()
	updated, err := s.orders.UpdateCredential(ctx, orderID, repositories.CredentialUpdate{Credential: credential})
	if err != nil {
		return DownloadCredential{}, fmt.Errorf("%w: store credential: %v", ErrDownloadUnavailable, err)
	}

	s.logger(ctx, "download.credential_issued", map[string]any{
		"orderId":   updated.ID,
		"expiresAt": credential.ExpiresAt,
	})
	return credential, nil
}

// Renew replaces the order's credential with a fresh token, consuming one
// delivery retry and dispatching a new delivery notice.
func (s *downloadService) Renew(ctx context.Context, cmd RenewDownloadCommand) (DownloadCredential, error) {
	if s == nil || s.orders == nil {
		return DownloadCredential{}, ErrDownloadUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	requester := strings.TrimSpace(cmd.RequesterIdentity)
	if orderID == "" || requester == "" {
		return DownloadCredential{}, fmt.Errorf("%w: order id and requester identity are required", ErrDownloadInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return DownloadCredential{}, fmt.Errorf("%w: %s", ErrDownloadOrderNotFound, orderID)
		}
		return DownloadCredential{}, fmt.Errorf("%w: %v", ErrDownloadUnavailable, err)
	}
	// Ownership is checked before anything else so a stranger learns nothing
	// about the order's state or remaining retries.
	if !s.allowed(requester, order) {
		return DownloadCredential{}, fmt.Errorf("%w: order %s", ErrDownloadForbidden, orderID)
	}
	if order.PaymentState != domain.PaymentStatePaid {
		return DownloadCredential{}, fmt.Errorf("%w: order is %s", ErrDownloadPaymentIncomplete, order.PaymentState)
	}
	if order.DeliveryRetryCount >= s.retryCap {
		return DownloadCredential{}, fmt.Errorf("%w: %d renewals used", ErrDownloadRetryLimitExceeded, order.DeliveryRetryCount)
	}

	credential := s.mintCredential()
	updated, err := s.orders.UpdateCredential(ctx, orderID, repositories.CredentialUpdate{
		Credential:     credential,
		IncrementRetry: true,
		RetryCap:       s.retryCap,
	})
	if err != nil {
		// A concurrent renew may have consumed the last retry between the
		// read and the conditional write.
		if isConflict(err) && updated.DeliveryRetryCount >= s.retryCap {
			return DownloadCredential{}, fmt.Errorf("%w: %d renewals used", ErrDownloadRetryLimitExceeded, updated.DeliveryRetryCount)
		}
		return DownloadCredential{}, fmt.Errorf("%w: store credential: %v", ErrDownloadUnavailable, err)
	}

	s.logger(ctx, "download.credential_renewed", map[string]any{
		"orderId":    updated.ID,
		"retryCount": updated.DeliveryRetryCount,
	})
	s.dispatchNotice(ctx, updated, credential)
	return credential, nil
}

// Redeem exchanges a live token for a short-lived signed object location.
func (s *downloadService) Redeem(ctx context.Context, cmd RedeemDownloadCommand) (RedeemResult, error) {
	if s == nil || s.orders == nil {
		return RedeemResult{}, ErrDownloadUnavailable
	}
	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return RedeemResult{}, fmt.Errorf("%w: token is required", ErrDownloadInvalidInput)
	}

	order, err := s.orders.FindByCredentialToken(ctx, token)
	if err != nil {
		if isNotFound(err) {
			return RedeemResult{}, ErrDownloadInvalidToken
		}
		return RedeemResult{}, fmt.Errorf("%w: %v", ErrDownloadUnavailable, err)
	}
	if order.PaymentState != domain.PaymentStatePaid {
		return RedeemResult{}, fmt.Errorf("%w: order is %s", ErrDownloadPaymentIncomplete, order.PaymentState)
	}
	credential, ok := order.Credential()
	if !ok || credential.Token != token {
		return RedeemResult{}, ErrDownloadInvalidToken
	}

	now := s.now()
	if credential.Expired(now) {
		// Past expiry only the authenticated buyer may still redeem; the
		// stored expiry and retry budget are left untouched.
		requester := strings.TrimSpace(cmd.RequesterIdentity)
		if requester == "" || !s.allowed(requester, order) {
			return RedeemResult{}, fmt.Errorf("%w: expired %s", ErrDownloadExpired, credential.ExpiresAt.Format(time.RFC3339))
		}
	}

	listing, err := s.listings.FindByID(ctx, order.ListingID)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("%w: resolve listing: %v", ErrDownloadUnavailable, err)
	}
	signedURL, err := s.signer.SignedDownloadURL(ctx, listing.ObjectPath, s.signedURLTTL)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("%w: sign download url: %v", ErrDownloadUnavailable, err)
	}

	attempt := order.DownloadAttemptCount + 1
	if updated, err := s.orders.RecordDownloadAttempt(ctx, order.ID, now); err != nil {
		// Attempt bookkeeping is best-effort; the buyer still gets the file.
		s.logger(ctx, "download.attempt_tracking_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	} else {
		attempt = updated.DownloadAttemptCount
	}

	return RedeemResult{
		SignedURL:     signedURL,
		ExpiresIn:     s.signedURLTTL,
		OrderID:       order.ID,
		AttemptNumber: attempt,
	}, nil
}

func (s *downloadService) mintCredential() DownloadCredential {
	now := s.now()
	return DownloadCredential{
		Token:     s.newToken(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.credentialTTL),
	}
}

func (s *downloadService) dispatchNotice(ctx context.Context, order Order, credential DownloadCredential) {
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
		s.logger(ctx, "download.delivery_notice_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func randomToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("download: read random bytes: %v", err))
	}
	return "dl_" + hex.EncodeToString(buf)
}
