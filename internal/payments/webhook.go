package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	// ErrWebhookSignature indicates the payload failed signature verification.
	ErrWebhookSignature = errors.New("payments: webhook signature verification failed")
	// ErrWebhookUnhandled indicates a verified event of a type this system
	// does not consume. Callers acknowledge these without processing.
	ErrWebhookUnhandled = errors.New("payments: unhandled webhook event type")
	// ErrWebhookPayload indicates a verified event whose payload could not be decoded.
	ErrWebhookPayload = errors.New("payments: malformed webhook payload")
)

// WebhookEventKind enumerates the payment outcomes extracted from webhooks.
type WebhookEventKind string

const (
	// WebhookCheckoutCompleted signals a captured checkout payment.
	WebhookCheckoutCompleted WebhookEventKind = "checkout_completed"
	// WebhookPaymentFailed signals a terminally failed or abandoned checkout.
	WebhookPaymentFailed WebhookEventKind = "payment_failed"
	// WebhookPaymentRefunded signals a refunded charge.
	WebhookPaymentRefunded WebhookEventKind = "payment_refunded"
)

// WebhookEvent is one verified provider notification. SessionID is set for
// checkout-scoped events; refund events carry the IntentID and the metadata
// mirrored onto the payment intent at session creation.
type WebhookEvent struct {
	Kind       WebhookEventKind
	SessionID  string
	IntentID   string
	Metadata   map[string]string
	OccurredAt time.Time
}

// WebhookVerifier authenticates and decodes Stripe webhook deliveries.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier constructs a verifier over the endpoint signing secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook signing secret is required")
	}
	return &WebhookVerifier{secret: secret}, nil
}

// VerifyAndParse checks the signature header against the raw payload and maps
// the event onto the internal outcome vocabulary. Verification failures must
// be answered with a client error so the provider does not retry forged
// deliveries; ErrWebhookUnhandled must be acknowledged as success.
func (v *WebhookVerifier) VerifyAndParse(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if v == nil {
		return WebhookEvent{}, errors.New("payments: webhook verifier is nil")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	occurredAt := time.Unix(event.Created, 0).UTC()

	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		session, err := decodeWebhookSession(event.Data.Raw)
		if err != nil {
			return WebhookEvent{}, err
		}
		return WebhookEvent{
			Kind:       WebhookCheckoutCompleted,
			SessionID:  session.ID,
			IntentID:   sessionIntentID(session),
			Metadata:   session.Metadata,
			OccurredAt: occurredAt,
		}, nil
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		session, err := decodeWebhookSession(event.Data.Raw)
		if err != nil {
			return WebhookEvent{}, err
		}
		return WebhookEvent{
			Kind:       WebhookPaymentFailed,
			SessionID:  session.ID,
			IntentID:   sessionIntentID(session),
			Metadata:   session.Metadata,
			OccurredAt: occurredAt,
		}, nil
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: decode charge: %v", ErrWebhookPayload, err)
		}
		intentID := ""
		if charge.PaymentIntent != nil {
			intentID = charge.PaymentIntent.ID
		}
		return WebhookEvent{
			Kind:       WebhookPaymentRefunded,
			IntentID:   intentID,
			Metadata:   charge.Metadata,
			OccurredAt: occurredAt,
		}, nil
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrWebhookUnhandled, event.Type)
	}
}

func decodeWebhookSession(raw json.RawMessage) (stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return stripe.CheckoutSession{}, fmt.Errorf("%w: decode checkout session: %v", ErrWebhookPayload, err)
	}
	return session, nil
}

func sessionIntentID(session stripe.CheckoutSession) string {
	if session.PaymentIntent == nil {
		return ""
	}
	return session.PaymentIntent.ID
}
