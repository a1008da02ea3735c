package payments

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

const testSigningSecret = "whsec_test_secret"

func signedPayload(t *testing.T, eventType, objectJSON string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"created": 1772000000,
		"type": %q,
		"data": {"object": %s}
	}`, eventType, objectJSON))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSigningSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestWebhookVerifierCheckoutCompleted(t *testing.T) {
	verifier, err := NewWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	payload, header := signedPayload(t, "checkout.session.completed", `{
		"id": "cs_123",
		"object": "checkout.session",
		"payment_intent": "pi_123",
		"metadata": {"orderId": "ord_1"}
	}`)

	event, err := verifier.VerifyAndParse(payload, header)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Kind != WebhookCheckoutCompleted {
		t.Fatalf("expected checkout completed, got %s", event.Kind)
	}
	if event.SessionID != "cs_123" || event.IntentID != "pi_123" {
		t.Fatalf("unexpected identifiers %#v", event)
	}
	if event.Metadata["orderId"] != "ord_1" {
		t.Fatalf("expected metadata passthrough, got %#v", event.Metadata)
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("expected occurredAt from event creation time")
	}
}

func TestWebhookVerifierSessionExpired(t *testing.T) {
	verifier, _ := NewWebhookVerifier(testSigningSecret)
	payload, header := signedPayload(t, "checkout.session.expired", `{
		"id": "cs_123",
		"object": "checkout.session"
	}`)

	event, err := verifier.VerifyAndParse(payload, header)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Kind != WebhookPaymentFailed {
		t.Fatalf("expected payment failed, got %s", event.Kind)
	}
	if event.SessionID != "cs_123" {
		t.Fatalf("unexpected session id %s", event.SessionID)
	}
}

func TestWebhookVerifierChargeRefunded(t *testing.T) {
	verifier, _ := NewWebhookVerifier(testSigningSecret)
	payload, header := signedPayload(t, "charge.refunded", `{
		"id": "ch_1",
		"object": "charge",
		"payment_intent": "pi_123",
		"metadata": {"orderId": "ord_1"}
	}`)

	event, err := verifier.VerifyAndParse(payload, header)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Kind != WebhookPaymentRefunded {
		t.Fatalf("expected refunded, got %s", event.Kind)
	}
	if event.IntentID != "pi_123" {
		t.Fatalf("unexpected intent id %s", event.IntentID)
	}
}

func TestWebhookVerifierRejectsBadSignature(t *testing.T) {
	verifier, _ := NewWebhookVerifier(testSigningSecret)
	payload, _ := signedPayload(t, "checkout.session.completed", `{"id": "cs_123", "object": "checkout.session"}`)

	_, err := verifier.VerifyAndParse(payload, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestWebhookVerifierUnhandledType(t *testing.T) {
	verifier, _ := NewWebhookVerifier(testSigningSecret)
	payload, header := signedPayload(t, "invoice.paid", `{"id": "in_1", "object": "invoice"}`)

	_, err := verifier.VerifyAndParse(payload, header)
	if !errors.Is(err, ErrWebhookUnhandled) {
		t.Fatalf("expected unhandled type error, got %v", err)
	}
}
