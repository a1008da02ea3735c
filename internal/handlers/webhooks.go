package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/planvault/api/internal/payments"
	"github.com/planvault/api/internal/platform/httpx"
	"github.com/planvault/api/internal/services"
)

// Stripe caps event payloads well below this; anything larger is garbage.
const maxWebhookPayload = 1 << 20

const signatureHeader = "Stripe-Signature"

// webhookVerifier authenticates a raw webhook delivery and extracts the event.
type webhookVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

// WebhookHandlers terminates payment provider callbacks. The provider retries
// on non-2xx, so every verified event is acknowledged with 200 regardless of
// the internal processing outcome.
type WebhookHandlers struct {
	verifier webhookVerifier
	events   services.PaymentEventService
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(verifier webhookVerifier, events services.PaymentEventService, logger func(ctx context.Context, event string, fields map[string]any)) *WebhookHandlers {
	return &WebhookHandlers{
		verifier: verifier,
		events:   events,
		logger:   logger,
	}
}

// Routes registers the webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.handlePayment)
}

func (h *WebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookPayload+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) == 0 || len(payload) > maxWebhookPayload {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid webhook payload size", http.StatusBadRequest))
		return
	}

	event, err := h.verifier.VerifyAndParse(payload, r.Header.Get(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrWebhookSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, payments.ErrWebhookUnhandled):
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook payload", http.StatusBadRequest))
		}
		return
	}

	outcome := services.PaymentOutcomeEvent{
		PaymentReference: event.SessionID,
		Metadata:         event.Metadata,
		OccurredAt:       event.OccurredAt,
	}
	switch event.Kind {
	case payments.WebhookCheckoutCompleted:
		outcome.Kind = services.PaymentOutcomeCheckoutCompleted
	case payments.WebhookPaymentFailed:
		outcome.Kind = services.PaymentOutcomePaymentFailed
	case payments.WebhookPaymentRefunded:
		outcome.Kind = services.PaymentOutcomePaymentRefunded
		outcome.PaymentReference = event.IntentID
	default:
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if err := h.events.HandlePaymentOutcome(ctx, outcome); err != nil {
		h.log(ctx, "webhook.processing_failed", map[string]any{
			"kind":      string(outcome.Kind),
			"reference": outcome.PaymentReference,
			"error":     err.Error(),
		})
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}

func (h *WebhookHandlers) log(ctx context.Context, event string, fields map[string]any) {
	if h.logger == nil {
		return
	}
	h.logger(ctx, event, fields)
}
