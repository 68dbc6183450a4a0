package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sokoline/payments-api/internal/platform/httpx"
	"github.com/sokoline/payments-api/internal/platform/observability"
	"github.com/sokoline/payments-api/internal/payments"
	"github.com/sokoline/payments-api/internal/services"
)

const (
	maxWebhookBody = 64 * 1024

	webhookRateLimit  = 120
	webhookRateWindow = time.Minute
)

// WebhookHandlers receives the gateway's push notifications. Deliveries are
// acknowledged even when reconciliation finds nothing to update; only forged
// signatures are rejected so the gateway keeps retrying those.
type WebhookHandlers struct {
	results       services.PaymentResultService
	signingSecret string
	limiter       rateLimiter
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// WebhookOption customises the webhook handlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookLogger wires the structured event logger.
func WithWebhookLogger(logger func(ctx context.Context, event string, fields map[string]any)) WebhookOption {
	return func(h *WebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithWebhookRateLimiter overrides the per-source delivery limiter.
func WithWebhookRateLimiter(limiter rateLimiter) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = limiter
	}
}

// NewWebhookHandlers constructs the webhook handlers. An empty signing secret
// disables signature verification; that mode is intended for local setups
// against gateway sandboxes.
func NewWebhookHandlers(results services.PaymentResultService, signingSecret string, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		results:       results,
		signingSecret: signingSecret,
		limiter:       newSimpleRateLimiter(webhookRateLimit, webhookRateWindow, nil),
		logger:        func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentWebhook)
}

func (h *WebhookHandlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.results == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientAddr(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many deliveries", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), status))
		return
	}

	event, err := payments.ParseWebhookEvent(body, r.Header.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		// A signed but malformed payload is acknowledged so the gateway stops
		// redelivering something we will never be able to parse.
		h.logger(ctx, "webhooks.payload_unparseable", map[string]any{
			"error": err.Error(),
		})
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	result := h.results.FinalizeWebhook(ctx, services.WebhookResultCommand{
		Token:         event.Token,
		GatewayStatus: event.Status,
		EventType:     event.Type,
	})
	if !result.Matched {
		h.logger(ctx, "webhooks.delivery_unmatched", map[string]any{
			"token": observability.SanitizeToken(event.Token),
		})
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received": true,
		"matched":  result.Matched,
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
