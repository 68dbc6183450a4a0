package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/sokoline/payments-api/internal/domain"
	"github.com/sokoline/payments-api/internal/services"
)

const webhookTestSecret = "whsec_test_secret"

func signWebhookPayload(t *testing.T, payload string, secret string) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookRouter(svc services.PaymentResultService, secret string, opts ...WebhookOption) chi.Router {
	r := chi.NewRouter()
	NewWebhookHandlers(svc, secret, opts...).Routes(r)
	return r
}

func TestPaymentWebhookSignedDelivery(t *testing.T) {
	var gotCmd services.WebhookResultCommand
	svc := &stubPaymentResultService{
		finalizeWebhook: func(_ context.Context, cmd services.WebhookResultCommand) services.WebhookResult {
			gotCmd = cmd
			return services.WebhookResult{Status: domain.TransactionStatusPaid, Matched: true, Applied: true}
		},
	}

	payload := `{"type":"payment_intent.succeeded","data":{"object":{"id":"tok_1","status":"succeeded"}}}`
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhookPayload(t, payload, webhookTestSecret))
	rec := httptest.NewRecorder()
	newWebhookRouter(svc, webhookTestSecret).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if gotCmd.Token != "tok_1" || gotCmd.GatewayStatus != "succeeded" {
		t.Fatalf("command = %+v", gotCmd)
	}

	var ack map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack["received"] != true || ack["matched"] != true {
		t.Fatalf("ack = %v", ack)
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	called := false
	svc := &stubPaymentResultService{
		finalizeWebhook: func(context.Context, services.WebhookResultCommand) services.WebhookResult {
			called = true
			return services.WebhookResult{}
		},
	}

	payload := `{"type":"payment_intent.succeeded","data":{"object":{"id":"tok_1","status":"succeeded"}}}`
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhookPayload(t, payload, "whsec_wrong"))
	rec := httptest.NewRecorder()
	newWebhookRouter(svc, webhookTestSecret).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if called {
		t.Fatal("service invoked for a forged delivery")
	}
}

func TestPaymentWebhookUnmatchedTokenStillAcked(t *testing.T) {
	svc := &stubPaymentResultService{
		finalizeWebhook: func(context.Context, services.WebhookResultCommand) services.WebhookResult {
			return services.WebhookResult{Status: domain.TransactionStatusPaid}
		},
	}

	payload := `{"type":"payment_intent.succeeded","data":{"object":{"id":"tok_orphan","status":"succeeded"}}}`
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhookPayload(t, payload, webhookTestSecret))
	rec := httptest.NewRecorder()
	newWebhookRouter(svc, webhookTestSecret).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var ack map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack["received"] != true || ack["matched"] != false {
		t.Fatalf("ack = %v", ack)
	}
}

func TestPaymentWebhookUnverifiedMode(t *testing.T) {
	var gotCmd services.WebhookResultCommand
	svc := &stubPaymentResultService{
		finalizeWebhook: func(_ context.Context, cmd services.WebhookResultCommand) services.WebhookResult {
			gotCmd = cmd
			return services.WebhookResult{Matched: true}
		},
	}

	payload := `{"type":"charge.succeeded","data":{"object":{"id":"tok_2","status":"succeeded"}}}`
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	newWebhookRouter(svc, "").ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotCmd.Token != "tok_2" || gotCmd.EventType != "charge.succeeded" {
		t.Fatalf("command = %+v", gotCmd)
	}
}

func TestPaymentWebhookMalformedPayloadAcked(t *testing.T) {
	called := false
	svc := &stubPaymentResultService{
		finalizeWebhook: func(context.Context, services.WebhookResultCommand) services.WebhookResult {
			called = true
			return services.WebhookResult{}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	newWebhookRouter(svc, "").ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 ack", rec.Code)
	}
	if called {
		t.Fatal("service invoked for an unparseable payload")
	}
}

func TestPaymentWebhookOversizedBody(t *testing.T) {
	svc := &stubPaymentResultService{}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(strings.Repeat("a", maxWebhookBody+2)))
	rec := httptest.NewRecorder()
	newWebhookRouter(svc, "").ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestPaymentWebhookRateLimited(t *testing.T) {
	svc := &stubPaymentResultService{}
	limiter := newSimpleRateLimiter(1, time.Minute, nil)
	router := newWebhookRouter(svc, "", WithWebhookRateLimiter(limiter))

	payload := `{"type":"charge.succeeded","data":{"object":{"id":"tok_3","status":"succeeded"}}}`
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(payload))
		req.RemoteAddr = "203.0.113.7:4711"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("delivery %d status = %d, want %d", i, rec.Code, want)
		}
	}
}
