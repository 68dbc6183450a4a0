package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/sokoline/payments-api/internal/domain"
	"github.com/sokoline/payments-api/internal/services"
)

type stubPaymentResultService struct {
	finalizeRedirect     func(ctx context.Context, cmd services.RedirectResultCommand) services.RedirectResult
	finalizeWebhook      func(ctx context.Context, cmd services.WebhookResultCommand) services.WebhookResult
	subscriptionRedirect func(ctx context.Context, subscriptionID string) string
}

func (s *stubPaymentResultService) FinalizeRedirect(ctx context.Context, cmd services.RedirectResultCommand) services.RedirectResult {
	if s.finalizeRedirect == nil {
		return services.RedirectResult{RedirectURL: "https://shop.example.com/parcels/"}
	}
	return s.finalizeRedirect(ctx, cmd)
}

func (s *stubPaymentResultService) FinalizeWebhook(ctx context.Context, cmd services.WebhookResultCommand) services.WebhookResult {
	if s.finalizeWebhook == nil {
		return services.WebhookResult{}
	}
	return s.finalizeWebhook(ctx, cmd)
}

func (s *stubPaymentResultService) SubscriptionRedirect(ctx context.Context, subscriptionID string) string {
	if s.subscriptionRedirect == nil {
		return "https://admin.example.com/seller/subscriptions/" + subscriptionID
	}
	return s.subscriptionRedirect(ctx, subscriptionID)
}

func newPaymentRouter(svc services.PaymentResultService) chi.Router {
	r := chi.NewRouter()
	NewPaymentResultHandlers(svc).Routes(r)
	return r
}

func TestOrderResultGetRedirects(t *testing.T) {
	var gotCmd services.RedirectResultCommand
	svc := &stubPaymentResultService{
		finalizeRedirect: func(_ context.Context, cmd services.RedirectResultCommand) services.RedirectResult {
			gotCmd = cmd
			return services.RedirectResult{
				RedirectURL: "https://shop.example.com/orders/42",
				Status:      domain.TransactionStatusPaid,
				Applied:     true,
			}
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/order-result?order_id=42&paymentId=pay-1&conversationId=conv-1&conversationData=cd-1", nil)
	rec := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/orders/42" {
		t.Fatalf("location = %q", loc)
	}
	if gotCmd.OrderID != "42" || gotCmd.PaymentID != "pay-1" || gotCmd.ConversationID != "conv-1" || gotCmd.ConversationData != "cd-1" {
		t.Fatalf("command = %+v", gotCmd)
	}
}

func TestOrderResultPostFormRedirects(t *testing.T) {
	var gotCmd services.RedirectResultCommand
	svc := &stubPaymentResultService{
		finalizeRedirect: func(_ context.Context, cmd services.RedirectResultCommand) services.RedirectResult {
			gotCmd = cmd
			return services.RedirectResult{RedirectURL: "https://admin.example.com/seller/subscriptions/7"}
		},
	}

	form := url.Values{}
	form.Set("subscription_id", "7")
	form.Set("shop_id", "3")
	form.Set("paymentId", "pay-2")

	req := httptest.NewRequest(http.MethodPost, "/order-result", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if gotCmd.SubscriptionID != "7" || gotCmd.ShopID != "3" {
		t.Fatalf("command = %+v", gotCmd)
	}
}

func TestOrderResultWithoutIDsStillRedirects(t *testing.T) {
	svc := &stubPaymentResultService{}

	req := httptest.NewRequest(http.MethodGet, "/order-result", nil)
	rec := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://shop.example.com/parcels/" {
		t.Fatalf("location = %q, want default fallback", loc)
	}
}

func TestSubscriptionResultRedirects(t *testing.T) {
	svc := &stubPaymentResultService{}

	req := httptest.NewRequest(http.MethodGet, "/subscription-result?subscription_id=7", nil)
	rec := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://admin.example.com/seller/subscriptions/7" {
		t.Fatalf("location = %q", loc)
	}
}

func TestOrderResultWithoutService(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/order-result", nil)
	rec := httptest.NewRecorder()
	newPaymentRouter(nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
