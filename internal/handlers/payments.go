package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sokoline/payments-api/internal/services"
)

// PaymentResultHandlers serves the synchronous browser return trips from the
// hosted payment page. These endpoints are hit by redirected payers, so they
// answer with a redirect in every case, including degraded ones.
type PaymentResultHandlers struct {
	results services.PaymentResultService
}

// NewPaymentResultHandlers constructs the payment result handlers.
func NewPaymentResultHandlers(results services.PaymentResultService) *PaymentResultHandlers {
	return &PaymentResultHandlers{results: results}
}

// Routes registers the result endpoints under the provided router. The order
// result endpoint accepts both GET and POST because gateways differ in how
// they bounce the browser back.
func (h *PaymentResultHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/order-result", h.orderResult)
	r.Post("/order-result", h.orderResult)
	r.Get("/subscription-result", h.subscriptionResult)
}

func (h *PaymentResultHandlers) orderResult(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		http.Error(w, "payment results unavailable", http.StatusServiceUnavailable)
		return
	}

	// FormValue reads the query string on GET and the form body on POST.
	cmd := services.RedirectResultCommand{
		OrderID:          r.FormValue("order_id"),
		ParcelID:         r.FormValue("parcel_id"),
		SubscriptionID:   r.FormValue("subscription_id"),
		ShopID:           r.FormValue("shop_id"),
		PaymentID:        r.FormValue("paymentId"),
		ConversationID:   r.FormValue("conversationId"),
		ConversationData: r.FormValue("conversationData"),
	}

	result := h.results.FinalizeRedirect(r.Context(), cmd)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

func (h *PaymentResultHandlers) subscriptionResult(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		http.Error(w, "payment results unavailable", http.StatusServiceUnavailable)
		return
	}

	target := h.results.SubscriptionRedirect(r.Context(), r.FormValue("subscription_id"))
	http.Redirect(w, r, target, http.StatusFound)
}
