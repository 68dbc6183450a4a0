package services

import (
	"strings"

	domain "github.com/sokoline/payments-api/internal/domain"
)

// FlowKind distinguishes the two delivery channels a gateway result can take.
type FlowKind string

const (
	// FlowRedirect is the synchronous browser return trip from the hosted page.
	FlowRedirect FlowKind = "redirect"
	// FlowWebhook is the asynchronous server-to-server push notification.
	FlowWebhook FlowKind = "webhook"
)

// MapGatewayStatus translates a gateway-reported status string into the
// internal transaction status. Total over its inputs: unknown or absent
// statuses stay in progress.
//
// The webhook channel deliberately never maps to canceled: the push provider
// only announces captures, and cancellations are observed through the
// redirect flow. Keep that asymmetry unless the upstream event catalogue
// changes.
func MapGatewayStatus(flow FlowKind, gatewayStatus string) domain.TransactionStatus {
	status := strings.ToLower(strings.TrimSpace(gatewayStatus))

	if flow == FlowWebhook {
		if status == "succeeded" {
			return domain.TransactionStatusPaid
		}
		return domain.TransactionStatusProgress
	}

	switch status {
	case "success":
		return domain.TransactionStatusPaid
	case "failure":
		return domain.TransactionStatusCanceled
	default:
		return domain.TransactionStatusProgress
	}
}
