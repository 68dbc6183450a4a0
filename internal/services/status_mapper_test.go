package services

import (
	"testing"

	domain "github.com/sokoline/payments-api/internal/domain"
)

func TestMapGatewayStatusRedirect(t *testing.T) {
	cases := []struct {
		input string
		want  domain.TransactionStatus
	}{
		{"success", domain.TransactionStatusPaid},
		{"SUCCESS", domain.TransactionStatusPaid},
		{" failure ", domain.TransactionStatusCanceled},
		{"", domain.TransactionStatusProgress},
		{"init_threeds", domain.TransactionStatusProgress},
		{"succeeded", domain.TransactionStatusProgress},
	}
	for _, tc := range cases {
		if got := MapGatewayStatus(FlowRedirect, tc.input); got != tc.want {
			t.Fatalf("MapGatewayStatus(redirect, %q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestMapGatewayStatusWebhook(t *testing.T) {
	cases := []struct {
		input string
		want  domain.TransactionStatus
	}{
		{"succeeded", domain.TransactionStatusPaid},
		{"Succeeded", domain.TransactionStatusPaid},
		// The push channel never reports cancellation; anything that is not a
		// capture stays in progress.
		{"failed", domain.TransactionStatusProgress},
		{"canceled", domain.TransactionStatusProgress},
		{"success", domain.TransactionStatusProgress},
		{"", domain.TransactionStatusProgress},
	}
	for _, tc := range cases {
		if got := MapGatewayStatus(FlowWebhook, tc.input); got != tc.want {
			t.Fatalf("MapGatewayStatus(webhook, %q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}
