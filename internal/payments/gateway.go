package payments

import (
	"context"
	"errors"
	"fmt"
)

// Gateway status strings as reported by the PSP. A declined payment is a
// legitimate result, not an error; only transport and protocol failures
// surface as errors from the verifier.
const (
	// GatewayStatusSuccess is reported when 3-D Secure authentication completed and the charge captured.
	GatewayStatusSuccess = "success"
	// GatewayStatusFailure is reported when the payment was declined or the challenge abandoned.
	GatewayStatusFailure = "failure"
)

// ErrGatewayUnavailable marks transport or protocol failures talking to the
// PSP. Callers must never conflate it with a declined payment.
var ErrGatewayUnavailable = errors.New("payments: gateway unavailable")

// GatewayError wraps a verification failure with its operation for logging.
type GatewayError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ThreeDSVerifyRequest carries the callback parameters needed to finalise a
// 3-D Secure payment with the gateway.
type ThreeDSVerifyRequest struct {
	PaymentID        string
	ConversationID   string
	ConversationData string
}

// ThreeDSVerifyResult is the gateway's report for a finalised 3-D Secure flow.
type ThreeDSVerifyResult struct {
	Status         string
	PaymentID      string
	ConversationID string
	ErrorCode      string
	ErrorMessage   string
}

// Declined reports whether the gateway answered with an explicit failure status.
func (r ThreeDSVerifyResult) Declined() bool {
	return r.Status == GatewayStatusFailure
}

// ThreeDSVerifier finalises redirect-flow payments against the PSP. The call
// is a read from the gateway's perspective, so implementations retry transient
// failures within a bounded budget.
type ThreeDSVerifier interface {
	VerifyThreeDSecure(ctx context.Context, req ThreeDSVerifyRequest) (ThreeDSVerifyResult, error)
}
