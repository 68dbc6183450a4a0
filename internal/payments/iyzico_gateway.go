package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"golang.org/x/text/language"
)

const (
	threeDSAuthPath       = "/payment/3dsecure/auth"
	defaultVerifyTimeout  = 10 * time.Second
	defaultVerifyAttempts = 3
	maxVerifyResponseSize = 64 * 1024
)

// errTransient marks responses worth retrying within the verification budget.
var errTransient = errors.New("payments: transient gateway failure")

// IyzicoLogger defines the logging contract for gateway operations.
type IyzicoLogger func(ctx context.Context, event string, fields map[string]any)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IyzicoConfig configures the IyzicoGateway. Credentials are injected by the
// caller; the gateway never falls back to built-in keys.
type IyzicoConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Locale    string
	// Timeout bounds a single verification round-trip.
	Timeout time.Duration
	// Retries is the number of additional attempts after the first; the call
	// is a gateway-side read, so repeating it is safe.
	Retries int
	Logger  IyzicoLogger
	Client  httpDoer
	// RandomKey overrides the per-request nonce. Tests only.
	RandomKey func() string
}

// IyzicoGateway implements ThreeDSVerifier against the iyzico REST API.
type IyzicoGateway struct {
	apiKey    string
	secretKey string
	baseURL   string
	locale    string
	attempts  int
	client    httpDoer
	logger    IyzicoLogger
	randomKey func() string
}

// NewIyzicoGateway constructs the gateway adapter from injected configuration.
func NewIyzicoGateway(cfg IyzicoConfig) (*IyzicoGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if apiKey == "" || secretKey == "" {
		return nil, errors.New("iyzico: api key and secret key are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("iyzico: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	attempts := cfg.Retries + 1
	if cfg.Retries < 0 || attempts <= 0 {
		attempts = defaultVerifyAttempts
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	randomKey := cfg.RandomKey
	if randomKey == nil {
		randomKey = newRandomKey
	}

	return &IyzicoGateway{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   baseURL,
		locale:    normaliseLocale(cfg.Locale),
		attempts:  attempts,
		client:    client,
		logger:    logger,
		randomKey: randomKey,
	}, nil
}

type threeDSAuthPayload struct {
	Locale           string `json:"locale"`
	ConversationID   string `json:"conversationId,omitempty"`
	PaymentID        string `json:"paymentId"`
	ConversationData string `json:"conversationData,omitempty"`
}

type threeDSAuthResponse struct {
	Status         string `json:"status"`
	PaymentID      string `json:"paymentId"`
	ConversationID string `json:"conversationId"`
	ErrorCode      string `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
}

// VerifyThreeDSecure finalises the 3-D Secure payment and returns the
// gateway's verdict. Transient failures are retried with backoff inside the
// configured attempt budget; exhausting it yields ErrGatewayUnavailable.
func (g *IyzicoGateway) VerifyThreeDSecure(ctx context.Context, req ThreeDSVerifyRequest) (ThreeDSVerifyResult, error) {
	if g == nil {
		return ThreeDSVerifyResult{}, &GatewayError{Op: "iyzico.verify", Err: ErrGatewayUnavailable}
	}

	payload := threeDSAuthPayload{
		Locale:           g.locale,
		ConversationID:   strings.TrimSpace(req.ConversationID),
		PaymentID:        strings.TrimSpace(req.PaymentID),
		ConversationData: strings.TrimSpace(req.ConversationData),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ThreeDSVerifyResult{}, &GatewayError{Op: "iyzico.verify", Err: err}
	}

	var result ThreeDSVerifyResult
	attempt := 0
	invokeErr := gax.Invoke(ctx, func(ctx context.Context, _ gax.CallSettings) error {
		attempt++
		res, err := g.postThreeDSAuth(ctx, body)
		if err != nil {
			g.logger(ctx, "payments.iyzico.verify_attempt_failed", map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return err
		}
		result = res
		return nil
	}, gax.WithRetry(g.retryer))

	if invokeErr != nil {
		if errors.Is(invokeErr, errTransient) {
			invokeErr = fmt.Errorf("%w: %v", ErrGatewayUnavailable, invokeErr)
		}
		return ThreeDSVerifyResult{}, &GatewayError{Op: "iyzico.verify", Err: invokeErr}
	}

	g.logger(ctx, "payments.iyzico.verified", map[string]any{
		"paymentId": result.PaymentID,
		"status":    result.Status,
		"attempts":  attempt,
	})
	return result, nil
}

func (g *IyzicoGateway) postThreeDSAuth(ctx context.Context, body []byte) (ThreeDSVerifyResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+threeDSAuthPath, bytes.NewReader(body))
	if err != nil {
		return ThreeDSVerifyResult{}, err
	}

	randomKey := g.randomKey()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", g.authorizationHeader(randomKey, threeDSAuthPath, body))
	httpReq.Header.Set("x-iyzi-rnd", randomKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return ThreeDSVerifyResult{}, fmt.Errorf("%w: %v", errTransient, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return ThreeDSVerifyResult{}, fmt.Errorf("%w: http %d", errTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return ThreeDSVerifyResult{}, fmt.Errorf("%w: http %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifyResponseSize))
	if err != nil {
		return ThreeDSVerifyResult{}, fmt.Errorf("%w: %v", errTransient, err)
	}

	var decoded threeDSAuthResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return ThreeDSVerifyResult{}, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}

	return ThreeDSVerifyResult{
		Status:         strings.ToLower(strings.TrimSpace(decoded.Status)),
		PaymentID:      decoded.PaymentID,
		ConversationID: decoded.ConversationID,
		ErrorCode:      decoded.ErrorCode,
		ErrorMessage:   decoded.ErrorMessage,
	}, nil
}

// authorizationHeader builds the IYZWSv2 HMAC header for the request body.
func (g *IyzicoGateway) authorizationHeader(randomKey, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write([]byte(randomKey))
	mac.Write([]byte(path))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	authorization := fmt.Sprintf("apiKey:%s&randomKey:%s&signature:%s", g.apiKey, randomKey, signature)
	return "IYZWSv2 " + base64.StdEncoding.EncodeToString([]byte(authorization))
}

func (g *IyzicoGateway) retryer() gax.Retryer {
	budget := g.attempts - 1
	return gax.OnErrorFunc(gax.Backoff{
		Initial:    200 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	}, func(err error) bool {
		if budget <= 0 || !errors.Is(err, errTransient) {
			return false
		}
		budget--
		return true
	})
}

func newRandomKey() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%d%s", time.Now().UnixNano()/int64(time.Millisecond), hex.EncodeToString(buf))
}

func normaliseLocale(value string) string {
	tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(value), "_", "-"))
	if err != nil {
		return "tr"
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return "tr"
	}
	return strings.ToLower(base.String())
}
