package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/brightpath-academy/enroll/internal/domain"
)

const (
	keyPath    = "/payments/get-razorpay-key"
	orderPath  = "/payments/make-payment"
	verifyPath = "/payments/verify-payments"

	maxResponseBody = 64 * 1024
)

var tracer = otel.Tracer("github.com/brightpath-academy/enroll/internal/gateway")

// Logger is the structured event logger used by gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// RazorpayClientConfig configures the RazorpayClient.
type RazorpayClientConfig struct {
	// BaseURL is the root of the school backend exposing the payment routes.
	BaseURL string
	// ScriptURL is the hosted checkout script probed by LoadWidget.
	ScriptURL string
	HTTPClient *http.Client
	Logger     Logger
	Clock      func() time.Time
}

// RazorpayClient implements Provider over the school backend's payment
// routes. All failures are normalised to ErrUnavailable / ErrTransport so
// the orchestrator never sees raw transport errors.
type RazorpayClient struct {
	baseURL   string
	scriptURL string
	http      *http.Client
	logger    Logger
	clock     func() time.Time

	loadMu sync.Mutex
	loaded bool
}

// NewRazorpayClient constructs a RazorpayClient, validating required fields.
func NewRazorpayClient(cfg RazorpayClientConfig) (*RazorpayClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	scriptURL := strings.TrimSpace(cfg.ScriptURL)
	if scriptURL == "" {
		return nil, errors.New("gateway: checkout script url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RazorpayClient{
		baseURL:   baseURL,
		scriptURL: scriptURL,
		http:      httpClient,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

type keyResponse struct {
	Key string `json:"key"`
}

// FetchPublicKey retrieves the gateway's publishable key from the backend.
func (c *RazorpayClient) FetchPublicKey(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "gateway.FetchPublicKey")
	defer span.End()

	var resp keyResponse
	if err := c.getJSON(ctx, keyPath, &resp); err != nil {
		span.SetStatus(codes.Error, "key fetch failed")
		c.logger(ctx, "gateway.key_fetch_failed", map[string]any{"error": err.Error()})
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	key := strings.TrimSpace(resp.Key)
	if key == "" {
		span.SetStatus(codes.Error, "empty key")
		return "", fmt.Errorf("%w: backend returned an empty key", ErrUnavailable)
	}
	return key, nil
}

// LoadWidget probes the hosted checkout script. A successful probe is
// cached for the client lifetime so repeat calls stay side-effect free; a
// failed probe is retried on the next call rather than pinning the client
// unavailable. It reports false on failure and never panics.
func (c *RazorpayClient) LoadWidget(ctx context.Context) bool {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.loaded {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.scriptURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger(ctx, "gateway.widget_load_failed", map[string]any{"error": err.Error()})
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	c.loaded = resp.StatusCode >= 200 && resp.StatusCode < 400
	if !c.loaded {
		c.logger(ctx, "gateway.widget_load_failed", map[string]any{"status": resp.StatusCode})
	}
	return c.loaded
}

type orderRequestBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type orderResponseBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Receipt  string `json:"receipt"`
	} `json:"order"`
}

// CreateOrder binds an amount to a gateway order on the backend.
func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (domain.PaymentIntent, error) {
	ctx, span := tracer.Start(ctx, "gateway.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.amount", req.Amount),
		attribute.String("payment.currency", req.Currency),
	)

	body := orderRequestBody{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes: map[string]string{
			"customer_name":  req.CustomerName,
			"customer_email": req.CustomerEmail,
		},
	}

	var resp orderResponseBody
	if err := c.postJSON(ctx, orderPath, body, &resp); err != nil {
		span.SetStatus(codes.Error, "order creation failed")
		c.logger(ctx, "gateway.order_failed", map[string]any{"error": err.Error()})
		return domain.PaymentIntent{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if !resp.Success || strings.TrimSpace(resp.Order.ID) == "" {
		span.SetStatus(codes.Error, "order rejected")
		c.logger(ctx, "gateway.order_rejected", map[string]any{"message": resp.Message})
		return domain.PaymentIntent{}, fmt.Errorf("%w: order creation rejected: %s", ErrTransport, resp.Message)
	}

	return domain.PaymentIntent{
		OrderID:   resp.Order.ID,
		Amount:    resp.Order.Amount,
		Currency:  resp.Order.Currency,
		CreatedAt: c.clock(),
	}, nil
}

type verifyRequestBody struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type verifyResponseBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// VerifyPayment validates the receipt's signature on the backend. A 2xx
// response carrying success=false is reported as a verification failure,
// never as success.
func (c *RazorpayClient) VerifyPayment(ctx context.Context, receipt domain.PaymentReceipt) (domain.VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "gateway.VerifyPayment")
	defer span.End()
	span.SetAttributes(attribute.String("payment.order_id", receipt.OrderID))

	body := verifyRequestBody{
		OrderID:   receipt.OrderID,
		PaymentID: receipt.PaymentID,
		Signature: receipt.Signature,
	}

	var resp verifyResponseBody
	if err := c.postJSON(ctx, verifyPath, body, &resp); err != nil {
		span.SetStatus(codes.Error, "verification failed")
		c.logger(ctx, "gateway.verify_failed", map[string]any{
			"order_id": receipt.OrderID,
			"error":    err.Error(),
		})
		return domain.VerificationResult{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return domain.VerificationResult{Success: resp.Success, Message: resp.Message}, nil
}

func (c *RazorpayClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *RazorpayClient) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *RazorpayClient) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}
