// Package gateway is a thin client for the payment gateway's REST API.
// Responses are decoded into structs holding only the fields this service
// reads; the full body is kept as a raw blob for audit.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payment-service/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	createOrderTimeout = 10 * time.Second
	fetchTimeout       = 5 * time.Second

	maxReadAttempts = 3
	backoffBase     = 200 * time.Millisecond
)

// GatewayError is a non-2xx response from the gateway. 4xx errors are never
// retried and surface to the caller verbatim.
type GatewayError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// IsTransient reports whether err is worth retrying: transport failures and
// gateway 5xx responses.
func IsTransient(err error) bool {
	if gwErr, ok := err.(*GatewayError); ok {
		return gwErr.HTTPStatus >= 500
	}
	// transport-level error (timeout, DNS, connection reset)
	return err != nil
}

// GatewayOrder is the subset of the gateway's order entity this service reads.
type GatewayOrder struct {
	ID       string          `json:"id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
	Raw      json.RawMessage `json:"-"`
}

// GatewayPayment is the subset of the gateway's payment entity this service reads.
type GatewayPayment struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"` // created, authorized, captured, failed, refunded
	Method   string          `json:"method"`
	Raw      json.RawMessage `json:"-"`
}

type GatewayRefund struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Amount    int64           `json:"amount"`
	Status    string          `json:"status"`
	Raw       json.RawMessage `json:"-"`
}

// Client talks to the gateway over HTTP with basic auth (key id / secret).
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, keyID, keySecret string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		httpClient: &http.Client{
			Timeout: createOrderTimeout,
		},
		logger: logger,
	}
}

// CreateOrder registers a new order with the gateway. On a transient failure
// it is retried at most once: a timed-out first attempt may still have
// created the remote order, so further retries are left to the caller's
// idempotent attach path.
func (c *Client) CreateOrder(ctx context.Context, amountMajor decimal.Decimal, currency, receipt string, notes map[string]string) (*GatewayOrder, error) {
	amountMinor, err := money.ToMinorUnits(amountMajor)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	var order GatewayOrder
	raw, err := c.doWithRetry(ctx, http.MethodPost, "/v1/orders", payload, &order, 2, createOrderTimeout)
	if err != nil {
		return nil, err
	}
	order.Raw = raw

	c.logger.Info("Gateway order created",
		zap.String("gateway_order_id", order.ID),
		zap.Int64("amount_minor", order.Amount),
		zap.String("currency", order.Currency),
	)
	return &order, nil
}

// FetchOrder looks up an order on the gateway. Read-only, retried on
// transient failures.
func (c *Client) FetchOrder(ctx context.Context, gatewayOrderID string) (*GatewayOrder, error) {
	var order GatewayOrder
	raw, err := c.doWithRetry(ctx, http.MethodGet, "/v1/orders/"+gatewayOrderID, nil, &order, maxReadAttempts, fetchTimeout)
	if err != nil {
		return nil, err
	}
	order.Raw = raw
	return &order, nil
}

// FetchPayment looks up a payment on the gateway. Used to cross-check
// client-reported payments server-side.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error) {
	var payment GatewayPayment
	raw, err := c.doWithRetry(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &payment, maxReadAttempts, fetchTimeout)
	if err != nil {
		return nil, err
	}
	payment.Raw = raw
	return &payment, nil
}

// CapturePayment finalizes an authorized charge. The gateway rejects capture
// on already-captured or failed payments; that surfaces as a GatewayError.
func (c *Client) CapturePayment(ctx context.Context, paymentID string, amountMajor decimal.Decimal, currency string) (*GatewayPayment, error) {
	amountMinor, err := money.ToMinorUnits(amountMajor)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
	}

	var payment GatewayPayment
	raw, err := c.doWithRetry(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/capture", payload, &payment, 1, createOrderTimeout)
	if err != nil {
		return nil, err
	}
	payment.Raw = raw
	return &payment, nil
}

// CreateRefund refunds a captured payment, partially when amountMajor is
// non-nil, in full otherwise.
func (c *Client) CreateRefund(ctx context.Context, paymentID string, amountMajor *decimal.Decimal, notes map[string]string) (*GatewayRefund, error) {
	payload := map[string]interface{}{}
	if amountMajor != nil {
		amountMinor, err := money.ToMinorUnits(*amountMajor)
		if err != nil {
			return nil, err
		}
		payload["amount"] = amountMinor
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	var refund GatewayRefund
	raw, err := c.doWithRetry(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/refund", payload, &refund, 1, createOrderTimeout)
	if err != nil {
		return nil, err
	}
	refund.Raw = raw
	return &refund, nil
}

// doWithRetry runs do up to attempts times with exponential backoff.
// GatewayError with a 4xx status aborts immediately.
func (c *Client) doWithRetry(ctx context.Context, method, path string, payload interface{}, out interface{}, attempts int, timeout time.Duration) (json.RawMessage, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := backoffBase << (i - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.logger.Warn("Retrying gateway call",
				zap.String("path", path),
				zap.Int("attempt", i+1),
				zap.Error(lastErr),
			)
		}

		raw, err := c.do(ctx, method, path, payload, out, timeout)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}, timeout time.Duration) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway response read failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("gateway response decode failed: %w", err)
		}
	}
	return raw, nil
}

func parseError(status int, raw []byte) *GatewayError {
	var envelope struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &envelope)

	gwErr := &GatewayError{
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Description,
		HTTPStatus: status,
	}
	if gwErr.Code == "" {
		gwErr.Code = "GATEWAY_ERROR"
	}
	if gwErr.Message == "" {
		gwErr.Message = fmt.Sprintf("gateway returned %d", status)
	}
	return gwErr
}
