package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/beanpay/internal/common"
	"github.com/noah-isme/beanpay/internal/obs"
	"github.com/noah-isme/beanpay/internal/resilience"
)

// Client talks to the upstream platform API. Every call forwards the caller's
// session cookie and decodes the uniform {success, message?, data?} envelope.
type Client struct {
	BaseURL    string
	HTTP       resilience.HTTPClient
	CookieName string
	Logger     zerolog.Logger

	// RetryMax applies to idempotent reads only. Prepare and confirm calls
	// are always single-shot: business failures must never be retried, and a
	// transport failure on confirm is surfaced to the user instead of being
	// replayed.
	RetryMax int
}

// NewClient constructs an upstream client with an instrumented transport.
func NewClient(baseURL, cookieName string, timeout time.Duration, breaker *resilience.Breaker, logger zerolog.Logger) *Client {
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Client{
		BaseURL:    baseURL,
		CookieName: cookieName,
		HTTP: resilience.HTTPClient{
			Client:  httpClient,
			Breaker: breaker,
		},
		Logger:   logger,
		RetryMax: 1,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PreparedPayment is the transaction intent issued by the backend for a
// balance top-up attempt.
type PreparedPayment struct {
	OrderID     string `json:"orderId"`
	CustomerKey string `json:"customerKey"`
	Amount      int64  `json:"amount"`
	OrderName   string `json:"orderName"`
}

// PreparedBilling is the intent issued for a membership subscription
// (billing-auth) attempt.
type PreparedBilling struct {
	CustomerKey      string `json:"customerKey"`
	MembershipItemID string `json:"membershipItemId"`
	ItemName         string `json:"itemName"`
	Amount           int64  `json:"amount"`
}

// TokenGrant describes credited platform tokens in a confirm response.
type TokenGrant struct {
	Symbol string `json:"symbol"`
	Amount int64  `json:"amount"`
}

// PaymentResult is the backend's answer to a top-up confirm call.
type PaymentResult struct {
	OrderID string      `json:"orderId"`
	Amount  int64       `json:"amount"`
	Token   *TokenGrant `json:"token,omitempty"`
}

// Subscription describes an active membership subscription.
type Subscription struct {
	MembershipItemID string    `json:"membershipItemId"`
	ItemName         string    `json:"itemName"`
	Amount           int64     `json:"amount"`
	StartedAt        time.Time `json:"startedAt"`
	NextBillingAt    time.Time `json:"nextBillingAt"`
}

// BillingResult is the backend's answer to a subscription confirm call.
type BillingResult struct {
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Session is the authenticated user's profile and entitlement snapshot.
type Session struct {
	UserID        string         `json:"userId"`
	Handle        string         `json:"handle"`
	Nickname      string         `json:"nickname"`
	TokenBalance  int64          `json:"tokenBalance"`
	TokenSymbol   string         `json:"tokenSymbol"`
	Subscriptions []Subscription `json:"subscriptions"`
	FetchedAt     time.Time      `json:"fetchedAt"`
}

// HistoryEntry is a single row of the payment history listing.
type HistoryEntry struct {
	OrderID   string    `json:"orderId"`
	Purpose   string    `json:"purpose"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// PreparePayment asks the backend to open a top-up transaction intent.
func (c *Client) PreparePayment(ctx context.Context, amount int64, productID string) (PreparedPayment, error) {
	var out PreparedPayment
	err := c.call(ctx, http.MethodPost, "/api/payments/prepare", map[string]any{
		"amount":    amount,
		"productId": productID,
	}, 1, &out)
	return out, err
}

// ConfirmPayment finalises a top-up transaction. Single-shot: never retried.
func (c *Client) ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount int64) (PaymentResult, error) {
	var out PaymentResult
	err := c.call(ctx, http.MethodPost, "/api/payments/confirm", map[string]any{
		"paymentKey": paymentKey,
		"orderId":    orderID,
		"amount":     amount,
	}, 1, &out)
	return out, err
}

// PrepareBilling asks the backend to open a subscription (billing-auth) intent.
func (c *Client) PrepareBilling(ctx context.Context, membershipItemID string) (PreparedBilling, error) {
	var out PreparedBilling
	err := c.call(ctx, http.MethodPost, "/api/billing/prepare", map[string]any{
		"membershipItemId": membershipItemID,
	}, 1, &out)
	return out, err
}

// ConfirmBilling finalises a subscription registration. Single-shot.
func (c *Client) ConfirmBilling(ctx context.Context, authKey, customerKey, membershipItemID string) (BillingResult, error) {
	var out BillingResult
	err := c.call(ctx, http.MethodPost, "/api/billing/confirm", map[string]any{
		"authKey":          authKey,
		"customerKey":      customerKey,
		"membershipItemId": membershipItemID,
	}, 1, &out)
	return out, err
}

// Me fetches the current session snapshot. Idempotent, retried on transport
// failure.
func (c *Client) Me(ctx context.Context) (Session, error) {
	var out Session
	err := c.call(ctx, http.MethodGet, "/api/users/me", nil, c.retryBudget(), &out)
	if err == nil {
		out.FetchedAt = time.Now()
	}
	return out, err
}

// PaymentHistory lists the caller's past transactions. Idempotent.
func (c *Client) PaymentHistory(ctx context.Context, page, limit int) ([]HistoryEntry, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/payments/history"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out []HistoryEntry
	err := c.call(ctx, http.MethodGet, path, nil, c.retryBudget(), &out)
	return out, err
}

func (c *Client) retryBudget() int {
	if c.RetryMax < 1 {
		return 1
	}
	return c.RetryMax
}

func (c *Client) call(ctx context.Context, method, path string, payload any, attempts int, out any) error {
	start := time.Now()
	result := "error"
	defer func() {
		if obs.UpstreamRequestDuration != nil {
			obs.UpstreamRequestDuration.WithLabelValues(method+" "+path, result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("upstream: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if cookie, ok := common.SessionCookie(ctx); ok && cookie != "" {
		req.AddCookie(&http.Cookie{Name: c.CookieName, Value: cookie})
	}

	resp, err := c.HTTP.Do(ctx, req, attempts)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error(), wrapped: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error(), wrapped: err}
	}

	var env envelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
		// Non-2xx without a structured body counts as a transport error.
		return &Error{
			Kind:    KindTransport,
			Message: fmt.Sprintf("upstream: %s %s: status %d", method, path, resp.StatusCode),
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		result = "unauthorized"
		return &Error{Kind: KindUnauthorized, Code: env.Code, Message: env.Message}
	}
	if !env.Success {
		result = "rejected"
		return &Error{Kind: KindBusiness, Code: env.Code, Message: env.Message}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{
			Kind:    KindTransport,
			Message: fmt.Sprintf("upstream: %s %s: status %d", method, path, resp.StatusCode),
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Kind: KindTransport, Message: fmt.Sprintf("upstream: decode data: %v", err), wrapped: err}
		}
	}
	result = "success"
	return nil
}
