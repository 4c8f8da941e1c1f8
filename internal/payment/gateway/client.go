// Package gateway is the low-level HTTP client for the fiat payment
// gateway, built the same way the teacher's internal/exchange package
// builds one HTTP client per upstream price provider: a bearer-auth
// *http.Client, form-encoded POST bodies, typed response structs, wrapped
// errors, zap logging on failure.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CShear/regen-compute-credits/pkg/logger"
	"go.uber.org/zap"
)

// Config holds the gateway connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a thin wrapper over the gateway's REST surface (spec §6):
// payment intents, customers, subscriptions, invoices.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a gateway client. Like internal/exchange.NewProvider,
// construction never makes a network call — failures surface on first use.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PaymentIntent mirrors the gateway's payment_intents resource.
type PaymentIntent struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"` // minor units (cents)
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Customer mirrors the gateway's customers resource.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Subscription mirrors the gateway's subscriptions resource.
type Subscription struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer"`
	Status     string `json:"status"`
}

// Invoice mirrors the gateway's invoices resource.
type Invoice struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer"`
	AmountPaid  int64  `json:"amount_paid"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	PriceID     string `json:"price_id"`
	PaidAt      int64  `json:"paid_at"` // unix seconds
	PeriodStart int64  `json:"period_start"`
	PeriodEnd   int64  `json:"period_end"`
}

// InvoicePage is one page of ListInvoices results.
type InvoicePage struct {
	Data       []Invoice `json:"data"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// doForm issues a bearer-authed request with the given method (a
// form-encoded body when form is non-nil, no body when it is nil) and
// decodes the JSON response into target.
func (c *Client) doForm(ctx context.Context, method, path string, form url.Values, target any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gateway: failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("gateway request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("gateway: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gateway: failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		logger.Error("gateway returned an error status",
			zap.String("path", path), zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("gateway: failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, target any) error {
	return c.doForm(ctx, http.MethodGet, path, nil, target)
}

// StatusError carries the gateway's HTTP status so callers can
// distinguish fatal 4xx responses (e.g. "card declined") from retryable
// 5xx/network failures.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient (5xx) rather than a
// fatal rejection (4xx) — spec §4.2's authorize/capture/refund error
// handling depends on this distinction.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// CreatePaymentIntent creates and confirms a manual-capture payment intent
// against a stored payment method (spec §6's /payment_intents).
func (c *Client) CreatePaymentIntent(ctx context.Context, customerID, paymentMethodID string, amountCents int64, currency string, metadata map[string]string) (*PaymentIntent, error) {
	form := url.Values{
		"amount":         {fmt.Sprintf("%d", amountCents)},
		"currency":       {currency},
		"customer":       {customerID},
		"payment_method": {paymentMethodID},
		"capture_method": {"manual"},
		"confirm":        {"true"},
	}
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	var intent PaymentIntent
	if err := c.doForm(ctx, http.MethodPost, "/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CapturePaymentIntent captures a previously authorized intent.
func (c *Client) CapturePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := fmt.Sprintf("/payment_intents/%s/capture", intentID)
	if err := c.doForm(ctx, http.MethodPost, path, url.Values{}, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CancelPaymentIntent releases a hold. The gateway returns a 400 with a
// "payment_intent_unexpected_state" style message when the intent is
// already canceled; when the error body contains "already", this method
// returns a canceled PaymentIntent instead of an error (spec §4.2's refund
// idempotency).
func (c *Client) CancelPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := fmt.Sprintf("/payment_intents/%s/cancel", intentID)
	if err := c.doForm(ctx, http.MethodPost, path, url.Values{}, &intent); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && strings.Contains(statusErr.Body, "already") {
			return &PaymentIntent{ID: intentID, Status: "canceled"}, nil
		}
		return nil, err
	}
	return &intent, nil
}

// GetOrCreateCustomer looks the customer up by email, creating one if
// absent.
func (c *Client) GetOrCreateCustomer(ctx context.Context, email string) (*Customer, error) {
	var page struct {
		Data []Customer `json:"data"`
	}
	if err := c.get(ctx, "/customers?email="+url.QueryEscape(email), &page); err != nil {
		return nil, err
	}
	if len(page.Data) > 0 {
		return &page.Data[0], nil
	}

	var created Customer
	form := url.Values{"email": {email}}
	if err := c.doForm(ctx, http.MethodPost, "/customers", form, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateSubscription starts a subscription for a customer against a price.
func (c *Client) CreateSubscription(ctx context.Context, customerID, priceID string) (*Subscription, error) {
	var sub Subscription
	form := url.Values{"customer": {customerID}, "price": {priceID}}
	if err := c.doForm(ctx, http.MethodPost, "/subscriptions", form, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns a customer's subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	var page struct {
		Data []Subscription `json:"data"`
	}
	if err := c.get(ctx, "/subscriptions?customer="+url.QueryEscape(customerID), &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// ListInvoices returns one page of a customer's invoices (or all
// customers' when customerID is empty), used by internal/subscription's
// sync job.
func (c *Client) ListInvoices(ctx context.Context, customerID, cursor string, limit int) (*InvoicePage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{"limit": {fmt.Sprintf("%d", limit)}}
	if customerID != "" {
		query.Set("customer", customerID)
	}
	if cursor != "" {
		query.Set("starting_after", cursor)
	}

	var page InvoicePage
	if err := c.get(ctx, "/invoices?"+query.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}
