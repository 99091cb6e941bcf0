package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeClient calls the Stripe REST API with form-encoded requests.
type StripeClient struct {
	apiBase   string
	secretKey string
	client    *http.Client
}

// NewStripeClient creates a client. apiBase defaults to production.
func NewStripeClient(apiBase, secretKey string) *StripeClient {
	if apiBase == "" {
		apiBase = "https://api.stripe.com"
	}
	return &StripeClient{
		apiBase:   strings.TrimRight(apiBase, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: 20 * time.Second},
	}
}

// CheckoutSession is the subset of the Stripe session object the hub uses.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutParams describes one points-purchase checkout.
type CheckoutParams struct {
	AccountID   string
	Points      int64
	Amount      int64 // smallest currency unit
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
}

// CreateCheckoutSession creates a promptpay checkout session for a points
// purchase. The account and point amount ride along as metadata so the
// settlement webhook can credit the right ledger.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[]", "promptpay")
	form.Set("line_items[0][price_data][currency]", p.Currency)
	form.Set("line_items[0][price_data][product_data][name]", p.ProductName)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.Amount, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[userId]", p.AccountID)
	form.Set("metadata[pointsToAdd]", strconv.FormatInt(p.Points, 10))
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("stripe: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe: checkout session: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("stripe: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stripe: status %d: %s", resp.StatusCode, raw)
	}

	var session CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("stripe: parse session: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("stripe: session response missing id")
	}
	return &session, nil
}
