// Package payments sells points through Stripe promptpay checkout and
// settles completed sessions into the ledger, exactly once per session.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/store"
)

var (
	// ErrUnknownPackage rejects point amounts that are not for sale.
	ErrUnknownPackage = errors.New("unknown points package")

	// ErrBadSignature rejects webhook deliveries that fail verification.
	ErrBadSignature = errors.New("invalid webhook signature")
)

// pointPackages maps purchasable point amounts to their price in the
// smallest currency unit (satang for THB).
var pointPackages = map[int64]int64{
	100:  10000,
	500:  45000,
	1000: 80000,
}

// Service owns the purchase flow: checkout creation and webhook settlement.
type Service struct {
	stripe   *StripeClient
	ledger   *ledger.Service
	payments store.PaymentStore

	currency      string
	webhookSecret string
}

// NewService wires the payments service.
func NewService(stripe *StripeClient, lg *ledger.Service, payments store.PaymentStore, currency, webhookSecret string) *Service {
	return &Service{
		stripe:        stripe,
		ledger:        lg,
		payments:      payments,
		currency:      currency,
		webhookSecret: webhookSecret,
	}
}

// CreateCheckout starts a checkout session for a points package. origin is
// the frontend base URL the buyer returns to after payment.
func (s *Service) CreateCheckout(ctx context.Context, accountID string, points int64, origin string) (*CheckoutSession, error) {
	amount, ok := pointPackages[points]
	if !ok {
		return nil, ErrUnknownPackage
	}

	// Confirms the account exists (provisioning it when the identity
	// provider knows it) before taking money for it.
	if _, err := s.ledger.Balance(ctx, accountID); err != nil {
		return nil, err
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, CheckoutParams{
		AccountID:   accountID,
		Points:      points,
		Amount:      amount,
		Currency:    s.currency,
		ProductName: fmt.Sprintf("%d points", points),
		SuccessURL:  origin + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   origin + "/payment-cancelled",
	})
	if err != nil {
		return nil, err
	}

	err = s.payments.Create(ctx, &store.PaymentData{
		AccountID:     accountID,
		Amount:        amount,
		Currency:      s.currency,
		PointsAdded:   points,
		PaymentMethod: "promptpay",
		TransactionID: session.ID,
		Status:        store.PaymentPending,
	})
	if err != nil {
		// The session exists at Stripe but is unrecorded; settlement would
		// find no row, so fail the checkout now.
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return session, nil
}

// HandleEvent settles a verified webhook delivery. Redelivered events are
// acknowledged without crediting twice: settlement flips the payment row
// pending -> completed exactly once, and the ledger credit carries the
// session id as its idempotency key.
func (s *Service) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := VerifyStripeSignature(s.webhookSecret, payload, signatureHeader, time.Now()); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parse event: %w", err)
	}

	if event.Type != "checkout.session.completed" {
		slog.Debug("ignoring stripe event", "type", event.Type)
		return nil
	}

	payment, settled, err := s.payments.Settle(ctx, event.Data.Object.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Session from another environment sharing the webhook secret.
			slog.Warn("settlement for unknown session", "session", event.Data.Object.ID)
			return nil
		}
		return fmt.Errorf("settle payment: %w", err)
	}
	if !settled {
		slog.Info("payment already settled, re-issuing credit", "session", payment.TransactionID)
	}

	// Always attempted, even when the row was already completed: a credit
	// that failed after settlement on an earlier delivery gets retried
	// here, and the op id makes an already-applied credit a no-op.
	_, err = s.ledger.ApplyDelta(ctx, payment.AccountID, payment.PointsAdded,
		"Points purchase", "stripe:"+payment.TransactionID)
	if err != nil {
		return fmt.Errorf("credit purchase: %w", err)
	}
	slog.Info("points purchase settled",
		"account", payment.AccountID, "points", payment.PointsAdded, "session", payment.TransactionID)
	return nil
}
