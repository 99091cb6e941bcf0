package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/payments"
)

func (a *API) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Points    int64  `json:"points"`
		Origin    string `json:"origin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" || req.Points <= 0 || req.Origin == "" {
		writeError(w, http.StatusBadRequest, "account_id, points and origin are required")
		return
	}

	session, err := a.payments.CreateCheckout(r.Context(), req.AccountID, req.Points, req.Origin)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrUnknownPackage):
			writeError(w, http.StatusBadRequest, "unknown points package")
		case errors.Is(err, ledger.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		default:
			slog.Error("checkout creation failed", "account", req.AccountID, "error", err)
			writeError(w, http.StatusInternalServerError, "checkout creation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":  session.ID,
		"url": session.URL,
	})
}

// handleStripeWebhook settles completed checkouts. It reads the raw body
// for signature verification and always returns 200 on processed events
// so the provider stops redelivering.
func (a *API) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	err = a.payments.HandleEvent(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		slog.Error("stripe webhook processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
