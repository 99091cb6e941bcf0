package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/aifriendshub/agenthub/internal/exchange"
)

func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID      string `json:"account_id"`
		AgentID        string `json:"agent_id"`
		Content        string `json:"content"`
		ConversationID string `json:"conversation_id,omitempty"`
		RequestID      string `json:"request_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !a.allowAccount(req.AccountID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	convID := uuid.Nil
	if req.ConversationID != "" {
		parsed, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation_id")
			return
		}
		convID = parsed
	}

	result, err := a.orch.Exchange(r.Context(), exchange.Request{
		AccountID:      req.AccountID,
		AgentID:        req.AgentID,
		Content:        req.Content,
		ConversationID: convID,
		RequestID:      req.RequestID,
	})
	if err != nil {
		a.writeExchangeError(w, req.AccountID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"reply":            result.Reply,
		"conversation_id":  result.ConversationID,
		"remaining_points": result.Remaining,
		"remain_points":    result.Remaining,
	})
}

func (a *API) writeExchangeError(w http.ResponseWriter, accountID string, err error) {
	var compErr *exchange.CompensationError
	switch {
	case errors.Is(err, exchange.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, exchange.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient points")
	case errors.Is(err, exchange.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, exchange.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.As(err, &compErr):
		// Ledger is short for this account until reconciled.
		slog.Error("exchange refund failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "message failed and refund is pending")
	default:
		var downstream *exchange.DownstreamError
		if errors.As(err, &downstream) {
			slog.Warn("provider unavailable", "account", accountID, "error", err)
			writeError(w, http.StatusInternalServerError, "agent is temporarily unavailable, points refunded")
			return
		}
		slog.Error("exchange failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "message failed")
	}
}
