package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/store"
)

// balanceResponse reports a balance under both field names. remain_points
// is the legacy alias older clients still read; remaining_points is the
// canonical field.
type balanceResponse struct {
	Success         bool  `json:"success"`
	RemainingPoints int64 `json:"remaining_points"`
	RemainPoints    int64 `json:"remain_points"`
}

func (a *API) handleUpdatePoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		Delta     int64  `json:"delta"`
		Reason    string `json:"reason,omitempty"`
		OpID      string `json:"op_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" || req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "account_id and a non-zero delta are required")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "Manual adjustment"
	}

	balance, err := a.ledger.ApplyDelta(r.Context(), req.AccountID, req.Delta, reason, req.OpID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		slog.Error("points update failed", "account", req.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "points update failed")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Success:         true,
		RemainingPoints: balance,
		RemainPoints:    balance,
	})
}

func (a *API) handleEntries(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := a.ledger.Entries(r.Context(), accountID, limit)
	if err != nil {
		slog.Error("ledger entries read failed", "account", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}
	if entries == nil {
		entries = []store.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	balance, err := a.ledger.Balance(r.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		slog.Error("balance read failed", "account", req.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "balance read failed")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Success:         true,
		RemainingPoints: balance,
		RemainPoints:    balance,
	})
}
