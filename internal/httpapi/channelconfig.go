package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aifriendshub/agenthub/internal/store"
)

func (a *API) handleChannelConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string `json:"agent_id"`
		ChannelType string `json:"channel_type"`
		SecretToken string `json:"secret_token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" || req.SecretToken == "" || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "agent_id, secret_token and access_token are required")
		return
	}
	if req.ChannelType == "" {
		req.ChannelType = store.ChannelTypeLine
	}
	if req.ChannelType != store.ChannelTypeLine {
		writeError(w, http.StatusBadRequest, "unsupported channel type")
		return
	}

	if _, err := a.agents.Get(r.Context(), req.AgentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		slog.Error("agent lookup failed", "agent", req.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "agent lookup failed")
		return
	}

	webhookURL := strings.TrimRight(a.opts.PublicBaseURL, "/") + "/line-webhook/" + req.AgentID
	cfg := &store.ChannelConfigData{
		AgentID:     req.AgentID,
		ChannelType: req.ChannelType,
		SecretToken: req.SecretToken,
		AccessToken: req.AccessToken,
		WebhookURL:  webhookURL,
	}
	if err := a.configs.Upsert(r.Context(), cfg); err != nil {
		slog.Error("channel config save failed", "agent", req.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "channel config save failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"webhook_url": webhookURL,
	})
}
