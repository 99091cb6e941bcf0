package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/aifriendshub/agenthub/internal/store"
)

func (a *API) handleListAgents(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	agents, err := a.agents.List(r.Context(), category)
	if err != nil {
		slog.Error("agent list failed", "category", category, "error", err)
		writeError(w, http.StatusInternalServerError, "agent list failed")
		return
	}
	if agents == nil {
		agents = []store.AgentData{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}
