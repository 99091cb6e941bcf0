// Package linebridge receives LINE webhook deliveries, verifies them
// against the agent's channel secret, charges the agent owner the
// processing fee and replies through the Messaging API.
package linebridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/aifriendshub/agenthub/internal/exchange"
	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/store"
)

const maxWebhookBody = 1 << 20

// Conversing generates an agent reply without ledger movements. Satisfied
// by *exchange.Orchestrator.
type Conversing interface {
	Converse(ctx context.Context, req exchange.Request) (*exchange.Result, error)
}

// Replier delivers an outbound reply. Satisfied by *ReplyClient.
type Replier interface {
	Reply(ctx context.Context, accessToken, replyToken, text string) error
}

// Options tunes the webhook handler.
type Options struct {
	// ChannelFee is charged to the agent owner once per webhook delivery,
	// regardless of how many text events the batch carries.
	ChannelFee int64

	// FeeAfterVerify charges the fee only after the signature checks out.
	// When false the fee is charged first, so forged requests cost the
	// owner points too.
	FeeAfterVerify bool

	// RateLimitRPM caps webhook deliveries per agent per minute. 0 disables.
	RateLimitRPM int
}

// Handler serves POST /line-webhook/{agentID}.
type Handler struct {
	orch    Conversing
	ledger  *ledger.Service
	agents  store.AgentStore
	configs store.ChannelConfigStore
	convs   store.ConversationStore
	replier Replier

	opts    Options
	limiter *keyLimiter
}

// NewHandler wires the webhook bridge.
func NewHandler(orch Conversing, lg *ledger.Service, agents store.AgentStore, configs store.ChannelConfigStore, convs store.ConversationStore, replier Replier, opts Options) *Handler {
	return &Handler{
		orch:    orch,
		ledger:  lg,
		agents:  agents,
		configs: configs,
		convs:   convs,
		replier: replier,
		opts:    opts,
		limiter: newKeyLimiter(opts.RateLimitRPM),
	}
}

// Register mounts the webhook route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /line-webhook/{agentID}", h.handleWebhook)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := r.PathValue("agentID")

	if !h.limiter.Allow(agentID) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	agent, err := h.agents.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "agent not found", http.StatusNotFound)
			return
		}
		slog.Error("agent lookup failed", "agent", agentID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	cfg, err := h.configs.Get(ctx, agentID, store.ChannelTypeLine)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "channel not configured", http.StatusNotFound)
			return
		}
		slog.Error("channel config lookup failed", "agent", agentID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The raw body is needed byte-for-byte for signature verification.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if !h.opts.FeeAfterVerify {
		if !h.chargeFee(ctx, w, agent) {
			return
		}
	}

	if !ValidSignature(cfg.SecretToken, body, r.Header.Get("X-Line-Signature")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if h.opts.FeeAfterVerify {
		if !h.chargeFee(ctx, w, agent) {
			return
		}
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, event := range envelope.Events {
		if !event.textEvent() {
			continue
		}
		h.processEvent(ctx, agent, cfg, event)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// chargeFee debits the agent owner the per-message processing fee. A false
// return means the response has already been written.
func (h *Handler) chargeFee(ctx context.Context, w http.ResponseWriter, agent *store.AgentData) bool {
	if h.opts.ChannelFee <= 0 {
		return true
	}
	balance, err := h.ledger.Balance(ctx, agent.OwnerID)
	if err != nil {
		slog.Error("owner balance read failed", "owner", agent.OwnerID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}
	if balance < h.opts.ChannelFee {
		http.Error(w, "insufficient points", http.StatusPaymentRequired)
		return false
	}
	if _, err := h.ledger.ApplyDelta(ctx, agent.OwnerID, -h.opts.ChannelFee,
		"LINE message processing fee", ""); err != nil {
		slog.Error("fee debit failed", "owner", agent.OwnerID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}
	return true
}

// processEvent runs one text event end to end. Failures are logged and
// skipped so one bad event cannot block the rest of the batch.
func (h *Handler) processEvent(ctx context.Context, agent *store.AgentData, cfg *store.ChannelConfigData, event Event) {
	userID := event.Source.UserID
	if userID == "" {
		return
	}

	// Continue the LINE user's existing thread with this agent when one
	// exists.
	convID := uuid.Nil
	if id, err := h.convs.LatestFor(ctx, userID, agent.AgentID); err == nil {
		convID = id
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("conversation lookup failed", "agent", agent.AgentID, "error", err)
	}

	result, err := h.orch.Converse(ctx, exchange.Request{
		AccountID:      userID,
		AgentID:        agent.AgentID,
		Content:        event.Message.Text,
		ConversationID: convID,
	})
	if err != nil {
		slog.Error("reply generation failed", "agent", agent.AgentID, "error", err)
		return
	}

	if err := h.replier.Reply(ctx, cfg.AccessToken, event.ReplyToken, result.Reply); err != nil {
		slog.Error("reply delivery failed", "agent", agent.AgentID, "error", err)
	}
}
