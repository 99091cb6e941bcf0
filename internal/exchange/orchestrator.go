// Package exchange runs the paid message flow: debit the sender, generate
// the agent's reply, persist the thread and credit the agent owner, with
// refund compensation when generation fails after the debit.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aifriendshub/agenthub/internal/ledger"
	"github.com/aifriendshub/agenthub/internal/providers"
	"github.com/aifriendshub/agenthub/internal/store"
)

// Pricing holds the flat point amounts moved per exchange.
type Pricing struct {
	MessageCost int64
	OwnerCredit int64
}

// Orchestrator coordinates the ledger, the provider and the stores for a
// single message exchange.
type Orchestrator struct {
	ledger   *ledger.Service
	provider providers.Provider
	agents   store.AgentStore
	convs    store.ConversationStore

	pricing      Pricing
	historyLimit int
	tracer       trace.Tracer
}

// New creates an orchestrator. historyLimit caps the number of prior
// messages replayed to the provider when resuming a conversation.
func New(lg *ledger.Service, p providers.Provider, agents store.AgentStore, convs store.ConversationStore, pricing Pricing, historyLimit int) *Orchestrator {
	return &Orchestrator{
		ledger:       lg,
		provider:     p,
		agents:       agents,
		convs:        convs,
		pricing:      pricing,
		historyLimit: historyLimit,
		tracer:       otel.Tracer("agenthub/exchange"),
	}
}

// Request is one inbound message from an account to an agent.
type Request struct {
	AccountID      string
	AgentID        string
	Content        string
	ConversationID uuid.UUID // uuid.Nil starts a new conversation
	RequestID      string    // optional idempotency key for the ledger ops
}

// Result is the outcome of a successful exchange.
type Result struct {
	Reply          string
	ConversationID uuid.UUID
	Remaining      int64 // sender balance after the debit
}

// Exchange runs the full paid flow. Point movements in order: debit the
// sender by MessageCost, and after a successful generation credit the
// agent owner by OwnerCredit. A generation failure after the debit
// triggers a refund; persistence and owner-credit failures after a
// successful generation are logged but do not fail the exchange.
func (o *Orchestrator) Exchange(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "exchange",
		trace.WithAttributes(
			attribute.String("agent.id", req.AgentID),
			attribute.Bool("conversation.resumed", req.ConversationID != uuid.Nil),
		))
	defer span.End()

	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	if req.AccountID == "" || req.AgentID == "" {
		return nil, fmt.Errorf("%w: account and agent ids are required", ErrEmptyContent)
	}

	// Precondition read. The debit itself is unconditional, so two racing
	// requests can both pass this check and drive the balance negative;
	// that window is accepted.
	balance, err := o.ledger.Balance(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if balance < o.pricing.MessageCost {
		return nil, ErrInsufficientFunds
	}

	remaining, err := o.ledger.ApplyDelta(ctx, req.AccountID, -o.pricing.MessageCost,
		"Message to agent "+req.AgentID, opID(req.RequestID, "debit"))
	if err != nil {
		return nil, fmt.Errorf("debit: %w", err)
	}
	span.AddEvent("debited")

	agent, err := o.agents.Get(ctx, req.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, o.refund(ctx, req, ErrAgentNotFound)
		}
		return nil, o.refund(ctx, req, fmt.Errorf("load agent: %w", err))
	}

	reply, err := o.generate(ctx, agent, req)
	if err != nil {
		return nil, o.refund(ctx, req, &DownstreamError{Err: err})
	}
	span.AddEvent("generated")

	convID, firstContact := o.persist(ctx, agent, req, reply)
	o.creditOwner(ctx, agent, req, firstContact)

	return &Result{Reply: reply, ConversationID: convID, Remaining: remaining}, nil
}

// Converse generates and persists a reply without touching the ledger.
// Channel bridges use it: their fee accounting happens at the bridge.
func (o *Orchestrator) Converse(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "converse",
		trace.WithAttributes(attribute.String("agent.id", req.AgentID)))
	defer span.End()

	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	agent, err := o.agents.Get(ctx, req.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}

	reply, err := o.generate(ctx, agent, req)
	if err != nil {
		return nil, &DownstreamError{Err: err}
	}

	convID, firstContact := o.persist(ctx, agent, req, reply)
	if err := o.agents.BumpUsage(ctx, agent.AgentID, firstContact); err != nil {
		slog.Warn("usage counter update failed", "agent", agent.AgentID, "error", err)
	}

	return &Result{Reply: reply, ConversationID: convID}, nil
}

// generate builds the prompt (persona plus history when resuming) and
// calls the provider. An empty reply counts as a failure.
func (o *Orchestrator) generate(ctx context.Context, agent *store.AgentData, req Request) (string, error) {
	messages := []providers.Message{{Role: "system", Content: BuildSystemPrompt(agent)}}

	if req.ConversationID != uuid.Nil {
		history, err := o.convs.History(ctx, req.ConversationID, o.historyLimit)
		if err != nil {
			slog.Warn("history load failed, continuing without it",
				"conversation", req.ConversationID, "error", err)
		}
		for _, m := range history {
			messages = append(messages, providers.Message{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, providers.Message{Role: store.RoleUser, Content: req.Content})

	resp, err := o.provider.Chat(ctx, providers.ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("provider returned an empty reply")
	}
	return resp.Content, nil
}

// persist stores both sides of the exchange. Failures here never abort
// the flow: the sender has paid and holds a reply, so losing the audit
// copy is preferable to failing the request.
func (o *Orchestrator) persist(ctx context.Context, agent *store.AgentData, req Request, reply string) (uuid.UUID, bool) {
	convID, firstContact, err := o.convs.Ensure(ctx, req.AccountID, agent.AgentID, req.ConversationID)
	if err != nil {
		slog.Warn("conversation create failed, reply not persisted",
			"account", req.AccountID, "agent", agent.AgentID, "error", err)
		return uuid.Nil, false
	}
	if _, err := o.convs.AppendMessage(ctx, convID, req.AccountID, req.Content, store.RoleUser); err != nil {
		slog.Warn("user message persist failed", "conversation", convID, "error", err)
	}
	if _, err := o.convs.AppendMessage(ctx, convID, req.AccountID, reply, store.RoleAssistant); err != nil {
		slog.Warn("assistant message persist failed", "conversation", convID, "error", err)
	}
	return convID, firstContact
}

// creditOwner pays the agent owner and bumps usage counters. Both are
// best-effort: the sender's exchange already succeeded.
func (o *Orchestrator) creditOwner(ctx context.Context, agent *store.AgentData, req Request, firstContact bool) {
	if o.pricing.OwnerCredit > 0 && agent.OwnerID != "" {
		_, err := o.ledger.ApplyDelta(ctx, agent.OwnerID, o.pricing.OwnerCredit,
			"Message received by agent "+agent.AgentID, opID(req.RequestID, "credit"))
		if err != nil {
			slog.Warn("owner credit failed", "owner", agent.OwnerID, "agent", agent.AgentID, "error", err)
		}
	}
	if err := o.agents.BumpUsage(ctx, agent.AgentID, firstContact); err != nil {
		slog.Warn("usage counter update failed", "agent", agent.AgentID, "error", err)
	}
}

// refund compensates the debit after a failure. When the refund itself
// fails the returned error escalates to a CompensationError so the
// handler can surface it with appropriate severity.
func (o *Orchestrator) refund(ctx context.Context, req Request, cause error) error {
	_, err := o.ledger.ApplyDelta(ctx, req.AccountID, o.pricing.MessageCost,
		"Refund for failed message to agent "+req.AgentID, opID(req.RequestID, "refund"))
	if err != nil {
		slog.Error("refund failed after debit, ledger is short",
			"account", req.AccountID, "amount", o.pricing.MessageCost,
			"cause", cause, "error", err)
		return &CompensationError{Cause: cause, RefundErr: err}
	}
	return cause
}

// opID derives a per-step idempotency key from the caller's request id.
// Empty when the caller supplied none, which disables deduplication.
func opID(requestID, step string) string {
	if requestID == "" {
		return ""
	}
	return requestID + ":" + step
}
