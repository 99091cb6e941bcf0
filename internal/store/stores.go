// Package store defines the persistence interfaces and domain records for
// the hub: accounts with point balances, agents, conversations, channel
// credentials and payments. Implementations live in store/pg.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AccountStore mutates point balances. All balance mutations are single
// atomic increments at the store level (never read-modify-write in
// application code) and each applied mutation writes one LedgerEntry.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*AccountData, error)

	// Balance returns the current balance, or ErrNotFound when the
	// account has no ledger row yet.
	Balance(ctx context.Context, accountID string) (int64, error)

	// ApplyDelta atomically adds delta to the balance and records a
	// ledger entry. When opID is non-empty and an entry with that opID
	// already exists, nothing is applied and the current balance is
	// returned with applied=false. Returns ErrNotFound when the account
	// has no row.
	ApplyDelta(ctx context.Context, accountID string, delta int64, reason, opID string) (balance int64, applied bool, err error)

	// Provision creates the account row with the given starting balance
	// if it does not exist. Concurrent calls are safe: exactly one row
	// results and the settled balance is returned either way.
	Provision(ctx context.Context, accountID, email string, startingBalance int64) (int64, error)

	// ProvisionWithDelta creates the account row with startingBalance
	// plus delta, or applies delta to the existing row if another call
	// won the insert race. One ledger entry records the delta.
	ProvisionWithDelta(ctx context.Context, accountID, email string, startingBalance, delta int64, reason, opID string) (int64, error)

	// Entries lists the most recent ledger entries for an account.
	Entries(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)
}

// AgentStore is the read-mostly agent directory.
type AgentStore interface {
	Get(ctx context.Context, agentID string) (*AgentData, error)
	List(ctx context.Context, mainCategory string) ([]AgentData, error)

	// BumpUsage increments the agent's message counter, and the distinct
	// user counter when firstContact is set.
	BumpUsage(ctx context.Context, agentID string, firstContact bool) error
}

// ConversationStore creates threads and appends messages. Messages are
// append-only and ordered by creation time.
type ConversationStore interface {
	// Ensure returns existing unchanged when non-nil (the caller's id is
	// trusted), otherwise creates a new conversation. firstContact is set
	// when the created conversation is the first between the pair.
	Ensure(ctx context.Context, accountID, agentID string, existing uuid.UUID) (id uuid.UUID, firstContact bool, err error)

	// LatestFor returns the most recent conversation id for the pair,
	// or ErrNotFound.
	LatestFor(ctx context.Context, accountID, agentID string) (uuid.UUID, error)

	AppendMessage(ctx context.Context, conversationID uuid.UUID, accountID, content, role string) (uuid.UUID, error)

	// History lists the last limit messages of a conversation in
	// chronological order.
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]MessageData, error)
}

// ChannelConfigStore holds per-(agent, channel type) credentials.
type ChannelConfigStore interface {
	Get(ctx context.Context, agentID, channelType string) (*ChannelConfigData, error)
	Upsert(ctx context.Context, cfg *ChannelConfigData) error
}

// PaymentStore records checkout attempts and their settlement.
type PaymentStore interface {
	Create(ctx context.Context, p *PaymentData) error

	// Settle marks the payment for transactionID completed. settled is
	// false when the row was already completed (webhook redelivery).
	// Returns ErrNotFound for an unknown transaction id.
	Settle(ctx context.Context, transactionID string) (p *PaymentData, settled bool, err error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Accounts       AccountStore
	Agents         AgentStore
	Conversations  ConversationStore
	ChannelConfigs ChannelConfigStore
	Payments       PaymentStore
}
