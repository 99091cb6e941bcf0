package pg

import (
	"database/sql"

	"github.com/aifriendshub/agenthub/internal/store"
)

// NewPGStores creates all stores backed by the given Postgres pool.
func NewPGStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Accounts:       NewPGAccountStore(db),
		Agents:         NewPGAgentStore(db),
		Conversations:  NewPGConversationStore(db),
		ChannelConfigs: NewPGChannelConfigStore(db),
		Payments:       NewPGPaymentStore(db),
	}
}
