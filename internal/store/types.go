package store

import (
	"time"

	"github.com/google/uuid"
)

// GenNewID returns a new time-ordered UUID for database rows.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// AccountData is a registered user with a point balance.
// Balance is only ever mutated through AccountStore.ApplyDelta /
// ProvisionWithDelta — feature code never writes it directly.
type AccountData struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is one immutable audit record of a balance change.
// The account balance is the running sum of its entries by construction.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	AccountID string    `json:"account_id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	OpID      string    `json:"op_id,omitempty"` // optional idempotency key; unique when set
	CreatedAt time.Time `json:"created_at"`
}

// AgentData is a configured chatbot persona owned by an account.
type AgentData struct {
	AgentID      string `json:"agent_id"`
	OwnerID      string `json:"owner_id"`
	AgentName    string `json:"agent_name"`
	Personality  string `json:"personality"`
	Instructions string `json:"instructions"`
	Prohibition  string `json:"prohibition"`
	MainCategory string `json:"main_category,omitempty"`
	SubCategory  string `json:"sub_category,omitempty"`
	LogoURL      string `json:"logo_url,omitempty"`

	MessageCount      int64 `json:"message_count"`
	DistinctUserCount int64 `json:"distinct_user_count"`

	CreatedAt time.Time `json:"created_at"`
}

// ConversationData is a message thread between an account and an agent.
type ConversationData struct {
	ID        uuid.UUID `json:"id"`
	AccountID string    `json:"account_id"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message roles. Messages are append-only; there is no edit or delete.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageData is one side of an exchange within a conversation.
type MessageData struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	AccountID      string    `json:"account_id"`
	Content        string    `json:"content"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChannelTypeLine is the only channel type currently supported.
const ChannelTypeLine = "LINE"

// ChannelConfigData holds per-(agent, channel) credentials: the shared
// secret used for inbound signature verification and the access token
// used to deliver outbound replies.
type ChannelConfigData struct {
	AgentID     string    `json:"agent_id"`
	ChannelType string    `json:"channel_type"`
	SecretToken string    `json:"-"`
	AccessToken string    `json:"-"`
	WebhookURL  string    `json:"webhook_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

// PaymentData records one checkout attempt. TransactionID is the payment
// provider's session/intent identifier and is unique.
type PaymentData struct {
	ID            uuid.UUID `json:"id"`
	AccountID     string    `json:"account_id"`
	Amount        int64     `json:"amount"` // smallest currency unit
	Currency      string    `json:"currency"`
	PointsAdded   int64     `json:"points_added"`
	PaymentMethod string    `json:"payment_method"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
