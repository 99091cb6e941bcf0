package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aifriendshub/agenthub/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

func (s *PGConversationStore) Ensure(ctx context.Context, accountID, agentID string, existing uuid.UUID) (uuid.UUID, bool, error) {
	if existing != uuid.Nil {
		// Caller-supplied ids are trusted; ownership is enforced at the
		// data layer, not here.
		return existing, false, nil
	}

	id := store.GenNewID()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, account_id, agent_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		id, accountID, agentID, time.Now(),
	); err != nil {
		return uuid.Nil, false, fmt.Errorf("create conversation: %w", err)
	}

	// First contact when no other conversation exists for the pair.
	var hasPrior bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations
		  WHERE account_id = $1 AND agent_id = $2 AND id <> $3)`,
		accountID, agentID, id,
	).Scan(&hasPrior); err != nil {
		// The conversation exists; first-contact detection is best effort.
		return id, false, nil
	}
	return id, !hasPrior, nil
}

func (s *PGConversationStore) LatestFor(ctx context.Context, accountID, agentID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations
		 WHERE account_id = $1 AND agent_id = $2
		 ORDER BY created_at DESC LIMIT 1`,
		accountID, agentID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, store.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("find conversation: %w", err)
	}
	return id, nil
}

func (s *PGConversationStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, accountID, content, role string) (uuid.UUID, error) {
	id := store.GenNewID()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, account_id, content, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, conversationID, accountID, content, role, time.Now(),
	); err != nil {
		return uuid.Nil, fmt.Errorf("append message: %w", err)
	}
	return id, nil
}

func (s *PGConversationStore) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.MessageData, error) {
	if limit <= 0 {
		limit = 50
	}
	// Fetch the newest rows, then return them oldest first.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, account_id, content, role, created_at
		 FROM (SELECT id, conversation_id, account_id, content, role, created_at
		       FROM messages WHERE conversation_id = $1
		       ORDER BY created_at DESC LIMIT $2) recent
		 ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var result []store.MessageData
	for rows.Next() {
		var m store.MessageData
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.AccountID, &m.Content, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
