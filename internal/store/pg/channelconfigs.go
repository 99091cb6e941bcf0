package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aifriendshub/agenthub/internal/store"
)

// PGChannelConfigStore implements store.ChannelConfigStore backed by Postgres.
// Credentials are stored as typed columns, one row per (agent, channel type).
type PGChannelConfigStore struct {
	db *sql.DB
}

func NewPGChannelConfigStore(db *sql.DB) *PGChannelConfigStore {
	return &PGChannelConfigStore{db: db}
}

func (s *PGChannelConfigStore) Get(ctx context.Context, agentID, channelType string) (*store.ChannelConfigData, error) {
	var c store.ChannelConfigData
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, channel_type, secret_token, access_token, webhook_url, created_at, updated_at
		 FROM channel_configs WHERE agent_id = $1 AND channel_type = $2`,
		agentID, channelType,
	).Scan(&c.AgentID, &c.ChannelType, &c.SecretToken, &c.AccessToken, &c.WebhookURL, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel config: %w", err)
	}
	return &c, nil
}

func (s *PGChannelConfigStore) Upsert(ctx context.Context, cfg *store.ChannelConfigData) error {
	now := time.Now()
	cfg.UpdatedAt = now
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_configs (agent_id, channel_type, secret_token, access_token, webhook_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agent_id, channel_type) DO UPDATE SET
		   secret_token = EXCLUDED.secret_token,
		   access_token = EXCLUDED.access_token,
		   webhook_url = EXCLUDED.webhook_url,
		   updated_at = EXCLUDED.updated_at`,
		cfg.AgentID, cfg.ChannelType, cfg.SecretToken, cfg.AccessToken, cfg.WebhookURL, cfg.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert channel config: %w", err)
	}
	return nil
}
