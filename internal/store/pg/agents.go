package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aifriendshub/agenthub/internal/store"
)

// PGAgentStore implements store.AgentStore backed by Postgres.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

const agentSelectCols = `agent_id, owner_id, agent_name,
	COALESCE(personality, ''), COALESCE(instructions, ''), COALESCE(prohibition, ''),
	COALESCE(main_category, ''), COALESCE(sub_category, ''), COALESCE(logo_url, ''),
	message_count, distinct_user_count, created_at`

func (s *PGAgentStore) Get(ctx context.Context, agentID string) (*store.AgentData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE agent_id = $1`, agentID)
	return scanAgent(row)
}

func (s *PGAgentStore) List(ctx context.Context, mainCategory string) ([]store.AgentData, error) {
	var rows *sql.Rows
	var err error
	if mainCategory != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+agentSelectCols+` FROM agents WHERE main_category = $1 ORDER BY created_at DESC`,
			mainCategory)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+agentSelectCols+` FROM agents ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []store.AgentData
	for rows.Next() {
		var a store.AgentData
		if err := rows.Scan(&a.AgentID, &a.OwnerID, &a.AgentName,
			&a.Personality, &a.Instructions, &a.Prohibition,
			&a.MainCategory, &a.SubCategory, &a.LogoURL,
			&a.MessageCount, &a.DistinctUserCount, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *PGAgentStore) BumpUsage(ctx context.Context, agentID string, firstContact bool) error {
	distinct := int64(0)
	if firstContact {
		distinct = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET message_count = message_count + 1,
		        distinct_user_count = distinct_user_count + $2
		 WHERE agent_id = $1`,
		agentID, distinct,
	)
	if err != nil {
		return fmt.Errorf("bump agent usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanAgent(row *sql.Row) (*store.AgentData, error) {
	var a store.AgentData
	err := row.Scan(&a.AgentID, &a.OwnerID, &a.AgentName,
		&a.Personality, &a.Instructions, &a.Prohibition,
		&a.MainCategory, &a.SubCategory, &a.LogoURL,
		&a.MessageCount, &a.DistinctUserCount, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}
