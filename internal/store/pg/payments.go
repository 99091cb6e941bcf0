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

// PGPaymentStore implements store.PaymentStore backed by Postgres.
type PGPaymentStore struct {
	db *sql.DB
}

func NewPGPaymentStore(db *sql.DB) *PGPaymentStore {
	return &PGPaymentStore{db: db}
}

func (s *PGPaymentStore) Create(ctx context.Context, p *store.PaymentData) error {
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = store.PaymentPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, account_id, amount, currency, points_added, payment_method, transaction_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.AccountID, p.Amount, p.Currency, p.PointsAdded, p.PaymentMethod, p.TransactionID, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (s *PGPaymentStore) Settle(ctx context.Context, transactionID string) (*store.PaymentData, bool, error) {
	var p store.PaymentData
	err := s.db.QueryRowContext(ctx,
		`UPDATE payments SET status = $2, updated_at = $3
		 WHERE transaction_id = $1 AND status = $4
		 RETURNING id, account_id, amount, currency, points_added, payment_method, transaction_id, status, created_at, updated_at`,
		transactionID, store.PaymentCompleted, time.Now(), store.PaymentPending,
	).Scan(&p.ID, &p.AccountID, &p.Amount, &p.Currency, &p.PointsAdded, &p.PaymentMethod, &p.TransactionID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return &p, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("settle payment: %w", err)
	}

	// No pending row — either already settled (webhook redelivery) or unknown.
	err = s.db.QueryRowContext(ctx,
		`SELECT id, account_id, amount, currency, points_added, payment_method, transaction_id, status, created_at, updated_at
		 FROM payments WHERE transaction_id = $1`, transactionID,
	).Scan(&p.ID, &p.AccountID, &p.Amount, &p.Currency, &p.PointsAdded, &p.PaymentMethod, &p.TransactionID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, store.ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup payment: %w", err)
	}
	return &p, false, nil
}
