package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/aifriendshub/agenthub/internal/store"
)

// reasonStartingBalance tags the ledger entry written when an account row
// is first provisioned.
const reasonStartingBalance = "Starting balance"

// PGAccountStore implements store.AccountStore backed by Postgres.
//
// Balance mutations are single atomic increments (UPDATE ... SET balance =
// balance + delta ... RETURNING) so concurrent requests for the same
// account cannot lose updates. Each applied mutation writes one
// ledger_entries row in the same transaction; a duplicate op_id makes the
// whole transaction roll back, which is what keeps retried compensations
// from double-applying.
type PGAccountStore struct {
	db *sql.DB
}

func NewPGAccountStore(db *sql.DB) *PGAccountStore {
	return &PGAccountStore{db: db}
}

func (s *PGAccountStore) Get(ctx context.Context, accountID string) (*store.AccountData, error) {
	var a store.AccountData
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, balance, created_at FROM accounts WHERE id = $1`, accountID,
	).Scan(&a.ID, &a.Email, &a.Balance, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (s *PGAccountStore) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, accountID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *PGAccountStore) ApplyDelta(ctx context.Context, accountID string, delta int64, reason, opID string) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
		accountID, delta,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, store.ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("apply delta: %w", err)
	}

	if err := insertEntry(ctx, tx, accountID, delta, reason, opID); err != nil {
		if isUniqueViolation(err) {
			// Duplicate op — the rollback undoes the balance update.
			tx.Rollback()
			current, berr := s.Balance(ctx, accountID)
			if berr != nil {
				return 0, false, berr
			}
			return current, false, nil
		}
		return 0, false, fmt.Errorf("record ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit: %w", err)
	}
	return balance, true, nil
}

func (s *PGAccountStore) Provision(ctx context.Context, accountID, email string, startingBalance int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, email, balance, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		accountID, email, startingBalance, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("provision account: %w", err)
	}

	if inserted, _ := res.RowsAffected(); inserted > 0 {
		if err := insertEntry(ctx, tx, accountID, startingBalance, reasonStartingBalance, ""); err != nil {
			return 0, fmt.Errorf("record starting balance: %w", err)
		}
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, accountID,
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read provisioned balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return balance, nil
}

func (s *PGAccountStore) ProvisionWithDelta(ctx context.Context, accountID, email string, startingBalance, delta int64, reason, opID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// xmax = 0 distinguishes a fresh insert from a conflict update.
	var balance int64
	var inserted bool
	err = tx.QueryRowContext(ctx,
		`INSERT INTO accounts (id, email, balance, created_at)
		 VALUES ($1, $2, $3 + $4, $5)
		 ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + $4
		 RETURNING balance, (xmax = 0)`,
		accountID, email, startingBalance, delta, time.Now(),
	).Scan(&balance, &inserted)
	if err != nil {
		return 0, fmt.Errorf("provision with delta: %w", err)
	}

	if inserted {
		if err := insertEntry(ctx, tx, accountID, startingBalance, reasonStartingBalance, ""); err != nil {
			return 0, fmt.Errorf("record starting balance: %w", err)
		}
	}
	if err := insertEntry(ctx, tx, accountID, delta, reason, opID); err != nil {
		if isUniqueViolation(err) {
			tx.Rollback()
			return s.Balance(ctx, accountID)
		}
		return 0, fmt.Errorf("record ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return balance, nil
}

func (s *PGAccountStore) Entries(ctx context.Context, accountID string, limit int) ([]store.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, delta, reason, COALESCE(op_id, ''), created_at
		 FROM ledger_entries WHERE account_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var result []store.LedgerEntry
	for rows.Next() {
		var e store.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason, &e.OpID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// insertEntry writes one append-only ledger row inside tx. opID is stored
// as NULL when empty so the partial unique index only guards keyed ops.
func insertEntry(ctx context.Context, tx *sql.Tx, accountID string, delta int64, reason, opID string) error {
	var op any
	if opID != "" {
		op = opID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, delta, reason, op_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		store.GenNewID(), accountID, delta, reason, op, time.Now(),
	)
	return err
}

// isUniqueViolation reports SQLSTATE 23505 from either driver in use:
// pgx (runtime pool) or lib/pq (migrations).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
