// Package ledger is the points-ledger service: atomic balance mutations
// with an append-only audit trail, plus lazy account provisioning for
// identities known to the auth provider.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aifriendshub/agenthub/internal/identity"
	"github.com/aifriendshub/agenthub/internal/store"
)

// ErrAccountNotFound means neither the ledger nor the identity provider
// knows the account.
var ErrAccountNotFound = errors.New("account not found")

// Service applies signed point deltas to account balances. It does not
// itself reject negative resulting balances — callers enforce their own
// preconditions (a prior balance read), accepting the narrow race window
// that implies.
type Service struct {
	accounts store.AccountStore
	identity identity.Provider

	startingBalance int64
}

// New creates a ledger service. startingBalance is granted when an
// identity-valid account is first provisioned.
func New(accounts store.AccountStore, idp identity.Provider, startingBalance int64) *Service {
	return &Service{accounts: accounts, identity: idp, startingBalance: startingBalance}
}

// ApplyDelta adds delta (signed) to the account balance and returns the
// new balance. Unknown-to-the-ledger accounts are provisioned with the
// starting balance first, provided the identity provider knows them. A
// non-empty opID makes the mutation idempotent: a repeat call with the
// same opID returns the current balance without applying anything.
func (s *Service) ApplyDelta(ctx context.Context, accountID string, delta int64, reason, opID string) (int64, error) {
	balance, applied, err := s.accounts.ApplyDelta(ctx, accountID, delta, reason, opID)
	if err == nil {
		if !applied {
			slog.Info("ledger op already applied, skipping",
				"account", accountID, "op", opID, "delta", delta)
		}
		return balance, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("ledger: %w", err)
	}

	// No ledger row yet — provision if the identity provider knows the
	// account. The upsert keeps concurrent first-time callers from
	// double-creating.
	user, err := s.identity.Lookup(ctx, accountID)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownAccount) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: %w", err)
	}

	balance, err = s.accounts.ProvisionWithDelta(ctx, accountID, user.Email, s.startingBalance, delta, reason, opID)
	if err != nil {
		return 0, fmt.Errorf("ledger: %w", err)
	}
	slog.Info("provisioned account on first ledger use",
		"account", accountID, "starting_balance", s.startingBalance, "delta", delta)
	return balance, nil
}

// Balance returns the current balance, provisioning identity-valid
// accounts that have no ledger row yet with the starting balance.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	balance, err := s.accounts.Balance(ctx, accountID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("ledger: %w", err)
	}

	user, err := s.identity.Lookup(ctx, accountID)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownAccount) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: %w", err)
	}

	balance, err = s.accounts.Provision(ctx, accountID, user.Email, s.startingBalance)
	if err != nil {
		return 0, fmt.Errorf("ledger: %w", err)
	}
	slog.Info("provisioned account on balance read",
		"account", accountID, "starting_balance", s.startingBalance)
	return balance, nil
}

// Entries lists the most recent audit entries for an account.
func (s *Service) Entries(ctx context.Context, accountID string, limit int) ([]store.LedgerEntry, error) {
	return s.accounts.Entries(ctx, accountID, limit)
}
