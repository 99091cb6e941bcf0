package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds means the sender's balance cannot cover the
	// message cost.
	ErrInsufficientFunds = errors.New("insufficient points")

	// ErrAgentNotFound means the target agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAccountNotFound means the sender is unknown to both the ledger
	// and the identity provider.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEmptyContent rejects blank message bodies.
	ErrEmptyContent = errors.New("message content is empty")
)

// DownstreamError wraps a provider failure that occurred after the debit.
// The debit has been refunded unless the error is also a CompensationError.
type DownstreamError struct {
	Err error
}

func (e *DownstreamError) Error() string { return fmt.Sprintf("provider unavailable: %v", e.Err) }
func (e *DownstreamError) Unwrap() error { return e.Err }

// CompensationError means the exchange failed AND the refund of the debit
// also failed, leaving the ledger short. It carries both errors so the
// operator can reconcile manually.
type CompensationError struct {
	Cause     error // why the exchange failed
	RefundErr error // why the refund failed
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("exchange failed (%v) and refund failed (%v)", e.Cause, e.RefundErr)
}

func (e *CompensationError) Unwrap() error { return e.Cause }
