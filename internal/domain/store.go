package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TreasuryStore persists treasuries, their pending transactions, and
// approvals. Implementations must make each method atomic: concurrent callers
// racing on the same transaction receive a definite outcome
// (ErrAlreadyExecuted, ErrDuplicateApproval), never a partial state.
type TreasuryStore interface {
	CreateTreasury(ctx context.Context, t Treasury) error
	GetTreasury(ctx context.Context, id string) (Treasury, error)
	ListTreasuriesByOwner(ctx context.Context, owner Identity, opts ListOpts) ([]Treasury, error)

	// Deposit adds incoming value to a treasury balance.
	Deposit(ctx context.Context, id string, amount int64) error

	CreateTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, treasuryID, txID string) (Transaction, error)
	ListTransactions(ctx context.Context, treasuryID string, opts ListOpts) ([]Transaction, error)

	// AddApproval records owner's approval. It fails with
	// ErrUnknownTransaction, ErrAlreadyExecuted, or ErrDuplicateApproval.
	AddApproval(ctx context.Context, treasuryID, txID string, owner Identity) error

	// RemoveApproval revokes owner's approval if present. Removing an
	// approval that was never given is a no-op.
	RemoveApproval(ctx context.Context, treasuryID, txID string, owner Identity) error

	// MarkExecuted finalizes a transfer-style transaction: in one atomic
	// step it verifies the transaction is pending, that distinct approvals
	// meet the treasury threshold, and that the balance covers the amount,
	// then sets the executed flag and decrements the balance. The returned
	// transaction reflects the executed state. Errors: ErrUnknownTransaction,
	// ErrAlreadyExecuted, ErrThresholdNotMet, ErrInsufficientBalance.
	MarkExecuted(ctx context.Context, treasuryID, txID string) (Transaction, error)

	// RevertExecution undoes MarkExecuted after a failed outbound transfer:
	// the executed flag and the balance revert together in one atomic step.
	RevertExecution(ctx context.Context, treasuryID, txID string) error

	// ApplyGovernance finalizes a governance transaction: same pending and
	// threshold guards as MarkExecuted, then atomically replaces the owner
	// set and threshold and prunes approvals by removed owners from
	// still-pending transactions of the treasury.
	ApplyGovernance(ctx context.Context, treasuryID, txID string, owners []Identity, threshold int) (Transaction, error)
}

// InterestStore persists directional interest signals.
type InterestStore interface {
	// RecordSignal inserts the signal if absent. created reports whether a
	// new row was written; a repeat of the same ordered pair is not an error.
	RecordSignal(ctx context.Context, s InterestSignal) (created bool, err error)
	HasSignal(ctx context.Context, from, to Identity) (bool, error)
}

// MatchStore persists realized matches. Provision is the exactly-once point
// of the whole system: one atomic store transaction writes the match marker,
// creates the pair treasury pre-funded with the reward, and credits the match
// fee to the custody treasury. A pair that is already matched yields
// ErrAlreadyExists with no side effects.
type MatchStore interface {
	Provision(ctx context.Context, m Match, t Treasury, custodyID string) error
	GetMatch(ctx context.Context, pairID string) (Match, error)
	ListMatchesByParty(ctx context.Context, p Identity, opts ListOpts) ([]Match, error)
	CountMatchesSince(ctx context.Context, since time.Time) (int64, error)
}

// FeeStore persists fee custody accounting around the custody treasury.
type FeeStore interface {
	TotalCredited(ctx context.Context, custodyID string) (int64, error)
	RecordWithdrawal(ctx context.Context, w FeeWithdrawal) error
	SumWithdrawalsSince(ctx context.Context, custodyID string, since time.Time) (int64, error)
}

// AuditEntry is a single audit log row. Detail carries the full parameters of
// the recorded operation, not just an id.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
