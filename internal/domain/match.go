package domain

import "time"

// InterestSignal is a one-directional, append-only record that From has
// expressed interest in To. Repeated signals for the same ordered pair are
// idempotent.
type InterestSignal struct {
	From      Identity
	To        Identity
	CreatedAt time.Time
}

// Match is the derived state reached when both directions of an interest
// signal exist for a pair. Realization (treasury provisioning plus reward and
// fee accounting) happens at most once per unordered pair; PairID is the
// deterministic key that makes this structural.
type Match struct {
	PairID     string
	PartyA     Identity // canonical order: PartyA < PartyB
	PartyB     Identity
	TreasuryID string
	Fee        int64 // credited to the custody treasury
	Reward     int64 // initial balance of the pair treasury
	MatchedAt  time.Time
}

// FeeLedgerStatus is a point-in-time summary of the fee custody state.
type FeeLedgerStatus struct {
	CustodyID       string
	Balance         int64 // custody treasury balance
	TotalCredited   int64 // sum of all match fee credits
	PeriodWithdrawn int64 // withdrawals executed in the current period
	PeriodStart     time.Time
}

// FeeWithdrawal records an executed fee withdrawal for per-period cap
// accounting.
type FeeWithdrawal struct {
	TransactionID string
	CustodyID     string
	Destination   string
	Amount        int64
	RequestedBy   Identity
	ExecutedAt    time.Time
}
