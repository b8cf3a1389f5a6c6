package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TreasuryKind distinguishes pair treasuries from the fee custody treasury.
type TreasuryKind string

const (
	TreasuryKindMatch   TreasuryKind = "match"
	TreasuryKindCustody TreasuryKind = "custody"
)

// Treasury is a shared, threshold-governed wallet. Match treasuries are
// provisioned once per matched pair; the custody treasury holds accumulated
// fees. Amounts are fixed-point integer units (1e6 units per whole token).
type Treasury struct {
	ID        string
	Kind      TreasuryKind
	Owners    []Identity // canonical order, unique, len >= 2
	Threshold int        // 1 <= Threshold <= len(Owners)
	Balance   int64      // never negative
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOwner reports whether id is in the treasury's owner set.
func (t Treasury) IsOwner(id Identity) bool {
	for _, o := range t.Owners {
		if o == id {
			return true
		}
	}
	return false
}

// TransactionKind tags what executing a pending transaction does. Governance
// and fee-withdrawal transactions ride the same submit/approve/execute
// pipeline as plain transfers; there is no separate privileged code path.
type TransactionKind string

const (
	TransactionKindTransfer      TransactionKind = "transfer"
	TransactionKindGovernance    TransactionKind = "governance"
	TransactionKindFeeWithdrawal TransactionKind = "fee_withdrawal"
)

// GovernanceChange is the payload of a governance transaction. A zero
// NewThreshold keeps the current threshold.
type GovernanceChange struct {
	AddOwners    []Identity `json:"add_owners,omitempty"`
	RemoveOwners []Identity `json:"remove_owners,omitempty"`
	NewThreshold int        `json:"new_threshold,omitempty"`
}

// Transaction is a pending or executed outbound operation on a treasury.
// Once Executed is true the transaction is immutable.
type Transaction struct {
	ID          string
	TreasuryID  string
	Kind        TransactionKind
	Destination string
	Amount      int64
	Payload     []byte // JSON GovernanceChange for governance transactions
	SubmittedBy Identity
	Approvals   []Identity
	Executed    bool
	CreatedAt   time.Time
	ExecutedAt  *time.Time
}

// HasApproval reports whether owner has already approved the transaction.
func (tx Transaction) HasApproval(owner Identity) bool {
	for _, a := range tx.Approvals {
		if a == owner {
			return true
		}
	}
	return false
}

// DecodeGovernance parses the transaction payload as a GovernanceChange.
func (tx Transaction) DecodeGovernance() (GovernanceChange, error) {
	var change GovernanceChange
	if tx.Kind != TransactionKindGovernance {
		return change, fmt.Errorf("domain: transaction %s is not a governance transaction", tx.ID)
	}
	if err := json.Unmarshal(tx.Payload, &change); err != nil {
		return change, fmt.Errorf("domain: decode governance payload: %w", err)
	}
	return change, nil
}
