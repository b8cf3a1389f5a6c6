package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmercadal/pairvault/internal/domain"
)

func newTreasury(id string, owners []domain.Identity, threshold int, balance int64) domain.Treasury {
	now := time.Now().UTC()
	return domain.Treasury{
		ID:        id,
		Kind:      domain.TreasuryKindMatch,
		Owners:    owners,
		Threshold: threshold,
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTreasuryLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	owners := []domain.Identity{"alice", "bob"}
	require.NoError(t, s.CreateTreasury(ctx, newTreasury("t1", owners, 2, 0)))
	assert.ErrorIs(t, s.CreateTreasury(ctx, newTreasury("t1", owners, 2, 0)), domain.ErrAlreadyExists)

	require.NoError(t, s.Deposit(ctx, "t1", 500))
	got, err := s.GetTreasury(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)

	assert.ErrorIs(t, s.Deposit(ctx, "missing", 10), domain.ErrNotFound)
	assert.ErrorIs(t, s.Deposit(ctx, "t1", 0), domain.ErrInvalidAmount)

	listed, err := s.ListTreasuriesByOwner(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	listed, err = s.ListTreasuriesByOwner(ctx, "mallory", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestApprovalRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	owners := []domain.Identity{"alice", "bob"}
	require.NoError(t, s.CreateTreasury(ctx, newTreasury("t1", owners, 2, 100)))
	require.NoError(t, s.CreateTransaction(ctx, domain.Transaction{
		ID: "tx1", TreasuryID: "t1", Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 50, SubmittedBy: "alice", CreatedAt: time.Now(),
	}))

	require.NoError(t, s.AddApproval(ctx, "t1", "tx1", "alice"))
	assert.ErrorIs(t, s.AddApproval(ctx, "t1", "tx1", "alice"), domain.ErrDuplicateApproval)
	assert.ErrorIs(t, s.AddApproval(ctx, "t1", "nope", "alice"), domain.ErrUnknownTransaction)

	// Revoking an approval never given is a no-op.
	require.NoError(t, s.RemoveApproval(ctx, "t1", "tx1", "bob"))

	require.NoError(t, s.RemoveApproval(ctx, "t1", "tx1", "alice"))
	tx, err := s.GetTransaction(ctx, "t1", "tx1")
	require.NoError(t, err)
	assert.Empty(t, tx.Approvals)
}

func TestMarkExecutedAndRevert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	owners := []domain.Identity{"alice", "bob"}
	require.NoError(t, s.CreateTreasury(ctx, newTreasury("t1", owners, 2, 100)))
	require.NoError(t, s.CreateTransaction(ctx, domain.Transaction{
		ID: "tx1", TreasuryID: "t1", Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 80, SubmittedBy: "alice", CreatedAt: time.Now(),
	}))

	// Below threshold.
	require.NoError(t, s.AddApproval(ctx, "t1", "tx1", "alice"))
	_, err := s.MarkExecuted(ctx, "t1", "tx1")
	assert.ErrorIs(t, err, domain.ErrThresholdNotMet)

	require.NoError(t, s.AddApproval(ctx, "t1", "tx1", "bob"))
	executed, err := s.MarkExecuted(ctx, "t1", "tx1")
	require.NoError(t, err)
	assert.True(t, executed.Executed)
	require.NotNil(t, executed.ExecutedAt)

	got, err := s.GetTreasury(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Balance)

	// Already executed.
	_, err = s.MarkExecuted(ctx, "t1", "tx1")
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)
	assert.ErrorIs(t, s.AddApproval(ctx, "t1", "tx1", "alice"), domain.ErrAlreadyExecuted)

	// Revert restores both the flag and the balance.
	require.NoError(t, s.RevertExecution(ctx, "t1", "tx1"))
	got, err = s.GetTreasury(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)

	tx, err := s.GetTransaction(ctx, "t1", "tx1")
	require.NoError(t, err)
	assert.False(t, tx.Executed)
	assert.Nil(t, tx.ExecutedAt)

	// Reverting a pending transaction fails.
	assert.ErrorIs(t, s.RevertExecution(ctx, "t1", "tx1"), domain.ErrUnknownTransaction)
}

func TestMarkExecutedInsufficientBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	owners := []domain.Identity{"alice", "bob"}
	require.NoError(t, s.CreateTreasury(ctx, newTreasury("t1", owners, 1, 10)))
	require.NoError(t, s.CreateTransaction(ctx, domain.Transaction{
		ID: "tx1", TreasuryID: "t1", Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 50, SubmittedBy: "alice", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.AddApproval(ctx, "t1", "tx1", "alice"))

	_, err := s.MarkExecuted(ctx, "t1", "tx1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	got, err := s.GetTreasury(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Balance)
}

func TestApplyGovernancePrunesApprovals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	owners := []domain.Identity{"alice", "bob", "carol"}
	require.NoError(t, s.CreateTreasury(ctx, newTreasury("t1", owners, 2, 100)))

	// A pending transfer approved by carol, who is about to be removed.
	require.NoError(t, s.CreateTransaction(ctx, domain.Transaction{
		ID: "pending", TreasuryID: "t1", Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 10, SubmittedBy: "alice", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.AddApproval(ctx, "t1", "pending", "carol"))
	require.NoError(t, s.AddApproval(ctx, "t1", "pending", "alice"))

	// The governance transaction itself.
	require.NoError(t, s.CreateTransaction(ctx, domain.Transaction{
		ID: "gov", TreasuryID: "t1", Kind: domain.TransactionKindGovernance,
		SubmittedBy: "alice", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.AddApproval(ctx, "t1", "gov", "alice"))
	require.NoError(t, s.AddApproval(ctx, "t1", "gov", "bob"))

	executed, err := s.ApplyGovernance(ctx, "t1", "gov", []domain.Identity{"alice", "bob"}, 2)
	require.NoError(t, err)
	assert.True(t, executed.Executed)

	got, err := s.GetTreasury(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{"alice", "bob"}, got.Owners)
	assert.Equal(t, 2, got.Threshold)

	// Carol's approval on the pending transfer is gone; alice's survives.
	tx, err := s.GetTransaction(ctx, "t1", "pending")
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{"alice"}, tx.Approvals)
}

func TestInterestSignals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	created, err := s.RecordSignal(ctx, domain.InterestSignal{From: "alice", To: "bob", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, created)

	// Idempotent repeat.
	created, err = s.RecordSignal(ctx, domain.InterestSignal{From: "alice", To: "bob", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, created)

	has, err := s.HasSignal(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, has)

	// Direction matters.
	has, err = s.HasSignal(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestProvisionExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	custody := newTreasury("custody", []domain.Identity{"op1", "op2"}, 2, 0)
	custody.Kind = domain.TreasuryKindCustody
	require.NoError(t, s.CreateTreasury(ctx, custody))

	now := time.Now().UTC()
	m := domain.Match{
		PairID: "pair1", PartyA: "alice", PartyB: "bob",
		TreasuryID: "pair1", Fee: 7, Reward: 42, MatchedAt: now,
	}
	pairT := newTreasury("pair1", []domain.Identity{"alice", "bob"}, 2, 42)

	require.NoError(t, s.Provision(ctx, m, pairT, "custody"))

	// Second provision of the same pair fails and changes nothing.
	assert.ErrorIs(t, s.Provision(ctx, m, pairT, "custody"), domain.ErrAlreadyExists)

	got, err := s.GetTreasury(ctx, "custody")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Balance)

	pair, err := s.GetTreasury(ctx, "pair1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), pair.Balance)

	total, err := s.TotalCredited(ctx, "custody")
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)

	n, err := s.CountMatchesSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	byParty, err := s.ListMatchesByParty(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, byParty, 1)
	assert.Equal(t, "pair1", byParty[0].PairID)
}

func TestProvisionUnknownCustody(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	m := domain.Match{PairID: "pair1", TreasuryID: "pair1", MatchedAt: time.Now()}
	pairT := newTreasury("pair1", []domain.Identity{"alice", "bob"}, 2, 0)

	assert.ErrorIs(t, s.Provision(ctx, m, pairT, "missing"), domain.ErrNotFound)

	// Nothing was created.
	_, err := s.GetMatch(ctx, "pair1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetTreasury(ctx, "pair1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithdrawalAccounting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	now := time.Now().UTC()
	require.NoError(t, s.RecordWithdrawal(ctx, domain.FeeWithdrawal{
		TransactionID: "tx1", CustodyID: "custody", Amount: 30, ExecutedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, s.RecordWithdrawal(ctx, domain.FeeWithdrawal{
		TransactionID: "tx2", CustodyID: "custody", Amount: 20, ExecutedAt: now,
	}))

	total, err := s.SumWithdrawalsSince(ctx, "custody", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)

	total, err = s.SumWithdrawalsSince(ctx, "custody", now.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)

	total, err = s.SumWithdrawalsSince(ctx, "other", now.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total)
}
