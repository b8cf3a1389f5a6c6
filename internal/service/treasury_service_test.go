package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/jmercadal/pairvault/internal/cache/memory"
	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/platform/identity"
	storemem "github.com/jmercadal/pairvault/internal/store/memory"
)

// recordingLedger captures transfers and optionally fails or calls back into
// the service mid-transfer.
type recordingLedger struct {
	mu         sync.Mutex
	transfers  []string
	failWith   error
	onTransfer func(ctx context.Context)
}

func (l *recordingLedger) Transfer(ctx context.Context, destination string, amount int64) error {
	if l.onTransfer != nil {
		l.onTransfer(ctx)
	}
	if l.failWith != nil {
		return l.failWith
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transfers = append(l.transfers, destination)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTreasuryFixture(t *testing.T, ledger domain.Ledger) (*TreasuryService, *storemem.Store) {
	t.Helper()
	svc, store, _ := newGatedTreasuryFixture(t, ledger)
	return svc, store
}

// newGatedTreasuryFixture also exposes the identity provider so tests can
// block owners.
func newGatedTreasuryFixture(t *testing.T, ledger domain.Ledger) (*TreasuryService, *storemem.Store, *identity.StaticProvider) {
	t.Helper()
	store := storemem.New()
	provider := identity.NewStaticProvider()
	svc := NewTreasuryService(store, store, cachemem.NewEventBus(), ledger, provider, testLogger())
	return svc, store, provider
}

func TestCreateTreasuryValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTreasuryFixture(t, &recordingLedger{})

	_, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice"}, 1)
	assert.Error(t, err)

	_, err = svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob"}, 3)
	assert.Error(t, err)

	created, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob", "carol"}, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 2, created.Threshold)
	assert.Zero(t, created.Balance)
}

func TestSubmitRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTreasuryFixture(t, &recordingLedger{})

	tr, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob"}, 2)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 10, SubmittedBy: "mallory",
	})
	assert.ErrorIs(t, err, domain.ErrNotAnOwner)

	_, err = svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 0, SubmittedBy: "alice",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Amount: 10, SubmittedBy: "alice",
	})
	assert.Error(t, err)

	// Amounts above the per-transaction cap are invalid at submit time.
	svc.WithMaxTransactionAmount(1_000)
	_, err = svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 1_001, SubmittedBy: "alice",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	svc.WithMaxTransactionAmount(0)

	// An unexecutable governance change is rejected at submit time.
	payload, _ := json.Marshal(domain.GovernanceChange{RemoveOwners: []domain.Identity{"bob"}})
	_, err = svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindGovernance,
		Payload: payload, SubmittedBy: "alice",
	})
	assert.Error(t, err)
}

func TestBlockedOwnerCannotOperateTreasury(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &recordingLedger{}
	svc, store, provider := newGatedTreasuryFixture(t, ledger)

	tr, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob"}, 2)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, tr.ID, 100))

	tx, err := svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 60, SubmittedBy: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "bob"))

	// Blocking alice strips her of control even though she stays an owner.
	provider.Block("alice")

	_, err = svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 10, SubmittedBy: "alice",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownIdentity)
	assert.ErrorIs(t, svc.Approve(ctx, tr.ID, tx.ID, "alice"), domain.ErrUnknownIdentity)
	assert.ErrorIs(t, svc.Revoke(ctx, tr.ID, tx.ID, "alice"), domain.ErrUnknownIdentity)
	_, err = svc.Execute(ctx, tr.ID, tx.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrUnknownIdentity)
	assert.Empty(t, ledger.transfers)

	// The other owner is unaffected, and reinstating alice restores control.
	provider.Unblock("alice")
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "alice"))
	executed, err := svc.Execute(ctx, tr.ID, tx.ID, "bob")
	require.NoError(t, err)
	assert.True(t, executed.Executed)

	got, err := store.GetTreasury(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance)
}

func TestApproveRevokeExecuteFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &recordingLedger{}
	svc, store := newTreasuryFixture(t, ledger)

	tr, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob", "carol"}, 2)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, tr.ID, 100))

	tx, err := svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 60, SubmittedBy: "alice",
	})
	require.NoError(t, err)

	// Approvals: non-owner rejected, duplicates rejected.
	assert.ErrorIs(t, svc.Approve(ctx, tr.ID, tx.ID, "mallory"), domain.ErrNotAnOwner)
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "alice"))
	assert.ErrorIs(t, svc.Approve(ctx, tr.ID, tx.ID, "alice"), domain.ErrDuplicateApproval)

	// One approval is below the threshold of two.
	_, err = svc.Execute(ctx, tr.ID, tx.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrThresholdNotMet)

	// Approve, revoke, and approve again: revocation takes effect.
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "bob"))
	require.NoError(t, svc.Revoke(ctx, tr.ID, tx.ID, "bob"))
	_, err = svc.Execute(ctx, tr.ID, tx.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrThresholdNotMet)

	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "carol"))
	executed, err := svc.Execute(ctx, tr.ID, tx.ID, "alice")
	require.NoError(t, err)
	assert.True(t, executed.Executed)
	assert.Equal(t, []string{"0xdest"}, ledger.transfers)

	got, err := store.GetTreasury(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance)

	// Executing again fails and moves no more value.
	_, err = svc.Execute(ctx, tr.ID, tx.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)
	assert.Len(t, ledger.transfers, 1)
}

func TestExecuteInsufficientBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &recordingLedger{}
	svc, _ := newTreasuryFixture(t, ledger)

	tr, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob"}, 2)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, tr.ID, 10))

	tx, err := svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 50, SubmittedBy: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "alice"))
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "bob"))

	_, err = svc.Execute(ctx, tr.ID, tx.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, ledger.transfers)
}

func TestFailedTransferRevertsCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &recordingLedger{failWith: errors.New("rpc unavailable")}
	svc, store := newTreasuryFixture(t, ledger)

	tr, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob"}, 2)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, tr.ID, 100))

	tx, err := svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 60, SubmittedBy: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "alice"))
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "bob"))

	_, err = svc.Execute(ctx, tr.ID, tx.ID, "alice")
	require.Error(t, err)

	// The commit was reverted: balance intact, transaction pending again.
	got, err := store.GetTreasury(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)

	pending, err := store.GetTransaction(ctx, tr.ID, tx.ID)
	require.NoError(t, err)
	assert.False(t, pending.Executed)

	// A later retry against a healthy ledger succeeds with the same approvals.
	ledger.failWith = nil
	executed, err := svc.Execute(ctx, tr.ID, tx.ID, "bob")
	require.NoError(t, err)
	assert.True(t, executed.Executed)

	got, err = store.GetTreasury(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance)
}

func TestReentrantExecuteSeesCommittedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ledger := &recordingLedger{}
	svc, store := newTreasuryFixture(t, ledger)

	tr, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob"}, 2)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, tr.ID, 100))

	tx, err := svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 60, SubmittedBy: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "alice"))
	require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "bob"))

	// The ledger calls back into Execute mid-transfer, as a malicious
	// destination would. Treasury state is already committed, so the inner
	// call must observe an executed transaction.
	var reentrantErr error
	ledger.onTransfer = func(ctx context.Context) {
		_, reentrantErr = svc.Execute(ctx, tr.ID, tx.ID, "bob")
	}

	executed, err := svc.Execute(ctx, tr.ID, tx.ID, "alice")
	require.NoError(t, err)
	assert.True(t, executed.Executed)

	assert.ErrorIs(t, reentrantErr, domain.ErrAlreadyExecuted)

	// Value moved exactly once.
	got, err := store.GetTreasury(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance)
	assert.Len(t, ledger.transfers, 1)
}

func TestGovernanceExecution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &recordingLedger{}
	svc, store := newTreasuryFixture(t, ledger)

	tr, err := svc.Create(ctx, domain.TreasuryKindMatch, []domain.Identity{"alice", "bob", "carol"}, 2)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, tr.ID, 100))

	// A pending transfer approved by carol, who the governance change removes.
	transfer, err := svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindTransfer,
		Destination: "0xdest", Amount: 10, SubmittedBy: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, tr.ID, transfer.ID, "carol"))

	payload, _ := json.Marshal(domain.GovernanceChange{
		RemoveOwners: []domain.Identity{"carol"},
		AddOwners:    []domain.Identity{"dave"},
		NewThreshold: 3,
	})
	gov, err := svc.Submit(ctx, SubmitRequest{
		TreasuryID: tr.ID, Kind: domain.TransactionKindGovernance,
		Payload: payload, SubmittedBy: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, tr.ID, gov.ID, "alice"))
	require.NoError(t, svc.Approve(ctx, tr.ID, gov.ID, "bob"))

	executed, err := svc.Execute(ctx, tr.ID, gov.ID, "alice")
	require.NoError(t, err)
	assert.True(t, executed.Executed)

	got, err := store.GetTreasury(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{"alice", "bob", "dave"}, got.Owners)
	assert.Equal(t, 3, got.Threshold)
	assert.Equal(t, int64(100), got.Balance) // governance never moves value
	assert.Empty(t, ledger.transfers)

	// Carol's stale approval on the pending transfer was pruned.
	pending, err := store.GetTransaction(ctx, tr.ID, transfer.ID)
	require.NoError(t, err)
	assert.Empty(t, pending.Approvals)

	// The removed owner can no longer act on the treasury.
	assert.ErrorIs(t, svc.Approve(ctx, tr.ID, transfer.ID, "carol"), domain.ErrNotAnOwner)
}

func TestExecuteHooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &recordingLedger{}
	svc, _ := newTreasuryFixture(t, ledger)

	tr, err := svc.Create(ctx, domain.TreasuryKindCustody, []domain.Identity{"alice", "bob"}, 2)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, tr.ID, 100))

	blocked := errors.New("blocked by hook")
	var afterCalls int
	svc.RegisterHook(domain.TransactionKindFeeWithdrawal, ExecuteHook{
		Before: func(ctx context.Context, t domain.Treasury, tx domain.Transaction) error {
			if tx.Amount > 50 {
				return blocked
			}
			return nil
		},
		After: func(ctx context.Context, t domain.Treasury, tx domain.Transaction) error {
			afterCalls++
			return nil
		},
	})

	submit := func(amount int64) domain.Transaction {
		tx, err := svc.Submit(ctx, SubmitRequest{
			TreasuryID: tr.ID, Kind: domain.TransactionKindFeeWithdrawal,
			Destination: "0xdest", Amount: amount, SubmittedBy: "alice",
		})
		require.NoError(t, err)
		require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "alice"))
		require.NoError(t, svc.Approve(ctx, tr.ID, tx.ID, "bob"))
		return tx
	}

	big := submit(80)
	_, err = svc.Execute(ctx, tr.ID, big.ID, "alice")
	assert.ErrorIs(t, err, blocked)
	assert.Empty(t, ledger.transfers)
	assert.Zero(t, afterCalls)

	small := submit(30)
	_, err = svc.Execute(ctx, tr.ID, small.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, afterCalls)
	assert.Len(t, ledger.transfers, 1)
}
