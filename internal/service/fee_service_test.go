package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/jmercadal/pairvault/internal/cache/memory"
	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/platform/identity"
	storemem "github.com/jmercadal/pairvault/internal/store/memory"
)

type feeFixture struct {
	treasuries *TreasuryService
	fees       *FeeService
	store      *storemem.Store
	ledger     *recordingLedger
}

func newFeeFixture(t *testing.T, mutate func(*FeeConfig)) *feeFixture {
	t.Helper()

	store := storemem.New()
	ledger := &recordingLedger{}
	treasuries := NewTreasuryService(store, store, cachemem.NewEventBus(), ledger, identity.NewStaticProvider(), testLogger())

	cfg := FeeConfig{
		CustodyName:      "fee-custody",
		CustodyOwners:    []domain.Identity{"op1", "op2"},
		CustodyThreshold: 2,
		WithdrawalCap:    100,
		CapPeriod:        24 * time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	fees := NewFeeService(treasuries, store, store, cfg, testLogger())
	require.NoError(t, fees.Bootstrap(context.Background()))

	return &feeFixture{treasuries: treasuries, fees: fees, store: store, ledger: ledger}
}

func (f *feeFixture) fund(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.store.Deposit(context.Background(), f.fees.CustodyID(), amount))
}

// approveAndExecute walks a withdrawal through both custody signatures.
func (f *feeFixture) approveAndExecute(t *testing.T, txID string) (domain.Transaction, error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.treasuries.Approve(ctx, f.fees.CustodyID(), txID, "op1"))
	require.NoError(t, f.treasuries.Approve(ctx, f.fees.CustodyID(), txID, "op2"))
	return f.treasuries.Execute(ctx, f.fees.CustodyID(), txID, "op1")
}

func TestBootstrapIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFeeFixture(t, nil)

	custody, err := f.store.GetTreasury(ctx, f.fees.CustodyID())
	require.NoError(t, err)
	assert.Equal(t, domain.TreasuryKindCustody, custody.Kind)
	assert.Equal(t, []domain.Identity{"op1", "op2"}, custody.Owners)
	assert.Equal(t, 2, custody.Threshold)

	// A second bootstrap on an existing custody is a no-op.
	require.NoError(t, f.fees.Bootstrap(ctx))

	// The bootstrap was audited exactly once, like any treasury creation.
	entries, err := f.store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	var created int
	for _, e := range entries {
		if e.Event == "treasury_created" {
			created++
			assert.Equal(t, f.fees.CustodyID(), e.Detail["treasury_id"])
		}
	}
	assert.Equal(t, 1, created)
}

func TestRequestWithdrawalValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFeeFixture(t, nil)
	f.fund(t, 50)

	_, err := f.fees.RequestWithdrawal(ctx, "mallory", "0xdest", 10)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.fees.RequestWithdrawal(ctx, "op1", "0xdest", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.fees.RequestWithdrawal(ctx, "op1", "0xdest", 60)
	assert.ErrorIs(t, err, domain.ErrInsufficientLedgerBalance)

	// The per-period cap is checked at request time too.
	_, err = f.fees.RequestWithdrawal(ctx, "op1", "0xdest", 50)
	require.NoError(t, err) // 50 <= cap 100
	f.fund(t, 200)
	_, err = f.fees.RequestWithdrawal(ctx, "op1", "0xdest", 150)
	assert.ErrorIs(t, err, domain.ErrExceedsLimit)
}

func TestWithdrawalFullFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFeeFixture(t, nil)
	f.fund(t, 50)

	tx, err := f.fees.RequestWithdrawal(ctx, "op1", "0xdest", 20)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionKindFeeWithdrawal, tx.Kind)

	executed, err := f.approveAndExecute(t, tx.ID)
	require.NoError(t, err)
	assert.True(t, executed.Executed)
	assert.Equal(t, []string{"0xdest"}, f.ledger.transfers)

	custody, err := f.store.GetTreasury(ctx, f.fees.CustodyID())
	require.NoError(t, err)
	assert.Equal(t, int64(30), custody.Balance)

	st, err := f.fees.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.fees.CustodyID(), st.CustodyID)
	assert.Equal(t, int64(30), st.Balance)
	assert.Equal(t, int64(20), st.PeriodWithdrawn)
}

func TestCapSpansTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFeeFixture(t, func(cfg *FeeConfig) {
		cfg.WithdrawalCap = 30
	})
	f.fund(t, 100)

	// Both submissions pass the request-time cap check because neither has
	// executed yet.
	first, err := f.fees.RequestWithdrawal(ctx, "op1", "0xdest", 20)
	require.NoError(t, err)
	second, err := f.fees.RequestWithdrawal(ctx, "op2", "0xdest", 20)
	require.NoError(t, err)

	_, err = f.approveAndExecute(t, first.ID)
	require.NoError(t, err)

	// Executing the second would put the period total at 40 > 30; the
	// pre-execution hook blocks it and no value moves.
	_, err = f.approveAndExecute(t, second.ID)
	assert.ErrorIs(t, err, domain.ErrExceedsLimit)

	custody, err := f.store.GetTreasury(ctx, f.fees.CustodyID())
	require.NoError(t, err)
	assert.Equal(t, int64(80), custody.Balance)
	assert.Len(t, f.ledger.transfers, 1)

	tx, err := f.store.GetTransaction(ctx, f.fees.CustodyID(), second.ID)
	require.NoError(t, err)
	assert.False(t, tx.Executed)
}

func TestCapDisabledWhenZero(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFeeFixture(t, func(cfg *FeeConfig) {
		cfg.WithdrawalCap = 0
	})
	f.fund(t, 1_000)

	tx, err := f.fees.RequestWithdrawal(ctx, "op1", "0xdest", 900)
	require.NoError(t, err)
	_, err = f.approveAndExecute(t, tx.ID)
	require.NoError(t, err)

	custody, err := f.store.GetTreasury(ctx, f.fees.CustodyID())
	require.NoError(t, err)
	assert.Equal(t, int64(100), custody.Balance)
}

func TestWithdrawalRecordedForCapAccounting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFeeFixture(t, nil)
	f.fund(t, 50)

	tx, err := f.fees.RequestWithdrawal(ctx, "op1", "0xdest", 20)
	require.NoError(t, err)
	_, err = f.approveAndExecute(t, tx.ID)
	require.NoError(t, err)

	sum, err := f.store.SumWithdrawalsSince(ctx, f.fees.CustodyID(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(20), sum)
}
