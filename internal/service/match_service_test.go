package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/jmercadal/pairvault/internal/cache/memory"
	"github.com/jmercadal/pairvault/internal/crypto"
	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/platform/identity"
	"github.com/jmercadal/pairvault/internal/policy"
	storemem "github.com/jmercadal/pairvault/internal/store/memory"
)

const testCustodyName = "test-custody"

type matchFixture struct {
	svc      *MatchService
	store    *storemem.Store
	provider *identity.StaticProvider
}

func newMatchFixture(t *testing.T, mutate func(*MatchConfig)) *matchFixture {
	t.Helper()

	store := storemem.New()
	provider := identity.NewStaticProvider()

	custodyID := crypto.CustodyID(testCustodyName)
	now := time.Now().UTC()
	require.NoError(t, store.CreateTreasury(context.Background(), domain.Treasury{
		ID:        custodyID,
		Kind:      domain.TreasuryKindCustody,
		Owners:    []domain.Identity{"op1", "op2"},
		Threshold: 2,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	cfg := MatchConfig{
		CustodyID:      custodyID,
		CooldownWindow: time.Hour,
		FeePeriod:      24 * time.Hour,
		Schedule: policy.FeeSchedule{
			BaseFee:    1_000_000,
			MinFee:     100_000,
			BaseReward: 10_000_000,
			MinReward:  1_000_000,
			StepEvery:  1,
			StepBps:    1_000, // 10% of base per match, for visible decay
		},
		LockTTL: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	svc := NewMatchService(
		store, store, provider,
		cachemem.NewCooldownGuard(),
		cachemem.NewLockManager(),
		cachemem.NewRateLimiter(),
		cachemem.NewEventBus(),
		store,
		cfg,
		testLogger(),
	)
	return &matchFixture{svc: svc, store: store, provider: provider}
}

func (f *matchFixture) custodyBalance(t *testing.T) int64 {
	t.Helper()
	custody, err := f.store.GetTreasury(context.Background(), crypto.CustodyID(testCustodyName))
	require.NoError(t, err)
	return custody.Balance
}

func TestExpressInterestSelf(t *testing.T) {
	t.Parallel()
	f := newMatchFixture(t, nil)

	_, err := f.svc.ExpressInterest(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrSelfInterest)
}

func TestExpressInterestBlockedIdentity(t *testing.T) {
	t.Parallel()
	f := newMatchFixture(t, nil)
	f.provider.Block("bob")

	_, err := f.svc.ExpressInterest(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, domain.ErrUnknownIdentity)

	// The blocked side cannot signal either.
	_, err = f.svc.ExpressInterest(context.Background(), "bob", "alice")
	assert.ErrorIs(t, err, domain.ErrUnknownIdentity)
}

func TestMutualInterestRealizesPair(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newMatchFixture(t, nil)

	res, err := f.svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	res, err = f.svc.ExpressInterest(ctx, "bob", "alice")
	require.NoError(t, err)
	require.True(t, res.Matched)

	pairID := crypto.PairID("alice", "bob")
	assert.Equal(t, pairID, res.Match.PairID)
	assert.Equal(t, pairID, res.Match.TreasuryID)
	assert.Equal(t, domain.Identity("alice"), res.Match.PartyA)
	assert.Equal(t, domain.Identity("bob"), res.Match.PartyB)
	assert.Equal(t, int64(1_000_000), res.Match.Fee)
	assert.Equal(t, int64(10_000_000), res.Match.Reward)

	// The pair treasury is jointly owned, requires both signatures, and is
	// pre-funded with the reward.
	tr, err := f.store.GetTreasury(ctx, pairID)
	require.NoError(t, err)
	assert.Equal(t, domain.TreasuryKindMatch, tr.Kind)
	assert.Equal(t, []domain.Identity{"alice", "bob"}, tr.Owners)
	assert.Equal(t, 2, tr.Threshold)
	assert.Equal(t, int64(10_000_000), tr.Balance)

	// The fee landed on custody.
	assert.Equal(t, int64(1_000_000), f.custodyBalance(t))

	got, err := f.svc.GetMatch(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, pairID, got.PairID)
}

func TestRepeatSignalIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newMatchFixture(t, nil)

	_, err := f.svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)

	// Repeating the same signal is a no-op, not an error.
	res, err := f.svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	_, err = f.svc.ExpressInterest(ctx, "bob", "alice")
	require.NoError(t, err)

	// After the match, the repeat reports the realized pair and changes
	// nothing: custody is credited exactly once.
	res, err = f.svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, int64(1_000_000), f.custodyBalance(t))
}

// signalRaceStore reports every signal as absent so RecordSignal is the sole
// arbiter, the way a racing duplicate sees the store after its pre-check.
type signalRaceStore struct {
	*storemem.Store
}

func (s *signalRaceStore) HasSignal(context.Context, domain.Identity, domain.Identity) (bool, error) {
	return false, nil
}

func TestLostSignalRaceEmitsNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := storemem.New()
	svc := NewMatchService(
		&signalRaceStore{Store: store}, store, identity.NewStaticProvider(),
		cachemem.NewCooldownGuard(),
		cachemem.NewLockManager(),
		cachemem.NewRateLimiter(),
		cachemem.NewEventBus(),
		store,
		MatchConfig{
			FeePeriod: time.Hour,
			Schedule:  policy.FeeSchedule{BaseFee: 1, BaseReward: 1, StepEvery: 1},
			LockTTL:   time.Second,
		},
		testLogger(),
	)

	// An identical concurrent signal already landed after our pre-check.
	created, err := store.RecordSignal(ctx, domain.InterestSignal{
		From: "alice", To: "bob", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, created)

	res, err := svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	// The losing duplicate emits nothing; only the winner may audit.
	entries, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "interest_recorded", e.Event)
	}
}

func TestCooldownBlocksNewTargetOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newMatchFixture(t, nil)

	_, err := f.svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)

	// A fresh signal toward a different target inside the window is blocked.
	_, err = f.svc.ExpressInterest(ctx, "alice", "carol")
	assert.ErrorIs(t, err, domain.ErrCooldownActive)

	// Repeating the original signal is still fine and never consumes the
	// cooldown.
	_, err = f.svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)

	// Other identities are unaffected.
	_, err = f.svc.ExpressInterest(ctx, "carol", "dave")
	require.NoError(t, err)
}

func TestSignalRateLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newMatchFixture(t, func(cfg *MatchConfig) {
		cfg.SignalLimit = 2
		cfg.SignalWindow = time.Minute
		cfg.CooldownWindow = 0 // isolate the rate limiter
	})

	_, err := f.svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.svc.ExpressInterest(ctx, "alice", "carol")
	require.NoError(t, err)

	_, err = f.svc.ExpressInterest(ctx, "alice", "dave")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// The limit is per identity.
	_, err = f.svc.ExpressInterest(ctx, "bob", "carol")
	require.NoError(t, err)
}

func TestConcurrentMutualInterestProvisionsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newMatchFixture(t, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.ExpressInterest(ctx, "alice", "bob")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.ExpressInterest(ctx, "bob", "alice")
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Exactly one treasury, funded once; custody credited once.
	pairID := crypto.PairID("alice", "bob")
	m, err := f.store.GetMatch(ctx, pairID)
	require.NoError(t, err)
	assert.Equal(t, pairID, m.TreasuryID)

	tr, err := f.store.GetTreasury(ctx, pairID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), tr.Balance)
	assert.Equal(t, int64(1_000_000), f.custodyBalance(t))

	n, err := f.store.CountMatchesSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFeeDecayAcrossMatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newMatchFixture(t, nil) // StepEvery 1, StepBps 1000

	match := func(a, b domain.Identity) domain.Match {
		_, err := f.svc.ExpressInterest(ctx, a, b)
		require.NoError(t, err)
		res, err := f.svc.ExpressInterest(ctx, b, a)
		require.NoError(t, err)
		require.True(t, res.Matched)
		return res.Match
	}

	first := match("alice", "bob")
	assert.Equal(t, int64(1_000_000), first.Fee)
	assert.Equal(t, int64(10_000_000), first.Reward)

	second := match("carol", "dave")
	assert.Equal(t, int64(900_000), second.Fee)
	assert.Equal(t, int64(9_000_000), second.Reward)

	third := match("erin", "frank")
	assert.Equal(t, int64(800_000), third.Fee)
	assert.Equal(t, int64(8_000_000), third.Reward)

	// Custody accumulated every fee.
	assert.Equal(t, int64(2_700_000), f.custodyBalance(t))
}

func TestListMatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newMatchFixture(t, nil)

	_, err := f.svc.ExpressInterest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.svc.ExpressInterest(ctx, "bob", "alice")
	require.NoError(t, err)

	out, err := f.svc.ListMatches(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, crypto.PairID("alice", "bob"), out[0].PairID)

	out, err = f.svc.ListMatches(ctx, "carol", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
