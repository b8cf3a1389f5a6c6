package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmercadal/pairvault/internal/crypto"
	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/notify"
	"github.com/jmercadal/pairvault/internal/policy"
)

// MatchConfig tunes the matching engine.
type MatchConfig struct {
	CustodyID      string             // fee custody treasury id
	CooldownWindow time.Duration      // interest cooldown per identity
	FeePeriod      time.Duration      // rolling window for fee/reward decay
	Schedule       policy.FeeSchedule // fee and reward schedule
	SignalLimit    int                // interest calls allowed per identity per SignalWindow
	SignalWindow   time.Duration
	LockTTL        time.Duration // per-pair provisioning lock
}

// InterestResult reports the outcome of an interest signal. Matched is true
// when both directions exist and the pair has a provisioned treasury; Match is
// set in that case, whether this call provisioned it or an earlier one did.
type InterestResult struct {
	Matched bool
	Match   domain.Match
}

// MatchService turns directional interest signals into realized matches with
// a pre-funded pair treasury and a fee credit to custody.
type MatchService struct {
	interests domain.InterestStore
	matches   domain.MatchStore
	identity  domain.IdentityProvider
	cooldown  domain.CooldownGuard
	locks     domain.LockManager
	limiter   domain.RateLimiter
	bus       domain.EventBus
	audit     domain.AuditStore
	notifier  *notify.Notifier
	cfg       MatchConfig
	logger    *slog.Logger

	now func() time.Time
}

// NewMatchService creates a MatchService with all required dependencies.
func NewMatchService(
	interests domain.InterestStore,
	matches domain.MatchStore,
	identity domain.IdentityProvider,
	cooldown domain.CooldownGuard,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg MatchConfig,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		interests: interests,
		matches:   matches,
		identity:  identity,
		cooldown:  cooldown,
		locks:     locks,
		limiter:   limiter,
		bus:       bus,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier attaches an operator notifier.
func (s *MatchService) WithNotifier(n *notify.Notifier) *MatchService {
	s.notifier = n
	return s
}

// ExpressInterest records that from is interested in to. Repeating an already
// recorded signal is a no-op that reports the current pair state and never
// touches the cooldown. A fresh signal toward a new target while the cooldown
// window from a previous target is still open fails with ErrCooldownActive.
// When the reciprocal signal already exists, the pair is realized exactly
// once: match marker, pair treasury pre-funded with the reward, and fee credit
// to custody land in one atomic store operation.
func (s *MatchService) ExpressInterest(ctx context.Context, from, to domain.Identity) (InterestResult, error) {
	if from == to {
		return InterestResult{}, domain.ErrSelfInterest
	}

	if s.cfg.SignalLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, "interest:"+string(from), s.cfg.SignalLimit, s.cfg.SignalWindow)
		if err != nil {
			return InterestResult{}, fmt.Errorf("match_service: rate limiter: %w", err)
		}
		if !allowed {
			return InterestResult{}, domain.ErrRateLimited
		}
	}

	for _, id := range []domain.Identity{from, to} {
		if err := s.checkIdentity(ctx, id); err != nil {
			return InterestResult{}, err
		}
	}

	pairID := crypto.PairID(from, to)

	// A repeat of the same ordered signal is idempotent: report the current
	// pair state without consuming the cooldown.
	already, err := s.interests.HasSignal(ctx, from, to)
	if err != nil {
		return InterestResult{}, fmt.Errorf("match_service: has signal: %w", err)
	}
	if already {
		return s.currentState(ctx, pairID)
	}

	if err := s.cooldown.Reserve(ctx, string(from), string(to), s.cfg.CooldownWindow); err != nil {
		return InterestResult{}, err
	}

	created, err := s.interests.RecordSignal(ctx, domain.InterestSignal{
		From:      from,
		To:        to,
		CreatedAt: s.now(),
	})
	if err != nil {
		return InterestResult{}, fmt.Errorf("match_service: record signal: %w", err)
	}

	// A concurrent duplicate that lost the insert race records nothing; the
	// winner already emitted for this signal.
	if created {
		s.auditLog(ctx, "interest_recorded", map[string]any{
			"from":    string(from),
			"to":      string(to),
			"pair_id": pairID,
		})
		s.publish(ctx, "ch:interest", map[string]any{
			"event":   "interest_recorded",
			"from":    string(from),
			"to":      string(to),
			"pair_id": pairID,
		})
	}

	reciprocal, err := s.interests.HasSignal(ctx, to, from)
	if err != nil {
		return InterestResult{}, fmt.Errorf("match_service: has reciprocal signal: %w", err)
	}
	if !reciprocal {
		return InterestResult{}, nil
	}

	return s.realize(ctx, pairID, from, to)
}

// GetMatch retrieves the match for an identity pair, if realized.
func (s *MatchService) GetMatch(ctx context.Context, a, b domain.Identity) (domain.Match, error) {
	m, err := s.matches.GetMatch(ctx, crypto.PairID(a, b))
	if err != nil {
		return domain.Match{}, fmt.Errorf("match_service: get match: %w", err)
	}
	return m, nil
}

// ListMatches returns matches involving p.
func (s *MatchService) ListMatches(ctx context.Context, p domain.Identity, opts domain.ListOpts) ([]domain.Match, error) {
	out, err := s.matches.ListMatchesByParty(ctx, p, opts)
	if err != nil {
		return nil, fmt.Errorf("match_service: list matches for %s: %w", p, err)
	}
	return out, nil
}

// realize provisions the pair exactly once under a per-pair lock. A losing
// racer observes ErrAlreadyExists from the store and returns the winner's
// match; either way the caller sees one match and one treasury.
func (s *MatchService) realize(ctx context.Context, pairID string, from, to domain.Identity) (InterestResult, error) {
	ttl := s.cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	unlock, err := s.locks.Acquire(ctx, "lock:pair:"+pairID, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			// The other side is provisioning right now; report current state.
			return s.currentState(ctx, pairID)
		}
		return InterestResult{}, fmt.Errorf("match_service: acquire pair lock: %w", err)
	}
	defer unlock()

	if res, err := s.currentState(ctx, pairID); err != nil || res.Matched {
		return res, err
	}

	since := s.now().Add(-s.cfg.FeePeriod)
	periodMatches, err := s.matches.CountMatchesSince(ctx, since)
	if err != nil {
		return InterestResult{}, fmt.Errorf("match_service: count period matches: %w", err)
	}
	fee, reward := s.cfg.Schedule.MatchOutcome(periodMatches)

	lo, hi := domain.SortPair(from, to)
	now := s.now()
	m := domain.Match{
		PairID:     pairID,
		PartyA:     lo,
		PartyB:     hi,
		TreasuryID: pairID,
		Fee:        fee,
		Reward:     reward,
		MatchedAt:  now,
	}
	t := domain.Treasury{
		ID:        pairID,
		Kind:      domain.TreasuryKindMatch,
		Owners:    []domain.Identity{lo, hi},
		Threshold: 2,
		Balance:   reward,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.matches.Provision(ctx, m, t, s.cfg.CustodyID); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.currentState(ctx, pairID)
		}
		return InterestResult{}, fmt.Errorf("match_service: provision pair %s: %w", pairID, err)
	}

	s.auditLog(ctx, "match_created", map[string]any{
		"pair_id":     m.PairID,
		"party_a":     string(m.PartyA),
		"party_b":     string(m.PartyB),
		"treasury_id": m.TreasuryID,
		"fee":         m.Fee,
		"reward":      m.Reward,
	})
	s.publish(ctx, "ch:match", map[string]any{
		"event":       "match_created",
		"pair_id":     m.PairID,
		"treasury_id": m.TreasuryID,
	})
	s.notifyEvent(ctx, "match_created", "Match created",
		fmt.Sprintf("pair %s matched, treasury funded with %d units", m.PairID, m.Reward))

	s.logger.InfoContext(ctx, "match_service: match created",
		slog.String("pair_id", m.PairID),
		slog.Int64("fee", m.Fee),
		slog.Int64("reward", m.Reward),
	)
	return InterestResult{Matched: true, Match: m}, nil
}

// currentState reports whether the pair is already matched.
func (s *MatchService) currentState(ctx context.Context, pairID string) (InterestResult, error) {
	m, err := s.matches.GetMatch(ctx, pairID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return InterestResult{}, nil
		}
		return InterestResult{}, fmt.Errorf("match_service: get match %s: %w", pairID, err)
	}
	return InterestResult{Matched: true, Match: m}, nil
}

func (s *MatchService) checkIdentity(ctx context.Context, id domain.Identity) error {
	active, err := s.identity.IsActive(ctx, id)
	if err != nil {
		return fmt.Errorf("match_service: identity check %s: %w", id, err)
	}
	if !active {
		return domain.ErrUnknownIdentity
	}
	blocked, err := s.identity.IsBlocked(ctx, id)
	if err != nil {
		return fmt.Errorf("match_service: identity check %s: %w", id, err)
	}
	if blocked {
		return domain.ErrUnknownIdentity
	}
	return nil
}

func (s *MatchService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "match_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MatchService) publish(ctx context.Context, channel string, payload map[string]any) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, channel, evt); err != nil {
		s.logger.WarnContext(ctx, "match_service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "stream:"+channel, evt); err != nil {
		s.logger.WarnContext(ctx, "match_service: stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MatchService) notifyEvent(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "match_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
