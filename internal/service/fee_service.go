package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmercadal/pairvault/internal/crypto"
	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/policy"
)

// FeeConfig tunes fee custody and the withdrawal cap.
type FeeConfig struct {
	CustodyName      string            // names the custody treasury; its id is derived
	CustodyOwners    []domain.Identity // operator identities controlling custody
	CustodyThreshold int
	WithdrawalCap    int64         // max units withdrawable per CapPeriod; 0 disables the cap
	CapPeriod        time.Duration // rolling window for the cap
}

// FeeService manages the fee custody treasury: accumulated match fees live on
// its balance, and withdrawals ride the regular submit/approve/execute
// pipeline with an extra per-period cap enforced at execution time.
type FeeService struct {
	treasuries *TreasuryService
	store      domain.TreasuryStore
	fees       domain.FeeStore
	cfg        FeeConfig
	custodyID  string
	logger     *slog.Logger

	now func() time.Time
}

// NewFeeService creates a FeeService and registers its withdrawal hooks on
// the treasury pipeline.
func NewFeeService(
	treasuries *TreasuryService,
	store domain.TreasuryStore,
	fees domain.FeeStore,
	cfg FeeConfig,
	logger *slog.Logger,
) *FeeService {
	s := &FeeService{
		treasuries: treasuries,
		store:      store,
		fees:       fees,
		cfg:        cfg,
		custodyID:  crypto.CustodyID(cfg.CustodyName),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}

	treasuries.RegisterHook(domain.TransactionKindFeeWithdrawal, ExecuteHook{
		Before: s.checkWithdrawal,
		After:  s.recordWithdrawal,
	})
	return s
}

// CustodyID returns the derived id of the custody treasury.
func (s *FeeService) CustodyID() string {
	return s.custodyID
}

// Bootstrap creates the custody treasury if it does not exist yet. Safe to
// call on every startup.
func (s *FeeService) Bootstrap(ctx context.Context) error {
	if err := policy.ValidateOwners(s.cfg.CustodyOwners, s.cfg.CustodyThreshold); err != nil {
		return fmt.Errorf("fee_service: custody config: %w", err)
	}

	_, err := s.store.GetTreasury(ctx, s.custodyID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("fee_service: bootstrap lookup: %w", err)
	}

	// Creation rides the treasury service so the bootstrap is audited and
	// published like any other treasury creation.
	t, err := s.treasuries.CreateWithID(ctx, s.custodyID, domain.TreasuryKindCustody, s.cfg.CustodyOwners, s.cfg.CustodyThreshold)
	if err != nil {
		// Another instance may have raced us here.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("fee_service: create custody treasury: %w", err)
	}

	s.logger.InfoContext(ctx, "fee_service: custody treasury created",
		slog.String("custody_id", s.custodyID),
		slog.Int("owners", len(t.Owners)),
		slog.Int("threshold", t.Threshold),
	)
	return nil
}

// RequestWithdrawal submits a fee withdrawal for approval. The requester must
// be a custody owner; amount, cap, and balance are validated now and again
// when the approved transaction executes.
func (s *FeeService) RequestWithdrawal(ctx context.Context, requester domain.Identity, destination string, amount int64) (domain.Transaction, error) {
	custody, err := s.store.GetTreasury(ctx, s.custodyID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("fee_service: load custody: %w", err)
	}
	if !custody.IsOwner(requester) {
		return domain.Transaction{}, domain.ErrUnauthorized
	}
	if amount <= 0 {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}
	if custody.Balance < amount {
		return domain.Transaction{}, domain.ErrInsufficientLedgerBalance
	}
	if err := s.checkCap(ctx, amount); err != nil {
		return domain.Transaction{}, err
	}

	tx, err := s.treasuries.Submit(ctx, SubmitRequest{
		TreasuryID:  s.custodyID,
		Kind:        domain.TransactionKindFeeWithdrawal,
		Destination: destination,
		Amount:      amount,
		SubmittedBy: requester,
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("fee_service: submit withdrawal: %w", err)
	}

	s.logger.InfoContext(ctx, "fee_service: withdrawal requested",
		slog.String("tx_id", tx.ID),
		slog.Int64("amount", amount),
		slog.String("destination", destination),
	)
	return tx, nil
}

// Status reports the current fee custody state.
func (s *FeeService) Status(ctx context.Context) (domain.FeeLedgerStatus, error) {
	custody, err := s.store.GetTreasury(ctx, s.custodyID)
	if err != nil {
		return domain.FeeLedgerStatus{}, fmt.Errorf("fee_service: load custody: %w", err)
	}

	total, err := s.fees.TotalCredited(ctx, s.custodyID)
	if err != nil {
		return domain.FeeLedgerStatus{}, fmt.Errorf("fee_service: total credited: %w", err)
	}

	periodStart := s.now().Add(-s.cfg.CapPeriod)
	withdrawn, err := s.fees.SumWithdrawalsSince(ctx, s.custodyID, periodStart)
	if err != nil {
		return domain.FeeLedgerStatus{}, fmt.Errorf("fee_service: period withdrawals: %w", err)
	}

	return domain.FeeLedgerStatus{
		CustodyID:       s.custodyID,
		Balance:         custody.Balance,
		TotalCredited:   total,
		PeriodWithdrawn: withdrawn,
		PeriodStart:     periodStart,
	}, nil
}

// checkWithdrawal gates execution of an approved withdrawal. The balance
// check is repeated atomically inside the store commit; the cap is enforced
// here because it spans multiple transactions.
func (s *FeeService) checkWithdrawal(ctx context.Context, t domain.Treasury, tx domain.Transaction) error {
	if t.ID != s.custodyID {
		return domain.ErrUnauthorized
	}
	if t.Balance < tx.Amount {
		return domain.ErrInsufficientLedgerBalance
	}
	return s.checkCap(ctx, tx.Amount)
}

// recordWithdrawal runs after the withdrawal transfer succeeded and books the
// amount against the current cap period.
func (s *FeeService) recordWithdrawal(ctx context.Context, t domain.Treasury, tx domain.Transaction) error {
	executedAt := s.now()
	if tx.ExecutedAt != nil {
		executedAt = *tx.ExecutedAt
	}
	err := s.fees.RecordWithdrawal(ctx, domain.FeeWithdrawal{
		TransactionID: tx.ID,
		CustodyID:     s.custodyID,
		Destination:   tx.Destination,
		Amount:        tx.Amount,
		RequestedBy:   tx.SubmittedBy,
		ExecutedAt:    executedAt,
	})
	if err != nil {
		return fmt.Errorf("fee_service: record withdrawal %s: %w", tx.ID, err)
	}
	return nil
}

func (s *FeeService) checkCap(ctx context.Context, amount int64) error {
	if s.cfg.WithdrawalCap <= 0 {
		return nil
	}
	withdrawn, err := s.fees.SumWithdrawalsSince(ctx, s.custodyID, s.now().Add(-s.cfg.CapPeriod))
	if err != nil {
		return fmt.Errorf("fee_service: sum period withdrawals: %w", err)
	}
	if withdrawn+amount > s.cfg.WithdrawalCap {
		return domain.ErrExceedsLimit
	}
	return nil
}
