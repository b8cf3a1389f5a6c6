package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/notify"
	"github.com/jmercadal/pairvault/internal/policy"
)

// ExecuteHook lets other services attach per-kind policy around execution.
// Before runs after the threshold pre-check and can veto the execution; After
// runs once the outbound transfer has succeeded. Hook errors from After are
// logged, not propagated: by then the transfer is final.
type ExecuteHook struct {
	Before func(ctx context.Context, t domain.Treasury, tx domain.Transaction) error
	After  func(ctx context.Context, t domain.Treasury, tx domain.Transaction) error
}

// TreasuryService owns the treasury lifecycle: creation, deposits, and the
// submit/approve/revoke/execute pipeline every outbound operation rides.
type TreasuryService struct {
	store       domain.TreasuryStore
	audit       domain.AuditStore
	bus         domain.EventBus
	ledger      domain.Ledger
	identity    domain.IdentityProvider
	notifier    *notify.Notifier
	hooks       map[domain.TransactionKind]ExecuteHook
	maxTxAmount int64
	logger      *slog.Logger
}

// NewTreasuryService creates a TreasuryService with all required dependencies.
func NewTreasuryService(
	store domain.TreasuryStore,
	audit domain.AuditStore,
	bus domain.EventBus,
	ledger domain.Ledger,
	ident domain.IdentityProvider,
	logger *slog.Logger,
) *TreasuryService {
	return &TreasuryService{
		store:    store,
		audit:    audit,
		bus:      bus,
		ledger:   ledger,
		identity: ident,
		hooks:    make(map[domain.TransactionKind]ExecuteHook),
		logger:   logger,
	}
}

// WithNotifier attaches an operator notifier. Without one, notifications are
// silently skipped.
func (s *TreasuryService) WithNotifier(n *notify.Notifier) *TreasuryService {
	s.notifier = n
	return s
}

// WithMaxTransactionAmount sets the per-transaction amount cap enforced at
// submit time. Zero disables the cap.
func (s *TreasuryService) WithMaxTransactionAmount(max int64) *TreasuryService {
	s.maxTxAmount = max
	return s
}

// RegisterHook attaches an execution hook for a transaction kind, replacing
// any previous hook for that kind.
func (s *TreasuryService) RegisterHook(kind domain.TransactionKind, h ExecuteHook) {
	s.hooks[kind] = h
}

// Create provisions a new jointly-owned treasury under a random id. The owner
// set and threshold must satisfy the joint-control invariant.
func (s *TreasuryService) Create(ctx context.Context, kind domain.TreasuryKind, owners []domain.Identity, threshold int) (domain.Treasury, error) {
	return s.CreateWithID(ctx, uuid.NewString(), kind, owners, threshold)
}

// CreateWithID provisions a treasury under a caller-chosen id, for treasuries
// whose ids are derived rather than random (the fee custody).
func (s *TreasuryService) CreateWithID(ctx context.Context, id string, kind domain.TreasuryKind, owners []domain.Identity, threshold int) (domain.Treasury, error) {
	if err := policy.ValidateOwners(owners, threshold); err != nil {
		return domain.Treasury{}, err
	}

	now := time.Now().UTC()
	t := domain.Treasury{
		ID:        id,
		Kind:      kind,
		Owners:    owners,
		Threshold: threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateTreasury(ctx, t); err != nil {
		return domain.Treasury{}, fmt.Errorf("treasury_service: create: %w", err)
	}

	s.auditLog(ctx, "treasury_created", map[string]any{
		"treasury_id": t.ID,
		"kind":        string(t.Kind),
		"owners":      identityStrings(t.Owners),
		"threshold":   t.Threshold,
	})
	s.publish(ctx, "ch:treasury", map[string]any{
		"event":       "treasury_created",
		"treasury_id": t.ID,
	})

	s.logger.InfoContext(ctx, "treasury_service: treasury created",
		slog.String("treasury_id", t.ID),
		slog.Int("owners", len(t.Owners)),
		slog.Int("threshold", t.Threshold),
	)
	return t, nil
}

// Deposit credits incoming value to a treasury. Deposits are unconditional;
// only outbound movement needs approvals.
func (s *TreasuryService) Deposit(ctx context.Context, treasuryID string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := s.store.Deposit(ctx, treasuryID, amount); err != nil {
		return fmt.Errorf("treasury_service: deposit to %s: %w", treasuryID, err)
	}

	s.auditLog(ctx, "treasury_deposit", map[string]any{
		"treasury_id": treasuryID,
		"amount":      amount,
	})
	return nil
}

// Get retrieves a treasury by id.
func (s *TreasuryService) Get(ctx context.Context, id string) (domain.Treasury, error) {
	t, err := s.store.GetTreasury(ctx, id)
	if err != nil {
		return domain.Treasury{}, fmt.Errorf("treasury_service: get %s: %w", id, err)
	}
	return t, nil
}

// ListByOwner returns treasuries that owner belongs to.
func (s *TreasuryService) ListByOwner(ctx context.Context, owner domain.Identity, opts domain.ListOpts) ([]domain.Treasury, error) {
	out, err := s.store.ListTreasuriesByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("treasury_service: list by owner %s: %w", owner, err)
	}
	return out, nil
}

// GetTransaction retrieves a transaction with its approvals.
func (s *TreasuryService) GetTransaction(ctx context.Context, treasuryID, txID string) (domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, treasuryID, txID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("treasury_service: get transaction %s: %w", txID, err)
	}
	return tx, nil
}

// ListTransactions returns a treasury's transactions.
func (s *TreasuryService) ListTransactions(ctx context.Context, treasuryID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	out, err := s.store.ListTransactions(ctx, treasuryID, opts)
	if err != nil {
		return nil, fmt.Errorf("treasury_service: list transactions for %s: %w", treasuryID, err)
	}
	return out, nil
}

// SubmitRequest carries the parameters of a new pending transaction.
type SubmitRequest struct {
	TreasuryID  string
	Kind        domain.TransactionKind
	Destination string
	Amount      int64
	Payload     []byte
	SubmittedBy domain.Identity
}

// Submit proposes a new transaction on a treasury. Only owners may submit;
// submission never moves value. Governance payloads are validated up front so
// an unexecutable change is rejected at submit time, not at execute time.
func (s *TreasuryService) Submit(ctx context.Context, req SubmitRequest) (domain.Transaction, error) {
	t, err := s.store.GetTreasury(ctx, req.TreasuryID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("treasury_service: submit to %s: %w", req.TreasuryID, err)
	}
	if !t.IsOwner(req.SubmittedBy) {
		return domain.Transaction{}, domain.ErrNotAnOwner
	}
	if err := s.checkOwner(ctx, req.SubmittedBy); err != nil {
		return domain.Transaction{}, err
	}

	switch req.Kind {
	case domain.TransactionKindTransfer, domain.TransactionKindFeeWithdrawal:
		if req.Amount <= 0 {
			return domain.Transaction{}, domain.ErrInvalidAmount
		}
		if s.maxTxAmount > 0 && req.Amount > s.maxTxAmount {
			return domain.Transaction{}, fmt.Errorf("treasury_service: %w: amount %d above cap %d", domain.ErrInvalidAmount, req.Amount, s.maxTxAmount)
		}
		if req.Destination == "" {
			return domain.Transaction{}, fmt.Errorf("treasury_service: %w: empty destination", domain.ErrInvalidAmount)
		}
	case domain.TransactionKindGovernance:
		var change domain.GovernanceChange
		if err := json.Unmarshal(req.Payload, &change); err != nil {
			return domain.Transaction{}, fmt.Errorf("treasury_service: decode governance payload: %w", err)
		}
		if _, _, err := policy.ApplyGovernance(t.Owners, t.Threshold, change); err != nil {
			return domain.Transaction{}, err
		}
	default:
		return domain.Transaction{}, fmt.Errorf("treasury_service: unknown transaction kind %q", req.Kind)
	}

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		TreasuryID:  req.TreasuryID,
		Kind:        req.Kind,
		Destination: req.Destination,
		Amount:      req.Amount,
		Payload:     req.Payload,
		SubmittedBy: req.SubmittedBy,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("treasury_service: create transaction: %w", err)
	}

	s.auditLog(ctx, "transaction_submitted", map[string]any{
		"treasury_id":  tx.TreasuryID,
		"tx_id":        tx.ID,
		"kind":         string(tx.Kind),
		"destination":  tx.Destination,
		"amount":       tx.Amount,
		"submitted_by": string(tx.SubmittedBy),
	})
	s.publish(ctx, "ch:treasury", map[string]any{
		"event":       "transaction_submitted",
		"treasury_id": tx.TreasuryID,
		"tx_id":       tx.ID,
	})

	s.logger.InfoContext(ctx, "treasury_service: transaction submitted",
		slog.String("treasury_id", tx.TreasuryID),
		slog.String("tx_id", tx.ID),
		slog.String("kind", string(tx.Kind)),
	)
	return tx, nil
}

// Approve records owner's approval of a pending transaction. Each owner
// approves at most once; executed transactions cannot gain approvals.
func (s *TreasuryService) Approve(ctx context.Context, treasuryID, txID string, owner domain.Identity) error {
	t, err := s.store.GetTreasury(ctx, treasuryID)
	if err != nil {
		return fmt.Errorf("treasury_service: approve on %s: %w", treasuryID, err)
	}
	if !t.IsOwner(owner) {
		return domain.ErrNotAnOwner
	}
	if err := s.checkOwner(ctx, owner); err != nil {
		return err
	}

	if err := s.store.AddApproval(ctx, treasuryID, txID, owner); err != nil {
		return fmt.Errorf("treasury_service: approve %s: %w", txID, err)
	}

	s.auditLog(ctx, "transaction_approved", map[string]any{
		"treasury_id": treasuryID,
		"tx_id":       txID,
		"owner":       string(owner),
	})
	return nil
}

// Revoke withdraws owner's approval from a still-pending transaction.
// Revoking an approval that was never given is a no-op.
func (s *TreasuryService) Revoke(ctx context.Context, treasuryID, txID string, owner domain.Identity) error {
	t, err := s.store.GetTreasury(ctx, treasuryID)
	if err != nil {
		return fmt.Errorf("treasury_service: revoke on %s: %w", treasuryID, err)
	}
	if !t.IsOwner(owner) {
		return domain.ErrNotAnOwner
	}
	if err := s.checkOwner(ctx, owner); err != nil {
		return err
	}

	if err := s.store.RemoveApproval(ctx, treasuryID, txID, owner); err != nil {
		return fmt.Errorf("treasury_service: revoke %s: %w", txID, err)
	}

	s.auditLog(ctx, "approval_revoked", map[string]any{
		"treasury_id": treasuryID,
		"tx_id":       txID,
		"owner":       string(owner),
	})
	return nil
}

// Execute finalizes an approved transaction. For transfers the store commits
// the executed flag and balance decrement first, then the outbound ledger
// transfer runs; a reentrant Execute during the transfer sees committed state
// and fails with ErrAlreadyExecuted. A failed transfer reverts the commit in
// one atomic step, leaving the transaction pending and the balance intact.
func (s *TreasuryService) Execute(ctx context.Context, treasuryID, txID string, caller domain.Identity) (domain.Transaction, error) {
	t, err := s.store.GetTreasury(ctx, treasuryID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("treasury_service: execute on %s: %w", treasuryID, err)
	}
	if !t.IsOwner(caller) {
		return domain.Transaction{}, domain.ErrNotAnOwner
	}
	if err := s.checkOwner(ctx, caller); err != nil {
		return domain.Transaction{}, err
	}

	tx, err := s.store.GetTransaction(ctx, treasuryID, txID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("treasury_service: execute %s: %w", txID, err)
	}
	if tx.Executed {
		return domain.Transaction{}, domain.ErrAlreadyExecuted
	}
	if err := policy.Authorize(t.Owners, t.Threshold, tx.Approvals); err != nil {
		return domain.Transaction{}, err
	}

	if hook, ok := s.hooks[tx.Kind]; ok && hook.Before != nil {
		if err := hook.Before(ctx, t, tx); err != nil {
			return domain.Transaction{}, err
		}
	}

	if tx.Kind == domain.TransactionKindGovernance {
		return s.executeGovernance(ctx, t, tx, caller)
	}
	return s.executeTransfer(ctx, t, tx, caller)
}

func (s *TreasuryService) executeTransfer(ctx context.Context, t domain.Treasury, tx domain.Transaction, caller domain.Identity) (domain.Transaction, error) {
	executed, err := s.store.MarkExecuted(ctx, t.ID, tx.ID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("treasury_service: mark executed %s: %w", tx.ID, err)
	}

	// Treasury state is final; only now does external code run.
	if err := s.ledger.Transfer(ctx, executed.Destination, executed.Amount); err != nil {
		if revertErr := s.store.RevertExecution(ctx, t.ID, tx.ID); revertErr != nil {
			s.logger.ErrorContext(ctx, "treasury_service: revert after failed transfer",
				slog.String("tx_id", tx.ID),
				slog.String("error", revertErr.Error()),
			)
		}
		s.auditLog(ctx, "execution_reverted", map[string]any{
			"treasury_id": t.ID,
			"tx_id":       tx.ID,
			"destination": executed.Destination,
			"amount":      executed.Amount,
			"error":       err.Error(),
		})
		return domain.Transaction{}, fmt.Errorf("treasury_service: transfer for %s: %w", tx.ID, err)
	}

	if hook, ok := s.hooks[tx.Kind]; ok && hook.After != nil {
		if hookErr := hook.After(ctx, t, executed); hookErr != nil {
			s.logger.ErrorContext(ctx, "treasury_service: post-execute hook",
				slog.String("tx_id", tx.ID),
				slog.String("kind", string(tx.Kind)),
				slog.String("error", hookErr.Error()),
			)
		}
	}

	s.auditLog(ctx, "transaction_executed", map[string]any{
		"treasury_id": t.ID,
		"tx_id":       executed.ID,
		"kind":        string(executed.Kind),
		"destination": executed.Destination,
		"amount":      executed.Amount,
		"executed_by": string(caller),
	})
	s.publish(ctx, "ch:treasury", map[string]any{
		"event":       "transaction_executed",
		"treasury_id": t.ID,
		"tx_id":       executed.ID,
	})
	s.notify(ctx, "transaction_executed", "Transaction executed",
		fmt.Sprintf("treasury %s sent %d units to %s", t.ID, executed.Amount, executed.Destination))

	s.logger.InfoContext(ctx, "treasury_service: transaction executed",
		slog.String("treasury_id", t.ID),
		slog.String("tx_id", executed.ID),
		slog.Int64("amount", executed.Amount),
	)
	return executed, nil
}

func (s *TreasuryService) executeGovernance(ctx context.Context, t domain.Treasury, tx domain.Transaction, caller domain.Identity) (domain.Transaction, error) {
	change, err := tx.DecodeGovernance()
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("treasury_service: %w", err)
	}
	owners, threshold, err := policy.ApplyGovernance(t.Owners, t.Threshold, change)
	if err != nil {
		return domain.Transaction{}, err
	}

	executed, err := s.store.ApplyGovernance(ctx, t.ID, tx.ID, owners, threshold)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("treasury_service: apply governance %s: %w", tx.ID, err)
	}

	s.auditLog(ctx, "governance_executed", map[string]any{
		"treasury_id":   t.ID,
		"tx_id":         executed.ID,
		"owners":        identityStrings(owners),
		"threshold":     threshold,
		"add_owners":    identityStrings(change.AddOwners),
		"remove_owners": identityStrings(change.RemoveOwners),
		"executed_by":   string(caller),
	})
	s.publish(ctx, "ch:treasury", map[string]any{
		"event":       "governance_executed",
		"treasury_id": t.ID,
		"tx_id":       executed.ID,
	})

	s.logger.InfoContext(ctx, "treasury_service: governance executed",
		slog.String("treasury_id", t.ID),
		slog.String("tx_id", executed.ID),
		slog.Int("owners", len(owners)),
		slog.Int("threshold", threshold),
	)
	return executed, nil
}

// checkOwner verifies the acting owner is still active and unblocked with the
// identity provider. Owner-set membership alone does not grant control: a
// revoked identity keeps its owner slot but cannot operate the treasury until
// reinstated.
func (s *TreasuryService) checkOwner(ctx context.Context, id domain.Identity) error {
	active, err := s.identity.IsActive(ctx, id)
	if err != nil {
		return fmt.Errorf("treasury_service: identity check %s: %w", id, err)
	}
	if !active {
		return domain.ErrUnknownIdentity
	}
	blocked, err := s.identity.IsBlocked(ctx, id)
	if err != nil {
		return fmt.Errorf("treasury_service: identity check %s: %w", id, err)
	}
	if blocked {
		return domain.ErrUnknownIdentity
	}
	return nil
}

// auditLog writes an audit entry, logging but not propagating failures: audit
// unavailability must not block value movement that already happened.
func (s *TreasuryService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "treasury_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TreasuryService) publish(ctx context.Context, channel string, payload map[string]any) {
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, channel, evt); err != nil {
		s.logger.WarnContext(ctx, "treasury_service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "stream:"+channel, evt); err != nil {
		s.logger.WarnContext(ctx, "treasury_service: stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *TreasuryService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "treasury_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func identityStrings(ids []domain.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
