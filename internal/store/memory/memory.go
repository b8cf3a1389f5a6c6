// Package memory implements every domain store interface in process memory
// behind a single mutex. It backs the "memory" storage mode and the service
// tests; the error semantics match the PostgreSQL implementation exactly,
// including the atomicity of MarkExecuted, ApplyGovernance, and Provision.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmercadal/pairvault/internal/domain"
)

// Store holds all state for the in-memory backend.
type Store struct {
	mu sync.Mutex

	treasuries   map[string]*domain.Treasury
	transactions map[string]map[string]*domain.Transaction // treasuryID -> txID -> tx
	signals      map[domain.Identity]map[domain.Identity]domain.InterestSignal
	matches      map[string]domain.Match
	credits      map[string]int64 // pairID -> fee credited
	withdrawals  []domain.FeeWithdrawal
	audit        []domain.AuditEntry
	auditSeq     int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		treasuries:   make(map[string]*domain.Treasury),
		transactions: make(map[string]map[string]*domain.Transaction),
		signals:      make(map[domain.Identity]map[domain.Identity]domain.InterestSignal),
		matches:      make(map[string]domain.Match),
		credits:      make(map[string]int64),
	}
}

// ---------------------------------------------------------------------------
// TreasuryStore
// ---------------------------------------------------------------------------

func (s *Store) CreateTreasury(ctx context.Context, t domain.Treasury) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.treasuries[t.ID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := t
	cp.Owners = append([]domain.Identity(nil), t.Owners...)
	s.treasuries[t.ID] = &cp
	s.transactions[t.ID] = make(map[string]*domain.Transaction)
	return nil
}

func (s *Store) GetTreasury(ctx context.Context, id string) (domain.Treasury, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.treasuries[id]
	if !ok {
		return domain.Treasury{}, domain.ErrNotFound
	}
	return copyTreasury(t), nil
}

func (s *Store) ListTreasuriesByOwner(ctx context.Context, owner domain.Identity, opts domain.ListOpts) ([]domain.Treasury, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Treasury
	for _, t := range s.treasuries {
		if t.IsOwner(owner) {
			out = append(out, copyTreasury(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (s *Store) Deposit(ctx context.Context, id string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.treasuries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	t.Balance += amount
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, ok := s.transactions[tx.TreasuryID]
	if !ok {
		return domain.ErrNotFound
	}
	if _, exists := txs[tx.ID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := copyTransaction(&tx)
	txs[tx.ID] = &cp
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, treasuryID, txID string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.lookupTx(treasuryID, txID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return copyTransaction(tx), nil
}

func (s *Store) ListTransactions(ctx context.Context, treasuryID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, ok := s.transactions[treasuryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, copyTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (s *Store) AddApproval(ctx context.Context, treasuryID, txID string, owner domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.lookupTx(treasuryID, txID)
	if err != nil {
		return err
	}
	if tx.Executed {
		return domain.ErrAlreadyExecuted
	}
	if tx.HasApproval(owner) {
		return domain.ErrDuplicateApproval
	}
	tx.Approvals = append(tx.Approvals, owner)
	return nil
}

func (s *Store) RemoveApproval(ctx context.Context, treasuryID, txID string, owner domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.lookupTx(treasuryID, txID)
	if err != nil {
		return err
	}
	if tx.Executed {
		return domain.ErrAlreadyExecuted
	}
	for i, a := range tx.Approvals {
		if a == owner {
			tx.Approvals = append(tx.Approvals[:i], tx.Approvals[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) MarkExecuted(ctx context.Context, treasuryID, txID string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.treasuries[treasuryID]
	if !ok {
		return domain.Transaction{}, domain.ErrUnknownTransaction
	}
	tx, err := s.lookupTx(treasuryID, txID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Executed {
		return domain.Transaction{}, domain.ErrAlreadyExecuted
	}
	if countDistinctOwnerApprovals(t, tx) < t.Threshold {
		return domain.Transaction{}, domain.ErrThresholdNotMet
	}
	if t.Balance < tx.Amount {
		return domain.Transaction{}, domain.ErrInsufficientBalance
	}

	now := time.Now().UTC()
	tx.Executed = true
	tx.ExecutedAt = &now
	t.Balance -= tx.Amount
	t.UpdatedAt = now
	return copyTransaction(tx), nil
}

func (s *Store) RevertExecution(ctx context.Context, treasuryID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.treasuries[treasuryID]
	if !ok {
		return domain.ErrUnknownTransaction
	}
	tx, err := s.lookupTx(treasuryID, txID)
	if err != nil {
		return err
	}
	if !tx.Executed {
		return domain.ErrUnknownTransaction
	}
	tx.Executed = false
	tx.ExecutedAt = nil
	t.Balance += tx.Amount
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ApplyGovernance(ctx context.Context, treasuryID, txID string, owners []domain.Identity, threshold int) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.treasuries[treasuryID]
	if !ok {
		return domain.Transaction{}, domain.ErrUnknownTransaction
	}
	tx, err := s.lookupTx(treasuryID, txID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Executed {
		return domain.Transaction{}, domain.ErrAlreadyExecuted
	}
	if countDistinctOwnerApprovals(t, tx) < t.Threshold {
		return domain.Transaction{}, domain.ErrThresholdNotMet
	}

	now := time.Now().UTC()
	tx.Executed = true
	tx.ExecutedAt = &now
	t.Owners = append([]domain.Identity(nil), owners...)
	t.Threshold = threshold
	t.UpdatedAt = now

	// Prune approvals of removed owners so approvals stay a subset of the
	// owner set on every pending transaction.
	for _, pending := range s.transactions[treasuryID] {
		if pending.Executed {
			continue
		}
		kept := pending.Approvals[:0]
		for _, a := range pending.Approvals {
			if t.IsOwner(a) {
				kept = append(kept, a)
			}
		}
		pending.Approvals = kept
	}

	return copyTransaction(tx), nil
}

// ---------------------------------------------------------------------------
// InterestStore
// ---------------------------------------------------------------------------

func (s *Store) RecordSignal(ctx context.Context, sig domain.InterestSignal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, ok := s.signals[sig.From]
	if !ok {
		targets = make(map[domain.Identity]domain.InterestSignal)
		s.signals[sig.From] = targets
	}
	if _, exists := targets[sig.To]; exists {
		return false, nil
	}
	targets[sig.To] = sig
	return true, nil
}

func (s *Store) HasSignal(ctx context.Context, from, to domain.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.signals[from][to]
	return ok, nil
}

// ---------------------------------------------------------------------------
// MatchStore
// ---------------------------------------------------------------------------

func (s *Store) Provision(ctx context.Context, m domain.Match, t domain.Treasury, custodyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.matches[m.PairID]; exists {
		return domain.ErrAlreadyExists
	}
	if _, exists := s.treasuries[t.ID]; exists {
		return domain.ErrAlreadyExists
	}
	custody, ok := s.treasuries[custodyID]
	if !ok {
		return domain.ErrNotFound
	}

	cp := t
	cp.Owners = append([]domain.Identity(nil), t.Owners...)
	s.treasuries[t.ID] = &cp
	s.transactions[t.ID] = make(map[string]*domain.Transaction)
	s.matches[m.PairID] = m
	s.credits[m.PairID] = m.Fee
	custody.Balance += m.Fee
	custody.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetMatch(ctx context.Context, pairID string) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[pairID]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMatchesByParty(ctx context.Context, p domain.Identity, opts domain.ListOpts) ([]domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Match
	for _, m := range s.matches {
		if m.PartyA == p || m.PartyB == p {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchedAt.Before(out[j].MatchedAt) })
	return paginate(out, opts), nil
}

func (s *Store) CountMatchesSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.matches {
		if !m.MatchedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// FeeStore
// ---------------------------------------------------------------------------

func (s *Store) TotalCredited(ctx context.Context, custodyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, c := range s.credits {
		total += c
	}
	return total, nil
}

func (s *Store) RecordWithdrawal(ctx context.Context, w domain.FeeWithdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.withdrawals = append(s.withdrawals, w)
	return nil
}

func (s *Store) SumWithdrawalsSince(ctx context.Context, custodyID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, w := range s.withdrawals {
		if w.CustodyID == custodyID && !w.ExecutedAt.Before(since) {
			total += w.Amount
		}
	}
	return total, nil
}

// ---------------------------------------------------------------------------
// AuditStore
// ---------------------------------------------------------------------------

func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditSeq++
	cp := make(map[string]any, len(detail))
	for k, v := range detail {
		cp[k] = v
	}
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        s.auditSeq,
		Event:     event,
		Detail:    cp,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (s *Store) lookupTx(treasuryID, txID string) (*domain.Transaction, error) {
	txs, ok := s.transactions[treasuryID]
	if !ok {
		return nil, domain.ErrUnknownTransaction
	}
	tx, ok := txs[txID]
	if !ok {
		return nil, domain.ErrUnknownTransaction
	}
	return tx, nil
}

func countDistinctOwnerApprovals(t *domain.Treasury, tx *domain.Transaction) int {
	n := 0
	for _, a := range tx.Approvals {
		if t.IsOwner(a) {
			n++
		}
	}
	return n
}

func copyTreasury(t *domain.Treasury) domain.Treasury {
	cp := *t
	cp.Owners = append([]domain.Identity(nil), t.Owners...)
	return cp
}

func copyTransaction(tx *domain.Transaction) domain.Transaction {
	cp := *tx
	cp.Approvals = append([]domain.Identity(nil), tx.Approvals...)
	cp.Payload = append([]byte(nil), tx.Payload...)
	if tx.ExecutedAt != nil {
		t := *tx.ExecutedAt
		cp.ExecutedAt = &t
	}
	return cp
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface checks.
var (
	_ domain.TreasuryStore = (*Store)(nil)
	_ domain.InterestStore = (*Store)(nil)
	_ domain.MatchStore    = (*Store)(nil)
	_ domain.FeeStore      = (*Store)(nil)
	_ domain.AuditStore    = (*Store)(nil)
)
