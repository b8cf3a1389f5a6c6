package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmercadal/pairvault/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

// TreasuryStore implements domain.TreasuryStore using PostgreSQL. Every
// multi-row operation runs in a single transaction with FOR UPDATE row locks
// so concurrent approve/execute races resolve to definite outcomes.
type TreasuryStore struct {
	pool *pgxpool.Pool
}

// NewTreasuryStore creates a new TreasuryStore backed by the given pool.
func NewTreasuryStore(pool *pgxpool.Pool) *TreasuryStore {
	return &TreasuryStore{pool: pool}
}

// CreateTreasury inserts a new treasury row.
func (s *TreasuryStore) CreateTreasury(ctx context.Context, t domain.Treasury) error {
	const query = `
		INSERT INTO treasuries (id, kind, owners, threshold, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, string(t.Kind), ownersToStrings(t.Owners), t.Threshold, t.Balance, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create treasury %s: %w", t.ID, err)
	}
	return nil
}

// GetTreasury loads a treasury by id.
func (s *TreasuryStore) GetTreasury(ctx context.Context, id string) (domain.Treasury, error) {
	const query = `
		SELECT id, kind, owners, threshold, balance, created_at, updated_at
		FROM treasuries WHERE id = $1`

	t, err := scanTreasury(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Treasury{}, domain.ErrNotFound
		}
		return domain.Treasury{}, fmt.Errorf("postgres: get treasury %s: %w", id, err)
	}
	return t, nil
}

// ListTreasuriesByOwner returns treasuries that include owner in their set.
func (s *TreasuryStore) ListTreasuriesByOwner(ctx context.Context, owner domain.Identity, opts domain.ListOpts) ([]domain.Treasury, error) {
	query := `
		SELECT id, kind, owners, threshold, balance, created_at, updated_at
		FROM treasuries WHERE $1 = ANY(owners)
		ORDER BY created_at`
	args := []any{string(owner)}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list treasuries by owner %s: %w", owner, err)
	}
	defer rows.Close()

	var out []domain.Treasury
	for rows.Next() {
		t, err := scanTreasury(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan treasury: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list treasuries rows: %w", err)
	}
	return out, nil
}

// Deposit adds incoming value to a treasury balance.
func (s *TreasuryStore) Deposit(ctx context.Context, id string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	const query = `
		UPDATE treasuries SET balance = balance + $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, amount, id)
	if err != nil {
		return fmt.Errorf("postgres: deposit to treasury %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateTransaction inserts a pending transaction with no approvals.
func (s *TreasuryStore) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	const query = `
		INSERT INTO treasury_transactions
			(id, treasury_id, kind, destination, amount, payload, submitted_by, executed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`

	var payload any
	if len(tx.Payload) > 0 {
		payload = tx.Payload
	}

	_, err := s.pool.Exec(ctx, query,
		tx.ID, tx.TreasuryID, string(tx.Kind), tx.Destination, tx.Amount,
		payload, string(tx.SubmittedBy), tx.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create transaction %s: %w", tx.ID, err)
	}
	return nil
}

// GetTransaction loads a transaction with its approvals.
func (s *TreasuryStore) GetTransaction(ctx context.Context, treasuryID, txID string) (domain.Transaction, error) {
	tx, err := s.getTransaction(ctx, s.pool, treasuryID, txID, false)
	if err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// ListTransactions returns a treasury's transactions ordered by creation.
func (s *TreasuryStore) ListTransactions(ctx context.Context, treasuryID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `
		SELECT id, treasury_id, kind, destination, amount, payload, submitted_by, executed, created_at, executed_at
		FROM treasury_transactions WHERE treasury_id = $1
		ORDER BY created_at`
	args := []any{treasuryID}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions for %s: %w", treasuryID, err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", err)
	}

	for i := range out {
		if err := s.loadApprovals(ctx, s.pool, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddApproval records owner's approval of a pending transaction. The
// (transaction_id, owner_id) primary key turns a double approval into a
// definite ErrDuplicateApproval.
func (s *TreasuryStore) AddApproval(ctx context.Context, treasuryID, txID string, owner domain.Identity) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := s.getTransaction(ctx, tx, treasuryID, txID, true)
		if err != nil {
			return err
		}
		if t.Executed {
			return domain.ErrAlreadyExecuted
		}

		const query = `
			INSERT INTO transaction_approvals (transaction_id, owner_id) VALUES ($1, $2)`
		if _, err := tx.Exec(ctx, query, txID, string(owner)); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateApproval
			}
			return fmt.Errorf("postgres: add approval %s/%s: %w", txID, owner, err)
		}
		return nil
	})
}

// RemoveApproval revokes owner's approval if present.
func (s *TreasuryStore) RemoveApproval(ctx context.Context, treasuryID, txID string, owner domain.Identity) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := s.getTransaction(ctx, tx, treasuryID, txID, true)
		if err != nil {
			return err
		}
		if t.Executed {
			return domain.ErrAlreadyExecuted
		}

		const query = `
			DELETE FROM transaction_approvals WHERE transaction_id = $1 AND owner_id = $2`
		if _, err := tx.Exec(ctx, query, txID, string(owner)); err != nil {
			return fmt.Errorf("postgres: remove approval %s/%s: %w", txID, owner, err)
		}
		return nil
	})
}

// MarkExecuted finalizes a transfer transaction: pending check, threshold
// check against distinct owner approvals, balance check, then flag flip and
// balance decrement, all under row locks in one transaction.
func (s *TreasuryStore) MarkExecuted(ctx context.Context, treasuryID, txID string) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		treasury, pending, err := s.lockForExecution(ctx, tx, treasuryID, txID)
		if err != nil {
			return err
		}
		if treasury.Balance < pending.Amount {
			return domain.ErrInsufficientBalance
		}

		now := time.Now().UTC()
		const updateTx = `
			UPDATE treasury_transactions SET executed = TRUE, executed_at = $1 WHERE id = $2`
		if _, err := tx.Exec(ctx, updateTx, now, txID); err != nil {
			return fmt.Errorf("postgres: mark executed %s: %w", txID, err)
		}

		const updateBalance = `
			UPDATE treasuries SET balance = balance - $1, updated_at = $2 WHERE id = $3`
		if _, err := tx.Exec(ctx, updateBalance, pending.Amount, now, treasuryID); err != nil {
			return fmt.Errorf("postgres: debit treasury %s: %w", treasuryID, err)
		}

		pending.Executed = true
		pending.ExecutedAt = &now
		out = pending
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return out, nil
}

// RevertExecution undoes MarkExecuted after a failed outbound transfer. The
// executed flag and balance revert together in one transaction.
func (s *TreasuryStore) RevertExecution(ctx context.Context, treasuryID, txID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := s.getTransaction(ctx, tx, treasuryID, txID, true)
		if err != nil {
			return err
		}
		if !t.Executed {
			return domain.ErrUnknownTransaction
		}

		const revertTx = `
			UPDATE treasury_transactions SET executed = FALSE, executed_at = NULL WHERE id = $1`
		if _, err := tx.Exec(ctx, revertTx, txID); err != nil {
			return fmt.Errorf("postgres: revert execution %s: %w", txID, err)
		}

		const creditBack = `
			UPDATE treasuries SET balance = balance + $1, updated_at = NOW() WHERE id = $2`
		if _, err := tx.Exec(ctx, creditBack, t.Amount, treasuryID); err != nil {
			return fmt.Errorf("postgres: credit back treasury %s: %w", treasuryID, err)
		}
		return nil
	})
}

// ApplyGovernance finalizes a governance transaction: same guards as
// MarkExecuted (minus the balance check), then replaces the owner set and
// threshold and prunes approvals by removed owners from pending transactions.
func (s *TreasuryStore) ApplyGovernance(ctx context.Context, treasuryID, txID string, owners []domain.Identity, threshold int) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, pending, err := s.lockForExecution(ctx, tx, treasuryID, txID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		const updateTx = `
			UPDATE treasury_transactions SET executed = TRUE, executed_at = $1 WHERE id = $2`
		if _, err := tx.Exec(ctx, updateTx, now, txID); err != nil {
			return fmt.Errorf("postgres: mark governance executed %s: %w", txID, err)
		}

		const updateTreasury = `
			UPDATE treasuries SET owners = $1, threshold = $2, updated_at = $3 WHERE id = $4`
		if _, err := tx.Exec(ctx, updateTreasury, ownersToStrings(owners), threshold, now, treasuryID); err != nil {
			return fmt.Errorf("postgres: update owners for %s: %w", treasuryID, err)
		}

		// Keep approvals a subset of the new owner set on every pending
		// transaction of this treasury.
		const prune = `
			DELETE FROM transaction_approvals
			WHERE owner_id <> ALL($1)
			  AND transaction_id IN (
				SELECT id FROM treasury_transactions
				WHERE treasury_id = $2 AND executed = FALSE
			  )`
		if _, err := tx.Exec(ctx, prune, ownersToStrings(owners), treasuryID); err != nil {
			return fmt.Errorf("postgres: prune approvals for %s: %w", treasuryID, err)
		}

		pending.Executed = true
		pending.ExecutedAt = &now
		out = pending
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *TreasuryStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// lockForExecution locks the treasury and transaction rows, verifies the
// transaction is pending, and checks the approval threshold.
func (s *TreasuryStore) lockForExecution(ctx context.Context, tx pgx.Tx, treasuryID, txID string) (domain.Treasury, domain.Transaction, error) {
	const lockTreasury = `
		SELECT id, kind, owners, threshold, balance, created_at, updated_at
		FROM treasuries WHERE id = $1 FOR UPDATE`

	treasury, err := scanTreasury(tx.QueryRow(ctx, lockTreasury, treasuryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Treasury{}, domain.Transaction{}, domain.ErrUnknownTransaction
		}
		return domain.Treasury{}, domain.Transaction{}, fmt.Errorf("postgres: lock treasury %s: %w", treasuryID, err)
	}

	pending, err := s.getTransaction(ctx, tx, treasuryID, txID, true)
	if err != nil {
		return domain.Treasury{}, domain.Transaction{}, err
	}
	if pending.Executed {
		return domain.Treasury{}, domain.Transaction{}, domain.ErrAlreadyExecuted
	}

	distinct := 0
	for _, a := range pending.Approvals {
		if treasury.IsOwner(a) {
			distinct++
		}
	}
	if distinct < treasury.Threshold {
		return domain.Treasury{}, domain.Transaction{}, domain.ErrThresholdNotMet
	}

	return treasury, pending, nil
}

// getTransaction loads a transaction and its approvals, optionally locking
// the transaction row.
func (s *TreasuryStore) getTransaction(ctx context.Context, q querier, treasuryID, txID string, forUpdate bool) (domain.Transaction, error) {
	query := `
		SELECT id, treasury_id, kind, destination, amount, payload, submitted_by, executed, created_at, executed_at
		FROM treasury_transactions WHERE id = $1 AND treasury_id = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}

	tx, err := scanTransaction(q.QueryRow(ctx, query, txID, treasuryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrUnknownTransaction
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", txID, err)
	}

	if err := s.loadApprovals(ctx, q, &tx); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

func (s *TreasuryStore) loadApprovals(ctx context.Context, q querier, tx *domain.Transaction) error {
	const query = `
		SELECT owner_id FROM transaction_approvals
		WHERE transaction_id = $1 ORDER BY approved_at`

	rows, err := q.Query(ctx, query, tx.ID)
	if err != nil {
		return fmt.Errorf("postgres: load approvals for %s: %w", tx.ID, err)
	}
	defer rows.Close()

	tx.Approvals = nil
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return fmt.Errorf("postgres: scan approval: %w", err)
		}
		tx.Approvals = append(tx.Approvals, domain.Identity(owner))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: approvals rows for %s: %w", tx.ID, err)
	}
	return nil
}

func scanTreasury(row pgx.Row) (domain.Treasury, error) {
	var t domain.Treasury
	var kind string
	var owners []string

	err := row.Scan(&t.ID, &kind, &owners, &t.Threshold, &t.Balance, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Treasury{}, err
	}

	t.Kind = domain.TreasuryKind(kind)
	t.Owners = stringsToOwners(owners)
	return t, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var tx domain.Transaction
	var kind, submittedBy string
	var payload []byte

	err := row.Scan(
		&tx.ID, &tx.TreasuryID, &kind, &tx.Destination, &tx.Amount,
		&payload, &submittedBy, &tx.Executed, &tx.CreatedAt, &tx.ExecutedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx.Kind = domain.TransactionKind(kind)
	tx.SubmittedBy = domain.Identity(submittedBy)
	tx.Payload = payload
	return tx, nil
}

func ownersToStrings(owners []domain.Identity) []string {
	out := make([]string, len(owners))
	for i, o := range owners {
		out[i] = string(o)
	}
	return out
}

func stringsToOwners(ss []string) []domain.Identity {
	out := make([]domain.Identity, len(ss))
	for i, s := range ss {
		out[i] = domain.Identity(s)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Compile-time interface check.
var _ domain.TreasuryStore = (*TreasuryStore)(nil)
