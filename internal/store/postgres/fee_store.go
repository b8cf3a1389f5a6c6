package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmercadal/pairvault/internal/domain"
)

// FeeStore implements domain.FeeStore using PostgreSQL.
type FeeStore struct {
	pool *pgxpool.Pool
}

// NewFeeStore creates a new FeeStore backed by the given pool.
func NewFeeStore(pool *pgxpool.Pool) *FeeStore {
	return &FeeStore{pool: pool}
}

// TotalCredited sums every fee ever credited to the custody treasury.
func (s *FeeStore) TotalCredited(ctx context.Context, custodyID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0) FROM fee_credits WHERE custody_id = $1`

	var total int64
	if err := s.pool.QueryRow(ctx, query, custodyID).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: total credited for %s: %w", custodyID, err)
	}
	return total, nil
}

// RecordWithdrawal records an executed fee withdrawal.
func (s *FeeStore) RecordWithdrawal(ctx context.Context, w domain.FeeWithdrawal) error {
	const query = `
		INSERT INTO fee_withdrawals (transaction_id, custody_id, destination, amount, requested_by, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		w.TransactionID, w.CustodyID, w.Destination, w.Amount, string(w.RequestedBy), w.ExecutedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: record withdrawal %s: %w", w.TransactionID, err)
	}
	return nil
}

// SumWithdrawalsSince sums withdrawals executed at or after since.
func (s *FeeStore) SumWithdrawalsSince(ctx context.Context, custodyID string, since time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0) FROM fee_withdrawals
		WHERE custody_id = $1 AND executed_at >= $2`

	var total int64
	if err := s.pool.QueryRow(ctx, query, custodyID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum withdrawals for %s: %w", custodyID, err)
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.FeeStore = (*FeeStore)(nil)
