package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmercadal/pairvault/internal/domain"
)

// InterestStore implements domain.InterestStore using PostgreSQL. The
// (from_id, to_id) primary key makes repeated signals idempotent inserts.
type InterestStore struct {
	pool *pgxpool.Pool
}

// NewInterestStore creates a new InterestStore backed by the given pool.
func NewInterestStore(pool *pgxpool.Pool) *InterestStore {
	return &InterestStore{pool: pool}
}

// RecordSignal inserts the directional signal if absent. created reports
// whether a new row was written.
func (s *InterestStore) RecordSignal(ctx context.Context, sig domain.InterestSignal) (bool, error) {
	const query = `
		INSERT INTO interest_signals (from_id, to_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (from_id, to_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, string(sig.From), string(sig.To), sig.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: record signal %s->%s: %w", sig.From, sig.To, err)
	}
	return tag.RowsAffected() > 0, nil
}

// HasSignal reports whether from has signaled interest in to.
func (s *InterestStore) HasSignal(ctx context.Context, from, to domain.Identity) (bool, error) {
	const query = `
		SELECT EXISTS(SELECT 1 FROM interest_signals WHERE from_id = $1 AND to_id = $2)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, string(from), string(to)).Scan(&exists)
	if err != nil && err != pgx.ErrNoRows {
		return false, fmt.Errorf("postgres: has signal %s->%s: %w", from, to, err)
	}
	return exists, nil
}

// Compile-time interface check.
var _ domain.InterestStore = (*InterestStore)(nil)
