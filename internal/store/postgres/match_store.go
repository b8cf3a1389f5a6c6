package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmercadal/pairvault/internal/domain"
)

// MatchStore implements domain.MatchStore using PostgreSQL. Provision writes
// the match marker, the pre-funded pair treasury, and the custody fee credit
// in one transaction; the pair_id primary key guarantees a pair is provisioned
// at most once regardless of concurrent callers.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a new MatchStore backed by the given pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// Provision atomically records a realized match. A pair that is already
// matched yields ErrAlreadyExists with no side effects.
func (s *MatchStore) Provision(ctx context.Context, m domain.Match, t domain.Treasury, custodyID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin provision: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertMatch = `
		INSERT INTO matches (pair_id, party_a, party_b, treasury_id, fee, reward, matched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pair_id) DO NOTHING`

	tag, err := tx.Exec(ctx, insertMatch,
		m.PairID, string(m.PartyA), string(m.PartyB), m.TreasuryID, m.Fee, m.Reward, m.MatchedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert match %s: %w", m.PairID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}

	const insertTreasury = `
		INSERT INTO treasuries (id, kind, owners, threshold, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`

	if _, err := tx.Exec(ctx, insertTreasury,
		t.ID, string(t.Kind), ownersToStrings(t.Owners), t.Threshold, t.Balance, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert pair treasury %s: %w", t.ID, err)
	}

	const creditFee = `
		INSERT INTO fee_credits (pair_id, custody_id, amount, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := tx.Exec(ctx, creditFee, m.PairID, custodyID, m.Fee, m.MatchedAt); err != nil {
		return fmt.Errorf("postgres: credit fee for %s: %w", m.PairID, err)
	}

	const fundCustody = `
		UPDATE treasuries SET balance = balance + $1, updated_at = NOW() WHERE id = $2`

	res, err := tx.Exec(ctx, fundCustody, m.Fee, custodyID)
	if err != nil {
		return fmt.Errorf("postgres: fund custody %s: %w", custodyID, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("postgres: fund custody %s: %w", custodyID, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit provision %s: %w", m.PairID, err)
	}
	return nil
}

// GetMatch loads a match by pair id.
func (s *MatchStore) GetMatch(ctx context.Context, pairID string) (domain.Match, error) {
	const query = `
		SELECT pair_id, party_a, party_b, treasury_id, fee, reward, matched_at
		FROM matches WHERE pair_id = $1`

	m, err := scanMatch(s.pool.QueryRow(ctx, query, pairID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrNotFound
		}
		return domain.Match{}, fmt.Errorf("postgres: get match %s: %w", pairID, err)
	}
	return m, nil
}

// ListMatchesByParty returns matches involving p on either side.
func (s *MatchStore) ListMatchesByParty(ctx context.Context, p domain.Identity, opts domain.ListOpts) ([]domain.Match, error) {
	query := `
		SELECT pair_id, party_a, party_b, treasury_id, fee, reward, matched_at
		FROM matches WHERE party_a = $1 OR party_b = $1
		ORDER BY matched_at DESC`
	args := []any{string(p)}

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
		return nil, fmt.Errorf("postgres: list matches for %s: %w", p, err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list matches rows: %w", err)
	}
	return out, nil
}

// CountMatchesSince counts matches realized at or after since.
func (s *MatchStore) CountMatchesSince(ctx context.Context, since time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM matches WHERE matched_at >= $1`

	var n int64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count matches since %s: %w", since, err)
	}
	return n, nil
}

func scanMatch(row pgx.Row) (domain.Match, error) {
	var m domain.Match
	var partyA, partyB string

	err := row.Scan(&m.PairID, &partyA, &partyB, &m.TreasuryID, &m.Fee, &m.Reward, &m.MatchedAt)
	if err != nil {
		return domain.Match{}, err
	}

	m.PartyA = domain.Identity(partyA)
	m.PartyB = domain.Identity(partyB)
	return m, nil
}

// Compile-time interface check.
var _ domain.MatchStore = (*MatchStore)(nil)
