// Package devledger is an in-process ledger sink for development and the
// memory storage backend: transfers always succeed and are only logged.
package devledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jmercadal/pairvault/internal/domain"
)

// Ledger records transfers in memory.
type Ledger struct {
	logger *slog.Logger

	mu        sync.Mutex
	transfers []Transfer
}

// Transfer is one recorded outbound movement.
type Transfer struct {
	Destination string
	Amount      int64
}

// New creates a dev ledger.
func New(logger *slog.Logger) *Ledger {
	return &Ledger{logger: logger}
}

// Transfer records the movement and succeeds.
func (l *Ledger) Transfer(ctx context.Context, destination string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	l.mu.Lock()
	l.transfers = append(l.transfers, Transfer{Destination: destination, Amount: amount})
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "devledger: transfer recorded",
		slog.String("to", destination),
		slog.Int64("amount", amount),
	)
	return nil
}

// Transfers returns a copy of all recorded transfers.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
