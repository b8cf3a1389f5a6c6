// Package ethledger moves value on an Ethereum-compatible chain. It is the
// concrete side of the Ledger boundary: treasury state is already final when
// Transfer runs, and a failed transfer is reported, never retried here.
package ethledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jmercadal/pairvault/internal/crypto"
	"github.com/jmercadal/pairvault/internal/domain"
)

// weiPerUnit converts fixed-point amount units (1e6 per token) to wei
// (1e18 per token).
var weiPerUnit = big.NewInt(1_000_000_000_000) // 1e12

// Config holds ledger connection and gas parameters.
type Config struct {
	RPCURL      string
	GasLimit    uint64
	WaitTimeout time.Duration // how long to wait for inclusion; 0 means fire-and-forget
}

// Ledger implements domain.Ledger against a JSON-RPC endpoint using the
// operator's signing key.
type Ledger struct {
	client *ethclient.Client
	signer *crypto.TransferSigner
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex // serializes nonce assignment
	nonce uint64
	init  bool
}

// New dials the RPC endpoint and verifies it serves the signer's chain.
func New(ctx context.Context, cfg Config, signer *crypto.TransferSigner, logger *slog.Logger) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ethledger: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ethledger: chain id: %w", err)
	}
	if chainID.Cmp(signer.ChainID()) != 0 {
		client.Close()
		return nil, fmt.Errorf("ethledger: endpoint serves chain %s, signer targets %s", chainID, signer.ChainID())
	}

	if cfg.GasLimit == 0 {
		cfg.GasLimit = 21_000
	}

	return &Ledger{
		client: client,
		signer: signer,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Close releases the RPC connection.
func (l *Ledger) Close() {
	l.client.Close()
}

// Transfer sends amount units to destination and, when WaitTimeout is set,
// blocks until the transaction is mined or the timeout expires.
func (l *Ledger) Transfer(ctx context.Context, destination string, amount int64) error {
	if !common.IsHexAddress(destination) {
		return fmt.Errorf("ethledger: destination %q is not an address", destination)
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	to := common.HexToAddress(destination)
	valueWei := new(big.Int).Mul(big.NewInt(amount), weiPerUnit)

	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("ethledger: suggest gas price: %w", err)
	}

	nonce, err := l.nextNonce(ctx)
	if err != nil {
		return err
	}

	signed, err := l.signer.SignTransfer(nonce, to, valueWei, l.cfg.GasLimit, gasPrice)
	if err != nil {
		return fmt.Errorf("ethledger: sign transfer: %w", err)
	}

	if err := l.client.SendTransaction(ctx, signed); err != nil {
		// The nonce was never consumed; let it be re-fetched next time.
		l.resetNonce()
		return fmt.Errorf("ethledger: send transaction: %w", err)
	}

	l.logger.InfoContext(ctx, "ethledger: transfer sent",
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.String("to", destination),
		slog.Int64("amount", amount),
	)

	if l.cfg.WaitTimeout <= 0 {
		return nil
	}
	return l.waitMined(ctx, signed.Hash())
}

func (l *Ledger) nextNonce(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.init {
		n, err := l.client.PendingNonceAt(ctx, l.signer.Address())
		if err != nil {
			return 0, fmt.Errorf("ethledger: pending nonce: %w", err)
		}
		l.nonce = n
		l.init = true
	}

	n := l.nonce
	l.nonce++
	return n, nil
}

func (l *Ledger) resetNonce() {
	l.mu.Lock()
	l.init = false
	l.mu.Unlock()
}

func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(waitCtx, hash)
		if err == nil {
			if receipt.Status == 0 {
				return fmt.Errorf("ethledger: transaction %s reverted", hash.Hex())
			}
			return nil
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("ethledger: wait for %s: %w", hash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
