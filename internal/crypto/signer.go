package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TransferSigner signs outbound value-transfer transactions with the ledger
// operator's key using EIP-155 replay protection.
type TransferSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewTransferSigner creates a TransferSigner from a hex-encoded secp256k1
// private key and the target chain id.
func NewTransferSigner(privateKeyHex string, chainID int64) (*TransferSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &TransferSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the operator address derived from the signer's private key.
func (s *TransferSigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain id the signer targets.
func (s *TransferSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTransfer builds and signs a plain value transfer of valueWei to the
// destination address with the given nonce and gas parameters.
func (s *TransferSigner) SignTransfer(nonce uint64, to common.Address, valueWei *big.Int, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    valueWei,
		Gas:      gasLimit,
		GasPrice: gasPrice,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign transfer: %w", err)
	}
	return signed, nil
}
