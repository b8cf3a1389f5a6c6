// Package crypto provides deterministic pair-id derivation, operator key
// management, transfer signing, and HMAC authentication for the identity
// provider API.
package crypto

import (
	"encoding/hex"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/jmercadal/pairvault/internal/domain"
)

// pairDomainTag separates pair-id hashing from any other keccak use of the
// same identity strings.
const pairDomainTag = "pairvault/match/v1"

// PairID derives the canonical id for an unordered identity pair: keccak-256
// over a domain tag and the sorted identities, hex-encoded. Both orderings of
// the same pair produce the same id, which makes "exactly one treasury per
// pair" a storage-key property rather than a runtime check.
func PairID(a, b domain.Identity) string {
	lo, hi := domain.SortPair(a, b)
	h := ethcrypto.Keccak256(
		[]byte(pairDomainTag),
		[]byte{0},
		[]byte(lo),
		[]byte{0},
		[]byte(hi),
	)
	return hex.EncodeToString(h)
}

// CustodyID derives the id of a named custody treasury (the fee ledger).
func CustodyID(name string) string {
	h := ethcrypto.Keccak256([]byte("pairvault/custody/v1"), []byte{0}, []byte(name))
	return hex.EncodeToString(h)
}
