package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmercadal/pairvault/internal/domain"
)

func TestPairID(t *testing.T) {
	t.Parallel()

	t.Run("order independent", func(t *testing.T) {
		assert.Equal(t, PairID("alice", "bob"), PairID("bob", "alice"))
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, PairID("alice", "bob"), PairID("alice", "bob"))
	})

	t.Run("distinct pairs get distinct ids", func(t *testing.T) {
		assert.NotEqual(t, PairID("alice", "bob"), PairID("alice", "carol"))
		assert.NotEqual(t, PairID("alice", "bob"), PairID("bob", "carol"))
	})

	t.Run("separator prevents boundary collisions", func(t *testing.T) {
		// Without a separator byte, ("ab","c") and ("a","bc") would hash the
		// same concatenation.
		assert.NotEqual(t, PairID("ab", "c"), PairID("a", "bc"))
	})

	t.Run("hex keccak-256 output", func(t *testing.T) {
		id := PairID("alice", "bob")
		assert.Len(t, id, 64)
		_, err := hex.DecodeString(id)
		require.NoError(t, err)
	})
}

func TestCustodyID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CustodyID("platform-fees"), CustodyID("platform-fees"))
	assert.NotEqual(t, CustodyID("platform-fees"), CustodyID("other"))
	assert.Len(t, CustodyID("platform-fees"), 64)

	// Custody ids live in a different hash domain than pair ids.
	assert.NotEqual(t, CustodyID("alice"), PairID(domain.Identity("alice"), domain.Identity("alice")))
}
