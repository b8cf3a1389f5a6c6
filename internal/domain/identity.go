package domain

import "context"

// Identity is an opaque party identifier issued by the external identity
// provider. The core never inspects its structure.
type Identity string

// IdentityProvider is the consumed interface to the external identity system.
// The core checks it before recording interest signals and before honoring
// treasury ownership; blocking and revocation policy live on the other side.
type IdentityProvider interface {
	IsActive(ctx context.Context, id Identity) (bool, error)
	IsBlocked(ctx context.Context, id Identity) (bool, error)
}

// SortPair returns the two identities in lexicographic order. Unordered-pair
// derived state (matches, treasuries) always uses this canonical ordering.
func SortPair(a, b Identity) (Identity, Identity) {
	if b < a {
		return b, a
	}
	return a, b
}
