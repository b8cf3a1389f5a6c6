// Package policy holds the pure decision logic of the treasury core: the
// authorization predicate that gates execution, owner-set invariant
// validation, and the fee/reward schedule. Nothing here performs I/O.
package policy

import (
	"fmt"

	"github.com/jmercadal/pairvault/internal/domain"
)

// minOwners is the smallest owner set a treasury may have. Every treasury is
// jointly controlled; single-owner wallets are not representable.
const minOwners = 2

// Authorize decides whether a pending transaction may execute: the number of
// distinct approvals from current owners must reach the threshold. Approvals
// from identities outside the owner set never count.
func Authorize(owners []domain.Identity, threshold int, approvals []domain.Identity) error {
	ownerSet := make(map[domain.Identity]struct{}, len(owners))
	for _, o := range owners {
		ownerSet[o] = struct{}{}
	}

	distinct := make(map[domain.Identity]struct{}, len(approvals))
	for _, a := range approvals {
		if _, ok := ownerSet[a]; ok {
			distinct[a] = struct{}{}
		}
	}

	if len(distinct) < threshold {
		return domain.ErrThresholdNotMet
	}
	return nil
}

// ValidateOwners checks the owner-set invariant: at least two unique owners
// and a threshold between 1 and the owner count inclusive.
func ValidateOwners(owners []domain.Identity, threshold int) error {
	if len(owners) < minOwners {
		return fmt.Errorf("policy: owner set must have at least %d members, got %d", minOwners, len(owners))
	}
	seen := make(map[domain.Identity]struct{}, len(owners))
	for _, o := range owners {
		if o == "" {
			return fmt.Errorf("policy: empty owner identity")
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("policy: duplicate owner %s", o)
		}
		seen[o] = struct{}{}
	}
	if threshold < 1 || threshold > len(owners) {
		return fmt.Errorf("policy: threshold %d out of range [1, %d]", threshold, len(owners))
	}
	return nil
}

// ApplyGovernance computes the owner set and threshold that would result from
// a governance change, validating the invariant on the outcome. The current
// state is never mutated; callers persist the result atomically.
func ApplyGovernance(owners []domain.Identity, threshold int, change domain.GovernanceChange) ([]domain.Identity, int, error) {
	next := make([]domain.Identity, 0, len(owners)+len(change.AddOwners))

	removed := make(map[domain.Identity]struct{}, len(change.RemoveOwners))
	for _, r := range change.RemoveOwners {
		removed[r] = struct{}{}
	}

	present := make(map[domain.Identity]struct{}, len(owners))
	for _, o := range owners {
		if _, gone := removed[o]; gone {
			continue
		}
		next = append(next, o)
		present[o] = struct{}{}
	}
	for _, a := range change.AddOwners {
		if _, dup := present[a]; dup {
			return nil, 0, fmt.Errorf("policy: governance adds existing owner %s", a)
		}
		if _, gone := removed[a]; gone {
			return nil, 0, fmt.Errorf("policy: governance both adds and removes %s", a)
		}
		next = append(next, a)
		present[a] = struct{}{}
	}

	nextThreshold := threshold
	if change.NewThreshold != 0 {
		nextThreshold = change.NewThreshold
	}

	if err := ValidateOwners(next, nextThreshold); err != nil {
		return nil, 0, err
	}
	return next, nextThreshold, nil
}
