package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmercadal/pairvault/internal/domain"
)

func ids(ss ...string) []domain.Identity {
	out := make([]domain.Identity, len(ss))
	for i, s := range ss {
		out[i] = domain.Identity(s)
	}
	return out
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	owners := ids("alice", "bob", "carol")

	tests := []struct {
		name      string
		threshold int
		approvals []domain.Identity
		wantErr   error
	}{
		{
			name:      "threshold met exactly",
			threshold: 2,
			approvals: ids("alice", "bob"),
		},
		{
			name:      "threshold exceeded",
			threshold: 2,
			approvals: ids("alice", "bob", "carol"),
		},
		{
			name:      "no approvals",
			threshold: 1,
			approvals: nil,
			wantErr:   domain.ErrThresholdNotMet,
		},
		{
			name:      "one short of threshold",
			threshold: 3,
			approvals: ids("alice", "bob"),
			wantErr:   domain.ErrThresholdNotMet,
		},
		{
			name:      "non-owner approvals never count",
			threshold: 2,
			approvals: ids("alice", "mallory", "eve"),
			wantErr:   domain.ErrThresholdNotMet,
		},
		{
			name:      "duplicate approvals count once",
			threshold: 2,
			approvals: ids("alice", "alice", "alice"),
			wantErr:   domain.ErrThresholdNotMet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(owners, tt.threshold, tt.approvals)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOwners(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		owners    []domain.Identity
		threshold int
		wantErr   bool
	}{
		{name: "two owners threshold 2", owners: ids("a", "b"), threshold: 2},
		{name: "three owners threshold 1", owners: ids("a", "b", "c"), threshold: 1},
		{name: "single owner rejected", owners: ids("a"), threshold: 1, wantErr: true},
		{name: "empty owner set rejected", owners: nil, threshold: 1, wantErr: true},
		{name: "duplicate owner rejected", owners: ids("a", "a"), threshold: 1, wantErr: true},
		{name: "empty identity rejected", owners: ids("a", ""), threshold: 1, wantErr: true},
		{name: "zero threshold rejected", owners: ids("a", "b"), threshold: 0, wantErr: true},
		{name: "threshold above owner count rejected", owners: ids("a", "b"), threshold: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOwners(tt.owners, tt.threshold)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyGovernance(t *testing.T) {
	t.Parallel()

	owners := ids("alice", "bob", "carol")

	t.Run("add owner keeps threshold", func(t *testing.T) {
		next, threshold, err := ApplyGovernance(owners, 2, domain.GovernanceChange{
			AddOwners: ids("dave"),
		})
		require.NoError(t, err)
		assert.Equal(t, ids("alice", "bob", "carol", "dave"), next)
		assert.Equal(t, 2, threshold)
	})

	t.Run("remove owner and lower threshold", func(t *testing.T) {
		next, threshold, err := ApplyGovernance(owners, 3, domain.GovernanceChange{
			RemoveOwners: ids("carol"),
			NewThreshold: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, ids("alice", "bob"), next)
		assert.Equal(t, 2, threshold)
	})

	t.Run("zero threshold means keep current", func(t *testing.T) {
		next, threshold, err := ApplyGovernance(owners, 2, domain.GovernanceChange{
			AddOwners: ids("dave"),
		})
		require.NoError(t, err)
		assert.Len(t, next, 4)
		assert.Equal(t, 2, threshold)
	})

	t.Run("adding existing owner fails", func(t *testing.T) {
		_, _, err := ApplyGovernance(owners, 2, domain.GovernanceChange{
			AddOwners: ids("bob"),
		})
		assert.Error(t, err)
	})

	t.Run("adding and removing same identity fails", func(t *testing.T) {
		_, _, err := ApplyGovernance(owners, 2, domain.GovernanceChange{
			AddOwners:    ids("dave"),
			RemoveOwners: ids("dave"),
		})
		assert.Error(t, err)
	})

	t.Run("cannot shrink below two owners", func(t *testing.T) {
		_, _, err := ApplyGovernance(owners, 2, domain.GovernanceChange{
			RemoveOwners: ids("bob", "carol"),
			NewThreshold: 1,
		})
		assert.Error(t, err)
	})

	t.Run("threshold above resulting owner count fails", func(t *testing.T) {
		_, _, err := ApplyGovernance(owners, 2, domain.GovernanceChange{
			RemoveOwners: ids("carol"),
			NewThreshold: 3,
		})
		assert.Error(t, err)
	})

	t.Run("input slice is not mutated", func(t *testing.T) {
		before := append([]domain.Identity(nil), owners...)
		_, _, err := ApplyGovernance(owners, 2, domain.GovernanceChange{
			RemoveOwners: ids("carol"),
		})
		require.NoError(t, err)
		assert.Equal(t, before, owners)
	})
}
