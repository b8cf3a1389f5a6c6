package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testSchedule() FeeSchedule {
	return FeeSchedule{
		BaseFee:    1_000_000,
		MinFee:     100_000,
		BaseReward: 10_000_000,
		MinReward:  1_000_000,
		StepEvery:  10,
		StepBps:    500, // 5% of base per step
	}
}

func TestFeeScheduleValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*FeeSchedule)
		wantErr bool
	}{
		{name: "valid", mutate: func(s *FeeSchedule) {}},
		{name: "zero base fee", mutate: func(s *FeeSchedule) { s.BaseFee = 0 }, wantErr: true},
		{name: "zero base reward", mutate: func(s *FeeSchedule) { s.BaseReward = 0 }, wantErr: true},
		{name: "min fee above base", mutate: func(s *FeeSchedule) { s.MinFee = s.BaseFee + 1 }, wantErr: true},
		{name: "negative min reward", mutate: func(s *FeeSchedule) { s.MinReward = -1 }, wantErr: true},
		{name: "zero step interval", mutate: func(s *FeeSchedule) { s.StepEvery = 0 }, wantErr: true},
		{name: "step bps above 10000", mutate: func(s *FeeSchedule) { s.StepBps = 10_001 }, wantErr: true},
		{name: "zero floors allowed", mutate: func(s *FeeSchedule) { s.MinFee = 0; s.MinReward = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSchedule()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatchOutcome(t *testing.T) {
	t.Parallel()

	s := testSchedule()

	t.Run("fresh period pays base", func(t *testing.T) {
		fee, reward := s.MatchOutcome(0)
		assert.Equal(t, s.BaseFee, fee)
		assert.Equal(t, s.BaseReward, reward)
	})

	t.Run("below first step still pays base", func(t *testing.T) {
		fee, reward := s.MatchOutcome(9)
		assert.Equal(t, s.BaseFee, fee)
		assert.Equal(t, s.BaseReward, reward)
	})

	t.Run("one step of decay", func(t *testing.T) {
		fee, reward := s.MatchOutcome(10)
		assert.Equal(t, int64(950_000), fee)
		assert.Equal(t, int64(9_500_000), reward)
	})

	t.Run("monotonically non-increasing", func(t *testing.T) {
		prevFee, prevReward := s.MatchOutcome(0)
		for n := int64(1); n <= 500; n++ {
			fee, reward := s.MatchOutcome(n)
			assert.LessOrEqual(t, fee, prevFee)
			assert.LessOrEqual(t, reward, prevReward)
			prevFee, prevReward = fee, reward
		}
	})

	t.Run("clamped at floors", func(t *testing.T) {
		fee, reward := s.MatchOutcome(1_000_000)
		assert.Equal(t, s.MinFee, fee)
		assert.Equal(t, s.MinReward, reward)
	})

	t.Run("negative count treated as zero", func(t *testing.T) {
		fee, reward := s.MatchOutcome(-5)
		assert.Equal(t, s.BaseFee, fee)
		assert.Equal(t, s.BaseReward, reward)
	})

	t.Run("huge step count does not overflow", func(t *testing.T) {
		fee, reward := s.MatchOutcome(1 << 60)
		assert.Equal(t, s.MinFee, fee)
		assert.Equal(t, s.MinReward, reward)
	})
}

func TestMatchOutcomeSmallBase(t *testing.T) {
	t.Parallel()

	// Bases below 10_000 units must still decay instead of rounding the
	// per-step cut down to zero.
	s := FeeSchedule{
		BaseFee:    5_000,
		MinFee:     500,
		BaseReward: 8_000,
		MinReward:  1_000,
		StepEvery:  10,
		StepBps:    500,
	}

	fee, reward := s.MatchOutcome(0)
	assert.Equal(t, int64(5_000), fee)
	assert.Equal(t, int64(8_000), reward)

	fee, reward = s.MatchOutcome(10)
	assert.Equal(t, int64(4_750), fee)
	assert.Equal(t, int64(7_600), reward)

	fee, reward = s.MatchOutcome(1 << 40)
	assert.Equal(t, s.MinFee, fee)
	assert.Equal(t, s.MinReward, reward)
}
