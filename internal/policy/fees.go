package policy

import "fmt"

// FeeSchedule computes the fee charged for a successful match and the reward
// credited to the resulting pair treasury. Both decay in fixed steps as the
// confirmed match count for the accounting period grows, bounded below by the
// configured floors. The inputs come from store-counted matches, never from
// caller-supplied counters. Amounts are fixed-point units (1e6 per token).
type FeeSchedule struct {
	BaseFee    int64 // fee at the start of a period
	MinFee     int64 // floor the fee decays toward
	BaseReward int64 // reward at the start of a period
	MinReward  int64 // floor the reward decays toward
	StepEvery  int64 // matches per decay step
	StepBps    int64 // basis points removed per step, applied to the base
}

// Validate checks schedule invariants: positive bases, floors below bases,
// and a sane step configuration.
func (s FeeSchedule) Validate() error {
	if s.BaseFee <= 0 || s.BaseReward <= 0 {
		return fmt.Errorf("policy: fee schedule bases must be positive")
	}
	if s.MinFee < 0 || s.MinFee > s.BaseFee {
		return fmt.Errorf("policy: min fee %d out of range [0, %d]", s.MinFee, s.BaseFee)
	}
	if s.MinReward < 0 || s.MinReward > s.BaseReward {
		return fmt.Errorf("policy: min reward %d out of range [0, %d]", s.MinReward, s.BaseReward)
	}
	if s.StepEvery <= 0 {
		return fmt.Errorf("policy: step interval must be positive")
	}
	if s.StepBps < 0 || s.StepBps > 10_000 {
		return fmt.Errorf("policy: step bps %d out of range [0, 10000]", s.StepBps)
	}
	return nil
}

// MatchOutcome returns the (fee, reward) pair for the next match given the
// number of matches already confirmed in the current period. The result is
// monotonically non-increasing in periodMatches and always within
// [MinFee, BaseFee] and [MinReward, BaseReward].
func (s FeeSchedule) MatchOutcome(periodMatches int64) (fee, reward int64) {
	if periodMatches < 0 {
		periodMatches = 0
	}
	steps := periodMatches / s.StepEvery

	fee = decay(s.BaseFee, s.MinFee, steps, s.StepBps)
	reward = decay(s.BaseReward, s.MinReward, steps, s.StepBps)
	return fee, reward
}

// decay subtracts steps*stepBps of base, clamped at floor.
func decay(base, floor, steps, stepBps int64) int64 {
	if steps <= 0 || stepBps <= 0 {
		return base
	}
	// Split the bps product so base*stepBps never overflows and bases below
	// 10_000 units still decay.
	cut := base/10_000*stepBps + base%10_000*stepBps/10_000
	if cut <= 0 {
		return base
	}
	// Compare instead of multiplying: steps can be arbitrarily large.
	if steps > (base-floor)/cut {
		return floor
	}
	return base - cut*steps
}
