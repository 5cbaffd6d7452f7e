package rewards

import "fmt"

// Default reward constants.
const (
	StreakUnit        = 2  // points per consecutive day
	StreakCap         = 50 // maximum streak bonus
	EngagementDivisor = 10 // engagement units per bonus point (e.g. minutes)
	EngagementCap     = 20 // maximum engagement bonus
)

// Policy holds the constants of the reward formula.
type Policy struct {
	StreakUnit        int
	StreakCap         int
	EngagementDivisor int
	EngagementCap     int
}

// DefaultPolicy returns the documented default constants.
func DefaultPolicy() Policy {
	return Policy{
		StreakUnit:        StreakUnit,
		StreakCap:         StreakCap,
		EngagementDivisor: EngagementDivisor,
		EngagementCap:     EngagementCap,
	}
}

// Validate checks that the policy yields non-negative rewards.
func (p Policy) Validate() error {
	if p.StreakUnit < 0 || p.StreakCap < 0 || p.EngagementCap < 0 {
		return fmt.Errorf("reward policy: units and caps must be non-negative: %+v", p)
	}
	if p.EngagementDivisor <= 0 {
		return fmt.Errorf("reward policy: engagement divisor must be positive, got %d", p.EngagementDivisor)
	}
	return nil
}

// Compute returns
//
//	base + min(streakDays*StreakUnit, StreakCap) + min(engagement/EngagementDivisor, EngagementCap)
//
// Negative inputs count as zero.
func (p Policy) Compute(baseReward, streakDays, engagement int) int {
	baseReward = max(baseReward, 0)
	streakDays = max(streakDays, 0)
	engagement = max(engagement, 0)

	streakBonus := min(streakDays*p.StreakUnit, p.StreakCap)

	engagementBonus := 0
	if p.EngagementDivisor > 0 {
		engagementBonus = min(engagement/p.EngagementDivisor, p.EngagementCap)
	}

	return baseReward + streakBonus + engagementBonus
}

// ComputeReward applies the default policy.
func ComputeReward(baseReward, streakDays, engagement int) int {
	return DefaultPolicy().Compute(baseReward, streakDays, engagement)
}
