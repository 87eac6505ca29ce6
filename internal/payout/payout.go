// Package payout computes prediction rewards and the related statistics
// shown to users. Reward math runs on decimals and is floored to whole
// credits at the end.
package payout

import (
	"math"

	"github.com/shopspring/decimal"

	"credit-engine/internal/model"
)

var (
	streakStep     = decimal.RequireFromString("0.1")
	maxStreakBonus = decimal.NewFromInt(1)
	one            = decimal.NewFromInt(1)
	hundred        = decimal.NewFromInt(100)
)

// StreakMultiplier is 1 + min(streak*0.1, 1.0). Negative streaks count as zero.
func StreakMultiplier(streak int) decimal.Decimal {
	if streak < 0 {
		streak = 0
	}
	bonus := decimal.Min(decimal.NewFromInt(int64(streak)).Mul(streakStep), maxStreakBonus)
	return one.Add(bonus)
}

// Reward is floor(stake * multiplier(confidence) * StreakMultiplier(streak)),
// where streak is the streak before this win. Unknown confidences pay nothing.
func Reward(stake int64, confidence model.Confidence, streak int) int64 {
	mult, ok := confidence.Multiplier()
	if !ok || stake <= 0 {
		return 0
	}
	return decimal.NewFromInt(stake).Mul(mult).Mul(StreakMultiplier(streak)).Floor().IntPart()
}

// PotentialReturn is floor(stake * odds), the payout shown when a wager is
// placed. It ignores streak.
func PotentialReturn(stake int64, odds decimal.Decimal) int64 {
	return decimal.NewFromInt(stake).Mul(odds).Floor().IntPart()
}

// Breakdown itemizes a reward.
type Breakdown struct {
	Stake            int64            `json:"stake"`
	Confidence       model.Confidence `json:"confidence"`
	Multiplier       decimal.Decimal  `json:"multiplier"`
	Streak           int              `json:"streak"`
	StreakMultiplier decimal.Decimal  `json:"streak_multiplier"`
	Base             int64            `json:"base"`
	StreakBonus      int64            `json:"streak_bonus"`
	Total            int64            `json:"total"`
}

// RewardBreakdown splits Reward into the confidence part and the streak part.
func RewardBreakdown(stake int64, confidence model.Confidence, streak int) Breakdown {
	mult, _ := confidence.Multiplier()
	b := Breakdown{
		Stake:            stake,
		Confidence:       confidence,
		Multiplier:       mult,
		Streak:           max(streak, 0),
		StreakMultiplier: StreakMultiplier(streak),
	}
	b.Base = PotentialReturn(stake, mult)
	b.Total = Reward(stake, confidence, streak)
	b.StreakBonus = b.Total - b.Base
	return b
}

// WinRate is correct/total as a percentage rounded to one decimal place.
// Zero predictions yield zero.
func WinRate(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	rate := decimal.NewFromInt(int64(correct)).Div(decimal.NewFromInt(int64(total))).Mul(hundred)
	f, _ := rate.Round(1).Float64()
	return f
}

// StreakBonus is the standalone milestone bonus floor(10 * n^1.5).
func StreakBonus(streak int) int64 {
	if streak <= 0 {
		return 0
	}
	n := float64(streak)
	return int64(math.Floor(10 * n * math.Sqrt(n)))
}

// LeagueRewards splits a pool 50/30/20 between the top three. Remainders
// from flooring stay in the pool.
func LeagueRewards(pool int64) [3]int64 {
	if pool <= 0 {
		return [3]int64{}
	}
	p := decimal.NewFromInt(pool)
	return [3]int64{
		p.Mul(decimal.RequireFromString("0.5")).Floor().IntPart(),
		p.Mul(decimal.RequireFromString("0.3")).Floor().IntPart(),
		p.Mul(decimal.RequireFromString("0.2")).Floor().IntPart(),
	}
}

// ExpectedValue is probability*(potential return) - (1-probability)*stake,
// with probability in [0, 1].
func ExpectedValue(stake int64, odds decimal.Decimal, probability float64) decimal.Decimal {
	p := decimal.NewFromFloat(min(max(probability, 0), 1))
	s := decimal.NewFromInt(stake)
	return p.Mul(s.Mul(odds)).Sub(one.Sub(p).Mul(s))
}
