// Package reputation computes the composite reputation score and the
// values derived from it. Every function is pure.
package reputation

import (
	"time"

	"github.com/shopspring/decimal"

	"credit-engine/internal/apperr"
)

// Inputs are the stats a reputation score is computed from. Violations is a
// count of moderation strikes; every other field is bounded to [0, 100].
type Inputs struct {
	ContentQuality    int `json:"content_quality"`
	Violations        int `json:"violations"`
	Consistency       int `json:"consistency"`
	CommunityRating   int `json:"community_rating"`
	EngagementQuality int `json:"engagement_quality"`
	FollowRetention   int `json:"follow_retention"`
}

var (
	weightContent     = decimal.RequireFromString("0.25")
	weightConsistency = decimal.RequireFromString("0.20")
	weightCommunity   = decimal.RequireFromString("0.25")
	weightEngagement  = decimal.RequireFromString("0.20")
	weightRetention   = decimal.RequireFromString("0.10")

	hundred = decimal.NewFromInt(100)
)

const (
	penaltyPerViolation = 5
	maxPenalty          = 15
)

// Validate rejects out-of-range inputs.
func (in Inputs) Validate() error {
	const op = "reputation.Validate"

	bounded := []struct {
		name  string
		value int
	}{
		{"content_quality", in.ContentQuality},
		{"consistency", in.Consistency},
		{"community_rating", in.CommunityRating},
		{"engagement_quality", in.EngagementQuality},
		{"follow_retention", in.FollowRetention},
	}
	for _, f := range bounded {
		if f.value < 0 || f.value > 100 {
			return apperr.Validation(op, "%s must be between 0 and 100, got %d", f.name, f.value)
		}
	}
	if in.Violations < 0 {
		return apperr.Validation(op, "violations cannot be negative, got %d", in.Violations)
	}
	return nil
}

// Breakdown is the weighted contribution of each input.
type Breakdown struct {
	Content     decimal.Decimal `json:"content"`
	Consistency decimal.Decimal `json:"consistency"`
	Community   decimal.Decimal `json:"community"`
	Engagement  decimal.Decimal `json:"engagement"`
	Retention   decimal.Decimal `json:"retention"`
	Penalty     int             `json:"penalty"`
	Raw         decimal.Decimal `json:"raw"`
	Total       int             `json:"total"`
}

// ComputeBreakdown returns every weighted component and the final score.
func ComputeBreakdown(in Inputs) (*Breakdown, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	b := &Breakdown{
		Content:     weightContent.Mul(decimal.NewFromInt(int64(in.ContentQuality))),
		Consistency: weightConsistency.Mul(decimal.NewFromInt(int64(in.Consistency))),
		Community:   weightCommunity.Mul(decimal.NewFromInt(int64(in.CommunityRating))),
		Engagement:  weightEngagement.Mul(decimal.NewFromInt(int64(in.EngagementQuality))),
		Retention:   weightRetention.Mul(decimal.NewFromInt(int64(in.FollowRetention))),
		Penalty:     min(in.Violations*penaltyPerViolation, maxPenalty),
	}
	b.Raw = b.Content.Add(b.Consistency).Add(b.Community).Add(b.Engagement).Add(b.Retention).
		Sub(decimal.NewFromInt(int64(b.Penalty)))

	// Truncate, not round to nearest. The reference creator profile sums to
	// 82.75 and is published as scoring 82; nearest rounding would give 83.
	total := int(b.Raw.Floor().IntPart())
	b.Total = max(0, min(total, 100))
	return b, nil
}

// Score returns the integer reputation score in [0, 100].
func Score(in Inputs) (int, error) {
	b, err := ComputeBreakdown(in)
	if err != nil {
		return 0, err
	}
	return b.Total, nil
}

// Tier names.
const (
	TierUntrusted  = "Untrusted"
	TierNewCreator = "New Creator"
	TierDeveloping = "Developing"
	TierTrusted    = "Trusted"
	TierRespected  = "Respected"
	TierExemplary  = "Exemplary"
)

// Tier maps a score to its named band. Lower bounds are inclusive.
func Tier(score int) string {
	switch {
	case score < 20:
		return TierUntrusted
	case score < 35:
		return TierNewCreator
	case score < 50:
		return TierDeveloping
	case score < 65:
		return TierTrusted
	case score < 85:
		return TierRespected
	default:
		return TierExemplary
	}
}

// EarningsMultiplier scales linearly from 0.5 at score 0 to 2.0 at score 100.
func EarningsMultiplier(score int) decimal.Decimal {
	s := decimal.NewFromInt(int64(max(0, min(score, 100))))
	return decimal.RequireFromString("0.5").Add(s.Div(hundred).Mul(decimal.RequireFromString("1.5")))
}

// Risk and trust levels.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// SafetyScore is reputation adjusted for moderation history.
type SafetyScore struct {
	Score      int    `json:"score"`
	RiskLevel  string `json:"risk_level"`
	Violations int    `json:"violations"`
	TrustLevel string `json:"trust_level"`
}

// Safety subtracts ten points per violation from the reputation score.
func Safety(score, violations int) SafetyScore {
	s := max(0, min(score-violations*10, 100))

	risk := LevelHigh
	switch {
	case violations <= 0:
		risk = LevelLow
	case violations <= 2:
		risk = LevelMedium
	}

	trust := LevelLow
	switch {
	case s >= 70:
		trust = LevelHigh
	case s >= 40:
		trust = LevelMedium
	}

	return SafetyScore{Score: s, RiskLevel: risk, Violations: violations, TrustLevel: trust}
}

// StrikeImpact is the score cost of one strike. Higher scores lose more.
func StrikeImpact(score int) int {
	impact := decimal.NewFromInt(5).Mul(decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(score)).Div(hundred)))
	return int(impact.Round(0).IntPart())
}

// Strike severities.
const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

var strikeDays = map[string]int{
	SeverityMinor:    30,
	SeverityModerate: 60,
	SeveritySevere:   90,
}

// StrikeExpiry returns when a strike issued at the given time stops counting.
func StrikeExpiry(issued time.Time, severity string) (time.Time, error) {
	days, ok := strikeDays[severity]
	if !ok {
		return time.Time{}, apperr.Validation("reputation.StrikeExpiry", "unknown severity %q", severity)
	}
	return issued.AddDate(0, 0, days), nil
}

// Trust indicator levels shown on public profiles.
const (
	IndicatorVerified = "verified"
	IndicatorTrusted  = "trusted"
	IndicatorCaution  = "caution"
	IndicatorLimited  = "limited"
)

// Indicator is what other users see about an account's standing.
type Indicator struct {
	Visible bool   `json:"visible"`
	Level   string `json:"level"`
	Reason  string `json:"reason,omitempty"`
}

// TrustIndicator derives the public trust badge for a profile.
func TrustIndicator(score, violations int, verified bool) Indicator {
	switch {
	case score < 20 || violations >= 3:
		return Indicator{Visible: true, Level: IndicatorLimited, Reason: "Account restricted due to moderation history"}
	case violations >= 1:
		return Indicator{Visible: true, Level: IndicatorCaution, Reason: "Prior moderation issues on record"}
	case verified:
		return Indicator{Visible: true, Level: IndicatorVerified}
	case score >= 70:
		return Indicator{Visible: true, Level: IndicatorTrusted}
	default:
		return Indicator{Visible: false, Level: IndicatorLimited}
	}
}

// Projection estimates how long reaching a target score takes.
type Projection struct {
	Current    int       `json:"current"`
	Target     int       `json:"target"`
	DaysNeeded int       `json:"days_needed"`
	ReachedBy  time.Time `json:"reached_by"`
}

// Project assumes a steady daily improvement. A non-positive daily rate
// defaults to half a point per day.
func Project(now time.Time, current, target int, daily decimal.Decimal) Projection {
	if target <= current {
		return Projection{Current: current, Target: current, ReachedBy: now}
	}
	if !daily.IsPositive() {
		daily = decimal.RequireFromString("0.5")
	}
	days := int(decimal.NewFromInt(int64(target - current)).Div(daily).Ceil().IntPart())
	return Projection{Current: current, Target: target, DaysNeeded: days, ReachedBy: now.AddDate(0, 0, days)}
}
