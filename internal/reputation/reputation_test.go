package reputation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"credit-engine/internal/apperr"
)

func TestScore_ReferenceProfile(t *testing.T) {
	score, err := Score(Inputs{
		ContentQuality:    85,
		Violations:        0,
		Consistency:       90,
		CommunityRating:   80,
		EngagementQuality: 75,
		FollowRetention:   85,
	})
	require.NoError(t, err)
	assert.Equal(t, 82, score)
}

func TestScore_Bounds(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want int
	}{
		{"all zero", Inputs{}, 0},
		{"all max", Inputs{100, 0, 100, 100, 100, 100}, 100},
		{"penalty capped at 15", Inputs{100, 10, 100, 100, 100, 100}, 85},
		{"two violations", Inputs{100, 2, 100, 100, 100, 100}, 90},
		{"clamped at zero", Inputs{10, 4, 0, 0, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Score(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScore_RejectsOutOfRange(t *testing.T) {
	tests := []Inputs{
		{ContentQuality: 101},
		{Consistency: -1},
		{CommunityRating: 200},
		{EngagementQuality: -5},
		{FollowRetention: 101},
		{Violations: -1},
	}
	for _, in := range tests {
		_, err := Score(in)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
}

func TestComputeBreakdown(t *testing.T) {
	b, err := ComputeBreakdown(Inputs{85, 1, 90, 80, 75, 85})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("21.25").Equal(b.Content))
	assert.True(t, decimal.NewFromInt(18).Equal(b.Consistency))
	assert.Equal(t, 5, b.Penalty)
	assert.True(t, decimal.RequireFromString("77.75").Equal(b.Raw))
	assert.Equal(t, 77, b.Total)
}

// Score is deterministic and always within [0, 100].
func TestScore_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := Inputs{
			ContentQuality:    rapid.IntRange(0, 100).Draw(t, "content"),
			Violations:        rapid.IntRange(0, 50).Draw(t, "violations"),
			Consistency:       rapid.IntRange(0, 100).Draw(t, "consistency"),
			CommunityRating:   rapid.IntRange(0, 100).Draw(t, "community"),
			EngagementQuality: rapid.IntRange(0, 100).Draw(t, "engagement"),
			FollowRetention:   rapid.IntRange(0, 100).Draw(t, "retention"),
		}
		a, err := Score(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, _ := Score(in)
		if a != b {
			t.Fatalf("score not deterministic: %d vs %d", a, b)
		}
		if a < 0 || a > 100 {
			t.Fatalf("score out of range: %d", a)
		}

		worse := in
		worse.Violations++
		w, _ := Score(worse)
		if w > a {
			t.Fatalf("extra violation raised score from %d to %d", a, w)
		}
	})
}

func TestTier(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, TierUntrusted},
		{19, TierUntrusted},
		{20, TierNewCreator},
		{34, TierNewCreator},
		{35, TierDeveloping},
		{50, TierTrusted},
		{64, TierTrusted},
		{65, TierRespected},
		{84, TierRespected},
		{85, TierExemplary},
		{100, TierExemplary},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tier(tt.score), "score %d", tt.score)
	}
}

func TestEarningsMultiplier(t *testing.T) {
	assert.True(t, decimal.RequireFromString("0.5").Equal(EarningsMultiplier(0)))
	assert.True(t, decimal.RequireFromString("1.25").Equal(EarningsMultiplier(50)))
	assert.True(t, decimal.NewFromInt(2).Equal(EarningsMultiplier(100)))
	assert.True(t, decimal.NewFromInt(2).Equal(EarningsMultiplier(150)))
}

func TestSafety(t *testing.T) {
	assert.Equal(t, SafetyScore{Score: 80, RiskLevel: LevelLow, TrustLevel: LevelHigh}, Safety(80, 0))
	assert.Equal(t, SafetyScore{Score: 60, RiskLevel: LevelMedium, Violations: 2, TrustLevel: LevelMedium}, Safety(80, 2))
	assert.Equal(t, SafetyScore{Score: 0, RiskLevel: LevelHigh, Violations: 5, TrustLevel: LevelLow}, Safety(30, 5))
}

func TestStrikeImpact(t *testing.T) {
	assert.Equal(t, 5, StrikeImpact(0))
	assert.Equal(t, 8, StrikeImpact(50))
	assert.Equal(t, 10, StrikeImpact(100))
}

func TestStrikeExpiry(t *testing.T) {
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := StrikeExpiry(issued, SeverityMinor)
	require.NoError(t, err)
	assert.Equal(t, issued.AddDate(0, 0, 30), got)

	got, err = StrikeExpiry(issued, SeveritySevere)
	require.NoError(t, err)
	assert.Equal(t, issued.AddDate(0, 0, 90), got)

	_, err = StrikeExpiry(issued, "catastrophic")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestTrustIndicator(t *testing.T) {
	assert.Equal(t, IndicatorLimited, TrustIndicator(10, 0, true).Level)
	assert.Equal(t, IndicatorLimited, TrustIndicator(90, 3, true).Level)
	assert.Equal(t, IndicatorCaution, TrustIndicator(90, 1, true).Level)
	assert.Equal(t, IndicatorVerified, TrustIndicator(40, 0, true).Level)
	assert.Equal(t, IndicatorTrusted, TrustIndicator(70, 0, false).Level)

	hidden := TrustIndicator(50, 0, false)
	assert.False(t, hidden.Visible)
}

func TestProject(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	p := Project(now, 60, 70, decimal.Zero)
	assert.Equal(t, 20, p.DaysNeeded)
	assert.Equal(t, now.AddDate(0, 0, 20), p.ReachedBy)

	p = Project(now, 80, 70, decimal.NewFromInt(1))
	assert.Equal(t, 0, p.DaysNeeded)
	assert.Equal(t, 80, p.Target)
}
