package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"credit-engine/internal/apperr"
)

func ids(defs []Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID)
	}
	return out
}

func TestDefault_LoadsEmbeddedTable(t *testing.T) {
	e := Default()
	assert.Len(t, e.All(), 14)

	d, ok := e.Get("exemplary")
	require.True(t, ok)
	assert.Equal(t, RarityLegendary, d.Rarity)
	assert.Equal(t, MetricReputation, d.Criteria.Metric)
}

func TestReward(t *testing.T) {
	e := Default()
	tests := map[string]int64{
		"first_post": 10,
		"prolific":   50,
		"viral":      100,
		"prophet":    500,
	}
	for id, want := range tests {
		got, ok := e.Reward(id)
		require.True(t, ok, id)
		assert.Equal(t, want, got, id)
	}

	_, ok := e.Reward("nope")
	assert.False(t, ok)
}

func TestEvaluate(t *testing.T) {
	e := Default()

	got, err := e.Evaluate(Stats{TotalPosts: 5, CurrentStreak: 7})
	require.NoError(t, err)
	assert.Equal(t, []string{"first_post", "content_creator", "on_fire"}, ids(got))

	got, err = e.Evaluate(Stats{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEvaluate_NamedExceptions(t *testing.T) {
	e := Default()

	clean, err := e.Evaluate(Stats{Reputation: 85})
	require.NoError(t, err)
	assert.Equal(t, []string{"trusted", "exemplary"}, ids(clean))

	flagged, err := e.Evaluate(Stats{Reputation: 85, Violations: 1})
	require.NoError(t, err)
	assert.Empty(t, flagged)

	few, err := e.Evaluate(Stats{Accuracy: 95, TotalPredictions: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"oracle"}, ids(few))

	enough, err := e.Evaluate(Stats{Accuracy: 95, TotalPredictions: 30})
	require.NoError(t, err)
	assert.Equal(t, []string{"oracle", "prophet"}, ids(enough))
}

func TestEvaluate_RejectsInvalidStats(t *testing.T) {
	e := Default()
	for _, s := range []Stats{
		{TotalPosts: -1},
		{Accuracy: 101},
		{Reputation: -3},
		{AvgEngagementRate: 150},
	} {
		_, err := e.Evaluate(s)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
}

func TestByCategory(t *testing.T) {
	e := Default()
	assert.Equal(t, []string{"on_fire", "unstoppable"}, ids(e.ByCategory(CategoryConsistency)))
	assert.Empty(t, e.ByCategory(CategorySpecial))
}

func TestNext(t *testing.T) {
	e := Default()
	next, err := e.Next(Stats{TotalPosts: 4, Followers: 900}, 2)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "influencer", next[0].Badge.ID)
	assert.InDelta(t, 90.0, next[0].Percent, 0.001)
	assert.InDelta(t, 100.0, next[0].Remaining, 0.001)
	assert.Equal(t, "content_creator", next[1].Badge.ID)
	assert.InDelta(t, 80.0, next[1].Percent, 0.001)
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]string{
		"duplicate":  "badges:\n  - {id: a, rarity: common, criteria: {metric: posts, threshold: 1, comparator: gte}}\n  - {id: a, rarity: common, criteria: {metric: posts, threshold: 1, comparator: gte}}\n",
		"rarity":     "badges:\n  - {id: a, rarity: mythic, criteria: {metric: posts, threshold: 1, comparator: gte}}\n",
		"comparator": "badges:\n  - {id: a, rarity: common, criteria: {metric: posts, threshold: 1, comparator: gt}}\n",
		"metric":     "badges:\n  - {id: a, rarity: common, criteria: {metric: likes, threshold: 1, comparator: gte}}\n",
		"syntax":     "badges: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(data))
			assert.Error(t, err)
		})
	}
}

// Raising any rewarding metric never removes a badge.
func TestEvaluate_Monotone(t *testing.T) {
	e := Default()
	rapid.Check(t, func(t *rapid.T) {
		s := Stats{
			TotalPosts:        rapid.Int64Range(0, 200).Draw(t, "posts"),
			Followers:         rapid.Int64Range(0, 20000).Draw(t, "followers"),
			TotalViews:        rapid.Int64Range(0, 200000).Draw(t, "views"),
			AvgEngagementRate: rapid.Float64Range(0, 100).Draw(t, "engagement"),
			CurrentStreak:     rapid.IntRange(0, 50).Draw(t, "streak"),
			TotalPredictions:  rapid.IntRange(0, 100).Draw(t, "predictions"),
			Accuracy:          rapid.Float64Range(0, 100).Draw(t, "accuracy"),
			Reputation:        rapid.IntRange(0, 100).Draw(t, "reputation"),
			Violations:        rapid.IntRange(0, 3).Draw(t, "violations"),
		}
		bumped := s
		switch rapid.IntRange(0, 7).Draw(t, "metric") {
		case 0:
			bumped.TotalPosts += rapid.Int64Range(1, 100).Draw(t, "delta")
		case 1:
			bumped.Followers += rapid.Int64Range(1, 10000).Draw(t, "delta")
		case 2:
			bumped.TotalViews += rapid.Int64Range(1, 100000).Draw(t, "delta")
		case 3:
			bumped.AvgEngagementRate = min(100, bumped.AvgEngagementRate+rapid.Float64Range(0, 50).Draw(t, "delta"))
		case 4:
			bumped.CurrentStreak += rapid.IntRange(1, 20).Draw(t, "delta")
		case 5:
			bumped.TotalPredictions += rapid.IntRange(1, 50).Draw(t, "delta")
		case 6:
			bumped.Accuracy = min(100, bumped.Accuracy+rapid.Float64Range(0, 50).Draw(t, "delta"))
		case 7:
			bumped.Reputation = min(100, bumped.Reputation+rapid.IntRange(1, 50).Draw(t, "delta"))
		}

		before, err := e.Evaluate(s)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		after, err := e.Evaluate(bumped)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		have := make(map[string]bool)
		for _, d := range after {
			have[d.ID] = true
		}
		for _, d := range before {
			if !have[d.ID] {
				t.Fatalf("badge %q lost after raising a metric", d.ID)
			}
		}
	})
}
