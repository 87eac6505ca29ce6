// Package badge evaluates the static achievement table against a user's
// stats snapshot. The engine is stateless: it always reports every badge
// whose criteria currently hold and leaves diffing against owned badges to
// the caller.
package badge

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"credit-engine/internal/apperr"
)

//go:embed badges.yaml
var catalog []byte

// Rarity of a badge; determines its one-time reward.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

var rarityRewards = map[Rarity]int64{
	RarityCommon:    10,
	RarityRare:      50,
	RarityEpic:      100,
	RarityLegendary: 500,
}

// Category groups badges for display.
type Category string

const (
	CategoryAchievement Category = "achievement"
	CategorySkill       Category = "skill"
	CategoryConsistency Category = "consistency"
	CategoryCommunity   Category = "community"
	CategoryCreator     Category = "creator"
	CategorySpecial     Category = "special"
)

// Metric names a Stats field a criterion is checked against.
type Metric string

const (
	MetricPosts          Metric = "posts"
	MetricFollowers      Metric = "followers"
	MetricViews          Metric = "views"
	MetricStreak         Metric = "streak"
	MetricReputation     Metric = "reputation"
	MetricAccuracy       Metric = "accuracy"
	MetricEngagementRate Metric = "engagement_rate"
)

// Comparator is how a metric is compared with its threshold.
type Comparator string

const (
	ComparatorGTE Comparator = "gte"
	ComparatorLTE Comparator = "lte"
	ComparatorEQ  Comparator = "eq"
)

// Criteria is a single metric check.
type Criteria struct {
	Metric     Metric     `yaml:"metric" json:"metric"`
	Threshold  float64    `yaml:"threshold" json:"threshold"`
	Comparator Comparator `yaml:"comparator" json:"comparator"`
}

// Definition is one entry of the badge table.
type Definition struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Category    Category `yaml:"category" json:"category"`
	Rarity      Rarity   `yaml:"rarity" json:"rarity"`
	Criteria    Criteria `yaml:"criteria" json:"criteria"`
}

// Reward is the credit bonus granted when the badge unlocks.
func (d Definition) Reward() int64 {
	return rarityRewards[d.Rarity]
}

// Stats is the snapshot badges are evaluated against.
type Stats struct {
	UserID             string  `json:"user_id"`
	TotalPosts         int64   `json:"total_posts"`
	Followers          int64   `json:"followers"`
	TotalViews         int64   `json:"total_views"`
	AvgEngagementRate  float64 `json:"avg_engagement_rate"`
	CurrentStreak      int     `json:"current_streak"`
	TotalPredictions   int     `json:"total_predictions"`
	CorrectPredictions int     `json:"correct_predictions"`
	Accuracy           float64 `json:"accuracy"`
	Reputation         int     `json:"reputation"`
	Violations         int     `json:"violations"`
}

func (s Stats) value(m Metric) float64 {
	switch m {
	case MetricPosts:
		return float64(s.TotalPosts)
	case MetricFollowers:
		return float64(s.Followers)
	case MetricViews:
		return float64(s.TotalViews)
	case MetricStreak:
		return float64(s.CurrentStreak)
	case MetricReputation:
		return float64(s.Reputation)
	case MetricAccuracy:
		return s.Accuracy
	case MetricEngagementRate:
		return s.AvgEngagementRate
	}
	return 0
}

// Validate rejects negative counters and out-of-range percentages.
func (s Stats) Validate() error {
	const op = "badge.Validate"
	if s.TotalPosts < 0 || s.Followers < 0 || s.TotalViews < 0 || s.CurrentStreak < 0 ||
		s.TotalPredictions < 0 || s.CorrectPredictions < 0 || s.Violations < 0 {
		return apperr.Validation(op, "stats counters cannot be negative")
	}
	if s.Accuracy < 0 || s.Accuracy > 100 {
		return apperr.Validation(op, "accuracy must be between 0 and 100, got %v", s.Accuracy)
	}
	if s.AvgEngagementRate < 0 || s.AvgEngagementRate > 100 {
		return apperr.Validation(op, "engagement rate must be between 0 and 100, got %v", s.AvgEngagementRate)
	}
	if s.Reputation < 0 || s.Reputation > 100 {
		return apperr.Validation(op, "reputation must be between 0 and 100, got %d", s.Reputation)
	}
	return nil
}

func compare(actual, threshold float64, c Comparator) bool {
	switch c {
	case ComparatorGTE:
		return actual >= threshold
	case ComparatorLTE:
		return actual <= threshold
	case ComparatorEQ:
		return actual == threshold
	}
	return false
}

// minProphetPredictions is the sample size the prophet badge requires.
const minProphetPredictions = 30

// extra holds the compound conditions that the generic table cannot express.
var extra = map[string]func(Stats) bool{
	"trusted":   func(s Stats) bool { return s.Violations == 0 },
	"exemplary": func(s Stats) bool { return s.Violations == 0 },
	"prophet":   func(s Stats) bool { return s.TotalPredictions >= minProphetPredictions },
}

// Engine evaluates a fixed badge table.
type Engine struct {
	defs []Definition
	byID map[string]Definition
}

type catalogFile struct {
	Badges []Definition `yaml:"badges"`
}

// Load parses and validates a badge table.
func Load(data []byte) (*Engine, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse badge table: %w", err)
	}

	e := &Engine{byID: make(map[string]Definition, len(f.Badges))}
	for _, d := range f.Badges {
		if d.ID == "" {
			return nil, fmt.Errorf("badge with empty id")
		}
		if _, dup := e.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate badge id %q", d.ID)
		}
		if _, ok := rarityRewards[d.Rarity]; !ok {
			return nil, fmt.Errorf("badge %q: unknown rarity %q", d.ID, d.Rarity)
		}
		switch d.Criteria.Comparator {
		case ComparatorGTE, ComparatorLTE, ComparatorEQ:
		default:
			return nil, fmt.Errorf("badge %q: unknown comparator %q", d.ID, d.Criteria.Comparator)
		}
		switch d.Criteria.Metric {
		case MetricPosts, MetricFollowers, MetricViews, MetricStreak, MetricReputation,
			MetricAccuracy, MetricEngagementRate:
		default:
			return nil, fmt.Errorf("badge %q: unknown metric %q", d.ID, d.Criteria.Metric)
		}
		e.defs = append(e.defs, d)
		e.byID[d.ID] = d
	}
	return e, nil
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the engine built from the embedded table.
func Default() *Engine {
	defaultOnce.Do(func() {
		e, err := Load(catalog)
		if err != nil {
			panic(fmt.Sprintf("embedded badge table is invalid: %v", err))
		}
		defaultEngine = e
	})
	return defaultEngine
}

// Unlocked reports whether a single badge's criteria hold for stats.
func (e *Engine) Unlocked(d Definition, s Stats) bool {
	if !compare(s.value(d.Criteria.Metric), d.Criteria.Threshold, d.Criteria.Comparator) {
		return false
	}
	if check, ok := extra[d.ID]; ok {
		return check(s)
	}
	return true
}

// Evaluate returns every badge whose criteria stats currently satisfies,
// in table order.
func (e *Engine) Evaluate(s Stats) ([]Definition, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var out []Definition
	for _, d := range e.defs {
		if e.Unlocked(d, s) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Reward returns the credit reward for a badge id.
func (e *Engine) Reward(id string) (int64, bool) {
	d, ok := e.byID[id]
	if !ok {
		return 0, false
	}
	return d.Reward(), true
}

// Get returns a badge definition by id.
func (e *Engine) Get(id string) (Definition, bool) {
	d, ok := e.byID[id]
	return d, ok
}

// All returns the full table in declaration order.
func (e *Engine) All() []Definition {
	return append([]Definition(nil), e.defs...)
}

// ByCategory returns the badges in one category.
func (e *Engine) ByCategory(c Category) []Definition {
	var out []Definition
	for _, d := range e.defs {
		if d.Category == c {
			out = append(out, d)
		}
	}
	return out
}

// Progress describes how close a user is to a locked badge.
type Progress struct {
	Badge     Definition `json:"badge"`
	Percent   float64    `json:"percent"`
	Remaining float64    `json:"remaining"`
}

// Next returns up to limit locked badges ordered by progress, highest first.
func (e *Engine) Next(s Stats, limit int) ([]Progress, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var out []Progress
	for _, d := range e.defs {
		if e.Unlocked(d, s) {
			continue
		}
		current := s.value(d.Criteria.Metric)
		p := Progress{Badge: d, Remaining: max(d.Criteria.Threshold-current, 0)}
		if d.Criteria.Threshold > 0 {
			p.Percent = min(current/d.Criteria.Threshold*100, 100)
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Percent > out[j].Percent })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
