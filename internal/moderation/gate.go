// Package moderation scores content for policy risk and decides whether it
// is approved, removed or sent to manual review.
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"credit-engine/internal/apperr"
	"credit-engine/internal/metrics"
)

// Severity of a violation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Action is the moderation decision.
type Action string

const (
	ActionApprove        Action = "approve"
	ActionRemove         Action = "remove"
	ActionReviewRequired Action = "review_required"
)

// Content is the part of a post the gate inspects.
type Content struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	LinkCount   int    `json:"link_count"`
}

// Text is the title and description joined for pattern checks.
func (c Content) Text() string {
	return c.Title + " " + c.Description
}

// Violation is one rule hit.
type Violation struct {
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Verdict is the result of one evaluation.
type Verdict struct {
	Approved   bool        `json:"approved"`
	Action     Action      `json:"action"`
	Violations []Violation `json:"violations"`
	RiskScore  int         `json:"risk_score"`
	Summary    string      `json:"summary"`
}

const (
	weightHigh   = 40
	weightMedium = 20
	weightLow    = 5
	maxRisk      = 100
	reviewRisk   = 50
	failSafeRisk = 50
)

// Gate runs every registered check concurrently and aggregates the result.
type Gate struct {
	registry  *Registry
	now       func() time.Time
	batchSize int
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source used for DetectedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithBatchConcurrency bounds how many items EvaluateBatch checks at once.
func WithBatchConcurrency(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// NewGate creates a gate over the given checks, or DefaultChecks if none.
func NewGate(checks []Check, opts ...Option) *Gate {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	reg := NewRegistry()
	for _, c := range checks {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Skipping moderation check")
		}
	}

	g := &Gate{
		registry:  reg,
		now:       func() time.Time { return time.Now().UTC() },
		batchSize: 8,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry exposes the gate's checks.
func (g *Gate) Registry() *Registry {
	return g.registry
}

// Evaluate moderates one piece of content. Internal check failures never
// surface as errors: they resolve to review_required. The only error is a
// validation error for malformed input.
func (g *Gate) Evaluate(ctx context.Context, c Content) (*Verdict, error) {
	if c.LinkCount < 0 {
		return nil, apperr.Validation("moderation.Evaluate", "link count cannot be negative, got %d", c.LinkCount)
	}

	violations, err := g.runChecks(ctx, c)
	if err != nil {
		log.Error().Err(err).Str("content_id", c.ID).Msg("Moderation check failed, flagging for review")
		v := g.failSafe()
		metrics.ModerationActions.WithLabelValues(string(v.Action)).Inc()
		return v, nil
	}

	v := Decide(violations)
	metrics.ModerationActions.WithLabelValues(string(v.Action)).Inc()
	return v, nil
}

func (g *Gate) runChecks(ctx context.Context, c Content) ([]Violation, error) {
	checks := g.registry.List()
	results := make([][]Violation, len(checks))

	eg, ctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = apperr.New(apperr.KindModerationSystem, "moderation."+check.Name(), "panic: %v", r)
				}
			}()
			found, err := check.Run(ctx, c)
			if err != nil {
				return apperr.Wrap(apperr.KindModerationSystem, "moderation."+check.Name(), err)
			}
			results[i] = found
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	now := g.now()
	var all []Violation
	for _, found := range results {
		for _, v := range found {
			if v.DetectedAt.IsZero() {
				v.DetectedAt = now
			}
			all = append(all, v)
		}
	}
	return all, nil
}

func (g *Gate) failSafe() *Verdict {
	return &Verdict{
		Approved: false,
		Action:   ActionReviewRequired,
		Violations: []Violation{{
			Type:        TypeSystemError,
			Severity:    SeverityMedium,
			Description: "Automated moderation check encountered an error",
			DetectedAt:  g.now(),
		}},
		RiskScore: failSafeRisk,
		Summary:   "Content flagged for manual review due to system error",
	}
}

// Decide turns a list of violations into a verdict.
func Decide(violations []Violation) *Verdict {
	var high, medium, low int
	for _, v := range violations {
		switch v.Severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		case SeverityLow:
			low++
		}
	}

	risk := min(high*weightHigh+medium*weightMedium+low*weightLow, maxRisk)

	action := ActionApprove
	switch {
	case high > 0:
		action = ActionRemove
	case medium > 0 || risk > reviewRisk:
		action = ActionReviewRequired
	}

	return &Verdict{
		Approved:   action == ActionApprove,
		Action:     action,
		Violations: violations,
		RiskScore:  risk,
		Summary:    summarize(violations, action),
	}
}

func summarize(violations []Violation, action Action) string {
	if len(violations) == 0 {
		return "Content approved - no violations detected"
	}
	parts := make([]string, 0, 3)
	for _, v := range violations {
		if len(parts) == 3 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", v.Type, v.Severity))
	}
	return fmt.Sprintf("%d violation(s) detected: %s. Action: %s", len(violations), strings.Join(parts, ", "), action)
}

// EvaluateBatch moderates several items concurrently, keyed by content ID.
func (g *Gate) EvaluateBatch(ctx context.Context, items []Content) (map[string]*Verdict, error) {
	verdicts := make([]*Verdict, len(items))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.batchSize)
	for i, item := range items {
		eg.Go(func() error {
			v, err := g.Evaluate(ctx, item)
			if err != nil {
				return fmt.Errorf("content %q: %w", item.ID, err)
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*Verdict, len(items))
	for i, item := range items {
		out[item.ID] = verdicts[i]
	}
	return out, nil
}

// QuickSafetyCheck runs only the prohibited-phrase rule.
func QuickSafetyCheck(c Content) bool {
	found, _ := checkPolicy(context.Background(), c)
	return len(found) == 0
}

// Stats summarizes a set of verdicts.
type Stats struct {
	TotalChecked   int `json:"total_checked"`
	Approved       int `json:"approved"`
	Rejected       int `json:"rejected"`
	ReviewRequired int `json:"review_required"`
	AverageScore   int `json:"average_score"`
}

// ComputeStats aggregates verdicts. An empty input yields zero stats.
func ComputeStats(verdicts []*Verdict) Stats {
	s := Stats{TotalChecked: len(verdicts)}
	if len(verdicts) == 0 {
		return s
	}

	total := 0
	for _, v := range verdicts {
		switch v.Action {
		case ActionApprove:
			s.Approved++
		case ActionRemove:
			s.Rejected++
		case ActionReviewRequired:
			s.ReviewRequired++
		}
		total += v.RiskScore
	}
	s.AverageScore = (total + len(verdicts)/2) / len(verdicts)
	return s
}
