// Package scheduler runs the engine's periodic jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"credit-engine/internal/service"
)

// Job names.
const (
	JobSettlement = "settle_due"
	JobReconcile  = "reconcile_orphaned_wagers"
)

// Settler settles matches whose results are in.
type Settler interface {
	SettleDue(ctx context.Context) ([]*service.SettlementReport, error)
}

// Reconciler refunds wager debits that never got a prediction.
type Reconciler interface {
	ReconcileOrphanedWagers(ctx context.Context, age time.Duration, limit int) (int, error)
}

// Config holds job intervals. A non-positive interval disables that job.
type Config struct {
	SettleInterval    time.Duration
	ReconcileInterval time.Duration
	OrphanAge         time.Duration
	ReconcileLimit    int
}

// Scheduler wraps a gocron scheduler with the engine jobs registered.
type Scheduler struct {
	sched gocron.Scheduler
}

// New registers the jobs. Each job runs in singleton mode so a slow run
// is never overlapped by the next tick. ctx is passed to every run.
func New(ctx context.Context, cfg Config, settler Settler, reconciler Reconciler) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithGlobalJobOptions(
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
					log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if cfg.SettleInterval > 0 && settler != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(cfg.SettleInterval),
			gocron.NewTask(settleTask(ctx, settler)),
			gocron.WithName(JobSettlement),
		); err != nil {
			return nil, fmt.Errorf("register %s: %w", JobSettlement, err)
		}
	}

	if cfg.ReconcileInterval > 0 && reconciler != nil {
		limit := cfg.ReconcileLimit
		if limit <= 0 {
			limit = 100
		}
		if _, err := sched.NewJob(
			gocron.DurationJob(cfg.ReconcileInterval),
			gocron.NewTask(reconcileTask(ctx, reconciler, cfg.OrphanAge, limit)),
			gocron.WithName(JobReconcile),
		); err != nil {
			return nil, fmt.Errorf("register %s: %w", JobReconcile, err)
		}
	}

	return &Scheduler{sched: sched}, nil
}

func settleTask(ctx context.Context, settler Settler) func() error {
	return func() error {
		reports, err := settler.SettleDue(ctx)
		settled, failed := 0, 0
		for _, r := range reports {
			settled += r.Settled()
			failed += r.Failed
		}
		if len(reports) > 0 {
			log.Info().
				Int("matches", len(reports)).
				Int("settled", settled).
				Int("failed", failed).
				Msg("Settlement run finished")
		}
		return err
	}
}

func reconcileTask(ctx context.Context, reconciler Reconciler, age time.Duration, limit int) func() error {
	return func() error {
		n, err := reconciler.ReconcileOrphanedWagers(ctx, age, limit)
		if n > 0 {
			log.Warn().Int("refunded", n).Msg("Orphaned wager debits refunded")
		}
		return err
	}
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	jobs := s.sched.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Shutdown stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
