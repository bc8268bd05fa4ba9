package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/clock"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobPurgeUsageEvents   = "purge_usage_events"
	JobPurgeUsageAttempts = "purge_usage_attempts"

	lockKeyFormat = "featuregate:scheduler:lock:%s"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Quota   quotadomain.Service
	Config  Config                       `optional:"true"`
	Locker  *ratelimit.Locker            `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	quota   quotadomain.Service
	locker  *ratelimit.Locker
	metrics *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Quota == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   clk,
		quota:   p.Quota,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

// runJob runs fn under the job's lease. Without a locker the job runs
// unguarded, which is only safe with a single replica.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	if s.locker != nil {
		key := fmt.Sprintf(lockKeyFormat, name)
		token, ok, err := s.locker.TryLock(parent, key, s.cfg.LockTTL)
		if err != nil {
			s.metrics.IncJobError(name, err)
			return fmt.Errorf("%s: acquire lock: %w", name, err)
		}
		if !ok {
			s.metrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld)
			s.log.Debug("job skipped, lock held elsewhere", zap.String("job", name))
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(parent), key, token); err != nil {
				s.log.Warn("release job lock failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	// A timed-out purge resumes on the next tick.
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger(ctx).Warn("job timed out", zap.String("job", name), zap.Duration("timeout", s.cfg.JobTimeout))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	if s.cfg.RetentionDays > 0 {
		err = errors.Join(err, s.runJob(ctx, JobPurgeUsageEvents, s.PurgeUsageEventsJob))
	}
	err = errors.Join(err, s.runJob(ctx, JobPurgeUsageAttempts, s.PurgeUsageAttemptsJob))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PurgeUsageEventsJob deletes audit events older than the retention window
// in bounded batches. Counter rows are never purged.
func (s *Scheduler) PurgeUsageEventsJob(ctx context.Context) error {
	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	return s.purgeBatches(ctx, JobPurgeUsageEvents, "usage_event", func(ctx context.Context) (int64, error) {
		return s.quota.PurgeEvents(ctx, cutoff, s.cfg.RetentionBatchSize)
	})
}

// PurgeUsageAttemptsJob drops landed-attempt markers once they can no longer
// be asked about.
func (s *Scheduler) PurgeUsageAttemptsJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-quotadomain.AttemptRetention)
	return s.purgeBatches(ctx, JobPurgeUsageAttempts, "usage_attempt", func(ctx context.Context) (int64, error) {
		return s.quota.PurgeAttempts(ctx, cutoff, s.cfg.RetentionBatchSize)
	})
}

func (s *Scheduler) purgeBatches(ctx context.Context, job, entity string, purge func(context.Context) (int64, error)) error {
	run := jobRunFromContext(ctx)
	for i := 0; i < s.cfg.MaxBatchesPerRun; i++ {
		deleted, err := purge(ctx)
		if err != nil {
			return err
		}
		run.AddProcessed(deleted)
		s.metrics.AddBatchProcessed(job, entity, deleted)
		if deleted < int64(s.cfg.RetentionBatchSize) {
			return nil
		}
	}
	return nil
}
