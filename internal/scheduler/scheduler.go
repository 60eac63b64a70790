package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/clock"
	garagedomain "github.com/smallbiznis/parkway/internal/garage/domain"
	obsmetrics "github.com/smallbiznis/parkway/internal/observability/metrics"
	tokendomain "github.com/smallbiznis/parkway/internal/token/domain"
	userdomain "github.com/smallbiznis/parkway/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	TokenSvc  tokendomain.Service
	GarageSvc garagedomain.Service
	AuthzSvc  authorization.Service
	AuditSvc  auditdomain.Service `optional:"true"`
	Config    Config              `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	tokenSvc  tokendomain.Service
	garageSvc garagedomain.Service
	authzSvc  authorization.Service
	auditSvc  auditdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.TokenSvc == nil || p.GarageSvc == nil || p.AuthzSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		tokenSvc:  p.TokenSvc,
		garageSvc: p.GarageSvc,
		authzSvc:  p.AuthzSvc,
		auditSvc:  p.AuditSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx, run)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next tick picks the work up again.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context, *jobRun) error
	}{
		{JobTokenCleanup, s.isJobEnabled(JobTokenCleanup), s.TokenCleanupJob},
		{JobGarageReconcile, s.cfg.ReconcileEnabled && s.isJobEnabled(JobGarageReconcile), s.GarageReconcileJob},
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// isJobEnabled treats an empty EnabledJobs list as all jobs on.
func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// TokenCleanupJob deletes expired and consumed tokens as the system user.
func (s *Scheduler) TokenCleanupJob(ctx context.Context, run *jobRun) error {
	deleted, err := s.tokenSvc.CleanupExpired(ctx, userdomain.SystemUserID, s.clock.Now())
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.token_cleanup.failed", JobTokenCleanup, err)
		return err
	}
	run.AddProcessed(int(deleted))
	obsmetrics.Scheduler().AddBatchProcessed(JobTokenCleanup, "tokens", int(deleted))
	return nil
}

// GarageReconcileJob resets available spots from held bookings for garages
// that have no active sensor.
func (s *Scheduler) GarageReconcileJob(ctx context.Context, run *jobRun) error {
	if err := s.authzSvc.Authorize(ctx, userdomain.SystemUserID, authorization.PermGarageReconcile); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobGarageReconcile, err)
		return err
	}

	result, err := s.garageSvc.Reconcile(ctx, s.clock.Now())
	run.AddProcessed(result.Adjusted)
	obsmetrics.Scheduler().AddBatchProcessed(JobGarageReconcile, "garages", result.Adjusted)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.garage_reconcile.failed", JobGarageReconcile, err,
			zap.Int("scanned", result.Scanned),
		)
		return err
	}
	if result.Adjusted > 0 {
		s.emitAudit(ctx, "garage.reconciled", map[string]any{
			"scanned":  result.Scanned,
			"adjusted": result.Adjusted,
		})
	}
	return nil
}

func (s *Scheduler) emitAudit(ctx context.Context, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := userdomain.SystemUserID.String()
	if err := s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeSystem, &actorID, action, "garage", nil, metadata); err != nil {
		s.logger(ctx).Warn("scheduler audit failed", zap.String("action", action), zap.Error(err))
	}
}
