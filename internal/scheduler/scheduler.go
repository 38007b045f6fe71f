package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	"github.com/smallbiznis/agrisubsidy/internal/lock"
	obsmetrics "github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

const stockReconcileLockKey = "scheduler:" + JobStockReconcile

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	InventorySvc inventorydomain.Service
	Locker       lock.Locker `optional:"true"`
	Config       Config      `optional:"true"`
}

// Scheduler runs the background consistency jobs. None of them sit on a
// request path.
type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	inventorySvc inventorydomain.Service
	locker       lock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.InventorySvc == nil {
		return nil, ErrInvalidConfig
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		inventorySvc: p.InventorySvc,
		locker:       locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
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
		Run     func(context.Context) error
	}{
		{JobStockReconcile, s.isJobEnabled(JobStockReconcile), func(ctx context.Context) error {
			return s.runJob(ctx, JobStockReconcile, s.cfg.BatchSize, s.cfg.JobTimeout, s.StockReconcileJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
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

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// StockReconcileJob recomputes every tracked item's balance from its
// movements and reports snapshots that disagree. It never repairs them.
func (s *Scheduler) StockReconcileJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobStockReconcile, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	lease, err := s.locker.Obtain(ctx, stockReconcileLockKey, s.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		schedMetrics.IncJobSkipped(JobStockReconcile, obsmetrics.SchedulerSkipReasonLockHeld)
		s.logger(ctx).Debug("stock reconcile skipped, lock held elsewhere")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx).Warn("release reconcile lock", zap.Error(err))
		}
	}()

	ids, err := s.inventorySvc.ListTrackedItemIDs(ctx)
	if err != nil {
		return err
	}

	checked := 0
	for start := 0; start < len(ids); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(ids))
		for _, id := range ids[start:end] {
			if err := ctx.Err(); err != nil {
				schedMetrics.AddItemsChecked(JobStockReconcile, checked)
				return err
			}
			drift, err := s.inventorySvc.Reconcile(ctx, id)
			if err != nil {
				s.logSchedulerError(ctx, run, "stock reconcile failed", JobStockReconcile, id, err)
				continue
			}
			checked++
			run.AddProcessed(1)
			if !drift.Consistent() {
				s.reportDrift(ctx, schedMetrics, drift)
			}
		}
	}
	schedMetrics.AddItemsChecked(JobStockReconcile, checked)
	return nil
}

func (s *Scheduler) reportDrift(ctx context.Context, schedMetrics *obsmetrics.SchedulerMetrics, drift inventorydomain.Drift) {
	fields := driftFields(drift)
	for _, field := range fields {
		schedMetrics.IncStockDrift(field)
	}
	s.logger(ctx).Warn("inventory.stock.drift",
		zap.String("inventory_id", idString(drift.InventoryID)),
		zap.Strings("fields", fields),
		zap.String("ledger_balance", drift.LedgerBalance.String()),
		zap.String("snapshot_balance", drift.SnapshotBalance.String()),
		zap.String("last_running_balance", drift.LastRunning.String()),
		zap.Int("movements", drift.Movements),
	)
}

func driftFields(drift inventorydomain.Drift) []string {
	var fields []string
	if !drift.LedgerBalance.Equal(drift.SnapshotBalance) {
		fields = append(fields, "current_quantity")
	}
	if !drift.LedgerBalance.Equal(drift.LastRunning) {
		fields = append(fields, "running_balance")
	}
	if !drift.AvailableOK {
		fields = append(fields, "available_quantity")
	}
	return fields
}
