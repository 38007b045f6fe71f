package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	beneficiarydomain "github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/smallbiznis/agrisubsidy/internal/disbursement/domain"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	"github.com/smallbiznis/agrisubsidy/internal/lock"
	"github.com/smallbiznis/agrisubsidy/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultLockTTL     = 2 * time.Minute
	batchNumberRetries = 3
	referenceBatch     = "disbursement_batch"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Cfg            config.Config `optional:"true"`
	Repo           domain.Repository
	ProgramRepo    programdomain.Repository
	AllocationSvc  allocationdomain.Service
	InventorySvc   inventorydomain.Service
	BeneficiarySvc beneficiarydomain.Service
	Authz          authorization.Service
	Locker         lock.Locker         `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	programRepo    programdomain.Repository
	allocationSvc  allocationdomain.Service
	inventorySvc   inventorydomain.Service
	beneficiarySvc beneficiarydomain.Service
	authz          authorization.Service
	locker         lock.Locker
	lockTTL        time.Duration
	obsMetrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	ttl := p.Cfg.BatchLockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("disbursement.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		programRepo:    p.ProgramRepo,
		allocationSvc:  p.AllocationSvc,
		inventorySvc:   p.InventorySvc,
		beneficiarySvc: p.BeneficiarySvc,
		authz:          p.Authz,
		locker:         locker,
		lockTTL:        ttl,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) CreateBatch(ctx context.Context, req domain.CreateBatchRequest) (domain.Batch, error) {
	if req.ProgramID == 0 {
		return domain.Batch{}, domain.ErrInvalidProgram
	}
	if req.ActorID == 0 {
		return domain.Batch{}, errs.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, req.ActorID, authorization.ObjectDisbursement, authorization.ActionDisbursementRelease); err != nil {
		return domain.Batch{}, err
	}

	now := s.clock.Now()
	date := req.Date
	if date.IsZero() {
		date = now
	}

	var batch domain.Batch
	var err error
	for attempt := 0; attempt < batchNumberRetries; attempt++ {
		batch, err = s.insertBatch(ctx, req, date, now)
		if err == nil || !db.IsDuplicateKeyErr(err) {
			break
		}
	}
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Batch{}, errs.ErrConcurrencyConflict.With("batch number taken, retry")
		}
		return domain.Batch{}, db.ClassifyContention(err)
	}

	logger.WithProgram(s.log, req.ProgramID.String()).Info("disbursement batch created",
		zap.String("batch_id", batch.ID.String()),
		zap.String("batch_number", batch.BatchNumber),
	)
	return batch, nil
}

func (s *Service) insertBatch(ctx context.Context, req domain.CreateBatchRequest, date, now time.Time) (domain.Batch, error) {
	var batch domain.Batch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		program, err := s.programRepo.FindByID(ctx, tx, req.ProgramID)
		if err != nil {
			return err
		}
		if program == nil {
			return programdomain.ErrNotFound
		}
		if program.Status != programdomain.StatusApproved && program.Status != programdomain.StatusActive {
			return domain.ErrProgramNotReady.With("program is %s", program.Status)
		}

		count, err := s.repo.CountBatchesWithPrefix(ctx, tx, domain.BatchPrefix(now))
		if err != nil {
			return err
		}

		batch = domain.Batch{
			ID:               s.genID.Generate(),
			ProgramID:        program.ID,
			BatchNumber:      domain.BatchNumber(now, int(count)+1),
			DisbursementDate: date,
			Location:         strings.TrimSpace(req.Location),
			Remarks:          strings.TrimSpace(req.Remarks),
			TotalValue:       decimal.Zero,
			Status:           domain.BatchPlanned,
			CreatedBy:        req.ActorID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return s.repo.InsertBatch(ctx, tx, &batch)
	})
	return batch, err
}

func (s *Service) GetBatch(ctx context.Context, id snowflake.ID) (domain.Batch, error) {
	batch, err := s.repo.FindBatch(ctx, s.db, id)
	if err != nil {
		return domain.Batch{}, err
	}
	if batch == nil {
		return domain.Batch{}, domain.ErrBatchNotFound
	}
	return *batch, nil
}

func (s *Service) ListBatches(ctx context.Context, programID snowflake.ID) ([]domain.Batch, error) {
	return s.repo.ListBatches(ctx, s.db, programID)
}

func (s *Service) ListFinancialRecords(ctx context.Context, batchID snowflake.ID) ([]domain.FinancialDisbursementRecord, error) {
	return s.repo.ListRecords(ctx, s.db, batchID)
}

func (s *Service) Disburse(ctx context.Context, req domain.DisburseRequest) ([]domain.LineResult, error) {
	if req.ActorID == 0 {
		return nil, errs.ErrInvalidActor
	}
	if len(req.Lines) == 0 {
		return nil, domain.ErrEmptyLines
	}
	if err := s.authz.Authorize(ctx, req.ActorID, authorization.ObjectDisbursement, authorization.ActionDisbursementRelease); err != nil {
		return nil, err
	}

	lease, err := s.obtain(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	batch, err := s.openBatch(ctx, req.BatchID)
	if err != nil {
		return nil, db.ClassifyContention(err)
	}

	log := logger.WithProgram(s.log, batch.ProgramID.String()).With(zap.String("batch_id", batch.ID.String()))
	results := make([]domain.LineResult, 0, len(req.Lines))
	released := 0
	var lost error
	for i, line := range req.Lines {
		if i > 0 && lost == nil {
			lost = lease.Refresh(ctx, s.lockTTL)
			if lost != nil {
				log.Warn("batch lock lost, rejecting remaining lines", zap.Int("remaining", len(req.Lines)-i), zap.Error(lost))
			}
		}
		var result domain.LineResult
		if lost != nil {
			result = failed(line.BeneficiaryItemID, "", domain.ErrBatchBusy.With("batch lock lost: %v", lost))
		} else {
			result = s.disburseLine(ctx, batch, line, req.ActorID)
		}
		if result.Status == domain.LineReleased {
			released++
			s.obsMetrics.RecordDisbursementLine(ctx, result.Kind, string(result.Status), "")
		} else {
			s.obsMetrics.RecordDisbursementLine(ctx, result.Kind, string(result.Status), errs.CodeOf(result.Err()))
			log.Warn("disbursement line rejected",
				zap.String("beneficiary_item_id", line.BeneficiaryItemID.String()),
				zap.String("reason", result.Reason),
			)
		}
		results = append(results, result)
	}

	log.Info("disbursement processed",
		zap.Int("lines", len(req.Lines)),
		zap.Int("released", released),
		zap.String("actor_id", req.ActorID.String()),
	)
	return results, nil
}

// openBatch checks the batch and its program and moves a planned batch to
// ongoing.
func (s *Service) openBatch(ctx context.Context, batchID snowflake.ID) (domain.Batch, error) {
	var batch domain.Batch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrBatchNotFound
		}
		if !locked.Status.Open() {
			return domain.ErrBatchClosed.With("batch %s is %s", locked.BatchNumber, locked.Status)
		}
		program, err := s.programRepo.FindByID(ctx, tx, locked.ProgramID)
		if err != nil {
			return err
		}
		if program == nil {
			return programdomain.ErrNotFound
		}
		if program.Status != programdomain.StatusActive {
			return domain.ErrProgramNotReady.With("program is %s", program.Status)
		}
		if locked.Status == domain.BatchPlanned {
			locked.Status = domain.BatchOngoing
			locked.UpdatedAt = s.clock.Now()
			if err := s.repo.UpdateBatch(ctx, tx, locked); err != nil {
				return err
			}
		}
		batch = *locked
		return nil
	})
	return batch, err
}

func (s *Service) disburseLine(ctx context.Context, batch domain.Batch, line domain.Line, actorID snowflake.ID) domain.LineResult {
	if line.BeneficiaryItemID == 0 || !line.QuantityOrAmount.IsPositive() {
		return failed(line.BeneficiaryItemID, "", domain.ErrInvalidLine.With("item id and a positive quantity are required"))
	}
	if line.DisbursementMethod != "" && !line.DisbursementMethod.Valid() {
		return failed(line.BeneficiaryItemID, "", domain.ErrInvalidMethod.With("method %q", line.DisbursementMethod))
	}

	result := domain.LineResult{BeneficiaryItemID: line.BeneficiaryItemID, Status: domain.LineReleased}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.beneficiarySvc.GetItemTx(ctx, tx, line.BeneficiaryItemID)
		if err != nil {
			return err
		}
		result.Kind = string(kindOf(&item))
		if item.ProgramID != batch.ProgramID {
			return domain.ErrProgramMismatch.With("item %s belongs to program %s", item.ID, item.ProgramID)
		}
		// Dry run on the unlocked read so a released or over-approved line is
		// reported as such rather than as an allocation shortfall.
		trial := item
		if err := trial.MarkReleased(beneficiarydomain.Release{Value: line.QuantityOrAmount}); err != nil {
			return err
		}

		program, err := s.programRepo.LockByID(ctx, tx, batch.ProgramID)
		if err != nil {
			return err
		}
		if program == nil {
			return programdomain.ErrNotFound
		}
		if program.Status != programdomain.StatusActive {
			return domain.ErrProgramNotReady.With("program is %s", program.Status)
		}

		now := s.clock.Now()
		method := line.DisbursementMethod
		var value decimal.Decimal
		var financial *allocationdomain.FinancialAllocation
		if item.IsInventory() {
			value, err = s.drawInventory(ctx, tx, batch, item, line, actorID, &result)
			if err != nil {
				return err
			}
		} else {
			if item.FinancialSubsidyTypeID == nil {
				return beneficiarydomain.ErrNoEntitlement
			}
			allocation, err := s.allocationSvc.DrawFinancialTx(ctx, tx, batch.ProgramID, *item.FinancialSubsidyTypeID, line.QuantityOrAmount)
			if err != nil {
				return err
			}
			if method == "" {
				method = allocation.DisbursementMethod
			}
			financial = &allocation
			value = line.QuantityOrAmount
		}

		if err := program.Disburse(value); err != nil {
			return err
		}

		_, outcome, err := s.beneficiarySvc.ReleaseItemTx(ctx, tx, item.ID, beneficiarydomain.Release{
			Value:           line.QuantityOrAmount,
			BatchID:         batch.ID,
			Method:          string(method),
			RecipientName:   strings.TrimSpace(line.RecipientName),
			ReferenceNumber: strings.TrimSpace(line.ReferenceNumber),
			Remarks:         strings.TrimSpace(line.Remarks),
			ActorID:         actorID,
			At:              now,
		})
		if err != nil {
			return err
		}

		if financial != nil {
			record := domain.FinancialDisbursementRecord{
				ID:                    s.genID.Generate(),
				BeneficiaryItemID:     item.ID,
				ProgramID:             batch.ProgramID,
				FinancialAllocationID: financial.ID,
				BatchID:               batch.ID,
				Amount:                value,
				DisbursementMethod:    method,
				RecipientName:         strings.TrimSpace(line.RecipientName),
				ReferenceNumber:       strings.TrimSpace(line.ReferenceNumber),
				DisbursedBy:           actorID,
				CreatedAt:             now,
			}
			if err := s.repo.InsertRecord(ctx, tx, &record); err != nil {
				return err
			}
			result.RecordID = record.ID
		}

		if outcome.FirstForBeneficiary {
			program.ActualBeneficiaries++
		}
		program.UpdatedAt = now
		if err := s.programRepo.Update(ctx, tx, program); err != nil {
			return err
		}

		current, err := s.repo.FindBatch(ctx, tx, batch.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrBatchNotFound
		}
		if !current.Status.Open() {
			return domain.ErrBatchClosed.With("batch %s is %s", current.BatchNumber, current.Status)
		}
		current.Accumulate(value, outcome.FirstInBatch)
		current.UpdatedAt = now
		if err := s.repo.UpdateBatch(ctx, tx, current); err != nil {
			return err
		}

		result.Value = value
		return nil
	})
	if err != nil {
		return failed(line.BeneficiaryItemID, result.Kind, db.ClassifyContention(err))
	}
	return result
}

// drawInventory decrements the allocation, drops the reservation and posts
// the distribution movement. It returns the booked value at allocation cost.
func (s *Service) drawInventory(
	ctx context.Context,
	tx *gorm.DB,
	batch domain.Batch,
	item beneficiarydomain.ProgramBeneficiaryItem,
	line domain.Line,
	actorID snowflake.ID,
	result *domain.LineResult,
) (decimal.Decimal, error) {
	inventoryID := *item.InventoryID
	allocation, err := s.allocationSvc.DrawInventoryTx(ctx, tx, batch.ProgramID, inventoryID, line.QuantityOrAmount)
	if err != nil {
		return decimal.Zero, err
	}

	inv, err := s.inventorySvc.GetItemTx(ctx, tx, inventoryID)
	if err != nil {
		return decimal.Zero, err
	}
	if inv.IsTrackableStock {
		if err := s.inventorySvc.ReleaseTx(ctx, tx, inventoryID, line.QuantityOrAmount); err != nil {
			return decimal.Zero, err
		}
		movement, err := s.inventorySvc.PostMovementTx(ctx, tx, inventorydomain.RecordMovementRequest{
			InventoryID:   inventoryID,
			Quantity:      line.QuantityOrAmount.Neg(),
			MovementType:  inventorydomain.MovementDistribution,
			UnitCost:      allocation.UnitCost,
			ReferenceType: referenceBatch,
			ReferenceID:   batch.ID,
			Remarks:       strings.TrimSpace(line.Remarks),
			ActorID:       actorID,
		})
		if err != nil {
			return decimal.Zero, err
		}
		result.MovementID = movement.ID
	}
	return line.QuantityOrAmount.Mul(allocation.UnitCost).Round(4), nil
}

func (s *Service) CloseBatch(ctx context.Context, req domain.BatchActionRequest) (domain.Batch, error) {
	return s.finish(ctx, req, domain.BatchCompleted, func(batch *domain.Batch) error {
		if !batch.Status.Open() {
			return domain.ErrBatchClosed.With("batch %s is %s", batch.BatchNumber, batch.Status)
		}
		return nil
	})
}

func (s *Service) CancelBatch(ctx context.Context, req domain.BatchActionRequest) (domain.Batch, error) {
	return s.finish(ctx, req, domain.BatchCancelled, func(batch *domain.Batch) error {
		if batch.Status != domain.BatchPlanned {
			return domain.ErrBatchNotPlanned.With("batch %s is %s", batch.BatchNumber, batch.Status)
		}
		if batch.TotalItems > 0 {
			return domain.ErrBatchHasReleases.With("batch %s released %d items", batch.BatchNumber, batch.TotalItems)
		}
		return nil
	})
}

func (s *Service) finish(ctx context.Context, req domain.BatchActionRequest, to domain.BatchStatus, check func(*domain.Batch) error) (domain.Batch, error) {
	if req.ActorID == 0 {
		return domain.Batch{}, errs.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, req.ActorID, authorization.ObjectDisbursement, authorization.ActionDisbursementClose); err != nil {
		return domain.Batch{}, err
	}

	lease, err := s.obtain(ctx, req.BatchID)
	if err != nil {
		return domain.Batch{}, err
	}
	defer s.release(ctx, lease)

	var batch domain.Batch
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockBatch(ctx, tx, req.BatchID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrBatchNotFound
		}
		if err := check(locked); err != nil {
			return err
		}
		now := s.clock.Now()
		locked.Status = to
		locked.ClosedBy = req.ActorID
		locked.ClosedAt = &now
		locked.UpdatedAt = now
		if remarks := strings.TrimSpace(req.Remarks); remarks != "" {
			locked.Remarks = remarks
		}
		if err := s.repo.UpdateBatch(ctx, tx, locked); err != nil {
			return err
		}
		batch = *locked
		return nil
	})
	if err != nil {
		return domain.Batch{}, db.ClassifyContention(err)
	}

	logger.WithProgram(s.log, batch.ProgramID.String()).Info("disbursement batch closed",
		zap.String("batch_id", batch.ID.String()),
		zap.String("status", string(batch.Status)),
		zap.Int("total_items", batch.TotalItems),
		zap.String("total_value", batch.TotalValue.String()),
	)
	return batch, nil
}

func (s *Service) obtain(ctx context.Context, batchID snowflake.ID) (lock.Lease, error) {
	lease, err := s.locker.Obtain(ctx, "disbursement:batch:"+batchID.String(), s.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, domain.ErrBatchBusy.With("batch %s is being processed", batchID)
	}
	return lease, err
}

func (s *Service) release(ctx context.Context, lease lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("release batch lock", zap.String("key", lease.Key()), zap.Error(err))
	}
}

func kindOf(item *beneficiarydomain.ProgramBeneficiaryItem) allocationdomain.Kind {
	if item.IsInventory() {
		return allocationdomain.KindInventory
	}
	return allocationdomain.KindFinancial
}

func failed(itemID snowflake.ID, kind string, err error) domain.LineResult {
	result := domain.Failed(itemID, err, string(errs.KindOf(err)), errs.Reason(err))
	result.Kind = kind
	return result
}
