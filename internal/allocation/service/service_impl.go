package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	obsmetrics "github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	ProgramRepo  programdomain.Repository
	InventorySvc inventorydomain.Service
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	programRepo  programdomain.Repository
	inventorySvc inventorydomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("allocation.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		programRepo:  p.ProgramRepo,
		inventorySvc: p.InventorySvc,
		obsMetrics:   p.ObsMetrics,
	}
}

// Allocations may only be attached before approval.
func allocatable(status programdomain.Status) bool {
	return status == programdomain.StatusDraft || status == programdomain.StatusSubmitted
}

func (s *Service) AllocateInventory(ctx context.Context, req domain.AllocateInventoryRequest) ([]domain.AllocationResult, error) {
	var results []domain.AllocationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		program, err := s.lockProgram(ctx, tx, req.ProgramID)
		if err != nil {
			return err
		}
		results, err = s.AllocateInventoryTx(ctx, tx, program, req.Lines, req.ActorID)
		if err != nil {
			return err
		}
		return s.programRepo.Update(ctx, tx, program)
	})
	if err != nil {
		return nil, db.ClassifyContention(err)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordAllocation(ctx, string(domain.KindInventory), len(results))
	}
	s.log.Info("inventory allocated",
		zap.String("program_id", req.ProgramID.String()),
		zap.Int("lines", len(results)),
	)
	return results, nil
}

func (s *Service) AllocateInventoryTx(ctx context.Context, tx *gorm.DB, program *programdomain.Program, lines []domain.InventoryLine, actorID snowflake.ID) ([]domain.AllocationResult, error) {
	if program == nil {
		return nil, programdomain.ErrNotFound
	}
	if !allocatable(program.Status) {
		return nil, programdomain.ErrNotAllocatable.With("program is %s", program.Status)
	}
	if err := validateInventoryLines(lines); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	total := decimal.Zero
	results := make([]domain.AllocationResult, 0, len(lines))
	for _, line := range lines {
		item, err := s.inventorySvc.GetItemTx(ctx, tx, line.InventoryID)
		if err != nil {
			return nil, err
		}
		if !item.IsSubsidizable {
			return nil, domain.ErrNotSubsidizable.With("item %s", item.ItemCode)
		}

		allocation, err := s.repo.LockInventoryAllocationFor(ctx, tx, program.ID, item.ID)
		if err != nil {
			return nil, err
		}
		if allocation != nil && allocation.Status == domain.StatusCompleted {
			return nil, domain.ErrAllocationClosed.With("allocation for %s is completed", item.ItemCode)
		}

		// Untracked items carry no stock row to hold against.
		if item.IsTrackableStock {
			if err := s.inventorySvc.ReserveTx(ctx, tx, item.ID, line.Quantity); err != nil {
				return nil, err
			}
		}

		var cost decimal.Decimal
		switch {
		case allocation == nil:
			cost = line.Quantity.Mul(item.UnitCost)
			allocation = &domain.InventoryAllocation{
				ID:                  s.genID.Generate(),
				ProgramID:           program.ID,
				InventoryID:         item.ID,
				AllocatedQuantity:   line.Quantity,
				DistributedQuantity: decimal.Zero,
				RemainingQuantity:   line.Quantity,
				UnitCost:            item.UnitCost,
				TotalCost:           cost,
				Status:              domain.StatusActive,
				Stage:               domain.StagePending,
				AllocatedBy:         actorID,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := s.repo.InsertInventoryAllocation(ctx, tx, allocation); err != nil {
				return nil, err
			}
		case allocation.Status == domain.StatusActive:
			// Top-ups keep the unit cost fixed at first allocation.
			cost = line.Quantity.Mul(allocation.UnitCost)
			allocation.AllocatedQuantity = allocation.AllocatedQuantity.Add(line.Quantity)
			allocation.RemainingQuantity = allocation.AllocatedQuantity.Sub(allocation.DistributedQuantity)
			allocation.TotalCost = allocation.AllocatedQuantity.Mul(allocation.UnitCost)
			allocation.AllocatedBy = actorID
			allocation.UpdatedAt = now
			if err := s.repo.UpdateInventoryAllocation(ctx, tx, allocation); err != nil {
				return nil, err
			}
		default:
			cost = line.Quantity.Mul(item.UnitCost)
			allocation.AllocatedQuantity = line.Quantity
			allocation.DistributedQuantity = decimal.Zero
			allocation.RemainingQuantity = line.Quantity
			allocation.UnitCost = item.UnitCost
			allocation.TotalCost = cost
			allocation.Status = domain.StatusActive
			allocation.Stage = domain.StagePending
			allocation.AllocatedBy = actorID
			allocation.UpdatedAt = now
			if err := s.repo.UpdateInventoryAllocation(ctx, tx, allocation); err != nil {
				return nil, err
			}
		}

		total = total.Add(cost)
		results = append(results, domain.AllocationResult{
			Kind:         domain.KindInventory,
			AllocationID: allocation.ID,
			InventoryID:  item.ID,
			Name:         item.Name,
			Quantity:     line.Quantity,
			UnitCost:     allocation.UnitCost,
			TotalCost:    cost,
		})
	}

	program.AllocatedBudget = program.AllocatedBudget.Add(total)
	program.InventoryAllocated = true
	if err := s.deriveSubsidyType(ctx, tx, program); err != nil {
		return nil, err
	}
	program.UpdatedAt = now
	return results, nil
}

// CancelInventoryAllocation returns the remaining reservation to stock.
// Cancelling a cancelled allocation is a no-op.
func (s *Service) CancelInventoryAllocation(ctx context.Context, allocationID snowflake.ID, actorID snowflake.ID) (domain.InventoryAllocation, error) {
	var cancelled domain.InventoryAllocation
	released := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindInventoryAllocation(ctx, tx, allocationID)
		if err != nil {
			return err
		}
		if found == nil {
			return domain.ErrNotFound
		}

		program, err := s.lockProgram(ctx, tx, found.ProgramID)
		if err != nil {
			return err
		}
		allocation, err := s.repo.LockInventoryAllocation(ctx, tx, allocationID)
		if err != nil {
			return err
		}
		if allocation == nil {
			return domain.ErrNotFound
		}

		switch allocation.Status {
		case domain.StatusCancelled:
			cancelled = *allocation
			return nil
		case domain.StatusCompleted:
			return domain.ErrAllocationClosed.With("allocation %s is completed", allocation.ID)
		}

		value, err := s.cancelInventoryTx(ctx, tx, allocation)
		if err != nil {
			return err
		}
		program.AllocatedBudget = program.AllocatedBudget.Sub(value)
		hasInventory, err := s.hasActiveInventory(ctx, tx, program.ID)
		if err != nil {
			return err
		}
		program.InventoryAllocated = hasInventory
		if err := s.deriveSubsidyType(ctx, tx, program); err != nil {
			return err
		}
		program.UpdatedAt = s.clock.Now()
		if err := s.programRepo.Update(ctx, tx, program); err != nil {
			return err
		}
		cancelled = *allocation
		released = true
		return nil
	})
	if err != nil {
		return domain.InventoryAllocation{}, db.ClassifyContention(err)
	}
	if released {
		s.log.Info("inventory allocation cancelled",
			zap.String("allocation_id", cancelled.ID.String()),
			zap.String("program_id", cancelled.ProgramID.String()),
			zap.String("actor_id", actorID.String()),
		)
	}
	return cancelled, nil
}

func (s *Service) CreateSubsidyType(ctx context.Context, req domain.CreateSubsidyTypeRequest) (domain.FinancialSubsidyType, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.FinancialSubsidyType{}, domain.ErrInvalidName
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.FinancialSubsidyType{}, domain.ErrInvalidName.With("code is required")
	}
	if req.DefaultAmount.IsNegative() {
		return domain.FinancialSubsidyType{}, domain.ErrInvalidAmount
	}

	existing, err := s.repo.FindSubsidyTypeByCode(ctx, s.db, code)
	if err != nil {
		return domain.FinancialSubsidyType{}, err
	}
	if existing != nil {
		return domain.FinancialSubsidyType{}, domain.ErrDuplicateCode.With("code %s", code)
	}

	subsidyType := domain.FinancialSubsidyType{
		ID:            s.genID.Generate(),
		Name:          name,
		Code:          code,
		Description:   strings.TrimSpace(req.Description),
		DefaultAmount: req.DefaultAmount,
		IsActive:      true,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.InsertSubsidyType(ctx, s.db, &subsidyType); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.FinancialSubsidyType{}, domain.ErrDuplicateCode.With("code %s", code)
		}
		return domain.FinancialSubsidyType{}, err
	}
	return subsidyType, nil
}

func (s *Service) ListSubsidyTypes(ctx context.Context) ([]domain.FinancialSubsidyType, error) {
	return s.repo.ListSubsidyTypes(ctx, s.db)
}

func (s *Service) AllocateFinancial(ctx context.Context, req domain.AllocateFinancialRequest) ([]domain.AllocationResult, error) {
	if err := validateFinancialLines(req.Lines); err != nil {
		return nil, err
	}

	var results []domain.AllocationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		program, err := s.lockProgram(ctx, tx, req.ProgramID)
		if err != nil {
			return err
		}
		if !allocatable(program.Status) {
			return programdomain.ErrNotAllocatable.With("program is %s", program.Status)
		}

		now := s.clock.Now()
		total := decimal.Zero
		results = make([]domain.AllocationResult, 0, len(req.Lines))
		for _, line := range req.Lines {
			subsidyType, err := s.repo.FindSubsidyType(ctx, tx, line.SubsidyTypeID)
			if err != nil {
				return err
			}
			if subsidyType == nil {
				return domain.ErrSubsidyTypeNotFound
			}
			if !subsidyType.IsActive {
				return domain.ErrSubsidyTypeInactive.With("type %s", subsidyType.Code)
			}

			method := line.DisbursementMethod
			if method == "" {
				method = domain.MethodCash
			}
			lineTotal := line.AmountPerBeneficiary.Mul(decimal.NewFromInt(int64(line.TargetBeneficiaries)))

			allocation, err := s.repo.LockFinancialAllocationFor(ctx, tx, program.ID, subsidyType.ID)
			if err != nil {
				return err
			}
			switch {
			case allocation == nil:
				allocation = &domain.FinancialAllocation{
					ID:                   s.genID.Generate(),
					ProgramID:            program.ID,
					SubsidyTypeID:        subsidyType.ID,
					AmountPerBeneficiary: line.AmountPerBeneficiary,
					TargetBeneficiaries:  line.TargetBeneficiaries,
					TotalAllocatedAmount: lineTotal,
					DisbursedAmount:      decimal.Zero,
					RemainingAmount:      lineTotal,
					DisbursementMethod:   method,
					Status:               domain.StatusActive,
					AllocatedBy:          req.ActorID,
					CreatedAt:            now,
					UpdatedAt:            now,
				}
				if err := s.repo.InsertFinancialAllocation(ctx, tx, allocation); err != nil {
					return err
				}
			case allocation.Status == domain.StatusActive:
				if !allocation.AmountPerBeneficiary.Equal(line.AmountPerBeneficiary) {
					return domain.ErrAmountMismatch.With("existing %s, requested %s",
						allocation.AmountPerBeneficiary.String(), line.AmountPerBeneficiary.String())
				}
				allocation.TargetBeneficiaries += line.TargetBeneficiaries
				allocation.TotalAllocatedAmount = allocation.AmountPerBeneficiary.Mul(decimal.NewFromInt(int64(allocation.TargetBeneficiaries)))
				allocation.RemainingAmount = allocation.TotalAllocatedAmount.Sub(allocation.DisbursedAmount)
				allocation.DisbursementMethod = method
				allocation.AllocatedBy = req.ActorID
				allocation.UpdatedAt = now
				if err := s.repo.UpdateFinancialAllocation(ctx, tx, allocation); err != nil {
					return err
				}
			case allocation.Status == domain.StatusCancelled:
				allocation.AmountPerBeneficiary = line.AmountPerBeneficiary
				allocation.TargetBeneficiaries = line.TargetBeneficiaries
				allocation.TotalAllocatedAmount = lineTotal
				allocation.DisbursedAmount = decimal.Zero
				allocation.RemainingAmount = lineTotal
				allocation.DisbursementMethod = method
				allocation.Status = domain.StatusActive
				allocation.AllocatedBy = req.ActorID
				allocation.UpdatedAt = now
				if err := s.repo.UpdateFinancialAllocation(ctx, tx, allocation); err != nil {
					return err
				}
			default:
				return domain.ErrAllocationClosed.With("allocation for %s is completed", subsidyType.Code)
			}

			total = total.Add(lineTotal)
			results = append(results, domain.AllocationResult{
				Kind:          domain.KindFinancial,
				AllocationID:  allocation.ID,
				SubsidyTypeID: subsidyType.ID,
				Name:          subsidyType.Name,
				Quantity:      decimal.NewFromInt(int64(line.TargetBeneficiaries)),
				UnitCost:      line.AmountPerBeneficiary,
				TotalCost:     lineTotal,
			})
		}

		program.AllocatedBudget = program.AllocatedBudget.Add(total)
		if err := s.deriveSubsidyType(ctx, tx, program); err != nil {
			return err
		}
		program.UpdatedAt = now
		return s.programRepo.Update(ctx, tx, program)
	})
	if err != nil {
		return nil, db.ClassifyContention(err)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordAllocation(ctx, string(domain.KindFinancial), len(results))
	}
	return results, nil
}

func (s *Service) CancelFinancialAllocation(ctx context.Context, allocationID snowflake.ID, actorID snowflake.ID) (domain.FinancialAllocation, error) {
	var cancelled domain.FinancialAllocation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindFinancialAllocation(ctx, tx, allocationID)
		if err != nil {
			return err
		}
		if found == nil {
			return domain.ErrNotFound
		}
		program, err := s.lockProgram(ctx, tx, found.ProgramID)
		if err != nil {
			return err
		}
		allocation, err := s.repo.LockFinancialAllocation(ctx, tx, allocationID)
		if err != nil {
			return err
		}
		if allocation == nil {
			return domain.ErrNotFound
		}

		switch allocation.Status {
		case domain.StatusCancelled:
			cancelled = *allocation
			return nil
		case domain.StatusCompleted:
			return domain.ErrAllocationClosed.With("allocation %s is completed", allocation.ID)
		}

		value, err := s.cancelFinancialTx(ctx, tx, allocation)
		if err != nil {
			return err
		}
		program.AllocatedBudget = program.AllocatedBudget.Sub(value)
		if err := s.deriveSubsidyType(ctx, tx, program); err != nil {
			return err
		}
		program.UpdatedAt = s.clock.Now()
		if err := s.programRepo.Update(ctx, tx, program); err != nil {
			return err
		}
		cancelled = *allocation
		return nil
	})
	if err != nil {
		return domain.FinancialAllocation{}, db.ClassifyContention(err)
	}
	return cancelled, nil
}

func (s *Service) ActivateProgramTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) (domain.Activation, error) {
	var activation domain.Activation
	inventory, err := s.repo.ListInventoryAllocations(ctx, tx, programID)
	if err != nil {
		return activation, err
	}
	now := s.clock.Now()
	for i := range inventory {
		allocation := &inventory[i]
		if allocation.Status != domain.StatusActive {
			continue
		}
		activation.InventoryLines++
		if allocation.Stage != domain.StagePending {
			continue
		}
		allocation.Stage = domain.StageAllocated
		allocation.UpdatedAt = now
		if err := s.repo.UpdateInventoryAllocation(ctx, tx, allocation); err != nil {
			return activation, err
		}
	}

	financial, err := s.repo.ListFinancialAllocations(ctx, tx, programID)
	if err != nil {
		return activation, err
	}
	for _, allocation := range financial {
		if allocation.Status == domain.StatusActive {
			activation.FinancialLines++
		}
	}
	return activation, nil
}

func (s *Service) StartDistributingTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) error {
	return s.restageInventory(ctx, tx, programID, domain.StageDistributing)
}

// CompleteProgramTx closes every open allocation. Undistributed quantity is
// no longer held against stock.
func (s *Service) CompleteProgramTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) error {
	inventory, err := s.repo.ListInventoryAllocations(ctx, tx, programID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for i := range inventory {
		allocation := &inventory[i]
		if allocation.Status == domain.StatusCancelled {
			continue
		}
		if allocation.Status == domain.StatusActive && allocation.RemainingQuantity.IsPositive() {
			if err := s.releaseHoldTx(ctx, tx, allocation.InventoryID, allocation.RemainingQuantity); err != nil {
				return err
			}
		}
		if allocation.Status == domain.StatusCompleted && allocation.Stage == domain.StageCompleted {
			continue
		}
		allocation.Status = domain.StatusCompleted
		allocation.Stage = domain.StageCompleted
		allocation.UpdatedAt = now
		if err := s.repo.UpdateInventoryAllocation(ctx, tx, allocation); err != nil {
			return err
		}
	}

	financial, err := s.repo.ListFinancialAllocations(ctx, tx, programID)
	if err != nil {
		return err
	}
	for i := range financial {
		allocation := &financial[i]
		if allocation.Status != domain.StatusActive {
			continue
		}
		allocation.Status = domain.StatusCompleted
		allocation.UpdatedAt = now
		if err := s.repo.UpdateFinancialAllocation(ctx, tx, allocation); err != nil {
			return err
		}
	}
	return nil
}

// CancelProgramTx releases every open reservation of the program and takes
// the undistributed value off its allocated budget.
func (s *Service) CancelProgramTx(ctx context.Context, tx *gorm.DB, program *programdomain.Program) error {
	inventory, err := s.repo.ListInventoryAllocations(ctx, tx, program.ID)
	if err != nil {
		return err
	}
	released := decimal.Zero
	for i := range inventory {
		allocation := &inventory[i]
		if allocation.Status != domain.StatusActive {
			continue
		}
		value, err := s.cancelInventoryTx(ctx, tx, allocation)
		if err != nil {
			return err
		}
		released = released.Add(value)
	}

	financial, err := s.repo.ListFinancialAllocations(ctx, tx, program.ID)
	if err != nil {
		return err
	}
	for i := range financial {
		allocation := &financial[i]
		if allocation.Status != domain.StatusActive {
			continue
		}
		value, err := s.cancelFinancialTx(ctx, tx, allocation)
		if err != nil {
			return err
		}
		released = released.Add(value)
	}

	program.AllocatedBudget = program.AllocatedBudget.Sub(released)
	program.InventoryAllocated = false
	program.ReadyForDistribution = false
	return nil
}

func (s *Service) DrawInventoryTx(ctx context.Context, tx *gorm.DB, programID, inventoryID snowflake.ID, quantity decimal.Decimal) (domain.InventoryAllocation, error) {
	allocation, err := s.repo.LockInventoryAllocationFor(ctx, tx, programID, inventoryID)
	if err != nil {
		return domain.InventoryAllocation{}, err
	}
	if allocation == nil {
		return domain.InventoryAllocation{}, domain.ErrInsufficientAllocation.With("no allocation of item %s", inventoryID)
	}
	if err := allocation.Draw(quantity); err != nil {
		return domain.InventoryAllocation{}, err
	}
	allocation.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateInventoryAllocation(ctx, tx, allocation); err != nil {
		return domain.InventoryAllocation{}, err
	}
	return *allocation, nil
}

func (s *Service) DrawFinancialTx(ctx context.Context, tx *gorm.DB, programID, subsidyTypeID snowflake.ID, amount decimal.Decimal) (domain.FinancialAllocation, error) {
	allocation, err := s.repo.LockFinancialAllocationFor(ctx, tx, programID, subsidyTypeID)
	if err != nil {
		return domain.FinancialAllocation{}, err
	}
	if allocation == nil {
		return domain.FinancialAllocation{}, domain.ErrInsufficientAllocation.With("no allocation of subsidy type %s", subsidyTypeID)
	}
	if err := allocation.Draw(amount); err != nil {
		return domain.FinancialAllocation{}, err
	}
	allocation.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateFinancialAllocation(ctx, tx, allocation); err != nil {
		return domain.FinancialAllocation{}, err
	}
	return *allocation, nil
}

func (s *Service) Summary(ctx context.Context, programID snowflake.ID) (domain.Summary, error) {
	program, err := s.programRepo.FindByID(ctx, s.db, programID)
	if err != nil {
		return domain.Summary{}, err
	}
	if program == nil {
		return domain.Summary{}, programdomain.ErrNotFound
	}

	inventory, err := s.repo.ListInventoryAllocations(ctx, s.db, programID)
	if err != nil {
		return domain.Summary{}, err
	}
	financial, err := s.repo.ListFinancialAllocations(ctx, s.db, programID)
	if err != nil {
		return domain.Summary{}, err
	}

	summary := domain.Summary{
		ProgramID:        programID,
		Lines:            make([]domain.SummaryLine, 0, len(inventory)+len(financial)),
		AllocatedValue:   decimal.Zero,
		DistributedValue: decimal.Zero,
		UtilisationRate:  decimal.Zero,
	}
	for _, a := range inventory {
		distributedValue := a.DistributedQuantity.Mul(a.UnitCost)
		summary.Lines = append(summary.Lines, domain.SummaryLine{
			Kind:         domain.KindInventory,
			AllocationID: a.ID,
			ReferenceID:  a.InventoryID,
			Status:       a.Status,
			Allocated:    a.AllocatedQuantity,
			Distributed:  a.DistributedQuantity,
			Remaining:    a.RemainingQuantity,
			Value:        a.TotalCost,
		})
		if a.Status == domain.StatusCancelled {
			continue
		}
		summary.AllocatedValue = summary.AllocatedValue.Add(a.TotalCost)
		summary.DistributedValue = summary.DistributedValue.Add(distributedValue)
	}
	for _, a := range financial {
		summary.Lines = append(summary.Lines, domain.SummaryLine{
			Kind:         domain.KindFinancial,
			AllocationID: a.ID,
			ReferenceID:  a.SubsidyTypeID,
			Status:       a.Status,
			Allocated:    a.TotalAllocatedAmount,
			Distributed:  a.DisbursedAmount,
			Remaining:    a.RemainingAmount,
			Value:        a.TotalAllocatedAmount,
		})
		if a.Status == domain.StatusCancelled {
			continue
		}
		summary.AllocatedValue = summary.AllocatedValue.Add(a.TotalAllocatedAmount)
		summary.DistributedValue = summary.DistributedValue.Add(a.DisbursedAmount)
	}
	if summary.AllocatedValue.IsPositive() {
		summary.UtilisationRate = summary.DistributedValue.Div(summary.AllocatedValue).Round(4)
	}
	return summary, nil
}

func (s *Service) lockProgram(ctx context.Context, tx *gorm.DB, programID snowflake.ID) (*programdomain.Program, error) {
	program, err := s.programRepo.LockByID(ctx, tx, programID)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return nil, programdomain.ErrNotFound
	}
	return program, nil
}

// cancelInventoryTx releases the allocation's hold and returns the value
// that leaves the program's allocated budget.
func (s *Service) cancelInventoryTx(ctx context.Context, tx *gorm.DB, allocation *domain.InventoryAllocation) (decimal.Decimal, error) {
	if allocation.RemainingQuantity.IsPositive() {
		if err := s.releaseHoldTx(ctx, tx, allocation.InventoryID, allocation.RemainingQuantity); err != nil {
			return decimal.Zero, err
		}
	}
	value := allocation.RemainingQuantity.Mul(allocation.UnitCost)
	allocation.Status = domain.StatusCancelled
	allocation.Stage = domain.StageCancelled
	allocation.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateInventoryAllocation(ctx, tx, allocation); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

func (s *Service) releaseHoldTx(ctx context.Context, tx *gorm.DB, inventoryID snowflake.ID, quantity decimal.Decimal) error {
	item, err := s.inventorySvc.GetItemTx(ctx, tx, inventoryID)
	if err != nil {
		return err
	}
	if !item.IsTrackableStock {
		return nil
	}
	return s.inventorySvc.ReleaseTx(ctx, tx, inventoryID, quantity)
}

func (s *Service) cancelFinancialTx(ctx context.Context, tx *gorm.DB, allocation *domain.FinancialAllocation) (decimal.Decimal, error) {
	value := allocation.RemainingAmount
	allocation.Status = domain.StatusCancelled
	allocation.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateFinancialAllocation(ctx, tx, allocation); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

func (s *Service) restageInventory(ctx context.Context, tx *gorm.DB, programID snowflake.ID, stage domain.Stage) error {
	inventory, err := s.repo.ListInventoryAllocations(ctx, tx, programID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for i := range inventory {
		allocation := &inventory[i]
		if allocation.Status != domain.StatusActive || allocation.Stage == stage {
			continue
		}
		allocation.Stage = stage
		allocation.UpdatedAt = now
		if err := s.repo.UpdateInventoryAllocation(ctx, tx, allocation); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) hasActiveInventory(ctx context.Context, tx *gorm.DB, programID snowflake.ID) (bool, error) {
	inventory, err := s.repo.ListInventoryAllocations(ctx, tx, programID)
	if err != nil {
		return false, err
	}
	for _, a := range inventory {
		if a.Status != domain.StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) deriveSubsidyType(ctx context.Context, tx *gorm.DB, program *programdomain.Program) error {
	hasInventory, err := s.hasActiveInventory(ctx, tx, program.ID)
	if err != nil {
		return err
	}
	financial, err := s.repo.ListFinancialAllocations(ctx, tx, program.ID)
	if err != nil {
		return err
	}
	hasFinancial := false
	for _, a := range financial {
		if a.Status != domain.StatusCancelled {
			hasFinancial = true
			break
		}
	}
	program.SubsidyType = programdomain.DeriveSubsidyType(hasInventory, hasFinancial, program.SubsidyType)
	return nil
}

func validateInventoryLines(lines []domain.InventoryLine) error {
	if len(lines) == 0 {
		return domain.ErrEmptyLines
	}
	seen := make(map[snowflake.ID]struct{}, len(lines))
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			return domain.ErrInvalidQuantity.With("item %s quantity %s", line.InventoryID, line.Quantity.String())
		}
		if _, ok := seen[line.InventoryID]; ok {
			return domain.ErrDuplicateLine.With("item %s listed twice", line.InventoryID)
		}
		seen[line.InventoryID] = struct{}{}
	}
	return nil
}

func validateFinancialLines(lines []domain.FinancialLine) error {
	if len(lines) == 0 {
		return domain.ErrEmptyLines
	}
	seen := make(map[snowflake.ID]struct{}, len(lines))
	for _, line := range lines {
		if !line.AmountPerBeneficiary.IsPositive() {
			return domain.ErrInvalidAmount.With("amount per beneficiary %s", line.AmountPerBeneficiary.String())
		}
		if line.TargetBeneficiaries <= 0 {
			return domain.ErrInvalidTarget
		}
		if line.DisbursementMethod != "" && !line.DisbursementMethod.Valid() {
			return domain.ErrInvalidMethod.With("method %q", line.DisbursementMethod)
		}
		if _, ok := seen[line.SubsidyTypeID]; ok {
			return domain.ErrDuplicateLine.With("subsidy type %s listed twice", line.SubsidyTypeID)
		}
		seen[line.SubsidyTypeID] = struct{}{}
	}
	return nil
}
