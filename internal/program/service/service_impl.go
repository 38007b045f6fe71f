package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	beneficiarydomain "github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"github.com/smallbiznis/agrisubsidy/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	"github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           domain.Repository
	AllocationSvc  allocationdomain.Service
	BeneficiarySvc beneficiarydomain.Service
	Authz          authorization.Service
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	allocationSvc  allocationdomain.Service
	beneficiarySvc beneficiarydomain.Service
	authz          authorization.Service
	obsMetrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("program.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		allocationSvc:  p.AllocationSvc,
		beneficiarySvc: p.BeneficiarySvc,
		authz:          p.Authz,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateProgramRequest) (domain.Program, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Program{}, domain.ErrInvalidTitle
	}
	if req.CommodityID == 0 {
		return domain.Program{}, domain.ErrInvalidCommodity
	}
	if !req.TotalBudget.IsPositive() {
		return domain.Program{}, domain.ErrInvalidBudget
	}
	if req.TargetBeneficiaries < 0 {
		return domain.Program{}, domain.ErrInvalidTarget
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return domain.Program{}, domain.ErrInvalidDates
	}
	if req.ActorID == 0 {
		return domain.Program{}, errs.ErrInvalidActor
	}
	subsidyType := req.SubsidyType
	if subsidyType == "" {
		subsidyType = domain.SubsidyInventoryOnly
	}
	switch subsidyType {
	case domain.SubsidyInventoryOnly, domain.SubsidyFinancialOnly, domain.SubsidyMixed:
	default:
		return domain.Program{}, domain.ErrInvalidSubsidy.With("subsidy_type %q", subsidyType)
	}

	now := s.clock.Now()
	program := domain.Program{
		ID:                  s.genID.Generate(),
		Title:               title,
		Description:         strings.TrimSpace(req.Description),
		CommodityID:         req.CommodityID,
		SubsidyType:         subsidyType,
		TotalBudget:         req.TotalBudget,
		AllocatedBudget:     decimal.Zero,
		DisbursedAmount:     decimal.Zero,
		RemainingBudget:     req.TotalBudget,
		TargetBeneficiaries: req.TargetBeneficiaries,
		StartDate:           req.StartDate,
		EndDate:             req.EndDate,
		Status:              domain.StatusDraft,
		CreatedBy:           req.ActorID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &program); err != nil {
			return err
		}
		return s.appendLog(ctx, tx, program.ID, domain.ActionCreate, "", domain.StatusDraft, "", req.ActorID)
	})
	if err != nil {
		return domain.Program{}, err
	}

	logger.WithProgram(s.log, program.ID.String()).Info("program created",
		zap.String("title", program.Title),
		zap.String("total_budget", program.TotalBudget.String()),
	)
	return program, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Program, error) {
	program, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Program{}, err
	}
	if program == nil {
		return domain.Program{}, domain.ErrNotFound
	}
	return *program, nil
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.StatusResult, error) {
	lines := make([]allocationdomain.InventoryLine, 0, len(req.InventoryAllocations))
	for _, line := range req.InventoryAllocations {
		lines = append(lines, allocationdomain.InventoryLine{InventoryID: line.InventoryID, Quantity: line.Quantity})
	}

	return s.transition(ctx, req.ProgramID, domain.ActionSubmit, req.ActorID, req.Remarks, func(tx *gorm.DB, program *domain.Program) error {
		if program.Description == "" {
			return domain.ErrIncomplete.With("description is required")
		}
		if !program.TotalBudget.IsPositive() {
			return domain.ErrIncomplete.With("total_budget is required")
		}
		if len(lines) == 0 {
			return nil
		}
		_, err := s.allocationSvc.AllocateInventoryTx(ctx, tx, program, lines, req.ActorID)
		return err
	})
}

// Process approves or denies a submitted program. The approval capability and
// budget ceiling are checked before anything is written.
func (s *Service) Process(ctx context.Context, req domain.ProcessRequest) (domain.StatusResult, error) {
	if req.Action != domain.ActionApprove && req.Action != domain.ActionDeny {
		return domain.StatusResult{}, domain.ErrInvalidAction.With("action %q", req.Action)
	}

	program, err := s.Get(ctx, req.ProgramID)
	if err != nil {
		return domain.StatusResult{}, err
	}
	if _, err := domain.Next(program.Status, req.Action); err != nil {
		return domain.StatusResult{}, err
	}
	if err := s.authz.CanApproveProgram(ctx, req.ActorID, program.TotalBudget); err != nil {
		return domain.StatusResult{}, err
	}

	return s.transition(ctx, req.ProgramID, req.Action, req.ActorID, req.Remarks, func(tx *gorm.DB, locked *domain.Program) error {
		if !locked.TotalBudget.Equal(program.TotalBudget) {
			return errs.ErrConcurrencyConflict.With("total_budget changed during approval")
		}
		if req.Action == domain.ActionDeny {
			return s.releaseProgramTx(ctx, tx, locked)
		}

		activation, err := s.allocationSvc.ActivateProgramTx(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		locked.ApprovedBy = req.ActorID
		locked.ApprovedAt = &now
		locked.InventoryAllocated = activation.InventoryLines > 0
		locked.ReadyForDistribution, err = s.readyTx(ctx, tx, locked, activation)
		return err
	})
}

func (s *Service) StartDistribution(ctx context.Context, req domain.TransitionRequest) (domain.StatusResult, error) {
	return s.transition(ctx, req.ProgramID, domain.ActionStartDistribution, req.ActorID, req.Remarks, func(tx *gorm.DB, program *domain.Program) error {
		// Beneficiaries may have been approved since the program was.
		activation, err := s.allocationSvc.ActivateProgramTx(ctx, tx, program.ID)
		if err != nil {
			return err
		}
		program.InventoryAllocated = activation.InventoryLines > 0
		program.ReadyForDistribution, err = s.readyTx(ctx, tx, program, activation)
		if err != nil {
			return err
		}
		if !program.ReadyForDistribution {
			return domain.ErrNotReady.With("allocations and at least one approved beneficiary are required")
		}
		return s.allocationSvc.StartDistributingTx(ctx, tx, program.ID)
	})
}

func (s *Service) Complete(ctx context.Context, req domain.TransitionRequest) (domain.StatusResult, error) {
	return s.transition(ctx, req.ProgramID, domain.ActionComplete, req.ActorID, req.Remarks, func(tx *gorm.DB, program *domain.Program) error {
		return s.allocationSvc.CompleteProgramTx(ctx, tx, program.ID)
	})
}

// Cancel releases every reservation. Cancelling a cancelled program is a
// no-op.
func (s *Service) Cancel(ctx context.Context, req domain.TransitionRequest) (domain.StatusResult, error) {
	return s.transition(ctx, req.ProgramID, domain.ActionCancel, req.ActorID, req.Remarks, func(tx *gorm.DB, program *domain.Program) error {
		return s.releaseProgramTx(ctx, tx, program)
	})
}

func (s *Service) releaseProgramTx(ctx context.Context, tx *gorm.DB, program *domain.Program) error {
	if err := s.allocationSvc.CancelProgramTx(ctx, tx, program); err != nil {
		return err
	}
	if _, err := s.beneficiarySvc.CancelProgramItemsTx(ctx, tx, program.ID); err != nil {
		return err
	}
	program.ReadyForDistribution = false
	return nil
}

// readyTx reports whether the program holds allocations of its kind and has
// at least one approved beneficiary.
func (s *Service) readyTx(ctx context.Context, tx *gorm.DB, program *domain.Program, activation allocationdomain.Activation) (bool, error) {
	allocated := activation.InventoryLines > 0
	if program.SubsidyType == domain.SubsidyFinancialOnly {
		allocated = activation.FinancialLines > 0
	}
	if !allocated {
		return false, nil
	}
	approved, err := s.beneficiarySvc.CountApprovedTx(ctx, tx, program.ID)
	if err != nil {
		return false, err
	}
	return approved > 0, nil
}

func (s *Service) transition(
	ctx context.Context,
	programID snowflake.ID,
	action domain.Action,
	actorID snowflake.ID,
	remarks string,
	apply func(tx *gorm.DB, program *domain.Program) error,
) (domain.StatusResult, error) {
	if actorID == 0 {
		return domain.StatusResult{}, errs.ErrInvalidActor
	}

	var result domain.StatusResult
	noop := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		program, err := s.repo.LockByID(ctx, tx, programID)
		if err != nil {
			return err
		}
		if program == nil {
			return domain.ErrNotFound
		}
		from := program.Status
		if action == domain.ActionCancel && from == domain.StatusCancelled {
			noop = true
			result = domain.StatusResult{ProgramID: program.ID, PreviousStatus: from, Status: from, Program: *program}
			return nil
		}
		to, err := domain.Next(from, action)
		if err != nil {
			return err
		}
		if err := apply(tx, program); err != nil {
			return err
		}

		program.Status = to
		program.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, program); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, program.ID, action, from, to, remarks, actorID); err != nil {
			return err
		}
		result = domain.StatusResult{ProgramID: program.ID, PreviousStatus: from, Status: to, Program: *program}
		return nil
	})
	if err != nil {
		return domain.StatusResult{}, db.ClassifyContention(err)
	}
	if noop {
		return result, nil
	}

	s.obsMetrics.RecordProgramTransition(ctx, string(result.PreviousStatus), string(result.Status))
	logger.WithProgram(s.log, programID.String()).Info("program transitioned",
		zap.String("action", string(action)),
		zap.String("from", string(result.PreviousStatus)),
		zap.String("to", string(result.Status)),
		zap.String("actor_id", actorID.String()),
	)
	return result, nil
}

func (s *Service) appendLog(ctx context.Context, tx *gorm.DB, programID snowflake.ID, action domain.Action, from, to domain.Status, remarks string, actorID snowflake.ID) error {
	return s.repo.InsertLog(ctx, tx, &domain.ApprovalLog{
		ID:             s.genID.Generate(),
		ProgramID:      programID,
		Action:         action,
		PreviousStatus: from,
		NewStatus:      to,
		Remarks:        strings.TrimSpace(remarks),
		ActorID:        actorID,
		CreatedAt:      s.clock.Now(),
	})
}

func (s *Service) History(ctx context.Context, programID snowflake.ID) ([]domain.ApprovalLog, error) {
	if _, err := s.Get(ctx, programID); err != nil {
		return nil, err
	}
	return s.repo.ListLogs(ctx, s.db, programID)
}

func (s *Service) PendingApprovals(ctx context.Context) ([]domain.Program, error) {
	return s.repo.ListByStatus(ctx, s.db, domain.StatusSubmitted)
}
