package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	ProgramRepo programdomain.Repository
	Farm        farmdomain.Aggregator
	Authz       authorization.Service
	AuditSvc    auditdomain.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	programRepo programdomain.Repository
	farm        farmdomain.Aggregator
	authz       authorization.Service
	auditSvc    auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("beneficiary.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		programRepo: p.ProgramRepo,
		farm:        p.Farm,
		authz:       p.Authz,
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) Enroll(ctx context.Context, req domain.EnrollRequest) (domain.ProgramBeneficiary, error) {
	if req.FarmerID == 0 {
		return domain.ProgramBeneficiary{}, domain.ErrInvalidFarmer
	}

	program, err := s.openProgram(ctx, s.db, req.ProgramID)
	if err != nil {
		return domain.ProgramBeneficiary{}, err
	}
	commodityID := req.CommodityID
	if commodityID == 0 {
		commodityID = program.CommodityID
	}

	existing, err := s.repo.FindByKey(ctx, s.db, program.ID, req.FarmerID, commodityID)
	if err != nil {
		return domain.ProgramBeneficiary{}, err
	}
	if existing != nil {
		return domain.ProgramBeneficiary{}, domain.ErrAlreadyEnrolled.With("farmer %s", req.FarmerID)
	}

	summary, err := s.farm.Summarize(ctx, req.FarmerID, commodityID)
	if err != nil {
		return domain.ProgramBeneficiary{}, err
	}

	now := s.clock.Now()
	b := domain.ProgramBeneficiary{
		ID:                s.genID.Generate(),
		ProgramID:         program.ID,
		FarmerID:          req.FarmerID,
		CommodityID:       commodityID,
		TotalFarmHectares: summary.TotalHectares,
		PrimaryFarmType:   string(summary.PrimaryFarmType),
		PrimaryTenureType: string(summary.PrimaryTenure),
		IsEligible:        summary.Parcels > 0,
		Status:            domain.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, &b); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ProgramBeneficiary{}, domain.ErrAlreadyEnrolled.With("farmer %s", req.FarmerID)
		}
		return domain.ProgramBeneficiary{}, err
	}

	s.log.Info("beneficiary enrolled",
		zap.String("program_id", b.ProgramID.String()),
		zap.String("beneficiary_id", b.ID.String()),
		zap.String("hectares", b.TotalFarmHectares.String()),
	)
	return b, nil
}

func (s *Service) Approve(ctx context.Context, req domain.ReviewRequest) (domain.ProgramBeneficiary, error) {
	return s.review(ctx, req, domain.StatusApproved)
}

func (s *Service) Reject(ctx context.Context, req domain.ReviewRequest) (domain.ProgramBeneficiary, error) {
	return s.review(ctx, req, domain.StatusRejected)
}

func (s *Service) review(ctx context.Context, req domain.ReviewRequest, to domain.Status) (domain.ProgramBeneficiary, error) {
	var out domain.ProgramBeneficiary
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.repo.LockByID(ctx, tx, req.BeneficiaryID)
		if err != nil {
			return err
		}
		if b == nil {
			return domain.ErrNotFound
		}
		if b.Status != domain.StatusPending {
			return domain.ErrInvalidStatus.With("beneficiary is %s", b.Status)
		}
		if _, err := s.openProgram(ctx, tx, b.ProgramID); err != nil {
			return err
		}

		now := s.clock.Now()
		b.Status = to
		b.UpdatedAt = now
		if to == domain.StatusApproved {
			b.ApprovedBy = req.ActorID
			b.ApprovedAt = &now
		}
		if err := s.repo.Update(ctx, tx, b); err != nil {
			return err
		}
		out = *b
		return nil
	})
	if err != nil {
		return domain.ProgramBeneficiary{}, db.ClassifyContention(err)
	}

	s.log.Info("beneficiary reviewed",
		zap.String("beneficiary_id", out.ID.String()),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (s *Service) openProgram(ctx context.Context, conn *gorm.DB, programID snowflake.ID) (*programdomain.Program, error) {
	program, err := s.programRepo.FindByID(ctx, conn, programID)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return nil, programdomain.ErrNotFound
	}
	if program.Status.Terminal() {
		return nil, domain.ErrProgramClosed.With("program is %s", program.Status)
	}
	return program, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.ProgramBeneficiary, error) {
	b, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.ProgramBeneficiary{}, err
	}
	if b == nil {
		return domain.ProgramBeneficiary{}, domain.ErrNotFound
	}
	return *b, nil
}

func (s *Service) List(ctx context.Context, programID snowflake.ID) ([]domain.ProgramBeneficiary, error) {
	return s.repo.List(ctx, s.db, programID, "")
}

func (s *Service) ListApproved(ctx context.Context, programID snowflake.ID) ([]domain.ProgramBeneficiary, error) {
	return s.repo.List(ctx, s.db, programID, domain.StatusApproved)
}

func (s *Service) ListItems(ctx context.Context, programID snowflake.ID) ([]domain.ProgramBeneficiaryItem, error) {
	return s.repo.ListItemsByProgram(ctx, s.db, programID)
}

func (s *Service) OverrideApproved(ctx context.Context, req domain.OverrideRequest) (domain.ProgramBeneficiaryItem, error) {
	if err := s.authz.Authorize(ctx, req.ActorID, authorization.ObjectBeneficiary, authorization.ActionBeneficiaryOverride); err != nil {
		return domain.ProgramBeneficiaryItem{}, err
	}

	var out domain.ProgramBeneficiaryItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.LockItem(ctx, tx, req.ItemID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrItemNotFound
		}
		previousQty, previousAmt := item.ApprovedQuantity, item.ApprovedAmount
		if err := item.Override(nullable(req.Quantity), nullable(req.Amount)); err != nil {
			return err
		}
		item.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
			return err
		}
		if s.auditSvc != nil {
			if err := s.auditSvc.AuditLog(ctx, tx, req.ActorID, "beneficiary.approved_overridden", "program_beneficiary_item", item.ID.String(), map[string]any{
				"previous_quantity": nullString(previousQty),
				"previous_amount":   nullString(previousAmt),
				"quantity":          nullString(item.ApprovedQuantity),
				"amount":            nullString(item.ApprovedAmount),
				"reason":            req.Reason,
			}); err != nil {
				return err
			}
		}
		out = *item
		return nil
	})
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, db.ClassifyContention(err)
	}

	s.log.Info("approved entitlement overridden",
		zap.String("item_id", out.ID.String()),
		zap.String("actor_id", req.ActorID.String()),
	)
	return out, nil
}

func (s *Service) RefreshSnapshotTx(ctx context.Context, tx *gorm.DB, beneficiaryID snowflake.ID, summary farmdomain.Summary, eligible bool) error {
	b, err := s.repo.LockByID(ctx, tx, beneficiaryID)
	if err != nil {
		return err
	}
	if b == nil {
		return domain.ErrNotFound
	}
	b.TotalFarmHectares = summary.TotalHectares
	b.PrimaryFarmType = string(summary.PrimaryFarmType)
	b.PrimaryTenureType = string(summary.PrimaryTenure)
	b.IsEligible = eligible
	b.UpdatedAt = s.clock.Now()
	return s.repo.Update(ctx, tx, b)
}

// UpsertEntitlementTx writes e onto the beneficiary's item for the same
// entitlement key. The boolean is false when a released item was skipped.
func (s *Service) UpsertEntitlementTx(ctx context.Context, tx *gorm.DB, beneficiary domain.ProgramBeneficiary, e domain.Entitlement) (domain.ProgramBeneficiaryItem, bool, error) {
	key := e.Key()
	if key == "" {
		return domain.ProgramBeneficiaryItem{}, false, domain.ErrInvalidKey
	}

	item, err := s.repo.LockItemByKey(ctx, tx, beneficiary.ID, key)
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, false, err
	}
	now := s.clock.Now()
	if item == nil {
		item = &domain.ProgramBeneficiaryItem{
			ID:                     s.genID.Generate(),
			BeneficiaryID:          beneficiary.ID,
			EntitlementKey:         key,
			ProgramID:              beneficiary.ProgramID,
			InventoryID:            e.InventoryID,
			FinancialSubsidyTypeID: e.FinancialSubsidyTypeID,
			DisbursementStatus:     domain.DisbursementPending,
			DisbursedQuantity:      decimal.Zero,
			DisbursedAmount:        decimal.Zero,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		item.Recalculate(e)
		if err := s.repo.InsertItem(ctx, tx, item); err != nil {
			return domain.ProgramBeneficiaryItem{}, false, err
		}
		return *item, true, nil
	}

	if !item.Recalculate(e) {
		return *item, false, nil
	}
	item.UpdatedAt = now
	if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
		return domain.ProgramBeneficiaryItem{}, false, err
	}
	return *item, true, nil
}

// CountApprovedTx counts beneficiaries that passed review, released ones
// included.
func (s *Service) CountApprovedTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) (int64, error) {
	approved, err := s.repo.CountByStatus(ctx, tx, programID, domain.StatusApproved)
	if err != nil {
		return 0, err
	}
	released, err := s.repo.CountByStatus(ctx, tx, programID, domain.StatusReleased)
	if err != nil {
		return 0, err
	}
	return approved + released, nil
}

func (s *Service) GetItemTx(ctx context.Context, tx *gorm.DB, itemID snowflake.ID) (domain.ProgramBeneficiaryItem, error) {
	item, err := s.repo.FindItem(ctx, tx, itemID)
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, err
	}
	if item == nil {
		return domain.ProgramBeneficiaryItem{}, domain.ErrItemNotFound
	}
	return *item, nil
}

func (s *Service) ReleaseItemTx(ctx context.Context, tx *gorm.DB, itemID snowflake.ID, r domain.Release) (domain.ProgramBeneficiaryItem, domain.ReleaseOutcome, error) {
	var outcome domain.ReleaseOutcome

	found, err := s.repo.FindItem(ctx, tx, itemID)
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, outcome, err
	}
	if found == nil {
		return domain.ProgramBeneficiaryItem{}, outcome, domain.ErrItemNotFound
	}
	b, err := s.repo.LockByID(ctx, tx, found.BeneficiaryID)
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, outcome, err
	}
	if b == nil {
		return domain.ProgramBeneficiaryItem{}, outcome, domain.ErrNotFound
	}
	if b.Status != domain.StatusApproved && b.Status != domain.StatusReleased {
		return domain.ProgramBeneficiaryItem{}, outcome, domain.ErrInvalidStatus.With("beneficiary is %s", b.Status)
	}

	item, err := s.repo.LockItem(ctx, tx, itemID)
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, outcome, err
	}
	if item == nil {
		return domain.ProgramBeneficiaryItem{}, outcome, domain.ErrItemNotFound
	}

	released, err := s.repo.CountItems(ctx, tx, b.ID, domain.DisbursementReleased)
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, outcome, err
	}
	inBatch, err := s.repo.CountItemsInBatch(ctx, tx, b.ID, r.BatchID)
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, outcome, err
	}

	if err := item.MarkReleased(r); err != nil {
		return domain.ProgramBeneficiaryItem{}, outcome, err
	}
	item.UpdatedAt = r.At
	if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
		return domain.ProgramBeneficiaryItem{}, outcome, err
	}
	outcome.FirstForBeneficiary = released == 0
	outcome.FirstInBatch = inBatch == 0

	total, err := s.repo.CountItems(ctx, tx, b.ID, "")
	if err != nil {
		return domain.ProgramBeneficiaryItem{}, outcome, err
	}
	if released+1 >= total && b.Status != domain.StatusReleased {
		b.Status = domain.StatusReleased
		b.UpdatedAt = r.At
		if err := s.repo.Update(ctx, tx, b); err != nil {
			return domain.ProgramBeneficiaryItem{}, outcome, err
		}
		outcome.BeneficiaryReleased = true
	}
	return *item, outcome, nil
}

func (s *Service) CancelProgramItemsTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) (int64, error) {
	return s.repo.CancelOpenItems(ctx, tx, programID)
}

func nullable(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*v)
}

func nullString(v decimal.NullDecimal) any {
	if !v.Valid {
		return nil
	}
	return v.Decimal.String()
}
