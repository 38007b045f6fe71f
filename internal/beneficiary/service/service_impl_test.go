package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	"github.com/smallbiznis/agrisubsidy/internal/beneficiary/repository"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	farmrepository "github.com/smallbiznis/agrisubsidy/internal/farm/repository"
	farmservice "github.com/smallbiznis/agrisubsidy/internal/farm/service"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	programrepository "github.com/smallbiznis/agrisubsidy/internal/program/repository"
	"github.com/smallbiznis/agrisubsidy/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   domain.Service
	farm  farmdomain.Aggregator
	db    *gorm.DB
	node  *snowflake.Node
	audit auditdomain.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testkit.OpenDB(t,
		&domain.ProgramBeneficiary{},
		&domain.ProgramBeneficiaryItem{},
		&farmdomain.FarmParcel{},
		&programdomain.Program{},
		&authorization.Principal{},
		&authorization.AdminPermission{},
		&auditdomain.AuditLog{},
	)
	node := testkit.Node(t)
	clk := testkit.Clock()
	auditSvc := testkit.Audit(t, db, node)
	farm := farmservice.New(farmservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  farmrepository.Provide(),
	})
	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        repository.Provide(),
		ProgramRepo: programrepository.Provide(),
		Farm:        farm,
		Authz:       testkit.Authz(t, db, auditSvc),
		AuditSvc:    auditSvc,
	})
	return fixture{svc: svc, farm: farm, db: db, node: node, audit: auditSvc}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f fixture) program(t *testing.T, status programdomain.Status) programdomain.Program {
	t.Helper()
	now := testkit.Clock().Now()
	p := programdomain.Program{
		ID:              f.node.Generate(),
		Title:           "Wet season seed assistance",
		CommodityID:     f.node.Generate(),
		SubsidyType:     programdomain.SubsidyInventoryOnly,
		TotalBudget:     dec("100000"),
		AllocatedBudget: decimal.Zero,
		DisbursedAmount: decimal.Zero,
		RemainingBudget: dec("100000"),
		Status:          status,
		CreatedBy:       f.node.Generate(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, programrepository.Provide().Insert(context.Background(), f.db, &p))
	return p
}

func (f fixture) parcel(t *testing.T, farmerID, commodityID snowflake.ID, area string, farmType farmdomain.FarmType) {
	t.Helper()
	_, err := f.farm.RegisterParcel(context.Background(), farmdomain.RegisterParcelRequest{
		FarmerID:    farmerID,
		CommodityID: commodityID,
		FarmArea:    dec(area),
		FarmType:    farmType,
		TenureType:  farmdomain.TenureRegisteredOwner,
	})
	require.NoError(t, err)
}

func (f fixture) approved(t *testing.T, program programdomain.Program) domain.ProgramBeneficiary {
	t.Helper()
	ctx := context.Background()
	farmerID := f.node.Generate()
	f.parcel(t, farmerID, program.CommodityID, "1.5", farmdomain.FarmIrrigated)
	b, err := f.svc.Enroll(ctx, domain.EnrollRequest{ProgramID: program.ID, FarmerID: farmerID})
	require.NoError(t, err)
	b, err = f.svc.Approve(ctx, domain.ReviewRequest{BeneficiaryID: b.ID, ActorID: f.node.Generate()})
	require.NoError(t, err)
	return b
}

func (f fixture) entitle(t *testing.T, b domain.ProgramBeneficiary, inventoryID snowflake.ID, qty string) domain.ProgramBeneficiaryItem {
	t.Helper()
	var item domain.ProgramBeneficiaryItem
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		item, _, err = f.svc.UpsertEntitlementTx(context.Background(), tx, b, domain.Entitlement{
			RuleID:      f.node.Generate(),
			InventoryID: &inventoryID,
			Quantity:    decimal.NewNullDecimal(dec(qty)),
		})
		return err
	})
	require.NoError(t, err)
	return item
}

func TestEnrollSnapshotsFarmData(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	farmerID := f.node.Generate()
	f.parcel(t, farmerID, program.CommodityID, "0.8", farmdomain.FarmRainfedLowland)
	f.parcel(t, farmerID, program.CommodityID, "1.2", farmdomain.FarmIrrigated)
	f.parcel(t, farmerID, f.node.Generate(), "9", farmdomain.FarmRainfedUpland)

	b, err := f.svc.Enroll(ctx, domain.EnrollRequest{ProgramID: program.ID, FarmerID: farmerID})
	require.NoError(t, err)
	assert.Equal(t, program.CommodityID, b.CommodityID)
	assert.True(t, b.TotalFarmHectares.Equal(dec("2")))
	assert.Equal(t, string(farmdomain.FarmIrrigated), b.PrimaryFarmType)
	assert.True(t, b.IsEligible)
	assert.Equal(t, domain.StatusPending, b.Status)

	_, err = f.svc.Enroll(ctx, domain.EnrollRequest{ProgramID: program.ID, FarmerID: farmerID})
	assert.ErrorIs(t, err, domain.ErrAlreadyEnrolled)

	_, err = f.svc.Enroll(ctx, domain.EnrollRequest{ProgramID: f.node.Generate(), FarmerID: farmerID})
	assert.ErrorIs(t, err, programdomain.ErrNotFound)

	closed := f.program(t, programdomain.StatusCancelled)
	_, err = f.svc.Enroll(ctx, domain.EnrollRequest{ProgramID: closed.ID, FarmerID: farmerID})
	assert.ErrorIs(t, err, domain.ErrProgramClosed)
}

func TestReviewOnlyFromPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	b := f.approved(t, program)
	assert.Equal(t, domain.StatusApproved, b.Status)
	require.NotNil(t, b.ApprovedAt)

	_, err := f.svc.Reject(ctx, domain.ReviewRequest{BeneficiaryID: b.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.svc.Approve(ctx, domain.ReviewRequest{BeneficiaryID: f.node.Generate()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecalculationKeepsOverride(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	b := f.approved(t, program)
	inventoryID := f.node.Generate()

	item := f.entitle(t, b, inventoryID, "3")
	assert.Equal(t, domain.InventoryKey(inventoryID), item.EntitlementKey)
	assert.True(t, item.ApprovedQuantity.Decimal.Equal(dec("3")))

	coordinator := testkit.Principal(t, f.db, f.node, authorization.RoleCoordinator)
	qty := dec("2")
	overridden, err := f.svc.OverrideApproved(ctx, domain.OverrideRequest{
		ItemID: item.ID, Quantity: &qty, Reason: "field validation", ActorID: coordinator,
	})
	require.NoError(t, err)
	assert.True(t, overridden.ApprovedOverridden)
	assert.True(t, overridden.CalculatedQuantity.Decimal.Equal(dec("3")))

	item = f.entitle(t, b, inventoryID, "4")
	assert.True(t, item.CalculatedQuantity.Decimal.Equal(dec("4")))
	assert.True(t, item.ApprovedQuantity.Decimal.Equal(dec("2")))

	items, err := f.svc.ListItems(ctx, program.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	entries, err := f.audit.ListByTarget(ctx, "program_beneficiary_item", item.ID.String())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "beneficiary.approved_overridden", entries[0].Action)
}

func TestOverrideRequiresCapability(t *testing.T) {
	f := setup(t)
	program := f.program(t, programdomain.StatusDraft)
	b := f.approved(t, program)
	item := f.entitle(t, b, f.node.Generate(), "3")

	viewer := testkit.Principal(t, f.db, f.node, authorization.RoleViewer)
	qty := dec("1")
	_, err := f.svc.OverrideApproved(context.Background(), domain.OverrideRequest{ItemID: item.ID, Quantity: &qty, ActorID: viewer})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestReleaseItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusActive)
	b := f.approved(t, program)
	seed := f.entitle(t, b, f.node.Generate(), "3")
	fertilizer := f.entitle(t, b, f.node.Generate(), "2")
	batchID := f.node.Generate()

	release := func(itemID snowflake.ID, value string) (domain.ProgramBeneficiaryItem, domain.ReleaseOutcome, error) {
		var item domain.ProgramBeneficiaryItem
		var outcome domain.ReleaseOutcome
		err := f.db.Transaction(func(tx *gorm.DB) error {
			var err error
			item, outcome, err = f.svc.ReleaseItemTx(ctx, tx, itemID, domain.Release{
				Value: dec(value), BatchID: batchID, ActorID: f.node.Generate(), At: testkit.Clock().Now(),
			})
			return err
		})
		return item, outcome, err
	}

	_, _, err := release(seed.ID, "3.5")
	assert.ErrorIs(t, err, domain.ErrExceedsApproved)

	item, outcome, err := release(seed.ID, "3")
	require.NoError(t, err)
	assert.True(t, item.Released())
	assert.True(t, outcome.FirstForBeneficiary)
	assert.True(t, outcome.FirstInBatch)
	assert.False(t, outcome.BeneficiaryReleased)

	_, _, err = release(seed.ID, "1")
	assert.ErrorIs(t, err, domain.ErrItemReleased)

	_, outcome, err = release(fertilizer.ID, "2")
	require.NoError(t, err)
	assert.False(t, outcome.FirstForBeneficiary)
	assert.False(t, outcome.FirstInBatch)
	assert.True(t, outcome.BeneficiaryReleased)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, got.Status)

	var skipped bool
	err = f.db.Transaction(func(tx *gorm.DB) error {
		inventoryID := *seed.InventoryID
		_, updated, err := f.svc.UpsertEntitlementTx(ctx, tx, got, domain.Entitlement{
			RuleID: f.node.Generate(), InventoryID: &inventoryID, Quantity: decimal.NewNullDecimal(dec("9")),
		})
		skipped = !updated
		return err
	})
	require.NoError(t, err)
	assert.True(t, skipped)
}
