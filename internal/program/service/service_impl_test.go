package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	allocationrepository "github.com/smallbiznis/agrisubsidy/internal/allocation/repository"
	allocationservice "github.com/smallbiznis/agrisubsidy/internal/allocation/service"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	beneficiarydomain "github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	beneficiaryrepository "github.com/smallbiznis/agrisubsidy/internal/beneficiary/repository"
	beneficiaryservice "github.com/smallbiznis/agrisubsidy/internal/beneficiary/service"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	farmrepository "github.com/smallbiznis/agrisubsidy/internal/farm/repository"
	farmservice "github.com/smallbiznis/agrisubsidy/internal/farm/service"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	inventoryrepository "github.com/smallbiznis/agrisubsidy/internal/inventory/repository"
	inventoryservice "github.com/smallbiznis/agrisubsidy/internal/inventory/service"
	"github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"github.com/smallbiznis/agrisubsidy/internal/program/repository"
	"github.com/smallbiznis/agrisubsidy/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc            domain.Service
	inventory      inventorydomain.Service
	beneficiaries  beneficiarydomain.Service
	allocationRepo allocationdomain.Repository
	db             *gorm.DB
	node           *snowflake.Node
	seedID         snowflake.ID
	actor          snowflake.ID
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testkit.OpenDB(t,
		&domain.Program{},
		&domain.ApprovalLog{},
		&inventorydomain.Item{},
		&inventorydomain.StockMovement{},
		&inventorydomain.CurrentStock{},
		&allocationdomain.InventoryAllocation{},
		&allocationdomain.FinancialSubsidyType{},
		&allocationdomain.FinancialAllocation{},
		&beneficiarydomain.ProgramBeneficiary{},
		&beneficiarydomain.ProgramBeneficiaryItem{},
		&farmdomain.FarmParcel{},
		&authorization.Principal{},
		&authorization.AdminPermission{},
		&auditdomain.AuditLog{},
	)
	node := testkit.Node(t)
	clk := testkit.Clock()
	log := zap.NewNop()
	auditSvc := testkit.Audit(t, db, node)
	authz := testkit.Authz(t, db, auditSvc)
	programRepo := repository.Provide()
	allocationRepo := allocationrepository.Provide()

	inventory := inventoryservice.New(inventoryservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: inventoryrepository.Provide(), Authz: authz,
	})
	allocations := allocationservice.New(allocationservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:         allocationRepo,
		ProgramRepo:  programRepo,
		InventorySvc: inventory,
	})
	farm := farmservice.New(farmservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: farmrepository.Provide()})
	beneficiaries := beneficiaryservice.New(beneficiaryservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:        beneficiaryrepository.Provide(),
		ProgramRepo: programRepo,
		Farm:        farm,
		Authz:       authz,
	})
	svc := New(Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Repo:           programRepo,
		AllocationSvc:  allocations,
		BeneficiarySvc: beneficiaries,
		Authz:          authz,
	})

	ctx := context.Background()
	seed, err := inventory.CreateItem(ctx, inventorydomain.CreateItemRequest{
		Name: "Hybrid Corn Seed", Unit: "bag", UnitCost: dec("1500"), IsSubsidizable: true, IsTrackableStock: true,
	})
	require.NoError(t, err)
	_, err = inventory.AddStock(ctx, inventorydomain.AddStockRequest{InventoryID: seed.ID, Quantity: dec("100")})
	require.NoError(t, err)

	return fixture{
		svc:            svc,
		inventory:      inventory,
		beneficiaries:  beneficiaries,
		allocationRepo: allocationRepo,
		db:             db,
		node:           node,
		seedID:         seed.ID,
		actor:          testkit.Principal(t, db, node, authorization.RoleCoordinator),
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f fixture) create(t *testing.T, budget string) domain.Program {
	t.Helper()
	program, err := f.svc.Create(context.Background(), domain.CreateProgramRequest{
		Title:       "Corn seed distribution",
		Description: "Dry season corn seed support",
		CommodityID: f.node.Generate(),
		TotalBudget: dec(budget),
		ActorID:     f.actor,
	})
	require.NoError(t, err)
	return program
}

func (f fixture) submit(t *testing.T, program domain.Program, qty string) domain.StatusResult {
	t.Helper()
	result, err := f.svc.Submit(context.Background(), domain.SubmitRequest{
		ProgramID:            program.ID,
		InventoryAllocations: []domain.AllocationLine{{InventoryID: f.seedID, Quantity: dec(qty)}},
		ActorID:              f.actor,
	})
	require.NoError(t, err)
	return result
}

func (f fixture) available(t *testing.T) decimal.Decimal {
	t.Helper()
	level, err := f.inventory.GetCurrentStock(context.Background(), f.seedID)
	require.NoError(t, err)
	return level.Available
}

func (f fixture) approveBeneficiary(t *testing.T, program domain.Program) {
	t.Helper()
	ctx := context.Background()
	b, err := f.beneficiaries.Enroll(ctx, beneficiarydomain.EnrollRequest{ProgramID: program.ID, FarmerID: f.node.Generate()})
	require.NoError(t, err)
	_, err = f.beneficiaries.Approve(ctx, beneficiarydomain.ReviewRequest{BeneficiaryID: b.ID, ActorID: f.actor})
	require.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	program := f.create(t, "250000")
	assert.Equal(t, domain.StatusDraft, program.Status)
	assert.True(t, program.RemainingBudget.Equal(dec("250000")))
	assert.Equal(t, domain.SubsidyInventoryOnly, program.SubsidyType)

	history, err := f.svc.History(ctx, program.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ActionCreate, history[0].Action)

	cases := []struct {
		name string
		req  domain.CreateProgramRequest
		want error
	}{
		{"title", domain.CreateProgramRequest{CommodityID: 1, TotalBudget: dec("1"), ActorID: f.actor}, domain.ErrInvalidTitle},
		{"commodity", domain.CreateProgramRequest{Title: "x", TotalBudget: dec("1"), ActorID: f.actor}, domain.ErrInvalidCommodity},
		{"budget", domain.CreateProgramRequest{Title: "x", CommodityID: 1, ActorID: f.actor}, domain.ErrInvalidBudget},
		{"subsidy", domain.CreateProgramRequest{Title: "x", CommodityID: 1, TotalBudget: dec("1"), SubsidyType: "voucher", ActorID: f.actor}, domain.ErrInvalidSubsidy},
		{"actor", domain.CreateProgramRequest{Title: "x", CommodityID: 1, TotalBudget: dec("1")}, errs.ErrInvalidActor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSubmitRequiresDescription(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program, err := f.svc.Create(ctx, domain.CreateProgramRequest{
		Title: "No description", CommodityID: f.node.Generate(), TotalBudget: dec("1000"), ActorID: f.actor,
	})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{ProgramID: program.ID, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrIncomplete)

	got, err := f.svc.Get(ctx, program.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status)
}

func TestLifecycleToCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.create(t, "100000")

	submitted := f.submit(t, program, "10")
	assert.Equal(t, domain.StatusSubmitted, submitted.Status)
	assert.True(t, submitted.Program.AllocatedBudget.Equal(dec("15000")))
	assert.True(t, submitted.Program.InventoryAllocated)
	assert.True(t, f.available(t).Equal(dec("90")))

	pending, err := f.svc.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	approver := testkit.Approver(t, f.db, f.node, decimal.Zero)
	approved, err := f.svc.Process(ctx, domain.ProcessRequest{ProgramID: program.ID, Action: domain.ActionApprove, ActorID: approver})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, approver, approved.Program.ApprovedBy)
	assert.False(t, approved.Program.ReadyForDistribution)

	allocations, err := f.allocationRepo.ListInventoryAllocations(ctx, f.db, program.ID)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	assert.Equal(t, allocationdomain.StageAllocated, allocations[0].Stage)

	_, err = f.svc.StartDistribution(ctx, domain.TransitionRequest{ProgramID: program.ID, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrNotReady)

	f.approveBeneficiary(t, program)
	active, err := f.svc.StartDistribution(ctx, domain.TransitionRequest{ProgramID: program.ID, ActorID: f.actor})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, active.Status)
	assert.True(t, active.Program.ReadyForDistribution)

	allocations, err = f.allocationRepo.ListInventoryAllocations(ctx, f.db, program.ID)
	require.NoError(t, err)
	assert.Equal(t, allocationdomain.StageDistributing, allocations[0].Stage)

	completed, err := f.svc.Complete(ctx, domain.TransitionRequest{ProgramID: program.ID, ActorID: f.actor})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	assert.True(t, f.available(t).Equal(dec("100")))

	history, err := f.svc.History(ctx, program.ID)
	require.NoError(t, err)
	actions := make([]domain.Action, 0, len(history))
	for _, entry := range history {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []domain.Action{
		domain.ActionCreate,
		domain.ActionSubmit,
		domain.ActionApprove,
		domain.ActionStartDistribution,
		domain.ActionComplete,
	}, actions)

	_, err = f.svc.Cancel(ctx, domain.TransitionRequest{ProgramID: program.ID, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApproveAboveCeilingLeavesProgramUntouched(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.create(t, "100000")
	f.submit(t, program, "5")

	approver := testkit.Approver(t, f.db, f.node, dec("50000"))
	_, err := f.svc.Process(ctx, domain.ProcessRequest{ProgramID: program.ID, Action: domain.ActionApprove, ActorID: approver})
	assert.ErrorIs(t, err, authorization.ErrBudgetCeiling)
	assert.Equal(t, errs.KindAuthorization, errs.KindOf(err))

	got, err := f.svc.Get(ctx, program.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	history, err := f.svc.History(ctx, program.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	coordinator := testkit.Principal(t, f.db, f.node, authorization.RoleCoordinator)
	_, err = f.svc.Process(ctx, domain.ProcessRequest{ProgramID: program.ID, Action: domain.ActionApprove, ActorID: coordinator})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestProcessRejectsWrongStateBeforeAuthorization(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.create(t, "1000")

	_, err := f.svc.Process(ctx, domain.ProcessRequest{ProgramID: program.ID, Action: domain.ActionApprove, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Process(ctx, domain.ProcessRequest{ProgramID: program.ID, Action: domain.ActionSubmit, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	_, err = f.svc.StartDistribution(ctx, domain.TransitionRequest{ProgramID: program.ID, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDenyReleasesReservations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.create(t, "100000")
	f.submit(t, program, "20")
	assert.True(t, f.available(t).Equal(dec("80")))

	approver := testkit.Approver(t, f.db, f.node, decimal.Zero)
	denied, err := f.svc.Process(ctx, domain.ProcessRequest{ProgramID: program.ID, Action: domain.ActionDeny, ActorID: approver, Remarks: "duplicate program"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDenied, denied.Status)
	assert.True(t, denied.Program.AllocatedBudget.IsZero())
	assert.True(t, f.available(t).Equal(dec("100")))
}

func TestCancelIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.create(t, "100000")
	f.submit(t, program, "30")

	approver := testkit.Approver(t, f.db, f.node, decimal.Zero)
	_, err := f.svc.Process(ctx, domain.ProcessRequest{ProgramID: program.ID, Action: domain.ActionApprove, ActorID: approver})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, domain.TransitionRequest{ProgramID: program.ID, ActorID: f.actor})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.True(t, f.available(t).Equal(dec("100")))

	again, err := f.svc.Cancel(ctx, domain.TransitionRequest{ProgramID: program.ID, ActorID: f.actor})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, again.Status)
	assert.True(t, f.available(t).Equal(dec("100")))

	history, err := f.svc.History(ctx, program.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}
