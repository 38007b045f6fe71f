package service

import (
	"context"
	"sync"
	"testing"
	"time"

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
	"github.com/smallbiznis/agrisubsidy/internal/disbursement/domain"
	"github.com/smallbiznis/agrisubsidy/internal/disbursement/repository"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	farmrepository "github.com/smallbiznis/agrisubsidy/internal/farm/repository"
	farmservice "github.com/smallbiznis/agrisubsidy/internal/farm/service"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	inventoryrepository "github.com/smallbiznis/agrisubsidy/internal/inventory/repository"
	inventoryservice "github.com/smallbiznis/agrisubsidy/internal/inventory/service"
	"github.com/smallbiznis/agrisubsidy/internal/lock"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	programrepository "github.com/smallbiznis/agrisubsidy/internal/program/repository"
	programservice "github.com/smallbiznis/agrisubsidy/internal/program/service"
	"github.com/smallbiznis/agrisubsidy/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc            domain.Service
	programs       programdomain.Service
	allocations    allocationdomain.Service
	allocationRepo allocationdomain.Repository
	beneficiaries  beneficiarydomain.Service
	inventory      inventorydomain.Service
	locker         *lock.Local
	db             *gorm.DB
	node           *snowflake.Node
	actor          snowflake.ID
	approver       snowflake.ID
	seedID         snowflake.ID
	cashTypeID     snowflake.ID
}

// scenario is a program with two approved beneficiaries, each entitled to
// 5 bags of seed and 2000 in cash.
type scenario struct {
	program programdomain.Program
	seeds   []beneficiarydomain.ProgramBeneficiaryItem
	cash    []beneficiarydomain.ProgramBeneficiaryItem
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testkit.OpenDB(t,
		&domain.Batch{},
		&domain.FinancialDisbursementRecord{},
		&programdomain.Program{},
		&programdomain.ApprovalLog{},
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
	programRepo := programrepository.Provide()
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
	programs := programservice.New(programservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:           programRepo,
		AllocationSvc:  allocations,
		BeneficiarySvc: beneficiaries,
		Authz:          authz,
	})
	locker := lock.NewLocal()
	svc := New(Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Repo:           repository.Provide(),
		ProgramRepo:    programRepo,
		AllocationSvc:  allocations,
		InventorySvc:   inventory,
		BeneficiarySvc: beneficiaries,
		Authz:          authz,
		Locker:         locker,
	})

	ctx := context.Background()
	seed, err := inventory.CreateItem(ctx, inventorydomain.CreateItemRequest{
		Name: "Certified Rice Seed", Unit: "bag", UnitCost: dec("1500"), IsSubsidizable: true, IsTrackableStock: true,
	})
	require.NoError(t, err)
	_, err = inventory.AddStock(ctx, inventorydomain.AddStockRequest{InventoryID: seed.ID, Quantity: dec("100")})
	require.NoError(t, err)
	cash, err := allocations.CreateSubsidyType(ctx, allocationdomain.CreateSubsidyTypeRequest{Name: "Fuel Assistance", Code: "fuel"})
	require.NoError(t, err)

	return fixture{
		svc:            svc,
		programs:       programs,
		allocations:    allocations,
		allocationRepo: allocationRepo,
		beneficiaries:  beneficiaries,
		inventory:      inventory,
		locker:         locker,
		db:             db,
		node:           node,
		actor:          testkit.Principal(t, db, node, authorization.RoleCoordinator),
		approver:       testkit.Approver(t, db, node, decimal.Zero),
		seedID:         seed.ID,
		cashTypeID:     cash.ID,
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// approved builds a program up to approval. cashTargets sizes the financial
// allocation independently of the two beneficiaries' entitlements.
func (f fixture) approved(t *testing.T, cashTargets int) scenario {
	t.Helper()
	ctx := context.Background()

	program, err := f.programs.Create(ctx, programdomain.CreateProgramRequest{
		Title:       "Wet season rice support",
		Description: "Seed and fuel assistance",
		CommodityID: f.node.Generate(),
		TotalBudget: dec("100000"),
		ActorID:     f.actor,
	})
	require.NoError(t, err)

	_, err = f.allocations.AllocateFinancial(ctx, allocationdomain.AllocateFinancialRequest{
		ProgramID: program.ID,
		Lines: []allocationdomain.FinancialLine{{
			SubsidyTypeID:        f.cashTypeID,
			AmountPerBeneficiary: dec("2000"),
			TargetBeneficiaries:  cashTargets,
		}},
		ActorID: f.actor,
	})
	require.NoError(t, err)

	_, err = f.programs.Submit(ctx, programdomain.SubmitRequest{
		ProgramID:            program.ID,
		InventoryAllocations: []programdomain.AllocationLine{{InventoryID: f.seedID, Quantity: dec("10")}},
		ActorID:              f.actor,
	})
	require.NoError(t, err)
	result, err := f.programs.Process(ctx, programdomain.ProcessRequest{
		ProgramID: program.ID, Action: programdomain.ActionApprove, ActorID: f.approver,
	})
	require.NoError(t, err)

	sc := scenario{program: result.Program}
	for i := 0; i < 2; i++ {
		b, err := f.beneficiaries.Enroll(ctx, beneficiarydomain.EnrollRequest{ProgramID: program.ID, FarmerID: f.node.Generate()})
		require.NoError(t, err)
		b, err = f.beneficiaries.Approve(ctx, beneficiarydomain.ReviewRequest{BeneficiaryID: b.ID, ActorID: f.actor})
		require.NoError(t, err)

		err = f.db.Transaction(func(tx *gorm.DB) error {
			seedItem, _, err := f.beneficiaries.UpsertEntitlementTx(ctx, tx, b, beneficiarydomain.Entitlement{
				InventoryID: &f.seedID,
				Quantity:    decimal.NewNullDecimal(dec("5")),
			})
			if err != nil {
				return err
			}
			cashItem, _, err := f.beneficiaries.UpsertEntitlementTx(ctx, tx, b, beneficiarydomain.Entitlement{
				FinancialSubsidyTypeID: &f.cashTypeID,
				Amount:                 decimal.NewNullDecimal(dec("2000")),
			})
			if err != nil {
				return err
			}
			sc.seeds = append(sc.seeds, seedItem)
			sc.cash = append(sc.cash, cashItem)
			return nil
		})
		require.NoError(t, err)
	}
	return sc
}

func (f fixture) active(t *testing.T, cashTargets int) scenario {
	t.Helper()
	sc := f.approved(t, cashTargets)
	result, err := f.programs.StartDistribution(context.Background(), programdomain.TransitionRequest{
		ProgramID: sc.program.ID, ActorID: f.actor,
	})
	require.NoError(t, err)
	sc.program = result.Program
	return sc
}

func (f fixture) batch(t *testing.T, programID snowflake.ID) domain.Batch {
	t.Helper()
	batch, err := f.svc.CreateBatch(context.Background(), domain.CreateBatchRequest{
		ProgramID: programID, Location: "Barangay Hall", ActorID: f.actor,
	})
	require.NoError(t, err)
	return batch
}

func (f fixture) disburse(t *testing.T, batchID snowflake.ID, lines ...domain.Line) []domain.LineResult {
	t.Helper()
	results, err := f.svc.Disburse(context.Background(), domain.DisburseRequest{BatchID: batchID, Lines: lines, ActorID: f.actor})
	require.NoError(t, err)
	require.Len(t, results, len(lines))
	return results
}

func line(item beneficiarydomain.ProgramBeneficiaryItem, value string) domain.Line {
	return domain.Line{BeneficiaryItemID: item.ID, QuantityOrAmount: dec(value), RecipientName: "Juan Dela Cruz"}
}

func TestBatchNumbersAreSequentialPerDay(t *testing.T) {
	f := setup(t)
	sc := f.approved(t, 2)

	first := f.batch(t, sc.program.ID)
	second := f.batch(t, sc.program.ID)
	assert.Equal(t, "BATCH-20260302-001", first.BatchNumber)
	assert.Equal(t, "BATCH-20260302-002", second.BatchNumber)
	assert.Equal(t, domain.BatchPlanned, first.Status)
	assert.True(t, first.TotalValue.IsZero())

	batches, err := f.svc.ListBatches(context.Background(), sc.program.ID)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestCreateBatchRequiresApprovedProgram(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	draft, err := f.programs.Create(ctx, programdomain.CreateProgramRequest{
		Title: "Draft", CommodityID: f.node.Generate(), TotalBudget: dec("1000"), ActorID: f.actor,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateBatch(ctx, domain.CreateBatchRequest{ProgramID: draft.ID, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrProgramNotReady)
	assert.Equal(t, errs.KindInvalidStateTransition, errs.KindOf(err))

	_, err = f.svc.CreateBatch(ctx, domain.CreateBatchRequest{ProgramID: f.node.Generate(), ActorID: f.actor})
	assert.ErrorIs(t, err, programdomain.ErrNotFound)

	encoder := testkit.Principal(t, f.db, f.node, authorization.RoleEncoder)
	_, err = f.svc.CreateBatch(ctx, domain.CreateBatchRequest{ProgramID: draft.ID, ActorID: encoder})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestDisburseRequiresActiveProgram(t *testing.T) {
	f := setup(t)
	sc := f.approved(t, 2)
	batch := f.batch(t, sc.program.ID)

	_, err := f.svc.Disburse(context.Background(), domain.DisburseRequest{
		BatchID: batch.ID, Lines: []domain.Line{line(sc.seeds[0], "5")}, ActorID: f.actor,
	})
	assert.ErrorIs(t, err, domain.ErrProgramNotReady)

	got, err := f.svc.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPlanned, got.Status)
}

func TestDisbursePartialFailureKeepsOtherLines(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	// Cash allocated for one beneficiary only.
	sc := f.active(t, 1)
	batch := f.batch(t, sc.program.ID)

	results := f.disburse(t, batch.ID,
		line(sc.cash[0], "2000"),
		line(sc.cash[1], "2000"),
		line(sc.seeds[1], "5"),
	)

	assert.Equal(t, domain.LineReleased, results[0].Status)
	assert.Equal(t, string(allocationdomain.KindFinancial), results[0].Kind)
	assert.NotZero(t, results[0].RecordID)

	assert.Equal(t, domain.LineFailed, results[1].Status)
	assert.ErrorIs(t, results[1].Err(), allocationdomain.ErrInsufficientAllocation)
	assert.Equal(t, string(errs.KindInsufficientAllocation), results[1].ErrorKind)
	assert.NotEmpty(t, results[1].Reason)

	assert.Equal(t, domain.LineReleased, results[2].Status)
	assert.True(t, results[2].Value.Equal(dec("7500")))
	assert.NotZero(t, results[2].MovementID)

	level, err := f.inventory.GetCurrentStock(ctx, f.seedID)
	require.NoError(t, err)
	assert.True(t, level.Current.Equal(dec("95")))
	assert.True(t, level.Reserved.Equal(dec("5")))

	movements, err := f.inventory.ListMovements(ctx, f.seedID, 0)
	require.NoError(t, err)
	last := movements[len(movements)-1]
	assert.Equal(t, inventorydomain.MovementDistribution, last.MovementType)
	assert.True(t, last.Quantity.Equal(dec("-5")))
	assert.Equal(t, "disbursement_batch", last.ReferenceType)
	assert.Equal(t, batch.ID, last.ReferenceID)

	program, err := f.programs.Get(ctx, sc.program.ID)
	require.NoError(t, err)
	assert.True(t, program.DisbursedAmount.Equal(dec("9500")))
	assert.True(t, program.RemainingBudget.Equal(dec("90500")))
	assert.Equal(t, 2, program.ActualBeneficiaries)

	got, err := f.svc.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchOngoing, got.Status)
	assert.Equal(t, 2, got.TotalItems)
	assert.Equal(t, 2, got.TotalBeneficiaries)
	assert.True(t, got.TotalValue.Equal(dec("9500")))

	records, err := f.svc.ListFinancialRecords(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Amount.Equal(dec("2000")))
	assert.Equal(t, allocationdomain.MethodCash, records[0].DisbursementMethod)

	financial, err := f.allocationRepo.ListFinancialAllocations(ctx, f.db, sc.program.ID)
	require.NoError(t, err)
	require.Len(t, financial, 1)
	assert.Equal(t, allocationdomain.StatusCompleted, financial[0].Status)
	assert.True(t, financial[0].RemainingAmount.IsZero())

	items, err := f.beneficiaries.ListItems(ctx, sc.program.ID)
	require.NoError(t, err)
	for _, item := range items {
		if item.ID == sc.cash[1].ID {
			assert.Equal(t, beneficiarydomain.DisbursementPending, item.DisbursementStatus)
		}
	}
}

func TestDisburseRejectsReleasedAndExcessLines(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sc := f.active(t, 2)
	batch := f.batch(t, sc.program.ID)

	results := f.disburse(t, batch.ID, line(sc.seeds[0], "5"), line(sc.cash[0], "2000"))
	require.Equal(t, domain.LineReleased, results[0].Status)
	require.Equal(t, domain.LineReleased, results[1].Status)

	b, err := f.beneficiaries.Get(ctx, sc.seeds[0].BeneficiaryID)
	require.NoError(t, err)
	assert.Equal(t, beneficiarydomain.StatusReleased, b.Status)

	results = f.disburse(t, batch.ID,
		line(sc.seeds[0], "5"),
		line(sc.seeds[1], "6"),
		domain.Line{BeneficiaryItemID: sc.seeds[1].ID},
		domain.Line{BeneficiaryItemID: sc.seeds[1].ID, QuantityOrAmount: dec("1"), DisbursementMethod: "barter"},
	)
	assert.ErrorIs(t, results[0].Err(), beneficiarydomain.ErrItemReleased)
	assert.ErrorIs(t, results[1].Err(), beneficiarydomain.ErrExceedsApproved)
	assert.ErrorIs(t, results[2].Err(), domain.ErrInvalidLine)
	assert.ErrorIs(t, results[3].Err(), domain.ErrInvalidMethod)
	for _, r := range results {
		assert.Equal(t, domain.LineFailed, r.Status)
		assert.Equal(t, string(errs.KindValidation), r.ErrorKind)
	}

	got, err := f.svc.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalItems)
	assert.Equal(t, 1, got.TotalBeneficiaries)
	assert.True(t, got.TotalValue.Equal(dec("9500")))

	program, err := f.programs.Get(ctx, sc.program.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, program.ActualBeneficiaries)
}

func TestDisburseLineFromAnotherProgram(t *testing.T) {
	f := setup(t)
	first := f.active(t, 2)
	second := f.active(t, 2)
	batch := f.batch(t, first.program.ID)

	results := f.disburse(t, batch.ID, line(second.seeds[0], "5"))
	assert.ErrorIs(t, results[0].Err(), domain.ErrProgramMismatch)
}

func TestCloseAndCancelBatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sc := f.active(t, 2)

	spare := f.batch(t, sc.program.ID)
	cancelled, err := f.svc.CancelBatch(ctx, domain.BatchActionRequest{BatchID: spare.ID, ActorID: f.actor})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCancelled, cancelled.Status)
	assert.Equal(t, f.actor, cancelled.ClosedBy)

	_, err = f.svc.Disburse(ctx, domain.DisburseRequest{BatchID: spare.ID, Lines: []domain.Line{line(sc.seeds[0], "5")}, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrBatchClosed)

	batch := f.batch(t, sc.program.ID)
	f.disburse(t, batch.ID, line(sc.seeds[0], "5"))

	_, err = f.svc.CancelBatch(ctx, domain.BatchActionRequest{BatchID: batch.ID, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrBatchNotPlanned)

	closed, err := f.svc.CloseBatch(ctx, domain.BatchActionRequest{BatchID: batch.ID, Remarks: "done", ActorID: f.actor})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, closed.Status)
	assert.NotNil(t, closed.ClosedAt)
	assert.Equal(t, 1, closed.TotalItems)

	_, err = f.svc.CloseBatch(ctx, domain.BatchActionRequest{BatchID: batch.ID, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrBatchClosed)

	_, err = f.svc.CloseBatch(ctx, domain.BatchActionRequest{BatchID: f.node.Generate(), ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestDisburseRejectsBusyBatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sc := f.active(t, 2)
	batch := f.batch(t, sc.program.ID)

	lease, err := f.locker.Obtain(ctx, "disbursement:batch:"+batch.ID.String(), defaultLockTTL)
	require.NoError(t, err)

	_, err = f.svc.Disburse(ctx, domain.DisburseRequest{BatchID: batch.ID, Lines: []domain.Line{line(sc.seeds[0], "5")}, ActorID: f.actor})
	assert.ErrorIs(t, err, domain.ErrBatchBusy)
	assert.Equal(t, errs.KindConcurrencyConflict, errs.KindOf(err))

	require.NoError(t, lease.Release(ctx))
	results := f.disburse(t, batch.ID, line(sc.seeds[0], "5"))
	assert.Equal(t, domain.LineReleased, results[0].Status)
}

// lostLocker grants every lease but reports it lost on refresh.
type lostLocker struct{}

func (lostLocker) Obtain(_ context.Context, key string, _ time.Duration) (lock.Lease, error) {
	return lostLease{key: key}, nil
}

type lostLease struct{ key string }

func (l lostLease) Key() string { return l.key }

func (l lostLease) Refresh(context.Context, time.Duration) error {
	return lock.ErrNotObtained.With("key %s lost", l.key)
}

func (lostLease) Release(context.Context) error { return nil }

func TestDisburseStopsWhenBatchLockIsLost(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sc := f.active(t, 2)
	batch := f.batch(t, sc.program.ID)
	f.svc.(*Service).locker = lostLocker{}

	results := f.disburse(t, batch.ID, line(sc.seeds[0], "5"), line(sc.cash[0], "2000"))

	assert.Equal(t, domain.LineReleased, results[0].Status)
	assert.Equal(t, domain.LineFailed, results[1].Status)
	assert.ErrorIs(t, results[1].Err(), domain.ErrBatchBusy)
	assert.Equal(t, string(errs.KindConcurrencyConflict), results[1].ErrorKind)

	financial, err := f.allocationRepo.ListFinancialAllocations(ctx, f.db, sc.program.ID)
	require.NoError(t, err)
	require.Len(t, financial, 1)
	assert.True(t, financial[0].RemainingAmount.Equal(dec("4000")), "no cash left after the lease was lost")
}

func TestConcurrentBatchesCannotOverdrawCash(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	// Cash allocated for one beneficiary, two batches race for it.
	sc := f.active(t, 1)
	batches := []domain.Batch{f.batch(t, sc.program.ID), f.batch(t, sc.program.ID)}

	var wg sync.WaitGroup
	results := make([][]domain.LineResult, len(batches))
	failures := make([]error, len(batches))
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batchID snowflake.ID) {
			defer wg.Done()
			results[i], failures[i] = f.svc.Disburse(ctx, domain.DisburseRequest{
				BatchID: batchID,
				Lines:   []domain.Line{line(sc.cash[i], "2000"), line(sc.seeds[i], "5")},
				ActorID: f.actor,
			})
		}(i, batch.ID)
	}
	wg.Wait()

	released := 0
	for i := range batches {
		require.NoError(t, failures[i])
		require.Len(t, results[i], 2)
		cash := results[i][0]
		if cash.Status == domain.LineReleased {
			released++
		} else {
			assert.Contains(t, []string{string(errs.KindInsufficientAllocation), string(errs.KindConcurrencyConflict)}, cash.ErrorKind)
		}
		assert.Equal(t, domain.LineReleased, results[i][1].Status, "seed lines fit in both batches")
	}
	assert.Equal(t, 1, released, "only one cash release fits the allocation")

	financial, err := f.allocationRepo.ListFinancialAllocations(ctx, f.db, sc.program.ID)
	require.NoError(t, err)
	require.Len(t, financial, 1)
	assert.True(t, financial[0].RemainingAmount.IsZero())

	level, err := f.inventory.GetCurrentStock(ctx, f.seedID)
	require.NoError(t, err)
	assert.True(t, level.Current.Equal(dec("90")))
	assert.True(t, level.Reserved.IsZero())
	assert.True(t, level.Available.Equal(level.Current.Sub(level.Reserved)))
}

func TestUntrackedItemReleasesWithoutMovement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	voucher, err := f.inventory.CreateItem(ctx, inventorydomain.CreateItemRequest{
		Name: "Tractor Rental Voucher", Unit: "voucher", UnitCost: dec("300"), IsSubsidizable: true,
	})
	require.NoError(t, err)

	program, err := f.programs.Create(ctx, programdomain.CreateProgramRequest{
		Title:       "Land preparation support",
		Description: "Tractor rental vouchers",
		CommodityID: f.node.Generate(),
		TotalBudget: dec("50000"),
		ActorID:     f.actor,
	})
	require.NoError(t, err)
	_, err = f.programs.Submit(ctx, programdomain.SubmitRequest{
		ProgramID:            program.ID,
		InventoryAllocations: []programdomain.AllocationLine{{InventoryID: voucher.ID, Quantity: dec("4")}},
		ActorID:              f.actor,
	})
	require.NoError(t, err)
	_, err = f.programs.Process(ctx, programdomain.ProcessRequest{
		ProgramID: program.ID, Action: programdomain.ActionApprove, ActorID: f.approver,
	})
	require.NoError(t, err)

	b, err := f.beneficiaries.Enroll(ctx, beneficiarydomain.EnrollRequest{ProgramID: program.ID, FarmerID: f.node.Generate()})
	require.NoError(t, err)
	b, err = f.beneficiaries.Approve(ctx, beneficiarydomain.ReviewRequest{BeneficiaryID: b.ID, ActorID: f.actor})
	require.NoError(t, err)
	var entitlement beneficiarydomain.ProgramBeneficiaryItem
	err = f.db.Transaction(func(tx *gorm.DB) error {
		entitlement, _, err = f.beneficiaries.UpsertEntitlementTx(ctx, tx, b, beneficiarydomain.Entitlement{
			InventoryID: &voucher.ID,
			Quantity:    decimal.NewNullDecimal(dec("2")),
		})
		return err
	})
	require.NoError(t, err)

	_, err = f.programs.StartDistribution(ctx, programdomain.TransitionRequest{ProgramID: program.ID, ActorID: f.actor})
	require.NoError(t, err)
	batch := f.batch(t, program.ID)

	results := f.disburse(t, batch.ID, line(entitlement, "2"))
	assert.Equal(t, domain.LineReleased, results[0].Status)
	assert.Zero(t, results[0].MovementID)
	assert.True(t, results[0].Value.Equal(dec("600")))

	movements, err := f.inventory.ListMovements(ctx, voucher.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, movements)
}
