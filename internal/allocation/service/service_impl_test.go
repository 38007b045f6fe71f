package service

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/allocation/repository"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	inventoryrepository "github.com/smallbiznis/agrisubsidy/internal/inventory/repository"
	inventoryservice "github.com/smallbiznis/agrisubsidy/internal/inventory/service"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	programrepository "github.com/smallbiznis/agrisubsidy/internal/program/repository"
	"github.com/smallbiznis/agrisubsidy/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc         domain.Service
	inventory   inventorydomain.Service
	programRepo programdomain.Repository
	db          *gorm.DB
	node        *snowflake.Node
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testkit.OpenDB(t,
		&inventorydomain.Item{},
		&inventorydomain.StockMovement{},
		&inventorydomain.CurrentStock{},
		&programdomain.Program{},
		&programdomain.ApprovalLog{},
		&domain.InventoryAllocation{},
		&domain.FinancialSubsidyType{},
		&domain.FinancialAllocation{},
		&authorization.Principal{},
		&authorization.AdminPermission{},
		&auditdomain.AuditLog{},
	)
	node := testkit.Node(t)
	clk := testkit.Clock()
	inventorySvc := inventoryservice.New(inventoryservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  inventoryrepository.Provide(),
		Authz: testkit.Authz(t, db, nil),
	})
	programRepo := programrepository.Provide()
	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Repo:         repository.Provide(),
		ProgramRepo:  programRepo,
		InventorySvc: inventorySvc,
	})
	return fixture{svc: svc, inventory: inventorySvc, programRepo: programRepo, db: db, node: node}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f fixture) program(t *testing.T, status programdomain.Status) programdomain.Program {
	t.Helper()
	now := testkit.Clock().Now()
	program := programdomain.Program{
		ID:              f.node.Generate(),
		Title:           "Rice Resiliency",
		CommodityID:     f.node.Generate(),
		SubsidyType:     programdomain.SubsidyMixed,
		TotalBudget:     dec("1000000"),
		AllocatedBudget: decimal.Zero,
		DisbursedAmount: decimal.Zero,
		RemainingBudget: dec("1000000"),
		Status:          status,
		CreatedBy:       f.node.Generate(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, f.programRepo.Insert(context.Background(), f.db, &program))
	return program
}

func (f fixture) item(t *testing.T, name string, cost string, stock string, subsidizable bool) inventorydomain.Item {
	t.Helper()
	ctx := context.Background()
	item, err := f.inventory.CreateItem(ctx, inventorydomain.CreateItemRequest{
		Name:             name,
		Unit:             "bag",
		UnitCost:         dec(cost),
		IsSubsidizable:   subsidizable,
		IsTrackableStock: true,
	})
	require.NoError(t, err)
	if stock != "" {
		_, err = f.inventory.AddStock(ctx, inventorydomain.AddStockRequest{InventoryID: item.ID, Quantity: dec(stock)})
		require.NoError(t, err)
	}
	return item
}

func (f fixture) reload(t *testing.T, id snowflake.ID) programdomain.Program {
	t.Helper()
	program, err := f.programRepo.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, program)
	return *program
}

func TestAllocateInventoryReservesStockAndBudget(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	seed := f.item(t, "Certified Seed", "1500", "100", true)
	urea := f.item(t, "Urea", "1200", "50", true)

	results, err := f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines: []domain.InventoryLine{
			{InventoryID: seed.ID, Quantity: dec("40")},
			{InventoryID: urea.ID, Quantity: dec("10")},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].TotalCost.Equal(dec("60000")))

	level, err := f.inventory.GetCurrentStock(ctx, seed.ID)
	require.NoError(t, err)
	assert.True(t, level.Reserved.Equal(dec("40")))
	assert.True(t, level.Available.Equal(dec("60")))
	assert.True(t, level.Current.Equal(dec("100")))

	movements, err := f.inventory.ListMovements(ctx, seed.ID, 0)
	require.NoError(t, err)
	assert.Len(t, movements, 1, "a reservation must not write a ledger movement")

	reloaded := f.reload(t, program.ID)
	assert.True(t, reloaded.AllocatedBudget.Equal(dec("72000")))
	assert.True(t, reloaded.InventoryAllocated)
	assert.Equal(t, programdomain.SubsidyInventoryOnly, reloaded.SubsidyType)
}

func TestAllocateInventoryInsufficientStockLeavesStockUnchanged(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	seed := f.item(t, "Seed", "100", "10", true)
	urea := f.item(t, "Urea", "100", "5", true)

	_, err := f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines: []domain.InventoryLine{
			{InventoryID: seed.ID, Quantity: dec("4")},
			{InventoryID: urea.ID, Quantity: dec("6")},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindInsufficientStock, errs.KindOf(err))

	level, err := f.inventory.GetCurrentStock(ctx, seed.ID)
	require.NoError(t, err)
	assert.True(t, level.Reserved.IsZero(), "the whole request rolls back")

	reloaded := f.reload(t, program.ID)
	assert.True(t, reloaded.AllocatedBudget.IsZero())
	assert.False(t, reloaded.InventoryAllocated)
}

func TestAllocateInventoryValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	seed := f.item(t, "Seed", "100", "10", true)
	tractor := f.item(t, "Tractor Rental", "100", "10", false)

	cases := []struct {
		name  string
		lines []domain.InventoryLine
		kind  errs.Kind
	}{
		{"empty", nil, errs.KindValidation},
		{"zero quantity", []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("0")}}, errs.KindValidation},
		{"duplicate", []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("1")}, {InventoryID: seed.ID, Quantity: dec("1")}}, errs.KindValidation},
		{"not subsidizable", []domain.InventoryLine{{InventoryID: tractor.ID, Quantity: dec("1")}}, errs.KindNotSubsidizable},
		{"unknown item", []domain.InventoryLine{{InventoryID: f.node.Generate(), Quantity: dec("1")}}, errs.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{ProgramID: program.ID, Lines: tc.lines})
			require.Error(t, err)
			assert.Equal(t, tc.kind, errs.KindOf(err))
		})
	}
}

func TestAllocateInventoryRejectedAfterApproval(t *testing.T) {
	f := setup(t)
	program := f.program(t, programdomain.StatusApproved)
	seed := f.item(t, "Seed", "100", "10", true)

	_, err := f.svc.AllocateInventory(context.Background(), domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines:     []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("1")}},
	})
	assert.ErrorIs(t, err, programdomain.ErrNotAllocatable)
}

func TestAllocateInventoryTopUpKeepsUnitCost(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	seed := f.item(t, "Seed", "100", "50", true)

	first, err := f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines:     []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("10")}},
	})
	require.NoError(t, err)

	second, err := f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines:     []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("5")}},
	})
	require.NoError(t, err)
	assert.Equal(t, first[0].AllocationID, second[0].AllocationID)

	summary, err := f.svc.Summary(ctx, program.ID)
	require.NoError(t, err)
	require.Len(t, summary.Lines, 1)
	assert.True(t, summary.Lines[0].Allocated.Equal(dec("15")))
	assert.True(t, summary.Lines[0].Remaining.Equal(dec("15")))
	assert.True(t, summary.AllocatedValue.Equal(dec("1500")))
}

func TestCancelInventoryAllocationIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	seed := f.item(t, "Seed", "100", "20", true)

	results, err := f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines:     []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("8")}},
	})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelInventoryAllocation(ctx, results[0].AllocationID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	again, err := f.svc.CancelInventoryAllocation(ctx, results[0].AllocationID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, again.Status)

	level, err := f.inventory.GetCurrentStock(ctx, seed.ID)
	require.NoError(t, err)
	assert.True(t, level.Reserved.IsZero())
	assert.True(t, level.Available.Equal(dec("20")))

	reloaded := f.reload(t, program.ID)
	assert.True(t, reloaded.AllocatedBudget.IsZero())
	assert.False(t, reloaded.InventoryAllocated)

	// a cancelled row comes back to life on re-allocation
	results, err = f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines:     []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("3")}},
	})
	require.NoError(t, err)
	assert.Equal(t, cancelled.ID, results[0].AllocationID)
}

func TestAllocateFinancial(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusSubmitted)
	seed := f.item(t, "Seed", "100", "20", true)

	fuel, err := f.svc.CreateSubsidyType(ctx, domain.CreateSubsidyTypeRequest{Name: "Fuel Assistance", Code: "fuel", DefaultAmount: dec("3000")})
	require.NoError(t, err)
	assert.Equal(t, "FUEL", fuel.Code)

	_, err = f.svc.CreateSubsidyType(ctx, domain.CreateSubsidyTypeRequest{Name: "Fuel again", Code: "FUEL"})
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	_, err = f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines:     []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("2")}},
	})
	require.NoError(t, err)

	results, err := f.svc.AllocateFinancial(ctx, domain.AllocateFinancialRequest{
		ProgramID: program.ID,
		Lines: []domain.FinancialLine{{
			SubsidyTypeID:        fuel.ID,
			AmountPerBeneficiary: dec("3000"),
			TargetBeneficiaries:  25,
			DisbursementMethod:   domain.MethodEWallet,
		}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].TotalCost.Equal(dec("75000")))

	reloaded := f.reload(t, program.ID)
	assert.True(t, reloaded.AllocatedBudget.Equal(dec("75200")))
	assert.Equal(t, programdomain.SubsidyMixed, reloaded.SubsidyType)

	_, err = f.svc.AllocateFinancial(ctx, domain.AllocateFinancialRequest{
		ProgramID: program.ID,
		Lines:     []domain.FinancialLine{{SubsidyTypeID: fuel.ID, AmountPerBeneficiary: dec("2500"), TargetBeneficiaries: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
}

func TestDrawFinancialNeverGoesNegative(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	cash, err := f.svc.CreateSubsidyType(ctx, domain.CreateSubsidyTypeRequest{Name: "Cash Aid", Code: "CASH"})
	require.NoError(t, err)

	_, err = f.svc.AllocateFinancial(ctx, domain.AllocateFinancialRequest{
		ProgramID: program.ID,
		Lines:     []domain.FinancialLine{{SubsidyTypeID: cash.ID, AmountPerBeneficiary: dec("5000"), TargetBeneficiaries: 2}},
	})
	require.NoError(t, err)

	draw := func(amount string) (domain.FinancialAllocation, error) {
		var out domain.FinancialAllocation
		err := f.db.Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = f.svc.DrawFinancialTx(ctx, tx, program.ID, cash.ID, dec(amount))
			return err
		})
		return out, err
	}

	_, err = draw("5000")
	require.NoError(t, err)
	_, err = draw("5000.01")
	assert.ErrorIs(t, err, domain.ErrInsufficientAllocation)

	last, err := draw("5000")
	require.NoError(t, err)
	assert.True(t, last.RemainingAmount.IsZero())
	assert.Equal(t, domain.StatusCompleted, last.Status)

	_, err = draw("1")
	assert.Equal(t, errs.KindInsufficientAllocation, errs.KindOf(err))
}

func TestProgramLifecycleHooks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	seed := f.item(t, "Seed", "10", "30", true)

	results, err := f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines:     []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("12")}},
	})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		activation, err := f.svc.ActivateProgramTx(ctx, tx, program.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, activation.InventoryLines)
		return f.svc.StartDistributingTx(ctx, tx, program.ID)
	})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.DrawInventoryTx(ctx, tx, program.ID, seed.ID, dec("5"))
		return err
	})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		locked, err := f.programRepo.LockByID(ctx, tx, program.ID)
		if err != nil {
			return err
		}
		if err := f.svc.CancelProgramTx(ctx, tx, locked); err != nil {
			return err
		}
		return f.programRepo.Update(ctx, tx, locked)
	})
	require.NoError(t, err)

	var allocation domain.InventoryAllocation
	require.NoError(t, f.db.Where("id = ?", results[0].AllocationID).First(&allocation).Error)
	assert.Equal(t, domain.StatusCancelled, allocation.Status)
	assert.Equal(t, domain.StageCancelled, allocation.Stage)
	assert.True(t, allocation.DistributedQuantity.Equal(dec("5")))

	reloaded := f.reload(t, program.ID)
	assert.True(t, reloaded.AllocatedBudget.Equal(dec("50")))
	assert.False(t, reloaded.InventoryAllocated)
}

func TestConcurrentAllocationsCannotOverdrawStock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seed := f.item(t, "Seed", "100", "100", true)
	programs := []programdomain.Program{
		f.program(t, programdomain.StatusDraft),
		f.program(t, programdomain.StatusDraft),
	}

	var wg sync.WaitGroup
	failures := make([]error, len(programs))
	for i, program := range programs {
		wg.Add(1)
		go func(i int, programID snowflake.ID) {
			defer wg.Done()
			_, failures[i] = f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
				ProgramID: programID,
				Lines:     []domain.InventoryLine{{InventoryID: seed.ID, Quantity: dec("60")}},
			})
		}(i, program.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range failures {
		if err == nil {
			succeeded++
			continue
		}
		assert.Contains(t, []errs.Kind{errs.KindInsufficientStock, errs.KindConcurrencyConflict}, errs.KindOf(err))
	}
	assert.Equal(t, 1, succeeded, "only one hold fits the stock")

	level, err := f.inventory.GetCurrentStock(ctx, seed.ID)
	require.NoError(t, err)
	assert.True(t, level.Reserved.Equal(dec("60")))
	assert.True(t, level.Available.Equal(dec("40")))
	assert.True(t, level.Available.Equal(level.Current.Sub(level.Reserved)))
}

func TestUntrackedItemAllocatesWithoutReservation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	program := f.program(t, programdomain.StatusDraft)
	voucher, err := f.inventory.CreateItem(ctx, inventorydomain.CreateItemRequest{
		Name:           "Mechanization Voucher",
		Unit:           "voucher",
		UnitCost:       dec("250"),
		IsSubsidizable: true,
	})
	require.NoError(t, err)

	results, err := f.svc.AllocateInventory(ctx, domain.AllocateInventoryRequest{
		ProgramID: program.ID,
		Lines:     []domain.InventoryLine{{InventoryID: voucher.ID, Quantity: dec("25")}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	level, err := f.inventory.GetCurrentStock(ctx, voucher.ID)
	require.NoError(t, err)
	assert.True(t, level.Reserved.IsZero(), "untracked items hold no stock")
	assert.True(t, level.Current.IsZero())

	reloaded := f.reload(t, program.ID)
	assert.True(t, reloaded.AllocatedBudget.Equal(dec("6250")))

	cancelled, err := f.svc.CancelInventoryAllocation(ctx, results[0].AllocationID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	level, err = f.inventory.GetCurrentStock(ctx, voucher.ID)
	require.NoError(t, err)
	assert.True(t, level.Reserved.IsZero())
}
