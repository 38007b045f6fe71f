package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	beneficiarydomain "github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	calculationdomain "github.com/smallbiznis/agrisubsidy/internal/calculation/domain"
	disbursementdomain "github.com/smallbiznis/agrisubsidy/internal/disbursement/domain"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted table in dependency order.
func Models() []any {
	return []any{
		&authorization.Principal{},
		&authorization.AdminPermission{},
		&auditdomain.AuditLog{},
		&inventorydomain.Item{},
		&inventorydomain.StockMovement{},
		&inventorydomain.CurrentStock{},
		&programdomain.Program{},
		&programdomain.ApprovalLog{},
		&allocationdomain.InventoryAllocation{},
		&allocationdomain.FinancialSubsidyType{},
		&allocationdomain.FinancialAllocation{},
		&calculationdomain.Rule{},
		&farmdomain.FarmParcel{},
		&beneficiarydomain.ProgramBeneficiary{},
		&disbursementdomain.Batch{},
		&beneficiarydomain.ProgramBeneficiaryItem{},
		&disbursementdomain.FinancialDisbursementRecord{},
	}
}

// RunMigrations applies the embedded postgres schema. The subsidy ledgers
// rely on its check constraints and the append-only movement trigger.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the models for sqlite and mysql
// development databases.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Apply picks the migration strategy for the configured dialect.
func Apply(conn *gorm.DB, dbType string) error {
	if dbType != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}
