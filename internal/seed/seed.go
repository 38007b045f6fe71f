package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultAdminName = "System Administrator"

type subsidyType struct {
	Code          string
	Name          string
	Description   string
	DefaultAmount string
}

var defaultSubsidyTypes = []subsidyType{
	{"CASH_ASSISTANCE", "Unconditional Cash Assistance", "Direct cash support released per beneficiary.", "5000"},
	{"FUEL_SUBSIDY", "Fuel Subsidy", "Fuel discount voucher for farm machinery.", "3000"},
	{"FERTILIZER_VOUCHER", "Fertilizer Voucher", "Voucher redeemable at accredited suppliers.", "2000"},
}

// EnsureReferenceData seeds the bootstrap administrator and the default
// financial subsidy types. Existing rows are left untouched.
func EnsureReferenceData(db *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		admin, created, err := ensureAdminTx(ctx, tx, node)
		if err != nil {
			return err
		}
		if created {
			log.Info("seeded bootstrap administrator", zap.String("principal_id", admin.ID.String()))
		}

		for _, st := range defaultSubsidyTypes {
			if err := ensureSubsidyTypeTx(ctx, tx, node, st); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureAdminTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (authorization.Principal, bool, error) {
	var principal authorization.Principal
	err := tx.WithContext(ctx).
		Where("name = ? AND role = ?", defaultAdminName, authorization.RoleAdmin).
		First(&principal).Error
	if err == nil {
		return principal, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return principal, false, err
	}

	now := time.Now().UTC()
	principal = authorization.Principal{
		ID:        node.Generate(),
		Name:      defaultAdminName,
		Role:      authorization.RoleAdmin,
		IsActive:  true,
		CreatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&principal).Error; err != nil {
		return principal, false, err
	}

	// No ceiling: the bootstrap admin may approve any budget.
	perm := authorization.AdminPermission{
		ID:                 node.Generate(),
		PrincipalID:        principal.ID,
		CanApprovePrograms: true,
		IsActive:           true,
		CreatedAt:          now,
	}
	if err := tx.WithContext(ctx).Create(&perm).Error; err != nil {
		return principal, false, err
	}
	return principal, true, nil
}

func ensureSubsidyTypeTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, st subsidyType) error {
	var existing allocationdomain.FinancialSubsidyType
	err := tx.WithContext(ctx).Where("code = ?", st.Code).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row := allocationdomain.FinancialSubsidyType{
		ID:            node.Generate(),
		Name:          st.Name,
		Code:          st.Code,
		Description:   st.Description,
		DefaultAmount: decimal.RequireFromString(st.DefaultAmount),
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}
	return tx.WithContext(ctx).Create(&row).Error
}
