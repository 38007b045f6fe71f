package testkit

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	auditrepository "github.com/smallbiznis/agrisubsidy/internal/audit/repository"
	auditservice "github.com/smallbiznis/agrisubsidy/internal/audit/service"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Authz builds an authorization service over an in-memory policy store.
// The principals and admin_permissions tables must already exist.
func Authz(t testing.TB, conn *gorm.DB, auditSvc auditdomain.Service) authorization.Service {
	t.Helper()
	enforcer, err := authorization.NewMemoryEnforcer()
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	return authorization.NewService(authorization.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
		AuditSvc: auditSvc,
	})
}

func Principal(t testing.TB, conn *gorm.DB, node *snowflake.Node, role authorization.Role) snowflake.ID {
	t.Helper()
	principal := authorization.Principal{
		ID:       node.Generate(),
		Name:     string(role),
		Role:     role,
		IsActive: true,
	}
	if err := conn.Create(&principal).Error; err != nil {
		t.Fatalf("create principal: %v", err)
	}
	return principal.ID
}

// Approver creates an admin allowed to approve programs up to ceiling.
// A zero ceiling means no limit.
func Approver(t testing.TB, conn *gorm.DB, node *snowflake.Node, ceiling decimal.Decimal) snowflake.ID {
	t.Helper()
	id := Principal(t, conn, node, authorization.RoleAdmin)
	perm := authorization.AdminPermission{
		ID:                 node.Generate(),
		PrincipalID:        id,
		CanApprovePrograms: true,
		IsActive:           true,
	}
	if !ceiling.IsZero() {
		perm.MaxBudgetLimit = decimal.NewNullDecimal(ceiling)
	}
	if err := conn.Create(&perm).Error; err != nil {
		t.Fatalf("create admin permission: %v", err)
	}
	return id
}

func Audit(t testing.TB, conn *gorm.DB, node *snowflake.Node) auditdomain.Service {
	t.Helper()
	return auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: Clock(),
		Repo:  auditrepository.Provide(),
	})
}
