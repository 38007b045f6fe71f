package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads role policies persisted through the gorm adapter and
// seeds the built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer without persistence.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, principalID snowflake.ID, object string, action string) error {
	if principalID == 0 {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	principal, err := s.loadPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if principal == nil {
		s.auditDenied(ctx, principalID, object, action, "unknown_principal")
		return ErrInvalidActor
	}
	if !principal.IsActive {
		s.auditDenied(ctx, principalID, object, action, "inactive_principal")
		return ErrInactiveActor
	}

	subject := "principal:" + principalID.String()
	if err := s.ensureGrouping(subject, roleSubject(principal.Role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, principalID, object, action, "policy")
		return ErrForbidden.With("%s cannot %s", principal.Role, action)
	}
	return nil
}

// CanApproveProgram checks the approval capability and the principal's budget
// ceiling. It never mutates program state.
func (s *ServiceImpl) CanApproveProgram(ctx context.Context, principalID snowflake.ID, totalBudget decimal.Decimal) error {
	if err := s.Authorize(ctx, principalID, ObjectProgram, ActionProgramApprove); err != nil {
		return err
	}

	var perm AdminPermission
	err := s.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Limit(1).
		Find(&perm).Error
	if err != nil {
		return err
	}
	if perm.ID == 0 || !perm.IsActive || !perm.CanApprovePrograms {
		s.auditDenied(ctx, principalID, ObjectProgram, ActionProgramApprove, "no_admin_permission")
		return ErrNoApprovalGrant
	}
	if perm.MaxBudgetLimit.Valid && perm.MaxBudgetLimit.Decimal.LessThan(totalBudget) {
		s.auditDenied(ctx, principalID, ObjectProgram, ActionProgramApprove, "budget_ceiling")
		return ErrBudgetCeiling.With("ceiling %s below budget %s",
			perm.MaxBudgetLimit.Decimal.String(), totalBudget.String())
	}
	return nil
}

func (s *ServiceImpl) loadPrincipal(ctx context.Context, principalID snowflake.ID) (*Principal, error) {
	var principal Principal
	if err := s.db.WithContext(ctx).
		Where("id = ?", principalID).
		Limit(1).
		Find(&principal).Error; err != nil {
		return nil, err
	}
	if principal.ID == 0 {
		return nil, nil
	}
	principal.Role = Role(strings.ToLower(strings.TrimSpace(string(principal.Role))))
	return &principal, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, principalID snowflake.ID, object string, action string, reason string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.AuditLog(ctx, nil, principalID, "authorization.denied", "authorization", object, map[string]any{
		"object": object,
		"action": action,
		"reason": reason,
	})
}
