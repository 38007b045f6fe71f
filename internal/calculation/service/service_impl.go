package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	beneficiarydomain "github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	"github.com/smallbiznis/agrisubsidy/internal/calculation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	"github.com/smallbiznis/agrisubsidy/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           domain.Repository
	ProgramRepo    programdomain.Repository
	AllocationRepo allocationdomain.Repository
	InventorySvc   inventorydomain.Service
	BeneficiarySvc beneficiarydomain.Service
	Farm           farmdomain.Aggregator
	Config         *config.CalculationConfigHolder `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics             `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	programRepo    programdomain.Repository
	allocationRepo allocationdomain.Repository
	inventorySvc   inventorydomain.Service
	beneficiarySvc beneficiarydomain.Service
	farm           farmdomain.Aggregator
	config         *config.CalculationConfigHolder
	obsMetrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("calculation.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		programRepo:    p.ProgramRepo,
		allocationRepo: p.AllocationRepo,
		inventorySvc:   p.InventorySvc,
		beneficiarySvc: p.BeneficiarySvc,
		farm:           p.Farm,
		config:         p.Config,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) CreateRule(ctx context.Context, req domain.CreateRuleRequest) (domain.Rule, error) {
	if !req.Method.Valid() {
		return domain.Rule{}, domain.ErrInvalidMethod.With("method %q", req.Method)
	}
	if (req.InventoryID == nil) == (req.FinancialSubsidyTypeID == nil) {
		return domain.Rule{}, domain.ErrInvalidTarget.With("exactly one of inventory_id or financial_subsidy_type_id is required")
	}

	program, err := s.programRepo.FindByID(ctx, s.db, req.ProgramID)
	if err != nil {
		return domain.Rule{}, err
	}
	if program == nil {
		return domain.Rule{}, programdomain.ErrNotFound
	}
	if program.Status.Terminal() {
		return domain.Rule{}, domain.ErrProgramClosed.With("program is %s", program.Status)
	}
	if err := s.checkTarget(ctx, req); err != nil {
		return domain.Rule{}, err
	}

	now := s.clock.Now()
	rule := domain.Rule{
		ID:                     s.genID.Generate(),
		ProgramID:              program.ID,
		Name:                   strings.TrimSpace(req.Name),
		InventoryID:            req.InventoryID,
		FinancialSubsidyTypeID: req.FinancialSubsidyTypeID,
		CalculationMethod:      req.Method,
		QuantityPerHectare:     nullable(req.QuantityPerHectare),
		AmountPerHectare:       nullable(req.AmountPerHectare),
		MinimumQuantity:        nullable(req.MinimumQuantity),
		MaximumQuantity:        nullable(req.MaximumQuantity),
		MinimumAmount:          nullable(req.MinimumAmount),
		MaximumAmount:          nullable(req.MaximumAmount),
		MinFarmSizeHectares:    nullable(req.MinFarmSizeHectares),
		MaxFarmSizeHectares:    nullable(req.MaxFarmSizeHectares),
		FarmTypeEligible:       eligibility(req.FarmTypeEligible),
		TenureEligible:         eligibility(req.TenureEligible),
		CalculationNotes:       strings.TrimSpace(req.Notes),
		IsActive:               true,
		Priority:               req.Priority,
		CreatedBy:              req.ActorID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if rule.Name == "" {
		rule.Name = string(req.Method) + " rule"
	}
	// An absent bound stays unbounded unless the operator configured a floor.
	if floor := s.config.Get().DefaultMinFarmSizeHectares; !rule.MinFarmSizeHectares.Valid && floor > 0 {
		rule.MinFarmSizeHectares = decimal.NewNullDecimal(decimal.NewFromFloat(floor))
	}

	if err := validateRule(rule); err != nil {
		return domain.Rule{}, err
	}
	switch req.Method {
	case domain.MethodPerHectare, domain.MethodPerFarmer:
		if !rule.QuantityPerHectare.Valid && !rule.AmountPerHectare.Valid {
			return domain.Rule{}, domain.ErrMissingRate.With("%s needs quantity_per_hectare or amount_per_hectare", req.Method)
		}
	case domain.MethodSlidingScale:
		ranges, err := domain.ParseSlidingScale(req.SlidingScale)
		if err != nil {
			return domain.Rule{}, err
		}
		canonical, err := json.Marshal(ranges)
		if err != nil {
			return domain.Rule{}, err
		}
		rule.SlidingScale = datatypes.JSON(canonical)
	}

	if err := s.repo.Insert(ctx, s.db, &rule); err != nil {
		return domain.Rule{}, err
	}

	logger.WithProgram(s.log, rule.ProgramID.String()).Info("calculation rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("method", string(rule.CalculationMethod)),
	)
	return rule, nil
}

func (s *Service) checkTarget(ctx context.Context, req domain.CreateRuleRequest) error {
	if req.InventoryID != nil {
		_, err := s.inventorySvc.GetItem(ctx, *req.InventoryID)
		return err
	}
	subsidyType, err := s.allocationRepo.FindSubsidyType(ctx, s.db, *req.FinancialSubsidyTypeID)
	if err != nil {
		return err
	}
	if subsidyType == nil {
		return allocationdomain.ErrSubsidyTypeNotFound
	}
	return nil
}

func validateRule(rule domain.Rule) error {
	for _, rate := range []decimal.NullDecimal{rule.QuantityPerHectare, rule.AmountPerHectare} {
		if rate.Valid && rate.Decimal.IsNegative() {
			return domain.ErrMissingRate.With("rates must not be negative")
		}
	}
	bounds := []struct {
		name   string
		lo, hi decimal.NullDecimal
	}{
		{"quantity", rule.MinimumQuantity, rule.MaximumQuantity},
		{"amount", rule.MinimumAmount, rule.MaximumAmount},
		{"farm_size", rule.MinFarmSizeHectares, rule.MaxFarmSizeHectares},
	}
	for _, b := range bounds {
		if (b.lo.Valid && b.lo.Decimal.IsNegative()) || (b.hi.Valid && b.hi.Decimal.IsNegative()) {
			return domain.ErrInvalidBounds.With("%s bounds must not be negative", b.name)
		}
		if b.lo.Valid && b.hi.Valid && b.lo.Decimal.GreaterThan(b.hi.Decimal) {
			return domain.ErrInvalidBounds.With("%s minimum %s above maximum %s", b.name, b.lo.Decimal.String(), b.hi.Decimal.String())
		}
	}
	if rule.FarmTypeEligible != domain.EligibleAll && !farmdomain.FarmType(rule.FarmTypeEligible).Valid() {
		return domain.ErrInvalidEligibility.With("farm_type_eligible %q", rule.FarmTypeEligible)
	}
	if rule.TenureEligible != domain.EligibleAll && !farmdomain.TenureType(rule.TenureEligible).Valid() {
		return domain.ErrInvalidEligibility.With("tenure_eligible %q", rule.TenureEligible)
	}
	return nil
}

func (s *Service) DeactivateRule(ctx context.Context, ruleID snowflake.ID, actorID snowflake.ID) (domain.Rule, error) {
	rule, err := s.repo.FindByID(ctx, s.db, ruleID)
	if err != nil {
		return domain.Rule{}, err
	}
	if rule == nil {
		return domain.Rule{}, domain.ErrNotFound
	}
	if !rule.IsActive {
		return *rule, nil
	}
	rule.IsActive = false
	rule.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, s.db, rule); err != nil {
		return domain.Rule{}, err
	}

	logger.WithProgram(s.log, rule.ProgramID.String()).Info("calculation rule deactivated",
		zap.String("rule_id", rule.ID.String()),
		zap.String("actor_id", actorID.String()),
	)
	return *rule, nil
}

func (s *Service) ListRules(ctx context.Context, programID snowflake.ID) ([]domain.Rule, error) {
	return s.repo.List(ctx, s.db, programID, false)
}

// CalculateForProgram evaluates every active rule for every approved
// beneficiary. Each beneficiary commits on its own; a failure is reported on
// that beneficiary's result and the run continues.
func (s *Service) CalculateForProgram(ctx context.Context, programID snowflake.ID) ([]domain.BeneficiaryResult, error) {
	program, err := s.programRepo.FindByID(ctx, s.db, programID)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return nil, programdomain.ErrNotFound
	}
	if program.Status.Terminal() {
		return nil, domain.ErrProgramClosed.With("program is %s", program.Status)
	}

	rules, err := s.compiledRules(ctx, programID)
	if err != nil {
		return nil, err
	}
	beneficiaries, err := s.beneficiarySvc.ListApproved(ctx, programID)
	if err != nil {
		return nil, err
	}

	log := logger.WithProgram(s.log, programID.String())
	results := make([]domain.BeneficiaryResult, 0, len(beneficiaries))
	failed := 0
	for _, b := range beneficiaries {
		result, err := s.calculateBeneficiary(ctx, b, rules)
		if err != nil {
			failed++
			result = domain.BeneficiaryResult{
				BeneficiaryID: b.ID,
				FarmerID:      b.FarmerID,
				FarmHectares:  b.TotalFarmHectares,
				Error:         errs.Reason(err),
			}
			log.Warn("beneficiary calculation failed",
				zap.String("beneficiary_id", b.ID.String()),
				zap.Error(err),
			)
		}
		results = append(results, result)
	}

	s.obsMetrics.RecordCalculation(ctx, "ok", len(results)-failed)
	s.obsMetrics.RecordCalculation(ctx, "failed", failed)
	log.Info("program calculation finished",
		zap.Int("beneficiaries", len(results)),
		zap.Int("failed", failed),
		zap.Int("rules", len(rules)),
	)
	return results, nil
}

func (s *Service) compiledRules(ctx context.Context, programID snowflake.ID) ([]domain.CompiledRule, error) {
	rules, err := s.repo.List(ctx, s.db, programID, true)
	if err != nil {
		return nil, err
	}
	compiled := make([]domain.CompiledRule, 0, len(rules))
	for _, r := range rules {
		c, err := domain.Compile(r)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		compiled = append(compiled, c)
	}
	return compiled, nil
}

func (s *Service) calculateBeneficiary(ctx context.Context, b beneficiarydomain.ProgramBeneficiary, rules []domain.CompiledRule) (domain.BeneficiaryResult, error) {
	result := domain.BeneficiaryResult{
		BeneficiaryID: b.ID,
		FarmerID:      b.FarmerID,
		Items:         []domain.ItemResult{},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		summary, err := s.farm.SummarizeTx(ctx, tx, b.FarmerID, b.CommodityID)
		if err != nil {
			return err
		}
		result.FarmHectares = summary.TotalHectares

		type pending struct {
			rule domain.CompiledRule
			e    beneficiarydomain.Entitlement
		}
		var lines []pending
		seen := make(map[string]bool, len(rules))
		for _, rule := range rules {
			if ok, reason := rule.Eligible(summary); !ok {
				result.Skipped = append(result.Skipped, domain.RuleSkip{RuleID: rule.ID, Reason: reason})
				continue
			}
			quantity, amount := rule.Evaluate(summary.TotalHectares)
			e := beneficiarydomain.Entitlement{
				RuleID:                 rule.ID,
				InventoryID:            rule.InventoryID,
				FinancialSubsidyTypeID: rule.FinancialSubsidyTypeID,
				Quantity:               quantity,
				Amount:                 amount,
				Notes:                  rule.Notes(summary.TotalHectares),
			}
			if seen[e.Key()] {
				result.Skipped = append(result.Skipped, domain.RuleSkip{RuleID: rule.ID, Reason: "superseded"})
				continue
			}
			seen[e.Key()] = true
			lines = append(lines, pending{rule: rule, e: e})
		}

		if err := s.beneficiarySvc.RefreshSnapshotTx(ctx, tx, b.ID, summary, len(lines) > 0); err != nil {
			return err
		}
		for _, line := range lines {
			item, updated, err := s.beneficiarySvc.UpsertEntitlementTx(ctx, tx, b, line.e)
			if err != nil {
				return fmt.Errorf("rule %s: %w", line.rule.ID, err)
			}
			result.Items = append(result.Items, domain.ItemResult{
				RuleID:             line.rule.ID,
				ItemID:             item.ID,
				EntitlementKey:     item.EntitlementKey,
				Method:             line.rule.CalculationMethod,
				CalculatedQuantity: item.CalculatedQuantity,
				CalculatedAmount:   item.CalculatedAmount,
				ApprovedQuantity:   item.ApprovedQuantity,
				ApprovedAmount:     item.ApprovedAmount,
				Released:           !updated,
			})
		}
		return nil
	})
	if err != nil {
		return domain.BeneficiaryResult{}, err
	}
	return result, nil
}

// Preview evaluates the active rules over the configured sample farm sizes
// without eligibility gates or writes.
func (s *Service) Preview(ctx context.Context, programID snowflake.ID) ([]domain.PreviewRow, error) {
	program, err := s.programRepo.FindByID(ctx, s.db, programID)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return nil, programdomain.ErrNotFound
	}
	rules, err := s.compiledRules(ctx, programID)
	if err != nil {
		return nil, err
	}

	samples := s.config.Get().PreviewSampleHectares
	rows := make([]domain.PreviewRow, 0, len(samples))
	for _, sample := range samples {
		hectares := decimal.NewFromFloat(sample)
		row := domain.PreviewRow{FarmSizeHectares: hectares, Lines: make([]domain.PreviewLine, 0, len(rules))}
		for _, rule := range rules {
			quantity, amount := rule.Evaluate(hectares)
			itemType := string(allocationdomain.KindFinancial)
			if rule.IsInventory() {
				itemType = string(allocationdomain.KindInventory)
			}
			row.Lines = append(row.Lines, domain.PreviewLine{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				ItemType: itemType,
				Quantity: quantity,
				Amount:   amount,
			})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func nullable(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*v)
}

func eligibility(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return domain.EligibleAll
	}
	return v
}
