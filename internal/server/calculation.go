package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	calculationdomain "github.com/smallbiznis/agrisubsidy/internal/calculation/domain"
)

type createRuleRequest struct {
	Name                   string           `json:"name" binding:"required"`
	InventoryID            *snowflake.ID    `json:"inventory_id"`
	FinancialSubsidyTypeID *snowflake.ID    `json:"financial_subsidy_type_id"`
	CalculationMethod      string           `json:"calculation_method" binding:"required,oneof=per_hectare per_farmer sliding_scale"`
	QuantityPerHectare     *decimal.Decimal `json:"quantity_per_hectare" binding:"omitempty,gte=0"`
	AmountPerHectare       *decimal.Decimal `json:"amount_per_hectare" binding:"omitempty,gte=0"`
	SlidingScale           json.RawMessage  `json:"sliding_scale"`
	MinimumQuantity        *decimal.Decimal `json:"minimum_quantity" binding:"omitempty,gte=0"`
	MaximumQuantity        *decimal.Decimal `json:"maximum_quantity" binding:"omitempty,gte=0"`
	MinimumAmount          *decimal.Decimal `json:"minimum_amount" binding:"omitempty,gte=0"`
	MaximumAmount          *decimal.Decimal `json:"maximum_amount" binding:"omitempty,gte=0"`
	MinFarmSizeHectares    *decimal.Decimal `json:"min_farm_size_hectares" binding:"omitempty,gte=0"`
	MaxFarmSizeHectares    *decimal.Decimal `json:"max_farm_size_hectares" binding:"omitempty,gte=0"`
	FarmTypeEligible       string           `json:"farm_type_eligible"`
	TenureEligible         string           `json:"tenure_eligible"`
	Notes                  string           `json:"notes"`
	Priority               int              `json:"priority"`
}

func (s *Server) CreateRule(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createRuleRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectCalculation, authorization.ActionCalculationManage) {
		return
	}

	resp, err := s.calculationSvc.CreateRule(c.Request.Context(), calculationdomain.CreateRuleRequest{
		ProgramID:              programID,
		Name:                   strings.TrimSpace(req.Name),
		InventoryID:            req.InventoryID,
		FinancialSubsidyTypeID: req.FinancialSubsidyTypeID,
		Method:                 calculationdomain.MethodKind(req.CalculationMethod),
		QuantityPerHectare:     req.QuantityPerHectare,
		AmountPerHectare:       req.AmountPerHectare,
		SlidingScale:           []byte(req.SlidingScale),
		MinimumQuantity:        req.MinimumQuantity,
		MaximumQuantity:        req.MaximumQuantity,
		MinimumAmount:          req.MinimumAmount,
		MaximumAmount:          req.MaximumAmount,
		MinFarmSizeHectares:    req.MinFarmSizeHectares,
		MaxFarmSizeHectares:    req.MaxFarmSizeHectares,
		FarmTypeEligible:       strings.TrimSpace(req.FarmTypeEligible),
		TenureEligible:         strings.TrimSpace(req.TenureEligible),
		Notes:                  strings.TrimSpace(req.Notes),
		Priority:               req.Priority,
		ActorID:                actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateRule(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectCalculation, authorization.ActionCalculationManage) {
		return
	}

	resp, err := s.calculationSvc.DeactivateRule(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRules(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.calculationSvc.ListRules(c.Request.Context(), programID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// CalculateProgram recomputes every approved beneficiary's entitlements.
// Per-beneficiary failures are reported in the body, not as an error.
func (s *Server) CalculateProgram(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectCalculation, authorization.ActionCalculationManage) {
		return
	}

	resp, err := s.calculationSvc.CalculateForProgram(c.Request.Context(), programID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PreviewProgram(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.calculationSvc.Preview(c.Request.Context(), programID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
