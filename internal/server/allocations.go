package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
)

type allocateInventoryRequest struct {
	Lines []allocationLineRequest `json:"lines" binding:"required,min=1,dive"`
}

func (s *Server) AllocateInventory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req allocateInventoryRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectAllocation, authorization.ActionAllocationManage) {
		return
	}

	lines := make([]allocationdomain.InventoryLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, allocationdomain.InventoryLine{
			InventoryID: line.InventoryID,
			Quantity:    line.Quantity,
		})
	}

	resp, err := s.allocationSvc.AllocateInventory(c.Request.Context(), allocationdomain.AllocateInventoryRequest{
		ProgramID: id,
		Lines:     lines,
		ActorID:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelInventoryAllocation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !s.authorize(c, authorization.ObjectAllocation, authorization.ActionAllocationManage) {
		return
	}

	resp, err := s.allocationSvc.CancelInventoryAllocation(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type financialLineRequest struct {
	SubsidyTypeID        snowflake.ID    `json:"financial_subsidy_type_id" binding:"required"`
	AmountPerBeneficiary decimal.Decimal `json:"amount_per_beneficiary" binding:"gt=0"`
	TargetBeneficiaries  int             `json:"target_beneficiaries" binding:"gt=0"`
	DisbursementMethod   string          `json:"disbursement_method" binding:"omitempty,oneof=cash bank_transfer check e_wallet voucher"`
}

type allocateFinancialRequest struct {
	Lines []financialLineRequest `json:"lines" binding:"required,min=1,dive"`
}

func (s *Server) AllocateFinancial(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req allocateFinancialRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectAllocation, authorization.ActionAllocationManage) {
		return
	}

	lines := make([]allocationdomain.FinancialLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, allocationdomain.FinancialLine{
			SubsidyTypeID:        line.SubsidyTypeID,
			AmountPerBeneficiary: line.AmountPerBeneficiary,
			TargetBeneficiaries:  line.TargetBeneficiaries,
			DisbursementMethod:   allocationdomain.DisbursementMethod(line.DisbursementMethod),
		})
	}

	resp, err := s.allocationSvc.AllocateFinancial(c.Request.Context(), allocationdomain.AllocateFinancialRequest{
		ProgramID: id,
		Lines:     lines,
		ActorID:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelFinancialAllocation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !s.authorize(c, authorization.ObjectAllocation, authorization.ActionAllocationManage) {
		return
	}

	resp, err := s.allocationSvc.CancelFinancialAllocation(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AllocationSummary(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.allocationSvc.Summary(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type createSubsidyTypeRequest struct {
	Name          string          `json:"name" binding:"required"`
	Code          string          `json:"code" binding:"required"`
	Description   string          `json:"description"`
	DefaultAmount decimal.Decimal `json:"default_amount" binding:"gte=0"`
}

func (s *Server) CreateSubsidyType(c *gin.Context) {
	var req createSubsidyTypeRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectAllocation, authorization.ActionAllocationManage) {
		return
	}

	resp, err := s.allocationSvc.CreateSubsidyType(c.Request.Context(), allocationdomain.CreateSubsidyTypeRequest{
		Name:          strings.TrimSpace(req.Name),
		Code:          strings.TrimSpace(req.Code),
		Description:   strings.TrimSpace(req.Description),
		DefaultAmount: req.DefaultAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSubsidyTypes(c *gin.Context) {
	resp, err := s.allocationSvc.ListSubsidyTypes(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
