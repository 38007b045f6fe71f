package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
)

type createProgramRequest struct {
	Title               string          `json:"title" binding:"required"`
	Description         string          `json:"description"`
	CommodityID         snowflake.ID    `json:"commodity_id" binding:"required"`
	SubsidyType         string          `json:"subsidy_type" binding:"required,oneof=inventory_only financial_only mixed"`
	TotalBudget         decimal.Decimal `json:"total_budget" binding:"gte=0"`
	TargetBeneficiaries int             `json:"target_beneficiaries" binding:"gte=0"`
	StartDate           string          `json:"start_date"`
	EndDate             string          `json:"end_date"`
}

func (s *Server) CreateProgram(c *gin.Context) {
	var req createProgramRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	startDate, err := parseOptionalDate(req.StartDate)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
		return
	}
	endDate, err := parseOptionalDate(req.EndDate)
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "invalid end_date"))
		return
	}
	if !s.authorize(c, authorization.ObjectProgram, authorization.ActionProgramManage) {
		return
	}

	resp, err := s.programSvc.Create(c.Request.Context(), programdomain.CreateProgramRequest{
		Title:               strings.TrimSpace(req.Title),
		Description:         strings.TrimSpace(req.Description),
		CommodityID:         req.CommodityID,
		SubsidyType:         programdomain.SubsidyType(req.SubsidyType),
		TotalBudget:         req.TotalBudget,
		TargetBeneficiaries: req.TargetBeneficiaries,
		StartDate:           startDate,
		EndDate:             endDate,
		ActorID:             actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetProgram(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.programSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type allocationLineRequest struct {
	InventoryID snowflake.ID    `json:"inventory_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"gt=0"`
}

type submitProgramRequest struct {
	InventoryAllocations []allocationLineRequest `json:"inventory_allocations" binding:"omitempty,dive"`
	Remarks              string                  `json:"remarks"`
}

func (s *Server) SubmitProgram(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req submitProgramRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectProgram, authorization.ActionProgramManage) {
		return
	}

	lines := make([]programdomain.AllocationLine, 0, len(req.InventoryAllocations))
	for _, line := range req.InventoryAllocations {
		lines = append(lines, programdomain.AllocationLine{
			InventoryID: line.InventoryID,
			Quantity:    line.Quantity,
		})
	}

	resp, err := s.programSvc.Submit(c.Request.Context(), programdomain.SubmitRequest{
		ProgramID:            id,
		InventoryAllocations: lines,
		Remarks:              strings.TrimSpace(req.Remarks),
		ActorID:              actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type processProgramRequest struct {
	Action  string `json:"action" binding:"required,oneof=approve deny"`
	Remarks string `json:"remarks"`
}

func (s *Server) ProcessProgram(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req processProgramRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.programSvc.Process(c.Request.Context(), programdomain.ProcessRequest{
		ProgramID: id,
		Action:    programdomain.Action(req.Action),
		Remarks:   strings.TrimSpace(req.Remarks),
		ActorID:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type remarksRequest struct {
	Remarks string `json:"remarks"`
}

type transitionFunc func(*gin.Context, programdomain.TransitionRequest) (programdomain.StatusResult, error)

func (s *Server) transition(c *gin.Context, action string, fn transitionFunc) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req remarksRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectProgram, action) {
		return
	}

	resp, err := fn(c, programdomain.TransitionRequest{
		ProgramID: id,
		Remarks:   strings.TrimSpace(req.Remarks),
		ActorID:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) StartDistribution(c *gin.Context) {
	s.transition(c, authorization.ActionProgramDistribute, func(c *gin.Context, req programdomain.TransitionRequest) (programdomain.StatusResult, error) {
		return s.programSvc.StartDistribution(c.Request.Context(), req)
	})
}

func (s *Server) CompleteProgram(c *gin.Context) {
	s.transition(c, authorization.ActionProgramDistribute, func(c *gin.Context, req programdomain.TransitionRequest) (programdomain.StatusResult, error) {
		return s.programSvc.Complete(c.Request.Context(), req)
	})
}

func (s *Server) CancelProgram(c *gin.Context) {
	s.transition(c, authorization.ActionProgramManage, func(c *gin.Context, req programdomain.TransitionRequest) (programdomain.StatusResult, error) {
		return s.programSvc.Cancel(c.Request.Context(), req)
	})
}

func (s *Server) ProgramHistory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.programSvc.History(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PendingApprovals(c *gin.Context) {
	resp, err := s.programSvc.PendingApprovals(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
