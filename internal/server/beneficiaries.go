package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	beneficiarydomain "github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
)

type enrollBeneficiaryRequest struct {
	FarmerID    snowflake.ID  `json:"farmer_id" binding:"required"`
	CommodityID *snowflake.ID `json:"commodity_id"`
}

func (s *Server) EnrollBeneficiary(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req enrollBeneficiaryRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectBeneficiary, authorization.ActionBeneficiaryEnroll) {
		return
	}

	// Zero commodity falls back to the program's commodity.
	var commodityID snowflake.ID
	if req.CommodityID != nil {
		commodityID = *req.CommodityID
	}

	resp, err := s.beneficiarySvc.Enroll(c.Request.Context(), beneficiarydomain.EnrollRequest{
		ProgramID:   programID,
		FarmerID:    req.FarmerID,
		CommodityID: commodityID,
		ActorID:     actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListBeneficiaries(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	approvedOnly, err := parseOptionalBool(c.Query("approved"))
	if err != nil {
		AbortWithError(c, newValidationError("approved", "invalid_approved", "invalid approved"))
		return
	}

	var resp []beneficiarydomain.ProgramBeneficiary
	if approvedOnly != nil && *approvedOnly {
		resp, err = s.beneficiarySvc.ListApproved(c.Request.Context(), programID)
	} else {
		resp, err = s.beneficiarySvc.List(c.Request.Context(), programID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListBeneficiaryItems(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.beneficiarySvc.ListItems(c.Request.Context(), programID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBeneficiary(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.beneficiarySvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApproveBeneficiary(c *gin.Context) {
	s.reviewBeneficiary(c, s.beneficiarySvc.Approve)
}

func (s *Server) RejectBeneficiary(c *gin.Context) {
	s.reviewBeneficiary(c, s.beneficiarySvc.Reject)
}

type reviewFunc = func(ctx context.Context, req beneficiarydomain.ReviewRequest) (beneficiarydomain.ProgramBeneficiary, error)

func (s *Server) reviewBeneficiary(c *gin.Context, review reviewFunc) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectBeneficiary, authorization.ActionBeneficiaryApprove) {
		return
	}

	resp, err := review(c.Request.Context(), beneficiarydomain.ReviewRequest{
		BeneficiaryID: id,
		ActorID:       actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type overrideItemRequest struct {
	Quantity *decimal.Decimal `json:"approved_quantity" binding:"omitempty,gte=0"`
	Amount   *decimal.Decimal `json:"approved_amount" binding:"omitempty,gte=0"`
	Reason   string           `json:"reason" binding:"required"`
}

func (s *Server) OverrideBeneficiaryItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req overrideItemRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.beneficiarySvc.OverrideApproved(c.Request.Context(), beneficiarydomain.OverrideRequest{
		ItemID:   id,
		Quantity: req.Quantity,
		Amount:   req.Amount,
		Reason:   strings.TrimSpace(req.Reason),
		ActorID:  actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
