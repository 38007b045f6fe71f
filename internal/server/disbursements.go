package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	disbursementdomain "github.com/smallbiznis/agrisubsidy/internal/disbursement/domain"
)

type createBatchRequest struct {
	Date     string `json:"disbursement_date"`
	Location string `json:"location"`
	Remarks  string `json:"remarks"`
}

func (s *Server) CreateBatch(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createBatchRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		AbortWithError(c, newValidationError("disbursement_date", "invalid_disbursement_date", "invalid disbursement_date"))
		return
	}
	var batchDate time.Time
	if date != nil {
		batchDate = *date
	}

	resp, err := s.disbursementSvc.CreateBatch(c.Request.Context(), disbursementdomain.CreateBatchRequest{
		ProgramID: programID,
		Date:      batchDate,
		Location:  strings.TrimSpace(req.Location),
		Remarks:   strings.TrimSpace(req.Remarks),
		ActorID:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListBatches(c *gin.Context) {
	programID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.disbursementSvc.ListBatches(c.Request.Context(), programID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBatch(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.disbursementSvc.GetBatch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type disburseLineRequest struct {
	BeneficiaryItemID  snowflake.ID    `json:"beneficiary_item_id" binding:"required"`
	QuantityOrAmount   decimal.Decimal `json:"quantity_or_amount" binding:"gt=0"`
	DisbursementMethod string          `json:"disbursement_method" binding:"omitempty,oneof=cash bank_transfer check e_wallet voucher"`
	RecipientName      string          `json:"recipient_name"`
	ReferenceNumber    string          `json:"reference_number"`
	Remarks            string          `json:"remarks"`
}

type disburseRequest struct {
	Lines []disburseLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// Disburse answers 200 with per-line results even when some lines fail.
func (s *Server) Disburse(c *gin.Context) {
	batchID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req disburseRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	lines := make([]disbursementdomain.Line, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, disbursementdomain.Line{
			BeneficiaryItemID:  line.BeneficiaryItemID,
			QuantityOrAmount:   line.QuantityOrAmount,
			DisbursementMethod: allocationdomain.DisbursementMethod(line.DisbursementMethod),
			RecipientName:      strings.TrimSpace(line.RecipientName),
			ReferenceNumber:    strings.TrimSpace(line.ReferenceNumber),
			Remarks:            strings.TrimSpace(line.Remarks),
		})
	}

	results, err := s.disbursementSvc.Disburse(c.Request.Context(), disbursementdomain.DisburseRequest{
		BatchID: batchID,
		Lines:   lines,
		ActorID: actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	released := 0
	for _, r := range results {
		if r.Status == disbursementdomain.LineReleased {
			released++
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"results":  results,
		"released": released,
		"failed":   len(results) - released,
	}})
}

func (s *Server) CloseBatch(c *gin.Context) {
	s.finishBatch(c, s.disbursementSvc.CloseBatch)
}

func (s *Server) CancelBatch(c *gin.Context) {
	s.finishBatch(c, s.disbursementSvc.CancelBatch)
}

func (s *Server) finishBatch(c *gin.Context, finish func(context.Context, disbursementdomain.BatchActionRequest) (disbursementdomain.Batch, error)) {
	batchID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req remarksRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := finish(c.Request.Context(), disbursementdomain.BatchActionRequest{
		BatchID: batchID,
		Remarks: strings.TrimSpace(req.Remarks),
		ActorID: actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListFinancialRecords(c *gin.Context) {
	batchID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.disbursementSvc.ListFinancialRecords(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
