package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
)

const defaultMovementLimit = 50

type createInventoryItemRequest struct {
	ItemCode         string          `json:"item_code"`
	Name             string          `json:"name" binding:"required"`
	Unit             string          `json:"unit" binding:"required"`
	UnitCost         decimal.Decimal `json:"unit_cost" binding:"gte=0"`
	IsSubsidizable   bool            `json:"is_subsidizable"`
	IsTrackableStock *bool           `json:"is_trackable_stock"`
}

func (s *Server) CreateInventoryItem(c *gin.Context) {
	var req createInventoryItemRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectInventory, authorization.ActionInventoryManage) {
		return
	}

	trackable := true
	if req.IsTrackableStock != nil {
		trackable = *req.IsTrackableStock
	}

	resp, err := s.inventorySvc.CreateItem(c.Request.Context(), inventorydomain.CreateItemRequest{
		ItemCode:         strings.TrimSpace(req.ItemCode),
		Name:             strings.TrimSpace(req.Name),
		Unit:             strings.TrimSpace(req.Unit),
		UnitCost:         req.UnitCost,
		IsSubsidizable:   req.IsSubsidizable,
		IsTrackableStock: trackable,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInventoryItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.inventorySvc.GetItem(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateInventoryItemRequest struct {
	ItemCode       *string `json:"item_code"`
	Name           *string `json:"name"`
	Unit           *string `json:"unit"`
	IsSubsidizable *bool   `json:"is_subsidizable"`
}

func (s *Server) UpdateInventoryItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateInventoryItemRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectInventory, authorization.ActionInventoryManage) {
		return
	}

	resp, err := s.inventorySvc.UpdateItem(c.Request.Context(), inventorydomain.UpdateItemRequest{
		ID:             id,
		ItemCode:       trimmedPtr(req.ItemCode),
		Name:           trimmedPtr(req.Name),
		Unit:           trimmedPtr(req.Unit),
		IsSubsidizable: req.IsSubsidizable,
		ActorID:        actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateInventoryCostRequest struct {
	UnitCost decimal.Decimal `json:"unit_cost" binding:"gte=0"`
}

func (s *Server) UpdateInventoryItemCost(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateInventoryCostRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.inventorySvc.UpdateItemCost(c.Request.Context(), inventorydomain.UpdateItemCostRequest{
		ID:       id,
		UnitCost: req.UnitCost,
		ActorID:  actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCurrentStock(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.inventorySvc.GetCurrentStock(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type addStockRequest struct {
	Quantity decimal.Decimal `json:"quantity" binding:"gt=0"`
	UnitCost decimal.Decimal `json:"unit_cost" binding:"gte=0"`
	Remarks  string          `json:"remarks"`
}

func (s *Server) AddStock(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addStockRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectInventory, authorization.ActionInventoryManage) {
		return
	}

	resp, err := s.inventorySvc.AddStock(c.Request.Context(), inventorydomain.AddStockRequest{
		InventoryID: id,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		Remarks:     strings.TrimSpace(req.Remarks),
		ActorID:     actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type recordMovementRequest struct {
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	MovementType  string          `json:"movement_type" binding:"required,oneof=stock_in stock_out adjustment transfer distribution"`
	UnitCost      decimal.Decimal `json:"unit_cost" binding:"gte=0"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   *snowflake.ID   `json:"reference_id"`
	Remarks       string          `json:"remarks"`
}

func (s *Server) RecordStockMovement(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req recordMovementRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectInventory, authorization.ActionInventoryManage) {
		return
	}

	var referenceID snowflake.ID
	if req.ReferenceID != nil {
		referenceID = *req.ReferenceID
	}

	resp, err := s.inventorySvc.RecordMovement(c.Request.Context(), inventorydomain.RecordMovementRequest{
		InventoryID:   id,
		Quantity:      req.Quantity,
		MovementType:  inventorydomain.MovementType(req.MovementType),
		UnitCost:      req.UnitCost,
		ReferenceType: strings.TrimSpace(req.ReferenceType),
		ReferenceID:   referenceID,
		Remarks:       strings.TrimSpace(req.Remarks),
		ActorID:       actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListStockMovements(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit := defaultMovementLimit
	parsed, err := parseOptionalInt(c.Query("limit"))
	if err != nil || (parsed != nil && *parsed <= 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	if parsed != nil {
		limit = *parsed
	}

	resp, err := s.inventorySvc.ListMovements(c.Request.Context(), id, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ReconcileStock reports drift between the movement ledger and the cached
// snapshot. It never writes.
func (s *Server) ReconcileStock(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	drift, err := s.inventorySvc.Reconcile(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"drift":      drift,
		"consistent": drift.Consistent(),
	}})
}

func (s *Server) ListSubsidizableItems(c *gin.Context) {
	resp, err := s.inventorySvc.ListSubsidizable(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
