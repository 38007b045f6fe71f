package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
)

type registerParcelRequest struct {
	FarmerID    snowflake.ID    `json:"farmer_id" binding:"required"`
	CommodityID snowflake.ID    `json:"commodity_id" binding:"required"`
	FarmArea    decimal.Decimal `json:"farm_area" binding:"gt=0"`
	FarmType    string          `json:"farm_type" binding:"required,oneof=irrigated rainfed_upland rainfed_lowland"`
	TenureType  string          `json:"tenure_type" binding:"required,oneof=registered_owner tenant lessee"`
}

func (s *Server) RegisterFarmParcel(c *gin.Context) {
	var req registerParcelRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, authorization.ObjectBeneficiary, authorization.ActionBeneficiaryEnroll) {
		return
	}

	resp, err := s.farmAgg.RegisterParcel(c.Request.Context(), farmdomain.RegisterParcelRequest{
		FarmerID:    req.FarmerID,
		CommodityID: req.CommodityID,
		FarmArea:    req.FarmArea,
		FarmType:    farmdomain.FarmType(req.FarmType),
		TenureType:  farmdomain.TenureType(req.TenureType),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) FarmSummary(c *gin.Context) {
	farmerID, err := parseRequiredSnowflakeID("farmer_id", c.Query("farmer_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	commodityID, err := parseRequiredSnowflakeID("commodity_id", c.Query("commodity_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.farmAgg.Summarize(c.Request.Context(), farmerID, commodityID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
