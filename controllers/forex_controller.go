package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"miraikakaku/apperrors"
	"miraikakaku/models"
)

// ForexController serves currency-pair rates from the ingested history.
// Pairs live in the symbol master with asset type "forex" and Yahoo's
// "PAIR=X" symbols.
type ForexController struct {
	db *gorm.DB
}

// NewForexController creates a new forex controller
func NewForexController(db *gorm.DB) *ForexController {
	return &ForexController{db: db}
}

// GetPairs lists the tracked currency pairs
// GET /api/v1/forex/pairs
func (fc *ForexController) GetPairs(c *gin.Context) {
	var pairs []models.Stock
	err := fc.db.Where("asset_type = ? AND is_active = ?", models.AssetTypeForex, true).
		Order("symbol").
		Find(&pairs).Error
	if err != nil {
		respondError(c, apperrors.Database("fetch forex pairs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pairs})
}

// GetRate returns the latest stored rate for a pair
// GET /api/v1/forex/:pair/rate
func (fc *ForexController) GetRate(c *gin.Context) {
	pair, err := fc.findPair(c.Param("pair"))
	if err != nil {
		respondError(c, err)
		return
	}

	var latest models.StockPrice
	dbErr := fc.db.Where("stock_id = ?", pair.ID).Order("date DESC").First(&latest).Error
	if dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			respondError(c, apperrors.NotFound("no rate data for pair"))
			return
		}
		respondError(c, apperrors.Database("fetch rate", dbErr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pair": pair.Symbol,
		"data": latest,
	})
}

// GetRateHistory returns rate history for a pair
// GET /api/v1/forex/:pair/history?start_date=&end_date=
func (fc *ForexController) GetRateHistory(c *gin.Context) {
	pair, err := fc.findPair(c.Param("pair"))
	if err != nil {
		respondError(c, err)
		return
	}

	start, end, err := apperrors.ValidateDateRange(c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		respondError(c, err)
		return
	}

	var rates []models.StockPrice
	dbErr := fc.db.Where("stock_id = ? AND date BETWEEN ? AND ?", pair.ID, start, end).
		Order("date DESC").
		Find(&rates).Error
	if dbErr != nil {
		respondError(c, apperrors.Database("fetch rate history", dbErr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pair": pair.Symbol,
		"data": rates,
	})
}

// findPair resolves "USDJPY" or "USDJPY=X" to the stored forex symbol
func (fc *ForexController) findPair(raw string) (*models.Stock, error) {
	symbol, err := apperrors.ValidateSymbol(raw)
	if err != nil {
		return nil, err
	}
	// Accept the bare pair name without Yahoo's =X suffix.
	if len(symbol) == 6 {
		symbol += "=X"
	}

	var pair models.Stock
	dbErr := fc.db.Where("symbol = ? AND asset_type = ?", symbol, models.AssetTypeForex).
		First(&pair).Error
	if dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("forex pair not found")
		}
		return nil, apperrors.Database("fetch forex pair", dbErr)
	}
	return &pair, nil
}
