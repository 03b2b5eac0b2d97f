package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"miraikakaku/apperrors"
	"miraikakaku/models"
)

// PredictionController handles forecast-related requests
type PredictionController struct {
	db *gorm.DB
}

// NewPredictionController creates a new prediction controller
func NewPredictionController(db *gorm.DB) *PredictionController {
	return &PredictionController{db: db}
}

// GetPredictions returns forecast rows for a symbol
// GET /api/v1/predictions/:symbol?horizon=&model=&include_outliers=
func (pc *PredictionController) GetPredictions(c *gin.Context) {
	stock, err := pc.findStock(c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	query := pc.db.Where("stock_id = ?", stock.ID)
	if h := c.Query("horizon"); h != "" {
		horizon, convErr := strconv.Atoi(h)
		if convErr != nil || horizon < 1 {
			respondError(c, apperrors.Validation("horizon must be a positive integer"))
			return
		}
		query = query.Where("horizon_days = ?", horizon)
	}
	if m := c.Query("model"); m != "" {
		query = query.Where("model_name = ?", m)
	}
	if c.DefaultQuery("include_outliers", "false") != "true" {
		query = query.Where("is_outlier = ?", false)
	}

	var predictions []models.StockPrediction
	if dbErr := query.Order("prediction_date DESC, horizon_days").Limit(limit).Find(&predictions).Error; dbErr != nil {
		respondError(c, apperrors.Database("fetch predictions", dbErr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  predictions,
		"stock": stock,
	})
}

// GetLatestPredictions returns the most recent forecast per horizon
// GET /api/v1/predictions/:symbol/latest
func (pc *PredictionController) GetLatestPredictions(c *gin.Context) {
	stock, err := pc.findStock(c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}

	var predictions []models.StockPrediction
	dbErr := pc.db.Raw(`
		SELECT DISTINCT ON (horizon_days) *
		FROM stock_predictions
		WHERE stock_id = ? AND is_outlier = FALSE
		ORDER BY horizon_days, prediction_date DESC`, stock.ID).
		Scan(&predictions).Error
	if dbErr != nil {
		respondError(c, apperrors.Database("fetch latest predictions", dbErr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  predictions,
		"stock": stock,
	})
}

// GetAccuracy returns accuracy aggregates for a symbol
// GET /api/v1/predictions/:symbol/accuracy
func (pc *PredictionController) GetAccuracy(c *gin.Context) {
	stock, err := pc.findStock(c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}

	var rows []models.PredictionAccuracy
	dbErr := pc.db.Where("stock_id = ?", stock.ID).
		Order("model_name, horizon_days").
		Find(&rows).Error
	if dbErr != nil {
		respondError(c, apperrors.Database("fetch accuracy", dbErr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  rows,
		"stock": stock,
	})
}

func (pc *PredictionController) findStock(raw string) (*models.Stock, error) {
	symbol, err := apperrors.ValidateSymbol(raw)
	if err != nil {
		return nil, err
	}
	var stock models.Stock
	dbErr := pc.db.Where("symbol = ?", symbol).First(&stock).Error
	if dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("stock not found")
		}
		return nil, apperrors.Database("fetch stock", dbErr)
	}
	return &stock, nil
}
