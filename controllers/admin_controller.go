package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"miraikakaku/apperrors"
	"miraikakaku/middleware"
	"miraikakaku/models"
	"miraikakaku/services/cache"
	"miraikakaku/services/forecast"
	"miraikakaku/services/ingest"
	"miraikakaku/services/news"
	"miraikakaku/services/realtime"
)

// AdminController exposes the operational API: login, manual job triggers,
// symbol management and service status.
type AdminController struct {
	db        *gorm.DB
	jwtSecret string
	limiter   *middleware.RateLimiter

	ingest    *ingest.Service
	generator *forecast.Generator
	validator *forecast.Validator
	cache     *cache.PerformanceCache
	hub       *realtime.Hub
	news      *news.Service

	// One manual job at a time; scheduled runs are independent.
	jobRunning atomic.Bool
}

// NewAdminController creates the admin controller
func NewAdminController(
	db *gorm.DB,
	jwtSecret string,
	limiter *middleware.RateLimiter,
	ingestSvc *ingest.Service,
	generator *forecast.Generator,
	validator *forecast.Validator,
	perfCache *cache.PerformanceCache,
	hub *realtime.Hub,
	newsSvc *news.Service,
) *AdminController {
	return &AdminController{
		db:        db,
		jwtSecret: jwtSecret,
		limiter:   limiter,
		ingest:    ingestSvc,
		generator: generator,
		validator: validator,
		cache:     perfCache,
		hub:       hub,
		news:      newsSvc,
	}
}

// Login authenticates an admin and hands out a JWT
// POST /api/v1/admin/login
func (ac *AdminController) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("username and password are required"))
		return
	}

	ip := c.ClientIP()

	var admin models.AdminUser
	err := ac.db.Where("username = ? AND is_active = ?", req.Username, true).First(&admin).Error
	if err != nil || !admin.CheckPassword(req.Password) {
		ac.limiter.RecordAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	ac.limiter.RecordAttempt(ip, true)

	token, err := middleware.IssueAdminToken(ac.jwtSecret, admin.Username, admin.Role)
	if err != nil {
		respondError(c, apperrors.Database("issue token", err))
		return
	}

	now := time.Now()
	ac.db.Model(&admin).Update("last_login_at", now)

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"username": admin.Username,
			"role":     admin.Role,
		},
	})
}

// TriggerIngest starts a manual price ingestion run
// POST /api/v1/admin/ingest/run
func (ac *AdminController) TriggerIngest(c *gin.Context) {
	var req struct {
		MaxSymbols   int `json:"max_symbols"`
		LookbackDays int `json:"lookback_days"`
	}
	// Body is optional.
	_ = c.ShouldBindJSON(&req)

	ac.runJob(c, "ingest", func() error {
		_, err := ac.ingest.Run(context.Background(), ingest.Options{
			MaxSymbols:   req.MaxSymbols,
			LookbackDays: req.LookbackDays,
		})
		return err
	})
}

// TriggerForecast starts a manual forecast generation run
// POST /api/v1/admin/forecast/run
func (ac *AdminController) TriggerForecast(c *gin.Context) {
	var req struct {
		MaxSymbols int `json:"max_symbols"`
	}
	_ = c.ShouldBindJSON(&req)

	ac.runJob(c, "forecast", func() error {
		_, err := ac.generator.GenerateAll(req.MaxSymbols)
		return err
	})
}

// TriggerValidation starts a manual validation run
// POST /api/v1/admin/validate/run
func (ac *AdminController) TriggerValidation(c *gin.Context) {
	ac.runJob(c, "validate", func() error {
		_, err := ac.validator.Run()
		return err
	})
}

// runJob launches fn in the background if no manual job is active
func (ac *AdminController) runJob(c *gin.Context, name string, fn func() error) {
	if !ac.jobRunning.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "another job is already running"})
		return
	}

	go func() {
		defer ac.jobRunning.Store(false)
		if err := fn(); err != nil {
			log.Printf("admin: %s run failed: %v", name, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "job": name})
}

// AddSymbol registers a new symbol in the master
// POST /api/v1/admin/symbols
func (ac *AdminController) AddSymbol(c *gin.Context) {
	var req struct {
		Symbol    string `json:"symbol" binding:"required"`
		Name      string `json:"name"`
		Exchange  string `json:"exchange"`
		AssetType string `json:"asset_type"`
		Sector    string `json:"sector"`
		Currency  string `json:"currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("symbol is required"))
		return
	}

	symbol, err := apperrors.ValidateSymbol(req.Symbol)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.AssetType == "" {
		req.AssetType = models.AssetTypeEquity
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	stock := models.Stock{
		Symbol:    symbol,
		Name:      req.Name,
		Exchange:  req.Exchange,
		AssetType: req.AssetType,
		Sector:    req.Sector,
		Currency:  req.Currency,
		IsActive:  true,
	}
	if dbErr := ac.db.Create(&stock).Error; dbErr != nil {
		if errors.Is(dbErr, gorm.ErrDuplicatedKey) {
			respondError(c, apperrors.Validation("symbol already exists"))
			return
		}
		respondError(c, apperrors.Database("create symbol", dbErr))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": stock})
}

// DeactivateSymbol disables a symbol without deleting its history
// DELETE /api/v1/admin/symbols/:symbol
func (ac *AdminController) DeactivateSymbol(c *gin.Context) {
	symbol, err := apperrors.ValidateSymbol(c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}

	result := ac.db.Model(&models.Stock{}).Where("symbol = ?", symbol).Update("is_active", false)
	if result.Error != nil {
		respondError(c, apperrors.Database("deactivate symbol", result.Error))
		return
	}
	if result.RowsAffected == 0 {
		respondError(c, apperrors.NotFound("stock not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated", "symbol": symbol})
}

// Status reports operational state for dashboards
// GET /api/v1/admin/status
func (ac *AdminController) Status(c *gin.Context) {
	var symbolCount, priceCount, predictionCount int64
	ac.db.Model(&models.Stock{}).Where("is_active = ?", true).Count(&symbolCount)
	ac.db.Model(&models.StockPrice{}).Count(&priceCount)
	ac.db.Model(&models.StockPrediction{}).Count(&predictionCount)

	c.JSON(http.StatusOK, gin.H{
		"symbols":           symbolCount,
		"price_rows":        priceCount,
		"prediction_rows":   predictionCount,
		"job_running":       ac.jobRunning.Load(),
		"last_ingest":       ac.ingest.LastReport(),
		"cache":             ac.cache.Stats(),
		"websocket_clients": ac.hub.ClientCount(),
		"news":              ac.news.Status(),
	})
}
