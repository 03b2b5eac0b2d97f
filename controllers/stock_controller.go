package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"miraikakaku/apperrors"
	"miraikakaku/models"
	"miraikakaku/services/cache"
	"miraikakaku/services/news"
	"miraikakaku/services/realtime"
	"miraikakaku/services/yahoo"
)

const quoteCacheTTL = time.Minute

// StockController handles stock-related requests
type StockController struct {
	db     *gorm.DB
	client *yahoo.Client
	cache  *cache.PerformanceCache
	news   *news.Service
}

// NewStockController creates a new stock controller
func NewStockController(db *gorm.DB, client *yahoo.Client, perfCache *cache.PerformanceCache, newsSvc *news.Service) *StockController {
	return &StockController{db: db, client: client, cache: perfCache, news: newsSvc}
}

// GetStocks returns the symbol master with filters and pagination
// GET /api/v1/stocks
func (sc *StockController) GetStocks(c *gin.Context) {
	exchange := c.Query("exchange")
	assetType := c.Query("asset_type")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := sc.db.Model(&models.Stock{}).Where("is_active = ?", true)
	if exchange != "" {
		query = query.Where("exchange = ?", exchange)
	}
	if assetType != "" {
		query = query.Where("asset_type = ?", assetType)
	}

	var total int64
	query.Count(&total)

	var stocks []models.Stock
	if err := query.Order("symbol").Limit(limit).Offset(offset).Find(&stocks).Error; err != nil {
		respondError(c, apperrors.Database("fetch stocks", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stocks,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// SearchStocks searches the symbol master by symbol or name
// GET /api/v1/stocks/search?q=...
func (sc *StockController) SearchStocks(c *gin.Context) {
	q := c.Query("q")
	if len(q) < 1 {
		respondError(c, apperrors.Validation("query parameter q is required"))
		return
	}
	if len(q) > 50 {
		respondError(c, apperrors.Validation("query too long"))
		return
	}

	pattern := "%" + q + "%"
	var stocks []models.Stock
	err := sc.db.Where("is_active = ?", true).
		Where("symbol ILIKE ? OR name ILIKE ?", pattern, pattern).
		Order("symbol").
		Limit(25).
		Find(&stocks).Error
	if err != nil {
		respondError(c, apperrors.Database("search stocks", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stocks})
}

// GetStock returns a single stock by numeric ID or symbol
// GET /api/v1/stocks/:id
func (sc *StockController) GetStock(c *gin.Context) {
	id := c.Param("id")

	var stock models.Stock
	var err error
	if _, convErr := strconv.Atoi(id); convErr == nil {
		err = sc.db.Where("id = ?", id).First(&stock).Error
	} else {
		symbol, vErr := apperrors.ValidateSymbol(id)
		if vErr != nil {
			respondError(c, vErr)
			return
		}
		err = sc.db.Where("symbol = ?", symbol).First(&stock).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, apperrors.NotFound("stock not found"))
			return
		}
		respondError(c, apperrors.Database("fetch stock", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stock})
}

// GetStockPrices returns OHLCV history for a symbol
// GET /api/v1/stocks/:id/prices?start_date=&end_date=
func (sc *StockController) GetStockPrices(c *gin.Context) {
	stock, err := sc.resolveStock(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	start, end, err := apperrors.ValidateDateRange(c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		respondError(c, err)
		return
	}

	var prices []models.StockPrice
	dbErr := sc.db.Where("stock_id = ? AND date BETWEEN ? AND ?", stock.ID, start, end).
		Order("date DESC").
		Find(&prices).Error
	if dbErr != nil {
		respondError(c, apperrors.Database("fetch prices", dbErr))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  prices,
		"stock": stock,
	})
}

// GetRealtimeQuote returns a realtime quote, cache first
// GET /api/v1/stocks/:id/quote
func (sc *StockController) GetRealtimeQuote(c *gin.Context) {
	stock, err := sc.resolveStock(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	cacheKey := "quote:" + stock.Symbol
	var cached realtime.QuoteUpdate
	if sc.cache.Get(cacheKey, &cached) {
		c.JSON(http.StatusOK, gin.H{"data": cached, "cached": true})
		return
	}

	q, fetchErr := sc.client.GetQuote(stock.Symbol)
	if fetchErr != nil {
		// Upstream down: serve the latest stored close instead of failing.
		var latest models.StockPrice
		if dbErr := sc.db.Where("stock_id = ?", stock.ID).Order("date DESC").First(&latest).Error; dbErr == nil {
			c.JSON(http.StatusOK, gin.H{"data": latest, "stale": true})
			return
		}
		respondError(c, fetchErr)
		return
	}

	update := realtime.NewQuoteUpdate(q)
	if err := sc.cache.Set(cacheKey, update, quoteCacheTTL); err != nil {
		// Serving the fresh quote matters more than caching it.
		log.Printf("quote cache set %s: %v", stock.Symbol, err)
	}
	c.JSON(http.StatusOK, gin.H{"data": update, "cached": false})
}

// GetNews returns recent news articles for a symbol
// GET /api/v1/stocks/:id/news
func (sc *StockController) GetNews(c *gin.Context) {
	stock, err := sc.resolveStock(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	symbol := stock.Symbol
	if !sc.news.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "news storage is not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	articles, err := sc.news.LatestForSymbol(c.Request.Context(), symbol, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": articles})
}

// rankingRow joins a stock with its latest session stats
type rankingRow struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Exchange      string  `json:"exchange"`
	Close         float64 `json:"close"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
}

// GetTopGainers returns the biggest risers of the latest session
// GET /api/v1/market/top-gainers
func (sc *StockController) GetTopGainers(c *gin.Context) {
	sc.ranking(c, "sp.change_percent DESC")
}

// GetTopLosers returns the biggest fallers of the latest session
// GET /api/v1/market/top-losers
func (sc *StockController) GetTopLosers(c *gin.Context) {
	sc.ranking(c, "sp.change_percent ASC")
}

// GetMostActive returns the highest-volume symbols of the latest session
// GET /api/v1/market/most-active
func (sc *StockController) GetMostActive(c *gin.Context) {
	sc.ranking(c, "sp.volume DESC")
}

func (sc *StockController) ranking(c *gin.Context, order string) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	var rows []rankingRow
	err := sc.db.Raw(`
		SELECT sm.symbol, sm.name, sm.exchange,
		       sp.close, sp.change_percent, sp.volume
		FROM stock_prices sp
		JOIN stock_master sm ON sm.id = sp.stock_id
		WHERE sm.is_active = TRUE
		  AND sm.asset_type IN ('equity', 'etf')
		  AND sp.date = (SELECT MAX(date) FROM stock_prices WHERE stock_id = sp.stock_id)
		ORDER BY `+order+`
		LIMIT ?`, limit).Scan(&rows).Error
	if err != nil {
		respondError(c, apperrors.Database("build ranking", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// resolveStock loads a stock by symbol, falling back to numeric ID
func (sc *StockController) resolveStock(raw string) (*models.Stock, error) {
	symbol, err := apperrors.ValidateSymbol(raw)
	if err != nil {
		return nil, err
	}

	var stock models.Stock
	dbErr := sc.db.Where("symbol = ?", symbol).First(&stock).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		if id, convErr := strconv.Atoi(raw); convErr == nil {
			dbErr = sc.db.Where("id = ?", id).First(&stock).Error
		}
	}
	if dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("stock not found")
		}
		return nil, apperrors.Database("fetch stock", dbErr)
	}
	return &stock, nil
}
