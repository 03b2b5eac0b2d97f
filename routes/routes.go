package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"miraikakaku/config"
	"miraikakaku/controllers"
	"miraikakaku/middleware"
	"miraikakaku/services/cache"
	"miraikakaku/services/forecast"
	"miraikakaku/services/ingest"
	"miraikakaku/services/news"
	"miraikakaku/services/realtime"
	"miraikakaku/services/yahoo"
)

// Services bundles the shared service instances the routes depend on
type Services struct {
	Yahoo  *yahoo.Client
	Cache  *cache.PerformanceCache
	Hub    *realtime.Hub
	News   *news.Service
	Ingest *ingest.Service
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, svc *Services) {
	stockController := controllers.NewStockController(db, svc.Yahoo, svc.Cache, svc.News)
	predictionController := controllers.NewPredictionController(db)
	forexController := controllers.NewForexController(db)

	loginLimiter := middleware.NewLoginRateLimiter()
	adminController := controllers.NewAdminController(
		db,
		config.AppConfig.JWTSecret,
		loginLimiter,
		svc.Ingest,
		forecast.NewGenerator(db),
		forecast.NewValidator(db),
		svc.Cache,
		svc.Hub,
		svc.News,
	)

	api := router.Group("/api/v1")
	{
		stocks := api.Group("/stocks")
		{
			stocks.GET("", stockController.GetStocks)
			stocks.GET("/search", stockController.SearchStocks)
			stocks.GET("/:id", stockController.GetStock)
			stocks.GET("/:id/prices", stockController.GetStockPrices)
			stocks.GET("/:id/quote", stockController.GetRealtimeQuote)
			stocks.GET("/:id/news", stockController.GetNews)
		}

		predictions := api.Group("/predictions")
		{
			predictions.GET("/:symbol", predictionController.GetPredictions)
			predictions.GET("/:symbol/latest", predictionController.GetLatestPredictions)
			predictions.GET("/:symbol/accuracy", predictionController.GetAccuracy)
		}

		forex := api.Group("/forex")
		{
			forex.GET("/pairs", forexController.GetPairs)
			forex.GET("/:pair/rate", forexController.GetRate)
			forex.GET("/:pair/history", forexController.GetRateHistory)
		}

		market := api.Group("/market")
		{
			market.GET("/top-gainers", stockController.GetTopGainers)
			market.GET("/top-losers", stockController.GetTopLosers)
			market.GET("/most-active", stockController.GetMostActive)
		}

		// Websocket price streaming
		api.GET("/stream", func(c *gin.Context) {
			svc.Hub.HandleWebSocket(c.Writer, c.Request)
		})

		admin := api.Group("/admin")
		{
			admin.POST("/login",
				middleware.LoginRateLimitMiddleware(loginLimiter),
				adminController.Login)

			protected := admin.Group("")
			protected.Use(middleware.JWTAuthMiddleware(config.AppConfig.JWTSecret))
			{
				protected.POST("/ingest/run", adminController.TriggerIngest)
				protected.POST("/forecast/run", adminController.TriggerForecast)
				protected.POST("/validate/run", adminController.TriggerValidation)
				protected.POST("/symbols", adminController.AddSymbol)
				protected.DELETE("/symbols/:symbol", adminController.DeactivateSymbol)
				protected.GET("/status", adminController.Status)
			}
		}
	}
}
