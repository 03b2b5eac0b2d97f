package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"miraikakaku/config"
	"miraikakaku/models"
	"miraikakaku/routes"
	"miraikakaku/scheduler"
	"miraikakaku/services/cache"
	"miraikakaku/services/forecast"
	"miraikakaku/services/ingest"
	"miraikakaku/services/news"
	"miraikakaku/services/realtime"
	"miraikakaku/services/yahoo"
)

// Background init publishes the shared services here; the /ready endpoint
// and shutdown read them under the same lock.
var (
	dbInitMutex   sync.RWMutex
	dbInitialized bool
	jobScheduler  *scheduler.Scheduler
	services      *routes.Services
)

func main() {
	log.Println("==============================================")
	log.Println("  Miraikakaku Backend - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.BatchMode != "" {
		runBatch(cfg)
		return
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Health endpoints come up first so the platform can probe the service
	// while the database initializes in the background.
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database, services and routes in background
	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		if err := models.SeedAdminUser(db, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			log.Printf("Warning: Could not seed admin user: %v", err)
		}

		svc, err := buildServices(cfg, db)
		if err != nil {
			log.Printf("ERROR: Service init failed: %v", err)
			return
		}

		routes.SetupRoutes(router, db, svc)

		sched := scheduler.NewScheduler(db, svc.Yahoo, svc.Ingest, svc.Hub, svc.Cache, svc.News, cfg.FetchWorkers)
		sched.Start()

		dbInitMutex.Lock()
		dbInitialized = true
		services = svc
		jobScheduler = sched
		dbInitMutex.Unlock()

		log.Println("Application fully initialized with database")
	}()

	gracefulShutdown(server)
}

// buildServices wires the shared service instances
func buildServices(cfg *config.Config, db *gorm.DB) (*routes.Services, error) {
	perfCache, err := cache.New(cfg.CacheDir, 0)
	if err != nil {
		return nil, err
	}

	client := yahoo.NewClient()
	hub := realtime.NewHub()
	newsSvc := news.NewService(cfg.MongoURI)

	return &routes.Services{
		Yahoo:  client,
		Cache:  perfCache,
		Hub:    hub,
		News:   newsSvc,
		Ingest: ingest.NewService(db, client),
	}, nil
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateStockModels(db); err != nil {
		return err
	}
	if err := models.MigratePredictionModels(db); err != nil {
		return err
	}
	if err := models.MigrateAdminModels(db); err != nil {
		return err
	}
	return nil
}

// runBatch executes one batch job and exits; this replaces the standalone
// ingestion scripts. BATCH_MODE selects the job, MAX_SYMBOLS caps the
// universe.
func runBatch(cfg *config.Config) {
	log.Printf("Batch mode: %s", cfg.BatchMode)

	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("Batch: database connection failed: %v", err)
	}
	if err := runMigrations(); err != nil {
		log.Fatalf("Batch: migration failed: %v", err)
	}

	client := yahoo.NewClient()
	ingestSvc := ingest.NewService(db, client)
	generator := forecast.NewGenerator(db)
	validator := forecast.NewValidator(db)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ingestOpts := ingest.Options{
		MaxSymbols: cfg.MaxSymbols,
		Workers:    cfg.FetchWorkers,
	}

	var batchErr error
	switch cfg.BatchMode {
	case "seed":
		batchErr = ingestSvc.SeedSymbols()
	case "prices":
		_, batchErr = ingestSvc.Run(ctx, ingestOpts)
	case "forecasts":
		_, batchErr = generator.GenerateAll(cfg.MaxSymbols)
	case "validate":
		_, batchErr = validator.Run()
	case "full":
		if batchErr = ingestSvc.SeedSymbols(); batchErr == nil {
			if _, batchErr = ingestSvc.Run(ctx, ingestOpts); batchErr == nil {
				if _, batchErr = generator.GenerateAll(cfg.MaxSymbols); batchErr == nil {
					_, batchErr = validator.Run()
				}
			}
		}
	default:
		log.Fatalf("Batch: unknown BATCH_MODE %q (want seed|prices|forecasts|validate|full)", cfg.BatchMode)
	}

	if batchErr != nil {
		log.Fatalf("Batch %s failed: %v", cfg.BatchMode, batchErr)
	}
	log.Printf("Batch %s completed", cfg.BatchMode)
}

// setupHealthEndpoints sets up liveness/readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Miraikakaku Backend API",
			"version": "1.0.0",
		})
	})

	// Liveness probe
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness probe
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := config.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server and services
func gracefulShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	dbInitMutex.RLock()
	sched := jobScheduler
	svc := services
	dbInitMutex.RUnlock()

	if sched != nil {
		sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if svc != nil {
		svc.Hub.Shutdown()
		if err := svc.Cache.Close(); err != nil {
			log.Printf("Cache close: %v", err)
		}
		if err := svc.News.Close(); err != nil {
			log.Printf("News close: %v", err)
		}
	}

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
