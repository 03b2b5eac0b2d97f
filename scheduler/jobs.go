package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"miraikakaku/models"
	"miraikakaku/services/cache"
	"miraikakaku/services/forecast"
	"miraikakaku/services/ingest"
	"miraikakaku/services/news"
	"miraikakaku/services/realtime"
	"miraikakaku/services/yahoo"
)

const (
	// Cap on intraday quote refresh; full history ingestion is uncapped.
	quoteRefreshSymbols = 50

	newsRefreshSymbols = 50
	newsPerSymbol      = 10

	priceRetentionYears      = 10
	predictionRetentionYears = 2
)

// Scheduler manages the recurring jobs
type Scheduler struct {
	cron      *gocron.Scheduler
	db        *gorm.DB
	client    *yahoo.Client
	ingest    *ingest.Service
	generator *forecast.Generator
	validator *forecast.Validator
	hub       *realtime.Hub
	cache     *cache.PerformanceCache
	news      *news.Service
	workers   int
}

// NewScheduler creates a scheduler around the shared services
func NewScheduler(
	db *gorm.DB,
	client *yahoo.Client,
	ingestSvc *ingest.Service,
	hub *realtime.Hub,
	perfCache *cache.PerformanceCache,
	newsSvc *news.Service,
	workers int,
) *Scheduler {
	return &Scheduler{
		cron:      gocron.NewScheduler(time.UTC),
		db:        db,
		client:    client,
		ingest:    ingestSvc,
		generator: forecast.NewGenerator(db),
		validator: forecast.NewValidator(db),
		hub:       hub,
		cache:     perfCache,
		news:      newsSvc,
		workers:   workers,
	}
}

// Start registers and starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Daily price ingestion after the US session close (21:00 UTC)
	s.cron.Every(1).Day().At("22:00").Do(func() {
		s.runIngestion()
	})

	// Forecasts once fresh closes are in
	s.cron.Every(1).Day().At("22:30").Do(func() {
		s.runForecasts()
	})

	// Validate matured predictions and refresh accuracy aggregates
	s.cron.Every(1).Day().At("23:00").Do(func() {
		s.runValidation()
	})

	// Refresh realtime quotes every 5 minutes during market hours
	s.cron.Every(5).Minutes().Do(func() {
		if isMarketOpen(time.Now().UTC()) {
			s.refreshQuotes()
		}
	})

	// Pull fresh headlines into the news store a few times a day
	s.cron.Every(6).Hours().Do(func() {
		s.refreshNews()
	})

	// Cleanup old data weekly on Sunday at 01:00
	s.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		s.cleanupOldData()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runIngestion ingests daily history for the whole active universe
func (s *Scheduler) runIngestion() {
	log.Println("Scheduled ingestion starting...")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	report, err := s.ingest.Run(ctx, ingest.Options{Workers: s.workers})
	if err != nil {
		log.Printf("Scheduled ingestion failed: %v", err)
		return
	}
	log.Printf("Scheduled ingestion done: %d symbols, %d rows, %d failed",
		report.Symbols, report.RowsUpserted, len(report.Failed))
}

// runForecasts generates forecast rows for all symbols with enough history
func (s *Scheduler) runForecasts() {
	log.Println("Scheduled forecast generation starting...")
	if _, err := s.generator.GenerateAll(0); err != nil {
		log.Printf("Scheduled forecast generation failed: %v", err)
	}
}

// runValidation scores matured predictions
func (s *Scheduler) runValidation() {
	log.Println("Scheduled validation starting...")
	if _, err := s.validator.Run(); err != nil {
		log.Printf("Scheduled validation failed: %v", err)
	}
}

// refreshQuotes polls realtime quotes, publishes them to websocket clients
// and warms the quote cache.
func (s *Scheduler) refreshQuotes() {
	quotes, err := s.ingest.RefreshQuotes(quoteRefreshSymbols)
	if err != nil {
		log.Printf("Quote refresh failed: %v", err)
		return
	}
	s.hub.PublishQuotes(quotes)

	// Warm the same cache entries the quote endpoint reads.
	for _, q := range quotes {
		key := "quote:" + q.Symbol
		if err := s.cache.Set(key, realtime.NewQuoteUpdate(q), time.Minute); err != nil {
			log.Printf("Quote cache set %s: %v", q.Symbol, err)
		}
	}
}

// refreshNews pulls headlines for active symbols into the news store. A
// no-op on deployments without Mongo.
func (s *Scheduler) refreshNews() {
	if !s.news.Enabled() {
		return
	}

	var stocks []models.Stock
	err := s.db.Where("is_active = ?", true).
		Order("symbol").
		Limit(newsRefreshSymbols).
		Find(&stocks).Error
	if err != nil {
		log.Printf("News refresh: load symbols: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	stored := 0
	for _, stock := range stocks {
		items, err := s.client.GetNews(ctx, stock.Symbol, newsPerSymbol)
		if err != nil {
			log.Printf("News refresh: %s: %v", stock.Symbol, err)
			continue
		}

		articles := make([]news.Article, 0, len(items))
		for _, item := range items {
			articles = append(articles, news.Article{
				Symbol:      stock.Symbol,
				Title:       item.Title,
				Source:      item.Publisher,
				URL:         item.URL,
				PublishedAt: item.PublishedAt,
			})
		}
		if err := s.news.UpsertArticles(ctx, articles); err != nil {
			log.Printf("News refresh: store %s: %v", stock.Symbol, err)
			continue
		}
		stored += len(articles)
	}
	log.Printf("News refresh: stored %d articles for %d symbols", stored, len(stocks))
}

// cleanupOldData prunes rows beyond retention
func (s *Scheduler) cleanupOldData() {
	log.Println("Cleaning up old data...")

	priceCutoff := time.Now().AddDate(-priceRetentionYears, 0, 0)
	if err := s.db.Where("date < ?", priceCutoff).Delete(&models.StockPrice{}).Error; err != nil {
		log.Printf("Error cleaning up old prices: %v", err)
	}

	predCutoff := time.Now().AddDate(-predictionRetentionYears, 0, 0)
	if err := s.db.Where("prediction_date < ?", predCutoff).Delete(&models.StockPrediction{}).Error; err != nil {
		log.Printf("Error cleaning up old predictions: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if n, err := s.news.PruneOld(ctx); err != nil {
		log.Printf("Error pruning old news: %v", err)
	} else if n > 0 {
		log.Printf("Pruned %d old news articles", n)
	}

	log.Println("Cleanup completed")
}

// isMarketOpen checks whether the US session is open (14:30-21:00 UTC,
// weekdays). Quotes for other regions still refresh in this window, which
// is acceptable for a polling cadence of minutes.
func isMarketOpen(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 14*60+30 && minutes < 21*60
}
