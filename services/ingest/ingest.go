// Package ingest is the one ETL job: load the symbol universe, fetch daily
// history from Yahoo Finance over a bounded worker pool, and upsert price
// rows. Per-symbol failures never abort a run; they are collected into the
// run report so degraded runs are visible instead of silent.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"miraikakaku/apperrors"
	"miraikakaku/models"
	"miraikakaku/services/yahoo"
)

const defaultLookbackDays = 120

// Options controls a single ingestion run
type Options struct {
	MaxSymbols   int
	Workers      int
	LookbackDays int
}

// Report summarizes a run. Failed maps symbol to the error message that
// stopped it.
type Report struct {
	Symbols      int               `json:"symbols"`
	RowsUpserted int               `json:"rows_upserted"`
	Failed       map[string]string `json:"failed,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	Elapsed      time.Duration     `json:"elapsed"`
}

// Service runs price ingestion
type Service struct {
	db     *gorm.DB
	client *yahoo.Client

	mu         sync.RWMutex
	lastReport *Report
}

// NewService creates an ingest service sharing one Yahoo client
func NewService(db *gorm.DB, client *yahoo.Client) *Service {
	return &Service{db: db, client: client}
}

// LastReport returns the report of the most recent run, or nil
func (s *Service) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// Run ingests daily history for all active symbols
func (s *Service) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultLookbackDays
	}

	report := &Report{
		StartedAt: time.Now(),
		Failed:    make(map[string]string),
	}

	query := s.db.Where("is_active = ?", true).Order("symbol")
	if opts.MaxSymbols > 0 {
		query = query.Limit(opts.MaxSymbols)
	}
	var stocks []models.Stock
	if err := query.Find(&stocks).Error; err != nil {
		return nil, apperrors.Database("load symbol universe", err)
	}
	report.Symbols = len(stocks)

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -opts.LookbackDays)

	// Bounded fan-out: a fixed worker pool drains the symbol channel.
	jobs := make(chan models.Stock)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stock := range jobs {
				n, err := s.ingestSymbol(ctx, &stock, start, end)
				mu.Lock()
				if err != nil {
					report.Failed[stock.Symbol] = err.Error()
				}
				report.RowsUpserted += n
				mu.Unlock()
			}
		}()
	}

	for _, stock := range stocks {
		select {
		case jobs <- stock:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return report, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	report.Elapsed = time.Since(report.StartedAt)
	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	log.Printf("ingest: %d symbols, %d rows upserted, %d failed in %v",
		report.Symbols, report.RowsUpserted, len(report.Failed), report.Elapsed)
	for symbol, msg := range report.Failed {
		log.Printf("ingest: failed %s: %s", symbol, msg)
	}
	return report, nil
}

// ingestSymbol fetches history for one symbol and upserts the rows
func (s *Service) ingestSymbol(ctx context.Context, stock *models.Stock, start, end time.Time) (int, error) {
	bars, err := s.client.GetDailyHistory(ctx, stock.Symbol, start, end)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}
	return s.UpsertBars(stock.ID, bars)
}

// UpsertBars writes daily bars for a stock, keyed on (stock_id, date), so
// re-running a window is idempotent. Bars with a non-positive close are
// rejected.
func (s *Service) UpsertBars(stockID uint, bars []yahoo.Bar) (int, error) {
	rows := buildPriceRows(stockID, bars)
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stock_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "adj_close", "volume",
			"change", "change_percent", "data_source",
		}),
	}).CreateInBatches(&rows, 200).Error
	if err != nil {
		return 0, apperrors.Database("upsert price rows", err)
	}
	return len(rows), nil
}

// buildPriceRows converts fetched bars into price rows, dropping bars with
// a non-positive close and deriving change columns from the previous bar.
func buildPriceRows(stockID uint, bars []yahoo.Bar) []models.StockPrice {
	rows := make([]models.StockPrice, 0, len(bars))
	var prevClose decimal.Decimal

	for _, bar := range bars {
		if !bar.Close.IsPositive() {
			continue
		}
		row := models.StockPrice{
			StockID:    stockID,
			Date:       bar.Date,
			Open:       bar.Open,
			High:       bar.High,
			Low:        bar.Low,
			Close:      bar.Close,
			AdjClose:   bar.AdjClose,
			Volume:     bar.Volume,
			DataSource: models.DataSourceYahoo,
		}
		if prevClose.IsPositive() {
			row.Change = bar.Close.Sub(prevClose)
			row.ChangePercent = row.Change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(4)
		}
		prevClose = bar.Close
		rows = append(rows, row)
	}
	return rows
}

// RefreshQuotes fetches realtime quotes for active symbols and returns them,
// for the realtime hub and the quote cache. Errors are per-symbol.
func (s *Service) RefreshQuotes(maxSymbols int) ([]*yahoo.Quote, error) {
	query := s.db.Where("is_active = ?", true).Order("symbol")
	if maxSymbols > 0 {
		query = query.Limit(maxSymbols)
	}
	var stocks []models.Stock
	if err := query.Find(&stocks).Error; err != nil {
		return nil, apperrors.Database("load symbols for quote refresh", err)
	}

	quotes := make([]*yahoo.Quote, 0, len(stocks))
	for _, stock := range stocks {
		q, err := s.client.GetQuote(stock.Symbol)
		if err != nil {
			log.Printf("ingest: quote %s: %v", stock.Symbol, err)
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// SeedSymbols loads the default symbol universe if a symbol is missing.
// The list covers the equities, forex pairs and crypto the API serves out
// of the box; admins extend it through the admin API.
func (s *Service) SeedSymbols() error {
	stocks := []models.Stock{
		{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ", AssetType: models.AssetTypeEquity, Sector: "Technology", Currency: "USD"},
		{Symbol: "MSFT", Name: "Microsoft Corporation", Exchange: "NASDAQ", AssetType: models.AssetTypeEquity, Sector: "Technology", Currency: "USD"},
		{Symbol: "GOOGL", Name: "Alphabet Inc.", Exchange: "NASDAQ", AssetType: models.AssetTypeEquity, Sector: "Technology", Currency: "USD"},
		{Symbol: "AMZN", Name: "Amazon.com Inc.", Exchange: "NASDAQ", AssetType: models.AssetTypeEquity, Sector: "Consumer Cyclical", Currency: "USD"},
		{Symbol: "NVDA", Name: "NVIDIA Corporation", Exchange: "NASDAQ", AssetType: models.AssetTypeEquity, Sector: "Technology", Currency: "USD"},
		{Symbol: "META", Name: "Meta Platforms Inc.", Exchange: "NASDAQ", AssetType: models.AssetTypeEquity, Sector: "Technology", Currency: "USD"},
		{Symbol: "TSLA", Name: "Tesla Inc.", Exchange: "NASDAQ", AssetType: models.AssetTypeEquity, Sector: "Consumer Cyclical", Currency: "USD"},
		{Symbol: "SPY", Name: "SPDR S&P 500 ETF Trust", Exchange: "NYSE", AssetType: models.AssetTypeETF, Currency: "USD"},
		{Symbol: "QQQ", Name: "Invesco QQQ Trust", Exchange: "NASDAQ", AssetType: models.AssetTypeETF, Currency: "USD"},
		{Symbol: "7203.T", Name: "Toyota Motor Corporation", Exchange: "TSE", AssetType: models.AssetTypeEquity, Sector: "Consumer Cyclical", Currency: "JPY"},
		{Symbol: "6758.T", Name: "Sony Group Corporation", Exchange: "TSE", AssetType: models.AssetTypeEquity, Sector: "Technology", Currency: "JPY"},
		{Symbol: "9984.T", Name: "SoftBank Group Corp.", Exchange: "TSE", AssetType: models.AssetTypeEquity, Sector: "Communication Services", Currency: "JPY"},
		{Symbol: "8306.T", Name: "Mitsubishi UFJ Financial Group", Exchange: "TSE", AssetType: models.AssetTypeEquity, Sector: "Financial Services", Currency: "JPY"},
		{Symbol: "USDJPY=X", Name: "USD/JPY", Exchange: "FX", AssetType: models.AssetTypeForex, Currency: "JPY"},
		{Symbol: "EURUSD=X", Name: "EUR/USD", Exchange: "FX", AssetType: models.AssetTypeForex, Currency: "USD"},
		{Symbol: "GBPUSD=X", Name: "GBP/USD", Exchange: "FX", AssetType: models.AssetTypeForex, Currency: "USD"},
		{Symbol: "BTC-USD", Name: "Bitcoin USD", Exchange: "CCC", AssetType: models.AssetTypeCrypto, Currency: "USD"},
		{Symbol: "ETH-USD", Name: "Ethereum USD", Exchange: "CCC", AssetType: models.AssetTypeCrypto, Currency: "USD"},
	}

	for _, stock := range stocks {
		stock.IsActive = true
		var existing models.Stock
		err := s.db.Where("symbol = ?", stock.Symbol).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Database("check existing symbol", err)
		}
		if err := s.db.Create(&stock).Error; err != nil {
			return apperrors.Database(fmt.Sprintf("seed symbol %s", stock.Symbol), err)
		}
	}
	return nil
}
