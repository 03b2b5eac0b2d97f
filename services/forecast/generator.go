// Package forecast generates heuristic price forecasts and scores them
// against realized prices. Forecasts are deterministic functions of recent
// history: an EMA anchor drifted by momentum and bounded by realized
// volatility. No synthetic random data is ever written.
package forecast

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"miraikakaku/apperrors"
	"miraikakaku/models"
)

// ModelName tags rows written by this generator
const ModelName = "ema_momentum_v2"

// Horizons are the forecast horizons in days
var Horizons = []int{1, 7, 30}

const (
	emaPeriod      = 10
	momentumPeriod = 10
	volPeriod      = 20
	minHistory     = 30

	maxDailyDrift = 0.02 // clamp momentum-implied drift to +/-2% per day
)

// Generator produces forecast rows for active symbols
type Generator struct {
	db *gorm.DB
}

// NewGenerator creates a forecast generator
func NewGenerator(db *gorm.DB) *Generator {
	return &Generator{db: db}
}

// Result summarizes a generation run
type Result struct {
	Symbols   int           `json:"symbols"`
	Rows      int           `json:"rows"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// GenerateAll produces forecasts for every active symbol. maxSymbols <= 0
// means no cap. Per-symbol failures are counted, logged and skipped.
func (g *Generator) GenerateAll(maxSymbols int) (*Result, error) {
	res := &Result{StartedAt: time.Now()}

	query := g.db.Where("is_active = ?", true).Order("symbol")
	if maxSymbols > 0 {
		query = query.Limit(maxSymbols)
	}
	var stocks []models.Stock
	if err := query.Find(&stocks).Error; err != nil {
		return nil, apperrors.Database("load symbols for forecasting", err)
	}
	res.Symbols = len(stocks)

	for _, stock := range stocks {
		n, err := g.GenerateForStock(&stock)
		if err != nil {
			res.Failed++
			log.Printf("forecast: %s: %v", stock.Symbol, err)
			continue
		}
		if n == 0 {
			res.Skipped++
		}
		res.Rows += n
	}

	res.Elapsed = time.Since(res.StartedAt)
	log.Printf("forecast: generated %d rows for %d symbols (%d skipped, %d failed) in %v",
		res.Rows, res.Symbols, res.Skipped, res.Failed, res.Elapsed)
	return res, nil
}

// GenerateForStock writes one forecast row per horizon for a single stock.
// Returns the number of rows upserted. Stocks with too little history are
// skipped with no error.
func (g *Generator) GenerateForStock(stock *models.Stock) (int, error) {
	closes, lastDate, err := g.recentCloses(stock.ID, minHistory*3)
	if err != nil {
		return 0, err
	}
	if len(closes) < minHistory {
		return 0, nil
	}

	predictionDate := lastDate
	rows := make([]models.StockPrediction, 0, len(Horizons))
	for _, h := range Horizons {
		predicted, confidence, err := Project(closes, h)
		if err != nil {
			return 0, apperrors.Prediction(fmt.Sprintf("project %s h=%d", stock.Symbol, h), err)
		}
		rows = append(rows, models.StockPrediction{
			StockID:        stock.ID,
			PredictionDate: predictionDate,
			HorizonDays:    h,
			ModelName:      ModelName,
			TargetDate:     predictionDate.AddDate(0, 0, h),
			PredictedClose: decimal.NewFromFloat(predicted),
			Confidence:     confidence,
			DataSource:     models.DataSourceForecast,
		})
	}

	err = g.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stock_id"}, {Name: "prediction_date"},
			{Name: "horizon_days"}, {Name: "model_name"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"target_date", "predicted_close", "confidence", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return 0, apperrors.Database(fmt.Sprintf("upsert forecasts for %s", stock.Symbol), err)
	}
	return len(rows), nil
}

// recentCloses returns up to limit closes in chronological order plus the
// date of the most recent row.
func (g *Generator) recentCloses(stockID uint, limit int) ([]float64, time.Time, error) {
	var prices []models.StockPrice
	err := g.db.Where("stock_id = ?", stockID).
		Order("date DESC").
		Limit(limit).
		Find(&prices).Error
	if err != nil {
		return nil, time.Time{}, apperrors.Database("load price history", err)
	}
	if len(prices) == 0 {
		return nil, time.Time{}, nil
	}

	lastDate := prices[0].Date
	closes := make([]float64, len(prices))
	for i, p := range prices {
		// Reverse to chronological order.
		f, _ := p.Close.Float64()
		closes[len(prices)-1-i] = f
	}
	return closes, lastDate, nil
}

// Project computes the predicted close and confidence for a horizon from a
// chronological close series. Deterministic for the same input.
func Project(closes []float64, horizonDays int) (float64, float64, error) {
	if horizonDays <= 0 {
		return 0, 0, fmt.Errorf("horizon must be positive, got %d", horizonDays)
	}
	if len(closes) < minHistory {
		return 0, 0, fmt.Errorf("need at least %d closes, got %d", minHistory, len(closes))
	}
	last := closes[len(closes)-1]
	if last <= 0 {
		return 0, 0, fmt.Errorf("last close must be positive, got %f", last)
	}

	anchor := ema(closes, emaPeriod)

	// Momentum-implied daily drift, clamped so a single hot streak cannot
	// run the projection away.
	base := closes[len(closes)-1-momentumPeriod]
	drift := 0.0
	if base > 0 {
		drift = (last/base - 1) / float64(momentumPeriod)
	}
	drift = clamp(drift, -maxDailyDrift, maxDailyDrift)

	vol := returnVolatility(closes, volPeriod)

	predicted := anchor * math.Pow(1+drift, float64(horizonDays))

	// Keep the projection inside a volatility cone around the last close.
	cone := 2 * vol * math.Sqrt(float64(horizonDays))
	predicted = clamp(predicted, last*(1-cone), last*(1+cone))
	if predicted <= 0 {
		predicted = last
	}

	confidence := Confidence(horizonDays, vol)
	return predicted, confidence, nil
}

// Confidence decays with horizon and realized volatility, clamped to
// [0.05, 0.95].
func Confidence(horizonDays int, vol float64) float64 {
	c := 0.9 * math.Exp(-float64(horizonDays)/45.0) / (1 + 8*vol)
	return clamp(c, 0.05, 0.95)
}

// ema computes an exponential moving average over the whole series with the
// standard 2/(n+1) multiplier.
func ema(closes []float64, period int) float64 {
	multiplier := 2.0 / float64(period+1)
	v := closes[0]
	for i := 1; i < len(closes); i++ {
		v = (closes[i]-v)*multiplier + v
	}
	return v
}

// returnVolatility is the standard deviation of the last `period` daily
// log returns.
func returnVolatility(closes []float64, period int) float64 {
	start := len(closes) - period - 1
	if start < 0 {
		start = 0
	}
	var returns []float64
	for i := start + 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
