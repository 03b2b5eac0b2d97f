package forecast

import (
	"errors"
	"log"
	"math"
	"time"

	"gorm.io/gorm"

	"miraikakaku/apperrors"
	"miraikakaku/models"
)

// Outlier thresholds: a prediction is flagged when it lands outside
// [0.5x, 2x] of the latest actual close, or when its confidence is
// below the floor.
const (
	outlierUpperRatio = 2.0
	outlierLowerRatio = 0.5
	confidenceFloor   = 0.2

	// A validated prediction counts as a hit when its error is at most 5%.
	hitThresholdPct = 5.0

	// Matching an actual close to a target date tolerates weekends/holidays.
	maturityGraceDays = 4
)

// Validator resolves matured predictions against realized closes and keeps
// the per-(stock, horizon, model) accuracy aggregates current.
type Validator struct {
	db *gorm.DB
}

// NewValidator creates a prediction validator
func NewValidator(db *gorm.DB) *Validator {
	return &Validator{db: db}
}

// ValidationResult summarizes one validation run
type ValidationResult struct {
	Resolved   int           `json:"resolved"`
	Outliers   int           `json:"outliers"`
	Pending    int           `json:"pending"`
	Aggregates int           `json:"aggregates"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Run resolves matured predictions, flags outliers and refreshes accuracy
// aggregates.
func (v *Validator) Run() (*ValidationResult, error) {
	started := time.Now()
	res := &ValidationResult{}

	if err := v.resolveMatured(res); err != nil {
		return nil, err
	}
	if err := v.flagOutliers(res); err != nil {
		return nil, err
	}
	n, err := v.refreshAccuracy()
	if err != nil {
		return nil, err
	}
	res.Aggregates = n
	res.Elapsed = time.Since(started)

	log.Printf("validator: resolved %d predictions (%d outliers, %d pending), refreshed %d aggregates in %v",
		res.Resolved, res.Outliers, res.Pending, res.Aggregates, res.Elapsed)
	return res, nil
}

// resolveMatured fills actual close, percent error and quality score on
// predictions whose target date has passed.
func (v *Validator) resolveMatured(res *ValidationResult) error {
	now := time.Now().UTC()

	var pending []models.StockPrediction
	err := v.db.Where("is_validated = ? AND target_date <= ?", false, now).
		Find(&pending).Error
	if err != nil {
		return apperrors.Database("load pending predictions", err)
	}

	for i := range pending {
		pred := &pending[i]

		// Nearest trading day at or before the target, within the grace
		// window, so weekend targets resolve against Friday's close.
		var actual models.StockPrice
		err := v.db.Where("stock_id = ? AND date <= ? AND date >= ?",
			pred.StockID, pred.TargetDate, pred.TargetDate.AddDate(0, 0, -maturityGraceDays)).
			Order("date DESC").
			First(&actual).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				res.Pending++
				continue
			}
			return apperrors.Database("load actual close", err)
		}

		actualClose, _ := actual.Close.Float64()
		predicted, _ := pred.PredictedClose.Float64()
		if actualClose <= 0 {
			res.Pending++
			continue
		}

		pctErr := math.Abs(predicted-actualClose) / actualClose * 100
		quality := QualityScore(pctErr, pred.Confidence)

		updates := map[string]interface{}{
			"is_validated":  true,
			"actual_close":  actual.Close,
			"percent_error": pctErr,
			"quality_score": quality,
		}
		if err := v.db.Model(pred).Updates(updates).Error; err != nil {
			return apperrors.Database("write validation result", err)
		}
		res.Resolved++
	}
	return nil
}

// flagOutliers marks open predictions that strayed outside the sane band
// around the latest close, or that carry junk confidence.
func (v *Validator) flagOutliers(res *ValidationResult) error {
	var open []models.StockPrediction
	err := v.db.Where("is_validated = ? AND is_outlier = ?", false, false).
		Find(&open).Error
	if err != nil {
		return apperrors.Database("load open predictions", err)
	}

	for i := range open {
		pred := &open[i]

		var latest models.StockPrice
		err := v.db.Where("stock_id = ?", pred.StockID).
			Order("date DESC").
			First(&latest).Error
		if err != nil {
			continue
		}

		latestClose, _ := latest.Close.Float64()
		predicted, _ := pred.PredictedClose.Float64()

		if IsOutlier(predicted, latestClose, pred.Confidence) {
			if err := v.db.Model(pred).Update("is_outlier", true).Error; err != nil {
				return apperrors.Database("flag outlier", err)
			}
			res.Outliers++
		}
	}
	return nil
}

// refreshAccuracy rebuilds the prediction_accuracy aggregates from validated
// rows. Returns the number of aggregates written.
func (v *Validator) refreshAccuracy() (int, error) {
	type aggRow struct {
		StockID     uint
		HorizonDays int
		ModelName   string
		SampleCount int
		MAPE        float64
		HitRate     float64
		AvgQuality  float64
		WindowStart time.Time
		WindowEnd   time.Time
	}

	var rows []aggRow
	err := v.db.Model(&models.StockPrediction{}).
		Select(`stock_id,
			horizon_days,
			model_name,
			COUNT(*) AS sample_count,
			AVG(percent_error) AS mape,
			AVG(CASE WHEN percent_error <= ? THEN 1.0 ELSE 0.0 END) AS hit_rate,
			AVG(quality_score) AS avg_quality,
			MIN(prediction_date) AS window_start,
			MAX(prediction_date) AS window_end`, hitThresholdPct).
		Where("is_validated = ?", true).
		Group("stock_id, horizon_days, model_name").
		Scan(&rows).Error
	if err != nil {
		return 0, apperrors.Database("aggregate prediction accuracy", err)
	}

	for _, r := range rows {
		acc := models.PredictionAccuracy{
			StockID:     r.StockID,
			HorizonDays: r.HorizonDays,
			ModelName:   r.ModelName,
			SampleCount: r.SampleCount,
			MAPE:        r.MAPE,
			HitRate:     r.HitRate,
			AvgQuality:  r.AvgQuality,
			WindowStart: r.WindowStart,
			WindowEnd:   r.WindowEnd,
		}

		var existing models.PredictionAccuracy
		err := v.db.Where("stock_id = ? AND horizon_days = ? AND model_name = ?",
			r.StockID, r.HorizonDays, r.ModelName).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := v.db.Create(&acc).Error; err != nil {
				return 0, apperrors.Database("create accuracy aggregate", err)
			}
		case err != nil:
			return 0, apperrors.Database("load accuracy aggregate", err)
		default:
			acc.ID = existing.ID
			if err := v.db.Save(&acc).Error; err != nil {
				return 0, apperrors.Database("update accuracy aggregate", err)
			}
		}
	}
	return len(rows), nil
}

// IsOutlier applies the fixed outlier thresholds
func IsOutlier(predicted, latestClose, confidence float64) bool {
	if confidence < confidenceFloor {
		return true
	}
	if latestClose <= 0 {
		return false
	}
	ratio := predicted / latestClose
	return ratio > outlierUpperRatio || ratio < outlierLowerRatio
}

// QualityScore derives a 0..1 score from the realized percentage error,
// discounted by how far the stated confidence was from the realized
// accuracy.
func QualityScore(pctErr, confidence float64) float64 {
	base := 1 - pctErr/100
	if base < 0 {
		base = 0
	}
	calibration := 1 - 0.5*math.Abs(confidence-base)
	score := base * calibration
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
