package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockPrediction represents one forecast row: a predicted close for a
// symbol at prediction_date + horizon_days. The composite unique index makes
// generation runs idempotent.
type StockPrediction struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	StockID        uint            `gorm:"uniqueIndex:idx_pred_key" json:"stock_id"`
	Stock          Stock           `gorm:"foreignKey:StockID" json:"stock,omitempty"`
	PredictionDate time.Time       `gorm:"uniqueIndex:idx_pred_key" json:"prediction_date"`
	HorizonDays    int             `gorm:"uniqueIndex:idx_pred_key" json:"horizon_days"`
	ModelName      string          `gorm:"uniqueIndex:idx_pred_key" json:"model_name"`
	TargetDate     time.Time       `gorm:"index" json:"target_date"`
	PredictedClose decimal.Decimal `gorm:"type:decimal(18,6)" json:"predicted_close"`
	Confidence     float64         `json:"confidence"` // 0..1
	DataSource     string          `gorm:"default:'forecast_engine'" json:"data_source"`

	// Filled by the validator once the target date has an actual close.
	IsValidated  bool             `gorm:"default:false;index" json:"is_validated"`
	ActualClose  *decimal.Decimal `gorm:"type:decimal(18,6)" json:"actual_close,omitempty"`
	PercentError *float64         `json:"percent_error,omitempty"`
	QualityScore *float64         `json:"quality_score,omitempty"`
	IsOutlier    bool             `gorm:"default:false" json:"is_outlier"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StockPrediction) TableName() string { return "stock_predictions" }

// PredictionAccuracy aggregates validated predictions per (stock, horizon, model)
type PredictionAccuracy struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StockID     uint      `gorm:"uniqueIndex:idx_acc_key" json:"stock_id"`
	Stock       Stock     `gorm:"foreignKey:StockID" json:"stock,omitempty"`
	HorizonDays int       `gorm:"uniqueIndex:idx_acc_key" json:"horizon_days"`
	ModelName   string    `gorm:"uniqueIndex:idx_acc_key" json:"model_name"`
	SampleCount int       `json:"sample_count"`
	MAPE        float64   `json:"mape"`     // mean absolute percentage error
	HitRate     float64   `json:"hit_rate"` // share of predictions within 5%
	AvgQuality  float64   `json:"avg_quality"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (PredictionAccuracy) TableName() string { return "prediction_accuracy" }

// MigratePredictionModels runs database migrations for forecast models
func MigratePredictionModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&StockPrediction{},
		&PredictionAccuracy{},
	)
}
