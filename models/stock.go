package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Asset type constants
const (
	AssetTypeEquity = "equity"
	AssetTypeETF    = "etf"
	AssetTypeForex  = "forex"
	AssetTypeCrypto = "crypto"
)

// Data source tags distinguish where a row came from
const (
	DataSourceYahoo    = "yahoo_finance"
	DataSourceForecast = "forecast_engine"
)

// Stock represents a tradable instrument in the symbol master
type Stock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"uniqueIndex;not null" json:"symbol"`
	Name      string    `json:"name"`
	Exchange  string    `json:"exchange"` // NASDAQ, NYSE, TSE, FX, CCC
	AssetType string    `gorm:"index;default:'equity'" json:"asset_type"`
	Sector    string    `json:"sector"`
	Currency  string    `gorm:"default:'USD'" json:"currency"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Stock) TableName() string { return "stock_master" }

// StockPrice represents a daily OHLCV row keyed by (stock, date)
type StockPrice struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	StockID       uint            `gorm:"uniqueIndex:idx_price_stock_date" json:"stock_id"`
	Stock         Stock           `gorm:"foreignKey:StockID" json:"stock,omitempty"`
	Date          time.Time       `gorm:"uniqueIndex:idx_price_stock_date" json:"date"`
	Open          decimal.Decimal `gorm:"type:decimal(18,6)" json:"open"`
	High          decimal.Decimal `gorm:"type:decimal(18,6)" json:"high"`
	Low           decimal.Decimal `gorm:"type:decimal(18,6)" json:"low"`
	Close         decimal.Decimal `gorm:"type:decimal(18,6)" json:"close"`
	AdjClose      decimal.Decimal `gorm:"type:decimal(18,6)" json:"adj_close"`
	Volume        int64           `json:"volume"`
	Change        decimal.Decimal `gorm:"type:decimal(18,6)" json:"change"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"change_percent"`
	DataSource    string          `gorm:"default:'yahoo_finance'" json:"data_source"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (StockPrice) TableName() string { return "stock_prices" }

// MigrateStockModels runs database migrations for stock-related models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
		&StockPrice{},
	)
}
