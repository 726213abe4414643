package model

import (
	"gorm.io/datatypes"
)

type TradeModel struct {
	ID          int64   `gorm:"column:id;primaryKey"`
	AccountID   string  `gorm:"column:account_id;index:idx_trades_account_symbol,priority:1"`
	Symbol      string  `gorm:"column:symbol;index:idx_trades_account_symbol,priority:2"`
	Action      string  `gorm:"column:action"`
	Price       float64 `gorm:"column:price"`
	Quantity    int64   `gorm:"column:quantity"`
	AvgBuyPrice float64 `gorm:"column:avg_buy_price"`
	TradedAt    int64   `gorm:"column:traded_at;index"`
	OrderID     string  `gorm:"column:order_id"`
	Fill        string  `gorm:"column:fill_status"`
	Resolution  string  `gorm:"column:resolution_status"`
	Profit      float64 `gorm:"column:profit"`
	ProfitPct   float64 `gorm:"column:profit_pct"`
	Comment     string  `gorm:"column:comment"`
	CreatedAt   int64   `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "trades" }

type StrategyRunModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	RunID     string         `gorm:"column:run_id;uniqueIndex"`
	AccountID string         `gorm:"column:account_id;index"`
	RunType   string         `gorm:"column:run_type"`
	Status    string         `gorm:"column:status"`
	StartedAt int64          `gorm:"column:started_at;index"`
	EndedAt   int64          `gorm:"column:ended_at"`
	Output    string         `gorm:"column:output"`
	Report    datatypes.JSON `gorm:"column:report;type:TEXT"`
}

func (StrategyRunModel) TableName() string { return "strategy_runs" }
