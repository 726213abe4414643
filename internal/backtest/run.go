package backtest

import (
	"time"

	"niftyshop/internal/strategy"
)

const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// RunConfig describes one backtest request. RunID may be preassigned
// by the caller so the run is addressable before it finishes.
type RunConfig struct {
	RunID        string            `json:"run_id,omitempty"`
	DataDir      string            `json:"data_dir"`
	StartingCash float64           `json:"starting_cash"`
	Fee          float64           `json:"fee"`
	Start        time.Time         `json:"start,omitempty"`
	End          time.Time         `json:"end,omitempty"`
	Settings     strategy.Settings `json:"-"`
}

// EquityPoint is one day's portfolio value.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// Stats summarizes a finished run.
type Stats struct {
	StartingCash float64 `json:"starting_cash"`
	FinalEquity  float64 `json:"final_equity"`
	ReturnPct    float64 `json:"return_pct"`
	MaxDrawdown  float64 `json:"max_drawdown_pct"`
	TradingDays  int     `json:"trading_days"`
	TotalSells   int     `json:"total_sells"`
	WinningSells int     `json:"winning_sells"`
	WinRatePct   float64 `json:"win_rate_pct"`
	FeesPaid     float64 `json:"fees_paid"`
}

// Run is a persisted backtest record.
type Run struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Error       string        `json:"error,omitempty"`
	Stats       *Stats        `json:"stats,omitempty"`
	EquityCurve []EquityPoint `json:"equity_curve,omitempty"`
}
