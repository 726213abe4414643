// Package ledger owns the append-only trade record that is the source
// of truth for profit reporting. Persistence goes through the Store
// interface; gormstore and memstore implement it.
package ledger

import (
	"context"
	"time"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// FillStatus tracks order confirmation.
type FillStatus string

const (
	FillPending         FillStatus = "PENDING"
	FillFilled          FillStatus = "FILLED"
	FillFailedToConfirm FillStatus = "FAILED_TO_CONFIRM"
)

// ResolutionStatus tracks whether a trade still needs operator input.
// Only reconciliation placeholders ever sit in PENDING_MANUAL_PRICE.
type ResolutionStatus string

const (
	ResolutionOpen        ResolutionStatus = "OPEN"
	ResolutionManualPrice ResolutionStatus = "PENDING_MANUAL_PRICE"
	ResolutionFilled      ResolutionStatus = "FILLED"
)

// ManualOrderID is the sentinel order identifier on reconciliation-
// synthesized rows; no broker order ever carries it.
const ManualOrderID = "MANUAL"

// Trade is one BUY or SELL action. AvgBuyPrice is mandatory at
// construction so profit can always be derived, including on manual-close
// placeholders whose exit price is still unknown. A trade is immutable
// once its fill status is FILLED or FAILED_TO_CONFIRM, except manual
// placeholders, which are the only rows updated in place or deleted.
type Trade struct {
	ID          int64
	AccountID   string
	Symbol      string
	Action      Action
	Price       float64 // 0 permitted only on unresolved manual closes
	Quantity    int64
	AvgBuyPrice float64
	TradedAt    time.Time
	OrderID     string
	Fill        FillStatus
	Resolution  ResolutionStatus
	Profit      float64 // SELL only
	ProfitPct   float64 // SELL only
	Comment     string
	CreatedAt   time.Time
}

// IsManualPlaceholder reports whether the trade is an unresolved
// reconciliation row.
func (t Trade) IsManualPlaceholder() bool {
	return t.OrderID == ManualOrderID && t.Resolution == ResolutionManualPrice
}

// Position is the broker-derived view of one open holding. It is
// recomputed every cycle from the holdings report and never mutated by
// the engine.
type Position struct {
	Symbol        string
	Quantity      int64
	AvgPrice      float64
	CurrentPrice  float64
	UnrealizedPnL float64
	PnLPct        float64
}

// TradeFilter narrows queries and deletes. Zero values mean "any".
type TradeFilter struct {
	ID         int64
	AccountID  string
	Symbol     string
	Action     Action
	Fill       FillStatus
	Resolution ResolutionStatus
	OrderID    string
	// ExcludeOrderID skips rows with this order identifier, used to
	// ignore prior manual-close rows during reconciliation.
	ExcludeOrderID string
}

// TradeUpdate carries the mutable subset of a trade. Nil fields are left
// untouched.
type TradeUpdate struct {
	Price      *float64
	TradedAt   *time.Time
	Fill       *FillStatus
	Resolution *ResolutionStatus
	Profit     *float64
	ProfitPct  *float64
	Comment    *string
}

// Store is the persistence contract for the ledger. Implementations must
// provide atomic upserts; within one account's cycle the core accesses
// it from a single goroutine.
type Store interface {
	InsertTrade(ctx context.Context, trade *Trade) (int64, error)

	GetTrade(ctx context.Context, id int64) (Trade, error)

	// FindTrades returns matching trades ordered by trade timestamp
	// ascending, id ascending.
	FindTrades(ctx context.Context, filter TradeFilter) ([]Trade, error)

	// FindOpenLots returns the FILLED trades for a symbol that FIFO
	// matching draws on, excluding manual-close rows, ordered by trade
	// timestamp ascending.
	FindOpenLots(ctx context.Context, accountID, sym string) ([]Trade, error)

	UpdateTrade(ctx context.Context, id int64, update TradeUpdate) error

	// DeleteTrades removes matching rows and returns the count.
	DeleteTrades(ctx context.Context, filter TradeFilter) (int64, error)

	// AggregateNetOpenPosition returns total filled BUY quantity minus
	// total filled SELL quantity for the symbol.
	AggregateNetOpenPosition(ctx context.Context, accountID, sym string) (int64, error)
}
