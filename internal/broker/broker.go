// Package broker defines the capability interface the strategy engine
// requires from a brokerage backend. Real connectors (Fyers, Zerodha)
// live outside this repository and register through the factory; the
// in-repo implementation is the backtest simulator.
package broker

import (
	"context"
	"time"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Order status codes as reported by the brokerage.
const (
	OrderStatusComplete  = "complete"
	OrderStatusPending   = "pending"
	OrderStatusRejected  = "rejected"
	OrderStatusCancelled = "cancelled"
)

// Candle is one bar of a daily price series, oldest first when in a slice.
type Candle struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Holding is one row of the broker's holdings report.
type Holding struct {
	Symbol        string
	Quantity      int64
	AvgCost       float64
	LastPrice     float64
	UnrealizedPnL float64
}

type OrderRequest struct {
	Symbol   string
	Quantity int64
	Side     OrderSide
	Type     OrderType
	Tag      string
}

type OrderReceipt struct {
	OrderID string
	Status  string
}

type OrderState struct {
	OrderID string
	Status  string
}

// Broker is the brokerage capability consumed by the engine. All methods
// must be safe to retry; every call routes through the rate-limited caller.
type Broker interface {
	Name() string

	GetQuote(ctx context.Context, symbol string) (float64, error)

	// GetHistory returns at least the trailing `days` daily bars for the
	// symbol, ordered oldest first.
	GetHistory(ctx context.Context, symbol string, days int) ([]Candle, error)

	GetHoldings(ctx context.Context) ([]Holding, error)

	GetFunds(ctx context.Context) (float64, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error)

	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)
}
