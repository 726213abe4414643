// Package execution turns strategy decisions into broker orders and
// confirmed ledger rows. Every order follows the same path: place,
// record PENDING, verify, then mark FILLED or FAILED_TO_CONFIRM.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"niftyshop/internal/broker"
	"niftyshop/internal/broker/ratelimit"
	"niftyshop/internal/ledger"
	"niftyshop/internal/logger"
)

// ErrInsufficientFunds means the available balance cannot cover the
// intended buy. The cycle continues without the trade.
var ErrInsufficientFunds = errors.New("execution: insufficient funds")

const failedFillComment = "FAILED TO CONFIRM FILL"

// Executor places orders for one account and records their lifecycle
// in the ledger.
type Executor struct {
	accountID string
	broker    broker.Broker
	caller    *ratelimit.Caller
	verifier  *Verifier
	store     ledger.Store
	now       func() time.Time
}

func NewExecutor(accountID string, b broker.Broker, caller *ratelimit.Caller, verifier *Verifier, store ledger.Store) *Executor {
	return &Executor{
		accountID: accountID,
		broker:    b,
		caller:    caller,
		verifier:  verifier,
		store:     store,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock, for tests and backtests.
func (x *Executor) SetClock(now func() time.Time) {
	if now != nil {
		x.now = now
	}
}

// ExecuteBuy places a market buy, checks funds first, and records the
// trade. avgBuyPrice on the row is the expected fill price so cost
// basis is always present. Returns ErrFillUnconfirmed when the order
// was placed but confirmation failed; the row is already marked.
func (x *Executor) ExecuteBuy(ctx context.Context, sym string, qty int64, price float64, comment string) (ledger.Trade, error) {
	if qty <= 0 {
		return ledger.Trade{}, fmt.Errorf("buy %s: quantity must be positive", sym)
	}
	funds, err := ratelimit.Do(ctx, x.caller, "funds", func(ctx context.Context) (float64, error) {
		return x.broker.GetFunds(ctx)
	})
	if err != nil {
		return ledger.Trade{}, fmt.Errorf("buy %s: funds check: %w", sym, err)
	}
	if needed := float64(qty) * price; funds < needed {
		logger.Warnf("buy %s: need %.2f, have %.2f", sym, needed, funds)
		return ledger.Trade{}, ErrInsufficientFunds
	}
	trade := ledger.Trade{
		AccountID:   x.accountID,
		Symbol:      sym,
		Action:      ledger.ActionBuy,
		Price:       price,
		Quantity:    qty,
		AvgBuyPrice: price,
		TradedAt:    x.now(),
		Comment:     comment,
	}
	return x.submit(ctx, trade)
}

// ExecuteSell places a market sell for the full position quantity and
// records realized profit against the position's average cost.
func (x *Executor) ExecuteSell(ctx context.Context, pos ledger.Position, price float64, comment string) (ledger.Trade, error) {
	if pos.Quantity <= 0 {
		return ledger.Trade{}, fmt.Errorf("sell %s: no quantity to close", pos.Symbol)
	}
	profit, profitPct := ledger.RealizedProfit(price, pos.AvgPrice, pos.Quantity)
	trade := ledger.Trade{
		AccountID:   x.accountID,
		Symbol:      pos.Symbol,
		Action:      ledger.ActionSell,
		Price:       price,
		Quantity:    pos.Quantity,
		AvgBuyPrice: pos.AvgPrice,
		TradedAt:    x.now(),
		Profit:      profit,
		ProfitPct:   profitPct,
		Comment:     comment,
	}
	return x.submit(ctx, trade)
}

func (x *Executor) submit(ctx context.Context, trade ledger.Trade) (ledger.Trade, error) {
	side := broker.SideBuy
	if trade.Action == ledger.ActionSell {
		side = broker.SideSell
	}
	receipt, err := ratelimit.Do(ctx, x.caller, "place_order", func(ctx context.Context) (broker.OrderReceipt, error) {
		return x.broker.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:   trade.Symbol,
			Quantity: trade.Quantity,
			Side:     side,
			Type:     broker.OrderTypeMarket,
			Tag:      "niftyshop",
		})
	})
	if err != nil {
		return ledger.Trade{}, fmt.Errorf("place %s %s: %w", trade.Action, trade.Symbol, err)
	}
	trade.OrderID = receipt.OrderID
	trade.Fill = ledger.FillPending
	trade.Resolution = ledger.ResolutionOpen
	id, err := x.store.InsertTrade(ctx, &trade)
	if err != nil {
		return ledger.Trade{}, fmt.Errorf("record %s %s: %w", trade.Action, trade.Symbol, err)
	}
	logger.Infof("%s %s x%d order %s placed, verifying", trade.Action, trade.Symbol, trade.Quantity, receipt.OrderID)

	if err := x.verifier.Verify(ctx, receipt.OrderID); err != nil {
		if errors.Is(err, ErrFillUnconfirmed) {
			failed := ledger.FillFailedToConfirm
			comment := appendComment(trade.Comment, failedFillComment)
			if uerr := x.store.UpdateTrade(ctx, id, ledger.TradeUpdate{Fill: &failed, Comment: &comment}); uerr != nil {
				logger.Errorf("mark trade %d unconfirmed: %v", id, uerr)
			}
			trade.Fill = failed
			trade.Comment = comment
			return trade, ErrFillUnconfirmed
		}
		return trade, err
	}
	filled := ledger.FillFilled
	if err := x.store.UpdateTrade(ctx, id, ledger.TradeUpdate{Fill: &filled}); err != nil {
		return trade, fmt.Errorf("mark trade %d filled: %w", id, err)
	}
	trade.Fill = filled
	logger.Infof("%s %s x%d filled via order %s", trade.Action, trade.Symbol, trade.Quantity, receipt.OrderID)
	return trade, nil
}

func appendComment(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + " | " + extra
}
