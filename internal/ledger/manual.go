package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ResolveManualClose fills in the operator-supplied exit price on a
// PENDING_MANUAL_PRICE placeholder and derives realized profit from the
// stored weighted-average buy price. The row becomes a regular resolved
// SELL and is immutable afterwards.
func ResolveManualClose(ctx context.Context, store Store, id int64, exitPrice float64, closedAt time.Time) error {
	if exitPrice <= 0 {
		return fmt.Errorf("exit price must be positive, got %v", exitPrice)
	}
	trade, err := store.GetTrade(ctx, id)
	if err != nil {
		return err
	}
	if !trade.IsManualPlaceholder() {
		return fmt.Errorf("trade %d is not an unresolved manual close", id)
	}
	profit, profitPct := RealizedProfit(exitPrice, trade.AvgBuyPrice, trade.Quantity)
	resolution := ResolutionFilled
	comment := trade.Comment + fmt.Sprintf(" | price %.2f supplied manually", exitPrice)
	update := TradeUpdate{
		Price:      &exitPrice,
		Resolution: &resolution,
		Profit:     &profit,
		ProfitPct:  &profitPct,
		Comment:    &comment,
	}
	if !closedAt.IsZero() {
		update.TradedAt = &closedAt
	}
	return store.UpdateTrade(ctx, id, update)
}

// RevertManualClose deletes an unresolved placeholder so the next
// reconciliation pass re-derives it from scratch.
func RevertManualClose(ctx context.Context, store Store, id int64) error {
	trade, err := store.GetTrade(ctx, id)
	if err != nil {
		return err
	}
	if !trade.IsManualPlaceholder() {
		return fmt.Errorf("trade %d is not an unresolved manual close", id)
	}
	_, err = store.DeleteTrades(ctx, TradeFilter{ID: trade.ID})
	return err
}

// RealizedProfit computes (exit − avgBuy) × qty and the percentage gain
// over the average cost. Decimal math keeps reported P&L free of float
// accumulation noise.
func RealizedProfit(exitPrice, avgBuyPrice float64, qty int64) (profit, profitPct float64) {
	if avgBuyPrice <= 0 || qty <= 0 {
		return 0, 0
	}
	exit := decimal.NewFromFloat(exitPrice)
	avg := decimal.NewFromFloat(avgBuyPrice)
	diff := exit.Sub(avg)
	profit, _ = diff.Mul(decimal.NewFromInt(qty)).Float64()
	profitPct, _ = diff.Div(avg).Mul(decimal.NewFromInt(100)).Float64()
	return profit, profitPct
}
