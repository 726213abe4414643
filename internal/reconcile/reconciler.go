// Package reconcile detects drift between the ledger's open lots and
// the broker's reported holdings, and repairs it by synthesizing one
// consolidated manual-close SELL per drifted symbol. Lots are rebuilt
// functionally from trade history each pass; nothing historical is
// mutated.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"niftyshop/internal/broker"
	"niftyshop/internal/ledger"
	"niftyshop/internal/logger"
	"niftyshop/internal/pkg/symbol"
)

// lot is an immutable buy record plus its FIFO-remaining counter.
type lot struct {
	trade     ledger.Trade
	remaining int64
}

// Action describes one repair the reconciler made.
type Action struct {
	Symbol      string
	Gap         int64
	WeightedAvg float64
	LotsUsed    int
	TradeID     int64
}

// Reconciler trues up one account's ledger against broker holdings.
type Reconciler struct {
	accountID string
	store     ledger.Store
}

func New(accountID string, store ledger.Store) *Reconciler {
	return &Reconciler{accountID: accountID, store: store}
}

// Reconcile walks every symbol with internally-tracked open lots and
// synthesizes manual-close placeholders where the broker shows fewer
// shares than the ledger. Returns the repairs made.
func (r *Reconciler) Reconcile(ctx context.Context, holdings []broker.Holding) ([]Action, error) {
	trades, err := r.store.FindTrades(ctx, ledger.TradeFilter{
		AccountID:      r.accountID,
		Fill:           ledger.FillFilled,
		ExcludeOrderID: ledger.ManualOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: load trades: %w", err)
	}
	symbols := orderedSymbols(trades)
	brokerQty := make(map[string]int64, len(holdings))
	for _, h := range holdings {
		brokerQty[symbol.Normalize(h.Symbol)] += h.Quantity
	}

	var actions []Action
	for _, sym := range symbols {
		act, err := r.reconcileSymbol(ctx, sym, matchedQty(brokerQty, sym))
		if err != nil {
			return actions, err
		}
		if act != nil {
			actions = append(actions, *act)
		}
	}
	return actions, nil
}

func (r *Reconciler) reconcileSymbol(ctx context.Context, sym string, brokerHeld int64) (*Action, error) {
	// Net position counts manual placeholders, so a symbol an earlier
	// pass already balanced skips the FIFO walk entirely.
	net, err := r.store.AggregateNetOpenPosition(ctx, r.accountID, sym)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: net position: %w", sym, err)
	}
	if net <= brokerHeld {
		return nil, nil
	}

	trades, err := r.store.FindOpenLots(ctx, r.accountID, sym)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: load lots: %w", sym, err)
	}
	lots, sells := splitLots(trades)
	applyFIFO(lots, sells)

	var internalOpen int64
	for _, l := range lots {
		internalOpen += l.remaining
	}
	gap := internalOpen - brokerHeld
	if gap <= 0 {
		return nil, nil
	}
	logger.Infof("reconcile %s: ledger open %d, broker holds %d, gap %d", sym, internalOpen, brokerHeld, gap)

	// Already balanced by an earlier pass: leave the placeholder alone.
	existing, err := r.store.FindTrades(ctx, ledger.TradeFilter{
		AccountID:  r.accountID,
		Symbol:     sym,
		OrderID:    ledger.ManualOrderID,
		Resolution: ledger.ResolutionManualPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: load placeholders: %w", sym, err)
	}
	var placeholderQty int64
	for _, t := range existing {
		placeholderQty += t.Quantity
	}
	if placeholderQty == gap {
		logger.Debugf("reconcile %s: placeholder already covers gap %d", sym, gap)
		return nil, nil
	}
	if len(existing) > 0 {
		n, err := r.store.DeleteTrades(ctx, ledger.TradeFilter{
			AccountID:  r.accountID,
			Symbol:     sym,
			OrderID:    ledger.ManualOrderID,
			Resolution: ledger.ResolutionManualPrice,
		})
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: clear stale placeholders: %w", sym, err)
		}
		logger.Infof("reconcile %s: re-deriving, removed %d stale placeholder(s)", sym, n)
	}

	wavg, lotsUsed, earliest := consumeOldest(lots, gap)
	trade := ledger.Trade{
		AccountID:   r.accountID,
		Symbol:      sym,
		Action:      ledger.ActionSell,
		Price:       0,
		Quantity:    gap,
		AvgBuyPrice: wavg,
		TradedAt:    earliest,
		OrderID:     ledger.ManualOrderID,
		Fill:        ledger.FillFilled,
		Resolution:  ledger.ResolutionManualPrice,
		Comment:     fmt.Sprintf("Manual close detected: %d shares over %d lot(s), avg buy %.2f, exit price pending", gap, lotsUsed, wavg),
	}
	id, err := r.store.InsertTrade(ctx, &trade)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: insert placeholder: %w", sym, err)
	}
	return &Action{Symbol: sym, Gap: gap, WeightedAvg: wavg, LotsUsed: lotsUsed, TradeID: id}, nil
}

// splitLots partitions filled trades into buy lots and sell events,
// both already in chronological order.
func splitLots(trades []ledger.Trade) ([]*lot, []ledger.Trade) {
	var (
		lots  []*lot
		sells []ledger.Trade
	)
	for _, t := range trades {
		switch t.Action {
		case ledger.ActionBuy:
			lots = append(lots, &lot{trade: t, remaining: t.Quantity})
		case ledger.ActionSell:
			sells = append(sells, t)
		}
	}
	return lots, sells
}

// applyFIFO deducts each sell from the oldest lots still holding
// quantity.
func applyFIFO(lots []*lot, sells []ledger.Trade) {
	for _, s := range sells {
		qty := s.Quantity
		for _, l := range lots {
			if qty == 0 {
				break
			}
			if l.remaining == 0 {
				continue
			}
			take := min64(l.remaining, qty)
			l.remaining -= take
			qty -= take
		}
	}
}

// consumeOldest takes exactly gap units from the oldest lots with
// remaining quantity and returns the quantity-weighted average buy
// price, the number of lots touched, and the earliest consumed lot's
// date.
func consumeOldest(lots []*lot, gap int64) (wavg float64, lotsUsed int, earliest time.Time) {
	remaining := gap
	cost := decimal.Zero
	for _, l := range lots {
		if remaining == 0 {
			break
		}
		if l.remaining == 0 {
			continue
		}
		take := min64(l.remaining, remaining)
		cost = cost.Add(decimal.NewFromFloat(l.trade.Price).Mul(decimal.NewFromInt(take)))
		if lotsUsed == 0 {
			earliest = l.trade.TradedAt
		}
		lotsUsed++
		remaining -= take
	}
	consumed := gap - remaining
	if consumed > 0 {
		wavg, _ = cost.Div(decimal.NewFromInt(consumed)).Round(2).Float64()
	}
	return wavg, lotsUsed, earliest
}

func orderedSymbols(trades []ledger.Trade) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			out = append(out, t.Symbol)
		}
	}
	return out
}

// matchedQty resolves the broker-held quantity for a ledger symbol.
// Both sides are compared by normalized scrip name, tolerating exchange
// prefixes and series suffixes on either side.
func matchedQty(brokerQty map[string]int64, sym string) int64 {
	return brokerQty[symbol.Normalize(sym)]
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
