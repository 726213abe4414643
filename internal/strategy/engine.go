// Package strategy holds the mean-reversion decision logic: entry
// scanning against a simple moving average, profit-target exits, and
// averaging-down selection. The engine decides; it never writes the
// ledger or places orders itself.
package strategy

import (
	"context"
	"sort"

	"github.com/markcheno/go-talib"

	"niftyshop/internal/broker"
	"niftyshop/internal/broker/ratelimit"
	"niftyshop/internal/ledger"
	"niftyshop/internal/logger"
	"niftyshop/internal/pkg/symbol"
)

// EntryCandidate is a symbol trading below its moving average by at
// least the entry threshold.
type EntryCandidate struct {
	Symbol    string
	Price     float64
	MA        float64
	Deviation float64 // percent, negative
}

// ExitCandidate is an open position at or above the exit threshold.
type ExitCandidate struct {
	Position  ledger.Position
	ProfitPct float64
}

// Engine evaluates one account's settings against market data fetched
// through the paced broker capability.
type Engine struct {
	broker   broker.Broker
	caller   *ratelimit.Caller
	settings Settings
}

func NewEngine(b broker.Broker, caller *ratelimit.Caller, settings Settings) *Engine {
	return &Engine{
		broker:   b,
		caller:   caller,
		settings: settings.withDefaults(),
	}
}

// Settings returns the normalized settings the engine runs with.
func (e *Engine) Settings() Settings { return e.settings }

// ScanEntries evaluates every configured symbol not already held and
// returns entry candidates sorted most oversold first, capped at
// MaxStocksToScan. The held set is keyed by normalized scrip name, so a
// bare broker symbol still excludes its exchange-qualified config form.
// Symbols with short history or a non-positive quote are skipped, not
// errors.
func (e *Engine) ScanEntries(ctx context.Context, held map[string]bool) ([]EntryCandidate, error) {
	var candidates []EntryCandidate
	for _, sym := range e.settings.Symbols {
		if held[symbol.Normalize(sym)] {
			continue
		}
		cand, ok, err := e.evaluateEntry(ctx, sym)
		if err != nil {
			if broker.IsFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			logger.Warnf("scan: skipping %s: %v", sym, err)
			continue
		}
		if ok {
			candidates = append(candidates, cand)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Deviation < candidates[j].Deviation
	})
	if len(candidates) > e.settings.MaxStocksToScan {
		candidates = candidates[:e.settings.MaxStocksToScan]
	}
	return candidates, nil
}

func (e *Engine) evaluateEntry(ctx context.Context, sym string) (EntryCandidate, bool, error) {
	candles, err := ratelimit.Do(ctx, e.caller, "history", func(ctx context.Context) ([]broker.Candle, error) {
		return e.broker.GetHistory(ctx, sym, e.settings.MAPeriod)
	})
	if err != nil {
		return EntryCandidate{}, false, err
	}
	ma, ok := MovingAverage(candles, e.settings.MAPeriod)
	if !ok {
		logger.Debugf("scan: %s has %d bars, need %d", sym, len(candles), e.settings.MAPeriod)
		return EntryCandidate{}, false, nil
	}
	price, err := ratelimit.Do(ctx, e.caller, "quote", func(ctx context.Context) (float64, error) {
		return e.broker.GetQuote(ctx, sym)
	})
	if err != nil {
		return EntryCandidate{}, false, err
	}
	if price <= 0 || price >= ma {
		return EntryCandidate{}, false, nil
	}
	deviation := (price - ma) / ma * 100
	if deviation > e.settings.EntryThreshold {
		return EntryCandidate{}, false, nil
	}
	return EntryCandidate{Symbol: sym, Price: price, MA: ma, Deviation: deviation}, true, nil
}

// CheckExits returns open positions at or above the exit threshold,
// ranked largest winner first. The caller acts on at most one per
// cycle.
func (e *Engine) CheckExits(positions []ledger.Position) []ExitCandidate {
	var out []ExitCandidate
	for _, p := range positions {
		if p.Quantity <= 0 || p.AvgPrice <= 0 {
			continue
		}
		pct := (p.CurrentPrice - p.AvgPrice) / p.AvgPrice * 100
		if pct >= e.settings.ExitThreshold {
			out = append(out, ExitCandidate{Position: p, ProfitPct: pct})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProfitPct > out[j].ProfitPct
	})
	return out
}

// ChooseAveragingTarget returns the single worst performer at or below
// the averaging threshold, or false when nothing qualifies. A position
// whose last price the broker omitted reads as a total loss and must
// never be averaged into at price zero.
func (e *Engine) ChooseAveragingTarget(positions []ledger.Position) (ledger.Position, bool) {
	var (
		worst    ledger.Position
		worstPct float64
		found    bool
	)
	for _, p := range positions {
		if p.Quantity <= 0 || p.AvgPrice <= 0 {
			continue
		}
		if p.CurrentPrice <= 0 {
			logger.Warnf("averaging: %s has no current price, skipping", p.Symbol)
			continue
		}
		pct := (p.CurrentPrice - p.AvgPrice) / p.AvgPrice * 100
		if pct > e.settings.AveragingThreshold {
			continue
		}
		if !found || pct < worstPct {
			worst, worstPct, found = p, pct, true
		}
	}
	return worst, found
}

// EntryQuantity sizes a fresh entry at floor(TradeAmount / price).
// Zero means the allocation cannot afford a single share.
func (e *Engine) EntryQuantity(price float64) int64 {
	if price <= 0 {
		return 0
	}
	return int64(e.settings.TradeAmount / price)
}

// AveragingQuantity sizes an averaging-down buy per the configured
// style.
func (e *Engine) AveragingQuantity(price float64) int64 {
	if e.settings.AveragingStyle == AveragingFullAllocation {
		return e.EntryQuantity(price)
	}
	return 1
}

// MovingAverage computes the simple moving average over the most
// recent period closes. Earlier history does not influence the result.
func MovingAverage(candles []broker.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	closes := make([]float64, 0, period)
	for _, c := range candles[len(candles)-period:] {
		closes = append(closes, c.Close)
	}
	sma := talib.Sma(closes, period)
	return sma[len(sma)-1], true
}
