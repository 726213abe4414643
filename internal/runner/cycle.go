// Package runner orchestrates one full strategy cycle per account:
// reconcile against broker holdings, take at most one exit, then at
// most one entry or averaging buy, and report what happened. Accounts
// run strictly sequentially; order flow within an account is never
// concurrent.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"niftyshop/internal/broker"
	"niftyshop/internal/broker/ratelimit"
	"niftyshop/internal/execution"
	"niftyshop/internal/ledger"
	"niftyshop/internal/logger"
	"niftyshop/internal/metrics"
	"niftyshop/internal/pkg/symbol"
	"niftyshop/internal/reconcile"
	"niftyshop/internal/strategy"
)

// Cycle wires the per-account collaborators for one decision cycle.
// Construct one per account; it is not safe for concurrent use.
type Cycle struct {
	accountID  string
	broker     broker.Broker
	caller     *ratelimit.Caller
	engine     *strategy.Engine
	executor   *execution.Executor
	reconciler *reconcile.Reconciler
}

func NewCycle(accountID string, b broker.Broker, caller *ratelimit.Caller, engine *strategy.Engine, executor *execution.Executor, reconciler *reconcile.Reconciler) *Cycle {
	return &Cycle{
		accountID:  accountID,
		broker:     b,
		caller:     caller,
		engine:     engine,
		executor:   executor,
		reconciler: reconciler,
	}
}

func (c *Cycle) AccountID() string { return c.accountID }

// Run executes one cycle. A positions-fetch failure at the start aborts
// the whole cycle; later failures are logged and the cycle continues so
// partial progress is still recorded.
func (c *Cycle) Run(ctx context.Context) (CycleReport, error) {
	report := CycleReport{}
	settings := c.engine.Settings()

	if settings.Mode == strategy.ModePaused {
		logger.Infof("account %s is PAUSED, skipping cycle", c.accountID)
		report.Skipped = true
		return report, nil
	}

	holdings, err := c.fetchHoldings(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch positions: %w", err)
	}

	actions, err := c.reconciler.Reconcile(ctx, holdings)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}
	report.ReconciliationActions = len(actions)
	for _, a := range actions {
		report.note("reconciled %s: gap %d at avg %.2f", a.Symbol, a.Gap, a.WeightedAvg)
	}
	metrics.ReconcileActions.WithLabelValues(c.accountID).Add(float64(len(actions)))

	positions, err := c.fetchPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("refresh positions: %w", err)
	}

	if sold := c.runExits(ctx, positions, &report); sold {
		positions, err = c.fetchPositions(ctx)
		if err != nil {
			return report, fmt.Errorf("refresh positions after exit: %w", err)
		}
	}

	if settings.Mode == strategy.ModeNormal {
		c.runEntriesOrAveraging(ctx, positions, &report)
	} else {
		logger.Infof("account %s is EXIT_ONLY, no entries or averaging", c.accountID)
	}

	metrics.OpenPositions.WithLabelValues(c.accountID).Set(float64(len(positions)))
	c.logStatus(positions)
	c.reportFunds(ctx)
	return report, nil
}

// logStatus writes the end-of-cycle portfolio summary into the run log.
func (c *Cycle) logStatus(positions []ledger.Position) {
	if len(positions) == 0 {
		logger.Infof("account %s holds no positions", c.accountID)
		return
	}
	var (
		block    strings.Builder
		totalPnL float64
	)
	for _, p := range positions {
		totalPnL += p.UnrealizedPnL
		fmt.Fprintf(&block, "  %s x%d avg %.2f last %.2f pnl %.2f (%.2f%%)\n",
			p.Symbol, p.Quantity, p.AvgPrice, p.CurrentPrice, p.UnrealizedPnL, p.PnLPct)
	}
	fmt.Fprintf(&block, "account %s: %d open position(s), unrealized pnl %.2f", c.accountID, len(positions), totalPnL)
	logger.InfoBlock(block.String())
}

// runExits sells at most the single best winner.
func (c *Cycle) runExits(ctx context.Context, positions []ledger.Position, report *CycleReport) bool {
	exits := c.engine.CheckExits(positions)
	if len(exits) == 0 {
		return false
	}
	best := exits[0]
	comment := fmt.Sprintf("Profit exit at %.2f%% (target %.2f%%)", best.ProfitPct, c.engine.Settings().ExitThreshold)
	_, err := c.executor.ExecuteSell(ctx, best.Position, best.Position.CurrentPrice, comment)
	switch {
	case err == nil:
		report.ExitsMade++
		report.note("sold %s x%d at %.2f", best.Position.Symbol, best.Position.Quantity, best.Position.CurrentPrice)
		metrics.Orders.WithLabelValues(c.accountID, "sell", "filled").Inc()
		return true
	case errors.Is(err, execution.ErrFillUnconfirmed):
		report.ExitsMade++
		report.note("sell %s placed but unconfirmed", best.Position.Symbol)
		metrics.Orders.WithLabelValues(c.accountID, "sell", "unconfirmed").Inc()
		return true
	default:
		logger.Errorf("exit %s failed: %v", best.Position.Symbol, err)
		metrics.Orders.WithLabelValues(c.accountID, "sell", "rejected").Inc()
		return false
	}
}

// runEntriesOrAveraging makes at most one buy: a fresh entry when a
// candidate qualifies, otherwise an averaging-down add on the worst
// loser. The two are mutually exclusive within a cycle.
func (c *Cycle) runEntriesOrAveraging(ctx context.Context, positions []ledger.Position, report *CycleReport) {
	settings := c.engine.Settings()
	if settings.AllowsNewEntries(len(positions)) {
		held := make(map[string]bool, len(positions))
		for _, p := range positions {
			held[symbol.Normalize(p.Symbol)] = true
		}
		candidates, err := c.engine.ScanEntries(ctx, held)
		if err != nil {
			logger.Errorf("entry scan failed: %v", err)
		}
		for _, cand := range candidates {
			qty := c.engine.EntryQuantity(cand.Price)
			if qty < 1 {
				logger.Infof("entry %s skipped: %.2f cannot fund one share", cand.Symbol, settings.TradeAmount)
				continue
			}
			comment := fmt.Sprintf("New entry: %.2f%% below %d-day MA %.2f", -cand.Deviation, settings.MAPeriod, cand.MA)
			if c.buy(ctx, cand.Symbol, qty, cand.Price, comment, report) {
				report.EntriesMade++
				return
			}
		}
	} else {
		logger.Infof("position limit %d reached, no new entries", settings.MaxPositions)
	}

	target, ok := c.engine.ChooseAveragingTarget(positions)
	if !ok {
		return
	}
	qty := c.engine.AveragingQuantity(target.CurrentPrice)
	if qty < 1 {
		return
	}
	comment := fmt.Sprintf("Averaging down at %.2f%% loss", target.PnLPct)
	if c.buy(ctx, target.Symbol, qty, target.CurrentPrice, comment, report) {
		report.AveragesMade++
	}
}

// buy reports true when an order reached the broker, even if its fill
// never confirmed, so the cycle stops after one capital deployment.
func (c *Cycle) buy(ctx context.Context, sym string, qty int64, price float64, comment string, report *CycleReport) bool {
	_, err := c.executor.ExecuteBuy(ctx, sym, qty, price, comment)
	switch {
	case err == nil:
		report.note("bought %s x%d at %.2f", sym, qty, price)
		metrics.Orders.WithLabelValues(c.accountID, "buy", "filled").Inc()
		return true
	case errors.Is(err, execution.ErrFillUnconfirmed):
		report.note("buy %s placed but unconfirmed", sym)
		metrics.Orders.WithLabelValues(c.accountID, "buy", "unconfirmed").Inc()
		return true
	case errors.Is(err, execution.ErrInsufficientFunds):
		return false
	default:
		logger.Errorf("buy %s failed: %v", sym, err)
		metrics.Orders.WithLabelValues(c.accountID, "buy", "rejected").Inc()
		return false
	}
}

func (c *Cycle) fetchHoldings(ctx context.Context) ([]broker.Holding, error) {
	return ratelimit.Do(ctx, c.caller, "holdings", func(ctx context.Context) ([]broker.Holding, error) {
		return c.broker.GetHoldings(ctx)
	})
}

// fetchPositions converts the holdings report into the derived
// per-cycle Position view.
func (c *Cycle) fetchPositions(ctx context.Context) ([]ledger.Position, error) {
	holdings, err := c.fetchHoldings(ctx)
	if err != nil {
		return nil, err
	}
	positions := make([]ledger.Position, 0, len(holdings))
	for _, h := range holdings {
		if h.Quantity <= 0 {
			continue
		}
		p := ledger.Position{
			Symbol:        h.Symbol,
			Quantity:      h.Quantity,
			AvgPrice:      h.AvgCost,
			CurrentPrice:  h.LastPrice,
			UnrealizedPnL: h.UnrealizedPnL,
		}
		if h.AvgCost > 0 {
			p.PnLPct = (h.LastPrice - h.AvgCost) / h.AvgCost * 100
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func (c *Cycle) reportFunds(ctx context.Context) {
	funds, err := ratelimit.Do(ctx, c.caller, "funds", func(ctx context.Context) (float64, error) {
		return c.broker.GetFunds(ctx)
	})
	if err != nil {
		logger.Warnf("funds report failed: %v", err)
		return
	}
	metrics.AvailableFunds.WithLabelValues(c.accountID).Set(funds)
	logger.Infof("account %s available funds %.2f", c.accountID, funds)
}

func (r *CycleReport) note(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}
