package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"niftyshop/internal/broker/ratelimit"
	"niftyshop/internal/execution"
	"niftyshop/internal/ledger"
	"niftyshop/internal/logger"
	"niftyshop/internal/reconcile"
	"niftyshop/internal/runner"
	"niftyshop/internal/store/memstore"
	"niftyshop/internal/strategy"
)

const simAccountID = "backtest"

// Simulator steps a SimBroker through the feed's trading dates and
// drives the live cycle logic against it.
type Simulator struct {
	feed *Feed
	cfg  RunConfig
}

func NewSimulator(feed *Feed, cfg RunConfig) *Simulator {
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = 100000
	}
	if cfg.Fee == 0 {
		cfg.Fee = DefaultFee
	}
	if len(cfg.Settings.Symbols) == 0 {
		cfg.Settings.Symbols = feed.Symbols()
	}
	return &Simulator{feed: feed, cfg: cfg}
}

// Run executes the full simulation and returns the finished record.
func (s *Simulator) Run(ctx context.Context) (Run, error) {
	id := s.cfg.RunID
	if id == "" {
		id = uuid.NewString()
	}
	run := Run{
		ID:        id,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}

	sim := NewSimBroker(s.feed, s.cfg.StartingCash, s.cfg.Fee)
	store := memstore.New()
	cycle := s.buildCycle(sim, store)

	dates := sim.TradingDates()
	dates = clampDates(dates, s.cfg.Start, s.cfg.End)
	if len(dates) == 0 {
		run.Status = StatusFailed
		run.Error = "no trading dates in range"
		run.FinishedAt = time.Now()
		return run, fmt.Errorf("backtest %s: %s", run.ID, run.Error)
	}
	logger.Infof("backtest %s: %d trading days, %d symbols, cash %.2f",
		run.ID, len(dates), len(s.cfg.Settings.Symbols), s.cfg.StartingCash)

	var (
		curve []EquityPoint
		peak  float64
		maxDD float64
	)
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			run.Status = StatusFailed
			run.Error = err.Error()
			run.FinishedAt = time.Now()
			return run, err
		}
		sim.SetDate(d)
		if _, err := cycle.Run(ctx); err != nil {
			// A day the cycle cannot complete is logged and skipped;
			// the remaining days still run.
			logger.Warnf("backtest %s: %s: %v", run.ID, d.Format("2006-01-02"), err)
		}
		equity := sim.Equity()
		curve = append(curve, EquityPoint{Date: d, Equity: equity})
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}

	stats, err := s.computeStats(ctx, store, sim, curve, maxDD)
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now()
		return run, err
	}
	run.Status = StatusCompleted
	run.FinishedAt = time.Now()
	run.Stats = &stats
	run.EquityCurve = curve
	logger.Infof("backtest %s: final equity %.2f (%.2f%%), max drawdown %.2f%%, win rate %.1f%%",
		run.ID, stats.FinalEquity, stats.ReturnPct, stats.MaxDrawdown, stats.WinRatePct)
	return run, nil
}

// buildCycle assembles the same collaborators the live runner uses,
// with pacing and polling pauses zeroed out.
func (s *Simulator) buildCycle(sim *SimBroker, store ledger.Store) *runner.Cycle {
	caller := ratelimit.NewCaller(ratelimit.Options{
		MinInterval: -1,
		MaxAttempts: 1,
		BaseDelay:   time.Nanosecond,
		MaxDelay:    time.Nanosecond,
	})
	noWait := func(context.Context, time.Duration) error { return nil }
	caller.SetSleep(noWait)

	engine := strategy.NewEngine(sim, caller, s.cfg.Settings)
	verifier := execution.NewVerifier(sim, caller, execution.VerifierOptions{MaxAttempts: 1, Interval: time.Nanosecond})
	verifier.SetSleep(noWait)
	executor := execution.NewExecutor(simAccountID, sim, caller, verifier, store)
	reconciler := reconcile.New(simAccountID, store)
	return runner.NewCycle(simAccountID, sim, caller, engine, executor, reconciler)
}

func (s *Simulator) computeStats(ctx context.Context, store ledger.Store, sim *SimBroker, curve []EquityPoint, maxDD float64) (Stats, error) {
	sells, err := store.FindTrades(ctx, ledger.TradeFilter{
		AccountID: simAccountID,
		Action:    ledger.ActionSell,
		Fill:      ledger.FillFilled,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("backtest stats: %w", err)
	}
	stats := Stats{
		StartingCash: s.cfg.StartingCash,
		TradingDays:  len(curve),
		TotalSells:   len(sells),
		FeesPaid:     sim.FeesPaid(),
	}
	for _, t := range sells {
		if t.Profit > 0 {
			stats.WinningSells++
		}
	}
	if stats.TotalSells > 0 {
		stats.WinRatePct = float64(stats.WinningSells) / float64(stats.TotalSells) * 100
	}
	if len(curve) > 0 {
		stats.FinalEquity = curve[len(curve)-1].Equity
		stats.ReturnPct = (stats.FinalEquity - stats.StartingCash) / stats.StartingCash * 100
	}
	stats.MaxDrawdown = maxDD
	return stats, nil
}

func clampDates(dates []time.Time, start, end time.Time) []time.Time {
	var out []time.Time
	for _, d := range dates {
		if !start.IsZero() && d.Before(start) {
			continue
		}
		if !end.IsZero() && d.After(end) {
			continue
		}
		out = append(out, d)
	}
	return out
}
