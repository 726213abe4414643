// Package app builds and runs the whole service: stores, account
// loader, HTTP API and the cron-scheduled strategy runs.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"niftyshop/internal/backtest"
	"niftyshop/internal/broker"
	"niftyshop/internal/broker/ratelimit"
	"niftyshop/internal/config"
	"niftyshop/internal/config/loader"
	"niftyshop/internal/execution"
	"niftyshop/internal/logger"
	"niftyshop/internal/reconcile"
	"niftyshop/internal/runner"
	"niftyshop/internal/store/gormstore"
	"niftyshop/internal/strategy"
	httpapi "niftyshop/internal/transport/http"
)

type App struct {
	cfg      *config.Config
	store    *gormstore.Store
	results  *backtest.ResultStore
	accounts *loader.AccountLoader
	orch     *runner.Orchestrator
	http     *httpapi.Server

	// runMu serializes strategy runs; a cron tick never overlaps a
	// manual trigger.
	runMu sync.Mutex
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	store, err := gormstore.New(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Backtest.ResultsDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open backtest store: %w", err)
	}
	accounts, err := loader.NewAccountLoader(cfg.App.AccountsPath)
	if err != nil {
		results.Close()
		store.Close()
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	a := &App{
		cfg:      cfg,
		store:    store,
		results:  results,
		accounts: accounts,
		orch:     runner.NewOrchestrator(store),
	}
	a.registerPaperBroker()
	srv, err := httpapi.NewServer(httpapi.Config{
		Addr:     cfg.App.HTTPAddr,
		Ledger:   store,
		Runs:     store,
		Results:  results,
		Trigger:  a.triggerManual,
		Backtest: a.launchBacktest,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.http = srv
	return a, nil
}

// Run serves HTTP and, when enabled, the daily schedule until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.cfg.Schedule.Enabled {
		group.Go(func() error {
			return a.runSchedule(ctx)
		})
	} else {
		logger.Infof("schedule disabled, runs only via POST /api/runs/trigger")
	}

	err := group.Wait()
	a.Close()
	return err
}

func (a *App) Close() {
	if a.accounts != nil {
		// viper's watcher has no close; the process owns its lifetime.
		a.accounts = nil
	}
	if a.results != nil {
		a.results.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *App) runSchedule(ctx context.Context) error {
	loc, err := time.LoadLocation(a.cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("schedule timezone: %w", err)
	}
	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(a.cfg.Schedule.Cron, func() {
		a.runAll(ctx, runner.RunTypeScheduled)
	})
	if err != nil {
		return fmt.Errorf("schedule cron: %w", err)
	}
	logger.Infof("scheduled runs at %q (%s)", a.cfg.Schedule.Cron, a.cfg.Schedule.Timezone)
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

func (a *App) triggerManual(ctx context.Context) []runner.Run {
	return a.runAll(ctx, runner.RunTypeManual)
}

// runAll builds a fresh broker handle per account from the latest
// accounts snapshot and processes them strictly in sequence.
func (a *App) runAll(ctx context.Context, runType string) []runner.Run {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	snap := a.accounts.Snapshot()
	cycles := make([]runner.AccountCycle, 0, len(snap.Accounts))
	for _, acct := range snap.Accounts {
		if !acct.IsEnabled() {
			logger.Infof("account %s disabled, skipping", acct.ID)
			continue
		}
		cycle, err := a.buildCycle(acct)
		if err != nil {
			logger.Errorf("account %s: %v", acct.ID, err)
			continue
		}
		cycles = append(cycles, cycle)
	}
	if len(cycles) == 0 {
		logger.Warnf("no runnable accounts in snapshot v%d", snap.Version)
		return nil
	}
	return a.orch.RunAll(ctx, runType, cycles)
}

func (a *App) buildCycle(acct loader.AccountConfig) (*runner.Cycle, error) {
	b, err := broker.New(acct.Broker, acct.Credentials.Resolve())
	if err != nil {
		return nil, fmt.Errorf("broker %q: %w", acct.Broker, err)
	}
	caller := ratelimit.NewCaller(a.cfg.RateLimitOptions())
	engine := strategy.NewEngine(b, caller, acct.Settings.ToStrategy())
	verifier := execution.NewVerifier(b, caller, a.cfg.VerifierOptions())
	executor := execution.NewExecutor(acct.ID, b, caller, verifier, a.store)
	reconciler := reconcile.New(acct.ID, a.store)
	return runner.NewCycle(acct.ID, b, caller, engine, executor, reconciler), nil
}

// registerPaperBroker wires a simulated broker under the name "paper".
// It reads local candle data and trades against the latest bar, so the
// full live path can be exercised without brokerage credentials. Real
// connectors (fyers, zerodha) register themselves through
// broker.Register from their own packages.
func (a *App) registerPaperBroker() {
	broker.Register("paper", func(broker.Credentials) (broker.Broker, error) {
		feed, err := backtest.LoadDir(a.cfg.Backtest.DataDir)
		if err != nil {
			return nil, fmt.Errorf("paper broker: %w", err)
		}
		sim := backtest.NewSimBroker(feed, a.cfg.Backtest.StartingCash, a.cfg.Backtest.Fee)
		_, end, ok := feed.Span()
		if !ok {
			return nil, fmt.Errorf("paper broker: empty feed")
		}
		sim.SetDate(end)
		return sim, nil
	})
}

// launchBacktest validates the request synchronously, then runs the
// simulation in the background so the HTTP caller gets an id at once.
func (a *App) launchBacktest(cfg backtest.RunConfig) (string, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = a.cfg.Backtest.DataDir
	}
	if cfg.DataDir == "" {
		return "", fmt.Errorf("no data_dir given and backtest.data_dir not configured")
	}
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = a.cfg.Backtest.StartingCash
	}
	if cfg.Fee == 0 {
		cfg.Fee = a.cfg.Backtest.Fee
	}
	feed, err := backtest.LoadDir(cfg.DataDir)
	if err != nil {
		return "", err
	}
	requested := cfg.Settings.Symbols
	cfg.Settings = a.backtestSettings()
	if len(requested) > 0 {
		cfg.Settings.Symbols = requested
	}
	cfg.RunID = uuid.NewString()

	pending := backtest.Run{
		ID:        cfg.RunID,
		Status:    backtest.StatusRunning,
		CreatedAt: time.Now(),
	}
	if err := a.results.SaveRun(context.Background(), pending); err != nil {
		return "", err
	}
	go func() {
		sim := backtest.NewSimulator(feed, cfg)
		run, err := sim.Run(context.Background())
		if err != nil {
			logger.Errorf("backtest %s failed: %v", run.ID, err)
		}
		if err := a.results.SaveRun(context.Background(), run); err != nil {
			logger.Errorf("save backtest %s: %v", run.ID, err)
		}
	}()
	return cfg.RunID, nil
}

// backtestSettings uses the first enabled account's strategy settings
// so simulations mirror live behavior, falling back to the documented
// defaults when no account is configured.
func (a *App) backtestSettings() strategy.Settings {
	snap := a.accounts.Snapshot()
	for _, acct := range snap.Accounts {
		if acct.IsEnabled() {
			return acct.Settings.ToStrategy()
		}
	}
	return loader.SettingsConfig{
		EntryThreshold:     -2.0,
		ExitThreshold:      5.0,
		AveragingThreshold: -5.0,
	}.ToStrategy()
}
