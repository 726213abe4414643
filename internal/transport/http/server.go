// Package httpapi exposes the operational HTTP API: triggering runs,
// inspecting trades and run records, resolving manual-close prices,
// launching backtests and serving Prometheus metrics.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"niftyshop/internal/backtest"
	"niftyshop/internal/ledger"
	"niftyshop/internal/logger"
	"niftyshop/internal/runner"
)

// BacktestLauncher starts a backtest for the given config and returns
// its run id once accepted.
type BacktestLauncher func(cfg backtest.RunConfig) (string, error)

// TriggerFunc runs one manual cycle across all accounts.
type TriggerFunc func(ctx context.Context) []runner.Run

// Config carries the server's dependencies.
type Config struct {
	Addr     string
	Ledger   ledger.Store
	Runs     runner.RunStore
	Results  *backtest.ResultStore
	Trigger  TriggerFunc
	Backtest BacktestLauncher
}

// Server wraps the gin router and its lifecycle.
type Server struct {
	addr     string
	ledger   ledger.Store
	runs     runner.RunStore
	results  *backtest.ResultStore
	trigger  TriggerFunc
	backtest BacktestLauncher
	router   *gin.Engine
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Ledger == nil || cfg.Runs == nil {
		return nil, errors.New("http server requires ledger and run stores")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s := &Server{
		addr:     cfg.Addr,
		ledger:   cfg.Ledger,
		runs:     cfg.Runs,
		results:  cfg.Results,
		trigger:  cfg.Trigger,
		backtest: cfg.Backtest,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.POST("/runs/trigger", s.handleTrigger)
	api.GET("/runs", s.handleRunList)
	api.GET("/trades", s.handleTradeList)
	api.GET("/trades/pending-manual", s.handlePendingManual)
	api.PUT("/trades/:id/manual-price", s.handleResolveManual)
	api.DELETE("/trades/:id/manual-price", s.handleRevertManual)

	bt := api.Group("/backtest")
	bt.POST("/runs", s.handleBacktestStart)
	bt.GET("/runs", s.handleBacktestList)
	bt.GET("/runs/:id", s.handleBacktestDetail)
	bt.GET("/runs/:id/report", s.handleBacktestReport)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTrigger(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "manual trigger not available"})
		return
	}
	runs := s.trigger(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	runs, err := s.runs.ListRuns(c.Request.Context(), c.Query("account"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleTradeList(c *gin.Context) {
	filter := ledger.TradeFilter{
		AccountID: c.Query("account"),
		Symbol:    c.Query("symbol"),
		Action:    ledger.Action(c.Query("action")),
	}
	trades, err := s.ledger.FindTrades(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handlePendingManual(c *gin.Context) {
	trades, err := s.ledger.FindTrades(c.Request.Context(), ledger.TradeFilter{
		AccountID:  c.Query("account"),
		OrderID:    ledger.ManualOrderID,
		Resolution: ledger.ResolutionManualPrice,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleResolveManual(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	var req struct {
		Price    float64 `json:"price" binding:"required"`
		ClosedAt string  `json:"closed_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var closedAt time.Time
	if req.ClosedAt != "" {
		closedAt, err = time.Parse("2006-01-02", req.ClosedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "closed_at must be YYYY-MM-DD"})
			return
		}
	}
	if err := ledger.ResolveManualClose(c.Request.Context(), s.ledger, id, req.Price, closedAt); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("manual close %d resolved at %.2f", id, req.Price)
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (s *Server) handleRevertManual(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	if err := ledger.RevertManualClose(c.Request.Context(), s.ledger, id); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("manual close %d reverted", id)
	c.JSON(http.StatusOK, gin.H{"status": "reverted"})
}

func (s *Server) handleBacktestStart(c *gin.Context) {
	if s.backtest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtesting not available"})
		return
	}
	var req struct {
		DataDir      string   `json:"data_dir"`
		StartingCash float64  `json:"starting_cash"`
		Fee          float64  `json:"fee"`
		Start        string   `json:"start"`
		End          string   `json:"end"`
		Symbols      []string `json:"symbols"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := backtest.RunConfig{
		DataDir:      req.DataDir,
		StartingCash: req.StartingCash,
		Fee:          req.Fee,
	}
	cfg.Settings.Symbols = req.Symbols
	var err error
	if req.Start != "" {
		if cfg.Start, err = time.Parse("2006-01-02", req.Start); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD"})
			return
		}
	}
	if req.End != "" {
		if cfg.End, err = time.Parse("2006-01-02", req.End); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be YYYY-MM-DD"})
			return
		}
	}
	id, err := s.backtest(cfg)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleBacktestList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtesting not available"})
		return
	}
	runs, err := s.results.ListRuns(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleBacktestDetail(c *gin.Context) {
	run, ok := s.loadBacktest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleBacktestReport(c *gin.Context) {
	run, ok := s.loadBacktest(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := backtest.RenderReport(run, c.Writer); err != nil {
		logger.Errorf("render report %s: %v", run.ID, err)
	}
}

func (s *Server) loadBacktest(c *gin.Context) (backtest.Run, bool) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtesting not available"})
		return backtest.Run{}, false
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return backtest.Run{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return backtest.Run{}, false
	}
	return run, true
}

// Start serves until ctx cancels or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("HTTP API listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
