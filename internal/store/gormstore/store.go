// Package gormstore persists the trade ledger and strategy run records
// in SQLite through Gorm.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"niftyshop/internal/ledger"
	"niftyshop/internal/runner"
	storemodel "niftyshop/internal/store/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("gormstore: record not found")

// Store implements ledger.Store and runner.RunStore on one SQLite file.
type Store struct {
	db *gorm.DB
}

var (
	_ ledger.Store    = (*Store)(nil)
	_ runner.RunStore = (*Store)(nil)
)

// New opens (creating if needed) the SQLite database at path and runs
// migrations.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&storemodel.TradeModel{}, &storemodel.StrategyRunModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent
	// HTTP reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---- ledger.Store ----

func (s *Store) InsertTrade(ctx context.Context, trade *ledger.Trade) (int64, error) {
	if trade == nil {
		return 0, fmt.Errorf("gorm store: nil trade")
	}
	m := tradeToModel(*trade)
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	trade.ID = m.ID
	return m.ID, nil
}

func (s *Store) GetTrade(ctx context.Context, id int64) (ledger.Trade, error) {
	var m storemodel.TradeModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Trade{}, ErrNotFound
	}
	if err != nil {
		return ledger.Trade{}, fmt.Errorf("get trade %d: %w", id, err)
	}
	return modelToTrade(m), nil
}

func (s *Store) FindTrades(ctx context.Context, filter ledger.TradeFilter) ([]ledger.Trade, error) {
	q := applyFilter(s.db.WithContext(ctx).Model(&storemodel.TradeModel{}), filter)
	var rows []storemodel.TradeModel
	if err := q.Order("traded_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find trades: %w", err)
	}
	out := make([]ledger.Trade, 0, len(rows))
	for _, m := range rows {
		out = append(out, modelToTrade(m))
	}
	return out, nil
}

func (s *Store) FindOpenLots(ctx context.Context, accountID, sym string) ([]ledger.Trade, error) {
	var rows []storemodel.TradeModel
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND fill_status = ? AND order_id <> ?",
			accountID, sym, string(ledger.FillFilled), ledger.ManualOrderID).
		Order("traded_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find open lots %s: %w", sym, err)
	}
	out := make([]ledger.Trade, 0, len(rows))
	for _, m := range rows {
		out = append(out, modelToTrade(m))
	}
	return out, nil
}

func (s *Store) UpdateTrade(ctx context.Context, id int64, update ledger.TradeUpdate) error {
	fields := map[string]interface{}{}
	if update.Price != nil {
		fields["price"] = *update.Price
	}
	if update.TradedAt != nil {
		fields["traded_at"] = update.TradedAt.Unix()
	}
	if update.Fill != nil {
		fields["fill_status"] = string(*update.Fill)
	}
	if update.Resolution != nil {
		fields["resolution_status"] = string(*update.Resolution)
	}
	if update.Profit != nil {
		fields["profit"] = *update.Profit
	}
	if update.ProfitPct != nil {
		fields["profit_pct"] = *update.ProfitPct
	}
	if update.Comment != nil {
		fields["comment"] = *update.Comment
	}
	if len(fields) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&storemodel.TradeModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update trade %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTrades(ctx context.Context, filter ledger.TradeFilter) (int64, error) {
	q := applyFilter(s.db.WithContext(ctx), filter)
	res := q.Delete(&storemodel.TradeModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete trades: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) AggregateNetOpenPosition(ctx context.Context, accountID, sym string) (int64, error) {
	var net *int64
	err := s.db.WithContext(ctx).Model(&storemodel.TradeModel{}).
		Select("COALESCE(SUM(CASE WHEN action = ? THEN quantity ELSE -quantity END), 0)", string(ledger.ActionBuy)).
		Where("account_id = ? AND symbol = ? AND fill_status = ?", accountID, sym, string(ledger.FillFilled)).
		Scan(&net).Error
	if err != nil {
		return 0, fmt.Errorf("aggregate position %s: %w", sym, err)
	}
	if net == nil {
		return 0, nil
	}
	return *net, nil
}

func applyFilter(q *gorm.DB, filter ledger.TradeFilter) *gorm.DB {
	if filter.ID != 0 {
		q = q.Where("id = ?", filter.ID)
	}
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", string(filter.Action))
	}
	if filter.Fill != "" {
		q = q.Where("fill_status = ?", string(filter.Fill))
	}
	if filter.Resolution != "" {
		q = q.Where("resolution_status = ?", string(filter.Resolution))
	}
	if filter.OrderID != "" {
		q = q.Where("order_id = ?", filter.OrderID)
	}
	if filter.ExcludeOrderID != "" {
		q = q.Where("order_id <> ?", filter.ExcludeOrderID)
	}
	return q
}

// ---- runner.RunStore ----

func (s *Store) InsertRun(ctx context.Context, run runner.Run) error {
	m, err := runToModel(run)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run runner.Run) error {
	m, err := runToModel(run)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{
		"status":   m.Status,
		"ended_at": m.EndedAt,
		"output":   m.Output,
		"report":   m.Report,
	}
	res := s.db.WithContext(ctx).Model(&storemodel.StrategyRunModel{}).
		Where("run_id = ?", run.RunID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("finish run %s: %w", run.RunID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, accountID string, limit int) ([]runner.Run, error) {
	q := s.db.WithContext(ctx).Model(&storemodel.StrategyRunModel{})
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []storemodel.StrategyRunModel
	if err := q.Order("started_at desc, id desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]runner.Run, 0, len(rows))
	for _, m := range rows {
		run, err := modelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// ---- converters ----

func tradeToModel(t ledger.Trade) storemodel.TradeModel {
	return storemodel.TradeModel{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Symbol:      t.Symbol,
		Action:      string(t.Action),
		Price:       t.Price,
		Quantity:    t.Quantity,
		AvgBuyPrice: t.AvgBuyPrice,
		TradedAt:    t.TradedAt.Unix(),
		OrderID:     t.OrderID,
		Fill:        string(t.Fill),
		Resolution:  string(t.Resolution),
		Profit:      t.Profit,
		ProfitPct:   t.ProfitPct,
		Comment:     t.Comment,
		CreatedAt:   unixOrZero(t.CreatedAt),
	}
}

func modelToTrade(m storemodel.TradeModel) ledger.Trade {
	return ledger.Trade{
		ID:          m.ID,
		AccountID:   m.AccountID,
		Symbol:      m.Symbol,
		Action:      ledger.Action(m.Action),
		Price:       m.Price,
		Quantity:    m.Quantity,
		AvgBuyPrice: m.AvgBuyPrice,
		TradedAt:    time.Unix(m.TradedAt, 0).UTC(),
		OrderID:     m.OrderID,
		Fill:        ledger.FillStatus(m.Fill),
		Resolution:  ledger.ResolutionStatus(m.Resolution),
		Profit:      m.Profit,
		ProfitPct:   m.ProfitPct,
		Comment:     m.Comment,
		CreatedAt:   time.Unix(m.CreatedAt, 0).UTC(),
	}
}

func runToModel(run runner.Run) (storemodel.StrategyRunModel, error) {
	var report datatypes.JSON
	if run.Report != nil {
		raw, err := json.Marshal(run.Report)
		if err != nil {
			return storemodel.StrategyRunModel{}, fmt.Errorf("marshal run report: %w", err)
		}
		report = datatypes.JSON(raw)
	}
	return storemodel.StrategyRunModel{
		RunID:     run.RunID,
		AccountID: run.AccountID,
		RunType:   run.RunType,
		Status:    run.Status,
		StartedAt: run.StartedAt.Unix(),
		EndedAt:   unixOrZero(run.EndedAt),
		Output:    run.Output,
		Report:    report,
	}, nil
}

func modelToRun(m storemodel.StrategyRunModel) (runner.Run, error) {
	run := runner.Run{
		RunID:     m.RunID,
		AccountID: m.AccountID,
		RunType:   m.RunType,
		Status:    m.Status,
		StartedAt: time.Unix(m.StartedAt, 0).UTC(),
		Output:    m.Output,
	}
	if m.EndedAt > 0 {
		run.EndedAt = time.Unix(m.EndedAt, 0).UTC()
	}
	if len(m.Report) > 0 {
		var report runner.CycleReport
		if err := json.Unmarshal(m.Report, &report); err != nil {
			return runner.Run{}, fmt.Errorf("unmarshal run report %s: %w", m.RunID, err)
		}
		run.Report = &report
	}
	return run, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
