// Package memstore provides an in-memory ledger.Store. The backtester
// uses it so simulated runs never touch the live database; tests use it
// to avoid filesystem setup.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"niftyshop/internal/ledger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("memstore: record not found")

type Store struct {
	mu     sync.RWMutex
	nextID int64
	trades map[int64]ledger.Trade
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		nextID: 1,
		trades: make(map[int64]ledger.Trade),
	}
}

func (s *Store) InsertTrade(_ context.Context, trade *ledger.Trade) (int64, error) {
	if trade == nil {
		return 0, errors.New("memstore: nil trade")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	t := *trade
	t.ID = id
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.trades[id] = t
	trade.ID = id
	return id, nil
}

func (s *Store) GetTrade(_ context.Context, id int64) (ledger.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return ledger.Trade{}, ErrNotFound
	}
	return t, nil
}

func (s *Store) FindTrades(_ context.Context, filter ledger.TradeFilter) ([]ledger.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Trade
	for _, t := range s.trades {
		if matches(t, filter) {
			out = append(out, t)
		}
	}
	sortTrades(out)
	return out, nil
}

func (s *Store) FindOpenLots(_ context.Context, accountID, sym string) ([]ledger.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Trade
	for _, t := range s.trades {
		if t.AccountID != accountID || t.Symbol != sym {
			continue
		}
		if t.Fill != ledger.FillFilled || t.OrderID == ledger.ManualOrderID {
			continue
		}
		out = append(out, t)
	}
	sortTrades(out)
	return out, nil
}

func (s *Store) UpdateTrade(_ context.Context, id int64, update ledger.TradeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return ErrNotFound
	}
	if update.Price != nil {
		t.Price = *update.Price
	}
	if update.TradedAt != nil {
		t.TradedAt = *update.TradedAt
	}
	if update.Fill != nil {
		t.Fill = *update.Fill
	}
	if update.Resolution != nil {
		t.Resolution = *update.Resolution
	}
	if update.Profit != nil {
		t.Profit = *update.Profit
	}
	if update.ProfitPct != nil {
		t.ProfitPct = *update.ProfitPct
	}
	if update.Comment != nil {
		t.Comment = *update.Comment
	}
	s.trades[id] = t
	return nil
}

func (s *Store) DeleteTrades(_ context.Context, filter ledger.TradeFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.trades {
		if matches(t, filter) {
			delete(s.trades, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) AggregateNetOpenPosition(_ context.Context, accountID, sym string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var net int64
	for _, t := range s.trades {
		if t.AccountID != accountID || t.Symbol != sym || t.Fill != ledger.FillFilled {
			continue
		}
		if t.Action == ledger.ActionBuy {
			net += t.Quantity
		} else {
			net -= t.Quantity
		}
	}
	return net, nil
}

func matches(t ledger.Trade, f ledger.TradeFilter) bool {
	if f.ID != 0 && t.ID != f.ID {
		return false
	}
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.Symbol != "" && t.Symbol != f.Symbol {
		return false
	}
	if f.Action != "" && t.Action != f.Action {
		return false
	}
	if f.Fill != "" && t.Fill != f.Fill {
		return false
	}
	if f.Resolution != "" && t.Resolution != f.Resolution {
		return false
	}
	if f.OrderID != "" && t.OrderID != f.OrderID {
		return false
	}
	if f.ExcludeOrderID != "" && t.OrderID == f.ExcludeOrderID {
		return false
	}
	return true
}

func sortTrades(trades []ledger.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].TradedAt.Equal(trades[j].TradedAt) {
			return trades[i].TradedAt.Before(trades[j].TradedAt)
		}
		return trades[i].ID < trades[j].ID
	})
}
