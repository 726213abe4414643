package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"niftyshop/internal/broker"
	"niftyshop/internal/pkg/symbol"
)

// DefaultFee is the flat per-order charge deducted from cash.
const DefaultFee = 20.0

type simHolding struct {
	quantity int64
	avgCost  float64
}

// SimBroker implements the brokerage capability against a historical
// feed. History is always served strictly before the simulated date so
// the engine can never see the future, and every order fills instantly
// at the simulated date's close.
type SimBroker struct {
	feed    *Feed
	simDate time.Time
	cash    float64
	fee     float64

	holdings  map[string]*simHolding
	orders    map[string]broker.OrderState
	orderSeq  int
	feesPaid  float64
	fillCount int
}

var _ broker.Broker = (*SimBroker)(nil)

func NewSimBroker(feed *Feed, startingCash, fee float64) *SimBroker {
	if fee < 0 {
		fee = DefaultFee
	}
	return &SimBroker{
		feed:     feed,
		cash:     startingCash,
		fee:      fee,
		holdings: make(map[string]*simHolding),
		orders:   make(map[string]broker.OrderState),
	}
}

func (s *SimBroker) Name() string { return "simulator" }

// SetDate advances the simulation clock. Dates are compared at day
// granularity.
func (s *SimBroker) SetDate(d time.Time) {
	s.simDate = d.Truncate(24 * time.Hour)
}

// Cash returns the current balance, for stats.
func (s *SimBroker) Cash() float64 { return s.cash }

// FeesPaid returns total fees charged so far.
func (s *SimBroker) FeesPaid() float64 { return s.feesPaid }

// TradingDates returns the union of all bar dates across the feed,
// sorted ascending. The simulator steps over these.
func (s *SimBroker) TradingDates() []time.Time {
	seen := make(map[time.Time]bool)
	for _, sym := range s.feed.Symbols() {
		for _, c := range s.feed.Series(sym) {
			seen[c.Date.Truncate(24*time.Hour)] = true
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *SimBroker) GetQuote(_ context.Context, sym string) (float64, error) {
	c, ok := s.barAt(sym, s.simDate)
	if !ok {
		return 0, fmt.Errorf("sim: no bar for %s on %s", sym, s.simDate.Format("2006-01-02"))
	}
	return c.Close, nil
}

// GetHistory returns the trailing days bars strictly before the
// simulated date.
func (s *SimBroker) GetHistory(_ context.Context, sym string, days int) ([]broker.Candle, error) {
	series := s.feed.Series(sym)
	if len(series) == 0 {
		return nil, fmt.Errorf("sim: unknown symbol %s", sym)
	}
	var past []broker.Candle
	for _, c := range series {
		if !c.Date.Before(s.simDate) {
			break
		}
		past = append(past, c)
	}
	if days > 0 && len(past) > days {
		past = past[len(past)-days:]
	}
	return past, nil
}

func (s *SimBroker) GetHoldings(_ context.Context) ([]broker.Holding, error) {
	syms := make([]string, 0, len(s.holdings))
	for sym := range s.holdings {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	out := make([]broker.Holding, 0, len(syms))
	for _, sym := range syms {
		h := s.holdings[sym]
		if h.quantity <= 0 {
			continue
		}
		last := h.avgCost
		if c, ok := s.lastBarUpTo(sym, s.simDate); ok {
			last = c.Close
		}
		out = append(out, broker.Holding{
			Symbol:        sym,
			Quantity:      h.quantity,
			AvgCost:       h.avgCost,
			LastPrice:     last,
			UnrealizedPnL: (last - h.avgCost) * float64(h.quantity),
		})
	}
	return out, nil
}

func (s *SimBroker) GetFunds(_ context.Context) (float64, error) {
	return s.cash, nil
}

// PlaceOrder fills immediately at the simulated date's close and
// charges the flat fee.
func (s *SimBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) (broker.OrderReceipt, error) {
	sym := symbol.Normalize(req.Symbol)
	if req.Quantity <= 0 {
		return broker.OrderReceipt{}, broker.Fatal(fmt.Errorf("sim: order quantity must be positive"))
	}
	bar, ok := s.barAt(sym, s.simDate)
	if !ok {
		return broker.OrderReceipt{}, fmt.Errorf("sim: no bar for %s on %s", sym, s.simDate.Format("2006-01-02"))
	}
	price := bar.Close
	s.orderSeq++
	orderID := fmt.Sprintf("SIM-%06d", s.orderSeq)

	switch req.Side {
	case broker.SideBuy:
		cost := price*float64(req.Quantity) + s.fee
		if cost > s.cash {
			s.orders[orderID] = broker.OrderState{OrderID: orderID, Status: broker.OrderStatusRejected}
			return broker.OrderReceipt{OrderID: orderID, Status: broker.OrderStatusRejected},
				broker.Fatal(fmt.Errorf("sim: cost %.2f exceeds cash %.2f", cost, s.cash))
		}
		s.cash -= cost
		h := s.holdings[sym]
		if h == nil {
			h = &simHolding{}
			s.holdings[sym] = h
		}
		total := h.avgCost*float64(h.quantity) + price*float64(req.Quantity)
		h.quantity += req.Quantity
		h.avgCost = total / float64(h.quantity)
	case broker.SideSell:
		h := s.holdings[sym]
		if h == nil || h.quantity < req.Quantity {
			s.orders[orderID] = broker.OrderState{OrderID: orderID, Status: broker.OrderStatusRejected}
			return broker.OrderReceipt{OrderID: orderID, Status: broker.OrderStatusRejected},
				broker.Fatal(fmt.Errorf("sim: selling %d of %s but holding %d", req.Quantity, sym, heldQty(h)))
		}
		s.cash += price*float64(req.Quantity) - s.fee
		h.quantity -= req.Quantity
		if h.quantity == 0 {
			delete(s.holdings, sym)
		}
	default:
		return broker.OrderReceipt{}, broker.Fatal(fmt.Errorf("sim: unknown side %q", req.Side))
	}

	s.feesPaid += s.fee
	s.fillCount++
	s.orders[orderID] = broker.OrderState{OrderID: orderID, Status: broker.OrderStatusComplete}
	return broker.OrderReceipt{OrderID: orderID, Status: broker.OrderStatusComplete}, nil
}

func (s *SimBroker) GetOrderStatus(_ context.Context, orderID string) (broker.OrderState, error) {
	state, ok := s.orders[orderID]
	if !ok {
		return broker.OrderState{}, fmt.Errorf("sim: unknown order %s", orderID)
	}
	return state, nil
}

// Equity values the portfolio at the simulated date's closes plus cash.
func (s *SimBroker) Equity() float64 {
	total := s.cash
	for sym, h := range s.holdings {
		last := h.avgCost
		if c, ok := s.lastBarUpTo(sym, s.simDate); ok {
			last = c.Close
		}
		total += last * float64(h.quantity)
	}
	return total
}

func (s *SimBroker) barAt(sym string, date time.Time) (broker.Candle, bool) {
	for _, c := range s.feed.Series(sym) {
		if c.Date.Truncate(24 * time.Hour).Equal(date) {
			return c, true
		}
	}
	return broker.Candle{}, false
}

func (s *SimBroker) lastBarUpTo(sym string, date time.Time) (broker.Candle, bool) {
	var (
		found bool
		last  broker.Candle
	)
	for _, c := range s.feed.Series(sym) {
		if c.Date.Truncate(24 * time.Hour).After(date) {
			break
		}
		last, found = c, true
	}
	return last, found
}

func heldQty(h *simHolding) int64 {
	if h == nil {
		return 0
	}
	return h.quantity
}
