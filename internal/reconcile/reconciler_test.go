package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niftyshop/internal/broker"
	"niftyshop/internal/ledger"
	"niftyshop/internal/store/memstore"
)

const acct = "test-acct"

func day(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func insertFilled(t *testing.T, store ledger.Store, sym string, action ledger.Action, qty int64, price float64, at time.Time) {
	t.Helper()
	_, err := store.InsertTrade(context.Background(), &ledger.Trade{
		AccountID:   acct,
		Symbol:      sym,
		Action:      action,
		Price:       price,
		Quantity:    qty,
		AvgBuyPrice: price,
		TradedAt:    at,
		OrderID:     "ORD",
		Fill:        ledger.FillFilled,
		Resolution:  ledger.ResolutionOpen,
	})
	require.NoError(t, err)
}

func placeholders(t *testing.T, store ledger.Store, sym string) []ledger.Trade {
	t.Helper()
	out, err := store.FindTrades(context.Background(), ledger.TradeFilter{
		AccountID:  acct,
		Symbol:     sym,
		OrderID:    ledger.ManualOrderID,
		Resolution: ledger.ResolutionManualPrice,
	})
	require.NoError(t, err)
	return out
}

func TestReconcileFIFOGap(t *testing.T) {
	store := memstore.New()
	insertFilled(t, store, "RELIANCE", ledger.ActionBuy, 10, 100, day(0))
	insertFilled(t, store, "RELIANCE", ledger.ActionBuy, 5, 120, day(1))

	r := New(acct, store)
	actions, err := r.Reconcile(context.Background(), []broker.Holding{
		{Symbol: "RELIANCE", Quantity: 3},
	})
	require.NoError(t, err)
	require.Len(t, actions, 1)

	act := actions[0]
	assert.Equal(t, int64(12), act.Gap, "internal 15 vs broker 3")
	assert.InDelta(t, 103.33, act.WeightedAvg, 0.005, "(10*100 + 2*120) / 12")
	assert.Equal(t, 2, act.LotsUsed)

	rows := placeholders(t, store, "RELIANCE")
	require.Len(t, rows, 1)
	ph := rows[0]
	assert.Equal(t, ledger.ActionSell, ph.Action)
	assert.Equal(t, int64(12), ph.Quantity)
	assert.Zero(t, ph.Price, "exit price unknown until the operator supplies it")
	assert.InDelta(t, 103.33, ph.AvgBuyPrice, 0.005)
	assert.True(t, ph.TradedAt.Equal(day(0)), "dated to the earliest consumed lot")
	assert.Equal(t, ledger.ManualOrderID, ph.OrderID)
	assert.Equal(t, ledger.ResolutionManualPrice, ph.Resolution)
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := memstore.New()
	insertFilled(t, store, "INFY", ledger.ActionBuy, 10, 100, day(0))

	holdings := []broker.Holding{{Symbol: "INFY", Quantity: 4}}
	r := New(acct, store)

	first, err := r.Reconcile(context.Background(), holdings)
	require.NoError(t, err)
	require.Len(t, first, 1)
	want := placeholders(t, store, "INFY")

	second, err := r.Reconcile(context.Background(), holdings)
	require.NoError(t, err)
	assert.Empty(t, second, "a balanced placeholder must not be re-derived")
	assert.Equal(t, want, placeholders(t, store, "INFY"))
}

func TestReconcileRederivesWhenGapChanges(t *testing.T) {
	store := memstore.New()
	insertFilled(t, store, "TCS", ledger.ActionBuy, 10, 100, day(0))

	r := New(acct, store)
	_, err := r.Reconcile(context.Background(), []broker.Holding{{Symbol: "TCS", Quantity: 6}})
	require.NoError(t, err)
	require.Len(t, placeholders(t, store, "TCS"), 1)

	// Broker now shows even fewer shares: stale placeholder replaced.
	actions, err := r.Reconcile(context.Background(), []broker.Holding{{Symbol: "TCS", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	rows := placeholders(t, store, "TCS")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(8), rows[0].Quantity)
}

func TestReconcileNoActionWhenBalancedOrOver(t *testing.T) {
	store := memstore.New()
	insertFilled(t, store, "SBIN", ledger.ActionBuy, 10, 50, day(0))

	r := New(acct, store)

	actions, err := r.Reconcile(context.Background(), []broker.Holding{{Symbol: "SBIN", Quantity: 10}})
	require.NoError(t, err)
	assert.Empty(t, actions, "exact agreement needs no repair")

	actions, err = r.Reconcile(context.Background(), []broker.Holding{{Symbol: "SBIN", Quantity: 15}})
	require.NoError(t, err)
	assert.Empty(t, actions, "broker holding more than the ledger is never corrected automatically")
}

func TestReconcileAppliesPriorSells(t *testing.T) {
	store := memstore.New()
	insertFilled(t, store, "ITC", ledger.ActionBuy, 10, 100, day(0))
	insertFilled(t, store, "ITC", ledger.ActionBuy, 5, 110, day(1))
	insertFilled(t, store, "ITC", ledger.ActionSell, 10, 120, day(2))

	// FIFO: the sell consumes the whole first lot, internal open = 5.
	r := New(acct, store)
	actions, err := r.Reconcile(context.Background(), []broker.Holding{{Symbol: "ITC", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, int64(3), actions[0].Gap)
	assert.InDelta(t, 110.0, actions[0].WeightedAvg, 1e-9, "only the second lot remains open")
}

func TestReconcileMatchesQualifiedSymbols(t *testing.T) {
	store := memstore.New()
	insertFilled(t, store, "NSE:WIPRO-EQ", ledger.ActionBuy, 10, 250, day(0))

	r := New(acct, store)
	actions, err := r.Reconcile(context.Background(), []broker.Holding{
		{Symbol: "WIPRO", Quantity: 10},
	})
	require.NoError(t, err)
	assert.Empty(t, actions, "broker symbol without exchange prefix must still match")
}
