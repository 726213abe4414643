package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niftyshop/internal/ledger"
)

const acct = "test-acct"

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func insert(t *testing.T, s *Store, trade ledger.Trade) int64 {
	t.Helper()
	if trade.AccountID == "" {
		trade.AccountID = acct
	}
	id, err := s.InsertTrade(context.Background(), &trade)
	require.NoError(t, err)
	return id
}

func TestFindOpenLotsOrderAndFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Inserted out of order on purpose: lot consumption depends on the
	// store returning oldest-first.
	later := insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionBuy, Quantity: 5, Price: 110,
		TradedAt: day(3), OrderID: "ORD-2", Fill: ledger.FillFilled,
	})
	earlier := insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionBuy, Quantity: 5, Price: 100,
		TradedAt: day(1), OrderID: "ORD-1", Fill: ledger.FillFilled,
	})
	// Same day as "later": the lower id wins the tie.
	sameDay := insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionSell, Quantity: 2, Price: 115,
		TradedAt: day(3), OrderID: "ORD-3", Fill: ledger.FillFilled,
	})
	// None of these may appear: wrong symbol, wrong account, unfilled,
	// and a manual placeholder.
	insert(t, s, ledger.Trade{
		Symbol: "NSE:TCS-EQ", Action: ledger.ActionBuy, Quantity: 1, Price: 100,
		TradedAt: day(1), OrderID: "ORD-4", Fill: ledger.FillFilled,
	})
	insert(t, s, ledger.Trade{
		AccountID: "other", Symbol: "NSE:INFY-EQ", Action: ledger.ActionBuy, Quantity: 1,
		Price: 100, TradedAt: day(1), OrderID: "ORD-5", Fill: ledger.FillFilled,
	})
	insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionBuy, Quantity: 1, Price: 100,
		TradedAt: day(1), OrderID: "ORD-6", Fill: ledger.FillFailedToConfirm,
	})
	insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionSell, Quantity: 3, Price: 0,
		TradedAt: day(2), OrderID: ledger.ManualOrderID, Fill: ledger.FillFilled,
		Resolution: ledger.ResolutionManualPrice,
	})

	lots, err := s.FindOpenLots(ctx, acct, "NSE:INFY-EQ")
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.Equal(t, earlier, lots[0].ID)
	assert.Equal(t, later, lots[1].ID)
	assert.Equal(t, sameDay, lots[2].ID)
}

func TestAggregateNetOpenPosition(t *testing.T) {
	s := New()
	ctx := context.Background()

	insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionBuy, Quantity: 10, Price: 100,
		TradedAt: day(1), OrderID: "ORD-1", Fill: ledger.FillFilled,
	})
	insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionSell, Quantity: 4, Price: 105,
		TradedAt: day(2), OrderID: "ORD-2", Fill: ledger.FillFilled,
	})
	// Unconfirmed fills never count toward the net.
	insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionBuy, Quantity: 7, Price: 100,
		TradedAt: day(2), OrderID: "ORD-3", Fill: ledger.FillFailedToConfirm,
	})

	net, err := s.AggregateNetOpenPosition(ctx, acct, "NSE:INFY-EQ")
	require.NoError(t, err)
	assert.Equal(t, int64(6), net)

	// A manual sell placeholder reduces the net, which is what lets a
	// balanced symbol skip re-reconciliation.
	insert(t, s, ledger.Trade{
		Symbol: "NSE:INFY-EQ", Action: ledger.ActionSell, Quantity: 6, Price: 0,
		TradedAt: day(3), OrderID: ledger.ManualOrderID, Fill: ledger.FillFilled,
		Resolution: ledger.ResolutionManualPrice,
	})
	net, err = s.AggregateNetOpenPosition(ctx, acct, "NSE:INFY-EQ")
	require.NoError(t, err)
	assert.Zero(t, net)

	net, err = s.AggregateNetOpenPosition(ctx, acct, "NSE:TCS-EQ")
	require.NoError(t, err)
	assert.Zero(t, net, "an untraded symbol nets to zero")
}
