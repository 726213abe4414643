package strategy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niftyshop/internal/broker"
	"niftyshop/internal/broker/ratelimit"
	"niftyshop/internal/ledger"
)

type fakeBroker struct {
	quotes  map[string]float64
	history map[string][]broker.Candle
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) GetQuote(_ context.Context, sym string) (float64, error) {
	price, ok := f.quotes[sym]
	if !ok {
		return 0, fmt.Errorf("no quote for %s", sym)
	}
	return price, nil
}

func (f *fakeBroker) GetHistory(_ context.Context, sym string, days int) ([]broker.Candle, error) {
	series, ok := f.history[sym]
	if !ok {
		return nil, fmt.Errorf("no history for %s", sym)
	}
	if len(series) > days {
		series = series[len(series)-days:]
	}
	return series, nil
}

func (f *fakeBroker) GetHoldings(context.Context) ([]broker.Holding, error) { return nil, nil }
func (f *fakeBroker) GetFunds(context.Context) (float64, error)            { return 1e9, nil }
func (f *fakeBroker) PlaceOrder(context.Context, broker.OrderRequest) (broker.OrderReceipt, error) {
	return broker.OrderReceipt{}, nil
}
func (f *fakeBroker) GetOrderStatus(context.Context, string) (broker.OrderState, error) {
	return broker.OrderState{}, nil
}

func flatSeries(n int, close float64) []broker.Candle {
	out := make([]broker.Candle, n)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = broker.Candle{Date: day.AddDate(0, 0, i), Close: close}
	}
	return out
}

func testCaller() *ratelimit.Caller {
	c := ratelimit.NewCaller(ratelimit.Options{MinInterval: -1, MaxAttempts: 1})
	c.SetSleep(func(context.Context, time.Duration) error { return nil })
	return c
}

func newTestEngine(b broker.Broker, settings Settings) *Engine {
	return NewEngine(b, testCaller(), settings)
}

func TestMovingAverageUsesOnlyLastPeriod(t *testing.T) {
	// 10 noise bars followed by 20 bars at 100: the 20-bar MA must
	// ignore the noise entirely.
	series := append(flatSeries(10, 999), flatSeries(20, 100)...)
	ma, ok := MovingAverage(series, 20)
	require.True(t, ok)
	assert.InDelta(t, 100.0, ma, 1e-9)

	_, ok = MovingAverage(flatSeries(19, 100), 20)
	assert.False(t, ok, "short history must not produce an MA")
}

func TestScanEntriesRanksMostOversoldFirst(t *testing.T) {
	fb := &fakeBroker{
		quotes: map[string]float64{"AAA": 95, "BBB": 98},
		history: map[string][]broker.Candle{
			"AAA": flatSeries(30, 100),
			"BBB": flatSeries(30, 100),
		},
	}
	engine := newTestEngine(fb, Settings{
		MAPeriod:       30,
		EntryThreshold: -2.0,
		Symbols:        []string{"BBB", "AAA"},
	})
	got, err := engine.ScanEntries(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AAA", got[0].Symbol, "the -5%% name outranks the -2%% name")
	assert.InDelta(t, -5.0, got[0].Deviation, 1e-9)
	assert.Equal(t, "BBB", got[1].Symbol)
	assert.InDelta(t, -2.0, got[1].Deviation, 1e-9)
}

func TestScanEntriesThresholdBoundaryIsInclusive(t *testing.T) {
	fb := &fakeBroker{
		quotes: map[string]float64{"ON": 98, "OFF": 98.5},
		history: map[string][]broker.Candle{
			"ON":  flatSeries(30, 100),
			"OFF": flatSeries(30, 100),
		},
	}
	engine := newTestEngine(fb, Settings{
		MAPeriod:       30,
		EntryThreshold: -2.0,
		Symbols:        []string{"ON", "OFF"},
	})
	got, err := engine.ScanEntries(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ON", got[0].Symbol, "deviation exactly at the threshold qualifies")
}

func TestScanEntriesExclusions(t *testing.T) {
	fb := &fakeBroker{
		quotes: map[string]float64{
			"ABOVE": 101,   // above MA
			"HELD":  90,    // already held
			"SHORT": 90,    // not enough history
			"ZERO":  0,     // bad quote
			"GOOD":  95,
		},
		history: map[string][]broker.Candle{
			"ABOVE": flatSeries(30, 100),
			"HELD":  flatSeries(30, 100),
			"SHORT": flatSeries(10, 100),
			"ZERO":  flatSeries(30, 100),
			"GOOD":  flatSeries(30, 100),
		},
	}
	engine := newTestEngine(fb, Settings{
		MAPeriod:       30,
		EntryThreshold: -2.0,
		Symbols:        []string{"ABOVE", "HELD", "SHORT", "ZERO", "GOOD"},
	})
	got, err := engine.ScanEntries(context.Background(), map[string]bool{"HELD": true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "GOOD", got[0].Symbol)
}

func TestScanEntriesCapsCandidates(t *testing.T) {
	fb := &fakeBroker{quotes: map[string]float64{}, history: map[string][]broker.Candle{}}
	var symbols []string
	for i := 0; i < 8; i++ {
		sym := fmt.Sprintf("S%d", i)
		symbols = append(symbols, sym)
		// deeper discounts for higher i
		fb.quotes[sym] = 97 - float64(i)
		fb.history[sym] = flatSeries(30, 100)
	}
	engine := newTestEngine(fb, Settings{
		MAPeriod:        30,
		EntryThreshold:  -2.0,
		MaxStocksToScan: 5,
		Symbols:         symbols,
	})
	got, err := engine.ScanEntries(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "S7", got[0].Symbol, "deepest discount first")
}

func TestScanEntriesMatchesHeldAcrossSymbolFormats(t *testing.T) {
	// Brokers report holdings by bare scrip name while the universe
	// lists exchange-qualified symbols; the two must still match.
	fb := &fakeBroker{
		quotes:  map[string]float64{"NSE:INFY-EQ": 90},
		history: map[string][]broker.Candle{"NSE:INFY-EQ": flatSeries(30, 100)},
	}
	engine := newTestEngine(fb, Settings{
		MAPeriod:       30,
		EntryThreshold: -2.0,
		Symbols:        []string{"NSE:INFY-EQ"},
	})
	got, err := engine.ScanEntries(context.Background(), map[string]bool{"INFY": true})
	require.NoError(t, err)
	assert.Empty(t, got, "a held scrip must not re-enter under its qualified name")
}

func TestScanEntriesHeldNamesDoNotConsumeCapSlots(t *testing.T) {
	// The held filter runs before the MaxStocksToScan cap, so a held
	// top-ranked name never crowds out a fresh candidate.
	fb := &fakeBroker{quotes: map[string]float64{}, history: map[string][]broker.Candle{}}
	var symbols []string
	for i := 0; i < 3; i++ {
		sym := fmt.Sprintf("S%d", i)
		symbols = append(symbols, sym)
		fb.quotes[sym] = 95 - float64(i)
		fb.history[sym] = flatSeries(30, 100)
	}
	engine := newTestEngine(fb, Settings{
		MAPeriod:        30,
		EntryThreshold:  -2.0,
		MaxStocksToScan: 2,
		Symbols:         symbols,
	})
	// S2 is the deepest discount and already held.
	got, err := engine.ScanEntries(context.Background(), map[string]bool{"S2": true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "S1", got[0].Symbol)
	assert.Equal(t, "S0", got[1].Symbol)
}

func TestCheckExits(t *testing.T) {
	engine := newTestEngine(&fakeBroker{}, Settings{ExitThreshold: 5.0})
	positions := []ledger.Position{
		{Symbol: "FLAT", Quantity: 1, AvgPrice: 100, CurrentPrice: 102},  // +2%
		{Symbol: "WIN", Quantity: 1, AvgPrice: 100, CurrentPrice: 110},   // +10%
		{Symbol: "EDGE", Quantity: 1, AvgPrice: 100, CurrentPrice: 105},  // exactly +5%
		{Symbol: "LOSER", Quantity: 1, AvgPrice: 100, CurrentPrice: 90},  // -10%
	}
	got := engine.CheckExits(positions)
	require.Len(t, got, 2)
	assert.Equal(t, "WIN", got[0].Position.Symbol)
	assert.InDelta(t, 10.0, got[0].ProfitPct, 1e-9)
	assert.Equal(t, "EDGE", got[1].Position.Symbol, "profit exactly at the threshold qualifies")
}

func TestChooseAveragingTarget(t *testing.T) {
	engine := newTestEngine(&fakeBroker{}, Settings{AveragingThreshold: -5.0})
	positions := []ledger.Position{
		{Symbol: "MILD", Quantity: 1, AvgPrice: 100, CurrentPrice: 97},
		{Symbol: "BAD", Quantity: 1, AvgPrice: 100, CurrentPrice: 92},
		{Symbol: "WORSE", Quantity: 1, AvgPrice: 100, CurrentPrice: 88},
	}
	target, ok := engine.ChooseAveragingTarget(positions)
	require.True(t, ok)
	assert.Equal(t, "WORSE", target.Symbol)

	_, ok = engine.ChooseAveragingTarget(positions[:1])
	assert.False(t, ok, "a -3%% position must not trigger averaging at -5%%")
}

func TestChooseAveragingTargetSkipsUnpricedPositions(t *testing.T) {
	engine := newTestEngine(&fakeBroker{}, Settings{AveragingThreshold: -5.0})
	unpriced := ledger.Position{Symbol: "NSE:SBIN-EQ", Quantity: 10, AvgPrice: 100, CurrentPrice: 0}

	// A missing last price computes as -100% but must never win.
	target, ok := engine.ChooseAveragingTarget([]ledger.Position{
		unpriced,
		{Symbol: "DOWN", Quantity: 1, AvgPrice: 100, CurrentPrice: 92},
	})
	require.True(t, ok)
	assert.Equal(t, "DOWN", target.Symbol)

	_, ok = engine.ChooseAveragingTarget([]ledger.Position{unpriced})
	assert.False(t, ok, "an unpriced position alone must not trigger averaging")
}

func TestQuantitySizing(t *testing.T) {
	engine := newTestEngine(&fakeBroker{}, Settings{TradeAmount: 2000})
	assert.Equal(t, int64(13), engine.EntryQuantity(150))
	assert.Equal(t, int64(0), engine.EntryQuantity(2500), "unaffordable share yields zero")
	assert.Equal(t, int64(1), engine.AveragingQuantity(150), "single share by default")

	full := newTestEngine(&fakeBroker{}, Settings{TradeAmount: 2000, AveragingStyle: AveragingFullAllocation})
	assert.Equal(t, int64(13), full.AveragingQuantity(150))
}

func TestAllowsNewEntries(t *testing.T) {
	unlimited := Settings{MaxPositions: -1}.withDefaults()
	assert.True(t, unlimited.AllowsNewEntries(1000))

	limited := Settings{MaxPositions: 3}.withDefaults()
	assert.True(t, limited.AllowsNewEntries(2))
	assert.False(t, limited.AllowsNewEntries(3))
}
