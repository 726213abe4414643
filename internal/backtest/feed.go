// Package backtest runs the live decision logic over historical data:
// a simulated broker serves candles with no look-ahead and fills every
// order instantly at the close, so cycle behavior is deterministic.
package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"niftyshop/internal/broker"
	"niftyshop/internal/pkg/symbol"
)

// Feed holds daily candles per symbol, sorted by date ascending.
type Feed struct {
	series map[string][]broker.Candle
}

func NewFeed() *Feed {
	return &Feed{series: make(map[string][]broker.Candle)}
}

// Symbols returns the symbols the feed carries, sorted.
func (f *Feed) Symbols() []string {
	out := make([]string, 0, len(f.series))
	for sym := range f.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Series returns the full candle series for a symbol.
func (f *Feed) Series(sym string) []broker.Candle {
	return f.series[symbol.Normalize(sym)]
}

// Add inserts a series, normalizing the symbol and sorting by date.
func (f *Feed) Add(sym string, candles []broker.Candle) {
	sorted := make([]broker.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	f.series[symbol.Normalize(sym)] = sorted
}

// Span returns the earliest and latest candle dates across all symbols.
func (f *Feed) Span() (start, end time.Time, ok bool) {
	for _, candles := range f.series {
		if len(candles) == 0 {
			continue
		}
		first, last := candles[0].Date, candles[len(candles)-1].Date
		if !ok || first.Before(start) {
			start = first
		}
		if !ok || last.After(end) {
			end = last
		}
		ok = true
	}
	return start, end, ok
}

// LoadDir reads every *.json file in dir as one symbol's candle series,
// named after the file. The payload is the broker history format: a
// "candles" array of [epoch, open, high, low, close, volume] rows.
func LoadDir(dir string) (*Feed, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backtest feed: %w", err)
	}
	feed := NewFeed()
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		sym := symbol.Normalize(e.Name()[:len(e.Name())-len(".json")])
		candles, err := loadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("backtest feed %s: %w", e.Name(), err)
		}
		feed.Add(sym, candles)
	}
	if len(feed.series) == 0 {
		return nil, fmt.Errorf("backtest feed: no candle files in %s", dir)
	}
	return feed, nil
}

func loadFile(path string) ([]broker.Candle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(raw)
	rows := doc.Get("candles")
	if !rows.Exists() {
		rows = doc
	}
	var candles []broker.Candle
	var badRow error
	rows.ForEach(func(_, row gjson.Result) bool {
		arr := row.Array()
		if len(arr) < 5 {
			badRow = fmt.Errorf("candle row needs at least 5 fields, got %d", len(arr))
			return false
		}
		c := broker.Candle{
			Date:  time.Unix(arr[0].Int(), 0).UTC(),
			Open:  arr[1].Float(),
			High:  arr[2].Float(),
			Low:   arr[3].Float(),
			Close: arr[4].Float(),
		}
		if len(arr) > 5 {
			c.Volume = arr[5].Int()
		}
		candles = append(candles, c)
		return true
	})
	if badRow != nil {
		return nil, badRow
	}
	return candles, nil
}
