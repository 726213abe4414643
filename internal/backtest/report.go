package backtest

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	reportTheme  = types.ThemeWesteros
	reportWidth  = "1200px"
	reportHeight = "520px"
)

// RenderReport writes a standalone HTML page with the run's equity
// curve and headline stats.
func RenderReport(run Run, w io.Writer) error {
	if len(run.EquityCurve) == 0 {
		return fmt.Errorf("report %s: no equity curve", run.ID)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  reportTheme,
			Width:  reportWidth,
			Height: reportHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Backtest %s", run.ID),
			Subtitle: subtitle(run),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Equity", Scale: opts.Bool(true)}),
	)

	dates := make([]string, 0, len(run.EquityCurve))
	points := make([]opts.LineData, 0, len(run.EquityCurve))
	for _, p := range run.EquityCurve {
		dates = append(dates, p.Date.Format("2006-01-02"))
		points = append(points, opts.LineData{Value: p.Equity})
	}
	line.SetXAxis(dates).AddSeries("equity", points,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false), ShowSymbol: opts.Bool(false)}),
	)
	return line.Render(w)
}

func subtitle(run Run) string {
	if run.Stats == nil {
		return run.Status
	}
	s := run.Stats
	return fmt.Sprintf("return %.2f%% | max drawdown %.2f%% | win rate %.1f%% over %d sells | fees %.2f",
		s.ReturnPct, s.MaxDrawdown, s.WinRatePct, s.TotalSells, s.FeesPaid)
}
