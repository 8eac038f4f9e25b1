package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/apiary-data/forager.report/internal/httputil"
	"github.com/apiary-data/forager.report/internal/units"
)

// echartsAssetsPrefix serves the echarts JS bundle from the go-echarts
// CDN so the debug charts work without shipping static assets.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleActivityChart renders per-interval crossing activity as a line
// chart. This is a debugging-only endpoint to eyeball gate traffic
// without the dashboard UI.
// Query params:
//   - hours (optional; default 24) lookback window
//   - limit (optional; default 500) max intervals
//   - tz (optional; default UTC) IANA timezone for the x-axis labels
func (ws *WebServer) handleActivityChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v > 0 && v <= 24*90 {
			hours = v
		}
	}
	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 5000 {
			limit = v
		}
	}
	tz := "UTC"
	if z := r.URL.Query().Get("tz"); z != "" {
		if !units.IsTimezoneValid(z) {
			httputil.BadRequest(w, fmt.Sprintf("unknown timezone %q", z))
			return
		}
		tz = z
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour).UnixNano()
	points, err := ws.db.ActivitySeries(since, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("activity series: %v", err))
		return
	}

	x := make([]string, 0, len(points))
	entering := make([]opts.LineData, 0, len(points))
	exiting := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		ts, err := units.ConvertTime(time.Unix(0, p.IntervalStartUnixNanos).UTC(), tz)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("convert time: %v", err))
			return
		}
		x = append(x, ts.Format("15:04"))
		entering = append(entering, opts.LineData{Value: p.Entering})
		exiting = append(exiting, opts.LineData{Value: p.Exiting})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Gate Activity", Subtitle: fmt.Sprintf("last %dh, %d intervals", hours, len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "crossings"}),
	)
	line.SetXAxis(x).
		AddSeries("entering", entering).
		AddSeries("exiting", exiting,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLabelsChart renders classification label totals as a bar chart.
// Query params:
//   - hours (optional; default 24) lookback window
func (ws *WebServer) handleLabelsChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v > 0 && v <= 24*90 {
			hours = v
		}
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour).UnixNano()
	totals, err := ws.db.LabelTotals(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("label totals: %v", err))
		return
	}

	labels := make([]string, 0, len(totals))
	for label := range totals {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	x := make([]string, 0, len(labels))
	y := make([]opts.BarData, 0, len(labels))
	for _, label := range labels {
		name := label
		if name == "" {
			name = "(unlabeled)"
		}
		x = append(x, name)
		y = append(y, opts.BarData{Value: totals[label]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Crossing Labels", Subtitle: fmt.Sprintf("last %dh", hours)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("crossings", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
