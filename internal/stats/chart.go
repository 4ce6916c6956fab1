package stats

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	chart "github.com/wcharczuk/go-chart"
	"github.com/wcharczuk/go-chart/drawing"

	"oodresample/internal/model"
)

// HistogramChartPath names the density-match chart of an epoch.
func HistogramChartPath(runDir string, epoch int) string {
	return filepath.Join(runDir, fmt.Sprintf("histogram_epoch_%03d.png", epoch))
}

// WriteHistogramChart renders observed, target and selected counts per bin
// as a PNG.
func WriteHistogramChart(path string, epoch int, h model.Histogram) error {
	bins := h.Bins()
	if bins < 2 || len(h.Edges) != bins+1 {
		return errors.New("histogram chart needs at least two bins and matching edges")
	}
	centers := make([]float64, bins)
	for i := range centers {
		centers[i] = (h.Edges[i] + h.Edges[i+1]) / 2
	}

	series := []chart.Series{
		countSeries("observed", centers, h.Observed, chart.ColorBlue),
		countSeries("target", centers, h.Target, chart.ColorRed),
	}
	if len(h.Selected) == bins {
		series = append(series, countSeries("selected", centers, h.Selected, chart.ColorGreen))
	}

	graph := chart.Chart{
		Title:      fmt.Sprintf("Epoch %d anomaly score histogram", epoch),
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      "Anomaly score",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		YAxis: chart.YAxis{
			Name:      "Samples",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := graph.Render(chart.PNG, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("render histogram chart: %w", err)
	}
	return f.Close()
}

func countSeries(name string, x []float64, counts []int, color drawing.Color) chart.ContinuousSeries {
	y := make([]float64, len(counts))
	for i, c := range counts {
		y[i] = float64(c)
	}
	return chart.ContinuousSeries{
		Name:    name,
		XValues: x,
		YValues: y,
		Style: chart.Style{
			Show:        true,
			StrokeColor: color,
		},
	}
}
