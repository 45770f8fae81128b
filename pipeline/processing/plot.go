package processing

import (
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/hotelres/dataset"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

var (
	selectedColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	droppedColor  = color.RGBA{R: 0xc7, G: 0xc7, B: 0xc7, A: 0xff}
)

// RenderImportancePlot draws a horizontal bar chart of importances as PNG.
// The first entry is drawn at the top. Selected features are highlighted.
func RenderImportancePlot(w io.Writer, importances []FeatureImportance) error {
	if len(importances) == 0 {
		return errors.New("no feature importances to plot")
	}

	p := plot.New()
	p.Title.Text = "Feature importance"
	p.X.Label.Text = "normalized gain"
	p.X.Min = 0

	// plotter draws the first value at the bottom, so reverse
	n := len(importances)
	names := make([]string, n)
	selected := make(plotter.Values, n)
	dropped := make(plotter.Values, n)
	for i, fi := range importances {
		k := n - 1 - i
		names[k] = fi.Feature
		if fi.Selected {
			selected[k] = fi.Importance
		} else {
			dropped[k] = fi.Importance
		}
	}

	width := vg.Points(10)
	for _, series := range []struct {
		values plotter.Values
		color  color.Color
	}{
		{selected, selectedColor},
		{dropped, droppedColor},
	} {
		bars, err := plotter.NewBarChart(series.values, width)
		if err != nil {
			return errors.Wrap(err, "build bar chart")
		}
		bars.Horizontal = true
		bars.Color = series.color
		bars.LineStyle.Width = 0
		p.Add(bars)
	}
	p.NominalY(names...)

	height := vg.Length(n)*vg.Points(16) + 2*vg.Centimeter
	wt, err := p.WriterTo(6*vg.Inch, height, "png")
	if err != nil {
		return errors.Wrap(err, "render plot")
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveImportancePlot renders the chart to path atomically.
func SaveImportancePlot(importances []FeatureImportance, path string) error {
	return dataset.WriteFileAtomic(path, func(w io.Writer) error {
		return RenderImportancePlot(w, importances)
	})
}
