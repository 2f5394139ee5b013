package viz

import (
	"errors"
	"fmt"

	"github.com/guptarohit/asciigraph"
)

// PlotOptions configure a terminal plot.
type PlotOptions struct {
	Width   int
	Height  int
	Caption string
}

func DefaultPlotOptions() PlotOptions {
	return PlotOptions{Width: 80, Height: 15}
}

var ansiPalette = []asciigraph.AnsiColor{
	asciigraph.Cyan, asciigraph.Red, asciigraph.Green,
	asciigraph.Yellow, asciigraph.Magenta, asciigraph.Blue,
}

var ErrNothingToPlot = errors.New("no finite values to plot")

// PlotSeries draws the series on one asciigraph chart. The horizontal axis is
// the trajectory index, so temperature decreases to the right.
func PlotSeries(series []Series, opts PlotOptions) (string, error) {
	var (
		data    [][]float64
		legends []string
		colors  []asciigraph.AnsiColor
	)
	for _, s := range series {
		if !s.Finite() {
			continue
		}
		data = append(data, s.Y)
		legends = append(legends, s.Label)
		colors = append(colors, ansiPalette[len(colors)%len(ansiPalette)])
	}
	if len(data) == 0 {
		return "", ErrNothingToPlot
	}

	caption := opts.Caption
	if caption == "" {
		caption = axisCaption(series)
	}
	return asciigraph.PlotMany(data,
		asciigraph.Width(opts.Width),
		asciigraph.Height(opts.Height),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
		asciigraph.SeriesLegends(legends...),
	), nil
}

func axisCaption(series []Series) string {
	for _, s := range series {
		if len(s.X) > 1 {
			return fmt.Sprintf("log10 T from %.2f to %.2f", s.X[0], s.X[len(s.X)-1])
		}
	}
	return ""
}
