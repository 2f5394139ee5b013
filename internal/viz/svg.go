package viz

import (
	"fmt"
	"math"
	"strings"
)

// SeriesToSVG draws the series in log-log space with temperature
// decreasing to the right. Gaps in a series (NaN) break its path.
func SeriesToSVG(series []Series, width, height int, t Theme) (string, error) {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for i, y := range s.Y {
			if !drawable(s.X[i], y) {
				continue
			}
			minX, maxX = math.Min(minX, s.X[i]), math.Max(maxX, s.X[i])
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
	}
	if math.IsInf(minX, 1) {
		return "", ErrNothingToPlot
	}

	rangeX, rangeY := maxX-minX, maxY-minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeY = maxY - minY

	w, h := float64(width), float64(height)
	px := func(x float64) float64 { return (maxX - x) / rangeX * w }
	py := func(y float64) float64 { return h - (y-minY)/rangeY*h }

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="%s"/>
`, width, height, width, height, t.Background)

	for k, s := range series {
		color := t.SeriesColor(k)
		var d strings.Builder
		pen := false
		for i, y := range s.Y {
			if !drawable(s.X[i], y) {
				pen = false
				continue
			}
			cmd := "L"
			if !pen {
				cmd = "M"
			}
			if d.Len() > 0 {
				d.WriteByte(' ')
			}
			fmt.Fprintf(&d, "%s%.1f,%.1f", cmd, px(s.X[i]), py(y))
			pen = true
		}
		if d.Len() == 0 {
			continue
		}
		fmt.Fprintf(&sb, "<path fill=\"none\" stroke=\"%s\" stroke-width=\"1.5\" d=\"%s\"/>\n", color, d.String())
		fmt.Fprintf(&sb, "<text x=\"8\" y=\"%d\" fill=\"%s\" font-family=\"monospace\" font-size=\"12\">%s</text>\n",
			16*(k+1), color, escape(s.Label))
	}

	fmt.Fprintf(&sb, "<text x=\"%d\" y=\"%d\" fill=\"%s\" font-family=\"monospace\" font-size=\"11\" text-anchor=\"end\">log10 T: %.2f to %.2f</text>\n",
		width-8, height-8, t.Muted, maxX, minX)
	sb.WriteString("</svg>")
	return sb.String(), nil
}

func drawable(x, y float64) bool {
	return !math.IsNaN(x) && !math.IsNaN(y) && !math.IsInf(x, 0) && !math.IsInf(y, 0)
}

var svgEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string { return svgEscaper.Replace(s) }
