package viz

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles are the lipgloss styles derived from a theme.
type Styles struct {
	Panel       lipgloss.Style
	Header      lipgloss.Style
	MetricLabel lipgloss.Style
	MetricValue lipgloss.Style
	Subtle      lipgloss.Style
	Good        lipgloss.Style
	Warn        lipgloss.Style
	Bad         lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Muted).
			Padding(0, 2),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(t.Text).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(t.Muted),
		MetricLabel: lipgloss.NewStyle().Foreground(t.Muted),
		MetricValue: lipgloss.NewStyle().Foreground(t.Primary).Bold(true),
		Subtle:      lipgloss.NewStyle().Foreground(t.Muted),
		Good:        lipgloss.NewStyle().Foreground(t.Success),
		Warn:        lipgloss.NewStyle().Foreground(t.Warning),
		Bad:         lipgloss.NewStyle().Foreground(t.Error).Bold(true),
	}
}

// GradientText colors each rune of text along a linear gradient.
func GradientText(text string, start, end lipgloss.Color) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}
	sr, sg, sb := parseHex(string(start))
	er, eg, eb := parseHex(string(end))

	var out strings.Builder
	n := len(runes)
	for i, c := range runes {
		f := 0.0
		if n > 1 {
			f = float64(i) / float64(n-1)
		}
		col := hexColor(
			sr+int(f*float64(er-sr)),
			sg+int(f*float64(eg-sg)),
			sb+int(f*float64(eb-sb)))
		out.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(col)).Render(string(c)))
	}
	return out.String()
}

// ProgressBar renders fraction in [0, 1] as a bar of the given width.
func (s Styles) ProgressBar(fraction float64, width int) string {
	filled := int(fraction * float64(width))
	filled = min(max(filled, 0), width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	switch {
	case fraction > 0.8:
		return s.Good.Render(bar)
	case fraction > 0.4:
		return s.Warn.Render(bar)
	}
	return s.Subtle.Render(bar)
}

var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders the most recent width values as a one-line chart.
func (s Styles) Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return s.Subtle.Render(strings.Repeat("─", width))
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}
	var out strings.Builder
	for _, v := range values {
		idx := int((v - lo) / rng * float64(len(sparkChars)-1))
		idx = min(max(idx, 0), len(sparkChars)-1)
		out.WriteRune(sparkChars[idx])
	}
	return s.MetricValue.Render(out.String())
}

func (s Styles) Separator(width int) string {
	if width < 8 {
		return s.Subtle.Render(strings.Repeat("─", max(width, 0)))
	}
	mid := width / 2
	return s.Subtle.Render(strings.Repeat("─", mid-3) + " ◆ " + strings.Repeat("─", width-mid-3))
}

func parseHex(hex string) (r, g, b int) {
	if len(hex) != 7 || hex[0] != '#' {
		return 255, 255, 255
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return 255, 255, 255
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}

func hexColor(r, g, b int) string {
	clamp := func(v int) int { return min(max(v, 0), 255) }
	return "#" + hexByte(clamp(r)) + hexByte(clamp(g)) + hexByte(clamp(b))
}

func hexByte(v int) string {
	const digits = "0123456789abcdef"
	return string(digits[v/16]) + string(digits[v%16])
}
