package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/relicsim/internal/relic"
)

// RenderSummary draws the relic observables of a run as a panel, one
// block per species followed by the totals.
func RenderSummary(title string, sum relic.Summary, t Theme) string {
	st := NewStyles(t)
	var rows []string
	rows = append(rows, GradientText(title, t.Primary, t.Secondary))
	rows = append(rows, st.Subtle.Render(fmt.Sprintf("evaluated at T_F = %s GeV", formatGeV(sum.TF))))

	for _, sp := range sum.Species {
		rows = append(rows, "")
		rows = append(rows, st.Header.Render(fmt.Sprintf("%s (%s)", sp.Label, sp.Kind)))
		rows = append(rows,
			metric(st, "T osc", optionalGeV(sp.TOsc)),
			metric(st, "T decouple", optionalGeV(sp.TDecouple)),
			metric(st, "T decay", optionalGeV(sp.TDecay)))

		where := "@TF"
		if sp.AtDecay {
			where = "@decay"
		}
		rows = append(rows,
			metric(st, "Ω h² "+where, formatValue(sp.Omega)),
			metric(st, "ΔNeff", formatValue(sp.DeltaNeff)))
	}

	rows = append(rows, "", st.Separator(36))
	rows = append(rows,
		metric(st, "Ω h² total", formatValue(sum.TotalOmega())),
		metric(st, "ΔNeff total", formatValue(sum.DeltaNeff)))
	return st.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func metric(st Styles, label, value string) string {
	return st.MetricLabel.Render(fmt.Sprintf("  %-14s", label)) + st.MetricValue.Render(value)
}

func optionalGeV(T *float64) string {
	if T == nil {
		return "-"
	}
	return formatGeV(*T) + " GeV"
}

func formatGeV(T float64) string {
	return strings.TrimSpace(fmt.Sprintf("%.3e", T))
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4e", v)
}
