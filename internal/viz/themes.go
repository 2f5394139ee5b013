package viz

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors of panels, plots and SVG output.
type Theme struct {
	Name       string
	Primary    lipgloss.Color
	Secondary  lipgloss.Color
	Accent     lipgloss.Color
	Background lipgloss.Color
	Text       lipgloss.Color
	Muted      lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
	// Series are the curve colors, cycled when there are more curves.
	Series []lipgloss.Color
}

var (
	ThemeNight = Theme{
		Name:       "night",
		Primary:    lipgloss.Color("#4fd6e8"),
		Secondary:  lipgloss.Color("#c77dff"),
		Accent:     lipgloss.Color("#f4d35e"),
		Background: lipgloss.Color("#0b0d17"),
		Text:       lipgloss.Color("#e8e8f0"),
		Muted:      lipgloss.Color("#5c6080"),
		Success:    lipgloss.Color("#57cc99"),
		Warning:    lipgloss.Color("#f4a259"),
		Error:      lipgloss.Color("#ef476f"),
		Series: []lipgloss.Color{
			"#00ccff", "#ff6b6b", "#5fd068", "#feca57", "#ff9ff3", "#ffffff",
		},
	}

	ThemePaper = Theme{
		Name:       "paper",
		Primary:    lipgloss.Color("#1f3a93"),
		Secondary:  lipgloss.Color("#555555"),
		Accent:     lipgloss.Color("#c0392b"),
		Background: lipgloss.Color("#ffffff"),
		Text:       lipgloss.Color("#111111"),
		Muted:      lipgloss.Color("#888888"),
		Success:    lipgloss.Color("#1e8449"),
		Warning:    lipgloss.Color("#b9770e"),
		Error:      lipgloss.Color("#c0392b"),
		Series: []lipgloss.Color{
			"#1f77b4", "#d62728", "#2ca02c", "#ff7f0e", "#9467bd", "#17becf",
		},
	}

	ThemeRetro = Theme{
		Name:       "retro",
		Primary:    lipgloss.Color("#33ff66"),
		Secondary:  lipgloss.Color("#22bb44"),
		Accent:     lipgloss.Color("#88ff88"),
		Background: lipgloss.Color("#021a08"),
		Text:       lipgloss.Color("#33ff66"),
		Muted:      lipgloss.Color("#1d5c2e"),
		Success:    lipgloss.Color("#88ff88"),
		Warning:    lipgloss.Color("#e6e65c"),
		Error:      lipgloss.Color("#ff5555"),
		Series: []lipgloss.Color{
			"#00ff00", "#88ff88", "#ffff00", "#00cc00",
		},
	}

	DefaultTheme = ThemeNight

	Themes = []Theme{ThemeNight, ThemePaper, ThemeRetro}
)

// GetTheme returns a theme by name, DefaultTheme when unknown.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return DefaultTheme
}

func ThemeNames() []string {
	names := make([]string, len(Themes))
	for i, t := range Themes {
		names[i] = t.Name
	}
	return names
}

// SeriesColor returns the color of the i-th curve.
func (t Theme) SeriesColor(i int) lipgloss.Color {
	if len(t.Series) == 0 {
		return t.Primary
	}
	return t.Series[i%len(t.Series)]
}
