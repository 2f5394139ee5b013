// Package viz renders solver output for the terminal and for files.
//
// Series are taken from an [output.Document] so stored runs and fresh runs
// draw the same way:
//
//   - [Densities]: log10 of n, ρ or the yield n/s against log10 T
//   - [PlotSeries]: asciigraph line chart of several series
//   - [SeriesToSVG]: standalone SVG with the same series
//   - [RenderSummary]: lipgloss panel with the relic observables
//
// Colors come from a [Theme]; [GetTheme] falls back to the default theme
// for unknown names.
package viz
