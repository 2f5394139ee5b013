package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/relicsim/internal/output"
)

// Quantity selects what a density series shows.
type Quantity string

const (
	NumberDensity Quantity = "n"
	EnergyDensity Quantity = "rho"
	Yield         Quantity = "Y"
)

// ParseQuantity accepts the short names n, rho and Y.
func ParseQuantity(s string) (Quantity, error) {
	switch q := Quantity(s); q {
	case NumberDensity, EnergyDensity, Yield:
		return q, nil
	}
	return "", fmt.Errorf("unknown quantity %q (want n, rho or Y)", s)
}

// Series is one curve in log-log space. X is log10 T, Y is log10 of the
// quantity; points where the quantity is not positive hold NaN.
type Series struct {
	Label string
	X     []float64
	Y     []float64
}

// Finite reports whether the series has at least one drawable point.
func (s Series) Finite() bool {
	for _, y := range s.Y {
		if !math.IsNaN(y) && !math.IsInf(y, 0) {
			return true
		}
	}
	return false
}

const (
	numberPrefix = "n_{"
	numberSuffix = "} (GeV^{3})"
)

// Labels returns the species labels of a document in column order.
func Labels(doc output.Document) []string {
	var labels []string
	for _, c := range doc.Columns {
		if strings.HasPrefix(c, numberPrefix) && strings.HasSuffix(c, numberSuffix) {
			labels = append(labels, strings.TrimSuffix(strings.TrimPrefix(c, numberPrefix), numberSuffix))
		}
	}
	return labels
}

// Densities extracts one series per species. The yield divides n by the
// entropy density s = S/a³.
func Densities(doc output.Document, q Quantity) ([]Series, error) {
	T, ok := doc.Column("T (GeV)")
	if !ok {
		return nil, fmt.Errorf("document has no temperature column")
	}
	a, _ := doc.Column("a")
	S, _ := doc.Column("S (GeV^{3})")
	if q == Yield && (a == nil || S == nil) {
		return nil, fmt.Errorf("yield needs the a and S columns")
	}

	x := make([]float64, len(T))
	for i, t := range T {
		x[i] = log10(t)
	}

	var out []Series
	for _, label := range Labels(doc) {
		name := numberPrefix + label + numberSuffix
		if q == EnergyDensity {
			name = fmt.Sprintf("rho_{%s} (GeV^{4})", label)
		}
		col, ok := doc.Column(name)
		if !ok {
			return nil, fmt.Errorf("document has no column %q", name)
		}
		y := make([]float64, len(col))
		for i, v := range col {
			if q == Yield {
				v *= a[i] * a[i] * a[i] / S[i]
			}
			y[i] = log10(v)
		}
		out = append(out, Series{Label: label, X: x, Y: y})
	}
	return out, nil
}

func log10(v float64) float64 {
	if !(v > 0) || math.IsInf(v, 0) {
		return math.NaN()
	}
	return math.Log10(v)
}
