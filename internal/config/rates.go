package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/interp"

	"github.com/san-kum/relicsim/internal/dynamo"
	"github.com/san-kum/relicsim/internal/species"
)

// RateSpec is either a constant or a table of values against x = m/T.
type RateSpec struct {
	Constant *float64   `yaml:"constant,omitempty"`
	Table    *RateTable `yaml:"table,omitempty"`
}

// RateTable is interpolated linearly in the log of the value. Points may be
// given inline or read from a whitespace separated file with x in the
// first column and the value in the second.
type RateTable struct {
	File   string       `yaml:"file,omitempty"`
	Points [][2]float64 `yaml:"points,omitempty,flow"`
	// Scale multiplies every value, for unit conversion.
	Scale float64 `yaml:"scale,omitempty"`
	// MassScale is the m in x = m/T.
	MassScale float64 `yaml:"mass_scale"`
}

func Constant(v float64) *RateSpec { return &RateSpec{Constant: &v} }

func (r *RateSpec) clone() *RateSpec {
	if r == nil {
		return nil
	}
	c := *r
	if r.Constant != nil {
		v := *r.Constant
		c.Constant = &v
	}
	if r.Table != nil {
		t := *r.Table
		t.Points = append([][2]float64(nil), r.Table.Points...)
		c.Table = &t
	}
	return &c
}

// Func returns the rate as a function of temperature. dir resolves a
// relative table file.
func (r RateSpec) Func(dir string) (species.Func, error) {
	switch {
	case r.Constant != nil && r.Table != nil:
		return nil, &dynamo.ConfigError{Subject: "rate", Reason: "both constant and table given"}
	case r.Constant != nil:
		v := *r.Constant
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &dynamo.ConfigError{Subject: "rate", Reason: fmt.Sprintf("non-finite constant %v", v)}
		}
		return func(float64) float64 { return v }, nil
	case r.Table != nil:
		return r.Table.build(dir)
	}
	return nil, &dynamo.ConfigError{Subject: "rate", Reason: "empty rate"}
}

func (t *RateTable) build(dir string) (species.Func, error) {
	if !(t.MassScale > 0) {
		return nil, &dynamo.ConfigError{Subject: "rate table", Reason: "mass_scale must be positive"}
	}
	pts := t.Points
	if t.File != "" {
		path := t.File
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}
		var err error
		if pts, err = ReadRateFile(path); err != nil {
			return nil, err
		}
	}
	if len(pts) < 2 {
		return nil, &dynamo.ConfigError{Subject: "rate table", Reason: fmt.Sprintf("need at least 2 points, got %d", len(pts))}
	}
	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	if scale < 0 {
		return nil, &dynamo.ConfigError{Subject: "rate table", Reason: "negative scale"}
	}

	xs := make([]float64, len(pts))
	ls := make([]float64, len(pts))
	for i, p := range pts {
		if i > 0 && !(p[0] > pts[i-1][0]) {
			return nil, &dynamo.ConfigError{Subject: "rate table", Reason: fmt.Sprintf("x not increasing at row %d", i)}
		}
		if !(p[1] > 0) {
			return nil, &dynamo.ConfigError{Subject: "rate table", Reason: fmt.Sprintf("non-positive value at row %d", i)}
		}
		xs[i] = p[0]
		ls[i] = math.Log(p[1] * scale)
	}

	var fit interp.PiecewiseLinear
	if err := fit.Fit(xs, ls); err != nil {
		return nil, err
	}
	m := t.MassScale
	first, last := xs[0], xs[len(xs)-1]
	slope := (ls[1] - ls[0]) / (xs[1] - xs[0])
	return func(T float64) float64 {
		x := m / T
		switch {
		case x > last:
			return 0
		case x < first:
			// extrapolate the first segment
			return math.Exp(ls[0] + slope*(x-first))
		}
		return math.Exp(fit.Predict(x))
	}, nil
}

// ReadRateFile reads two numeric columns. Lines starting with '#' and
// lines that do not parse as numbers are skipped.
func ReadRateFile(path string) ([][2]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pts [][2]float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		x, errX := strconv.ParseFloat(fields[0], 64)
		v, errV := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errV != nil {
			continue
		}
		pts = append(pts, [2]float64{x, v})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pts, nil
}
