package output

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/san-kum/relicsim/internal/relic"
)

func ptr(v float64) *float64 { return &v }

func sampleDocument() Document {
	return Document{
		Parameters: map[string]string{"T0": "10000", "TF": "0.001", "model": "wimp"},
		Summary: &relic.Summary{
			TF: 1e-3,
			Species: []relic.SpeciesSummary{
				{Label: "chi", TDecouple: ptr(21.37), Omega: 0.1187},
				{Label: "X", TDecouple: ptr(1e4), TDecay: ptr(0.953), AtDecay: true, Omega: 1.2e-40},
				{Label: "a", TOsc: ptr(15.5), Omega: 3.5e-3, DeltaNeff: 0},
			},
			DeltaNeff: 0.02,
		},
		Columns: []string{"a", "T (GeV)", "S (GeV^{3})", "n_{chi} (GeV^{3})", "rho_{chi} (GeV^{4})"},
		Rows: [][]float64{
			{1, 1e4, 1.2e14, 3.3e11, 1.1e15},
			{2.718281828, 3678.79, 1.2e14, 1.6e10, 2.2e13},
			{7.389056, 1353.35, 1.2e14, math.NaN(), math.NaN()},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	doc := sampleDocument()
	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	for k, v := range doc.Parameters {
		if got.Parameters[k] != v {
			t.Errorf("parameter %s = %q, want %q", k, got.Parameters[k], v)
		}
	}

	if len(got.Columns) != len(doc.Columns) {
		t.Fatalf("columns = %q, want %q", got.Columns, doc.Columns)
	}
	for i := range doc.Columns {
		if got.Columns[i] != doc.Columns[i] {
			t.Errorf("column %d = %q, want %q", i, got.Columns[i], doc.Columns[i])
		}
	}

	if len(got.Rows) != len(doc.Rows) {
		t.Fatalf("got %d rows, want %d", len(got.Rows), len(doc.Rows))
	}
	for i, row := range doc.Rows {
		for j, want := range row {
			v := got.Rows[i][j]
			if math.IsNaN(want) {
				if !math.IsNaN(v) {
					t.Errorf("row %d col %d = %g, want NaN", i, j, v)
				}
				continue
			}
			// four digits after the decimal point
			if math.Abs(v-want) > 5e-5*math.Abs(want) {
				t.Errorf("row %d col %d = %g, want %g", i, j, v, want)
			}
		}
	}

	sum := got.Summary
	if sum == nil {
		t.Fatal("summary missing")
	}
	if sum.TF != 1e-3 || sum.DeltaNeff != 0.02 {
		t.Errorf("summary TF=%g ΔNeff=%g", sum.TF, sum.DeltaNeff)
	}
	if len(sum.Species) != 3 {
		t.Fatalf("got %d species in summary", len(sum.Species))
	}
	x := sum.Species[1]
	if x.Label != "X" || !x.AtDecay || x.TDecay == nil || *x.TDecay != 0.953 || x.TOsc != nil {
		t.Errorf("species X = %+v", x)
	}
	if x.Omega != 1.2e-40 {
		t.Errorf("Omega(X) = %g", x.Omega)
	}
	a := sum.Species[2]
	if a.TOsc == nil || *a.TOsc != 15.5 || a.TDecouple != nil || a.AtDecay {
		t.Errorf("species a = %+v", a)
	}
}

func TestWriteLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleDocument()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# Parameters:\n# T0 = 10000\n# TF = 0.001\n# model = wimp\n",
		"# chi: T(osc)= None | T(decouple)= 21.37 | T(decay)= None | Omega h^2 (@TF) = 0.1187",
		"Omega h^2 (@decay) = 1.2e-40",
		"# Delta Neff (@TF) = 0.02\n",
		"1.0000E+04",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, separator+"\n") != 6 {
		t.Errorf("expected three delimited blocks:\n%s", out)
	}
}

func TestColumn(t *testing.T) {
	doc := sampleDocument()
	T, ok := doc.Column("T (GeV)")
	if !ok || len(T) != 3 || T[1] != 3678.79 {
		t.Errorf("Column(T) = %v, %v", T, ok)
	}
	if _, ok := doc.Column("missing"); ok {
		t.Error("Column(missing) reported ok")
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"short row", "#-------------\n# Header:\n#  a  T\n 1.0\n#-------------\n"},
		{"bad number", "#-------------\n# Header:\n#  a  T\n 1.0  abc\n#-------------\n"},
		{"bad summary", "#-------------\n# Summary\n# nonsense\n#-------------\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
