// Package output writes and reads the commented text format of a solve:
// a parameter block, a summary block and a fixed-width data table.
package output

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/relicsim/internal/relic"
	"github.com/san-kum/relicsim/internal/sim"
)

const (
	separator     = "#-------------"
	parametersTag = "# Parameters:"
	summaryTag    = "# Summary"
	headerTag     = "# Header:"
	none          = "None"
)

// Document is the content of one output file.
type Document struct {
	Parameters map[string]string
	Summary    *relic.Summary
	Columns    []string
	Rows       [][]float64
}

// NewDocument tabulates a result: a, T, S followed by n and ρ of every
// species in list order.
func NewDocument(params map[string]string, res *sim.Result, sum *relic.Summary) Document {
	doc := Document{Parameters: params, Summary: sum}
	doc.Columns = []string{"a", "T (GeV)", "S (GeV^{3})"}
	for _, sp := range res.Species {
		doc.Columns = append(doc.Columns,
			fmt.Sprintf("n_{%s} (GeV^{3})", sp.Label()),
			fmt.Sprintf("rho_{%s} (GeV^{4})", sp.Label()))
	}
	tr := res.Trajectory
	doc.Rows = make([][]float64, tr.Len())
	for i := range doc.Rows {
		row := []float64{tr.ScaleFactor[i], tr.T[i], tr.S[i]}
		for _, sp := range res.Species {
			row = append(row, at(sp.NumberDensities(), i), at(sp.EnergyDensities(), i))
		}
		doc.Rows[i] = row
	}
	return doc
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return math.NaN()
}

// Column returns the values of the named column.
func (d *Document) Column(name string) ([]float64, bool) {
	for j, c := range d.Columns {
		if c != name {
			continue
		}
		out := make([]float64, len(d.Rows))
		for i, row := range d.Rows {
			out[i] = row[j]
		}
		return out, true
	}
	return nil, false
}

func Write(w io.Writer, doc Document) error {
	bw := bufio.NewWriter(w)
	if len(doc.Parameters) > 0 {
		writeParameters(bw, doc.Parameters)
	}
	if doc.Summary != nil {
		writeSummary(bw, doc.Summary)
	}
	if len(doc.Columns) > 0 {
		if err := writeData(bw, doc.Columns, doc.Rows); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeParameters(w *bufio.Writer, params map[string]string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, parametersTag)
	for _, k := range keys {
		fmt.Fprintf(w, "# %s = %s\n", k, params[k])
	}
	fmt.Fprintln(w, separator)
}

func writeSummary(w *bufio.Writer, sum *relic.Summary) {
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, summaryTag)
	fmt.Fprintf(w, "# TF=%s\n", formatFloat(sum.TF))
	for _, s := range sum.Species {
		tag := "(@TF)"
		if s.AtDecay {
			tag = "(@decay)"
		}
		fmt.Fprintf(w, "# %s: T(osc)= %s | T(decouple)= %s | T(decay)= %s | Omega h^2 %s = %s | Delta Neff = %s\n",
			s.Label, formatOptional(s.TOsc), formatOptional(s.TDecouple), formatOptional(s.TDecay),
			tag, formatFloat(s.Omega), formatFloat(s.DeltaNeff))
		fmt.Fprintln(w, "# ")
	}
	fmt.Fprintf(w, "# Delta Neff (@TF) = %s\n", formatFloat(sum.DeltaNeff))
	fmt.Fprintln(w, separator)
}

func writeData(w *bufio.Writer, columns []string, rows [][]float64) error {
	width := 11
	for _, c := range columns {
		width = max(width, len(c))
	}
	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = center(c, width)
	}
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, headerTag)
	fmt.Fprintln(w, "# "+strings.Join(cells, "  "))
	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("output: row %d has %d values, header %d", i, len(row), len(columns))
		}
		for j, v := range row {
			cells[j] = center(fmt.Sprintf("%.4E", v), width)
		}
		fmt.Fprintln(w, "  "+strings.Join(cells, "  "))
	}
	fmt.Fprintln(w, separator)
	return nil
}

func center(s string, width int) string {
	pad := width - len(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func formatOptional(v *float64) string {
	if v == nil {
		return none
	}
	return formatFloat(*v)
}

var (
	columnSplit = regexp.MustCompile(`\s{2,}`)
	speciesLine = regexp.MustCompile(`^(.+?): (.*)$`)
)

// Read parses a document written by Write. Blocks may appear in any order
// and each is optional.
func Read(r io.Reader) (*Document, error) {
	doc := &Document{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	block := ""
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		switch {
		case text == separator:
			block = ""
			continue
		case text == parametersTag:
			block = "parameters"
			doc.Parameters = map[string]string{}
			continue
		case text == summaryTag:
			block = "summary"
			doc.Summary = &relic.Summary{}
			continue
		case text == headerTag:
			block = "header"
			continue
		}

		var err error
		switch block {
		case "parameters":
			k, v, ok := strings.Cut(strings.TrimPrefix(text, "# "), " = ")
			if ok {
				doc.Parameters[strings.TrimSpace(k)] = v
			}
		case "summary":
			err = readSummaryLine(doc.Summary, strings.TrimSpace(strings.TrimPrefix(text, "#")))
		case "header":
			for _, c := range columnSplit.Split(strings.TrimSpace(strings.TrimPrefix(text, "#")), -1) {
				doc.Columns = append(doc.Columns, strings.TrimSpace(c))
			}
			block = "data"
		case "data":
			err = readRow(doc, text)
		}
		if err != nil {
			return nil, fmt.Errorf("output: line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func readSummaryLine(sum *relic.Summary, text string) error {
	if text == "" {
		return nil
	}
	if v, ok := strings.CutPrefix(text, "TF="); ok {
		f, err := parseFloat(v)
		sum.TF = f
		return err
	}
	if v, ok := strings.CutPrefix(text, "Delta Neff (@TF) ="); ok {
		f, err := parseFloat(v)
		sum.DeltaNeff = f
		return err
	}
	m := speciesLine.FindStringSubmatch(text)
	if m == nil {
		return fmt.Errorf("unrecognised summary line %q", text)
	}
	s := relic.SpeciesSummary{Label: m[1]}
	for _, field := range strings.Split(m[2], "|") {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return fmt.Errorf("malformed summary field %q", field)
		}
		k = strings.TrimSpace(k)
		switch {
		case k == "T(osc)":
			s.TOsc = parseOptional(v)
		case k == "T(decouple)":
			s.TDecouple = parseOptional(v)
		case k == "T(decay)":
			s.TDecay = parseOptional(v)
		case strings.HasPrefix(k, "Omega h^2"):
			s.AtDecay = strings.Contains(k, "(@decay)")
			f, err := parseFloat(v)
			if err != nil {
				return err
			}
			s.Omega = f
		case k == "Delta Neff":
			f, err := parseFloat(v)
			if err != nil {
				return err
			}
			s.DeltaNeff = f
		}
	}
	sum.Species = append(sum.Species, s)
	return nil
}

func readRow(doc *Document, text string) error {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	if len(fields) != len(doc.Columns) {
		return fmt.Errorf("row has %d values, header %d", len(fields), len(doc.Columns))
	}
	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := parseFloat(f)
		if err != nil {
			return err
		}
		row[i] = v
	}
	doc.Rows = append(doc.Rows, row)
	return nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func parseOptional(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == none {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
