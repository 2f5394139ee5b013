package storage

import (
	"encoding/json"
	"io"
	"math"

	"github.com/san-kum/relicsim/internal/relic"
)

type ExportData struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	T0      float64            `json:"t0"`
	TF      float64            `json:"tf"`
	Summary relic.Summary      `json:"summary"`
	Metrics map[string]float64 `json:"metrics"`
	Columns []string           `json:"columns"`
	// Rows hold null where a species was inactive.
	Rows [][]*float64 `json:"rows"`
}

// ExportJSON writes a run's metadata and table as one JSON document.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	doc, err := s.LoadData(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		ID:      meta.ID,
		Model:   meta.Model,
		T0:      meta.T0,
		TF:      meta.TF,
		Summary: meta.Summary,
		Metrics: meta.Metrics,
		Columns: doc.Columns,
		Rows:    make([][]*float64, len(doc.Rows)),
	}
	for i, row := range doc.Rows {
		out := make([]*float64, len(row))
		for j := range row {
			if v := row[j]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				out[j] = &v
			}
		}
		data.Rows[i] = out
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
