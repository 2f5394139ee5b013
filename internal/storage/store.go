// Package storage keeps finished solves on disk: one directory per run
// holding the model, the output table and the metadata, plus a SQLite
// catalogue for listing and searching runs.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/san-kum/relicsim/internal/config"
	"github.com/san-kum/relicsim/internal/output"
	"github.com/san-kum/relicsim/internal/relic"
	"github.com/san-kum/relicsim/internal/sim"
)

const (
	catalogueFile = "catalogue.db"
	metadataFile  = "metadata.json"
	modelFile     = "model.yaml"
	dataFile      = "data.txt"
)

var ErrNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
	db      *sql.DB
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Init creates the base directory and opens the catalogue.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", filepath.Join(s.baseDir, catalogueFile))
	if err != nil {
		return fmt.Errorf("open catalogue: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		created INTEGER NOT NULL,
		t0 REAL NOT NULL,
		tf REAL NOT NULL,
		reached INTEGER NOT NULL,
		omega REAL NOT NULL,
		delta_neff REAL NOT NULL
	)`); err != nil {
		_ = db.Close()
		return fmt.Errorf("create runs table: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Model     string             `json:"model"`
	Timestamp time.Time          `json:"timestamp"`
	T0        float64            `json:"t0"`
	TF        float64            `json:"tf"`
	Reached   bool               `json:"reached"`
	Segments  int                `json:"segments"`
	Steps     int                `json:"steps"`
	Elapsed   float64            `json:"elapsed_seconds"`
	Species   []string           `json:"species"`
	Summary   relic.Summary      `json:"summary"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Run is everything a finished solve leaves behind.
type Run struct {
	Model   *config.Model
	Result  *sim.Result
	Summary relic.Summary
	Metrics map[string]float64
}

// TotalOmega sums Ωh² over the species present at the final temperature.
func (m *RunMetadata) TotalOmega() float64 { return m.Summary.TotalOmega() }

func (s *Store) Save(run Run) (string, error) {
	if s.db == nil {
		return "", errors.New("storage: store not initialised")
	}
	id := uuid.NewString()
	runDir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	res := run.Result
	meta := RunMetadata{
		ID:        id,
		Model:     run.Model.Name,
		Timestamp: time.Now(),
		T0:        res.T0,
		TF:        res.TF,
		Reached:   res.Reached,
		Segments:  len(res.Segments),
		Steps:     res.Stats.Steps,
		Elapsed:   res.Elapsed.Seconds(),
		Species:   res.Species.Labels(),
		Summary:   run.Summary,
		Metrics:   run.Metrics,
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(runDir, modelFile), run.Model); err != nil {
		return "", err
	}

	f, err := os.Create(filepath.Join(runDir, dataFile))
	if err != nil {
		return "", err
	}
	defer f.Close()
	doc := output.NewDocument(Parameters(run.Model), res, &run.Summary)
	if err := output.Write(f, doc); err != nil {
		return "", err
	}

	if _, err := s.db.Exec(`INSERT INTO runs (id, model, created, t0, tf, reached, omega, delta_neff)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, meta.Model, meta.Timestamp.UnixNano(), meta.T0, meta.TF, meta.Reached,
		meta.TotalOmega(), meta.Summary.DeltaNeff); err != nil {
		return "", fmt.Errorf("catalogue insert: %w", err)
	}
	return id, nil
}

// Parameters flattens the headline model settings for the output file.
func Parameters(m *config.Model) map[string]string {
	p := map[string]string{
		"model":   m.Name,
		"T0":      fmt.Sprint(m.ReheatTemperature),
		"TF":      fmt.Sprint(m.FinalTemperature),
		"points":  fmt.Sprint(m.Points),
		"rtol":    fmt.Sprint(m.Solver.RTol),
		"atol":    fmt.Sprint(m.Solver.ATol),
		"species": fmt.Sprint(len(m.Species)),
	}
	for _, sc := range m.Species {
		p["mass_"+sc.Label] = fmt.Sprint(sc.Mass)
	}
	return p
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// List returns every catalogued run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	return s.query(`SELECT id FROM runs ORDER BY created DESC`)
}

// Search returns the runs of one model, newest first.
func (s *Store) Search(model string) ([]RunMetadata, error) {
	return s.query(`SELECT id FROM runs WHERE model = ? ORDER BY created DESC`, model)
}

func (s *Store) query(q string, args ...any) ([]RunMetadata, error) {
	if s.db == nil {
		return nil, errors.New("storage: store not initialised")
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalogue query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]RunMetadata, 0, len(ids))
	for _, id := range ids {
		meta, err := s.Load(id)
		if err != nil {
			// directory removed behind the catalogue's back
			continue
		}
		runs = append(runs, *meta)
	}
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, runID)
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadModel returns the model definition a run was solved from.
func (s *Store) LoadModel(runID string) (*config.Model, error) {
	if _, err := s.Load(runID); err != nil {
		return nil, err
	}
	return config.Load(filepath.Join(s.baseDir, runID, modelFile))
}

// LoadData reads back the output table of a run.
func (s *Store) LoadData(runID string) (*output.Document, error) {
	if _, err := s.Load(runID); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, runID, dataFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return output.Read(f)
}
