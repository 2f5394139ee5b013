// Package automation runs scripted batches of solves described in YAML:
// single models, parameter sweeps and random samples over a range.
package automation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/relicsim/internal/config"
	"github.com/san-kum/relicsim/internal/experiment"
)

// Scenario is a named list of steps, each expanding to one or more models.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`

	dir string
}

// ScenarioStep selects a model by preset or file, applies overrides and
// optionally expands it over one parameter.
type ScenarioStep struct {
	Preset            string            `yaml:"preset,omitempty"`
	Model             string            `yaml:"model,omitempty"`
	ReheatTemperature float64           `yaml:"reheat_temperature,omitempty"`
	FinalTemperature  float64           `yaml:"final_temperature,omitempty"`
	Params            []ParamOverride   `yaml:"params,omitempty"`
	Sweep             *ParameterSweep   `yaml:"sweep,omitempty"`
	MonteCarlo        *MonteCarloConfig `yaml:"monte_carlo,omitempty"`
	SaveAs            string            `yaml:"save_as,omitempty"`
}

type ParamOverride struct {
	Species string  `yaml:"species"`
	Param   string  `yaml:"param"`
	Value   float64 `yaml:"value"`
}

// ParameterSweep spaces Num values between Min and Max, logarithmically
// unless Linear is set.
type ParameterSweep struct {
	Species string  `yaml:"species"`
	Param   string  `yaml:"param"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Num     int     `yaml:"num"`
	Linear  bool    `yaml:"linear,omitempty"`
}

// MonteCarloConfig draws Trials values log-uniformly between Min and Max.
// A zero Seed seeds from the clock.
type MonteCarloConfig struct {
	Species string  `yaml:"species"`
	Param   string  `yaml:"param"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Trials  int     `yaml:"trials"`
	Seed    int64   `yaml:"seed,omitempty"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	scenario.dir = filepath.Dir(path)
	return &scenario, nil
}

// Point is one expanded model and the parameter value it was built for.
type Point struct {
	Step  int
	Model *config.Model
	// Value is the swept or sampled parameter, NaN for a plain step.
	Value float64
}

// Expand turns every step into its models, in step order.
func (s *Scenario) Expand(reg *experiment.Registry) ([]Point, error) {
	var points []Point
	for i, step := range s.Steps {
		pts, err := s.expandStep(reg, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		points = append(points, pts...)
	}
	return points, nil
}

func (s *Scenario) expandStep(reg *experiment.Registry, i int, step ScenarioStep) ([]Point, error) {
	base, err := s.baseModel(reg, step)
	if err != nil {
		return nil, err
	}
	if step.Sweep != nil && step.MonteCarlo != nil {
		return nil, fmt.Errorf("sweep and monte_carlo are exclusive")
	}

	var label, param string
	var values []float64
	switch {
	case step.Sweep != nil:
		sw := step.Sweep
		label, param = sw.Species, sw.Param
		if values, err = experiment.Spaced(sw.Min, sw.Max, sw.Num, !sw.Linear); err != nil {
			return nil, err
		}
	case step.MonteCarlo != nil:
		label, param = step.MonteCarlo.Species, step.MonteCarlo.Param
		if values, err = step.MonteCarlo.Sample(); err != nil {
			return nil, err
		}
	default:
		return []Point{{Step: i, Model: base, Value: math.NaN()}}, nil
	}

	models, err := reg.Sweep(base.Clone, label, param, values)
	if err != nil {
		return nil, err
	}
	points := make([]Point, len(models))
	for k, m := range models {
		points[k] = Point{Step: i, Model: m, Value: values[k]}
	}
	return points, nil
}

func (s *Scenario) baseModel(reg *experiment.Registry, step ScenarioStep) (*config.Model, error) {
	var m *config.Model
	switch {
	case step.Preset != "" && step.Model != "":
		return nil, fmt.Errorf("preset and model are exclusive")
	case step.Preset != "":
		if m = config.GetPreset(step.Preset); m == nil {
			return nil, fmt.Errorf("unknown preset: %s", step.Preset)
		}
	case step.Model != "":
		path := step.Model
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.dir, path)
		}
		var err error
		if m, err = config.Load(path); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("needs a preset or a model file")
	}

	if step.ReheatTemperature > 0 {
		m.ReheatTemperature = step.ReheatTemperature
	}
	if step.FinalTemperature > 0 {
		m.FinalTemperature = step.FinalTemperature
	}
	for _, p := range step.Params {
		models, err := reg.Sweep(func() *config.Model { return m }, p.Species, p.Param, []float64{p.Value})
		if err != nil {
			return nil, err
		}
		m = models[0]
	}
	if step.SaveAs != "" {
		m.Name = step.SaveAs
	}
	return m, m.Validate()
}

// Sample draws the trial values.
func (c *MonteCarloConfig) Sample() ([]float64, error) {
	if c.Trials < 1 {
		return nil, fmt.Errorf("monte_carlo needs trials > 0")
	}
	if !(c.Min > 0) || !(c.Max > c.Min) {
		return nil, fmt.Errorf("monte_carlo needs 0 < min < max, got %g and %g", c.Min, c.Max)
	}
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	lo, hi := math.Log(c.Min), math.Log(c.Max)
	values := make([]float64, c.Trials)
	for i := range values {
		values[i] = math.Exp(lo + rng.Float64()*(hi-lo))
	}
	return values, nil
}

// Result pairs an expanded point with its solve.
type Result struct {
	Point
	experiment.ScanResult
}

// RunScenario expands the scenario and solves all points concurrently.
func RunScenario(ctx context.Context, s *Scenario, th experiment.Thermodynamics, opts experiment.ScanOptions) ([]Result, error) {
	points, err := s.Expand(experiment.NewRegistry())
	if err != nil {
		return nil, err
	}
	models := make([]*config.Model, len(points))
	for i, p := range points {
		models[i] = p.Model
	}
	if opts.Logger != nil {
		opts.Logger.Info("running scenario", "name", s.Name, "steps", len(s.Steps), "solves", len(models))
	}

	scan, err := experiment.Scan(ctx, models, th, opts)
	results := make([]Result, len(scan))
	for i := range scan {
		results[i] = Result{Point: points[i], ScanResult: scan[i]}
	}
	return results, err
}

// Failures counts results that ended in an error.
func Failures(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
