package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/relicsim/internal/automation"
	"github.com/san-kum/relicsim/internal/config"
	"github.com/san-kum/relicsim/internal/experiment"
	"github.com/san-kum/relicsim/internal/optim"
	"github.com/san-kum/relicsim/internal/output"
	"github.com/san-kum/relicsim/internal/sim"
	"github.com/san-kum/relicsim/internal/storage"
	"github.com/san-kum/relicsim/internal/thermo"
	"github.com/san-kum/relicsim/internal/tui"
	"github.com/san-kum/relicsim/internal/viz"
)

var (
	dataDir    string
	logLevel   string
	tablesPath string
	themeName  string

	configFile string
	preset     string
	t0         float64
	tf         float64
	points     int
	rtol       float64
	atol       float64
	live       bool
	noSave     bool
	outFile    string
	svgFile    string

	quantity string

	modelFilter string

	scanSpecies string
	scanParam   string
	scanFrom    float64
	scanTo      float64
	scanNum     int
	scanLinear  bool
	concurrency int
	failFast    bool

	rebuild bool

	target    float64
	gridLo    float64
	gridHi    float64
	gridSize  int
	tolerance float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "relicsim",
		Short:         "relic abundance solver for early-universe species",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".relicsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&tablesPath, "tables", "", "thermodynamic table cache (default <data>/thermo.json)")
	rootCmd.PersistentFlags().StringVar(&themeName, "theme", viz.DefaultTheme.Name, "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "solve a model and report relic abundances",
		Args:  cobra.NoArgs,
		RunE:  runModel,
	}
	modelFlags(runCmd)
	runCmd.Flags().BoolVar(&live, "live", false, "show a live progress view")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	runCmd.Flags().StringVarP(&outFile, "out", "o", "", "also write the output table to this file")
	runCmd.Flags().StringVar(&svgFile, "svg", "", "write a number density plot as SVG")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}
	listCmd.Flags().StringVar(&modelFilter, "model", "", "only runs of this model")

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show the summary of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot densities of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVarP(&quantity, "quantity", "q", "n", "quantity to plot (n, rho, Y)")
	plotCmd.Flags().StringVar(&svgFile, "svg", "", "write the plot as SVG instead")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a stored run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "solve a model over a range of one species parameter",
		Args:  cobra.NoArgs,
		RunE:  scanModel,
	}
	modelFlags(scanCmd)
	scanCmd.Flags().StringVar(&scanSpecies, "species", "", "species label to vary")
	scanCmd.Flags().StringVar(&scanParam, "param", "mass", "parameter ("+strings.Join(experiment.NewRegistry().List(), ", ")+")")
	scanCmd.Flags().Float64Var(&scanFrom, "from", 0, "first value")
	scanCmd.Flags().Float64Var(&scanTo, "to", 0, "last value")
	scanCmd.Flags().IntVar(&scanNum, "num", 5, "number of values")
	scanCmd.Flags().BoolVar(&scanLinear, "linear", false, "space values linearly instead of logarithmically")
	scanCmd.Flags().IntVar(&concurrency, "concurrency", 0, "simultaneous solves (0 = GOMAXPROCS)")
	scanCmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop on the first failed point")
	scanCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")
	_ = scanCmd.MarkFlagRequired("species")

	tablesCmd := &cobra.Command{
		Use:   "tables",
		Short: "build the thermodynamic tables and print g* and g*s",
		Args:  cobra.NoArgs,
		RunE:  buildTables,
	}
	tablesCmd.Flags().BoolVar(&rebuild, "rebuild", false, "ignore an existing cache")

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list presets, or print one as yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showPresets,
	}

	batchCmd := &cobra.Command{
		Use:   "batch [scenario.yaml]",
		Short: "run every solve of a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "simultaneous solves (0 = GOMAXPROCS)")
	batchCmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop on the first failed solve")
	batchCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")

	calibrateCmd := &cobra.Command{
		Use:   "calibrate",
		Short: "find the parameter value that gives a target relic abundance",
		Args:  cobra.NoArgs,
		RunE:  calibrate,
	}
	modelFlags(calibrateCmd)
	calibrateCmd.Flags().StringVar(&scanSpecies, "species", "", "species label to vary")
	calibrateCmd.Flags().StringVar(&scanParam, "param", "annihilation", "parameter ("+strings.Join(experiment.NewRegistry().List(), ", ")+")")
	calibrateCmd.Flags().Float64Var(&target, "target", 0.12, "target total Omega h^2")
	calibrateCmd.Flags().Float64Var(&gridLo, "from", 1e-11, "lower end of the search range")
	calibrateCmd.Flags().Float64Var(&gridHi, "to", 1e-7, "upper end of the search range")
	calibrateCmd.Flags().IntVar(&gridSize, "grid", 5, "initial grid points")
	calibrateCmd.Flags().Float64Var(&tolerance, "tolerance", 1e-2, "relative tolerance on Omega h^2")
	calibrateCmd.Flags().IntVar(&concurrency, "concurrency", 0, "simultaneous solves on the grid")
	_ = calibrateCmd.MarkFlagRequired("species")

	rootCmd.AddCommand(runCmd, listCmd, showCmd, plotCmd, exportJSONCmd, scanCmd, batchCmd, calibrateCmd, tablesCmd, presetsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func modelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "model file (yaml)")
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "use a preset model ("+strings.Join(config.ListPresets(), ", ")+")")
	cmd.Flags().Float64Var(&t0, "t0", 0, "reheat temperature in GeV")
	cmd.Flags().Float64Var(&tf, "tf", 0, "final temperature in GeV")
	cmd.Flags().IntVar(&points, "points", 0, "number of output points")
	cmd.Flags().Float64Var(&rtol, "rtol", 0, "relative tolerance")
	cmd.Flags().Float64Var(&atol, "atol", 0, "absolute tolerance")
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// loadModel resolves the model from a preset and/or a file. Flags that
// were set explicitly override both.
func loadModel(cmd *cobra.Command) (*config.Model, error) {
	var m *config.Model
	switch {
	case configFile != "":
		var err error
		m, err = config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
	case preset != "":
		m = config.GetPreset(preset)
		if m == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	default:
		return nil, errors.New("a model is required: use --config or --preset")
	}

	flags := cmd.Flags()
	if flags.Changed("t0") {
		m.ReheatTemperature = t0
	}
	if flags.Changed("tf") {
		m.FinalTemperature = tf
	}
	if flags.Changed("points") {
		m.Points = points
	}
	if flags.Changed("rtol") {
		m.Solver.RTol = rtol
	}
	if flags.Changed("atol") {
		m.Solver.ATol = atol
	}
	return m, m.Validate()
}

func loadThermo() (*thermo.Provider, error) {
	path := tablesPath
	if path == "" {
		path = filepath.Join(dataDir, "thermo.json")
	}
	opts := thermo.DefaultOptions()
	opts.Logger = slog.Default()
	return thermo.LoadOrBuild(path, opts)
}

func openStore() (*storage.Store, error) {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}

func runModel(cmd *cobra.Command, args []string) error {
	m, err := loadModel(cmd)
	if err != nil {
		return err
	}
	th, err := loadThermo()
	if err != nil {
		return err
	}
	theme := viz.GetTheme(themeName)

	exp := experiment.New(m, th, slog.Default())
	var out *experiment.Outcome
	solve := func(ctx context.Context, o sim.Observer) error {
		if o != nil {
			exp.AddObserver(o)
		}
		var runErr error
		out, runErr = exp.Run(ctx)
		return runErr
	}

	if live {
		err = tui.Run(cmd.Context(), m.Name, m.ReheatTemperature, m.FinalTemperature, theme, solve)
	} else {
		fmt.Printf("solving %s from %g to %g GeV...\n", m.Name, m.ReheatTemperature, m.FinalTemperature)
		err = solve(cmd.Context(), nil)
	}
	if err != nil {
		return err
	}

	fmt.Println(viz.RenderSummary(m.Name, out.Summary, theme))
	if !out.Result.Reached {
		slog.Warn("run ended above the final temperature", "T", last(out.Result.Trajectory.T))
	}

	doc := output.NewDocument(storage.Parameters(m), out.Result, &out.Summary)
	if outFile != "" {
		if err := writeDocument(outFile, doc); err != nil {
			return err
		}
		fmt.Printf("output: %s\n", outFile)
	}
	if svgFile != "" {
		if err := writeSVG(svgFile, doc, viz.NumberDensity, theme); err != nil {
			return err
		}
		fmt.Printf("svg: %s\n", svgFile)
	}

	if noSave {
		return nil
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	id, err := st.Save(out.Run())
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", id)
	return nil
}

func writeDocument(path string, doc output.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := output.Write(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeSVG(path string, doc output.Document, q viz.Quantity, theme viz.Theme) error {
	series, err := viz.Densities(doc, q)
	if err != nil {
		return err
	}
	svg, err := viz.SeriesToSVG(series, 800, 500, theme)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(svg), 0644)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var runs []storage.RunMetadata
	if modelFilter != "" {
		runs, err = st.Search(modelFilter)
	} else {
		runs, err = st.List()
	}
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tT0\tTF\tOMEGA H2\tDELTA NEFF\tSEGMENTS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3g\t%.3g\t%.4e\t%.3g\t%d\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.T0,
			run.TF,
			run.TotalOmega(),
			run.Summary.DeltaNeff,
			run.Segments,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Println(viz.RenderSummary(meta.Model, meta.Summary, viz.GetTheme(themeName)))
	fmt.Printf("run: %s  (%s)\n", meta.ID, meta.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("segments: %d  steps: %d  elapsed: %.2fs\n", meta.Segments, meta.Steps, meta.Elapsed)
	if !meta.Reached {
		fmt.Println("warning: the run stopped before the final temperature")
	}
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	q, err := viz.ParseQuantity(quantity)
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	doc, err := st.LoadData(args[0])
	if err != nil {
		return err
	}

	theme := viz.GetTheme(themeName)
	if svgFile != "" {
		if err := writeSVG(svgFile, *doc, q, theme); err != nil {
			return err
		}
		fmt.Printf("svg: %s\n", svgFile)
		return nil
	}

	series, err := viz.Densities(*doc, q)
	if err != nil {
		return err
	}
	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(doc.Rows))

	opts := viz.DefaultPlotOptions()
	opts.Caption = fmt.Sprintf("log10 %s vs step (T from %.3g to %.3g GeV)", q, meta.T0, meta.TF)
	graph, err := viz.PlotSeries(series, opts)
	if err != nil {
		return err
	}
	fmt.Println(graph)
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.ExportJSON(os.Stdout, args[0])
}

func scanModel(cmd *cobra.Command, args []string) error {
	base, err := loadModel(cmd)
	if err != nil {
		return err
	}
	values, err := experiment.Spaced(scanFrom, scanTo, scanNum, !scanLinear)
	if err != nil {
		return err
	}
	models, err := experiment.NewRegistry().Sweep(func() *config.Model { return base.Clone() }, scanSpecies, scanParam, values)
	if err != nil {
		return err
	}
	th, err := loadThermo()
	if err != nil {
		return err
	}

	var st *storage.Store
	if !noSave {
		if st, err = openStore(); err != nil {
			return err
		}
		defer st.Close()
	}

	fmt.Printf("scanning %s.%s over %d values...\n", scanSpecies, scanParam, len(values))
	results, err := experiment.Scan(cmd.Context(), models, th, experiment.ScanOptions{
		Concurrency: concurrency,
		FailFast:    failFast,
		Logger:      slog.Default(),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tOMEGA H2\tDELTA NEFF\tRUN\n", strings.ToUpper(scanParam))
	var failed int
	for i, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%g\t-\t-\t%v\n", values[i], r.Err)
			continue
		}
		id := "-"
		if st != nil {
			if id, err = st.Save(r.Outcome.Run()); err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "%g\t%.4e\t%.3g\t%s\n", values[i], r.Outcome.Summary.TotalOmega(), r.Outcome.Summary.DeltaNeff, id)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scan points failed", failed, len(results))
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	scenario, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	th, err := loadThermo()
	if err != nil {
		return err
	}

	var st *storage.Store
	if !noSave {
		if st, err = openStore(); err != nil {
			return err
		}
		defer st.Close()
	}

	results, err := automation.RunScenario(cmd.Context(), scenario, th, experiment.ScanOptions{
		Concurrency: concurrency,
		FailFast:    failFast,
		Logger:      slog.Default(),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tMODEL\tOMEGA H2\tDELTA NEFF\tRUN")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%d\t%s\t-\t-\t%v\n", r.Step+1, r.Model.Name, r.Err)
			continue
		}
		id := "-"
		if st != nil {
			if id, err = st.Save(r.Outcome.Run()); err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%.4e\t%.3g\t%s\n", r.Step+1, r.Model.Name, r.Outcome.Summary.TotalOmega(), r.Outcome.Summary.DeltaNeff, id)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if n := automation.Failures(results); n > 0 {
		return fmt.Errorf("%d of %d solves failed", n, len(results))
	}
	return nil
}

func calibrate(cmd *cobra.Command, args []string) error {
	base, err := loadModel(cmd)
	if err != nil {
		return err
	}
	th, err := loadThermo()
	if err != nil {
		return err
	}

	g := optim.NewGridSearch(gridLo, gridHi)
	g.Grid, g.Tolerance, g.Logger = gridSize, tolerance, slog.Default()
	f := optim.SolverObjective(base, scanSpecies, scanParam, th, experiment.ScanOptions{
		Concurrency: concurrency,
		Logger:      slog.Default(),
	})

	fmt.Printf("calibrating %s.%s for Omega h^2 = %g...\n", scanSpecies, scanParam, target)
	res, err := g.Search(cmd.Context(), f, target)
	if errors.Is(err, optim.ErrNotBracketed) {
		fmt.Printf("closest: %s = %.6e gives Omega h^2 = %.4e\n", scanParam, res.Value, res.Omega)
		return fmt.Errorf("widen --from/--to: %w", err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s = %.6e\n", scanParam, res.Value)
	fmt.Printf("Omega h^2 = %.6e  (%d solves)\n", res.Omega, res.Evaluations)
	return nil
}

func buildTables(cmd *cobra.Command, args []string) error {
	path := tablesPath
	if path == "" {
		path = filepath.Join(dataDir, "thermo.json")
	}
	if rebuild {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tablesPath = path
	th, err := loadThermo()
	if err != nil {
		return err
	}

	fmt.Printf("tables: %s\n\n", path)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "T (GeV)\tg*\tg*s")
	for _, T := range []float64{1e4, 1e2, 1, 0.2, 1e-2, 1e-3, 1e-4, 1e-6, 1e-10} {
		fmt.Fprintf(w, "%.0e\t%.3f\t%.3f\n", T, th.GStar(T), th.GStarS(T))
	}
	return w.Flush()
}

func showPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Println("presets:")
		for _, name := range config.ListPresets() {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}
	m := config.GetPreset(args[0])
	if m == nil {
		return fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	return v[len(v)-1]
}
