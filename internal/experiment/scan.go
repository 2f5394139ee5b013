package experiment

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/relicsim/internal/config"
)

type ScanOptions struct {
	// Concurrency bounds simultaneous solves; zero means GOMAXPROCS.
	Concurrency int
	// FailFast cancels the remaining solves on the first error.
	FailFast bool
	Logger   *slog.Logger
	// OnDone is called from the worker goroutine after each solve.
	OnDone func(i int, r ScanResult)
}

type ScanResult struct {
	Outcome *Outcome
	Err     error
}

// Scan solves independent models concurrently. Results keep the order of
// models. Without FailFast every model is attempted and per-model errors
// are reported in the results; the returned error is then only a context
// error.
func Scan(ctx context.Context, models []*config.Model, th Thermodynamics, opts ScanOptions) ([]ScanResult, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([]ScanResult, len(models))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, m := range models {
		i, m := i, m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = ScanResult{Err: err}
				return nil
			}
			out, err := New(m, th, opts.Logger).Run(gctx)
			results[i] = ScanResult{Outcome: out, Err: err}
			if opts.OnDone != nil {
				opts.OnDone(i, results[i])
			}
			if err != nil {
				opts.Logger.Warn("scan point failed", "index", i, "model", m.Name, "error", err)
				if opts.FailFast {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
