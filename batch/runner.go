// Package batch implements the "trivially parallelizable at the
// caller's level" multi-document convenience runner spec §5 names: a
// compiled stylesheet is read-only after compile and safely shared
// across concurrent executions, so running it over N independent
// input documents needs nothing more than fanning out and collecting
// results/errors.
//
// Grounded on Tangerg-lynx/flow's Batch.runN (batch.go): an
// errgroup.WithContext group with SetLimit, each goroutine writing
// into a pre-sized, index-addressed results slice so the original
// input order survives concurrent completion, rather than an
// unordered fan-in channel.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sigmundgranaas/petty/exec"
	"github.com/sigmundgranaas/petty/instr"
	"github.com/sigmundgranaas/petty/ir"
	"github.com/sigmundgranaas/petty/tree"
	"github.com/sigmundgranaas/petty/xpath1"
)

// Job is one input document to transform.
type Job struct {
	Doc  tree.Node
	Mode string // "" uses the stylesheet's configured initial mode
}

// Result pairs a Job's index-preserving output with any error from
// running it.
type Result struct {
	Nodes []*ir.IRNode
	Err   error
}

// Config carries the per-run settings Run needs beyond the compiled
// stylesheet itself (spec §5 "function registry: read-only lookup
// table" and "mutation is confined to ... the output builder ... each
// strictly single-owner within one execution" — hence NewBuilder
// rather than a single shared ir.Builder).
type Config struct {
	Stylesheet       *instr.Stylesheet
	Funcs            xpath1.FunctionRegistry
	NewBuilder       func() ir.Builder // invoked once per job; must not be shared across jobs
	ConcurrencyLimit int               // 0 or 1 runs sequentially
	ContinueOnError  bool              // false (default) cancels remaining jobs on the first error
	ExecOptions      []exec.Option
}

// Run fans jobs out over Config.NewBuilder'd executors and collects
// each job's result at its original index, mirroring
// Tangerg-lynx/flow's Batch.runN order-preservation discipline.
func Run(ctx context.Context, cfg Config, jobs []Job) ([]Result, error) {
	if cfg.ConcurrencyLimit <= 1 {
		return runSequential(ctx, cfg, jobs)
	}
	return runConcurrent(ctx, cfg, jobs)
}

func runSequential(ctx context.Context, cfg Config, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results[i] = runOne(cfg, j)
		if results[i].Err != nil && !cfg.ContinueOnError {
			return results, results[i].Err
		}
	}
	return results, nil
}

func runConcurrent(ctx context.Context, cfg Config, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.ConcurrencyLimit)
	for i, j := range jobs {
		i, j := i, j
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			results[i] = runOne(cfg, j)
			if results[i].Err != nil && !cfg.ContinueOnError {
				return results[i].Err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func runOne(cfg Config, j Job) Result {
	builder := cfg.NewBuilder()
	ex := exec.New(cfg.Stylesheet, builder, cfg.Funcs, cfg.ExecOptions...)
	if err := ex.Run(j.Doc, j.Mode); err != nil {
		return Result{Err: err}
	}
	return Result{Nodes: builder.Finalize()}
}
