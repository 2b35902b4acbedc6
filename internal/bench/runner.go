package bench

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dreamware/heatgrid/internal/coordinator"
	"github.com/dreamware/heatgrid/internal/grid"
	"github.com/dreamware/heatgrid/internal/kernel"
	"github.com/dreamware/heatgrid/internal/worker"
)

// localWorkerRetry is the dial delay of in-process workers. They usually
// start before the coordinator listens.
const localWorkerRetry = 100 * time.Millisecond

// outcome is what a single run hands back to the runner.
type outcome struct {
	grid       *grid.Grid
	elapsed    time.Duration
	iterations int
}

// Runner executes a Plan.
type Runner struct {
	plan Plan
	// distributedRuns counts distributed runs; run i listens on BasePort+i.
	distributedRuns int
}

// NewRunner validates p and returns a runner for it.
func NewRunner(p Plan) (*Runner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Runner{plan: p}, nil
}

// Run executes every run of the plan, size by size, and returns one record
// per run. A failing run is recorded with its status and does not stop the
// sweep; only cancelling ctx does, in which case the records so far are
// returned with ctx.Err().
func (r *Runner) Run(ctx context.Context) ([]Record, error) {
	var records []Record
	for _, n := range r.plan.Sizes {
		base, rec := r.runSequential(ctx, n)
		records = append(records, rec)
		if err := ctx.Err(); err != nil {
			return records, err
		}

		for _, threads := range r.plan.Threads {
			records = append(records, r.runParallel(ctx, n, threads, base))
			if err := ctx.Err(); err != nil {
				return records, err
			}
		}

		for _, workers := range r.plan.Workers {
			records = append(records, r.runDistributed(ctx, n, workers, base))
			if err := ctx.Err(); err != nil {
				return records, err
			}
		}
	}
	return records, nil
}

func (r *Runner) runSequential(ctx context.Context, n int) (*grid.Grid, Record) {
	rec := Record{Version: VersionSequential, Size: n, Parallelism: 1}
	out, err := runWithTimeout(ctx, r.plan.Timeout, func(ctx context.Context) (outcome, error) {
		res, err := kernel.Sequential(ctx, n, r.plan.Iterations, r.plan.Tolerance)
		return outcome{grid: res.Grid, elapsed: res.Elapsed, iterations: res.Iterations}, err
	})
	// The baseline is checked against itself.
	r.finish(&rec, out, err, out.grid)
	if rec.Status != StatusOK {
		return nil, rec
	}
	return out.grid, rec
}

func (r *Runner) runParallel(ctx context.Context, n, threads int, base *grid.Grid) Record {
	rec := Record{Version: VersionParallel, Size: n, Parallelism: threads}
	out, err := runWithTimeout(ctx, r.plan.Timeout, func(ctx context.Context) (outcome, error) {
		res, err := kernel.Parallel(ctx, n, r.plan.Iterations, r.plan.Tolerance, threads)
		return outcome{grid: res.Grid, elapsed: res.Elapsed, iterations: res.Iterations}, err
	})
	r.finish(&rec, out, err, base)
	return rec
}

func (r *Runner) runDistributed(ctx context.Context, n, workers int, base *grid.Grid) Record {
	rec := Record{Version: VersionDistributed, Size: n, Parallelism: workers}
	port := r.plan.BasePort + r.distributedRuns
	r.distributedRuns++

	out, err := runWithTimeout(ctx, r.plan.Timeout, func(ctx context.Context) (outcome, error) {
		var wg sync.WaitGroup
		if r.plan.LocalWorkers {
			r.startWorkers(ctx, &wg, port, workers)
		}
		res, err := coordinator.RunDistributed(ctx, coordinator.Params{
			Host:          r.plan.Host,
			Port:          port,
			N:             n,
			MaxIterations: r.plan.Iterations,
			Tolerance:     r.plan.Tolerance,
			Workers:       workers,
			AcceptTimeout: r.plan.AcceptTimeout,
		})
		wg.Wait()
		return outcome{grid: res.Grid, elapsed: res.Elapsed, iterations: res.Iterations}, err
	})
	r.finish(&rec, out, err, base)
	return rec
}

// startWorkers launches count in-process workers against port and adds
// them to wg.
func (r *Runner) startWorkers(ctx context.Context, wg *sync.WaitGroup, port, count int) {
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := worker.Config{
				Host:       r.plan.Host,
				Port:       port,
				RetryDelay: localWorkerRetry,
				MaxRetries: 50,
			}
			if err := worker.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("bench: local worker %d: %v", i, err)
			}
		}(i)
	}
}

// finish fills rec from a run's outcome and classifies it.
func (r *Runner) finish(rec *Record, out outcome, err error, base *grid.Grid) {
	rec.ElapsedMS = float64(out.elapsed) / float64(time.Millisecond)
	rec.Iterations = out.iterations
	rec.Status = classify(out, err, base)
	log.Printf("bench: %s n=%d p=%d: %s in %.1fms (%d iterations)",
		rec.Version, rec.Size, rec.Parallelism, rec.Status, rec.ElapsedMS, rec.Iterations)
	if err != nil && rec.Status == StatusError {
		log.Printf("bench: %s n=%d p=%d: %v", rec.Version, rec.Size, rec.Parallelism, err)
	}
}

func classify(out outcome, err error, base *grid.Grid) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, coordinator.ErrNoWorkersAvailable):
		return StatusConnError
	case err != nil:
		return StatusError
	case out.grid == nil:
		return StatusError
	case base == nil:
		return StatusUnchecked
	}
	diff, err := grid.MaxAbsDiff(base, out.grid)
	if err != nil || diff > CheckTolerance {
		return StatusMismatch
	}
	return StatusOK
}

// runWithTimeout runs fn under a deadline of d. When the deadline passes
// first it returns context.DeadlineExceeded; fn receives the same context
// and stops within one iteration, and runWithTimeout waits for that so an
// abandoned run never overlaps the next one.
func runWithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) (outcome, error)) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		out outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(ctx)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		<-done
		return outcome{}, fmt.Errorf("run abandoned (limit %v): %w", d, ctx.Err())
	}
}
