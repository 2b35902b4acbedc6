// Package kernel provides the in-process heat diffusion strategies that the
// distributed engine is measured against: a single-goroutine baseline and a
// shared-memory variant that relaxes row bands concurrently.
//
// Both strategies return the grid produced by the last iteration they ran,
// and stop early once the largest per-cell change falls below the tolerance.
// Both check ctx once per iteration; a cancelled run returns the grid it
// had reached together with ctx.Err().
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/heatgrid/internal/grid"
)

// ErrInvalidThreads is returned when Parallel is asked for fewer than one thread.
var ErrInvalidThreads = errors.New("thread count must be at least 1")

// Result is the outcome of one in-process simulation.
type Result struct {
	Grid       *grid.Grid    // Grid after the last iteration
	Elapsed    time.Duration // Wall-clock time of the iteration loop
	Iterations int           // Iterations actually run
	Converged  bool          // Whether the tolerance was reached
}

// ElapsedMS returns the elapsed time in milliseconds.
func (r Result) ElapsedMS() float64 {
	return float64(r.Elapsed) / float64(time.Millisecond)
}

// Sequential runs the simulation on a single goroutine.
func Sequential(ctx context.Context, n, maxIterations int, tolerance float64) (Result, error) {
	cur, err := grid.New(n)
	if err != nil {
		return Result{}, err
	}
	next := cur.Clone()

	res := Result{}
	start := time.Now()
	for t := 0; t < maxIterations; t++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			res.Grid = cur
			return res, err
		}
		maxChange := grid.RelaxRows(cur, next, 1, n-1)
		// next's interior is fully rewritten each step, so a swap is enough.
		cur, next = next, cur
		res.Iterations++
		if maxChange < tolerance {
			res.Converged = true
			break
		}
	}
	res.Elapsed = time.Since(start)
	res.Grid = cur
	return res, nil
}

// Parallel runs the simulation with threads goroutines per iteration, one
// per row band. Each iteration is a fan-out over the bands followed by a
// WaitGroup fan-in; the global convergence check and the grid swap happen
// on the calling goroutine between iterations. Bands left empty because
// threads exceeds the interior row count get no goroutine.
func Parallel(ctx context.Context, n, maxIterations int, tolerance float64, threads int) (Result, error) {
	if threads < 1 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidThreads, threads)
	}
	cur, err := grid.New(n)
	if err != nil {
		return Result{}, err
	}
	bands, err := grid.Partition(n, threads)
	if err != nil {
		return Result{}, err
	}
	next := cur.Clone()
	changes := make([]float64, len(bands))

	res := Result{}
	start := time.Now()
	for t := 0; t < maxIterations; t++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			res.Grid = cur
			return res, err
		}

		var wg sync.WaitGroup
		for i, band := range bands {
			if band.Empty() {
				continue
			}
			wg.Add(1)
			go func(i int, band grid.RowRange) {
				defer wg.Done()
				changes[i] = grid.RelaxRows(cur, next, band.Start, band.End)
			}(i, band)
		}
		wg.Wait()

		cur, next = next, cur
		cur.PinHeatSource()
		res.Iterations++
		if slices.Max(changes) < tolerance {
			res.Converged = true
			break
		}
	}
	res.Elapsed = time.Since(start)
	res.Grid = cur
	return res, nil
}
