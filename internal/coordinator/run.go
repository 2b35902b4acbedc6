package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dreamware/heatgrid/internal/grid"
)

// ConnectionErrorLabel is the status the benchmark driver records for a
// run that never got a worker.
const ConnectionErrorLabel = "CONNECTION_ERROR"

// ErrInvalidParams is returned by RunDistributed for unusable parameters.
var ErrInvalidParams = errors.New("invalid simulation parameters")

// Outcome is the terminal state a distributed run ended in.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoWorkers Outcome = "no_workers"
)

func outcomeFor(s State) Outcome {
	switch s {
	case StateConverged:
		return OutcomeConverged
	case StateExhausted:
		return OutcomeExhausted
	default:
		return OutcomeFailed
	}
}

// Result is what a distributed run hands back to its caller.
type Result struct {
	Grid       *grid.Grid    // Final grid; nil when no worker connected
	Outcome    Outcome       // Terminal state of the run
	Elapsed    time.Duration // Wall-clock time of the Running phase only
	Iterations int           // Iterations started
	Workers    int           // Workers that owned a non-empty band
	// Health holds every connected worker's exchange history at the end
	// of the run, ordered by worker ID.
	Health []WorkerHealth
}

// ElapsedMS returns the Running phase duration in milliseconds.
func (r Result) ElapsedMS() float64 {
	return float64(r.Elapsed) / float64(time.Millisecond)
}

// Label returns the status string recorded for the run:
// ConnectionErrorLabel when no worker connected, the outcome otherwise.
func (r Result) Label() string {
	if r.Outcome == OutcomeNoWorkers {
		return ConnectionErrorLabel
	}
	return string(r.Outcome)
}

// Params are the inputs of one distributed run.
type Params struct {
	Host            string        // Listen host
	Port            int           // Listen port
	N               int           // Grid side length
	MaxIterations   int           // Iteration budget
	Tolerance       float64       // Convergence threshold on the max change
	Workers         int           // Worker connections to wait for
	AcceptTimeout   time.Duration // Zero selects the default
	ExchangeTimeout time.Duration // Zero selects the default
}

// RunDistributed is the entry point of the distributed engine: it listens
// on Host:Port, waits for the workers, runs the simulation and always
// shuts the workers and listener down before returning.
//
// A run that gets no worker returns a Result with Outcome
// OutcomeNoWorkers together with ErrNoWorkersAvailable; no failure path
// panics.
//
// Example:
//
//	res, err := RunDistributed(ctx, Params{
//	    Host: "localhost", Port: 5000,
//	    N: 200, MaxIterations: 1000, Tolerance: 0.001, Workers: 3,
//	})
//	if errors.Is(err, ErrNoWorkersAvailable) {
//	    // record res.Label() == ConnectionErrorLabel
//	}
func RunDistributed(ctx context.Context, p Params) (Result, error) {
	if p.N < 3 || p.MaxIterations < 0 || p.Workers < 1 {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("%w: n=%d iterations=%d workers=%d",
			ErrInvalidParams, p.N, p.MaxIterations, p.Workers)
	}

	cfg := DefaultConfig()
	cfg.Host = p.Host
	cfg.Port = p.Port
	cfg.Workers = p.Workers
	if p.AcceptTimeout > 0 {
		cfg.AcceptTimeout = p.AcceptTimeout
	}
	if p.ExchangeTimeout > 0 {
		cfg.ExchangeTimeout = p.ExchangeTimeout
	}

	c := New(cfg)
	if err := c.Listen(); err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Printf("coordinator: shutdown: %v", err)
		}
	}()

	if err := c.AwaitWorkers(ctx); err != nil {
		if errors.Is(err, ErrNoWorkersAvailable) {
			return Result{Outcome: OutcomeNoWorkers}, err
		}
		return Result{Outcome: OutcomeFailed}, err
	}
	return c.Run(ctx, p.N, p.MaxIterations, p.Tolerance)
}
