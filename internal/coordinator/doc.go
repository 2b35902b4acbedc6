// Package coordinator implements the distributed execution engine for heatgrid:
// it accepts worker connections, partitions the grid into row bands, drives
// the iterate-exchange-converge loop and shuts every worker down at the end.
//
// # Overview
//
// The coordinator owns the authoritative N×N grid for the whole run. Workers
// never see more than one band at a time and keep no state between
// iterations, so every decision about the simulation is made here.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         COORDINATOR                  │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Accept phase                │  │
//	│  │   - Listen on host:port       │  │
//	│  │   - Bounded wait for workers  │  │
//	│  │   - Arrival order = worker ID │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Partition (grid.Partition)  │  │
//	│  │   - Row bands over [1, N-1)   │  │
//	│  │   - Remainder to last band    │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Iteration loop              │  │
//	│  │   - Fan-out per band          │  │
//	│  │   - WaitGroup fan-in          │  │
//	│  │   - Merge + convergence check │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Health tracker              │  │
//	│  │   - Exchanges per worker      │  │
//	│  │   - Failure detection         │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Lifecycle
//
//	AwaitingWorkers ──> Running ──> Converged ──┐
//	       │                 ├────> Exhausted ──┼──> Closed
//	       │                 └────> Failed ─────┤
//	       └── no workers ──────────────────────┘
//
// Close runs on every path. It sends exactly one Terminate to each worker
// that is still connected and then closes all connections and the
// listener.
//
// # Partitioning
//
// Interior rows [1, N-1) are split into one band per connected worker:
//
//	N = 10, 3 workers
//	row 0   ████████████  heat source, never sent as owned
//	row 1   ─┐
//	row 2   ─┘ worker 0   [1,3)
//	row 3   ─┐
//	row 4   ─┘ worker 1   [3,5)
//	row 5   ─┐
//	row 6    │
//	row 7    │ worker 2   [5,9)  takes the remainder
//	row 8   ─┘
//	row 9   ░░░░░░░░░░░░  fixed boundary
//
// Each Work Unit carries the owned rows plus one halo row above and one
// below. Partitioning happens after the accept phase so a degraded run
// spreads the grid over the workers that actually arrived.
//
// With more workers than interior rows the leading bands are empty:
//
//	N = 4, 3 workers   [1,1) [1,1) [1,3)
//
// A worker with an empty band gets no Work Units and is only sent its
// Termination Signal at Close.
//
// # Concurrency
//
// One goroutine per band per iteration; none outlives its iteration. The
// goroutines read the current grid and write disjoint row ranges of the
// next grid, so they need no locks. The coordinator goroutine merges,
// checks convergence and swaps grids only after the WaitGroup barrier.
//
// # Failure handling
//
//   - Startup: the accept phase is bounded by AcceptTimeout. With zero
//     connections the run fails with ErrNoWorkersAvailable, which
//     RunDistributed reports as OutcomeNoWorkers.
//   - Steady state: every exchange is bounded by ExchangeTimeout. A worker
//     whose exchange fails (disconnect, timeout, undecodable reply) is
//     closed and its band is relaxed by the coordinator after the barrier
//     of the same iteration. That band's real change enters the
//     convergence check, so a lost worker never ends a run early.
//   - From the next iteration on the coordinator keeps relaxing that band
//     itself, so the partition stays fixed and no rows freeze.
//   - If every remote exchange of an iteration fails the run stops with
//     ErrCommunicationFailure.
//
// # Configuration
//
//	Host, Port        listen endpoint (default localhost:5000)
//	Workers           connections to wait for
//	AcceptTimeout     20s
//	ExchangeTimeout   30s
package coordinator
