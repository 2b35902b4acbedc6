// Package coordinator implements the distributed execution engine for heatgrid.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/heatgrid/internal/grid"
	"github.com/dreamware/heatgrid/internal/protocol"
)

var (
	// ErrNoWorkersAvailable is returned when the accept phase ends without
	// a single worker connection.
	ErrNoWorkersAvailable = errors.New("no workers available")

	// ErrCommunicationFailure is returned when every remote exchange of an
	// iteration failed.
	ErrCommunicationFailure = errors.New("communication failure")

	// ErrBadResult is returned for a Result Unit whose shape does not match
	// the band it answers. It counts as a transport failure.
	ErrBadResult = fmt.Errorf("%w: result does not match band", protocol.ErrTransport)

	// ErrInvalidState is returned when coordinator methods are called out of order.
	ErrInvalidState = errors.New("invalid coordinator state")
)

// terminateTimeout bounds the write of the Termination Signal during Close.
const terminateTimeout = 2 * time.Second

// State is a stage of the coordinator lifecycle:
//
//	AwaitingWorkers → Running → Converged | Exhausted | Failed → Closed
type State int

const (
	StateAwaitingWorkers State = iota
	StateRunning
	StateConverged
	StateExhausted
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingWorkers:
		return "awaiting_workers"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Config holds the coordinator endpoint and timing settings.
type Config struct {
	Host            string        // Listen host
	Port            int           // Listen port, 0 picks a free one
	Workers         int           // Connections to wait for
	AcceptTimeout   time.Duration // Bound on the startup accept phase
	ExchangeTimeout time.Duration // Bound on one send+receive with a worker, 0 disables
}

// DefaultConfig returns the settings of a stock run.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5000,
		Workers:         2,
		AcceptTimeout:   20 * time.Second,
		ExchangeTimeout: 30 * time.Second,
	}
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// remoteWorker is one accepted connection and the band it owns.
// alive is only changed by the coordinator goroutine between barriers.
type remoteWorker struct {
	conn  *protocol.Conn
	addr  string
	band  grid.RowRange
	id    int
	alive bool
}

// Coordinator drives a distributed simulation over a set of worker
// connections. Its methods are called from a single goroutine in the order
// Listen, AwaitWorkers, Run, Close; Close may be called at any point.
type Coordinator struct {
	ln        net.Listener
	health    *HealthTracker
	workers   []*remoteWorker
	cfg       Config
	state     State
	closeOnce sync.Once
	closeErr  error
}

// New creates a coordinator that has not started listening yet.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		health: NewHealthTracker(),
		state:  StateAwaitingWorkers,
	}
	c.health.SetOnFailed(func(h WorkerHealth) {
		log.Printf("coordinator: worker %d (%s) dropped after %d exchanges: %s",
			h.ID, h.Addr, h.Exchanges, h.LastError)
	})
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return c.state
}

// Health returns the tracker holding per-worker exchange history.
func (c *Coordinator) Health() *HealthTracker {
	return c.health
}

// Workers returns the number of accepted worker connections.
func (c *Coordinator) Workers() int {
	return len(c.workers)
}

// Listen opens the listening endpoint.
func (c *Coordinator) Listen() error {
	if c.ln != nil || c.state != StateAwaitingWorkers {
		return fmt.Errorf("%w: listen in state %s", ErrInvalidState, c.state)
	}
	ln, err := net.Listen("tcp", c.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.cfg.Addr(), err)
	}
	c.ln = ln
	log.Printf("coordinator: listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address, or nil before Listen.
func (c *Coordinator) Addr() net.Addr {
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// AwaitWorkers accepts up to cfg.Workers connections. Each connection's
// arrival order becomes its worker ID and selects its band.
//
// The phase ends when all expected workers have connected, when
// AcceptTimeout elapses, or when ctx is cancelled. If at least one worker
// connected the run continues with that many (a degraded run); with none
// it returns ErrNoWorkersAvailable.
func (c *Coordinator) AwaitWorkers(ctx context.Context) error {
	if c.ln == nil || c.state != StateAwaitingWorkers {
		return fmt.Errorf("%w: await workers in state %s", ErrInvalidState, c.state)
	}
	want := c.cfg.Workers
	if want < 1 {
		return fmt.Errorf("%w: got %d", grid.ErrInvalidWorkerCount, want)
	}

	tl, ok := c.ln.(*net.TCPListener)
	if ok && c.cfg.AcceptTimeout > 0 {
		if err := tl.SetDeadline(time.Now().Add(c.cfg.AcceptTimeout)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
		defer tl.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		if ok {
			tl.SetDeadline(time.Unix(1, 0))
		}
	})
	defer stop()

	log.Printf("coordinator: waiting for %d workers on %s (timeout %v)", want, c.ln.Addr(), c.cfg.AcceptTimeout)
	for len(c.workers) < want {
		raw, err := c.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return fmt.Errorf("accept: %w", err)
		}
		w := &remoteWorker{
			conn:  protocol.NewConn(raw),
			addr:  raw.RemoteAddr().String(),
			id:    len(c.workers),
			alive: true,
		}
		c.workers = append(c.workers, w)
		c.health.Track(w.id, w.addr)
		log.Printf("coordinator: worker %d/%d connected from %s", w.id+1, want, w.addr)
	}

	switch got := len(c.workers); {
	case got == 0:
		log.Printf("coordinator: no workers connected within %v", c.cfg.AcceptTimeout)
		return ErrNoWorkersAvailable
	case got < want:
		log.Printf("coordinator: accept timed out, continuing with %d of %d workers", got, want)
	default:
		log.Printf("coordinator: all %d workers connected", got)
	}
	return nil
}

// Run drives the iterate-exchange-converge loop on an n×n grid for at most
// maxIterations iterations and returns the final grid.
//
// Each iteration fans out one goroutine per non-empty band and waits for
// all of them before merging. A live worker's goroutine ships its band with
// halo rows and merges the reply into the next grid; a band whose worker
// failed in an earlier iteration is relaxed locally with the same kernel.
// A worker whose exchange fails is closed and dropped, and its band is
// relaxed locally after the barrier of that same iteration, so every
// iteration updates every interior row and convergence is judged on real
// changes. If every remote exchange of an iteration fails the run stops
// with ErrCommunicationFailure.
//
// Run does not send Termination Signals; Close does.
func (c *Coordinator) Run(ctx context.Context, n, maxIterations int, tolerance float64) (Result, error) {
	if c.state != StateAwaitingWorkers {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("%w: run in state %s", ErrInvalidState, c.state)
	}
	if len(c.workers) == 0 {
		return Result{Outcome: OutcomeNoWorkers}, ErrNoWorkersAvailable
	}

	cur, err := grid.New(n)
	if err != nil {
		c.state = StateFailed
		return Result{Outcome: OutcomeFailed}, err
	}
	// Partition only now that the worker count is final.
	bands, err := grid.Partition(n, len(c.workers))
	if err != nil {
		c.state = StateFailed
		return Result{Outcome: OutcomeFailed}, err
	}
	owners := 0
	for i, w := range c.workers {
		w.band = bands[i]
		if w.band.Empty() {
			log.Printf("coordinator: worker %d idle, grid has only %d interior rows", w.id, n-2)
			continue
		}
		owners++
		log.Printf("coordinator: worker %d owns rows %s (%d rows)", w.id, w.band, w.band.Len())
	}

	// Cancellation expires every deadline so blocked exchanges return.
	stop := context.AfterFunc(ctx, func() {
		for _, w := range c.workers {
			w.conn.SetDeadline(time.Unix(1, 0))
		}
	})
	defer stop()

	c.state = StateRunning
	next := cur.Clone()
	changes := make([]float64, len(c.workers))
	errs := make([]error, len(c.workers))
	res := Result{Workers: owners}

	start := time.Now()
	finish := func(state State, g *grid.Grid) {
		c.state = state
		res.Elapsed = time.Since(start)
		res.Outcome = outcomeFor(state)
		res.Grid = g
		res.Health = c.health.All()
	}

	for t := 0; t < maxIterations; t++ {
		if err := ctx.Err(); err != nil {
			finish(StateFailed, cur)
			return res, err
		}

		var wg sync.WaitGroup
		for i, w := range c.workers {
			changes[i], errs[i] = 0, nil
			if w.band.Empty() {
				continue
			}
			wg.Add(1)
			if !w.alive {
				go func(i int, band grid.RowRange) {
					defer wg.Done()
					changes[i] = grid.RelaxRows(cur, next, band.Start, band.End)
				}(i, w.band)
				continue
			}
			go func(i int, w *remoteWorker) {
				defer wg.Done()
				changes[i], errs[i] = c.exchange(w, cur, next)
			}(i, w)
		}
		wg.Wait()
		res.Iterations++

		if err := ctx.Err(); err != nil {
			finish(StateFailed, cur)
			return res, err
		}

		attempted, failed := 0, 0
		for i, w := range c.workers {
			if !w.alive || w.band.Empty() {
				continue
			}
			attempted++
			if errs[i] == nil {
				c.health.RecordSuccess(w.id)
				continue
			}
			failed++
			c.dropWorker(w, fmt.Errorf("iteration %d: %w", t+1, errs[i]))
		}
		if attempted > 0 && failed == attempted {
			log.Printf("coordinator: every worker failed in iteration %d, stopping", t+1)
			finish(StateFailed, cur)
			return res, fmt.Errorf("%w: all %d exchanges failed in iteration %d", ErrCommunicationFailure, failed, t+1)
		}
		// A band whose exchange failed was not written; relax it here so
		// the iteration is complete before convergence is judged.
		for i, w := range c.workers {
			if errs[i] != nil {
				changes[i] = grid.RelaxRows(cur, next, w.band.Start, w.band.End)
				log.Printf("coordinator: relaxing rows %s locally from now on, %d workers healthy",
					w.band, c.health.Healthy())
			}
		}

		if global := slices.Max(changes); global < tolerance {
			log.Printf("coordinator: converged in iteration %d (max change %g)", t+1, global)
			finish(StateConverged, next)
			return res, nil
		}

		cur, next = next, cur
		cur.PinHeatSource()
		next.CopyFrom(cur)
	}

	log.Printf("coordinator: iteration budget of %d exhausted", maxIterations)
	finish(StateExhausted, cur)
	return res, nil
}

// exchange ships w's band of cur and merges the reply into next.
func (c *Coordinator) exchange(w *remoteWorker, cur, next *grid.Grid) (float64, error) {
	if c.cfg.ExchangeTimeout > 0 {
		if err := w.conn.SetDeadline(time.Now().Add(c.cfg.ExchangeTimeout)); err != nil {
			return 0, fmt.Errorf("%w: set deadline: %w", protocol.ErrTransport, err)
		}
	}
	work := &protocol.WorkUnit{
		Band:     cur.Rows(w.band.HaloStart(), w.band.HaloEnd()),
		StartRow: w.band.Start,
		EndRow:   w.band.End,
		N:        cur.N,
	}
	reply, err := w.conn.Exchange(work)
	if err != nil {
		return 0, err
	}
	res, ok := reply.(*protocol.ResultUnit)
	if !ok {
		return 0, fmt.Errorf("%w: got %s message", ErrBadResult, reply.Kind())
	}
	if len(res.Rows) != w.band.Len() {
		return 0, fmt.Errorf("%w: %d rows for band %s", ErrBadResult, len(res.Rows), w.band)
	}
	if i := slices.IndexFunc(res.Rows, func(row []float64) bool { return len(row) != cur.N }); i >= 0 {
		return 0, fmt.Errorf("%w: row %d has %d values, want %d", ErrBadResult, i, len(res.Rows[i]), cur.N)
	}
	next.SetInterior(w.band.Start, res.Rows)
	return res.MaxChange, nil
}

// dropWorker marks w failed and closes its connection. A dropped worker
// receives no Termination Signal.
func (c *Coordinator) dropWorker(w *remoteWorker, err error) {
	w.alive = false
	c.health.RecordFailure(w.id, err)
	if cerr := w.conn.Close(); cerr != nil {
		log.Printf("coordinator: close worker %d: %v", w.id, cerr)
	}
}

// Close sends the Termination Signal to every still-connected worker, then
// closes all connections and the listener. It is safe to call more than
// once and from any state; later calls return the first call's result.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, w := range c.workers {
			if !w.alive {
				continue
			}
			w.alive = false
			if err := w.conn.SetDeadline(time.Now().Add(terminateTimeout)); err != nil {
				errs = append(errs, fmt.Errorf("worker %d: %w", w.id, err))
			}
			if err := w.conn.Send(protocol.Terminate{}); err != nil {
				log.Printf("coordinator: terminate worker %d: %v", w.id, err)
				errs = append(errs, fmt.Errorf("terminate worker %d: %w", w.id, err))
			}
			if err := w.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close worker %d: %w", w.id, err))
			}
		}
		if c.ln != nil {
			if err := c.ln.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close listener: %w", err))
			}
		}
		c.state = StateClosed
		c.closeErr = errors.Join(errs...)
		log.Printf("coordinator: closed")
	})
	return c.closeErr
}
