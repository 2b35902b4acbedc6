package coordinator

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/heatgrid/internal/grid"
	"github.com/dreamware/heatgrid/internal/kernel"
	"github.com/dreamware/heatgrid/internal/protocol"
	"github.com/dreamware/heatgrid/internal/worker"
)

// workerReport summarizes what a scripted worker saw on its connection.
type workerReport struct {
	work       int // Work Units answered
	terminates int // Termination Signals received
	afterStop  int // Messages received after the first Terminate
}

// scriptedWorker connects to addr and answers Work Units like a real
// worker. After answering `answer` units it calls fail (if non-nil) on the
// next one instead of replying and stops.
func scriptedWorker(addr string, answer int, fail func(c *protocol.Conn)) <-chan workerReport {
	return startScripted(addr, answer, fail, make(chan struct{}))
}

// orderedWorker is scriptedWorker that returns only once its connection is
// queued on the listener, so workers started one after another get
// consecutive IDs.
func orderedWorker(t *testing.T, addr string, answer int, fail func(c *protocol.Conn)) <-chan workerReport {
	t.Helper()
	connected := make(chan struct{})
	out := startScripted(addr, answer, fail, connected)
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("scripted worker did not connect")
	}
	return out
}

func startScripted(addr string, answer int, fail func(c *protocol.Conn), connected chan struct{}) <-chan workerReport {
	out := make(chan workerReport, 1)
	go func() {
		var rep workerReport
		defer func() { out <- rep }()

		raw, err := net.Dial("tcp", addr)
		if err != nil {
			return
		}
		close(connected)
		c := protocol.NewConn(raw)
		defer c.Close()

		for {
			msg, err := c.Receive()
			if err != nil {
				return
			}
			switch m := msg.(type) {
			case protocol.Terminate:
				rep.terminates++
			case *protocol.WorkUnit:
				if rep.terminates > 0 {
					rep.afterStop++
				}
				if fail != nil && rep.work == answer {
					fail(c)
					return
				}
				rows, maxChange := grid.RelaxBand(m.Band)
				if err := c.Send(&protocol.ResultUnit{Rows: rows, MaxChange: maxChange}); err != nil {
					return
				}
				rep.work++
			default:
				rep.afterStop++
			}
		}
	}()
	return out
}

func dropConnection(c *protocol.Conn) { c.Close() }

// hang reads until the coordinator gives up on the connection.
func hang(c *protocol.Conn) {
	for {
		if _, err := c.Receive(); err != nil {
			return
		}
	}
}

func sendWrongShape(c *protocol.Conn) {
	c.Send(&protocol.ResultUnit{Rows: [][]float64{{1, 2}}, MaxChange: 1})
	hang(c)
}

// startCoordinator binds a coordinator to a free loopback port.
func startCoordinator(t *testing.T, workers int, accept time.Duration) (*Coordinator, string) {
	t.Helper()
	c := New(Config{
		Host:            "127.0.0.1",
		Port:            0,
		Workers:         workers,
		AcceptTimeout:   accept,
		ExchangeTimeout: 5 * time.Second,
	})
	require.NoError(t, c.Listen())
	t.Cleanup(func() { c.Close() })
	return c, c.Addr().String()
}

// startRealWorkers launches count worker.Run loops against addr.
func startRealWorkers(t *testing.T, addr string, count int) <-chan error {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	errc := make(chan error, count)
	for i := 0; i < count; i++ {
		go func() {
			errc <- worker.Run(context.Background(), worker.Config{
				Host: host, Port: port, RetryDelay: 10 * time.Millisecond, MaxRetries: 50,
			})
		}()
	}
	return errc
}

// reference runs the single-goroutine baseline used to check distributed results.
func reference(t *testing.T, n, maxIterations int, tolerance float64) *grid.Grid {
	t.Helper()
	return referenceRun(t, n, maxIterations, tolerance).Grid
}

func referenceRun(t *testing.T, n, maxIterations int, tolerance float64) kernel.Result {
	t.Helper()
	res, err := kernel.Sequential(context.Background(), n, maxIterations, tolerance)
	require.NoError(t, err)
	return res
}

func assertBoundaries(t *testing.T, g *grid.Grid) {
	t.Helper()
	for j := 0; j < g.N; j++ {
		assert.Equal(t, grid.HotTemp, g.At(0, j), "row 0 col %d", j)
		assert.Equal(t, grid.InitialTemp, g.At(g.N-1, j), "row %d col %d", g.N-1, j)
	}
	for i := 1; i < g.N; i++ {
		assert.Equal(t, grid.InitialTemp, g.At(i, 0), "row %d col 0", i)
		assert.Equal(t, grid.InitialTemp, g.At(i, g.N-1), "row %d col %d", i, g.N-1)
	}
}

// TestRunSingleIteration checks the first relaxation step next to the heat source.
func TestRunSingleIteration(t *testing.T) {
	c, addr := startCoordinator(t, 1, 5*time.Second)
	errc := startRealWorkers(t, addr, 1)

	require.NoError(t, c.AwaitWorkers(context.Background()))
	res, err := c.Run(context.Background(), 5, 1, 0.0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Equal(t, StateExhausted, c.State())
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, res.Workers)
	assert.Equal(t, 40.0, res.Grid.At(1, 2))
	assert.Equal(t, grid.InitialTemp, res.Grid.At(2, 2))

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.NoError(t, <-errc)
}

// TestRunMatchesReference runs several worker counts to convergence.
func TestRunMatchesReference(t *testing.T) {
	want := reference(t, 12, 2000, 0.001)

	for _, workers := range []int{1, 2, 3, 4} {
		t.Run(strconv.Itoa(workers)+" workers", func(t *testing.T) {
			c, addr := startCoordinator(t, workers, 5*time.Second)
			startRealWorkers(t, addr, workers)

			require.NoError(t, c.AwaitWorkers(context.Background()))
			res, err := c.Run(context.Background(), 12, 2000, 0.001)
			require.NoError(t, err)
			assert.Equal(t, OutcomeConverged, res.Outcome)

			diff, err := grid.MaxAbsDiff(want, res.Grid)
			require.NoError(t, err)
			assert.LessOrEqual(t, diff, 1e-1)
			assertBoundaries(t, res.Grid)
		})
	}
}

// TestEveryWorkerTerminatedOnce verifies each worker gets exactly one
// Termination Signal and nothing after it.
func TestEveryWorkerTerminatedOnce(t *testing.T) {
	c, addr := startCoordinator(t, 3, 5*time.Second)
	reports := []<-chan workerReport{
		scriptedWorker(addr, 0, nil),
		scriptedWorker(addr, 0, nil),
		scriptedWorker(addr, 0, nil),
	}

	require.NoError(t, c.AwaitWorkers(context.Background()))
	res, err := c.Run(context.Background(), 9, 5, 0.0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "second close is a no-op")

	for i, ch := range reports {
		rep := <-ch
		assert.Equal(t, 5, rep.work, "worker %d", i)
		assert.Equal(t, 1, rep.terminates, "worker %d", i)
		assert.Equal(t, 0, rep.afterStop, "worker %d", i)
	}
}

// TestDegradedStartup lets only one of two expected workers connect.
func TestDegradedStartup(t *testing.T) {
	c, addr := startCoordinator(t, 2, 300*time.Millisecond)
	startRealWorkers(t, addr, 1)

	require.NoError(t, c.AwaitWorkers(context.Background()))
	assert.Equal(t, 1, c.Workers())

	res, err := c.Run(context.Background(), 10, 2000, 0.001)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Workers)
	assert.Equal(t, OutcomeConverged, res.Outcome)

	diff, err := grid.MaxAbsDiff(reference(t, 10, 2000, 0.001), res.Grid)
	require.NoError(t, err)
	assert.LessOrEqual(t, diff, 1e-1)
}

func TestNoWorkers(t *testing.T) {
	c, _ := startCoordinator(t, 2, 100*time.Millisecond)

	err := c.AwaitWorkers(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkersAvailable)

	res, err := c.Run(context.Background(), 10, 10, 0.001)
	assert.ErrorIs(t, err, ErrNoWorkersAvailable)
	assert.Equal(t, OutcomeNoWorkers, res.Outcome)
	assert.Equal(t, ConnectionErrorLabel, res.Label())
	assert.Nil(t, res.Grid)
}

func TestAwaitWorkersCancelled(t *testing.T) {
	c, _ := startCoordinator(t, 1, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.AwaitWorkers(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestWorkerFailureIsContained drops one of two workers; the run carries on
// with the band relaxed locally and ends on the baseline answer.
func TestWorkerFailureIsContained(t *testing.T) {
	tests := []struct {
		name       string
		flakyFirst bool // the flaky worker owns the band next to the heat source
		answer     int  // Work Units answered before the drop
	}{
		{name: "heat source band lost on first unit", flakyFirst: true, answer: 0},
		{name: "heat source band lost mid-run", flakyFirst: true, answer: 3},
		{name: "cold band lost on first unit", flakyFirst: false, answer: 0},
		{name: "cold band lost mid-run", flakyFirst: false, answer: 3},
	}

	want := referenceRun(t, 10, 2000, 0.001)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, addr := startCoordinator(t, 2, 5*time.Second)
			var flaky, steady <-chan workerReport
			if tt.flakyFirst {
				flaky = orderedWorker(t, addr, tt.answer, dropConnection)
				steady = orderedWorker(t, addr, 0, nil)
			} else {
				steady = orderedWorker(t, addr, 0, nil)
				flaky = orderedWorker(t, addr, tt.answer, dropConnection)
			}

			require.NoError(t, c.AwaitWorkers(context.Background()))
			res, err := c.Run(context.Background(), 10, 2000, 0.001)
			require.NoError(t, err)
			assert.Equal(t, OutcomeConverged, res.Outcome)
			assert.Equal(t, 1, c.Health().Healthy())
			assert.Equal(t, want.Iterations, res.Iterations)

			diff, err := grid.MaxAbsDiff(want.Grid, res.Grid)
			require.NoError(t, err)
			assert.LessOrEqual(t, diff, 1e-9)
			assertBoundaries(t, res.Grid)

			require.NoError(t, c.Close())
			assert.Equal(t, tt.answer, (<-flaky).work)
			rep := <-steady
			assert.Equal(t, 1, rep.terminates)
			assert.Equal(t, res.Iterations, rep.work)

			require.Len(t, res.Health, 2)
			failedID := 1
			if tt.flakyFirst {
				failedID = 0
			}
			assert.Equal(t, healthStatusFailed, res.Health[failedID].Status)
			assert.Equal(t, tt.answer, res.Health[failedID].Exchanges)
			assert.Equal(t, healthStatusHealthy, res.Health[1-failedID].Status)
		})
	}
}

// TestNoConvergenceOnLostBand fails the only band with heat in it on the
// first iteration while the other band has not changed yet. The iteration
// must still see the real change of the lost band.
func TestNoConvergenceOnLostBand(t *testing.T) {
	c, addr := startCoordinator(t, 3, 5*time.Second)
	orderedWorker(t, addr, 0, dropConnection)
	orderedWorker(t, addr, 0, nil)
	orderedWorker(t, addr, 0, nil)

	require.NoError(t, c.AwaitWorkers(context.Background()))
	res, err := c.Run(context.Background(), 20, 3, 0.001)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Equal(t, 3, res.Iterations)

	diff, err := grid.MaxAbsDiff(reference(t, 20, 3, 0.001), res.Grid)
	require.NoError(t, err)
	assert.Zero(t, diff)
}

// TestCommunicationFailure covers iterations in which every exchange fails.
func TestCommunicationFailure(t *testing.T) {
	tests := []struct {
		name string
		fail func(c *protocol.Conn)
	}{
		{name: "disconnect", fail: dropConnection},
		{name: "malformed reply", fail: sendWrongShape},
		{name: "exchange timeout", fail: hang},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{
				Host:            "127.0.0.1",
				Workers:         1,
				AcceptTimeout:   5 * time.Second,
				ExchangeTimeout: 200 * time.Millisecond,
			})
			require.NoError(t, c.Listen())
			defer c.Close()
			rep := scriptedWorker(c.Addr().String(), 2, tt.fail)

			require.NoError(t, c.AwaitWorkers(context.Background()))
			res, err := c.Run(context.Background(), 8, 100, 0.0)
			assert.ErrorIs(t, err, ErrCommunicationFailure)
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Equal(t, StateFailed, c.State())
			assert.Equal(t, 3, res.Iterations)
			require.NotNil(t, res.Grid)
			assertBoundaries(t, res.Grid)

			health := c.Health().Get(0)
			require.NotNil(t, health)
			assert.Equal(t, healthStatusFailed, health.Status)
			assert.Equal(t, 2, health.Exchanges)

			require.NoError(t, c.Close())
			assert.Equal(t, 0, (<-rep).terminates)
		})
	}
}

// TestIdleWorkers connects more workers than there are interior rows.
// The leading bands are empty; those workers get no work but are still
// terminated.
func TestIdleWorkers(t *testing.T) {
	c, addr := startCoordinator(t, 3, 5*time.Second)
	reports := []<-chan workerReport{
		orderedWorker(t, addr, 0, nil),
		orderedWorker(t, addr, 0, nil),
		orderedWorker(t, addr, 0, nil),
	}

	require.NoError(t, c.AwaitWorkers(context.Background()))
	res, err := c.Run(context.Background(), 4, 3, 0.0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Workers)
	require.NoError(t, c.Close())

	diff, err := grid.MaxAbsDiff(reference(t, 4, 3, 0.0), res.Grid)
	require.NoError(t, err)
	assert.Zero(t, diff)

	work := make([]int, 0, len(reports))
	for _, ch := range reports {
		rep := <-ch
		assert.Equal(t, 1, rep.terminates)
		work = append(work, rep.work)
	}
	assert.Equal(t, []int{0, 0, 3}, work)
}

func TestRunCancelled(t *testing.T) {
	c, addr := startCoordinator(t, 1, 5*time.Second)
	scriptedWorker(addr, 0, hang)

	require.NoError(t, c.AwaitWorkers(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := c.Run(ctx, 6, 10, 0.0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestMethodOrder(t *testing.T) {
	c := New(Config{Host: "127.0.0.1", Workers: 1, AcceptTimeout: time.Second})

	assert.ErrorIs(t, c.AwaitWorkers(context.Background()), ErrInvalidState)
	assert.Nil(t, c.Addr())

	require.NoError(t, c.Listen())
	assert.ErrorIs(t, c.Listen(), ErrInvalidState)
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())

	_, err := c.Run(context.Background(), 5, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRunDistributedNoWorkers(t *testing.T) {
	port := freePort(t)
	res, err := RunDistributed(context.Background(), Params{
		Host: "127.0.0.1", Port: port,
		N: 10, MaxIterations: 10, Tolerance: 0.001, Workers: 2,
		AcceptTimeout: 100 * time.Millisecond,
	})
	assert.True(t, errors.Is(err, ErrNoWorkersAvailable))
	assert.Equal(t, OutcomeNoWorkers, res.Outcome)
	assert.Equal(t, ConnectionErrorLabel, res.Label())

	// The endpoint is released afterwards.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	ln.Close()
}

func TestRunDistributed(t *testing.T) {
	port := freePort(t)
	errc := startRealWorkers(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2)

	res, err := RunDistributed(context.Background(), Params{
		Host: "127.0.0.1", Port: port,
		N: 10, MaxIterations: 1000, Tolerance: 0.001, Workers: 2,
		AcceptTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConverged, res.Outcome)
	assert.Equal(t, "converged", res.Label())
	assert.Greater(t, res.ElapsedMS(), 0.0)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not exit")
		}
	}
}

func TestRunDistributedInvalidParams(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{name: "grid too small", p: Params{N: 2, MaxIterations: 1, Workers: 1}},
		{name: "negative iterations", p: Params{N: 5, MaxIterations: -1, Workers: 1}},
		{name: "no workers requested", p: Params{N: 5, MaxIterations: 1, Workers: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := RunDistributed(context.Background(), tt.p)
			assert.ErrorIs(t, err, ErrInvalidParams)
			assert.Equal(t, OutcomeFailed, res.Outcome)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_workers", StateAwaitingWorkers.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
