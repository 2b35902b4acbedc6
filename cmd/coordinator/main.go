// Command coordinator runs one distributed heat diffusion simulation. It
// listens for workers, drives the simulation over them and prints a
// summary of the run.
//
// Optional environment:
//   - COORDINATOR_HOST: listen host (default: "localhost")
//   - COORDINATOR_PORT: listen port (default: 5000)
//   - GRID_N: grid side length (default: 100)
//   - MAX_ITERATIONS: iteration budget (default: 1000)
//   - TOLERANCE: convergence threshold (default: 0.001)
//   - WORKERS: worker connections to wait for (default: 2)
//   - ACCEPT_TIMEOUT: startup wait for workers (default: "20s")
//   - EXCHANGE_TIMEOUT: bound on one worker exchange (default: "30s")
//   - VERIFY: when "true", compare the result with the sequential kernel
//
// Exit codes:
//   - 0: the run converged or used its whole iteration budget
//   - 1: bad configuration, no workers, or a failed run
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/heatgrid/internal/coordinator"
	"github.com/dreamware/heatgrid/internal/grid"
	"github.com/dreamware/heatgrid/internal/kernel"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// options is the command configuration read from the environment.
type options struct {
	params coordinator.Params
	verify bool
}

func main() {
	opts, err := loadOptions()
	if err != nil {
		logFatal("coordinator: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("coordinator: interrupted, shutting down workers")
		cancel()
	}()

	if err := execute(ctx, opts, os.Stdout); err != nil {
		logFatal("coordinator: %v", err)
		return
	}
	log.Println("coordinator stopped")
}

// execute runs the simulation and writes its summary to out.
func execute(ctx context.Context, opts options, out io.Writer) error {
	p := opts.params
	res, err := coordinator.RunDistributed(ctx, p)
	fmt.Fprintf(out, "status:     %s\n", res.Label())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "grid:       %dx%d\n", p.N, p.N)
	fmt.Fprintf(out, "workers:    %d\n", res.Workers)
	fmt.Fprintf(out, "iterations: %d\n", res.Iterations)
	fmt.Fprintf(out, "elapsed:    %.3f ms\n", res.ElapsedMS())
	for _, h := range res.Health {
		line := fmt.Sprintf("worker %d:   %s %s, %d exchanges", h.ID, h.Addr, h.Status, h.Exchanges)
		if h.LastError != "" {
			line += " (" + h.LastError + ")"
		}
		fmt.Fprintln(out, line)
	}

	if !opts.verify {
		return nil
	}
	seq, err := kernel.Sequential(ctx, p.N, p.MaxIterations, p.Tolerance)
	if err != nil {
		return fmt.Errorf("sequential baseline: %w", err)
	}
	diff, err := grid.MaxAbsDiff(seq.Grid, res.Grid)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "baseline:   %.3f ms, max diff %.6f\n", seq.ElapsedMS(), diff)
	if diff > 1e-1 {
		return fmt.Errorf("result differs from sequential baseline by %g", diff)
	}
	return nil
}

// loadOptions reads the run configuration from the environment.
func loadOptions() (options, error) {
	def := coordinator.DefaultConfig()
	var errs []error
	p := coordinator.Params{
		Host:            getenv("COORDINATOR_HOST", def.Host),
		Port:            getenvInt("COORDINATOR_PORT", def.Port, &errs),
		N:               getenvInt("GRID_N", 100, &errs),
		MaxIterations:   getenvInt("MAX_ITERATIONS", 1000, &errs),
		Tolerance:       getenvFloat("TOLERANCE", 0.001, &errs),
		Workers:         getenvInt("WORKERS", def.Workers, &errs),
		AcceptTimeout:   getenvDuration("ACCEPT_TIMEOUT", def.AcceptTimeout, &errs),
		ExchangeTimeout: getenvDuration("EXCHANGE_TIMEOUT", def.ExchangeTimeout, &errs),
	}
	verify, err := strconv.ParseBool(getenv("VERIFY", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("VERIFY: %w", err))
	}
	return options{params: p, verify: verify}, errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int, errs *[]error) int {
	v, err := strconv.Atoi(getenv(k, strconv.Itoa(def)))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return v
}

func getenvFloat(k string, def float64, errs *[]error) float64 {
	v, err := strconv.ParseFloat(getenv(k, strconv.FormatFloat(def, 'g', -1, 64)), 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return v
}

func getenvDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v, err := time.ParseDuration(getenv(k, def.String()))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return v
}
