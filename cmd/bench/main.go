// Command bench runs a benchmark sweep over the sequential, parallel and
// distributed strategies and writes the results as CSV.
//
// Usage:
//
//	bench [plan.yaml]
//
// Without a plan file the default sweep runs, with its distributed workers
// started inside the benchmark process. The CSV goes to the plan's output
// path and a speedup summary is printed to stdout.
//
// Exit codes:
//   - 0: sweep finished (individual runs may still have failed; see the CSV)
//   - 1: bad plan, unwritable output, or interrupted
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/heatgrid/internal/bench"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	plan, err := loadPlan(os.Args[1:])
	if err != nil {
		logFatal("bench: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("bench: interrupted")
		cancel()
	}()

	if err := execute(ctx, plan, os.Stdout); err != nil {
		logFatal("bench: %v", err)
	}
}

func loadPlan(args []string) (bench.Plan, error) {
	switch len(args) {
	case 0:
		return bench.DefaultPlan(), nil
	case 1:
		return bench.LoadPlan(args[0])
	default:
		return bench.Plan{}, fmt.Errorf("usage: bench [plan.yaml]")
	}
}

// execute runs the sweep, writes the CSV and prints the summary. Records
// gathered before an interruption are still written.
func execute(ctx context.Context, plan bench.Plan, out io.Writer) error {
	r, err := bench.NewRunner(plan)
	if err != nil {
		return err
	}
	records, runErr := r.Run(ctx)

	f, err := os.Create(plan.Output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := bench.WriteCSV(f, records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", plan.Output, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", plan.Output, err)
	}
	log.Printf("bench: %d records written to %s", len(records), plan.Output)

	summaries := bench.Analyze(records)
	fmt.Fprintln(out, "All runs:")
	if err := bench.WriteSummary(out, summaries); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nBest per size:")
	if err := bench.WriteSummary(out, bench.Best(summaries)); err != nil {
		return err
	}
	return runErr
}
