package bench

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"golang.org/x/exp/slices"

	"github.com/dreamware/heatgrid/internal/coordinator"
)

// Strategy names as they appear in the CSV.
const (
	VersionSequential  = "sequential"
	VersionParallel    = "parallel"
	VersionDistributed = "distributed"
)

// Run statuses.
const (
	StatusOK        = "OK"
	StatusMismatch  = "MISMATCH"  // final grid differs from the baseline beyond CheckTolerance
	StatusUnchecked = "UNCHECKED" // no baseline for this size
	StatusTimeout   = "TIMEOUT"
	StatusConnError = coordinator.ConnectionErrorLabel
	StatusError     = "ERROR"
)

// CheckTolerance is the largest per-cell difference from the sequential
// grid a run may show and still be OK.
const CheckTolerance = 1e-1

// Record is one row of benchmark output.
type Record struct {
	Version     string
	Status      string
	Size        int
	Iterations  int
	Parallelism int // threads or workers; 1 for the sequential baseline
	ElapsedMS   float64
}

var csvHeader = []string{"version", "size", "iterations", "parallelism", "elapsed_ms", "status"}

// WriteCSV writes records with a header row.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Version,
			strconv.Itoa(r.Size),
			strconv.Itoa(r.Iterations),
			strconv.Itoa(r.Parallelism),
			strconv.FormatFloat(r.ElapsedMS, 'f', 3, 64),
			r.Status,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary compares one successful run with the sequential baseline of
// the same size.
type Summary struct {
	Version     string
	Size        int
	Parallelism int
	ElapsedMS   float64
	Speedup     float64 // baseline time / run time
	Efficiency  float64 // Speedup / Parallelism
	OverheadPct float64 // (run time / baseline time - 1) * 100
}

// Analyze builds a Summary for every OK parallel or distributed record
// that has an OK baseline. The result is ordered by size, version and
// parallelism.
func Analyze(records []Record) []Summary {
	baseline := make(map[int]float64)
	for _, r := range records {
		if r.Version == VersionSequential && r.Status == StatusOK {
			baseline[r.Size] = r.ElapsedMS
		}
	}

	var out []Summary
	for _, r := range records {
		if r.Version == VersionSequential || r.Status != StatusOK {
			continue
		}
		base, ok := baseline[r.Size]
		if !ok || r.ElapsedMS <= 0 || base <= 0 {
			continue
		}
		s := Summary{
			Version:     r.Version,
			Size:        r.Size,
			Parallelism: r.Parallelism,
			ElapsedMS:   r.ElapsedMS,
			Speedup:     base / r.ElapsedMS,
			OverheadPct: (r.ElapsedMS/base - 1) * 100,
		}
		if r.Parallelism > 0 {
			s.Efficiency = s.Speedup / float64(r.Parallelism)
		}
		out = append(out, s)
	}

	slices.SortFunc(out, func(a, b Summary) int {
		if c := cmp.Compare(a.Size, b.Size); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Version, b.Version); c != 0 {
			return c
		}
		return cmp.Compare(a.Parallelism, b.Parallelism)
	})
	return out
}

// Best returns the fastest summary for each size, in size order.
func Best(summaries []Summary) []Summary {
	var out []Summary
	for _, s := range summaries {
		i := slices.IndexFunc(out, func(b Summary) bool { return b.Size == s.Size })
		switch {
		case i < 0:
			out = append(out, s)
		case s.ElapsedMS < out[i].ElapsedMS:
			out[i] = s
		}
	}
	return out
}

// WriteSummary prints summaries as an aligned table.
func WriteSummary(w io.Writer, summaries []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIZE\tVERSION\tP\tTIME(ms)\tSPEEDUP\tEFFICIENCY\tOVERHEAD")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.1f\t%.2fx\t%.0f%%\t%+.0f%%\n",
			s.Size, s.Version, s.Parallelism, s.ElapsedMS, s.Speedup, s.Efficiency*100, s.OverheadPct)
	}
	return tw.Flush()
}
