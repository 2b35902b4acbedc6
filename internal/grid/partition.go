package grid

import (
	"errors"
	"fmt"
)

// ErrInvalidWorkerCount is returned when partitioning for fewer than one worker.
var ErrInvalidWorkerCount = errors.New("worker count must be at least 1")

// RowRange is a half-open range of interior rows [Start, End) assigned to a
// single worker or goroutine for the whole run. A range may be empty.
//
// The ranges produced by Partition are:
//   - contiguous: each range starts where the previous one ends
//   - disjoint: no interior row is owned twice
//   - complete: together they cover exactly [1, N-1)
//
// Disjointness is what lets concurrent band updates write into a shared
// next grid without locking.
//
// Example:
//
//	r := RowRange{Start: 1, End: 4}
//	r.Len()       // 3
//	r.HaloStart() // 0, first row sent to the worker
//	r.HaloEnd()   // 5, one past the last row sent
type RowRange struct {
	Start int // First interior row owned (inclusive)
	End   int // One past the last interior row owned
}

// Len returns the number of interior rows in the range.
func (r RowRange) Len() int {
	return r.End - r.Start
}

// Empty reports whether the range owns no rows.
func (r RowRange) Empty() bool {
	return r.End <= r.Start
}

// HaloStart returns the first row of the band shipped to a worker,
// one above the owned rows.
func (r RowRange) HaloStart() int {
	return r.Start - 1
}

// HaloEnd returns one past the last row of the band shipped to a worker,
// one below the owned rows.
func (r RowRange) HaloEnd() int {
	return r.End + 1
}

// String formats the range the way it is logged.
func (r RowRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Partition splits the interior rows [1, n-1) of an n×n grid into exactly
// workers horizontal bands.
//
// Every band receives (n-2)/workers rows; the last band also absorbs the
// remainder of the division. When workers exceeds the number of interior
// rows the leading bands are empty and the last band owns every interior
// row.
//
// Parameters:
//   - n: Grid side length (must be >= MinSize)
//   - workers: Number of bands requested (must be >= 1)
//
// Returns:
//   - workers RowRanges, ordered top to bottom
//   - ErrGridTooSmall or ErrInvalidWorkerCount on bad input
//
// Example:
//
//	ranges, _ := Partition(10, 3)
//	// [1,3) [3,5) [5,9)
//	ranges, _ = Partition(5, 5)
//	// [1,1) [1,1) [1,1) [1,1) [1,4)
func Partition(n, workers int) ([]RowRange, error) {
	if n < MinSize {
		return nil, fmt.Errorf("%w: n=%d", ErrGridTooSmall, n)
	}
	if workers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workers)
	}

	perWorker := (n - 2) / workers
	ranges := make([]RowRange, 0, workers)
	for i := 0; i < workers; i++ {
		start := 1 + i*perWorker
		end := start + perWorker
		// The last band takes whatever is left over.
		if i == workers-1 {
			end = n - 1
		}
		ranges = append(ranges, RowRange{Start: start, End: end})
	}
	return ranges, nil
}
