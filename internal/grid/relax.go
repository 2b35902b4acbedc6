package grid

import "math"

// RelaxBand performs one Jacobi step over a band with one halo row above
// and one below. For a band of rows+2 rows it returns rows output rows and
// the largest absolute change among the updated cells.
//
// Output columns 0 and N-1 are left zero; callers merge only the interior
// columns back into the authoritative grid.
func RelaxBand(band [][]float64) ([][]float64, float64) {
	rows := len(band) - 2
	if rows <= 0 {
		return nil, 0
	}
	n := len(band[0])
	out := make([][]float64, rows)
	maxChange := 0.0
	for r := 1; r <= rows; r++ {
		above, cur, below := band[r-1], band[r], band[r+1]
		dst := make([]float64, n)
		for j := 1; j < n-1; j++ {
			v := 0.25 * (below[j] + above[j] + cur[j+1] + cur[j-1])
			if d := math.Abs(v - cur[j]); d > maxChange {
				maxChange = d
			}
			dst[j] = v
		}
		out[r-1] = dst
	}
	return out, maxChange
}

// RelaxRows updates rows [start, end) of next from cur in place and returns
// the largest absolute change. Rows outside the range and the left and
// right border columns of next are not written, so disjoint ranges may be
// relaxed concurrently.
func RelaxRows(cur, next *Grid, start, end int) float64 {
	n := cur.N
	maxChange := 0.0
	for i := start; i < end; i++ {
		above, row, below := cur.Row(i-1), cur.Row(i), cur.Row(i+1)
		dst := next.Row(i)
		for j := 1; j < n-1; j++ {
			v := 0.25 * (below[j] + above[j] + row[j+1] + row[j-1])
			if d := math.Abs(v - row[j]); d > maxChange {
				maxChange = d
			}
			dst[j] = v
		}
	}
	return maxChange
}
