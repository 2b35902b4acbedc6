// Package grid holds the temperature field shared by every heatgrid
// execution strategy and the relaxation kernel that advances it.
//
// # Model
//
// A Grid is an N×N row-major slice of float64 values. The boundary
// condition is fixed for the life of a run:
//
//	row 0           HotTemp (100.0), the heat source
//	row N-1         InitialTemp (20.0)
//	columns 0, N-1  InitialTemp (20.0), except where they meet row 0
//
// Only interior cells change, and only through the Jacobi update
//
//	new[i][j] = 0.25 * (cur[i+1][j] + cur[i-1][j] + cur[i][j+1] + cur[i][j-1])
//
// # Kernels
//
// RelaxBand works on a detached band with one halo row on each side and
// is what a remote worker runs on a Work Unit. RelaxRows works in place on
// a pair of full grids and is what the sequential and shared-memory
// strategies, as well as the coordinator's local fallback, run.
// Both compute the same values in the same order for a given cell, so a
// band relaxed remotely is bit-identical to the same band relaxed locally.
package grid
