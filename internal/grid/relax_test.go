package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRelaxBandFirstStep checks the first update next to the heat source:
// 0.25*(20+100+20+20) = 40.
func TestRelaxBandFirstStep(t *testing.T) {
	g, err := New(5)
	require.NoError(t, err)

	out, maxChange := RelaxBand(g.Rows(0, 5))
	require.Len(t, out, 3)

	assert.Equal(t, 40.0, out[0][2])
	assert.Equal(t, 40.0, out[0][1])
	assert.Equal(t, InitialTemp, out[1][2])
	assert.Equal(t, 20.0, maxChange)

	// Border columns are never computed.
	for _, row := range out {
		assert.Equal(t, 0.0, row[0])
		assert.Equal(t, 0.0, row[4])
	}
}

func TestRelaxBandEmpty(t *testing.T) {
	out, maxChange := RelaxBand([][]float64{{1, 2, 3}, {4, 5, 6}})
	assert.Nil(t, out)
	assert.Equal(t, 0.0, maxChange)
}

// TestRelaxBandMatchesRelaxRows verifies the remote and in-place kernels
// agree bit for bit on the same band.
func TestRelaxBandMatchesRelaxRows(t *testing.T) {
	cur, err := New(8)
	require.NoError(t, err)
	next := cur.Clone()

	// Run a few steps so the field is not uniform.
	for step := 0; step < 3; step++ {
		RelaxRows(cur, next, 1, cur.N-1)
		cur.CopyFrom(next)
	}

	start, end := 3, 6
	band := cur.Rows(start-1, end+1)
	out, bandMax := RelaxBand(band)

	rowsMax := RelaxRows(cur, next, start, end)
	assert.Equal(t, rowsMax, bandMax)
	for k := 0; k < end-start; k++ {
		for j := 1; j < cur.N-1; j++ {
			assert.Equal(t, next.At(start+k, j), out[k][j], "cell (%d,%d)", start+k, j)
		}
	}
}

func TestRelaxRowsLeavesOtherRows(t *testing.T) {
	cur, err := New(6)
	require.NoError(t, err)
	next := cur.Clone()

	RelaxRows(cur, next, 2, 4)

	assert.Equal(t, cur.Row(1), next.Row(1))
	assert.Equal(t, cur.Row(4), next.Row(4))
	assert.Equal(t, InitialTemp, next.At(2, 0))
	assert.Equal(t, InitialTemp, next.At(3, 5))
}
