package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixkranz/aps/internal/partition"
)

func TestCapacityNoiselessChannel(t *testing.T) {
	// A noiseless channel over n symbols carries exactly log2(n) bits.
	for _, n := range []int{2, 4, 8, 13} {
		counts := make([][]float64, n)
		for i := range counts {
			counts[i] = make([]float64, n)
			counts[i][i] = 10
		}
		m := fillCounts(counts)
		assert.InDelta(t, math.Log2(float64(n)), Capacity(m, 0, 0), 1e-4, "n=%d", n)
	}
}

func TestCapacityBinarySymmetricChannel(t *testing.T) {
	// BSC with crossover p has the closed form C = 1 - H(p).
	p := 0.1
	m := fillCounts([][]float64{
		{900 * (1 - p), 900 * p},
		{900 * p, 900 * (1 - p)},
	})

	want := 1 + p*math.Log2(p) + (1-p)*math.Log2(1-p)
	assert.InDelta(t, want, Capacity(m, 1e-6, 100), 1e-4)
}

func TestCapacityUselessChannel(t *testing.T) {
	// Identical rows: the output ignores the input entirely.
	m := fillCounts([][]float64{
		{30, 30},
		{30, 30},
	})
	assert.InDelta(t, 0.0, Capacity(m, 0, 0), 1e-6)
}

func TestCapacitySingleObservedInput(t *testing.T) {
	// One reachable input symbol cannot carry information.
	m := fillCounts([][]float64{
		{40, 10},
		{0, 0},
	})
	assert.InDelta(t, 0.0, Capacity(m, 0, 0), 1e-6)
}

func TestCapacityEmptyMatrix(t *testing.T) {
	m := NewConfusionMatrix("ch", []partition.Symbol{"a", "b"}, []partition.Symbol{"x", "y"})
	assert.Zero(t, Capacity(m, 0, 0))
}

func TestCapacityAtLeastMutualInformation(t *testing.T) {
	// Capacity maximizes over input distributions, so it can never fall
	// below the mutual information of the empirical input distribution.
	cases := [][][]float64{
		{{80, 20}, {30, 70}},
		{{50, 25, 25}, {10, 80, 10}, {25, 25, 50}},
		{{97, 3}, {40, 60}},
	}
	for _, counts := range cases {
		m := fillCounts(counts)
		assert.GreaterOrEqual(t, Capacity(m, 0, 0)+1e-9, MutualInformation(m))
	}
}

func TestCapacityTinyIterationBudgetStillReturns(t *testing.T) {
	// A budget too small to converge returns the best lower bound so far,
	// never an error. One iteration of BA already lower-bounds capacity
	// by the uniform-input mutual information.
	m := fillCounts([][]float64{
		{900, 100},
		{100, 900},
	})
	got := Capacity(m, 1e-12, 1)
	assert.Greater(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
}
