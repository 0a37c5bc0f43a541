package controller

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegIncompleteBetaEndpoints(t *testing.T) {
	assert.Equal(t, 0.0, RegIncompleteBeta(0, 2, 3))
	assert.Equal(t, 0.0, RegIncompleteBeta(-0.5, 2, 3))
	assert.Equal(t, 1.0, RegIncompleteBeta(1, 2, 3))
	assert.Equal(t, 1.0, RegIncompleteBeta(1.5, 2, 3))
}

func TestRegIncompleteBetaClosedForms(t *testing.T) {
	// Beta(1,1) is uniform, Beta(2,1) has CDF x^2, Beta(1,2) has 2x - x^2.
	for _, x := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		assert.InDelta(t, x, RegIncompleteBeta(x, 1, 1), 1e-9)
		assert.InDelta(t, x*x, RegIncompleteBeta(x, 2, 1), 1e-9)
		assert.InDelta(t, 2*x-x*x, RegIncompleteBeta(x, 1, 2), 1e-9)
	}
}

func TestRegIncompleteBetaSymmetry(t *testing.T) {
	// I_x(a, b) = 1 - I_{1-x}(b, a), and a == b pins the median at 1/2.
	for _, tc := range []struct{ x, a, b float64 }{
		{0.2, 0.5, 20.5},
		{0.7, 3.5, 1.5},
		{0.05, 10.5, 90.5},
	} {
		got := RegIncompleteBeta(tc.x, tc.a, tc.b)
		mirror := 1 - RegIncompleteBeta(1-tc.x, tc.b, tc.a)
		assert.InDelta(t, mirror, got, 1e-10)
	}
	assert.InDelta(t, 0.5, RegIncompleteBeta(0.5, 0.5, 0.5), 1e-10)
	assert.InDelta(t, 0.5, RegIncompleteBeta(0.5, 7.5, 7.5), 1e-10)
}

func TestRegIncompleteBetaMonotoneInX(t *testing.T) {
	prev := 0.0
	for x := 0.05; x < 1; x += 0.05 {
		cur := RegIncompleteBeta(x, 2.5, 5.5)
		require.Greater(t, cur, prev, "CDF must increase at x=%.2f", x)
		prev = cur
	}
}

func TestFailureUCBZeroFailuresPositive(t *testing.T) {
	u := FailureUCB(0, 20, 0.95)
	assert.Greater(t, u, 0.0, "zero observed failures must not yield a zero bound")
	assert.Greater(t, u, 0.03)
	assert.Less(t, u, 0.15)
}

func TestFailureUCBSelfConsistent(t *testing.T) {
	// The bound is the posterior quantile: plugging it back into the CDF
	// must recover the confidence level.
	for _, tc := range []struct {
		failures, total int
		confidence      float64
	}{
		{0, 20, 0.95},
		{1, 20, 0.95},
		{5, 50, 0.95},
		{5, 50, 0.99},
		{30, 100, 0.90},
		{0, 500, 0.95},
	} {
		t.Run(fmt.Sprintf("%d_of_%d_at_%.2f", tc.failures, tc.total, tc.confidence), func(t *testing.T) {
			u := FailureUCB(tc.failures, tc.total, tc.confidence)
			alpha := float64(tc.failures) + 0.5
			beta := float64(tc.total-tc.failures) + 0.5
			assert.InDelta(t, tc.confidence, RegIncompleteBeta(u, alpha, beta), 1e-6)
		})
	}
}

func TestFailureUCBExceedsPointEstimate(t *testing.T) {
	for _, tc := range []struct{ failures, total int }{
		{1, 20}, {10, 100}, {30, 100},
	} {
		rate := float64(tc.failures) / float64(tc.total)
		assert.Greater(t, FailureUCB(tc.failures, tc.total, 0.95), rate,
			"%d/%d", tc.failures, tc.total)
	}
}

func TestFailureUCBMonotoneInFailures(t *testing.T) {
	prev := FailureUCB(0, 50, 0.95)
	for f := 5; f <= 50; f += 5 {
		cur := FailureUCB(f, 50, 0.95)
		require.Greater(t, cur, prev, "more failures must raise the bound (f=%d)", f)
		prev = cur
	}
}

func TestFailureUCBTightensWithData(t *testing.T) {
	wide := FailureUCB(0, 20, 0.95)
	mid := FailureUCB(0, 100, 0.95)
	tight := FailureUCB(0, 1000, 0.95)
	assert.Greater(t, wide, mid)
	assert.Greater(t, mid, tight)
}

func TestFailureUCBDegenerateInputs(t *testing.T) {
	// No data at all: the bound stays near one, refusing to vouch for the
	// channel.
	assert.Greater(t, FailureUCB(0, 0, 0.95), 0.9)

	// Out-of-range inputs clamp instead of exploding.
	assert.InDelta(t, FailureUCB(0, 20, 0.95), FailureUCB(-3, 20, 17), 1e-12)
	assert.InDelta(t, FailureUCB(10, 10, 0.95), FailureUCB(25, 10, 0.95), 1e-12)
	assert.Greater(t, FailureUCB(10, 10, 0.95), 0.8, "all failures pins the bound high")
}
