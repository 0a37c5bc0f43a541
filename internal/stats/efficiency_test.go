package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEfficiencyVariants(t *testing.T) {
	c := 0.85
	e := EfficiencyVariants(c, 0.002, 160, 4*time.Second)

	assert.InDelta(t, c/0.002, e.PerCost, 1e-9)
	assert.InDelta(t, c/160, e.PerUnit, 1e-9)
	assert.InDelta(t, c/4, e.PerTime, 1e-9)
}

func TestEfficiencyZeroDenominatorIsUnbounded(t *testing.T) {
	// A free channel is informative, not an error.
	c := 2.0
	e := EfficiencyVariants(c, 0, 100, 5*time.Second)

	assert.True(t, IsUnbounded(e.PerCost))
	assert.InDelta(t, c/100, e.PerUnit, 1e-9)
	assert.InDelta(t, c/5, e.PerTime, 1e-9)

	allFree := EfficiencyVariants(c, 0, 0, 0)
	assert.True(t, IsUnbounded(allFree.PerCost))
	assert.True(t, IsUnbounded(allFree.PerUnit))
	assert.True(t, IsUnbounded(allFree.PerTime))
}

func TestUnbounded(t *testing.T) {
	assert.True(t, IsUnbounded(Unbounded()))
	assert.False(t, IsUnbounded(0))
	assert.False(t, IsUnbounded(math.Inf(-1)))
	assert.False(t, IsUnbounded(1e300))
}

func TestBottleneck(t *testing.T) {
	id, bits, ok := Bottleneck(map[string]float64{
		"planner.search": 2.1,
		"search.fetch":   0.7,
		"fetch.extract":  1.3,
	})
	require.True(t, ok)
	assert.Equal(t, "search.fetch", id)
	assert.Equal(t, 0.7, bits)
}

func TestBottleneckTieBreaksOnChannelID(t *testing.T) {
	id, bits, ok := Bottleneck(map[string]float64{
		"b.channel": 0.5,
		"a.channel": 0.5,
		"c.channel": 0.9,
	})
	require.True(t, ok)
	assert.Equal(t, "a.channel", id)
	assert.Equal(t, 0.5, bits)
}

func TestBottleneckEmpty(t *testing.T) {
	_, _, ok := Bottleneck(nil)
	assert.False(t, ok)
}

func TestCompositionBound(t *testing.T) {
	// Data-processing inequality: chaining a BSC(0.1) into a BSC(0.2)
	// yields a BSC with crossover 0.1*0.8 + 0.9*0.2 = 0.26, whose capacity
	// cannot exceed either link's.
	link1 := fillCounts([][]float64{
		{900, 100},
		{100, 900},
	})
	link2 := fillCounts([][]float64{
		{800, 200},
		{200, 800},
	})
	endToEnd := fillCounts([][]float64{
		{740, 260},
		{260, 740},
	})

	c1 := Capacity(link1, 0, 0)
	c2 := Capacity(link2, 0, 0)
	cEnd := Capacity(endToEnd, 0, 0)

	_, minLink, ok := Bottleneck(map[string]float64{"l1": c1, "l2": c2})
	require.True(t, ok)
	assert.LessOrEqual(t, cEnd, minLink+1e-9)
}
