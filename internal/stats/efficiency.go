package stats

import (
	"math"
	"sort"
	"time"
)

// #region efficiency

// Efficiency is capacity normalized three ways: per currency unit, per
// metered unit, and per second of wall time.
type Efficiency struct {
	PerCost float64 `json:"per_cost"`
	PerUnit float64 `json:"per_unit"`
	PerTime float64 `json:"per_time"`
}

// EfficiencyVariants divides capacity by each denominator. A zero
// denominator yields Unbounded(), not an error: a free or instantaneous
// channel is a legitimate, informative measurement.
func EfficiencyVariants(capacity, totalCost float64, totalUnits int64, totalTime time.Duration) Efficiency {
	return Efficiency{
		PerCost: ratio(capacity, totalCost),
		PerUnit: ratio(capacity, float64(totalUnits)),
		PerTime: ratio(capacity, totalTime.Seconds()),
	}
}

// Unbounded is the representable value for a zero-denominator efficiency.
func Unbounded() float64 { return math.Inf(1) }

// IsUnbounded reports whether v is the unbounded efficiency value.
func IsUnbounded(v float64) bool { return math.IsInf(v, 1) }

func ratio(capacity, denom float64) float64 {
	if denom <= 0 {
		return Unbounded()
	}
	return capacity / denom
}

// #endregion efficiency

// #region bottleneck

// Bottleneck returns the minimum-capacity entry: the composition bound for
// a chain is its weakest link. Ties break on the lexicographically smaller
// channel id so the result is deterministic; empty input reports ok=false.
func Bottleneck(capacities map[string]float64) (channelID string, bits float64, ok bool) {
	if len(capacities) == 0 {
		return "", 0, false
	}

	ids := make([]string, 0, len(capacities))
	for id := range capacities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	channelID = ids[0]
	bits = capacities[channelID]
	for _, id := range ids[1:] {
		if capacities[id] < bits {
			channelID = id
			bits = capacities[id]
		}
	}
	return channelID, bits, true
}

// #endregion bottleneck
