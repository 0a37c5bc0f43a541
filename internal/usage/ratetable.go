package usage

import "sync"

// #region rate

// Rate prices one capability's calls for estimation when the call reports
// no usage of its own.
type Rate struct {
	CostPerPromptUnit      float64
	CostPerCompletionUnit  float64
	DefaultPromptUnits     int64
	DefaultCompletionUnits int64
}

// #endregion rate

// #region rate-table

// RateTable maps capability ids to pricing. Unknown capabilities fall back
// to a table-wide default so estimation always produces a value.
type RateTable struct {
	mu       sync.RWMutex
	rates    map[string]Rate
	fallback Rate
}

// NewRateTable builds a table with the given fallback rate.
func NewRateTable(fallback Rate) *RateTable {
	return &RateTable{
		rates:    make(map[string]Rate),
		fallback: fallback,
	}
}

// Set registers or replaces the rate for a capability.
func (rt *RateTable) Set(capabilityID string, r Rate) {
	rt.mu.Lock()
	rt.rates[capabilityID] = r
	rt.mu.Unlock()
}

// Rate returns the rate for a capability, or the fallback.
func (rt *RateTable) Rate(capabilityID string) Rate {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if r, ok := rt.rates[capabilityID]; ok {
		return r
	}
	return rt.fallback
}

// Price computes cost for known unit counts at the capability's rate.
func (rt *RateTable) Price(capabilityID string, promptUnits, completionUnits int64) float64 {
	r := rt.Rate(capabilityID)
	return float64(promptUnits)*r.CostPerPromptUnit + float64(completionUnits)*r.CostPerCompletionUnit
}

// Estimate prices a call that reported nothing at all, using the
// capability's default unit counts. The result is flagged Estimated.
func (rt *RateTable) Estimate(capabilityID string) Usage {
	r := rt.Rate(capabilityID)
	u := Usage{
		PromptUnits:     r.DefaultPromptUnits,
		CompletionUnits: r.DefaultCompletionUnits,
		Estimated:       true,
	}
	u.TotalUnits = u.PromptUnits + u.CompletionUnits
	u.Cost = float64(u.PromptUnits)*r.CostPerPromptUnit + float64(u.CompletionUnits)*r.CostPerCompletionUnit
	return u
}

// #endregion rate-table
