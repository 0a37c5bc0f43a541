package regen

import (
	"context"
	"errors"
	"sync"
)

// #region budget

// ErrBudgetExhausted is returned by Spend once the auxiliary-call allowance
// is used up.
var ErrBudgetExhausted = errors.New("regen: auxiliary call budget exhausted")

// auxCallLimit is the bounded-cost contract for validators: at most one
// auxiliary call per validation.
const auxCallLimit = 1

// AuxBudget meters the auxiliary calls a validator makes. The engine
// installs a fresh budget per validation; validators claim an allowance
// with Spend before each auxiliary call.
type AuxBudget struct {
	mu        sync.Mutex
	remaining int
}

// NewAuxBudget returns a budget with the standard single-call allowance.
func NewAuxBudget() *AuxBudget {
	return &AuxBudget{remaining: auxCallLimit}
}

// Spend claims one auxiliary call. Nil-safe: without an installed budget
// there is nothing to enforce and the spend is allowed.
func (b *AuxBudget) Spend() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return ErrBudgetExhausted
	}
	b.remaining--
	return nil
}

// Remaining reports the unclaimed allowance.
func (b *AuxBudget) Remaining() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// #endregion budget

// #region context

type budgetKey struct{}

// WithBudget installs a fresh single-call budget. The engine wraps every
// validator context with this.
func WithBudget(parent context.Context) context.Context {
	return context.WithValue(parent, budgetKey{}, NewAuxBudget())
}

// BudgetFromContext returns the installed budget, or nil when the context
// carries none.
func BudgetFromContext(ctx context.Context) *AuxBudget {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(budgetKey{}).(*AuxBudget)
	return b
}

// #endregion context
