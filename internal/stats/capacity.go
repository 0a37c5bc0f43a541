package stats

import "math"

// #region constants

const (
	// DefaultCapacityTol is the convergence bound on the capacity bracket
	// (upper minus lower Blahut-Arimoto bound), in bits.
	DefaultCapacityTol = 1e-6

	// DefaultCapacityMaxIters caps the fixed-point iterations. The
	// alphabets in play are small (13 symbols or fewer), where the
	// iteration converges geometrically; exhausting the budget returns
	// the last lower bound instead of an error.
	DefaultCapacityMaxIters = 100
)

// #endregion constants

// #region capacity

// Capacity computes the channel capacity of the matrix's empirical
// conditional P(Y|X) in bits via Blahut-Arimoto: fix the conditional,
// maximize mutual information over the input distribution.
//
// Only rows with observed mass enter the maximization. A zero-mass row's
// uniform default is a maximum-entropy placeholder for derived views, not
// evidence the input is reachable, and letting the optimizer route mass
// through it would overstate what the channel was measured to carry.
//
// Non-positive tol or maxIters fall back to the package defaults.
func Capacity(m ConfusionMatrix, tol float64, maxIters int) float64 {
	if tol <= 0 {
		tol = DefaultCapacityTol
	}
	if maxIters <= 0 {
		maxIters = DefaultCapacityMaxIters
	}

	var rows [][]float64
	for i := range m.Counts {
		var mass float64
		for _, c := range m.Counts[i] {
			mass += c
		}
		if mass > 0 {
			rows = append(rows, m.RowDistribution(i))
		}
	}
	n := len(rows)
	if n == 0 {
		return 0
	}

	// Uniform starting distribution; the update keeps every p[i] > 0.
	p := make([]float64, n)
	for i := range p {
		p[i] = 1.0 / float64(n)
	}

	c := make([]float64, n)
	q := make([]float64, len(m.Outputs))
	var lower float64

	for iter := 0; iter < maxIters; iter++ {
		// Output distribution induced by the current input distribution.
		for j := range q {
			q[j] = 0
		}
		for i, row := range rows {
			for j, w := range row {
				q[j] += p[i] * w
			}
		}

		// c[i] = exp D(W_i || q); the bracket is
		// log sum p[i]c[i] <= C <= log max c[i].
		upper := math.Inf(-1)
		var z float64
		for i, row := range rows {
			var d float64
			for j, w := range row {
				if w > 0 && q[j] > 0 {
					d += w * math.Log(w/q[j])
				}
			}
			c[i] = math.Exp(d)
			if d > upper {
				upper = d
			}
			z += p[i] * c[i]
		}

		lower = math.Log(z)
		if (upper-lower)/math.Ln2 < tol {
			break
		}

		for i := range p {
			p[i] = p[i] * c[i] / z
		}
	}

	bits := lower / math.Ln2
	if bits < 0 {
		return 0
	}
	return bits
}

// #endregion capacity
