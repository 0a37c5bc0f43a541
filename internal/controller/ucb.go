package controller

import "math"

// #region constants

const (
	// DefaultConfidence is the quantile the failure UCB is evaluated at.
	DefaultConfidence = 0.95

	// ucbTol is the bisection interval width considered converged.
	ucbTol = 1e-10

	// ucbMaxIters bounds the bisection; on exhaustion the interval midpoint
	// is returned rather than an error.
	ucbMaxIters = 200
)

// #endregion constants

// #region ucb

// FailureUCB returns an upper confidence bound on the true failure
// probability after observing the given failures out of total trials, under
// a Beta-Binomial posterior with a Jeffreys prior (alpha = failures + 0.5,
// beta = successes + 0.5). Zero failures in twenty trials yields a strictly
// positive bound, not zero.
//
// confidence outside (0, 1) falls back to DefaultConfidence.
func FailureUCB(failures, total int, confidence float64) float64 {
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}
	if total < 0 {
		total = 0
	}
	if failures < 0 {
		failures = 0
	}
	if failures > total {
		failures = total
	}

	alpha := float64(failures) + 0.5
	beta := float64(total-failures) + 0.5

	// Posterior quantile by bisection: RegIncompleteBeta is monotone in x,
	// so the bracket always tightens; the midpoint is the answer whether or
	// not the tolerance was reached.
	lo, hi := 0.0, 1.0
	for i := 0; i < ucbMaxIters && hi-lo > ucbTol; i++ {
		mid := (lo + hi) / 2
		if RegIncompleteBeta(mid, alpha, beta) < confidence {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// #endregion ucb

// #region incomplete-beta

// RegIncompleteBeta evaluates I_x(a, b), the regularized incomplete beta
// function, via the continued-fraction expansion. It is the CDF of the
// Beta(a, b) distribution at x.
func RegIncompleteBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lga, _ := math.Lgamma(a)
	lgb, _ := math.Lgamma(b)
	lgab, _ := math.Lgamma(a + b)
	front := math.Exp(lgab - lga - lgb + a*math.Log(x) + b*math.Log(1-x))

	// The continued fraction converges fast only on one side of the mean;
	// use the symmetry I_x(a,b) = 1 - I_{1-x}(b,a) for the other.
	if x < (a+1)/(a+b+2) {
		return front * betaCF(x, a, b) / a
	}
	return 1 - front*betaCF(1-x, b, a)/b
}

// betaCF is the Lentz-method continued fraction for the incomplete beta
// function.
func betaCF(x, a, b float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		fpMin   = 1e-300
	)

	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpMin {
		d = fpMin
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpMin {
			d = fpMin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpMin {
			c = fpMin
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpMin {
			d = fpMin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpMin {
			c = fpMin
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

// #endregion incomplete-beta
