package stats

import "math"

// #region entropy

// Entropy computes the Shannon entropy of a distribution in bits, with the
// convention 0*log2(0) = 0. Probabilities are taken as given; callers
// normalize first.
func Entropy(p []float64) float64 {
	var h float64
	for _, v := range p {
		if v > 0 {
			h -= v * math.Log2(v)
		}
	}
	return h
}

// #endregion entropy

// #region mutual-information

// MutualInformation computes I(X;Y) in bits from the matrix's empirical
// joint distribution. The result is clamped into [0, min(H(X), H(Y))]:
// floating-point noise can push the raw sum a hair outside the bound on
// either side, and the information-theoretic bracket always wins.
func MutualInformation(m ConfusionMatrix) float64 {
	joint := m.Joint()
	px := m.InputMarginal()
	py := m.OutputMarginal()

	var info float64
	for i, row := range joint {
		for j, pxy := range row {
			if pxy > 0 && px[i] > 0 && py[j] > 0 {
				info += pxy * math.Log2(pxy/(px[i]*py[j]))
			}
		}
	}

	if info < 0 {
		return 0
	}
	if bound := math.Min(Entropy(px), Entropy(py)); info > bound {
		return bound
	}
	return info
}

// #endregion mutual-information
