package stats

import (
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/partition"
)

// #region confusion-matrix

// ConfusionMatrix is the empirical joint count of (input symbol, output
// symbol) pairs observed on one channel over a window. Rows are input
// symbols, columns output symbols, in the scheme's declared order.
type ConfusionMatrix struct {
	ChannelID string
	Inputs    []partition.Symbol
	Outputs   []partition.Symbol
	Counts    [][]float64

	rowIndex map[partition.Symbol]int
	colIndex map[partition.Symbol]int
}

// NewConfusionMatrix returns a zeroed matrix over the given alphabets.
// The reserved symbols are appended when missing so every classifiable
// observation has a cell.
func NewConfusionMatrix(channelID string, inputs, outputs []partition.Symbol) ConfusionMatrix {
	inputs = withReserved(inputs, partition.SymbolUnknown)
	outputs = withReserved(outputs, partition.SymbolUnknown, partition.SymbolCrosscheckFailed)

	counts := make([][]float64, len(inputs))
	for i := range counts {
		counts[i] = make([]float64, len(outputs))
	}

	return ConfusionMatrix{
		ChannelID: channelID,
		Inputs:    inputs,
		Outputs:   outputs,
		Counts:    counts,
		rowIndex:  indexOf(inputs),
		colIndex:  indexOf(outputs),
	}
}

// Build counts the (SigmaIn, SigmaOut) pairs of obs over the scheme's
// alphabets. Symbols outside the declared alphabets count under the
// reserved unknown symbol, so the result is total over any input.
func Build(obs []observation.Observation, scheme partition.Scheme) ConfusionMatrix {
	m := NewConfusionMatrix(scheme.ChannelID, scheme.InputAlphabet, scheme.OutputAlphabet)
	for _, o := range obs {
		m.Add(o.SigmaIn, o.SigmaOut)
	}
	return m
}

// Add increments the cell for one (in, out) pair. Undeclared symbols fall
// into the unknown row/column.
func (m *ConfusionMatrix) Add(in, out partition.Symbol) {
	i, ok := m.rowIndex[in]
	if !ok {
		i = m.rowIndex[partition.SymbolUnknown]
	}
	j, ok := m.colIndex[out]
	if !ok {
		j = m.colIndex[partition.SymbolUnknown]
	}
	m.Counts[i][j]++
}

// Total returns the number of counted observations.
func (m ConfusionMatrix) Total() float64 {
	var total float64
	for _, row := range m.Counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// #endregion confusion-matrix

// #region distributions

// RowDistribution returns P(Y | X = Inputs[i]). A zero-mass row yields the
// uniform distribution: with no evidence the maximum-entropy prior stands
// in, never an undefined row.
func (m ConfusionMatrix) RowDistribution(i int) []float64 {
	row := m.Counts[i]
	dist := make([]float64, len(row))

	var mass float64
	for _, c := range row {
		mass += c
	}
	if mass == 0 {
		u := 1.0 / float64(len(row))
		for j := range dist {
			dist[j] = u
		}
		return dist
	}

	for j, c := range row {
		dist[j] = c / mass
	}
	return dist
}

// Conditional returns the full row-normalized P(Y|X) matrix.
func (m ConfusionMatrix) Conditional() [][]float64 {
	out := make([][]float64, len(m.Inputs))
	for i := range out {
		out[i] = m.RowDistribution(i)
	}
	return out
}

// Joint returns the empirical joint distribution P(X, Y). All-zero when no
// observations were counted.
func (m ConfusionMatrix) Joint() [][]float64 {
	total := m.Total()
	out := make([][]float64, len(m.Counts))
	for i, row := range m.Counts {
		out[i] = make([]float64, len(row))
		if total == 0 {
			continue
		}
		for j, c := range row {
			out[i][j] = c / total
		}
	}
	return out
}

// InputMarginal returns the empirical P(X).
func (m ConfusionMatrix) InputMarginal() []float64 {
	total := m.Total()
	out := make([]float64, len(m.Inputs))
	if total == 0 {
		return out
	}
	for i, row := range m.Counts {
		for _, c := range row {
			out[i] += c
		}
		out[i] /= total
	}
	return out
}

// OutputMarginal returns the empirical P(Y).
func (m ConfusionMatrix) OutputMarginal() []float64 {
	total := m.Total()
	out := make([]float64, len(m.Outputs))
	if total == 0 {
		return out
	}
	for _, row := range m.Counts {
		for j, c := range row {
			out[j] += c / total
		}
	}
	return out
}

// #endregion distributions

// #region helpers

func withReserved(alphabet []partition.Symbol, reserved ...partition.Symbol) []partition.Symbol {
	out := append([]partition.Symbol(nil), alphabet...)
	for _, r := range reserved {
		found := false
		for _, a := range out {
			if a == r {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}

func indexOf(alphabet []partition.Symbol) map[partition.Symbol]int {
	idx := make(map[partition.Symbol]int, len(alphabet))
	for i, a := range alphabet {
		idx[a] = i
	}
	return idx
}

// #endregion helpers
