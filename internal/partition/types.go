package partition

// #region symbols

// Symbol is one element of a channel's declared input or output alphabet.
type Symbol string

const (
	// SymbolUnknown is the reserved fallback for anything a classifier
	// cannot place: undeclared values, classifier panics, nil classifiers.
	SymbolUnknown Symbol = "unknown"

	// SymbolCrosscheckFailed is the reserved override applied when a
	// crosscheck validator rejects a result.
	SymbolCrosscheckFailed Symbol = "crosscheck_failed"
)

// #endregion symbols

// #region granularity

// Granularity selects how coarsely a channel's state is partitioned.
type Granularity string

const (
	GranularityFine   Granularity = "fine"
	GranularityCoarse Granularity = "coarse"
)

// Valid reports whether g is a declared granularity.
func (g Granularity) Valid() bool {
	return g == GranularityFine || g == GranularityCoarse
}

// #endregion granularity

// #region classifier

// Classifier maps raw boundary values into a scheme's declared alphabets.
// Implementations must be pure and total. They are resolved once at
// registration; the wrapper never dispatches by string lookup per call.
type Classifier interface {
	Input(in any) Symbol
	Output(out any, err error) Symbol
}

// FuncClassifier adapts two plain functions into a Classifier.
type FuncClassifier struct {
	InputFn  func(in any) Symbol
	OutputFn func(out any, err error) Symbol
}

func (c FuncClassifier) Input(in any) Symbol {
	if c.InputFn == nil {
		return SymbolUnknown
	}
	return c.InputFn(in)
}

func (c FuncClassifier) Output(out any, err error) Symbol {
	if c.OutputFn == nil {
		return SymbolUnknown
	}
	return c.OutputFn(out, err)
}

// #endregion classifier

// #region admissibility

// Admissibility records why a scheme's partition is legitimate: what the
// classifiers are allowed to look at, how differing inputs actually arise,
// and which subsystem owns each output symbol. Registration without
// complete metadata fails.
type Admissibility struct {
	InspectedFields []string          // observable fields the classifiers read; must stay inside the public boundary contract
	Reachability    string            // how differing inputs are reachable through normal control flow
	SymbolOwners    map[Symbol]string // owning subsystem per output symbol
}

// #endregion admissibility

// #region scheme

// Scheme declares one channel partition at one granularity. Immutable once
// registered; the registry stores and returns copies.
type Scheme struct {
	ID             string
	ChannelID      string
	Granularity    Granularity
	InputAlphabet  []Symbol
	OutputAlphabet []Symbol
	FailureSymbols []Symbol // subset of OutputAlphabet that counts as failure for regeneration
	Classifier     Classifier
	Admissibility  Admissibility

	inputSet  map[Symbol]struct{}
	outputSet map[Symbol]struct{}
}

// IsFailure reports whether sym is one of the scheme's declared failure
// symbols.
func (s Scheme) IsFailure(sym Symbol) bool {
	for _, f := range s.FailureSymbols {
		if f == sym {
			return true
		}
	}
	return false
}

// #endregion scheme
