package partition

// #region safe-classify

// ClassifyInput runs the scheme's input classifier under a panic guard.
// Panics, nil classifiers, and undeclared symbols all map to SymbolUnknown;
// classification never raises into the caller.
func (s Scheme) ClassifyInput(in any) (sym Symbol) {
	defer func() {
		if recover() != nil {
			sym = SymbolUnknown
		}
	}()
	if s.Classifier == nil {
		return SymbolUnknown
	}
	sym = s.Classifier.Input(in)
	if !s.declaredInput(sym) {
		sym = SymbolUnknown
	}
	return sym
}

// ClassifyOutput is ClassifyInput's counterpart for results.
func (s Scheme) ClassifyOutput(out any, err error) (sym Symbol) {
	defer func() {
		if recover() != nil {
			sym = SymbolUnknown
		}
	}()
	if s.Classifier == nil {
		return SymbolUnknown
	}
	sym = s.Classifier.Output(out, err)
	if !s.declaredOutput(sym) {
		sym = SymbolUnknown
	}
	return sym
}

func (s Scheme) declaredInput(sym Symbol) bool {
	if s.inputSet != nil {
		_, ok := s.inputSet[sym]
		return ok
	}
	for _, a := range s.InputAlphabet {
		if a == sym {
			return true
		}
	}
	return sym == SymbolUnknown
}

func (s Scheme) declaredOutput(sym Symbol) bool {
	if s.outputSet != nil {
		_, ok := s.outputSet[sym]
		return ok
	}
	for _, a := range s.OutputAlphabet {
		if a == sym {
			return true
		}
	}
	return sym == SymbolUnknown || sym == SymbolCrosscheckFailed
}

// #endregion safe-classify

// #region metadata-classifier

// MetadataCarrier is implemented by request/result types that expose
// string metadata. It lets declarative deployments classify by symbols
// stamped upstream instead of by code.
type MetadataCarrier interface {
	Meta(key string) (string, bool)
}

// MetadataClassifier reads pre-stamped symbols from carrier metadata. It is
// the classifier behind config-file-defined schemes: embedders stamp the
// symbol, the scheme only validates it against the declared alphabet.
type MetadataClassifier struct {
	InputKey    string
	OutputKey   string
	ErrorSymbol Symbol // returned for a non-nil invocation error; empty means SymbolUnknown
}

func (c MetadataClassifier) Input(in any) Symbol {
	if mc, ok := in.(MetadataCarrier); ok {
		if v, ok := mc.Meta(c.InputKey); ok && v != "" {
			return Symbol(v)
		}
	}
	return SymbolUnknown
}

func (c MetadataClassifier) Output(out any, err error) Symbol {
	if err != nil {
		if c.ErrorSymbol != "" {
			return c.ErrorSymbol
		}
		return SymbolUnknown
	}
	if mc, ok := out.(MetadataCarrier); ok {
		if v, ok := mc.Meta(c.OutputKey); ok && v != "" {
			return Symbol(v)
		}
	}
	return SymbolUnknown
}

// #endregion metadata-classifier
