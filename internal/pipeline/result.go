package pipeline

// FractionMetrics summarises one fraction. All values are rounded to four
// decimals; a fraction without usable fields is all zero.
type FractionMetrics struct {
	Reproducibility float64
	LevelMean       float64
	LevelStd        float64
	Stability       float64
	ErrorMean       float64
	ErrorStd        float64
}

// Tuple returns the metrics in reporting order: reproducibility, level mean,
// level std, stability, error mean, error std.
func (m FractionMetrics) Tuple() [6]float64 {
	return [6]float64{m.Reproducibility, m.LevelMean, m.LevelStd, m.Stability, m.ErrorMean, m.ErrorStd}
}

// IsZero reports whether the fraction contributed no data.
func (m FractionMetrics) IsZero() bool {
	return m == FractionMetrics{}
}

// FractionResult is the outcome for one fraction directory.
type FractionResult struct {
	ID      string
	Fields  int
	Used    int
	Metrics FractionMetrics
}

// PatientResult lists fractions in ascending numeric order.
type PatientResult struct {
	ID        string
	Path      string
	Fractions []FractionResult
}

// Fraction looks up a fraction by identifier.
func (p PatientResult) Fraction(id string) (FractionMetrics, bool) {
	for _, f := range p.Fractions {
		if f.ID == id {
			return f.Metrics, true
		}
	}
	return FractionMetrics{}, false
}

// FractionIDs returns fraction identifiers in result order.
func (p PatientResult) FractionIDs() []string {
	ids := make([]string, len(p.Fractions))
	for i, f := range p.Fractions {
		ids[i] = f.ID
	}
	return ids
}

// BatchResult holds patient results in input order. Failures is populated
// only when patients are isolated.
type BatchResult struct {
	Patients []PatientResult
	Failures []*UnitError
}

// Patient looks up a patient by identifier.
func (b BatchResult) Patient(id string) (PatientResult, bool) {
	for _, p := range b.Patients {
		if p.ID == id {
			return p, true
		}
	}
	return PatientResult{}, false
}
