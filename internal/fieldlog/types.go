package fieldlog

// BeamState is the gating state recorded for a beam event.
type BeamState int

const (
	// BeamOff marks the end of a beam-on window.
	BeamOff BeamState = 0
	// BeamOn marks the start of a beam-on window.
	BeamOn BeamState = 1
)

// AmplitudeSeries holds the respiratory trace of one field as parallel
// time/amplitude columns. Times are in seconds, amplitudes in millimetres.
type AmplitudeSeries struct {
	Times  []float64
	Values []float64
}

// Len reports the number of samples.
func (s AmplitudeSeries) Len() int {
	return len(s.Times)
}

func (s *AmplitudeSeries) append(t, v float64) {
	s.Times = append(s.Times, t)
	s.Values = append(s.Values, v)
}

// BeamEvent is a single beam state change.
type BeamEvent struct {
	Time  float64
	State BeamState
}

// BeamEventSeries keeps beam events in file order.
type BeamEventSeries []BeamEvent

// Field is the parsed content of a single field log.
type Field struct {
	Amplitude AmplitudeSeries
	Beam      BeamEventSeries
}
