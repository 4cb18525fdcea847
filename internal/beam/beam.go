// Package beam turns raw beam on/off events into beam-enabled amplitude
// intervals.
package beam

import (
	"cmp"
	"slices"

	"respiration-qa/internal/fieldlog"
)

// DefaultMinDuration is the shortest beam-on window, in seconds, kept by
// Clean. Shorter windows are interlock blips.
const DefaultMinDuration = 0.1

// Window is a retained beam-on interval.
type Window struct {
	Start float64
	End   float64
}

// Duration returns End - Start.
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// Windows is an ordered set of beam-on windows.
type Windows []Window

// Boundaries flattens the windows into start, end, start, end, ...
func (ws Windows) Boundaries() []float64 {
	out := make([]float64, 0, 2*len(ws))
	for _, w := range ws {
		out = append(out, w.Start, w.End)
	}
	return out
}

// Interval is the run of amplitudes [Start, End) recorded during one window.
type Interval struct {
	Window Window
	Start  int
	End    int
	Values []float64
}

// Len returns the number of samples in the interval.
func (iv Interval) Len() int {
	return len(iv.Values)
}

// Extractor cleans beam events and slices amplitude series.
type Extractor struct {
	MinDuration float64
}

// NewExtractor returns an extractor dropping windows shorter than
// minDuration seconds. A non-positive value selects DefaultMinDuration.
func NewExtractor(minDuration float64) Extractor {
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}
	return Extractor{MinDuration: minDuration}
}

// Clean sorts events by time, keeping file order for equal times, then pairs
// each OFF with the most recent unmatched ON. A later ON replaces an open one;
// an OFF without an open ON is ignored.
func (e Extractor) Clean(events fieldlog.BeamEventSeries) Windows {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b fieldlog.BeamEvent) int {
		return cmp.Compare(a.Time, b.Time)
	})

	var (
		windows Windows
		start   float64
		open    bool
	)
	for _, ev := range sorted {
		switch ev.State {
		case fieldlog.BeamOn:
			start = ev.Time
			open = true
		case fieldlog.BeamOff:
			if !open {
				continue
			}
			w := Window{Start: start, End: ev.Time}
			if w.Duration() >= e.MinDuration {
				windows = append(windows, w)
			}
			open = false
		}
	}
	return windows
}

// Enabled slices series into one interval per window. A window starting after
// the last sample is skipped; a window still open at the end of the series
// runs to the last sample. Empty slices are dropped.
func (e Extractor) Enabled(series fieldlog.AmplitudeSeries, windows Windows) []Interval {
	var intervals []Interval
	for _, w := range windows {
		start, ok := firstAtOrAfter(series.Times, w.Start)
		if !ok {
			continue
		}
		end, ok := firstAtOrAfter(series.Times, w.End)
		if !ok {
			end = len(series.Times)
		}
		if end <= start {
			continue
		}
		intervals = append(intervals, Interval{
			Window: w,
			Start:  start,
			End:    end,
			Values: series.Values[start:end:end],
		})
	}
	return intervals
}

// Extract runs Clean followed by Enabled on a parsed field.
func (e Extractor) Extract(field fieldlog.Field) []Interval {
	return e.Enabled(field.Amplitude, e.Clean(field.Beam))
}

func firstAtOrAfter(times []float64, t float64) (int, bool) {
	for i, v := range times {
		if v >= t {
			return i, true
		}
	}
	return 0, false
}
