// Package metrics computes level and drift statistics over beam-enabled
// amplitude intervals.
package metrics

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// DefaultSamplingPeriod is the nominal respiratory trace period in seconds.
	DefaultSamplingPeriod = 0.015
	// Places is the number of decimals kept in reported metrics.
	Places = 4
)

// Engine evaluates per-interval metrics for a given sampling period.
type Engine struct {
	SamplingPeriod float64
}

// NewEngine returns an engine; a non-positive period selects
// DefaultSamplingPeriod.
func NewEngine(samplingPeriod float64) Engine {
	if samplingPeriod <= 0 {
		samplingPeriod = DefaultSamplingPeriod
	}
	return Engine{SamplingPeriod: samplingPeriod}
}

// AverageLevel is the arithmetic mean of the interval, 0 when empty.
func AverageLevel(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// DriftError fits a least-squares line to values sampled every
// SamplingPeriod seconds (recorded times are ignored) and returns the
// absolute change of the fit over the interval. Fewer than two samples give 0.
func (e Engine) DriftError(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	slope := Slope(values, e.SamplingPeriod)
	duration := e.SamplingPeriod * float64(n-1)
	return math.Abs(slope) * duration
}

// Slope returns the least-squares slope of values against t_i = i*dt.
//
// Samples are paired symmetrically around the centre so the mean cancels
// exactly; a constant series yields exactly zero.
func Slope(values []float64, dt float64) float64 {
	n := len(values)
	if n < 2 || dt == 0 {
		return 0
	}
	centre := float64(n-1) / 2
	var sxy float64
	for i := 0; i < n/2; i++ {
		sxy += (centre - float64(i)) * (values[n-1-i] - values[i])
	}
	fn := float64(n)
	sxx := fn * (fn*fn - 1) / 12
	return sxy / sxx / dt
}

// Reproducibility is max - min of the values, 0 when empty.
func Reproducibility(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

// Stability is the largest value, 0 when empty.
func Stability(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	hi := values[0]
	for _, v := range values[1:] {
		hi = math.Max(hi, v)
	}
	return hi
}

// Mean is the arithmetic mean, 0 when empty.
func Mean(values []float64) float64 {
	return AverageLevel(values)
}

// StdDev is the population standard deviation, 0 when empty.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// Round rounds v to Places decimals, half to even.
func Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).RoundBank(Places).InexactFloat64()
}

// sum adds values pairwise to limit accumulated rounding error.
func sum(values []float64) float64 {
	switch len(values) {
	case 0:
		return 0
	case 1:
		return values[0]
	}
	if len(values) <= 8 {
		var s float64
		for _, v := range values {
			s += v
		}
		return s
	}
	mid := len(values) / 2
	return sum(values[:mid]) + sum(values[mid:])
}
