package alerting

import (
	"github.com/shopspring/decimal"

	"respiration-qa/internal/storage"
)

// Tolerances are per-fraction limits in millimetres. A zero limit disables
// the check.
type Tolerances struct {
	ReproducibilityMM decimal.Decimal
	StabilityMM       decimal.Decimal
}

// NewTolerances builds tolerances from configured floats.
func NewTolerances(reproducibilityMM, stabilityMM float64) Tolerances {
	return Tolerances{
		ReproducibilityMM: decimal.NewFromFloat(reproducibilityMM),
		StabilityMM:       decimal.NewFromFloat(stabilityMM),
	}
}

// Evaluate returns one notification per metric strictly above its limit, in
// record order.
func (t Tolerances) Evaluate(records []storage.ResultRecord, channels []string) []Notification {
	var notes []Notification
	for _, r := range records {
		if exceeds(r.Reproducibility, t.ReproducibilityMM) {
			notes = append(notes, newNotification(r, MetricReproducibility, r.Reproducibility, t.ReproducibilityMM, channels))
		}
		if exceeds(r.Stability, t.StabilityMM) {
			notes = append(notes, newNotification(r, MetricStability, r.Stability, t.StabilityMM, channels))
		}
	}
	return notes
}

func exceeds(value, limit decimal.Decimal) bool {
	return limit.IsPositive() && value.GreaterThan(limit)
}

func newNotification(r storage.ResultRecord, metric Metric, value, limit decimal.Decimal, channels []string) Notification {
	return Notification{
		AnalyzedAt:  r.AnalyzedAt,
		DataType:    r.DataType,
		PatientID:   r.PatientID,
		Fraction:    r.Fraction,
		Metric:      metric,
		ValueMM:     value,
		ToleranceMM: limit,
		Channels:    channels,
	}
}
