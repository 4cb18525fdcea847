package storage

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"respiration-qa/internal/metrics"
	"respiration-qa/internal/pipeline"
)

// ResultRecord is one persisted fraction result.
type ResultRecord struct {
	PatientID       string
	DataType        string
	Fraction        string
	Reproducibility decimal.Decimal
	LevelMean       decimal.Decimal
	LevelStd        decimal.Decimal
	Stability       decimal.Decimal
	ErrorMean       decimal.Decimal
	ErrorStd        decimal.Decimal
	AnalyzedAt      time.Time
}

// NewResultRecord converts fraction metrics into a record.
func NewResultRecord(dataType, patientID, fraction string, m pipeline.FractionMetrics, at time.Time) ResultRecord {
	return ResultRecord{
		PatientID:       patientID,
		DataType:        dataType,
		Fraction:        fraction,
		Reproducibility: toDecimal(m.Reproducibility),
		LevelMean:       toDecimal(m.LevelMean),
		LevelStd:        toDecimal(m.LevelStd),
		Stability:       toDecimal(m.Stability),
		ErrorMean:       toDecimal(m.ErrorMean),
		ErrorStd:        toDecimal(m.ErrorStd),
		AnalyzedAt:      at,
	}
}

// RecordsFromBatch flattens a batch into records in patient, then fraction
// order.
func RecordsFromBatch(dataType string, batch pipeline.BatchResult, at time.Time) []ResultRecord {
	var records []ResultRecord
	for _, p := range batch.Patients {
		for _, f := range p.Fractions {
			records = append(records, NewResultRecord(dataType, p.ID, f.ID, f.Metrics, at))
		}
	}
	return records
}

// toDecimal maps NaN and infinities to zero; NUMERIC columns cannot hold them.
func toDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).RoundBank(metrics.Places)
}
