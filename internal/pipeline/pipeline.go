// Package pipeline aggregates field logs into per-fraction and per-patient
// reproducibility and stability metrics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"respiration-qa/internal/beam"
	"respiration-qa/internal/fieldlog"
	"respiration-qa/internal/metrics"
)

// Isolation controls how far a field failure propagates.
type Isolation string

const (
	// IsolateBatch aborts the whole batch on the first failure.
	IsolateBatch Isolation = "batch"
	// IsolatePatient drops the failing patient and keeps the others.
	IsolatePatient Isolation = "patient"
)

// ParseIsolation validates an isolation mode; empty selects IsolateBatch.
func ParseIsolation(v string) (Isolation, error) {
	switch Isolation(strings.ToLower(strings.TrimSpace(v))) {
	case "", IsolateBatch:
		return IsolateBatch, nil
	case IsolatePatient:
		return IsolatePatient, nil
	default:
		return "", fmt.Errorf("unknown failure isolation %q (want batch or patient)", v)
	}
}

// Options parameterise the instrument and the execution of a batch.
type Options struct {
	UnitScale       float64
	MinBeamDuration float64
	SamplingPeriod  float64
	Workers         int
	Isolation       Isolation
}

// Pipeline wires parsing, beam extraction and metrics together.
type Pipeline struct {
	parser    *fieldlog.Parser
	extractor beam.Extractor
	engine    metrics.Engine
	workers   int
	isolation Isolation
	logger    zerolog.Logger
}

// New constructs a pipeline. Zero options fall back to the instrument
// defaults, one worker and batch isolation.
func New(opts Options, logger zerolog.Logger) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	isolation := opts.Isolation
	if isolation == "" {
		isolation = IsolateBatch
	}
	return &Pipeline{
		parser:    fieldlog.NewParser(opts.UnitScale),
		extractor: beam.NewExtractor(opts.MinBeamDuration),
		engine:    metrics.NewEngine(opts.SamplingPeriod),
		workers:   workers,
		isolation: isolation,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

type fieldSummary struct {
	level float64
	drift float64
}

// summarizeField averages level and drift over the intervals of one field.
// ok is false when the field has no intervals.
func (p *Pipeline) summarizeField(intervals []beam.Interval) (fieldSummary, bool) {
	if len(intervals) == 0 {
		return fieldSummary{}, false
	}
	var level, drift float64
	for _, iv := range intervals {
		level += metrics.AverageLevel(iv.Values)
		drift += p.engine.DriftError(iv.Values)
	}
	n := float64(len(intervals))
	return fieldSummary{level: level / n, drift: drift / n}, true
}

// ComputeFractionMetrics summarises the fields of one fraction. Fields without
// a beam-enabled interval are skipped; if none remain the result is all zero.
func (p *Pipeline) ComputeFractionMetrics(fields []fieldlog.Field) FractionMetrics {
	m, _ := p.computeFraction(fields)
	return m
}

func (p *Pipeline) computeFraction(fields []fieldlog.Field) (FractionMetrics, int) {
	levels := make([]float64, 0, len(fields))
	drifts := make([]float64, 0, len(fields))
	for _, field := range fields {
		summary, ok := p.summarizeField(p.extractor.Extract(field))
		if !ok {
			continue
		}
		levels = append(levels, summary.level)
		drifts = append(drifts, summary.drift)
	}
	if len(levels) == 0 {
		return FractionMetrics{}, 0
	}

	return FractionMetrics{
		Reproducibility: metrics.Round(metrics.Reproducibility(levels)),
		LevelMean:       metrics.Round(metrics.Mean(levels)),
		LevelStd:        metrics.Round(metrics.StdDev(levels)),
		Stability:       metrics.Round(metrics.Stability(drifts)),
		ErrorMean:       metrics.Round(metrics.Mean(drifts)),
		ErrorStd:        metrics.Round(metrics.StdDev(drifts)),
	}, len(levels)
}

// ProcessPatient parses every field of every fraction under dir. Any field
// failure aborts the patient; no partial result is returned.
func (p *Pipeline) ProcessPatient(ctx context.Context, dir string) (PatientResult, error) {
	id := filepath.Base(filepath.Clean(dir))
	logger := p.logger.With().Str("patient", id).Logger()

	fractions, err := listFractions(dir)
	if err != nil {
		return PatientResult{}, &UnitError{Patient: id, Err: err}
	}

	result := PatientResult{ID: id, Path: dir, Fractions: make([]FractionResult, 0, len(fractions))}
	for _, fx := range fractions {
		if err := ctx.Err(); err != nil {
			return PatientResult{}, err
		}

		names, err := listFields(fx.path)
		if err != nil {
			return PatientResult{}, &UnitError{Patient: id, Fraction: fx.id, Err: err}
		}

		fields := make([]fieldlog.Field, 0, len(names))
		for _, name := range names {
			field, err := p.parser.ReadFile(filepath.Join(fx.path, name))
			if err != nil {
				return PatientResult{}, &UnitError{Patient: id, Fraction: fx.id, Field: name, Err: err}
			}
			fields = append(fields, field)
		}

		m, used := p.computeFraction(fields)
		if used < len(fields) {
			logger.Debug().Str("fraction", fx.id).Int("fields", len(fields)).Int("used", used).
				Msg("fields without beam-enabled intervals skipped")
		}
		if used == 0 && len(fields) > 0 {
			logger.Warn().Str("fraction", fx.id).Msg("fraction has no usable fields")
		}
		result.Fractions = append(result.Fractions, FractionResult{ID: fx.id, Fields: len(fields), Used: used, Metrics: m})
	}

	logger.Info().Int("fractions", len(result.Fractions)).Msg("patient processed")
	return result, nil
}

// BatchProcessing processes patients with up to Workers in parallel. Results
// keep the input order regardless of completion order.
func (p *Pipeline) BatchProcessing(ctx context.Context, patients []string) (BatchResult, error) {
	results := make([]PatientResult, len(patients))
	failures := make([]*UnitError, len(patients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, dir := range patients {
		g.Go(func() error {
			res, err := p.ProcessPatient(gctx, dir)
			if err == nil {
				results[i] = res
				return nil
			}
			var unitErr *UnitError
			if p.isolation == IsolatePatient && errors.As(err, &unitErr) {
				p.logger.Warn().Err(err).Str("patient", unitErr.Patient).Msg("patient skipped")
				failures[i] = unitErr
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	batch := BatchResult{Patients: make([]PatientResult, 0, len(patients))}
	for i := range patients {
		if failures[i] != nil {
			batch.Failures = append(batch.Failures, failures[i])
			continue
		}
		batch.Patients = append(batch.Patients, results[i])
	}
	return batch, nil
}
