package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respiration-qa/internal/fieldlog"
)

var scenarioAmplitude = []string{"0.000\t0.050", "0.015\t0.060", "0.030\t0.055"}

func fieldLog(amplitude, beam []string) string {
	var b strings.Builder
	b.WriteString("=============\nPatient Information\n=============\nID\tP1\n=============\nRespiratory Trace\n=============\n-------------\nTime (s)\tAmplitude (cm)\n")
	for _, l := range amplitude {
		b.WriteString(l + "\n")
	}
	b.WriteString("\n-------------\n=============\nBeam Events\n=============\nTime (s)\tState\n")
	for _, l := range beam {
		b.WriteString(l + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func writeField(t *testing.T, dir, fraction, name, content string) {
	t.Helper()
	fxDir := filepath.Join(dir, fraction)
	require.NoError(t, os.MkdirAll(fxDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fxDir, name), []byte(content), 0o644))
}

func newTestPipeline(opts Options) *Pipeline {
	return New(opts, zerolog.Nop())
}

func parseField(t *testing.T, content string) fieldlog.Field {
	t.Helper()
	field, err := fieldlog.NewParser(fieldlog.CentimetersToMillimeters).Parse(strings.NewReader(content))
	require.NoError(t, err)
	return field
}

func TestComputeFractionMetricsEmpty(t *testing.T) {
	p := newTestPipeline(Options{})
	assert.Equal(t, [6]float64{}, p.ComputeFractionMetrics(nil).Tuple())
	assert.True(t, p.ComputeFractionMetrics([]fieldlog.Field{}).IsZero())
}

func TestComputeFractionMetricsShortBeamDiscarded(t *testing.T) {
	p := newTestPipeline(Options{})
	field := parseField(t, fieldLog(scenarioAmplitude, []string{"0.000\t1", "0.030\t0"}))

	assert.True(t, p.ComputeFractionMetrics([]fieldlog.Field{field}).IsZero())
}

func TestComputeFractionMetricsSingleField(t *testing.T) {
	p := newTestPipeline(Options{})
	field := parseField(t, fieldLog(scenarioAmplitude, []string{"0.000\t1", "0.200\t0"}))

	got := p.ComputeFractionMetrics([]fieldlog.Field{field})

	assert.Equal(t, 0.0, got.Reproducibility)
	assert.InDelta(t, 0.55, got.LevelMean, 1e-9)
	assert.Equal(t, 0.0, got.LevelStd)
	assert.InDelta(t, 0.05, got.Stability, 1e-9)
	assert.InDelta(t, 0.05, got.ErrorMean, 1e-9)
	assert.Equal(t, 0.0, got.ErrorStd)
}

func TestComputeFractionMetricsSkipsEmptyFields(t *testing.T) {
	p := newTestPipeline(Options{})
	kept := parseField(t, fieldLog(scenarioAmplitude, []string{"0.000\t1", "0.200\t0"}))
	skipped := parseField(t, fieldLog(scenarioAmplitude, []string{"5.000\t1", "6.000\t0"}))
	flat := parseField(t, fieldLog([]string{"0.000\t0.100", "0.015\t0.100", "0.030\t0.100"}, []string{"0.000\t1", "0.500\t0"}))

	got := p.ComputeFractionMetrics([]fieldlog.Field{kept, skipped, flat})

	// Levels {0.55, 1.0}, drifts {0.05, 0}.
	assert.InDelta(t, 0.45, got.Reproducibility, 1e-9)
	assert.InDelta(t, 0.775, got.LevelMean, 1e-9)
	assert.InDelta(t, 0.225, got.LevelStd, 1e-9)
	assert.InDelta(t, 0.05, got.Stability, 1e-9)
	assert.InDelta(t, 0.025, got.ErrorMean, 1e-9)
	assert.InDelta(t, 0.025, got.ErrorStd, 1e-9)
}

func TestComputeFractionMetricsAveragesIntervalsPerField(t *testing.T) {
	p := newTestPipeline(Options{MinBeamDuration: 0.01})
	amplitude := []string{
		"0.000\t0.100", "0.015\t0.100", "0.030\t0.300", "0.045\t0.300",
	}
	field := parseField(t, fieldLog(amplitude, []string{"0.000\t1", "0.030\t0", "0.030\t1", "0.060\t0"}))

	got := p.ComputeFractionMetrics([]fieldlog.Field{field})

	// Intervals [1, 1] and [3, 3] mm: level 2, drift 0.
	assert.InDelta(t, 2.0, got.LevelMean, 1e-9)
	assert.Equal(t, 0.0, got.ErrorMean)
}

func TestComputeFractionMetricsRounds(t *testing.T) {
	p := newTestPipeline(Options{UnitScale: 1})
	field := parseField(t, fieldLog([]string{"0\t0.123456", "1\t0.123456"}, []string{"0\t1", "5\t0"}))

	got := p.ComputeFractionMetrics([]fieldlog.Field{field})
	assert.Equal(t, 0.1235, got.LevelMean)
}

func TestProcessPatientOrdersFractionsNumerically(t *testing.T) {
	root := filepath.Join(t.TempDir(), "12345_240101_01")
	content := fieldLog(scenarioAmplitude, []string{"0.000\t1", "0.200\t0"})
	for _, fx := range []string{"10", "2", "1"} {
		writeField(t, root, fx, "field1.txt", content)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))

	res, err := newTestPipeline(Options{}).ProcessPatient(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, "12345_240101_01", res.ID)
	assert.Equal(t, []string{"1", "2", "10"}, res.FractionIDs())
	m, ok := res.Fraction("10")
	require.True(t, ok)
	assert.InDelta(t, 0.55, m.LevelMean, 1e-9)
}

func TestProcessPatientInvalidFractionName(t *testing.T) {
	root := t.TempDir()
	writeField(t, root, "first", "field1.txt", fieldLog(nil, nil))

	_, err := newTestPipeline(Options{}).ProcessPatient(context.Background(), root)
	assert.ErrorIs(t, err, ErrInvalidFractionID)
}

func TestProcessPatientMalformedFieldAborts(t *testing.T) {
	root := filepath.Join(t.TempDir(), "P7")
	writeField(t, root, "1", "a.txt", fieldLog(scenarioAmplitude, []string{"0.000\t1", "0.200\t0"}))
	writeField(t, root, "2", "a.txt", fieldLog([]string{"0.000\t0.050\t9"}, nil))

	res, err := newTestPipeline(Options{}).ProcessPatient(context.Background(), root)

	require.Error(t, err)
	assert.Empty(t, res.Fractions)
	assert.ErrorIs(t, err, fieldlog.ErrMalformedLine)

	var unitErr *UnitError
	require.True(t, errors.As(err, &unitErr))
	assert.Equal(t, "P7", unitErr.Patient)
	assert.Equal(t, "2", unitErr.Fraction)
	assert.Equal(t, "a.txt", unitErr.Field)
	assert.Contains(t, err.Error(), "patient P7 fraction 2 field a.txt")
}

func TestProcessPatientMissing(t *testing.T) {
	_, err := newTestPipeline(Options{}).ProcessPatient(context.Background(), filepath.Join(t.TempDir(), "gone"))
	assert.ErrorIs(t, err, ErrMissingSource)
}

func batchFixture(t *testing.T) (good1, bad, good2 string) {
	t.Helper()
	base := t.TempDir()
	good1 = filepath.Join(base, "A")
	bad = filepath.Join(base, "B")
	good2 = filepath.Join(base, "C")

	ok := fieldLog(scenarioAmplitude, []string{"0.000\t1", "0.200\t0"})
	writeField(t, good1, "1", "f1.txt", ok)
	writeField(t, good1, "1", "f2.txt", fieldLog([]string{"0.000\t0.070", "0.015\t0.070"}, []string{"0.000\t1", "1.000\t0"}))
	writeField(t, bad, "1", "f1.txt", "=============\n=============\n=============\n=============\n-------------\nAmplitude\nbroken\n")
	writeField(t, good2, "3", "f1.txt", ok)
	writeField(t, good2, "20", "f1.txt", fieldLog(scenarioAmplitude, []string{"0.000\t1", "0.050\t0"}))
	return good1, bad, good2
}

func TestBatchProcessingAbortsOnFailure(t *testing.T) {
	good1, bad, good2 := batchFixture(t)

	_, err := newTestPipeline(Options{Isolation: IsolateBatch}).
		BatchProcessing(context.Background(), []string{good1, bad, good2})

	assert.ErrorIs(t, err, fieldlog.ErrMalformedLine)
}

func TestBatchProcessingIsolatesPatients(t *testing.T) {
	good1, bad, good2 := batchFixture(t)

	for _, workers := range []int{1, 4} {
		res, err := newTestPipeline(Options{Isolation: IsolatePatient, Workers: workers}).
			BatchProcessing(context.Background(), []string{good1, bad, good2})
		require.NoError(t, err)

		require.Len(t, res.Patients, 2)
		assert.Equal(t, "A", res.Patients[0].ID)
		assert.Equal(t, "C", res.Patients[1].ID)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "B", res.Failures[0].Patient)

		a, ok := res.Patient("A")
		require.True(t, ok)
		m, ok := a.Fraction("1")
		require.True(t, ok)
		assert.InDelta(t, 0.15, m.Reproducibility, 1e-9)
		assert.InDelta(t, 0.625, m.LevelMean, 1e-9)
		assert.InDelta(t, 0.05, m.Stability, 1e-9)

		c, _ := res.Patient("C")
		assert.Equal(t, []string{"3", "20"}, c.FractionIDs())
		empty, _ := c.Fraction("20")
		assert.True(t, empty.IsZero())
	}
}

func TestBatchProcessingIsolatesNonFiniteSamples(t *testing.T) {
	good1, _, _ := batchFixture(t)
	base := t.TempDir()
	nan := filepath.Join(base, "NAN")
	huge := filepath.Join(base, "HUGE")
	beam := []string{"0\t1", "1\t0"}
	writeField(t, nan, "1", "f1.txt", fieldLog([]string{"0\tnan", "0.015\t0.1"}, beam))
	writeField(t, huge, "1", "f1.txt", fieldLog([]string{"0\t0.1", "0.015\t1e308"}, beam))

	res, err := newTestPipeline(Options{Isolation: IsolatePatient}).
		BatchProcessing(context.Background(), []string{nan, good1, huge})
	require.NoError(t, err)

	require.Len(t, res.Patients, 1)
	assert.Equal(t, "A", res.Patients[0].ID)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "NAN", res.Failures[0].Patient)
	assert.Equal(t, "HUGE", res.Failures[1].Patient)
	for _, f := range res.Failures {
		assert.ErrorIs(t, f, fieldlog.ErrMalformedLine)
	}
}

func TestBatchProcessingIsDeterministic(t *testing.T) {
	good1, _, good2 := batchFixture(t)
	p := newTestPipeline(Options{Workers: 2})

	first, err := p.BatchProcessing(context.Background(), []string{good1, good2})
	require.NoError(t, err)
	second, err := p.BatchProcessing(context.Background(), []string{good1, good2})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBatchProcessingCancelled(t *testing.T) {
	good1, _, _ := batchFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(Options{Isolation: IsolatePatient}).BatchProcessing(ctx, []string{good1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseIsolation(t *testing.T) {
	got, err := ParseIsolation("")
	require.NoError(t, err)
	assert.Equal(t, IsolateBatch, got)

	got, err = ParseIsolation(" Patient ")
	require.NoError(t, err)
	assert.Equal(t, IsolatePatient, got)

	_, err = ParseIsolation("fraction")
	assert.Error(t, err)
}

func TestCompareFractionIDs(t *testing.T) {
	c, err := CompareFractionIDs("2", "10")
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = CompareFractionIDs("02", "2")
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	_, err = CompareFractionIDs("x", "1")
	assert.ErrorIs(t, err, ErrInvalidFractionID)

	assert.Equal(t, -1, CompareFieldNames("field10.txt", "field2.txt"))
}
