package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"respiration-qa/internal/storage"
)

// Export renders persisted results as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	records, err := store.ListResults(ctx, opts.DataType, 0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("data_type", opts.DataType).Msg("no results found for export")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting results")

	if opts.CSVPath != "" {
		if err := writeResultsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeResultsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// downsampleRecords keeps max evenly spaced records, always including the
// first and last.
func downsampleRecords(records []storage.ResultRecord, max int) []storage.ResultRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[:1]
	}

	result := make([]storage.ResultRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

var csvHeader = []string{
	"data_type",
	"patient_id",
	"fraction",
	"reproducibility",
	"lvl_mean",
	"lvl_std",
	"stability",
	"error_mean",
	"error_std",
	"analyzed_at",
}

func writeResultsCSV(path string, records []storage.ResultRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{
			r.DataType,
			r.PatientID,
			r.Fraction,
			formatDecimal(r.Reproducibility, 4),
			formatDecimal(r.LevelMean, 4),
			formatDecimal(r.LevelStd, 4),
			formatDecimal(r.Stability, 4),
			formatDecimal(r.ErrorMean, 4),
			formatDecimal(r.ErrorStd, 4),
			r.AnalyzedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeResultsPNG plots reproducibility and stability against the position
// of each fraction in records.
func writeResultsPNG(path string, records []storage.ResultRecord) error {
	if len(records) == 0 {
		return errors.New("no results to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]float64, len(records))
	reproducibility := make([]float64, len(records))
	stability := make([]float64, len(records))

	yMax := 0.0
	for i, r := range records {
		x[i] = float64(i + 1)
		reproducibility[i] = r.Reproducibility.InexactFloat64()
		stability[i] = r.Stability.InexactFloat64()
		yMax = math.Max(yMax, math.Max(reproducibility[i], stability[i]))
	}

	mmFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name: "Fraction",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
			Range: &chart.ContinuousRange{Min: 1, Max: math.Max(float64(len(records)), 2)},
		},
		YAxis: chart.YAxis{
			Name:           "mm",
			ValueFormatter: mmFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: math.Max(yMax*1.1, 0.1)},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Reproducibility",
				XValues: x,
				YValues: reproducibility,
			},
			chart.ContinuousSeries{
				Name:    "Stability",
				XValues: x,
				YValues: stability,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
