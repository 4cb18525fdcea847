package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"respiration-qa/internal/service"
	"respiration-qa/internal/storage"
)

// Analyze runs one pass over the data root, prints the results and
// optionally persists and exports them.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	cfg := *a.Config
	if opts.DataRoot != "" {
		cfg.Analysis.DataRoot = opts.DataRoot
	}

	var resultStore storage.ResultStore
	if !opts.NoStore {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store != nil {
			defer closeStore()
			resultStore = store
		} else {
			a.Logger.Debug().Msg("database.dsn not configured; results are not persisted")
		}
	}

	svc := service.New(&cfg, nil, a.newPipeline(opts.Workers), nil, resultStore, a.newNotifier(), a.Logger)
	report, err := svc.Analyze(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if report.Skipped {
		fmt.Fprintln(a.Out, "another analysis holds the advisory lock; nothing done")
		return nil
	}

	writeReport(a.Out, report)

	if opts.CSVPath != "" {
		if err := writeResultsCSV(opts.CSVPath, report.Records); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeResultsPNG(opts.PNGPath, report.Records); err != nil {
			return err
		}
	}
	return nil
}

func writeReport(out io.Writer, report service.Report) {
	if len(report.Records) == 0 {
		fmt.Fprintln(out, "no fractions analysed")
	} else {
		writeResultsTable(out, report.Records)
	}

	if len(report.Failures) > 0 {
		fmt.Fprintf(out, "\n%d patient(s) skipped:\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(out, "  %s: %s\n", f.DataType, sanitizeInline(f.Err.Error()))
		}
	}
	if len(report.Notifications) > 0 {
		fmt.Fprintf(out, "\n%d tolerance alert(s) raised\n", len(report.Notifications))
	}
}

func writeResultsTable(out io.Writer, records []storage.ResultRecord) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Data type\tPatient\tFraction\tReproducibility\tLevel mean\tLevel std\tStability\tError mean\tError std")
	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.DataType,
			r.PatientID,
			r.Fraction,
			formatDecimal(r.Reproducibility, 4),
			formatDecimal(r.LevelMean, 4),
			formatDecimal(r.LevelStd, 4),
			formatDecimal(r.Stability, 4),
			formatDecimal(r.ErrorMean, 4),
			formatDecimal(r.ErrorStd, 4),
		)
	}
	writer.Flush()
}
