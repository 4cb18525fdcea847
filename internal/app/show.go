package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Show prints the most recently analysed fractions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show results")
	}
	defer closeStore()

	records, err := store.ListRecentResults(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no results found")
		return nil
	}

	total, err := store.CountResults(ctx)
	if err != nil {
		return err
	}

	writeResultsTable(a.Out, records)
	fmt.Fprintf(a.Out, "\nshowing %d of %d stored fraction(s); last analysed %s\n",
		len(records), total, records[0].AnalyzedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
