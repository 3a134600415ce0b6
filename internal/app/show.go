package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"breakout-failures/internal/storage"
)

// Show prints recently stored failures.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show failures")
	}
	defer closeStore()

	filter := storage.FailureFilter{Limit: opts.Limit}
	if opts.Ticker != "" {
		filter.Ticker = &opts.Ticker
	}

	records, err := store.ListFailures(ctx, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no failures found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTicker\tCompany\tLocation\tFailure (UTC)\tRecorded (UTC)")

	for _, record := range records {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\n",
			record.ID,
			textOrDash(record.Ticker),
			textOrDash(record.Company),
			textOrDash(record.Location),
			timeOrDash(record.FailureTime),
			record.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()

	if opts.Ticker == "" {
		total, countErr := store.CountFailures(ctx)
		if countErr != nil {
			a.Logger.Warn().Err(countErr).Msg("failed to count stored failures")
		} else if total > int64(len(records)) {
			fmt.Fprintf(os.Stdout, "showing %d of %d failures\n", len(records), total)
		}
	}

	return nil
}

func textOrDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return sanitizeInline(*v)
}

func timeOrDash(v *time.Time) string {
	if v == nil {
		return "-"
	}
	return v.UTC().Format(time.RFC3339)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
