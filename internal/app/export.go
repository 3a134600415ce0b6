package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"breakout-failures/internal/storage"
)

// Export writes stored failures as CSV and/or a PNG chart of failure counts
// per bucket.
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

	filter := storage.FailureFilter{
		From:  opts.From,
		To:    opts.To,
		Limit: opts.MaxPoints,
	}

	records, err := store.ListFailures(ctx, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no failures found for export window")
		return nil
	}

	// ListFailures returns newest first; exports read better oldest first.
	sort.Slice(records, func(i, j int) bool {
		return recordTime(records[i]).Before(recordTime(records[j]))
	})

	a.Logger.Info().Int("exported", len(records)).Msg("exporting failures")

	if opts.CSVPath != "" {
		if err := writeFailuresCSV(opts.CSVPath, records); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writeFailuresPNG(opts.PNGPath, records); err != nil {
			return err
		}
	}

	return nil
}

// recordTime prefers the market failure time and falls back to the store
// write time for records inserted without one.
func recordTime(record storage.FailureRecord) time.Time {
	if record.FailureTime != nil {
		return *record.FailureTime
	}
	return record.CreatedAt
}

func writeFailuresCSV(path string, records []storage.FailureRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"id", "company", "ticker", "location", "failure_time", "created_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, record := range records {
		failureTime := ""
		if record.FailureTime != nil {
			failureTime = record.FailureTime.UTC().Format(time.RFC3339)
		}
		row := []string{
			strconv.FormatInt(record.ID, 10),
			derefOrEmpty(record.Company),
			derefOrEmpty(record.Ticker),
			derefOrEmpty(record.Location),
			failureTime,
			record.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func (a *App) writeFailuresPNG(path string, records []storage.FailureRecord) error {
	bucket := a.Config.Export.Bucket
	if bucket <= 0 {
		bucket = time.Hour
	}

	counts := make(map[time.Time]int)
	for _, record := range records {
		counts[recordTime(record).UTC().Truncate(bucket)]++
	}

	buckets := make([]time.Time, 0, len(counts))
	for b := range counts {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })

	if len(buckets) < 2 {
		a.Logger.Warn().Msg("not enough distinct buckets to chart; skipping PNG")
		return nil
	}

	x := make([]time.Time, len(buckets))
	y := make([]float64, len(buckets))
	for i, b := range buckets {
		x[i] = b
		y[i] = float64(counts[b])
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Failures",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Breakout failures",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := ensureDir(path); err != nil {
		return err
	}

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

func derefOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
