package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sheetgraph/internal/pipeline"
	"sheetgraph/internal/report"
	"sheetgraph/internal/schema"
	"sheetgraph/internal/storage"
)

func (a *app) convertCmd() *cobra.Command {
	var (
		format                                 string
		workers, keep                          int
		dateThreshold, overlapThreshold        float64
		delimiter, encoding, sinkKind, sinkDSN string
	)
	cmd := &cobra.Command{
		Use:   "convert <workbook> [output-dir]",
		Short: "Convert a workbook into Parquet tables plus descriptor.json",
		Long: "Convert reads every sheet of the workbook, infers column types, keys and\n" +
			"relationships, and publishes the result at output-dir (default: the\n" +
			"configured default data directory). The exit status is 1 when the run fails.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			cv := &a.cfg.Conversion
			if f.Changed("workers") {
				cv.Workers = workers
			}
			if f.Changed("keep-revisions") {
				cv.KeepRevisions = keep
			}
			if f.Changed("datetime-threshold") {
				cv.DateTimeThreshold = dateThreshold
			}
			if f.Changed("overlap-threshold") {
				cv.OverlapThreshold = overlapThreshold
			}
			if f.Changed("delimiter") {
				cv.CSVDelimiter = delimiter
			}
			if f.Changed("encoding") {
				cv.Encoding = encoding
			}
			if f.Changed("sink-kind") {
				a.cfg.Sink.Kind = sinkKind
			}
			if f.Changed("sink-dsn") {
				a.cfg.Sink.DSN = sinkDSN
			}
			if err := a.validate(); err != nil {
				return err
			}
			switch format {
			case "text", "json", "markdown":
			default:
				return fmt.Errorf("unknown --format %q (want text, json or markdown)", format)
			}

			output := a.cfg.DataSource.DefaultDir
			if len(args) == 2 {
				output = args[1]
			}
			return a.convert(cmd.Context(), args[0], output, format)
		},
	}
	f := cmd.Flags()
	f.StringVar(&format, "format", "text", "output format: text, json or markdown")
	f.IntVar(&workers, "workers", 0, "per-table concurrency (0 = GOMAXPROCS)")
	f.IntVar(&keep, "keep-revisions", 0, "published revisions to keep")
	f.Float64Var(&dateThreshold, "datetime-threshold", 0, "parsed fraction needed to type a column DateTime")
	f.Float64Var(&overlapThreshold, "overlap-threshold", 0, "value overlap needed to keep a relationship")
	f.StringVar(&delimiter, "delimiter", "", "field delimiter for delimited text input")
	f.StringVar(&encoding, "encoding", "", "text encoding of delimited input (e.g. windows-1252)")
	f.StringVar(&sinkKind, "sink-kind", "", "also publish into a SQL database: sqlite, postgres or mssql")
	f.StringVar(&sinkDSN, "sink-dsn", "", "SQL sink connection string")
	return cmd
}

func (a *app) convert(ctx context.Context, input, output, format string) error {
	cleanup, err := a.initMetrics(ctx)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer cleanup()

	res := a.deps.newConverter(a.cfg, a.logger).Run(ctx, input, output)
	if err := printResult(a.stdout, res, format); err != nil {
		return &exitError{code: 1, err: err}
	}
	if !res.Succeeded() {
		return errRunFailed
	}

	if a.cfg.Sink.Kind != "" {
		st, err := a.publish(ctx, res.Tables, res.Relationships)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		fmt.Fprintf(a.stderr, "sink: kind=%s tables=%d rows=%d\n", a.cfg.Sink.Kind, st.Tables, st.Rows)
	}
	return nil
}

// publish copies tables into the configured SQL sink.
func (a *app) publish(ctx context.Context, tables []*schema.Table, edges []schema.Edge) (storage.PublishStats, error) {
	repo, err := a.deps.openSink(ctx, storage.Config{Kind: a.cfg.Sink.Kind, DSN: a.cfg.Sink.DSN})
	if err != nil {
		return storage.PublishStats{}, fmt.Errorf("sink: %w", err)
	}
	defer repo.Close()

	st, err := storage.Publish(ctx, repo, tables, edges)
	if err != nil {
		return st, fmt.Errorf("sink: %w", err)
	}
	a.logger.Printf("sink: kind=%s tables=%d rows=%d batches=%d", a.cfg.Sink.Kind, st.Tables, st.Rows, st.Batches)
	return st, nil
}

func printResult(w io.Writer, res *pipeline.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "markdown":
		_, err := io.WriteString(w, report.Markdown(res))
		return err
	}

	s := res.Summary
	fmt.Fprintf(w, "status=%s run=%s tables=%d rows=%d columns=%d relationships=%d",
		res.Status, res.RunID, s.NumTables, s.TotalRows, s.TotalColumns, s.NumRelationships)
	if s.OutputDirectory != "" {
		fmt.Fprintf(w, " output=%s", s.OutputDirectory)
	}
	fmt.Fprintln(w)
	for _, is := range res.Errors {
		fmt.Fprintf(w, "error: %s\n", is.Error())
	}
	for _, is := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", is.Error())
	}
	return nil
}
