// Package pipeline runs one spreadsheet conversion end to end:
//
//	Reading -> Profiling -> KeyDetection -> RelationshipInference ->
//	Writing -> Validating -> Succeeded | Failed
//
// Profiling and key detection fan out per table; relationship inference
// waits for every table. Writing and validation fan out again.
//
// Output is published atomically: every run writes a fresh revision
// directory and the output path is a symlink swapped onto it.
//
// Failure policy:
//   - A FormatError aborts the run before any output is written.
//   - Cancellation before relationship inference publishes nothing.
//   - Cancellation after it publishes the tables that finished writing.
//   - Every other problem is accumulated into Result.Warnings or
//     Result.Errors; any error marks the run Failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sheetgraph/internal/columnar"
	"sheetgraph/internal/descriptor"
	"sheetgraph/internal/keys"
	"sheetgraph/internal/metrics"
	"sheetgraph/internal/probe"
	"sheetgraph/internal/relate"
	"sheetgraph/internal/schema"
	"sheetgraph/internal/validate"
	"sheetgraph/internal/workbook"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// DefaultKeepRevisions is how many published revisions survive pruning.
const DefaultKeepRevisions = 2

// Converter runs conversions. The zero value is usable.
type Converter struct {
	// Workers bounds per-table concurrency. Zero means GOMAXPROCS.
	Workers int
	// KeepRevisions is how many revisions to keep after a publish.
	// Zero means DefaultKeepRevisions.
	KeepRevisions int

	Workbook workbook.Options
	Probe    probe.Options
	Relate   relate.Options

	Logger    Logger
	Observers []Observer

	// Test seams.
	now          func() time.Time
	tableWritten func(name string)
}

// Summary is the short account of a run shown to users.
type Summary struct {
	NumTables        int      `json:"num_tables"`
	TableNames       []string `json:"table_names"`
	TotalRows        int      `json:"total_rows"`
	TotalColumns     int      `json:"total_columns"`
	NumRelationships int      `json:"num_relationships"`
	OutputDirectory  string   `json:"output_directory"`
}

// Result is the structured outcome of Run. It is always populated, whatever
// the outcome.
type Result struct {
	RunID     string `json:"run_id"`
	Status    Status `json:"status"`
	State     State  `json:"state"`
	Input     string `json:"input"`
	OutputDir string `json:"output_dir"`
	// Revision is the directory the output path points at after a publish.
	Revision string `json:"revision,omitempty"`

	// Tables are the published tables in workbook order, values included.
	Tables []*schema.Table `json:"-"`
	// Schema is the values-free view of Tables as written to descriptor.json.
	Schema        []descriptor.Table `json:"tables"`
	Relationships []schema.Edge      `json:"relationships"`
	Warnings      []schema.Issue     `json:"warnings"`
	Errors        []schema.Issue     `json:"errors"`
	Summary       Summary            `json:"summary"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`
}

// Succeeded reports whether the run finished without errors.
func (r *Result) Succeeded() bool { return r.Status == StatusSucceeded }

// run carries the mutable state of one Run call.
type run struct {
	c    *Converter
	logf func(format string, v ...any)
	res  *Result
}

// Run converts the workbook at input into output. It never returns a bare
// error: every outcome is described by the Result.
func (c *Converter) Run(ctx context.Context, input, output string) *Result {
	now := c.clock()
	res := &Result{
		RunID:     newRunID(),
		State:     StateIdle,
		Input:     input,
		OutputDir: output,
		StartedAt: now(),

		Schema:        []descriptor.Table{},
		Relationships: []schema.Edge{},
		Warnings:      []schema.Issue{},
		Errors:        []schema.Issue{},
	}
	r := &run{c: c, logf: c.logger(), res: res}
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		r.finish()
	}()

	r.logf("run=%s start input=%s output=%s", res.RunID, input, output)

	// Reading
	r.transition(StateReading)
	stageStart := time.Now()
	wb, err := workbook.Read(ctx, input, c.Workbook)
	if err != nil {
		r.stageDone(stageStart, "error", "")
		var fe *schema.FormatError
		switch {
		case errors.As(err, &fe):
			r.fail(fe.Issue())
		default:
			r.canceled(err)
		}
		return res
	}
	res.Warnings = append(res.Warnings, wb.Issues...)
	r.stageDone(stageStart, "ok", fmt.Sprintf("sheets=%d", len(wb.Sheets)))

	// Profiling
	r.transition(StateProfiling)
	stageStart = time.Now()
	tables, err := c.profile(ctx, wb.Sheets, res)
	if err != nil {
		r.stageDone(stageStart, "canceled", "")
		r.canceled(err)
		return res
	}
	r.stageDone(stageStart, "ok", fmt.Sprintf("tables=%d", len(tables)))

	// KeyDetection
	r.transition(StateKeyDetection)
	stageStart = time.Now()
	if err := c.detectKeys(ctx, tables); err != nil {
		r.stageDone(stageStart, "canceled", "")
		r.canceled(err)
		return res
	}
	r.stageDone(stageStart, "ok", fmt.Sprintf("tables=%d", len(tables)))

	// RelationshipInference: every table is profiled and keyed past this point.
	if err := ctx.Err(); err != nil {
		r.canceled(err)
		return res
	}
	r.transition(StateRelationshipInference)
	stageStart = time.Now()
	edges, ambiguities := relate.Infer(tables, c.Relate)
	res.Warnings = append(res.Warnings, ambiguities...)
	r.stageDone(stageStart, "ok", fmt.Sprintf("relationships=%d", len(edges)))

	// Writing
	r.transition(StateWriting)
	stageStart = time.Now()
	rev, err := newRevision(output, res.RunID)
	if err != nil {
		r.stageDone(stageStart, "error", "")
		r.fail(schema.NewIssue(schema.KindWrite, "%v", err))
		return res
	}
	written := c.write(ctx, rev, tables, res)
	edges = edgesAmong(edges, written)
	d := descriptor.Build(filepath.Base(input), written, edges, now())
	if err := descriptor.Write(rev, d); err != nil {
		res.Errors = append(res.Errors, schema.NewIssue(schema.KindWrite, "%v", err))
	}
	res.Tables, res.Relationships = written, edges
	if d.Tables != nil {
		res.Schema = d.Tables
	}
	r.stageDone(stageStart, statusOf(ctx, res), fmt.Sprintf("tables=%d", len(written)))

	// Validating
	if ctx.Err() == nil {
		r.transition(StateValidating)
		stageStart = time.Now()
		// Validate against what was persisted, not the in-memory descriptor.
		onDisk, err := descriptor.Read(rev)
		if err != nil {
			res.Errors = append(res.Errors, schema.NewIssue(schema.KindValidation, "reread descriptor: %v", err))
		}
		_, err = validate.Validate(ctx, rev, written, onDisk, validate.Options{Workers: c.Workers})
		var verr *schema.ValidationError
		switch {
		case errors.As(err, &verr):
			res.Errors = append(res.Errors, verr.Issues()...)
		case err != nil:
			r.canceled(err)
		}
		r.stageDone(stageStart, statusOf(ctx, res), "")
	} else {
		r.canceled(ctx.Err())
	}

	if err := publish(output, rev, res.RunID); err != nil {
		res.Errors = append(res.Errors, schema.NewIssue(schema.KindWrite, "%v", err))
		return res
	}
	res.Revision = rev
	if removed, err := prune(output, rev, c.keepRevisions()); err != nil {
		r.logf("run=%s prune error=%v", res.RunID, err)
	} else if len(removed) > 0 {
		r.logf("run=%s prune removed=%d", res.RunID, len(removed))
	}
	return res
}

func (c *Converter) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (c *Converter) keepRevisions() int {
	if c.KeepRevisions > 0 {
		return c.KeepRevisions
	}
	return DefaultKeepRevisions
}

func (c *Converter) clock() func() time.Time {
	if c.now != nil {
		return c.now
	}
	return time.Now
}

func (c *Converter) logger() func(format string, v ...any) {
	if c.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return c.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// profile classifies every sheet concurrently. Issues are merged in sheet
// order regardless of completion order.
func (c *Converter) profile(ctx context.Context, sheets []workbook.Sheet, res *Result) ([]*schema.Table, error) {
	tables := make([]*schema.Table, len(sheets))
	issues := make([][]schema.Issue, len(sheets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for i, sh := range sheets {
		i, sh := i, sh
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, iss := probe.ProfileTable(sh.Name, sh.Source, sh.Header, sh.Rows, c.Probe)
			t.Index = sh.Index
			tables[i], issues[i] = t, iss
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, iss := range issues {
		res.Warnings = append(res.Warnings, iss...)
	}
	return tables, nil
}

func (c *Converter) detectKeys(ctx context.Context, tables []*schema.Table) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for _, t := range tables {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			keys.DetectPrimaryKey(t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// write persists every table into rev and returns the ones that finished, in
// workbook order. Write failures become WriteError issues; cancellation stops
// tables that have not started.
func (c *Converter) write(ctx context.Context, rev string, tables []*schema.Table, res *Result) []*schema.Table {
	done := make([]bool, len(tables))
	failed := make([]error, len(tables))

	var g errgroup.Group
	g.SetLimit(c.workers())
	var mu sync.Mutex
	for i, t := range tables {
		i, t := i, t
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := columnar.WriteTable(ctx, rev, t)
			if err != nil {
				if ctx.Err() == nil {
					failed[i] = err
				}
				return nil
			}
			done[i] = true
			if c.tableWritten != nil {
				mu.Lock()
				c.tableWritten(t.Name)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var written []*schema.Table
	for i, t := range tables {
		if failed[i] != nil {
			res.Errors = append(res.Errors,
				schema.NewIssue(schema.KindWrite, "%v", failed[i]).In(t.Sheet, t.Name, ""))
		}
		if done[i] {
			written = append(written, t)
		}
	}
	return written
}

// edgesAmong keeps the edges whose endpoints were both written.
func edgesAmong(edges []schema.Edge, tables []*schema.Table) []schema.Edge {
	names := make(map[string]bool, len(tables))
	for _, t := range tables {
		names[t.Name] = true
	}
	out := make([]schema.Edge, 0, len(edges))
	for _, e := range edges {
		if names[e.FromTable] && names[e.ToTable] {
			out = append(out, e)
		}
	}
	return out
}

func statusOf(ctx context.Context, res *Result) string {
	switch {
	case ctx.Err() != nil:
		return "canceled"
	case len(res.Errors) > 0:
		return "error"
	default:
		return "ok"
	}
}

func (r *run) transition(to State) {
	from := r.res.State
	r.res.State = to
	for _, o := range r.c.Observers {
		o(r.res.RunID, from, to)
	}
}

func (r *run) stageDone(start time.Time, status, detail string) {
	d := durMS(start)
	metrics.RecordStage(r.res.State.stage(), status, d)
	if detail != "" {
		detail = " " + detail
	}
	r.logf("run=%s stage=%s %s%s duration=%s", r.res.RunID, r.res.State.stage(), status, detail, d)
}

func (r *run) fail(iss schema.Issue) {
	r.res.Errors = append(r.res.Errors, iss)
}

func (r *run) canceled(err error) {
	for _, e := range r.res.Errors {
		if e.Kind == schema.KindCanceled {
			return
		}
	}
	r.res.Errors = append(r.res.Errors,
		schema.NewIssue(schema.KindCanceled, "canceled during %s: %v", r.res.State, err))
}

// finish settles the terminal state, fills the summary and records metrics.
func (r *run) finish() {
	res := r.res
	status := StatusSucceeded
	final := StateSucceeded
	if len(res.Errors) > 0 {
		status, final = StatusFailed, StateFailed
	}
	res.Status = status
	res.Summary = summarize(res)
	r.transition(final)

	metrics.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": string(status)})
	metrics.IncCounter(metrics.TablesTotal, float64(res.Summary.NumTables), nil)
	metrics.IncCounter(metrics.RowsTotal, float64(res.Summary.TotalRows), nil)
	for _, iss := range append(append([]schema.Issue(nil), res.Warnings...), res.Errors...) {
		metrics.IncCounter(metrics.IssuesTotal, 1, metrics.Labels{"kind": string(iss.Kind)})
	}

	r.logf("run=%s done status=%s tables=%d relationships=%d warnings=%d errors=%d duration=%s",
		res.RunID, status, res.Summary.NumTables, res.Summary.NumRelationships,
		len(res.Warnings), len(res.Errors), res.Duration.Truncate(time.Millisecond))
}

func summarize(res *Result) Summary {
	s := Summary{
		NumTables:        len(res.Tables),
		TableNames:       make([]string, 0, len(res.Tables)),
		NumRelationships: len(res.Relationships),
	}
	if res.Revision != "" {
		s.OutputDirectory = res.OutputDir
	}
	for _, t := range res.Tables {
		s.TableNames = append(s.TableNames, t.Name)
		s.TotalRows += t.RowCount
		s.TotalColumns += len(t.Columns)
	}
	return s
}
