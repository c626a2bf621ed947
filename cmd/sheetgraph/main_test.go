package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"sheetgraph/internal/metrics"
	"sheetgraph/internal/metrics/datadog"
	"sheetgraph/internal/testutil"
)

// fakeMetricsBackend is a deterministic metrics backend used by initMetrics tests.
type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeMetricsBackend) Flush() error                                     { return nil }

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

// testDeps returns real conversion and storage seams with an isolated
// environment. Seams with process-wide effects fail the test if called.
func testDeps(t *testing.T, env map[string]string) appDeps {
	t.Helper()

	deps := defaultDeps()
	deps.getenv = func(k string) string { return env[k] }
	deps.readDotenv = func(...string) (map[string]string, error) {
		return nil, &fs.PathError{Op: "open", Path: ".env", Err: fs.ErrNotExist}
	}
	deps.newDatadog = func(context.Context, datadog.Options) (metricsBackend, error) {
		t.Fatalf("newDatadog must not be called")
		return nil, nil
	}
	deps.setMetrics = func(metrics.Backend) {
		t.Fatalf("setMetrics must not be called")
	}
	deps.serve = func(context.Context, string, http.Handler) error {
		t.Fatalf("serve must not be called")
		return nil
	}
	return deps
}

func run(t *testing.T, deps appDeps, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), args, &stdout, &stderr, deps)
	return code, stdout.String(), stderr.String()
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{"convert_without_input", []string{"convert"}, "accepts between 1 and 2 arg(s)"},
		{"unknown_flag", []string{"convert", "--nope", "x.xlsx"}, "unknown flag: --nope"},
		{"unknown_command", []string{"frobnicate"}, "unknown command"},
		{"serve_with_args", []string{"serve", "extra"}, "unknown command"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, stdout, stderr := run(t, testDeps(t, nil), tc.args...)
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr)
			}
			if !strings.Contains(stderr, tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr, tc.wantStderrSub)
			}
			if stdout != "" {
				t.Fatalf("stdout=%q, want empty", stdout)
			}
		})
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	book := testutil.WriteWorkbook(t, "claims.xlsx", testutil.CustomersClaims()...)
	out := filepath.Join(t.TempDir(), "out")

	code, stdout, stderr := run(t, testDeps(t, nil), "convert", book, out)
	if code != 0 {
		t.Fatalf("exit code=%d; stdout=%q stderr=%q", code, stdout, stderr)
	}
	if !strings.HasPrefix(stdout, "status=succeeded ") || !strings.Contains(stdout, "tables=2 rows=8 columns=5 relationships=1") {
		t.Fatalf("stdout=%q", stdout)
	}
	if _, err := os.Stat(filepath.Join(out, "descriptor.json")); err != nil {
		t.Fatalf("descriptor not published: %v", err)
	}

	// inspect reads the published dataset back.
	code, stdout, _ = run(t, testDeps(t, nil), "inspect", out)
	if code != 0 || !strings.Contains(stdout, "table=claims rows=5 columns=3 duplicate_rows=0 primary_key=claim_ID") {
		t.Fatalf("inspect code=%d stdout=%q", code, stdout)
	}
	if !strings.Contains(stdout, "relationship claims.customer_ID -> customers.customer_ID cardinality=N:1") {
		t.Fatalf("inspect stdout=%q", stdout)
	}

	code, stdout, _ = run(t, testDeps(t, nil), "inspect", "--uniqueness", out)
	if code != 0 || !strings.Contains(stdout, "uniqueness report:\ttable=customers\trows=3") {
		t.Fatalf("inspect --uniqueness code=%d stdout=%q", code, stdout)
	}
}

func TestConvertFormats(t *testing.T) {
	t.Parallel()

	book := testutil.WriteWorkbook(t, "claims.xlsx", testutil.CustomersClaims()...)

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"status": "succeeded"`},
		{"markdown", "### Table: `claims`"},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			t.Parallel()

			out := filepath.Join(t.TempDir(), "out")
			code, stdout, stderr := run(t, testDeps(t, nil), "convert", "--format", tc.format, book, out)
			if code != 0 || !strings.Contains(stdout, tc.want) {
				t.Fatalf("code=%d stdout=%q stderr=%q", code, stdout, stderr)
			}
		})
	}
}

func TestConvertFailedRunExitsOne(t *testing.T) {
	t.Parallel()

	input := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(input, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "out")

	code, stdout, _ := run(t, testDeps(t, nil), "convert", input, out)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	if !strings.HasPrefix(stdout, "status=failed ") || !strings.Contains(stdout, "error: FormatError") {
		t.Fatalf("stdout=%q", stdout)
	}
	if _, err := os.Lstat(out); !os.IsNotExist(err) {
		t.Fatalf("output created for a failed run: %v", err)
	}
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()

	badFile := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(badFile, []byte("conversion:\n  wrkers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		env           map[string]string
		args          []string
		wantStderrSub string
	}{
		{"malformed_env", map[string]string{"SHEETGRAPH_WORKERS": "many"}, []string{"convert", "x.xlsx"}, "SHEETGRAPH_WORKERS"},
		{"invalid_flag_value", nil, []string{"convert", "--overlap-threshold", "2", "x.xlsx"}, "overlap_threshold"},
		{"unknown_config_field", nil, []string{"--config", badFile, "convert", "x.xlsx"}, "wrkers"},
		{"bad_format", nil, []string{"convert", "--format", "xml", "x.xlsx"}, "unknown --format"},
		{"publish_without_sink", nil, []string{"publish", t.TempDir()}, "no sink configured"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, _, stderr := run(t, testDeps(t, tc.env), tc.args...)
			if code == 0 {
				t.Fatalf("exit code=0, want failure")
			}
			if !strings.Contains(stderr, tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr, tc.wantStderrSub)
			}
		})
	}
}

func TestConvertPublishesToSQLiteSink(t *testing.T) {
	t.Parallel()

	book := testutil.WriteWorkbook(t, "claims.xlsx", testutil.CustomersClaims()...)
	dir := t.TempDir()
	dsn := filepath.Join(dir, "sink.db")

	code, _, stderr := run(t, testDeps(t, nil),
		"convert", "--sink-kind", "sqlite", "--sink-dsn", dsn, book, filepath.Join(dir, "out"))
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(stderr, "sink: kind=sqlite tables=2 rows=8") {
		t.Fatalf("stderr=%q", stderr)
	}

	// publish replaces the same tables from the converted dataset.
	env := map[string]string{"SHEETGRAPH_SINK_KIND": "sqlite", "SHEETGRAPH_SINK_DSN": dsn}
	code, stdout, stderr := run(t, testDeps(t, env), "publish", filepath.Join(dir, "out"))
	if code != 0 || stdout != "published kind=sqlite tables=2 rows=8\n" {
		t.Fatalf("publish code=%d stdout=%q stderr=%q", code, stdout, stderr)
	}
}

func TestDotenvAndDatadogMetrics(t *testing.T) {
	t.Parallel()

	book := testutil.WriteWorkbook(t, "claims.xlsx", testutil.CustomersClaims()...)
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	var (
		gotOpts  datadog.Options
		setCalls atomic.Int64
	)
	deps := testDeps(t, map[string]string{"METRICS_TAGS": "team:data"})
	deps.readDotenv = func(files ...string) (map[string]string, error) {
		if len(files) != 1 || files[0] != "custom.env" {
			t.Fatalf("readDotenv files=%v", files)
		}
		return map[string]string{"SHEETGRAPH_METRICS_BACKEND": "datadog"}, nil
	}
	deps.newDatadog = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	deps.setMetrics = func(metrics.Backend) { setCalls.Add(1) }

	code, _, stderr := run(t, deps, "--env-file", "custom.env", "convert", book, filepath.Join(t.TempDir(), "out"))
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr)
	}
	if len(gotOpts.Tags) != 1 || gotOpts.Tags[0] != "team:data" {
		t.Fatalf("datadog tags=%v", gotOpts.Tags)
	}
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	// installed, then restored to the no-op on cleanup.
	if setCalls.Load() != 2 {
		t.Fatalf("setMetrics calls=%d, want 2", setCalls.Load())
	}
	if !strings.Contains(stderr, "metrics: datadog close/flush error: flush failed") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestDatadogInitError(t *testing.T) {
	t.Parallel()

	deps := testDeps(t, map[string]string{"SHEETGRAPH_METRICS_BACKEND": "datadog"})
	deps.newDatadog = func(context.Context, datadog.Options) (metricsBackend, error) {
		return nil, errors.New("DD_API_KEY is not set")
	}
	code, _, stderr := run(t, deps, "convert", "x.xlsx", t.TempDir())
	if code != 1 || !strings.Contains(stderr, "init metrics: DD_API_KEY is not set") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	dataPath := t.TempDir()
	var (
		gotAddr string
		handler http.Handler
	)
	deps := testDeps(t, map[string]string{"SHEETGRAPH_DATA_PATH": dataPath})
	deps.serve = func(_ context.Context, addr string, h http.Handler) error {
		gotAddr, handler = addr, h
		return nil
	}

	code, _, stderr := run(t, deps, "serve", "--addr", "127.0.0.1:0")
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr)
	}
	if gotAddr != "127.0.0.1:0" {
		t.Fatalf("addr=%q", gotAddr)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/datasource", nil))
	want := fmt.Sprintf(`{"origin":"env","path":%q}`, dataPath)
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Fatalf("datasource=%s, want %s", got, want)
	}
}

func TestServeError(t *testing.T) {
	t.Parallel()

	deps := testDeps(t, nil)
	deps.serve = func(context.Context, string, http.Handler) error { return errors.New("address in use") }
	code, _, stderr := run(t, deps, "serve")
	if code != 1 || !strings.Contains(stderr, "address in use") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}
