package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"sheetgraph/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func noEnv(string) string { return "" }

// quietOptions disables the background loop for deterministic tests.
func quietOptions(fs *fakeSubmitter) Options {
	return Options{
		JobName:    "job1",
		FlushEvery: 24 * time.Hour,
		getenv:     noEnv,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

func newQuiet(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	t.Cleanup(func() { fs.err = nil; _ = b.Close() })
	return b
}

func metricNames(p datadogV2.MetricPayload) []string {
	var out []string
	for _, s := range p.Series {
		out = append(out, s.Metric)
	}
	sort.Strings(out)
	return out
}

func findSeries(p datadogV2.MetricPayload, metric string) (datadogV2.MetricSeries, bool) {
	for _, s := range p.Series {
		if s.Metric == metric {
			return s, true
		}
	}
	return datadogV2.MetricSeries{}, false
}

func TestEnvTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"ENV_wins", map[string]string{"ENV": "prod", "DD_ENV": "stage"}, "env:prod"},
		{"DD_ENV_fallback", map[string]string{"DD_ENV": "stage"}, "env:stage"},
		{"whitespace_ignored", map[string]string{"ENV": "   ", "DD_ENV": "\n\t"}, "env:unknown"},
		{"default_unknown", nil, "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := envTag(func(k string) string { return tc.env[k] }); got != tc.want {
				t.Fatalf("envTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewBackendRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewBackend(context.Background(), Options{getenv: noEnv})
	if err == nil || !strings.Contains(err.Error(), "datadog metrics init: DD_API_KEY is not set") {
		t.Fatalf("NewBackend() err=%v, want missing DD_API_KEY", err)
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"team:data"},
		getenv:    func(k string) string { return map[string]string{"DD_ENV": "ci"}[k] },
		submitter: fs,
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v, want nil", err)
	}
	defer func() { _ = b.Close() }()

	if want := []string{"env:ci", "job:sheetgraph", "team:data"}; !reflect.DeepEqual(b.baseTags, want) {
		t.Fatalf("baseTags=%v, want %v", b.baseTags, want)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

func TestKeyFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		metric string
		labels metrics.Labels
		want   seriesKey
		ok     bool
	}{
		{"stage_labels_in_order", metrics.StageDurationMS, metrics.Labels{"status": "ok", "stage": "write"},
			seriesKey{"sheetgraph.stage.duration_ms", "stage:write" + tagSep + "status:ok"}, true},
		{"missing_status_is_unknown", metrics.RunsTotal, nil, seriesKey{"sheetgraph.runs.total", "status:unknown"}, true},
		{"unlabelled", metrics.RowsTotal, metrics.Labels{"x": "y"}, seriesKey{"sheetgraph.rows.total", ""}, true},
		{"required_kind_missing", metrics.IssuesTotal, metrics.Labels{}, seriesKey{}, false},
		{"unknown_metric", "unknown_total", nil, seriesKey{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := keyFor(tc.metric, tc.labels)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("keyFor(%q)=(%+v,%v), want (%+v,%v)", tc.metric, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestNearestRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    []float64
		q    float64
		want float64
	}{
		{"empty", nil, 0.50, 0},
		{"single", []float64{7}, 0.95, 7},
		{"q_le_0", []float64{1, 2, 3}, -1, 1},
		{"q_ge_1", []float64{1, 2, 3}, 2, 3},
		{"median", []float64{1, 2, 3, 4, 5}, 0.50, 3},
		{"p90_small_n", []float64{1, 2, 3, 4, 5}, 0.90, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := nearestRank(tc.s, tc.q); got != tc.want {
				t.Fatalf("nearestRank(%v,%v)=%v, want %v", tc.s, tc.q, got, tc.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	if got := summarize("m", nil, nil, 1); got != nil {
		t.Fatalf("empty samples produced %d series", len(got))
	}

	samples := []float64{30, 10, 20}
	got := summarize("sheetgraph.stage.duration_ms", samples, []string{"stage:write"}, 1)
	if len(got) != 6 {
		t.Fatalf("series=%d, want 6", len(got))
	}
	if got[4].Metric != "sheetgraph.stage.duration_ms.max" || *got[4].Points[0].Value != 30 {
		t.Fatalf("max series = %s %v", got[4].Metric, *got[4].Points[0].Value)
	}
	if got[5].Metric != "sheetgraph.stage.duration_ms.samples" || *got[5].Points[0].Value != 3 {
		t.Fatalf("samples series = %s %v", got[5].Metric, *got[5].Points[0].Value)
	}
	if !reflect.DeepEqual(samples, []float64{30, 10, 20}) {
		t.Fatalf("summarize mutated input: %v", samples)
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newQuiet(t, fs)

	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": "succeeded"})
	b.IncCounter(metrics.TablesTotal, 2, nil)
	b.IncCounter(metrics.RowsTotal, 8, nil)
	b.IncCounter(metrics.RowsTotal, 4, nil)
	b.IncCounter(metrics.IssuesTotal, 1, metrics.Labels{"kind": "TypeCoercionWarning"})
	b.ObserveHistogram(metrics.StageDurationMS, 12, metrics.Labels{"stage": "profile", "status": "ok"})
	b.IncCounter(metrics.HTTPRequestsTotal, 3, metrics.Labels{"status": "201"})
	b.ObserveHistogram(metrics.HTTPRequestLatency, 4, metrics.Labels{"status": "201"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if len(b.counts) != 0 || len(b.samples) != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	names := metricNames(payload)
	for _, w := range []string{
		"sheetgraph.runs.total",
		"sheetgraph.tables.total",
		"sheetgraph.rows.total",
		"sheetgraph.issues.total",
		"sheetgraph.stage.duration_ms.p50",
		"sheetgraph.stage.duration_ms.samples",
		"sheetgraph.http.requests.total",
		"sheetgraph.http.request_duration_ms.p99",
	} {
		if !contains(names, w) {
			t.Fatalf("payload missing metric %q; got=%v", w, names)
		}
	}

	rows, _ := findSeries(payload, "sheetgraph.rows.total")
	if *rows.Points[0].Value != 12 || *rows.Points[0].Timestamp != 1000 {
		t.Fatalf("rows point=%v@%v, want 12@1000", *rows.Points[0].Value, *rows.Points[0].Timestamp)
	}
	stage, _ := findSeries(payload, "sheetgraph.stage.duration_ms.p50")
	if want := []string{"env:unknown", "job:job1", "stage:profile", "status:ok"}; !reflect.DeepEqual(stage.Tags, want) {
		t.Fatalf("stage tags=%v, want %v", stage.Tags, want)
	}
}

func TestFlush_SeriesOrderIsStable(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newQuiet(t, fs)

	for _, kind := range []string{"WriteError", "FormatError", "HeaderError"} {
		b.IncCounter(metrics.IssuesTotal, 1, metrics.Labels{"kind": kind})
	}
	b.IncCounter(metrics.TablesTotal, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}

	payload, _ := fs.last()
	var got []string
	for _, s := range payload.Series {
		got = append(got, s.Metric+" "+s.Tags[len(s.Tags)-1])
	}
	want := []string{
		"sheetgraph.issues.total kind:FormatError",
		"sheetgraph.issues.total kind:HeaderError",
		"sheetgraph.issues.total kind:WriteError",
		"sheetgraph.tables.total job:job1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("series order=%v, want %v", got, want)
	}
}

func TestFlush_SubmitErrorStillResets(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{err: errors.New("intake down")}
	b := newQuiet(t, fs)

	b.IncCounter(metrics.TablesTotal, 1, nil)
	if err := b.Flush(); err == nil || !strings.Contains(err.Error(), "intake down") {
		t.Fatalf("Flush() err=%v, want submit error", err)
	}
	if len(b.counts) != 0 {
		t.Fatalf("buffers kept after failed submit")
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newQuiet(t, fs)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d, want 0", fs.count())
	}
}

// TestLoopAndClose verifies the background loop flushes periodically and
// Close performs a final flush.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		getenv:     noEnv,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.TablesTotal, 1, nil)

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission; got %d", fs.count())
	}

	b.IncCounter(metrics.TablesTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v, want nil", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", fs.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v", err)
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newQuiet(t, fs)

	workers := runtime.GOMAXPROCS(0) * 4
	iters := 2000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.RowsTotal, 1, nil)
				b.IncCounter(metrics.IssuesTotal, 1, metrics.Labels{"kind": "TypeCoercionWarning"})
				b.ObserveHistogram(metrics.StageDurationMS, 1, metrics.Labels{"stage": "write", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if got := b.counts[seriesKey{metric: "sheetgraph.rows.total"}]; got != float64(workers*iters) {
		t.Fatalf("rows=%v, want %d", got, workers*iters)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	t.Parallel()

	fs := &fakeSubmitter{}
	b := newQuiet(t, fs)

	b.IncCounter(metrics.TablesTotal, 0, nil)
	b.IncCounter(metrics.IssuesTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.ObserveHistogram(metrics.StageDurationMS, -1, metrics.Labels{"stage": "write", "status": "ok"})
	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{})
	b.ObserveHistogram(metrics.HTTPRequestLatency, 2, metrics.Labels{})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}

	names := metricNames(payload)
	if contains(names, "sheetgraph.tables.total") || contains(names, "sheetgraph.issues.total") ||
		contains(names, "sheetgraph.stage.duration_ms.p50") {
		t.Fatalf("ignored samples were submitted: %v", names)
	}
	run, _ := findSeries(payload, "sheetgraph.runs.total")
	latency, _ := findSeries(payload, "sheetgraph.http.request_duration_ms.p50")
	if !contains(run.Tags, "status:unknown") || !contains(latency.Tags, "status:unknown") {
		t.Fatalf("missing status:unknown defaults in %v", names)
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{
			name: "trims_and_skips_empty_segments",
			in:   " env:prod , ,service:sheetgraph,  ,team:data ",
			want: []string{"env:prod", "service:sheetgraph", "team:data"},
		},
		{name: "single_tag", in: "service:sheetgraph", want: []string{"service:sheetgraph"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ParseTagsCSV(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
