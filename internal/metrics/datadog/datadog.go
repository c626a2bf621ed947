// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Samples are buffered in memory per series (metric name plus tag set). A
// ticker flushes the buffers periodically (default once per minute) so a
// long-running `sheetgraph serve` produces a time series; Close flushes one
// final time, which is what a single `sheetgraph convert` relies on.
//
// Flush swaps the buffers out under the lock and submits outside it. A
// process killed with SIGKILL loses the unflushed window.
package datadog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"sheetgraph/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "sheetgraph".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:data"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams. Production leaves them nil.
	getenv    func(string) string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the subset of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesDef maps one metrics name onto a Datadog metric. Labels are copied
// into tags in order; a missing label becomes "unknown" unless it is required,
// in which case the sample is dropped.
type seriesDef struct {
	name     string
	labels   []string
	required string
}

var seriesDefs = map[string]seriesDef{
	metrics.RunsTotal:          {name: "sheetgraph.runs.total", labels: []string{"status"}},
	metrics.TablesTotal:        {name: "sheetgraph.tables.total"},
	metrics.RowsTotal:          {name: "sheetgraph.rows.total"},
	metrics.IssuesTotal:        {name: "sheetgraph.issues.total", labels: []string{"kind"}, required: "kind"},
	metrics.StageDurationMS:    {name: "sheetgraph.stage.duration_ms", labels: []string{"stage", "status"}},
	metrics.HTTPRequestsTotal:  {name: "sheetgraph.http.requests.total", labels: []string{"status"}},
	metrics.HTTPRequestLatency: {name: "sheetgraph.http.request_duration_ms", labels: []string{"status"}},
}

// quantiles are the gauges emitted for every histogram series, plus .max and
// .samples.
var quantiles = []struct {
	suffix string
	q      float64
}{
	{".p50", 0.50},
	{".p90", 0.90},
	{".p95", 0.95},
	{".p99", 0.99},
}

const tagSep = "\x1f"

// seriesKey identifies one buffered series. tags holds the label tags joined
// by tagSep.
type seriesKey struct {
	metric string
	tags   string
}

func (k seriesKey) tagList() []string {
	if k.tags == "" {
		return nil
	}
	return strings.Split(k.tags, tagSep)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu      sync.Mutex
	counts  map[seriesKey]float64
	samples map[seriesKey][]float64
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend constructs a Datadog backend using the official client. The
// client reads DD_API_KEY and DD_SITE from the environment; a missing API key
// is an init error. Network errors surface from Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	getenv := opts.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	job := opts.JobName
	if job == "" {
		job = "sheetgraph"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}
	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		if strings.TrimSpace(getenv("DD_API_KEY")) == "" {
			return nil, fmt.Errorf("datadog metrics init: %w", errors.New("DD_API_KEY is not set"))
		}
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   append([]string{envTag(getenv), "job:" + job}, opts.Tags...),
		now:        nowFn,
		newTicker:  newTicker,
		counts:     make(map[seriesKey]float64),
		samples:    make(map[seriesKey][]float64),
	}
	go b.loop()
	return b, nil
}

// envTag prefers ENV over DD_ENV.
func envTag(getenv func(string) string) string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
// Calling Close more than once only flushes.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

// keyFor resolves the series for a sample. ok is false for unknown names and
// samples missing a required label.
func keyFor(name string, labels metrics.Labels) (seriesKey, bool) {
	def, ok := seriesDefs[name]
	if !ok {
		return seriesKey{}, false
	}
	if def.required != "" && labels[def.required] == "" {
		return seriesKey{}, false
	}
	tags := make([]string, len(def.labels))
	for i, l := range def.labels {
		v := labels[l]
		if v == "" {
			v = "unknown"
		}
		tags[i] = l + ":" + v
	}
	return seriesKey{metric: def.name, tags: strings.Join(tags, tagSep)}, true
}

// IncCounter implements metrics.Backend. Unknown names and non-positive
// deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k, ok := keyFor(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.counts[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Unknown names and negative
// values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k, ok := keyFor(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

func (b *Backend) swap() (map[seriesKey]float64, map[seriesKey][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts, samples := b.counts, b.samples
	b.counts = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	return counts, samples
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Buffers are reset even when submission fails; delivery is at most once.
// Returns nil without submitting when nothing was recorded.
func (b *Backend) Flush() error {
	counts, samples := b.swap()
	if len(counts) == 0 && len(samples) == 0 {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(counts, samples, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries renders the buffers at a fixed timestamp. Series are ordered by
// metric then tags so payloads are stable.
func (b *Backend) buildSeries(counts map[seriesKey]float64, samples map[seriesKey][]float64, ts int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(counts)+6*len(samples))

	for _, k := range sortedKeys(counts) {
		out = append(out, point(k.metric, datadogV2.METRICINTAKETYPE_COUNT, counts[k], b.tags(k), ts))
	}
	for _, k := range sortedKeys(samples) {
		out = append(out, summarize(k.metric, samples[k], b.tags(k), ts)...)
	}
	return out
}

func (b *Backend) tags(k seriesKey) []string {
	return append(append(make([]string, 0, len(b.baseTags)+2), b.baseTags...), k.tagList()...)
}

// summarize returns quantile, max and sample-count gauges for one histogram.
// The input is not modified.
func summarize(metric string, values []float64, tags []string, ts int64) []datadogV2.MetricSeries {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	out := make([]datadogV2.MetricSeries, 0, len(quantiles)+2)
	for _, q := range quantiles {
		out = append(out, point(metric+q.suffix, datadogV2.METRICINTAKETYPE_GAUGE, nearestRank(sorted, q.q), tags, ts))
	}
	return append(out,
		point(metric+".max", datadogV2.METRICINTAKETYPE_GAUGE, sorted[len(sorted)-1], tags, ts),
		point(metric+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(sorted)), tags, ts),
	)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	out := make([]seriesKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].metric != out[j].metric {
			return out[i].metric < out[j].metric
		}
		return out[i].tags < out[j].tags
	})
	return out
}

// nearestRank returns the q-quantile of sorted values.
func nearestRank(sorted []float64, q float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	return sorted[min(int(q*float64(n-1)+0.5), n-1)]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
