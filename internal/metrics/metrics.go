// Package metrics is the process-wide metrics seam. Core packages record
// through the package-level helpers; cmd wires a concrete Backend (Datadog)
// with SetBackend. Until then every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names emitted by sheetgraph.
const (
	RunsTotal          = "sheetgraph_runs_total"               // labels: status
	TablesTotal        = "sheetgraph_tables_total"             // no labels
	RowsTotal          = "sheetgraph_rows_total"               // no labels
	IssuesTotal        = "sheetgraph_issues_total"             // labels: kind
	StageDurationMS    = "sheetgraph_stage_duration_ms"        // labels: stage, status
	HTTPRequestsTotal  = "sheetgraph_http_requests_total"      // labels: status
	HTTPRequestLatency = "sheetgraph_http_request_duration_ms" // labels: status
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric samples.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter on the current backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample on the current backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStage records a stage duration in milliseconds.
func RecordStage(stage, status string, d time.Duration) {
	ObserveHistogram(StageDurationMS, float64(d.Milliseconds()), Labels{"stage": stage, "status": status})
}

// RecordHTTP counts one served request and its latency.
func RecordHTTP(status int, d time.Duration) {
	l := Labels{"status": strconv.Itoa(status)}
	IncCounter(HTTPRequestsTotal, 1, l)
	ObserveHistogram(HTTPRequestLatency, float64(d.Milliseconds()), l)
}
