// Package config holds sheetgraph's runtime configuration.
//
// Precedence (highest first): command-line flags, SHEETGRAPH_* environment
// variables, the config file, Default(). Flags are applied by cmd; this
// package covers the remaining layers.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Conversion Conversion `json:"conversion" yaml:"conversion"`
	DataSource DataPaths  `json:"data_source" yaml:"data_source"`
	Sink       Sink       `json:"sink" yaml:"sink"`
	Metrics    Metrics    `json:"metrics" yaml:"metrics"`
	HTTP       HTTP       `json:"http" yaml:"http"`
}

// Conversion tunes the pipeline.
type Conversion struct {
	// Workers bounds per-table concurrency. Zero means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`
	// DateTimeThreshold is the parsed fraction needed to type a column DateTime.
	DateTimeThreshold float64 `json:"datetime_threshold" yaml:"datetime_threshold"`
	// OverlapThreshold is the value-overlap ratio needed to keep an FK edge.
	OverlapThreshold float64 `json:"overlap_threshold" yaml:"overlap_threshold"`
	// KeepRevisions is how many published revisions survive pruning.
	KeepRevisions int `json:"keep_revisions" yaml:"keep_revisions"`
	// CSVDelimiter overrides the delimited-text field separator (one rune).
	CSVDelimiter string `json:"csv_delimiter,omitempty" yaml:"csv_delimiter,omitempty"`
	// Encoding is the text encoding label for delimited input.
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// DataPaths lists the candidate locations of the served dataset.
type DataPaths struct {
	DefaultDir string `json:"default_dir" yaml:"default_dir"`
	UploadDir  string `json:"upload_dir" yaml:"upload_dir"`
	// DataPath is normally set through SHEETGRAPH_DATA_PATH.
	DataPath string `json:"data_path,omitempty" yaml:"data_path,omitempty"`
}

// Sink configures optional SQL publication. An empty Kind disables it.
type Sink struct {
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	DSN  string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none" or "datadog".
	Backend           string   `json:"backend" yaml:"backend"`
	JobName           string   `json:"job_name,omitempty" yaml:"job_name,omitempty"`
	Tags              []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	FlushEverySeconds int      `json:"flush_every_seconds,omitempty" yaml:"flush_every_seconds,omitempty"`
}

// HTTP configures `sheetgraph serve`.
type HTTP struct {
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	MaxUploadMB    int      `json:"max_upload_mb" yaml:"max_upload_mb"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Conversion: Conversion{
			DateTimeThreshold: 0.95,
			OverlapThreshold:  0.8,
			KeepRevisions:     2,
		},
		DataSource: DataPaths{
			DefaultDir: "data",
			UploadDir:  "data/uploaded",
		},
		Metrics: Metrics{Backend: "none"},
		HTTP: HTTP{
			Addr:        ":8080",
			MaxUploadMB: 64,
		},
	}
}

// LoadFile decodes a JSON or YAML file (chosen by extension) over Default().
// Unknown fields are rejected.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("config %s: unsupported extension %q (want .json, .yaml or .yml)", path, filepath.Ext(path))
	}
	return cfg, nil
}

// ApplyEnv overlays SHEETGRAPH_* variables read through getenv. Malformed
// numbers are reported rather than ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []string
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: not an integer", key, v))
			return
		}
		*dst = n
	}
	ratio := func(key string, dst *float64) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: not a number", key, v))
			return
		}
		*dst = f
	}

	num("SHEETGRAPH_WORKERS", &c.Conversion.Workers)
	ratio("SHEETGRAPH_DATETIME_THRESHOLD", &c.Conversion.DateTimeThreshold)
	ratio("SHEETGRAPH_OVERLAP_THRESHOLD", &c.Conversion.OverlapThreshold)
	num("SHEETGRAPH_KEEP_REVISIONS", &c.Conversion.KeepRevisions)
	str("SHEETGRAPH_DATA_PATH", &c.DataSource.DataPath)
	str("SHEETGRAPH_DEFAULT_DIR", &c.DataSource.DefaultDir)
	str("SHEETGRAPH_UPLOAD_DIR", &c.DataSource.UploadDir)
	str("SHEETGRAPH_SINK_KIND", &c.Sink.Kind)
	str("SHEETGRAPH_SINK_DSN", &c.Sink.DSN)
	str("SHEETGRAPH_METRICS_BACKEND", &c.Metrics.Backend)
	str("SHEETGRAPH_HTTP_ADDR", &c.HTTP.Addr)
	if v := strings.TrimSpace(getenv("SHEETGRAPH_ALLOWED_ORIGINS")); v != "" {
		c.HTTP.AllowedOrigins = splitCSV(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate returns every configuration problem joined into one error.
func (c Config) Validate() error {
	var probs []string
	add := func(format string, args ...any) { probs = append(probs, fmt.Sprintf(format, args...)) }

	cv := c.Conversion
	if cv.Workers < 0 {
		add("conversion.workers must be >= 0")
	}
	if cv.DateTimeThreshold <= 0 || cv.DateTimeThreshold > 1 {
		add("conversion.datetime_threshold must be in (0, 1]")
	}
	if cv.OverlapThreshold <= 0 || cv.OverlapThreshold > 1 {
		add("conversion.overlap_threshold must be in (0, 1]")
	}
	if cv.KeepRevisions < 1 {
		add("conversion.keep_revisions must be >= 1")
	}
	if cv.CSVDelimiter != "" && len([]rune(cv.CSVDelimiter)) != 1 {
		add("conversion.csv_delimiter must be a single character")
	}
	if c.DataSource.DefaultDir == "" {
		add("data_source.default_dir is required")
	}
	if c.DataSource.UploadDir == "" {
		add("data_source.upload_dir is required")
	}
	switch c.Sink.Kind {
	case "", "sqlite", "postgres", "mssql":
	default:
		add("sink.kind %q is not one of sqlite, postgres, mssql", c.Sink.Kind)
	}
	if c.Sink.Kind != "" && c.Sink.DSN == "" {
		add("sink.dsn is required when sink.kind is set")
	}
	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add("metrics.backend %q is not one of none, datadog", c.Metrics.Backend)
	}
	if c.HTTP.MaxUploadMB <= 0 {
		add("http.max_upload_mb must be > 0")
	}

	if len(probs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(probs, "; "))
	}
	return nil
}

// Delimiter returns the configured CSV delimiter or zero for the default.
func (cv Conversion) Delimiter() rune {
	if r := []rune(cv.CSVDelimiter); len(r) == 1 {
		return r[0]
	}
	return 0
}
