// Command sheetgraph converts spreadsheets into a typed, keyed table set.
//
//	sheetgraph convert book.xlsx data/      convert and publish a dataset
//	sheetgraph inspect data/ --uniqueness   profile a published dataset
//	sheetgraph publish data/                copy a dataset into the SQL sink
//	sheetgraph serve                        upload API
//
// Configuration precedence: flags, SHEETGRAPH_* environment (including a
// .env file), the --config file, built-in defaults.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sheetgraph/internal/config"
	"sheetgraph/internal/httpapi"
	"sheetgraph/internal/metrics"
	"sheetgraph/internal/metrics/datadog"
	"sheetgraph/internal/pipeline"
	"sheetgraph/internal/probe"
	"sheetgraph/internal/relate"
	"sheetgraph/internal/storage"
	"sheetgraph/internal/workbook"

	// register all backends with the storage factory.
	_ "sheetgraph/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// exitError carries a specific exit code through cobra's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// errRunFailed is returned when a conversion finishes Failed. The result has
// already been printed.
var errRunFailed = errors.New("conversion failed")

// metricsBackend is what initMetrics installs and later closes.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// appDeps are the side-effecting seams of the CLI.
type appDeps struct {
	getenv       func(string) string
	readDotenv   func(files ...string) (map[string]string, error)
	newDatadog   func(ctx context.Context, opts datadog.Options) (metricsBackend, error)
	setMetrics   func(metrics.Backend)
	newConverter func(cfg config.Config, logger pipeline.Logger) httpapi.Converter
	openSink     func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	serve        func(ctx context.Context, addr string, h http.Handler) error
}

func defaultDeps() appDeps {
	return appDeps{
		getenv:     os.Getenv,
		readDotenv: godotenv.Read,
		newDatadog: func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
			return datadog.NewBackend(ctx, opts)
		},
		setMetrics:   metrics.SetBackend,
		newConverter: newConverter,
		openSink:     storage.New,
		serve:        listenAndServe,
	}
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	deps   appDeps
	stdout io.Writer
	stderr io.Writer

	cfgPath string
	envFile string
	verbose bool

	cfg    config.Config
	logger *log.Logger
	getenv func(string) string
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	a := &app{deps: deps, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		fmt.Fprintf(stderr, "%v\n", ee.err)
		return ee.code
	case errors.Is(err, errRunFailed):
		return 1
	default:
		// Flag and argument errors from cobra.
		fmt.Fprintf(stderr, "%v\n", err)
		fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.Name())
		return 2
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sheetgraph",
		Short:         "Convert spreadsheets into typed, keyed table sets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (.json, .yaml or .yml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file read before the environment; missing is fine")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logs")

	root.AddCommand(a.convertCmd(), a.inspectCmd(), a.publishCmd(), a.serveCmd())
	return root
}

// loadConfig layers file, dotenv and environment over the defaults. Flags are
// applied by each subcommand.
func (a *app) loadConfig() error {
	a.logger = log.New(io.Discard, "", 0)
	if a.verbose {
		a.logger = log.New(a.stderr, "", log.LstdFlags)
	}

	dotenv := map[string]string{}
	if a.envFile != "" {
		m, err := a.deps.readDotenv(a.envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return &exitError{code: 1, err: fmt.Errorf("read env file: %w", err)}
		}
	}
	// Real environment wins over the dotenv file, as godotenv.Load does.
	a.getenv = func(key string) string {
		if v := a.deps.getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	path := a.cfgPath
	if path == "" {
		path = a.getenv("SHEETGRAPH_CONFIG")
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return &exitError{code: 1, err: err}
		}
	}
	if err := cfg.ApplyEnv(a.getenv); err != nil {
		return &exitError{code: 1, err: err}
	}
	a.cfg = cfg
	return nil
}

// validate checks the fully layered config.
func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return &exitError{code: 1, err: err}
	}
	return nil
}

// initMetrics installs the configured backend and returns its cleanup.
func (a *app) initMetrics(ctx context.Context) (func(), error) {
	mc := a.cfg.Metrics
	switch mc.Backend {
	case "", "none":
		a.logger.Printf("metrics: disabled")
		return func() {}, nil
	case "datadog":
		tags := append(append([]string{}, mc.Tags...), datadog.ParseTagsCSV(a.getenv("METRICS_TAGS"))...)
		b, err := a.deps.newDatadog(ctx, datadog.Options{
			JobName:    mc.JobName,
			Tags:       tags,
			FlushEvery: time.Duration(mc.FlushEverySeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		a.deps.setMetrics(b)
		a.logger.Printf("metrics: backend=datadog job_name=%s tags=%v", mc.JobName, tags)
		return func() {
			if err := b.Close(); err != nil {
				fmt.Fprintf(a.stderr, "metrics: datadog close/flush error: %v\n", err)
			}
			a.deps.setMetrics(nil)
		}, nil
	default:
		return nil, fmt.Errorf("init metrics: unknown backend %q", mc.Backend)
	}
}

func newConverter(cfg config.Config, logger pipeline.Logger) httpapi.Converter {
	cv := cfg.Conversion
	return &pipeline.Converter{
		Workers:       cv.Workers,
		KeepRevisions: cv.KeepRevisions,
		Workbook:      workbook.Options{Comma: cv.Delimiter(), Encoding: cv.Encoding},
		Probe:         probe.Options{DateTimeThreshold: cv.DateTimeThreshold},
		Relate:        relate.Options{OverlapThreshold: cv.OverlapThreshold},
		Logger:        logger,
	}
}

func listenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
