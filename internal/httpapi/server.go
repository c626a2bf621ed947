// Package httpapi is the HTTP surface for uploading workbooks and reporting
// the dataset the process serves.
//
// Routes:
//
//	POST /api/uploads     multipart "file": convert into the upload directory
//	GET  /api/datasource  the data source resolved at process start
//	GET  /api/dataset     profile of that data source
//	GET  /healthz
//
// The data source is fixed for the lifetime of the process. A successful
// upload reports restart_required and takes effect on the next start.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sheetgraph/internal/config"
	"sheetgraph/internal/loader"
	"sheetgraph/internal/metrics"
	"sheetgraph/internal/pipeline"
	"sheetgraph/internal/report"
)

// RestartNotice accompanies every successful upload.
const RestartNotice = "The uploaded data has been converted. Restart the application to use it as the data source."

// Logger is the minimal logging interface used by the server.
type Logger interface {
	Printf(format string, v ...any)
}

// Converter runs one conversion. *pipeline.Converter satisfies it.
type Converter interface {
	Run(ctx context.Context, input, output string) *pipeline.Result
}

// Options configures a Server.
type Options struct {
	Converter  Converter
	DataSource config.DataSource
	// UploadDir receives converted uploads.
	UploadDir string
	// MaxUploadBytes caps the request body. Zero means 64 MiB.
	MaxUploadBytes int64
	// AllowedOrigins enables CORS for browser clients. Empty disables it.
	AllowedOrigins []string
	Logger         Logger
}

// Server handles the API routes. Create it with New.
type Server struct {
	opt    Options
	logger Logger

	// convMu serializes conversions into the shared upload directory.
	convMu sync.Mutex
}

// UploadResponse is the body of POST /api/uploads.
type UploadResponse struct {
	Result          *pipeline.Result `json:"result"`
	Markdown        string           `json:"markdown"`
	RestartRequired bool             `json:"restart_required"`
	Notice          string           `json:"notice,omitempty"`
}

// New builds a Server.
func New(opt Options) *Server {
	if opt.MaxUploadBytes <= 0 {
		opt.MaxUploadBytes = 64 << 20
	}
	logger := opt.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{opt: opt, logger: logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)
	if len(s.opt.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opt.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/uploads", s.upload)
		r.Get("/datasource", s.dataSource)
		r.Get("/dataset", s.dataset)
	})
	return r
}

// instrument records request counts and latency by status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		metrics.RecordHTTP(status, d)
		s.logger.Printf("http method=%s path=%s status=%d bytes=%d duration=%s",
			r.Method, r.URL.Path, status, ww.BytesWritten(), d.Truncate(time.Millisecond))
	})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opt.MaxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	// The reader picks a format by extension, so keep the client's name.
	name := filepath.Base(hdr.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		writeError(w, http.StatusBadRequest, "upload has no file name")
		return
	}
	staging, err := os.MkdirTemp("", "sheetgraph-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.RemoveAll(staging)

	input := filepath.Join(staging, name)
	if err := saveTo(input, file); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.convMu.Lock()
	res := s.opt.Converter.Run(r.Context(), input, s.opt.UploadDir)
	s.convMu.Unlock()
	res.Input = hdr.Filename

	resp := UploadResponse{Result: res, Markdown: report.Markdown(res)}
	status := http.StatusUnprocessableEntity
	if res.Succeeded() {
		resp.RestartRequired = true
		resp.Notice = RestartNotice
		status = http.StatusOK
	}
	s.logger.Printf("upload file=%s run=%s status=%s", name, res.RunID, res.Status)
	writeJSON(w, status, resp)
}

func (s *Server) dataSource(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opt.DataSource)
}

func (s *Server) dataset(w http.ResponseWriter, r *http.Request) {
	ds, err := loader.Load(r.Context(), s.opt.DataSource.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data_source":   s.opt.DataSource,
		"tables":        ds.Names,
		"relationships": ds.Relationships,
		"profile":       ds.Profile,
	})
}

func saveTo(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("save upload: %w", err)
	}
	return f.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
