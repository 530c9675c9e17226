package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/documentpipeline/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the handlers' collaborators. Nil stage runners leave their
// routes unmounted; a nil limiter disables upload rate limiting.
type Deps struct {
	Intake         Uploader
	Results        ResultsReader
	Classify       StageRunner
	Summarize      StageRunner
	Metrics        *metrics.Pipeline
	Limiter        *IPRateLimiter
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// NewRouter mounts the public API, the stage endpoints and the operational
// endpoints on one chi router.
func NewRouter(d Deps) *chi.Mux {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	upload := http.Handler(UploadHandler(d.Intake, d.MaxUploadBytes, logger))
	if d.Limiter != nil {
		upload = d.Limiter.Middleware(upload)
	}
	r.Method(http.MethodPost, "/upload", upload)

	results := NewResults(d.Results, logger)
	r.Get("/results", results.List)
	r.Get("/results/{documentId}", func(w http.ResponseWriter, req *http.Request) {
		results.Get(w, req, chi.URLParam(req, "documentId"))
	})

	if d.Classify != nil {
		r.Post("/stages/classify", StageHandler(d.Classify, logger))
	}
	if d.Summarize != nil {
		r.Post("/stages/summarize", StageHandler(d.Summarize, logger))
	}
	return r
}
