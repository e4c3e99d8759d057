// Package ui serves a generated analysis report and the files of its work
// directory over HTTP.
package ui

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"thetaauto/adapters/report"
	"thetaauto/internal"
	"thetaauto/internal/errors"
	"thetaauto/ports"
)

// App represents the report browser
type App struct {
	router  *chi.Mux
	report  report.Context
	archive ports.SummaryArchive
	logger  *internal.Logger
}

// Config holds UI application configuration
type Config struct {
	Port    string
	Report  report.Context
	Archive ports.SummaryArchive
	Logger  *internal.Logger
}

// NewApp creates the report browser; Archive may be nil
func NewApp(config Config) *App {
	logger := config.Logger
	if logger == nil {
		logger = internal.DefaultLogger
	}
	app := &App{
		router:  chi.NewRouter(),
		report:  config.Report,
		archive: config.Archive,
		logger:  logger,
	}
	app.setupMiddleware()
	app.setupRoutes()
	return app
}

// Handler returns the HTTP handler of the app
func (a *App) Handler() http.Handler { return a.router }

// setupMiddleware configures HTTP middleware
func (a *App) setupMiddleware() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Compress(5))
}

// setupRoutes configures the application routes
func (a *App) setupRoutes() {
	a.router.Get("/", a.handleIndex)
	a.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Work directory files: configurations and plots
	files := http.FileServer(http.Dir(a.report.WorkDir))
	a.router.Handle("/files/*", http.StripPrefix("/files/", files))

	a.router.Get("/api/summaries/{method}", a.handleSummaries)
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	path := a.report.Path()
	if _, err := os.Stat(path); err != nil {
		a.logger.Debug("ui: report %s not available: %v", path, err)
		http.Error(w, "report not generated yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFile(w, r, filepath.Clean(path))
}

func (a *App) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if a.archive == nil {
		a.writeError(w, errors.ConfigInvalid("summary archive not configured"))
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.writeError(w, errors.InvalidInput("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	summaries, err := a.archive.ListByMethod(r.Context(), chi.URLParam(r, "method"), limit)
	if err != nil {
		a.logger.Error("ui: listing summaries: %v", err)
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, summaries)
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("ui: encoding response: %v", err)
	}
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	a.writeJSON(w, errors.HTTPStatus(code), map[string]string{
		"code":  code,
		"error": err.Error(),
	})
}

// ListenAndServe serves the app on port
func (a *App) ListenAndServe(port string) error {
	a.logger.Info("ui: serving report %s on :%s", a.report.Path(), port)
	return http.ListenAndServe(":"+port, a.router)
}
