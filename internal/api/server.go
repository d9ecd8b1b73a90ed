// Package api exposes the station over HTTP: ingestion for the capture
// collaborator, collection reads, queued flag edits, and manual archive runs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camstore/internal/config"
	"camstore/internal/model"
	"camstore/internal/station"
)

// Station is the subset of station.Service the API serves.
type Station interface {
	Ingest(ctx context.Context, obs station.Observation) (*model.Entry, error)
	Collection(kind model.Kind) (model.Collection, error)
	EnqueueFlagChange(key model.Key, entryID, field string, value bool) error
	ListSnapshots() ([]station.SnapshotSummary, error)
	Snapshot(date string) (*model.Document, error)
	TriggerBackup(ctx context.Context, date string) (*station.BackupResult, error)
	TriggerCleanup(ctx context.Context, kind model.Kind, date string, deleteOrphans bool) (*station.CleanupResult, error)
	History(limit int) ([]*station.Operation, error)
}

var _ Station = (*station.Service)(nil)

// Server holds the handlers and their dependencies.
type Server struct {
	station   Station
	cfg       config.ServerConfig
	stationID string
	logger    station.Logger
	clock     station.Clock
}

// NewServer creates a Server. A nil logger or clock takes the default.
func NewServer(st Station, cfg config.ServerConfig, stationID string, logger station.Logger, clock station.Clock) *Server {
	if logger == nil {
		logger = station.NewNopLogger()
	}
	if clock == nil {
		clock = station.RealClock{}
	}
	return &Server{station: st, cfg: cfg, stationID: stationID, logger: logger, clock: clock}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
		}
		r.Use(s.requestMetrics)
		r.Use(s.requestLogging)

		r.Get("/health", s.health)

		r.Post("/images", s.ingest)
		r.Get("/collections/{kind}", s.collection)
		r.Post("/collections/{kind}/entries/{id}/flags", s.setFlag)

		r.Get("/backups", s.listBackups)
		r.Get("/backups/{date}", s.getBackup)
		r.Post("/backups", s.triggerBackup)

		r.Post("/cleanup/{kind}", s.triggerCleanup)

		r.Get("/history", s.history)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, CodeBadRequest, r.Method+" not allowed on "+r.URL.Path, nil)
	})
	return r
}

// NewHTTPServer returns an *http.Server serving the API on the configured
// listen address.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
