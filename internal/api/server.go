package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/config"
	"github.com/snarg/accent-engine/internal/metrics"
)

const maxRequestBody = 64 << 10

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// AnalysisPool is satisfied by *pipeline.Pool.
type AnalysisPool interface {
	Submitter
	QueueReporter
}

// ServerOptions carries the collaborators the routes need. MQTT and Watch
// may be nil.
type ServerOptions struct {
	Config    *config.Config
	Pool      AnalysisPool
	Bus       EventSource
	MQTT      ConnChecker
	Watch     WatchReporter
	Tools     map[string]func() bool
	Provider  string
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOriginList()))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		health := NewHealthHandler(opts.Tools, opts.MQTT, opts.Pool, opts.Provider, opts.Version, opts.StartTime)
		if opts.Watch != nil {
			health.WithWatch(opts.Watch)
		}
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Use(MaxBodySize(maxRequestBody))
			NewAnalyzeHandler(opts.Pool, cfg.CORSOriginList()).Routes(r)
			NewEventsHandler(opts.Bus).Routes(r)
		})
	})

	return r
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
