package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"db_path_migrator/internal/metrics"
	"db_path_migrator/internal/migrate"
)

// StatusReporter reconciles a path against the ledger. *migrate.Executor
// implements it.
type StatusReporter interface {
	Status(ctx context.Context, path migrate.Path) (*migrate.Status, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Server is the read-only HTTP surface of the migrator: health, ledger
// status and Prometheus metrics. It never runs migrations.
type Server struct {
	addr     string
	logger   requestLogger
	db       Pinger
	reporter StatusReporter
	path     migrate.Path
	metrics  *metrics.Collector
}

func New(addr string, logger requestLogger, db Pinger, reporter StatusReporter, path migrate.Path, collector *metrics.Collector) *Server {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Server{
		addr:     addr,
		logger:   logger,
		db:       db,
		reporter: reporter,
		path:     path,
		metrics:  collector,
	}
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(RequestLogger(s.logger))
	r.Use(RequestMetrics(s.metrics))

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", HealthHandler{DB: s.db})
		api.Method(http.MethodGet, "/status", StatusHandler{
			Reporter: s.reporter,
			Path:     s.path,
			Metrics:  s.metrics,
			Logger:   s.logger,
		})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}
