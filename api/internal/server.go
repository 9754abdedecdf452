package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruhrdata/regiolake/api/metrics"
	"github.com/ruhrdata/regiolake/pkg/chat"
	"github.com/ruhrdata/regiolake/pkg/querier"
)

const (
	defaultReadHeaderTimeout = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultRequestTimeout    = 15 * time.Second
	defaultCacheTTL          = 5 * time.Minute
	// Indicator year ranges move with every pipeline load, so their cached
	// response lags the snapshot endpoints by at most this long.
	defaultMetadataCacheTTL = 30 * time.Second
)

// Answerer answers free-text questions.
type Answerer interface {
	Answer(ctx context.Context, question string) (*chat.Response, error)
}

type Config struct {
	Logger   *slog.Logger
	Listener net.Listener
	Querier  *querier.Querier
	Chat     Answerer

	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	RequestTimeout    time.Duration
	// CacheTTL bounds how long the city list is reused.
	CacheTTL time.Duration
	// MetadataCacheTTL bounds how long /indicator-metadata is reused. It never
	// exceeds CacheTTL.
	MetadataCacheTTL time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Querier == nil {
		return errors.New("querier is required")
	}
	if cfg.Chat == nil {
		return errors.New("chat is required")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MetadataCacheTTL == 0 {
		cfg.MetadataCacheTTL = defaultMetadataCacheTTL
	}
	cfg.MetadataCacheTTL = min(cfg.MetadataCacheTTL, cfg.CacheTTL)
	return nil
}

// Server is the read-only dashboard API.
type Server struct {
	log     *slog.Logger
	cfg     Config
	querier *querier.Querier
	chat    Answerer
	cache   *ttlcache.Cache[string, any]
	router  chi.Router
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate api config: %w", err)
	}

	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		querier: cfg.Querier,
		chat:    cfg.Chat,
		cache:   ttlcache.New(ttlcache.WithTTL[string, any](cfg.CacheTTL)),
	}
	s.router = s.routes()
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metrics.RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/cities", s.handleCities)
	r.Get("/demographics/{year}", s.handleSnapshot("demographics"))
	r.Get("/labor-market/{year}", s.handleSnapshot("labor_market"))
	r.Get("/business-economy/{year}", s.handleSnapshot("business_economy"))
	r.Get("/public-finance/{year}", s.handleSnapshot("public_finance"))
	r.Get("/timeseries/{indicatorCode}", s.handleTimeSeries)
	r.Get("/indicators", s.handleIndicators)
	r.Get("/years", s.handleYears)
	r.Get("/indicator-metadata", s.handleIndicatorMetadata)
	r.Get("/indicator-years/{code}", s.handleIndicatorYears)
	r.Post("/chat", s.handleChat)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler returns the routed handler, for use without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Listener == nil {
		return errors.New("listener is required to run the server")
	}
	go s.cache.Start()
	defer s.cache.Stop()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(s.cfg.Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()
	s.log.Info("api: listening", "address", s.cfg.Listener.Addr().String())

	select {
	case <-ctx.Done():
		s.log.Info("api: stopping", "reason", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		s.log.Info("api: shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("api: server error causing shutdown", "error", err)
		return err
	}
}
