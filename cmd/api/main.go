// Package main is the entry point for the soup API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/soup/internal/api"
	"github.com/onnwee/soup/internal/auth"
	"github.com/onnwee/soup/internal/config"
	"github.com/onnwee/soup/internal/frecency"
	"github.com/onnwee/soup/internal/health"
	"github.com/onnwee/soup/internal/itemstore"
	"github.com/onnwee/soup/internal/middleware"
	"github.com/onnwee/soup/internal/predicate"
	"github.com/onnwee/soup/internal/soup"
	"github.com/onnwee/soup/internal/tracing"
	"github.com/onnwee/soup/migrations"
)

const serviceName = "soup-api"

// shutdownTimeout bounds draining in-flight requests on SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file (environment variables take precedence)")
	flag.Parse()

	if *help {
		fmt.Println("Soup API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, 2*len(summary))
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	handler, err := newRouter(cfg, b, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "in_memory", cfg.InMemory())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// backends are the feed's two collaborators plus their readiness checks.
type backends struct {
	items  soup.ItemRepository
	scorer soup.RelevanceScorer

	dbChecker    api.HealthChecker
	redisChecker api.HealthChecker

	closers []io.Closer
}

// Close releases connections in reverse order of opening.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	return errors.Join(errs...)
}

// openBackends connects Postgres and Redis, or builds the in-memory pair
// when neither is configured.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	if cfg.InMemory() {
		logger.Warn("DATABASE_URL and REDIS_URL unset; using in-memory backends")
		return inMemoryBackends(), nil
	}

	b := &backends{}
	db, err := itemstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, db)

	if err := itemstore.Migrate(ctx, db, migrations.FS); err != nil {
		_ = b.Close()
		return nil, err
	}

	scorer, err := frecency.Open(ctx, cfg.RedisURL)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.closers = append(b.closers, scorer)

	b.items = itemstore.NewRepository(db, logger)
	b.scorer = scorer
	b.dbChecker = health.NewDBChecker(db)
	b.redisChecker = health.NewRedisChecker(scorer.Client())
	return b, nil
}

func inMemoryBackends() *backends {
	scorer := soup.NewInMemoryScorer()
	return &backends{
		items:  soup.NewInMemoryItemRepository(scorer, predicate.Matcher{}),
		scorer: scorer,
	}
}

// newRouter wires the feed service and its middleware chain:
// RequestID -> Tracing -> Logging -> HTTPMetrics -> mux.
func newRouter(cfg *config.Config, b *backends, logger *slog.Logger) (http.Handler, error) {
	regime, err := soup.ParseRegime(cfg.SoupDefaultRegime)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	var soupMetrics *soup.Metrics
	var httpMetrics *middleware.Metrics
	if cfg.MetricsEnabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		soupMetrics = soup.NewMetrics()
		if err := soupMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register soup metrics: %w", err)
		}
		httpMetrics = middleware.NewMetrics()
		if err := httpMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
	}

	svc := soup.NewService(b.items, b.scorer, soup.Config{
		DefaultRegime: regime,
		MaxRankRounds: cfg.SoupMaxRankRounds,
		Matcher:       predicate.Matcher{},
		Metrics:       soupMetrics,
		Logger:        logger,
	})

	jwtSvc := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTSecretPrevious)
	soupHandlers := api.NewSoupHandlers(svc, logger)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      b.dbChecker,
		RedisChecker:   b.redisChecker,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	mux := http.NewServeMux()
	mux.Handle("/soup", middleware.RequireAuth(jwtSvc)(http.HandlerFunc(soupHandlers.GetSoup)))
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
		api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
	})

	var handler http.Handler = mux
	if httpMetrics != nil {
		handler = middleware.HTTPMetrics(httpMetrics)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)
	return handler, nil
}
