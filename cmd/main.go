package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/analytics"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/http/api"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/http/site"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/http/swagger"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/lock"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository/postgres"
	app "github.com/Khushwant-Singh1/HackOps/internal/app"
	"github.com/Khushwant-Singh1/HackOps/internal/config"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/rubric"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

// systemPrincipal runs scheduled organizer work such as reminder sweeps.
var systemPrincipal = model.Principal{ID: "system", Role: model.RoleOrganizer}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		_, _ = os.Stderr.WriteString("hackops: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Options{Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if cfg.OTelEndpoint != "" {
		shutdown, err := tracing.Setup(ctx, cfg.OTelEndpoint, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn(ctx, "tracing shutdown failed", logger.Error(err))
			}
		}()
	}

	opts, closers, err := wire(ctx, cfg, log)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()
	if err != nil {
		return err
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop(context.WithoutCancel(ctx))

	if cfg.RubricFile != "" {
		defs, err := rubric.LoadFile(cfg.RubricFile)
		if err != nil {
			return fmt.Errorf("load rubrics: %w", err)
		}
		seeded, err := svc.SeedRubrics(ctx, defs)
		if err != nil {
			return fmt.Errorf("seed rubrics: %w", err)
		}
		log.Info(ctx, "rubrics seeded", logger.String("file", cfg.RubricFile), logger.Int("count", len(seeded)))
	}

	go every(ctx, cfg.OutboxInterval(), func() {
		if _, err := svc.RelayOutbox(ctx); err != nil && ctx.Err() == nil {
			log.Warn(ctx, "outbox relay failed", logger.Error(err))
		}
	})
	if iv := cfg.ReminderInterval(); iv > 0 {
		go every(ctx, iv, func() {
			if _, err := svc.SendReminders(ctx, systemPrincipal, "", 0); err != nil && ctx.Err() == nil {
				log.Warn(ctx, "reminder sweep failed", logger.Error(err))
			}
		})
	}
	go every(ctx, serviceMetricsInterval, func() { updateServiceMetrics(svc) })

	mux := http.NewServeMux()
	site.Register(ctx, mux)
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// wire opens the configured backends and returns service options plus the
// closers to run on exit, in open order.
func wire(ctx context.Context, cfg *config.Config, log logger.Logger) ([]app.Option, []func() error, error) {
	var closers []func() error
	opts := []app.Option{
		app.WithLogger(log.Named("judging")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.OutboxQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithOutboxBatchSize(cfg.OutboxBatchSize),
		app.WithNormalizationMethod(cfg.NormalizationMethod),
		app.WithNormalizationRetries(cfg.NormalizationRetries),
		app.WithDefaultCoverageMin(cfg.DefaultCoverageMin),
		app.WithBiasThreshold(cfg.BiasThreshold),
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, closers, err
	}
	opts = append(opts, app.WithStore(store))

	if cfg.RedisAddr != "" {
		client, err := lock.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, closers, fmt.Errorf("open redis: %w", err)
		}
		closers = append(closers, client.Close)
		opts = append(opts, app.WithLocker(lock.NewRedisLocker(client, "hackops:lock:")))
	}

	if cfg.AnalyticsSQLitePath != "" {
		exp, err := analytics.OpenSQLite(ctx, cfg.AnalyticsSQLitePath)
		if err != nil {
			return nil, closers, fmt.Errorf("open analytics: %w", err)
		}
		closers = append(closers, exp.Close)
		opts = append(opts, app.WithExporter(exp))
	}
	return opts, closers, nil
}

// openStore returns the configured repository. The service closes it on Stop.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLogger(log.Named("postgres")))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

// every runs fn on each tick until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
