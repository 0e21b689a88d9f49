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

	"github.com/banking/ewa-risk-service/internal/api/rest"
	"github.com/banking/ewa-risk-service/internal/assessment"
	"github.com/banking/ewa-risk-service/internal/cache"
	"github.com/banking/ewa-risk-service/internal/config"
	"github.com/banking/ewa-risk-service/internal/events"
	"github.com/banking/ewa-risk-service/internal/metrics"
	"github.com/banking/ewa-risk-service/internal/pkg/logger"
	"github.com/banking/ewa-risk-service/internal/pkg/telemetry"
	"github.com/banking/ewa-risk-service/internal/repository/memory"
	"github.com/banking/ewa-risk-service/internal/repository/postgres"
	"github.com/banking/ewa-risk-service/internal/scoring"
)

type publisher interface {
	assessment.EventPublisher
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ewa-risk-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// 2. Initialize Logger
	log, err := logger.New(cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, cfg.Telemetry.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	tp, err := telemetry.Init(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", logger.ErrorField(err))
		}
	}()

	m := metrics.New()

	// 4. Snapshot storage
	repo, closeRepo, err := openRepository(ctx, &cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	// 5. Score cache (optional)
	var scoreCache assessment.ScoreCache
	if cfg.Redis.Enabled {
		rc, err := cache.NewScoreCache(ctx, &cfg.Redis)
		if err != nil {
			// scores are still served from the repository
			log.Warn("redis unavailable, running without score cache", logger.ErrorField(err))
		} else {
			defer func() { _ = rc.Close() }()
			scoreCache = rc
			log.Info("score cache enabled", logger.StringField("addr", cfg.Redis.Addr()))
		}
	}

	// 6. Event publisher
	var pub publisher = events.Noop{}
	if cfg.Kafka.Enabled {
		producer, err := events.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		pub = events.NewKafkaPublisher(producer, &cfg.Kafka)
		log.Info("risk events enabled", logger.StringField("topic", cfg.Kafka.RiskEventsTopic))
	}
	defer func() { _ = pub.Close() }()

	// 7. Scoring engine and service
	engine := scoring.NewEngine(&cfg.Scoring)
	svc := assessment.NewService(engine, repo, scoreCache, pub, m, &cfg.Scoring, log)

	// 8. HTTP servers
	e := rest.NewServer(rest.NewHandler(svc), cfg, log, m)
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux(m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	log.Info("server started",
		logger.StringField("addr", serverAddr),
		logger.IntField("metrics_port", cfg.Server.MetricsPort),
		logger.StringField("database", cfg.Database.Driver),
	)

	// Wait for interrupt signal to gracefully shutdown the server with a timeout
	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-errCh:
		log.Error("server failed", logger.ErrorField(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	log.Info("server exited properly")
	return nil
}

func openRepository(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (assessment.SnapshotRepository, func(), error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory snapshot storage; scores are lost on restart")
		return memory.NewSnapshotRepository(), func() {}, nil
	}

	if cfg.RunMigrations {
		if err := postgres.RunMigrations(cfg.DSN()); err != nil {
			return nil, nil, err
		}
		log.Info("database migrations applied")
	}

	pool, err := postgres.NewPool(ctx, *cfg)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewSnapshotRepository(pool), pool.Close, nil
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
