package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-allocation/internal/config"
	"github.com/example/ride-allocation/internal/dispatch"
	"github.com/example/ride-allocation/internal/events"
	"github.com/example/ride-allocation/internal/fleet"
	"github.com/example/ride-allocation/internal/geo"
	httpapi "github.com/example/ride-allocation/internal/http"
	"github.com/example/ride-allocation/internal/idgen"
	"github.com/example/ride-allocation/internal/ingest"
	"github.com/example/ride-allocation/internal/logging"
	"github.com/example/ride-allocation/internal/matcher"
	"github.com/example/ride-allocation/internal/observability"
	"github.com/example/ride-allocation/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metric, err := geo.MetricByName(cfg.DistanceMetric)
	if err != nil {
		return err
	}

	wsreg := dispatch.NewWSRegistry()
	sinks := []events.Sink{wsreg}

	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			migrate(cfg.PGDSN, logger)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable, ride audit disabled", "error", err)
		} else {
			defer ps.Close()
			sinks = append(sinks, ps)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer kp.Close()
		sinks = append(sinks, kp)
	}

	bus := events.NewBus(cfg.EventBuffer, logger, sinks...)
	busDone := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(busDone)
	}()

	registry := fleet.NewRegistry(metric)
	observability.ObserveFleet(registry)

	svc := &matcher.Service{
		Fleet:       registry,
		Rides:       storage.NewLedger(),
		IDs:         idgen.New(cfg.RideIDPrefix),
		Events:      bus,
		Logger:      logger,
		MaxAttempts: cfg.MaxAllocationRetries,
	}

	if len(cfg.KafkaBrokers) > 0 {
		lc := ingest.NewLocationConsumer(cfg.KafkaBrokers, cfg.KafkaLocationsTopic, cfg.KafkaGroup, svc, logger)
		go func() {
			if err := lc.Run(ctx); err != nil {
				logger.Error("location consumer stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, wsreg, logger, cfg.EnableReset),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-allocation listening", "addr", cfg.HTTPAddr, "metric", cfg.DistanceMetric, "max_attempts", cfg.MaxAllocationRetries)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	<-busDone
	return err
}

// migrate applies migrations/001_create_rides.sql; failures are logged and
// the server keeps running without the audit table.
func migrate(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_rides.sql")
}
