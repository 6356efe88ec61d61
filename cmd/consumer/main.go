package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-allocation/internal/config"
	"github.com/example/ride-allocation/internal/events"
	"github.com/example/ride-allocation/internal/geo"
	"github.com/example/ride-allocation/internal/logging"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_events_consumed_total",
		Help: "Total lifecycle events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_events_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_redis_updates_total",
		Help: "Total successful redis projections",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

// The projector tails the lifecycle event topic and mirrors fleet state
// into Redis.
func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rg := geo.NewRedisGeo(redisAddr, cfg.RedisPassword, cfg.RedisGeoKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rg.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.KafkaEventsTopic, GroupID: cfg.KafkaGroup + "-projector", MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rg.Close()
	}()

	logger.Info("projector listening", "topic", cfg.KafkaEventsTopic, "brokers", brokers)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down projector")
				return
			}
			logger.Error("kafka read error", "error", err, "backoff", backoff)
			if !wait(ctx, backoff) {
				logger.Info("shutting down projector")
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var ev events.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := projectWithRetry(ctx, rg, cfg.RedisGeoKey, ev, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis projection failed", "kind", ev.Kind, "key", ev.Key(), "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// wait sleeps for d and reports false if ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// projectWithRetry applies ev with retry/backoff.
func projectWithRetry(ctx context.Context, rc geo.RedisUpdater, geoKey string, ev events.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = geo.Project(ctx, rc, geoKey, ev); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
