package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the allocation API and
// the event projector. Every value has a default so the binary runs locally
// with no external services.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers        []string
	KafkaEventsTopic    string
	KafkaLocationsTopic string
	KafkaGroup          string

	PGDSN string

	MaxAllocationRetries int
	RideIDPrefix         string
	DistanceMetric       string
	EventBuffer          int
	EnableReset          bool

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		RedisGeoKey:          "drivers_geo",
		KafkaEventsTopic:     "fleet-events",
		KafkaLocationsTopic:  "driver-locations",
		KafkaGroup:           "ride-allocation",
		MaxAllocationRetries: 5,
		RideIDPrefix:         "RIDE-",
		DistanceMetric:       "euclidean",
		EventBuffer:          1024,
		LogLevel:             "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaLocationsTopic, "KAFKA_LOCATIONS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.MaxAllocationRetries, "MAX_ALLOCATION_RETRIES", &errs)
	setStringFromEnv(&cfg.RideIDPrefix, "RIDE_ID_PREFIX")
	setStringFromEnv(&cfg.DistanceMetric, "DISTANCE_METRIC")
	setIntFromEnv(&cfg.EventBuffer, "EVENT_BUFFER", &errs)
	cfg.EnableReset = strings.EqualFold(os.Getenv("ENABLE_RESET"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MaxAllocationRetries <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ALLOCATION_RETRIES must be > 0"))
	}
	if cfg.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER must be > 0"))
	}
	switch strings.ToLower(cfg.DistanceMetric) {
	case "euclidean", "haversine":
	default:
		errs = append(errs, fmt.Errorf("DISTANCE_METRIC must be euclidean or haversine, got %q", cfg.DistanceMetric))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
