package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-allocation/internal/models"
	"github.com/example/ride-allocation/internal/observability"
)

// LocationMessage is the payload on the driver location topic.
type LocationMessage struct {
	DriverID string  `json:"id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// LocationUpdater is the subset of the matcher service the consumer drives.
type LocationUpdater interface {
	UpdateDriverLocation(id string, c models.Coord) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// LocationConsumer applies driver location messages to the fleet.
type LocationConsumer struct {
	reader   messageReader
	target   LocationUpdater
	logger   *slog.Logger
	Attempts int
	Delay    time.Duration
}

func NewLocationConsumer(brokers []string, topic, group string, target LocationUpdater, logger *slog.Logger) *LocationConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	return newLocationConsumer(r, target, logger)
}

func newLocationConsumer(r messageReader, target LocationUpdater, logger *slog.Logger) *LocationConsumer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocationConsumer{reader: r, target: target, logger: logger, Attempts: 3, Delay: 200 * time.Millisecond}
}

// Run consumes until ctx is cancelled. Read errors back off up to 30s.
func (c *LocationConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("location consumer started")

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("location consumer stopped")
				return nil
			}
			c.logger.Error("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		c.handle(ctx, m)
	}
}

func (c *LocationConsumer) handle(ctx context.Context, m kafka.Message) {
	var msg LocationMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		observability.LocationUpdatesIngested.WithLabelValues("invalid").Inc()
		c.logger.Warn("invalid location message", "offset", m.Offset, "error", err)
		return
	}
	if err := applyWithRetry(ctx, c.target, msg, c.Attempts, c.Delay); err != nil {
		result := "error"
		if errors.Is(err, models.ErrNotFound) {
			result = "unknown_driver"
		} else if errors.Is(err, models.ErrInvalidInput) {
			result = "invalid"
		}
		observability.LocationUpdatesIngested.WithLabelValues(result).Inc()
		c.logger.Warn("location update rejected", "driver_id", msg.DriverID, "error", err)
		return
	}
	observability.LocationUpdatesIngested.WithLabelValues("applied").Inc()
}

// applyWithRetry retries transient failures with doubling delay. Unknown
// drivers and bad coordinates are returned immediately.
func applyWithRetry(ctx context.Context, u LocationUpdater, msg LocationMessage, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	c := models.Coord{Lat: msg.Lat, Lon: msg.Lon}
	var err error
	for i := 0; i < attempts; i++ {
		err = u.UpdateDriverLocation(msg.DriverID, c)
		if err == nil || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidInput) {
			return err
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
	return fmt.Errorf("update driver %s after %d attempts: %w", msg.DriverID, attempts, err)
}
