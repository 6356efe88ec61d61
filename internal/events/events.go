// Package events carries fleet and ride lifecycle notifications from the
// allocation core to outbound sinks (Kafka, Postgres, driver sessions).
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-allocation/internal/models"
	"github.com/example/ride-allocation/internal/observability"
)

type Kind string

const (
	DriverRegistered      Kind = "driver.registered"
	DriverLocationUpdated Kind = "driver.location_updated"
	RideAllocated         Kind = "ride.allocated"
	RideCompleted         Kind = "ride.completed"
	FleetReset            Kind = "fleet.reset"
)

type Event struct {
	Kind   Kind               `json:"kind"`
	At     time.Time          `json:"at"`
	Driver *models.DriverView `json:"driver,omitempty"`
	Ride   *models.RideView   `json:"ride,omitempty"`
}

// Key is the partitioning key: the driver id, so every event touching a
// driver lands in order on the same partition.
func (e Event) Key() string {
	switch {
	case e.Driver != nil:
		return e.Driver.ID
	case e.Ride != nil:
		return e.Ride.DriverID
	default:
		return string(e.Kind)
	}
}

func ForDriver(kind Kind, d *models.Driver) Event {
	v := d.View()
	return Event{Kind: kind, At: time.Now().UTC(), Driver: &v}
}

func ForRide(kind Kind, r *models.Ride) Event { return ForRideView(kind, r.View()) }

// ForRideView builds a ride event from a snapshot taken by the caller.
func ForRideView(kind Kind, v models.RideView) Event {
	return Event{Kind: kind, At: time.Now().UTC(), Ride: &v}
}

// Publisher never blocks and never fails the caller.
type Publisher interface {
	Publish(ev Event)
}

type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

type nop struct{}

func (nop) Publish(Event) {}

// Nop discards every event.
var Nop Publisher = nop{}

// Bus queues events and fans them out to sinks on a single goroutine, so
// each sink sees events in publish order.
type Bus struct {
	ch     chan Event
	sinks  []Sink
	logger *slog.Logger
}

func NewBus(buffer int, logger *slog.Logger, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{ch: make(chan Event, buffer), sinks: sinks, logger: logger}
}

// Publish enqueues ev, dropping it when the buffer is full.
func (b *Bus) Publish(ev Event) {
	select {
	case b.ch <- ev:
		observability.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
	default:
		observability.EventsDropped.Inc()
		b.logger.Warn("event dropped", "kind", ev.Kind, "key", ev.Key())
	}
}

// Run delivers events until ctx is cancelled, then flushes what is queued.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ctx, ev)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	for _, s := range b.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			observability.SinkErrors.WithLabelValues(s.Name()).Inc()
			b.logger.Error("event sink failed", "sink", s.Name(), "kind", ev.Kind, "key", ev.Key(), "error", err)
		}
	}
}
