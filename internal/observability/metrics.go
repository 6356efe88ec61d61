package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RideRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_allocation", Name: "ride_requests_total", Help: "Ride requests by outcome"},
		[]string{"outcome"},
	)
	AllocationAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_allocation",
		Name:      "allocation_attempts",
		Help:      "Claim attempts needed per ride request",
		Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
	})
	ClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_allocation", Name: "claim_conflicts_total", Help: "Claims lost to a concurrent request"})
	AllocationLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_allocation", Name: "allocation_latency_seconds", Help: "Ride allocation latency seconds"})
	RidesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_allocation", Name: "rides_completed_total", Help: "Rides completed"})
	DriversRegistered   = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "ride_allocation", Name: "drivers_registered", Help: "Number of registered drivers"},
		func() float64 { return fleetCount(FleetCounter.Count) },
	)
	DriversAvailable = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "ride_allocation", Name: "drivers_available", Help: "Number of available drivers"},
		func() float64 { return fleetCount(FleetCounter.AvailableCount) },
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_allocation", Name: "events_published_total", Help: "Events queued for delivery"},
		[]string{"kind"},
	)
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_allocation", Name: "events_dropped_total", Help: "Events dropped because the queue was full"})
	SinkErrors    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_allocation", Name: "event_sink_errors_total", Help: "Event delivery failures per sink"},
		[]string{"sink"},
	)
	LocationUpdatesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_allocation", Name: "location_updates_ingested_total", Help: "Driver location messages consumed by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_allocation", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_allocation",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// FleetCounter is read at scrape time by the driver gauges.
type FleetCounter interface {
	Count() int
	AvailableCount() int
}

type fleetRef struct{ f FleetCounter }

var fleetSource atomic.Pointer[fleetRef]

// ObserveFleet points the driver gauges at f. A nil f reports zero.
func ObserveFleet(f FleetCounter) {
	fleetSource.Store(&fleetRef{f: f})
}

func fleetCount(read func(FleetCounter) int) float64 {
	ref := fleetSource.Load()
	if ref == nil || ref.f == nil {
		return 0
	}
	return float64(read(ref.f))
}
