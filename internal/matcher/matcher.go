package matcher

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-allocation/internal/events"
	"github.com/example/ride-allocation/internal/models"
	"github.com/example/ride-allocation/internal/observability"
)

// DefaultMaxAttempts bounds the find-then-claim loop in RequestRide.
const DefaultMaxAttempts = 5

type Fleet interface {
	Register(d *models.Driver) error
	Get(id string) (*models.Driver, error)
	UpdateLocation(id string, c models.Coord) error
	ListAvailable() []*models.Driver
	NearestAvailable(c models.Coord) (*models.Driver, bool)
	Nearest(c models.Coord, count int) ([]*models.Driver, error)
	TryClaim(id string) bool
	Release(id string) error
	Count() int
	AvailableCount() int
	Reset()
}

type RideLedger interface {
	Insert(r *models.Ride) error
	Get(id string) (*models.Ride, error)
	Count() int
	CountByStatus(status models.RideStatus) int
	Reset()
}

type IDAllocator interface {
	Next() string
	Reset()
}

// Service allocates drivers to ride requests and completes rides. Fleet,
// Rides and IDs are required; the rest fall back to defaults.
type Service struct {
	Fleet       Fleet
	Rides       RideLedger
	IDs         IDAllocator
	Events      events.Publisher
	Logger      *slog.Logger
	MaxAttempts int
	Now         func() time.Time
}

// RequestRide claims the nearest available driver for riderID. Finding and
// claiming are separate steps, so a concurrent request can take the
// candidate first; the loop then re-queries, up to MaxAttempts times.
func (s *Service) RequestRide(riderID string, pickup models.Coord) (*models.Ride, error) {
	start := time.Now()
	if strings.TrimSpace(riderID) == "" {
		return nil, fmt.Errorf("%w: rider id is required", models.ErrInvalidInput)
	}
	if err := pickup.Validate(); err != nil {
		return nil, err
	}

	attempts := s.maxAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		candidate, ok := s.Fleet.NearestAvailable(pickup)
		if !ok {
			observability.RideRequestsTotal.WithLabelValues("no_driver").Inc()
			return nil, fmt.Errorf("%w near %s", models.ErrNoAvailableDriver, pickup)
		}
		if !s.Fleet.TryClaim(candidate.ID) {
			observability.ClaimConflictsTotal.Inc()
			s.logger().Debug("claim lost", "rider_id", riderID, "driver_id", candidate.ID, "attempt", attempt)
			continue
		}
		ride, err := s.record(riderID, candidate.ID, pickup)
		if err != nil {
			_ = s.Fleet.Release(candidate.ID)
			observability.RideRequestsTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		observability.RideRequestsTotal.WithLabelValues("allocated").Inc()
		observability.AllocationAttempts.Observe(float64(attempt))
		observability.AllocationLatency.Observe(time.Since(start).Seconds())
		s.logger().Info("ride allocated", "ride_id", ride.ID, "rider_id", riderID, "driver_id", ride.Driver.ID, "attempt", attempt)
		return ride, nil
	}

	observability.RideRequestsTotal.WithLabelValues("exhausted").Inc()
	observability.AllocationAttempts.Observe(float64(attempts))
	s.logger().Warn("driver allocation exhausted", "rider_id", riderID, "attempts", attempts)
	return nil, &models.AllocationExhaustedError{Attempts: attempts}
}

// record builds and stores the ride for a driver this caller has claimed.
// A claimed record cannot be replaced in the registry, so the lookup
// returns the exact driver that was claimed.
//
// The ride lock is held from before the ride is visible in the ledger until
// its allocated event is queued, so a completion can neither run nor
// publish ahead of it.
func (s *Service) record(riderID, driverID string, pickup models.Coord) (*models.Ride, error) {
	d, err := s.Fleet.Get(driverID)
	if err != nil {
		return nil, err
	}
	ride, err := models.NewRide(s.IDs.Next(), riderID, d, pickup, s.now())
	if err != nil {
		return nil, err
	}
	err = ride.Locked(func(v models.RideView) error {
		if err := s.Rides.Insert(ride); err != nil {
			return err
		}
		s.publisher().Publish(events.ForRideView(events.RideAllocated, v))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// CompleteRide finishes an in-progress ride and frees its driver. Concurrent
// calls for the same ride yield one success; the rest get InvalidStateError.
func (s *Service) CompleteRide(rideID string) (*models.Ride, error) {
	if strings.TrimSpace(rideID) == "" {
		return nil, fmt.Errorf("%w: ride id is required", models.ErrInvalidInput)
	}
	ride, err := s.Rides.Get(rideID)
	if err != nil {
		return nil, err
	}
	err = ride.CompleteThen(s.now(), func(v models.RideView) {
		s.publisher().Publish(events.ForRideView(events.RideCompleted, v))
	})
	if err != nil {
		return nil, err
	}

	observability.RidesCompletedTotal.Inc()
	s.logger().Info("ride completed", "ride_id", ride.ID, "driver_id", ride.Driver.ID)
	return ride, nil
}

func (s *Service) maxAttempts() int {
	if s.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return s.MaxAttempts
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) publisher() events.Publisher {
	if s.Events == nil {
		return events.Nop
	}
	return s.Events
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}
