package matcher

import (
	"github.com/example/ride-allocation/internal/events"
	"github.com/example/ride-allocation/internal/models"
)

func (s *Service) RegisterDriver(d *models.Driver) error {
	if err := s.Fleet.Register(d); err != nil {
		return err
	}
	s.publisher().Publish(events.ForDriver(events.DriverRegistered, d))
	s.logger().Info("driver registered", "driver_id", d.ID)
	return nil
}

func (s *Service) UpdateDriverLocation(id string, c models.Coord) error {
	if err := s.Fleet.UpdateLocation(id, c); err != nil {
		return err
	}
	if d, err := s.Fleet.Get(id); err == nil {
		s.publisher().Publish(events.ForDriver(events.DriverLocationUpdated, d))
	}
	return nil
}

func (s *Service) Driver(id string) (*models.Driver, error) { return s.Fleet.Get(id) }

func (s *Service) Ride(id string) (*models.Ride, error) { return s.Rides.Get(id) }

func (s *Service) ListAvailableDrivers() []*models.Driver { return s.Fleet.ListAvailable() }

// NearestDrivers returns up to count available drivers closest first.
func (s *Service) NearestDrivers(c models.Coord, count int) ([]*models.Driver, error) {
	return s.Fleet.Nearest(c, count)
}

func (s *Service) DriverCount() int { return s.Fleet.Count() }

func (s *Service) RideCount() int { return s.Rides.Count() }

type Stats struct {
	Drivers          int `json:"drivers"`
	AvailableDrivers int `json:"available_drivers"`
	Rides            int `json:"rides"`
	RidesInProgress  int `json:"rides_in_progress"`
	RidesCompleted   int `json:"rides_completed"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Drivers:          s.Fleet.Count(),
		AvailableDrivers: s.Fleet.AvailableCount(),
		Rides:            s.Rides.Count(),
		RidesInProgress:  s.Rides.CountByStatus(models.RideInProgress),
		RidesCompleted:   s.Rides.CountByStatus(models.RideCompleted),
	}
}

// Reset drops all drivers and rides and restarts ride ids at 1. Meant for
// tests and demos.
func (s *Service) Reset() {
	s.Rides.Reset()
	s.Fleet.Reset()
	s.IDs.Reset()
	s.publisher().Publish(events.Event{Kind: events.FleetReset, At: s.now().UTC()})
	s.logger().Warn("fleet reset")
}
