package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// Coord is an immutable latitude/longitude pair. Build it with NewCoord
// unless the values are already known to be in range.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func NewCoord(lat, lon float64) (Coord, error) {
	c := Coord{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return Coord{}, err
	}
	return c, nil
}

func (c Coord) Validate() error {
	if c.Lat < MinLatitude || c.Lat > MaxLatitude || math.IsNaN(c.Lat) {
		return fmt.Errorf("%w: latitude must be between -90 and 90, got %v", ErrInvalidInput, c.Lat)
	}
	if c.Lon < MinLongitude || c.Lon > MaxLongitude || math.IsNaN(c.Lon) {
		return fmt.Errorf("%w: longitude must be between -180 and 180, got %v", ErrInvalidInput, c.Lon)
	}
	return nil
}

func (c Coord) String() string { return fmt.Sprintf("(%.4f, %.4f)", c.Lat, c.Lon) }

type RideRequest struct {
	RiderID string `json:"rider_id"`
	Pickup  Coord  `json:"pickup"`
}

// Driver is owned by the fleet registry. ID and Name never change; the
// location may be moved by anyone and availability is only flipped by
// claim/release.
type Driver struct {
	ID   string
	Name string

	mu        sync.RWMutex
	loc       Coord
	available atomic.Bool
}

// NewDriver validates identity and location and returns an Available driver.
func NewDriver(id, name string, loc Coord) (*Driver, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: driver name is required", ErrInvalidInput)
	}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{ID: id, Name: name, loc: loc}
	d.available.Store(true)
	return d, nil
}

func (d *Driver) Location() Coord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loc
}

func (d *Driver) SetLocation(c Coord) {
	d.mu.Lock()
	d.loc = c
	d.mu.Unlock()
}

func (d *Driver) IsAvailable() bool { return d.available.Load() }

// MarkUnavailable reports whether this call moved the driver from
// Available to Claimed.
func (d *Driver) MarkUnavailable() bool { return d.available.CompareAndSwap(true, false) }

func (d *Driver) MarkAvailable() { d.available.Store(true) }

type DriverView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Loc       Coord  `json:"loc"`
	Available bool   `json:"available"`
}

func (d *Driver) View() DriverView {
	return DriverView{ID: d.ID, Name: d.Name, Loc: d.Location(), Available: d.IsAvailable()}
}

func (d *Driver) MarshalJSON() ([]byte, error) { return json.Marshal(d.View()) }

func (d *Driver) String() string {
	return fmt.Sprintf("Driver(%s, %s, available=%t)", d.ID, d.Name, d.IsAvailable())
}

type RideStatus string

const (
	RideInProgress RideStatus = "in_progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s RideStatus) Terminal() bool { return s == RideCompleted || s == RideCancelled }

// Ride references its driver but does not own it. Status and CompletedAt
// are guarded by the ride's own lock so completions of different rides
// never contend.
type Ride struct {
	ID        string
	RiderID   string
	Driver    *Driver
	Pickup    Coord
	CreatedAt time.Time

	mu          sync.Mutex
	status      RideStatus
	completedAt time.Time
}

func NewRide(id, riderID string, driver *Driver, pickup Coord, now time.Time) (*Ride, error) {
	switch {
	case strings.TrimSpace(id) == "":
		return nil, fmt.Errorf("%w: ride id is required", ErrInvalidInput)
	case strings.TrimSpace(riderID) == "":
		return nil, fmt.Errorf("%w: rider id is required", ErrInvalidInput)
	case driver == nil:
		return nil, fmt.Errorf("%w: driver is required", ErrInvalidInput)
	}
	return &Ride{ID: id, RiderID: riderID, Driver: driver, Pickup: pickup, CreatedAt: now, status: RideInProgress}, nil
}

func (r *Ride) Status() RideStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CompletedAt is zero until the ride completes.
func (r *Ride) CompletedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completedAt
}

// Transition runs fn while holding the ride lock. fn sees the current status
// and returns the next one; a non-nil error leaves the ride untouched.
func (r *Ride) Transition(fn func(current RideStatus) (RideStatus, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fn(r.status)
	if err != nil {
		return err
	}
	r.status = next
	return nil
}

// Complete moves the ride to Completed and releases its driver. Only one
// caller per ride can succeed.
func (r *Ride) Complete(now time.Time) error { return r.CompleteThen(now, nil) }

// CompleteThen is Complete with a callback that runs under the ride lock
// once the ride is completed, so anything it emits is ordered against
// other holders of the lock.
func (r *Ride) CompleteThen(now time.Time, then func(RideView)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return &InvalidStateError{RideID: r.ID, Status: r.status, Operation: "complete"}
	}
	if now.Before(r.CreatedAt) {
		now = r.CreatedAt
	}
	r.completedAt = now
	r.status = RideCompleted
	r.Driver.MarkAvailable()
	if then != nil {
		then(r.viewLocked())
	}
	return nil
}

// Locked runs fn with the ride lock held and the ride's current view.
func (r *Ride) Locked(fn func(RideView) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.viewLocked())
}

type RideView struct {
	ID          string     `json:"ride_id"`
	RiderID     string     `json:"rider_id"`
	DriverID    string     `json:"driver_id"`
	DriverName  string     `json:"driver_name"`
	Pickup      Coord      `json:"pickup"`
	Status      RideStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r *Ride) View() RideView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Ride) viewLocked() RideView {
	v := RideView{
		ID:         r.ID,
		RiderID:    r.RiderID,
		DriverID:   r.Driver.ID,
		DriverName: r.Driver.Name,
		Pickup:     r.Pickup,
		Status:     r.status,
		CreatedAt:  r.CreatedAt,
	}
	if !r.completedAt.IsZero() {
		done := r.completedAt
		v.CompletedAt = &done
	}
	return v
}

func (r *Ride) MarshalJSON() ([]byte, error) { return json.Marshal(r.View()) }

func (r *Ride) String() string {
	return fmt.Sprintf("Ride(%s, rider=%s, driver=%s, status=%s)", r.ID, r.RiderID, r.Driver.ID, r.Status())
}
