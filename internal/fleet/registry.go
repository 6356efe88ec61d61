// Package fleet holds the in-memory driver registry used for allocation.
package fleet

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/example/ride-allocation/internal/geo"
	"github.com/example/ride-allocation/internal/models"
)

// Registry is safe for concurrent use. The read/write lock guards the
// driver set for bulk scans; claim and release go through each driver's
// own atomic flag so they stay independent of the scan lock.
type Registry struct {
	metric geo.Metric

	mu      sync.RWMutex
	index   map[string]int
	drivers []*models.Driver // insertion order, used to break distance ties
}

func NewRegistry(metric geo.Metric) *Registry {
	if metric == nil {
		metric = geo.Euclidean
	}
	return &Registry{metric: metric, index: make(map[string]int)}
}

// Register inserts d or replaces the record with the same id. A record that
// is currently claimed can only be re-registered with the same pointer.
// Inserted and replacing records start Available: no ride can reference a
// record the registry does not own yet.
func (r *Registry) Register(d *models.Driver) error {
	if d == nil {
		return fmt.Errorf("%w: driver is required", models.ErrInvalidInput)
	}
	if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: driver id and name are required", models.ErrInvalidInput)
	}
	if err := d.Location().Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[d.ID]; ok {
		cur := r.drivers[i]
		if cur == d {
			return nil
		}
		if !cur.IsAvailable() {
			return fmt.Errorf("%w: driver %s is assigned to a ride", models.ErrInvalidInput, d.ID)
		}
		d.MarkAvailable()
		r.drivers[i] = d
		return nil
	}
	d.MarkAvailable()
	r.index[d.ID] = len(r.drivers)
	r.drivers = append(r.drivers, d)
	return nil
}

func (r *Registry) Get(id string) (*models.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(id)
}

func (r *Registry) lookup(id string) (*models.Driver, error) {
	i, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %q", models.ErrNotFound, id)
	}
	return r.drivers[i], nil
}

// UpdateLocation moves a driver. Availability is untouched.
func (r *Registry) UpdateLocation(id string, c models.Coord) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: driver id is required", models.ErrInvalidInput)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	d, err := r.Get(id)
	if err != nil {
		return err
	}
	d.SetLocation(c)
	return nil
}

// ListAvailable returns a fresh slice of the drivers available right now.
func (r *Registry) ListAvailable() []*models.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		if d.IsAvailable() {
			out = append(out, d)
		}
	}
	return out
}

// NearestAvailable returns the closest available driver, or false when none
// is available. Equal distances resolve to the earliest registered driver.
func (r *Registry) NearestAvailable(c models.Coord) (*models.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best     *models.Driver
		bestDist float64
	)
	// linear scan; fleet sizes here do not justify a spatial index
	for _, d := range r.drivers {
		if !d.IsAvailable() {
			continue
		}
		dist := r.metric.Distance(d.Location(), c)
		if best == nil || dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best, best != nil
}

// Nearest returns up to count available drivers in non-decreasing distance.
func (r *Registry) Nearest(c models.Coord, count int) ([]*models.Driver, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", models.ErrInvalidInput, count)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	type pair struct {
		d    *models.Driver
		dist float64
	}
	r.mu.RLock()
	arr := make([]pair, 0, len(r.drivers))
	for _, d := range r.drivers {
		if !d.IsAvailable() {
			continue
		}
		arr = append(arr, pair{d, r.metric.Distance(d.Location(), c)})
	}
	r.mu.RUnlock()

	sort.SliceStable(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if count > len(arr) {
		count = len(arr)
	}
	out := make([]*models.Driver, 0, count)
	for _, p := range arr[:count] {
		out = append(out, p.d)
	}
	return out, nil
}

// TryClaim moves the driver from Available to Claimed. It reports false if
// the driver is unknown or someone else already holds it.
func (r *Registry) TryClaim(id string) bool {
	// the read lock keeps Register from swapping the record mid-claim
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, err := r.lookup(id)
	if err != nil {
		return false
	}
	return d.MarkUnavailable()
}

// Release makes the driver available again; releasing an available driver
// is a no-op.
func (r *Registry) Release(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, err := r.lookup(id)
	if err != nil {
		return err
	}
	d.MarkAvailable()
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

func (r *Registry) AvailableCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.drivers {
		if d.IsAvailable() {
			n++
		}
	}
	return n
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = make(map[string]int)
	r.drivers = nil
}
