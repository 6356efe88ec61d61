package storage

import (
	"fmt"
	"sync"

	"github.com/example/ride-allocation/internal/models"
)

// Ledger is the in-memory ride store. Rides are only ever inserted, never
// removed except by Reset; status changes happen on the ride itself.
type Ledger struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewLedger() *Ledger {
	return &Ledger{rides: make(map[string]*models.Ride)}
}

// Insert adds r unless a ride with the same id exists.
func (l *Ledger) Insert(r *models.Ride) error {
	if r == nil {
		return fmt.Errorf("%w: ride is required", models.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rides[r.ID]; ok {
		return fmt.Errorf("%w: ride %s already exists", models.ErrInvalidInput, r.ID)
	}
	l.rides[r.ID] = r
	return nil
}

func (l *Ledger) Get(id string) (*models.Ride, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.rides[id]
	if !ok {
		return nil, fmt.Errorf("%w: ride %q", models.ErrNotFound, id)
	}
	return r, nil
}

func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rides)
}

func (l *Ledger) CountByStatus(status models.RideStatus) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, r := range l.rides {
		if r.Status() == status {
			n++
		}
	}
	return n
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rides = make(map[string]*models.Ride)
}
