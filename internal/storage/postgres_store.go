package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-allocation/internal/events"
	"github.com/example/ride-allocation/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresStore keeps an audit trail of rides. It is written to from the
// event bus and never read back by the service.
type PostgresStore struct {
	db     execer
	closer func() error
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, closer: db.Close}, nil
}

func (p *PostgresStore) Name() string { return "postgres" }

func (p *PostgresStore) Handle(ctx context.Context, ev events.Event) error {
	if ev.Ride == nil {
		return nil
	}
	switch ev.Kind {
	case events.RideAllocated:
		return p.SaveRide(ctx, *ev.Ride)
	case events.RideCompleted:
		return p.UpdateRide(ctx, *ev.Ride)
	}
	return nil
}

const upsertRide = `INSERT INTO rides(id, rider_id, driver_id, pickup_lat, pickup_lon, status, created_at, completed_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
    rider_id = EXCLUDED.rider_id,
    driver_id = EXCLUDED.driver_id,
    pickup_lat = EXCLUDED.pickup_lat,
    pickup_lon = EXCLUDED.pickup_lon,
    status = EXCLUDED.status,
    created_at = EXCLUDED.created_at,
    completed_at = EXCLUDED.completed_at,
    updated_at = EXCLUDED.updated_at`

// SaveRide writes the full ride row. Ride ids restart after a reset, so an
// existing row with the same id is overwritten.
func (p *PostgresStore) SaveRide(ctx context.Context, r models.RideView) error {
	_, err := p.db.ExecContext(ctx, upsertRide,
		r.ID, r.RiderID, r.DriverID, r.Pickup.Lat, r.Pickup.Lon, string(r.Status), r.CreatedAt, completedAt(r), time.Now())
	return err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r models.RideView) error {
	_, err := p.db.ExecContext(ctx, `UPDATE rides SET status=$1, completed_at=$2, updated_at=$3 WHERE id=$4`, string(r.Status), completedAt(r), time.Now(), r.ID)
	return err
}

func completedAt(r models.RideView) any {
	if r.CompletedAt == nil {
		return nil
	}
	return *r.CompletedAt
}

func (p *PostgresStore) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
