package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-allocation/internal/events"
)

// RedisUpdater is the subset of redis commands the projection needs.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]any) error
	Del(ctx context.Context, keys ...string) error
	// DelMatching removes every key matching a glob pattern.
	DelMatching(ctx context.Context, pattern string) error
}

// RedisGeo mirrors driver positions and ride state into Redis for readers
// outside the service (dashboards, other regions). It is never read back.
type RedisGeo struct {
	client *redis.Client
	Key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, Key: key}
}

func (r *RedisGeo) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.client.GeoAdd(ctx, key, loc).Err()
}

func (r *RedisGeo) HSet(ctx context.Context, key string, values map[string]any) error {
	return r.client.HSet(ctx, key, values).Err()
}

func (r *RedisGeo) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisGeo) DelMatching(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Unlink(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.client.Unlink(ctx, batch...).Err()
	}
	return nil
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

// Project applies one lifecycle event to Redis. geoKey holds the GEO set of
// driver positions.
func Project(ctx context.Context, u RedisUpdater, geoKey string, ev events.Event) error {
	switch ev.Kind {
	case events.DriverRegistered, events.DriverLocationUpdated:
		d := ev.Driver
		if d == nil {
			return nil
		}
		if err := u.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}); err != nil {
			return err
		}
		return u.HSet(ctx, DriverMetaKey(d.ID), map[string]any{
			"name":      d.Name,
			"available": strconv.FormatBool(d.Available),
			"updated":   ev.At.Format(time.RFC3339),
		})
	case events.RideAllocated, events.RideCompleted:
		r := ev.Ride
		if r == nil {
			return nil
		}
		allocated := ev.Kind == events.RideAllocated
		current := ""
		if allocated {
			current = r.ID
		}
		if err := u.HSet(ctx, DriverMetaKey(r.DriverID), map[string]any{
			"available":    strconv.FormatBool(!allocated),
			"current_ride": current,
			"updated":      ev.At.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		if allocated {
			// ride ids restart after a reset; drop whatever the old ride left
			if err := u.Del(ctx, RideKey(r.ID)); err != nil {
				return err
			}
		}
		fields := map[string]any{
			"rider_id":   r.RiderID,
			"driver_id":  r.DriverID,
			"status":     string(r.Status),
			"pickup_lat": strconv.FormatFloat(r.Pickup.Lat, 'f', -1, 64),
			"pickup_lon": strconv.FormatFloat(r.Pickup.Lon, 'f', -1, 64),
			"created_at": r.CreatedAt.Format(time.RFC3339Nano),
		}
		if r.CompletedAt != nil {
			fields["completed_at"] = r.CompletedAt.Format(time.RFC3339Nano)
		}
		return u.HSet(ctx, RideKey(r.ID), fields)
	case events.FleetReset:
		if err := u.Del(ctx, geoKey); err != nil {
			return err
		}
		if err := u.DelMatching(ctx, DriverMetaKey("*")); err != nil {
			return err
		}
		return u.DelMatching(ctx, RideKey("*"))
	}
	return nil
}

func DriverMetaKey(id string) string { return "driver:meta:" + id }

func RideKey(id string) string { return "ride:" + id }
