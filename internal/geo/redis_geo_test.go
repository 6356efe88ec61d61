package geo

import (
	"context"
	"path"
	"slices"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-allocation/internal/events"
	"github.com/example/ride-allocation/internal/models"
)

type fakeRedis struct {
	geo     map[string]*redis.GeoLocation
	hashes  map[string]map[string]any
	deleted []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{geo: map[string]*redis.GeoLocation{}, hashes: map[string]map[string]any{}}
}

func (f *fakeRedis) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geo[key+"/"+loc.Name] = loc
	return nil
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values map[string]any) error {
	h := f.hashes[key]
	if h == nil {
		h = map[string]any{}
		f.hashes[key] = h
	}
	for k, v := range values {
		h[k] = v
	}
	return nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	for _, k := range keys {
		delete(f.hashes, k)
	}
	return nil
}

func (f *fakeRedis) DelMatching(ctx context.Context, pattern string) error {
	for k := range f.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			f.deleted = append(f.deleted, k)
			delete(f.hashes, k)
		}
	}
	return nil
}

func TestProjectDriverAndRideLifecycle(t *testing.T) {
	f := newFakeRedis()
	ctx := context.Background()
	d, _ := models.NewDriver("D1", "John", models.Coord{Lat: 40.75, Lon: -74})

	if err := Project(ctx, f, "drivers_geo", events.ForDriver(events.DriverRegistered, d)); err != nil {
		t.Fatal(err)
	}
	if loc := f.geo["drivers_geo/D1"]; loc == nil || loc.Latitude != 40.75 || loc.Longitude != -74 {
		t.Fatalf("unexpected geo entry %+v", loc)
	}

	d.MarkUnavailable()
	ride, _ := models.NewRide("RIDE-1", "R1", d, models.Coord{Lat: 40.7, Lon: -74}, time.Now())
	if err := Project(ctx, f, "drivers_geo", events.ForRide(events.RideAllocated, ride)); err != nil {
		t.Fatal(err)
	}
	if f.hashes[DriverMetaKey("D1")]["available"] != "false" || f.hashes[DriverMetaKey("D1")]["current_ride"] != "RIDE-1" {
		t.Fatalf("driver meta not updated: %v", f.hashes[DriverMetaKey("D1")])
	}

	_ = ride.Complete(time.Now())
	if err := Project(ctx, f, "drivers_geo", events.ForRide(events.RideCompleted, ride)); err != nil {
		t.Fatal(err)
	}
	rh := f.hashes[RideKey("RIDE-1")]
	if rh["status"] != string(models.RideCompleted) || rh["completed_at"] == nil {
		t.Fatalf("ride hash not completed: %v", rh)
	}
	if f.hashes[DriverMetaKey("D1")]["available"] != "true" {
		t.Fatal("driver should be available after completion")
	}

	if err := Project(ctx, f, "drivers_geo", events.Event{Kind: events.FleetReset}); err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(f.deleted, "drivers_geo") {
		t.Fatalf("expected geo key deleted, got %v", f.deleted)
	}
	if len(f.hashes) != 0 {
		t.Fatalf("reset should clear driver and ride hashes, left %v", f.hashes)
	}
}

func TestProjectReusedRideIDAfterReset(t *testing.T) {
	f := newFakeRedis()
	ctx := context.Background()
	d, _ := models.NewDriver("D1", "John", models.Coord{})

	d.MarkUnavailable()
	old, _ := models.NewRide("RIDE-1", "R1", d, models.Coord{}, time.Now())
	_ = Project(ctx, f, "drivers_geo", events.ForRide(events.RideAllocated, old))
	_ = old.Complete(time.Now())
	_ = Project(ctx, f, "drivers_geo", events.ForRide(events.RideCompleted, old))
	if err := Project(ctx, f, "drivers_geo", events.Event{Kind: events.FleetReset}); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.hashes[RideKey("RIDE-1")]; ok {
		t.Fatal("ride hash survived reset")
	}
	if _, ok := f.hashes[DriverMetaKey("D1")]; ok {
		t.Fatal("driver meta survived reset")
	}

	d2, _ := models.NewDriver("D2", "Ann", models.Coord{})
	d2.MarkUnavailable()
	next, _ := models.NewRide("RIDE-1", "R2", d2, models.Coord{}, time.Now())
	if err := Project(ctx, f, "drivers_geo", events.ForRide(events.RideAllocated, next)); err != nil {
		t.Fatal(err)
	}
	rh := f.hashes[RideKey("RIDE-1")]
	if rh["status"] != string(models.RideInProgress) || rh["rider_id"] != "R2" {
		t.Fatalf("unexpected ride hash %v", rh)
	}
	if _, stale := rh["completed_at"]; stale {
		t.Fatalf("in-progress ride carries completed_at: %v", rh)
	}
}

func TestProjectAllocatedReplacesStaleRideHash(t *testing.T) {
	f := newFakeRedis()
	ctx := context.Background()
	f.hashes[RideKey("RIDE-1")] = map[string]any{"status": "completed", "completed_at": "yesterday"}

	d, _ := models.NewDriver("D1", "John", models.Coord{})
	d.MarkUnavailable()
	ride, _ := models.NewRide("RIDE-1", "R1", d, models.Coord{}, time.Now())
	if err := Project(ctx, f, "drivers_geo", events.ForRide(events.RideAllocated, ride)); err != nil {
		t.Fatal(err)
	}
	if _, stale := f.hashes[RideKey("RIDE-1")]["completed_at"]; stale {
		t.Fatalf("stale completed_at kept: %v", f.hashes[RideKey("RIDE-1")])
	}
}
