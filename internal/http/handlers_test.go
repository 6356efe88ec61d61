package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-allocation/internal/dispatch"
	"github.com/example/ride-allocation/internal/events"
	"github.com/example/ride-allocation/internal/fleet"
	"github.com/example/ride-allocation/internal/idgen"
	"github.com/example/ride-allocation/internal/logging"
	"github.com/example/ride-allocation/internal/matcher"
	"github.com/example/ride-allocation/internal/models"
	"github.com/example/ride-allocation/internal/storage"
)

func newTestServer(enableReset bool) *Server {
	m := &matcher.Service{Fleet: fleet.NewRegistry(nil), Rides: storage.NewLedger(), IDs: idgen.New("")}
	return NewServer(m, nil, nil, enableReset)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func registerDriver(t *testing.T, h http.Handler, id string, lat, lon float64) {
	t.Helper()
	rec := do(t, h, "POST", "/api/v1/drivers", registerDriverRequest{ID: id, Name: "Driver " + id, Lat: lat, Lon: lon})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", id, rec.Code, rec.Body.String())
	}
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(false)
	registerDriver(t, s, "D1", 40.80, -74.60)
	registerDriver(t, s, "D3", 40.60, -73.95)

	rec := do(t, s, "POST", "/api/v1/rides/request", models.RideRequest{RiderID: "R1", Pickup: models.Coord{Lat: 40.75, Lon: -73.80}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request ride: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	ride := decode[models.RideView](t, rec)
	if ride.ID != "RIDE-1" || ride.DriverID != "D3" || ride.Status != models.RideInProgress {
		t.Fatalf("unexpected ride %+v", ride)
	}

	avail := decode[struct{ Drivers []models.DriverView }](t, do(t, s, "GET", "/api/v1/drivers/available", nil))
	if len(avail.Drivers) != 1 || avail.Drivers[0].ID != "D1" {
		t.Fatalf("unexpected available drivers %+v", avail)
	}

	rec = do(t, s, "POST", "/api/v1/rides/RIDE-1/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	done := decode[models.RideView](t, rec)
	if done.Status != models.RideCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected completed ride %+v", done)
	}

	rec = do(t, s, "POST", "/api/v1/rides/RIDE-1/complete", nil)
	body := decode[errorBody](t, rec)
	if rec.Code != http.StatusConflict || body.Code != "invalid_state" || body.Status != models.RideCompleted || body.Operation != "complete" {
		t.Fatalf("second complete: %d %+v", rec.Code, body)
	}

	stats := decode[matcher.Stats](t, do(t, s, "GET", "/api/v1/stats", nil))
	if stats.Drivers != 2 || stats.AvailableDrivers != 2 || stats.RidesCompleted != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(false)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"no drivers", "POST", "/api/v1/rides/request", models.RideRequest{RiderID: "R1"}, http.StatusServiceUnavailable, "no_available_driver"},
		{"missing rider", "POST", "/api/v1/rides/request", models.RideRequest{}, http.StatusBadRequest, "invalid_input"},
		{"bad json", "POST", "/api/v1/rides/request", "{", http.StatusBadRequest, "invalid_input"},
		{"bad pickup", "POST", "/api/v1/rides/request", models.RideRequest{RiderID: "R1", Pickup: models.Coord{Lat: 100}}, http.StatusBadRequest, "invalid_input"},
		{"unknown ride", "GET", "/api/v1/rides/RIDE-9", nil, http.StatusNotFound, "not_found"},
		{"unknown ride complete", "POST", "/api/v1/rides/RIDE-9/complete", nil, http.StatusNotFound, "not_found"},
		{"unknown driver", "GET", "/api/v1/drivers/X", nil, http.StatusNotFound, "not_found"},
		{"unknown driver location", "PUT", "/api/v1/drivers/X/location", models.Coord{}, http.StatusNotFound, "not_found"},
		{"blank driver name", "POST", "/api/v1/drivers", registerDriverRequest{ID: "D1"}, http.StatusBadRequest, "invalid_input"},
		{"nearest zero count", "GET", "/api/v1/drivers/nearest?lat=0&lon=0&count=0", nil, http.StatusBadRequest, "invalid_input"},
		{"nearest bad lat", "GET", "/api/v1/drivers/nearest?lat=x&lon=0", nil, http.StatusBadRequest, "invalid_input"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := do(t, s, c.method, c.path, c.body)
			if rec.Code != c.status {
				t.Fatalf("expected %d, got %d: %s", c.status, rec.Code, rec.Body.String())
			}
			if got := decode[errorBody](t, rec).Code; got != c.code {
				t.Fatalf("expected code %s, got %s", c.code, got)
			}
		})
	}
	if s.Matcher.DriverCount() != 0 || s.Matcher.RideCount() != 0 {
		t.Fatal("failed requests mutated state")
	}
}

func TestNearestAndLocationUpdate(t *testing.T) {
	s := newTestServer(false)
	registerDriver(t, s, "D1", 40.55, -74.60)
	registerDriver(t, s, "D2", 41.35, -74.90)
	registerDriver(t, s, "D3", 42.15, -74.85)

	got := decode[struct{ Drivers []models.DriverView }](t, do(t, s, "GET", "/api/v1/drivers/nearest?lat=42.5&lon=-74.5&count=2", nil))
	if len(got.Drivers) != 2 || got.Drivers[0].ID != "D3" || got.Drivers[1].ID != "D2" {
		t.Fatalf("unexpected nearest %+v", got)
	}

	rec := do(t, s, "PUT", "/api/v1/drivers/D1/location", models.Coord{Lat: 42.5, Lon: -74.5})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update location: %d %s", rec.Code, rec.Body.String())
	}
	got = decode[struct{ Drivers []models.DriverView }](t, do(t, s, "GET", "/api/v1/drivers/nearest?lat=42.5&lon=-74.5&count=1", nil))
	if got.Drivers[0].ID != "D1" {
		t.Fatalf("expected moved D1 first, got %+v", got)
	}
}

func TestResetEndpoint(t *testing.T) {
	disabled := newTestServer(false)
	if rec := do(t, disabled, "POST", "/internal/reset", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("reset should be hidden, got %d", rec.Code)
	}

	s := newTestServer(true)
	registerDriver(t, s, "D1", 0, 0)
	do(t, s, "POST", "/api/v1/rides/request", models.RideRequest{RiderID: "R1"})
	if rec := do(t, s, "POST", "/internal/reset", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("reset: %d", rec.Code)
	}
	if s.Matcher.DriverCount() != 0 || s.Matcher.RideCount() != 0 {
		t.Fatal("reset did not clear state")
	}
}

func TestDriverSessionReceivesAssignment(t *testing.T) {
	ws := dispatch.NewWSRegistry()
	bus := events.NewBus(16, nil, ws)
	m := &matcher.Service{Fleet: fleet.NewRegistry(nil), Rides: storage.NewLedger(), IDs: idgen.New(""), Events: bus}
	s := NewServer(m, ws, nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	srv := httptest.NewServer(s)
	defer srv.Close()
	registerDriver(t, s, "D1", 0, 0)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/nobody", nil); err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown driver, got err=%v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/D1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for ws.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if rec := do(t, s, "POST", "/api/v1/rides/request", models.RideRequest{RiderID: "R1"}); rec.Code != http.StatusCreated {
		t.Fatalf("request ride: %d %s", rec.Code, rec.Body.String())
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var a dispatch.Assignment
	if err := conn.ReadJSON(&a); err != nil {
		t.Fatalf("read assignment: %v", err)
	}
	if a.Type != string(events.RideAllocated) || a.Ride.DriverID != "D1" || a.Ride.RiderID != "R1" {
		t.Fatalf("unexpected assignment %+v", a)
	}
}

func accessLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if m["msg"] == "http_request" {
			out = append(out, m)
		}
	}
	return out
}

func TestAccessLogCarriesRideFields(t *testing.T) {
	var buf bytes.Buffer
	m := &matcher.Service{Fleet: fleet.NewRegistry(nil), Rides: storage.NewLedger(), IDs: idgen.New("")}
	s := NewServer(m, nil, logging.NewLoggerTo(&buf, "info"), false)

	do(t, s, "POST", "/api/v1/rides/request", models.RideRequest{RiderID: "R0", Pickup: models.Coord{}})
	registerDriver(t, s, "D1", 0, 0)
	do(t, s, "POST", "/api/v1/rides/request", models.RideRequest{RiderID: "R1", Pickup: models.Coord{}})
	do(t, s, "POST", "/api/v1/rides/RIDE-1/complete", nil)

	lines := accessLines(t, &buf)
	if len(lines) != 4 {
		t.Fatalf("expected 4 access log lines, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["error_code"] != "no_available_driver" || lines[0]["rider_id"] != "R0" {
		t.Fatalf("failed request line missing fields: %v", lines[0])
	}
	if lines[1]["driver_id"] != "D1" {
		t.Fatalf("register line missing driver_id: %v", lines[1])
	}
	if lines[2]["ride_id"] != "RIDE-1" || lines[2]["driver_id"] != "D1" || lines[2]["rider_id"] != "R1" {
		t.Fatalf("allocation line missing fields: %v", lines[2])
	}
	if _, ok := lines[2]["error_code"]; ok {
		t.Fatalf("successful request should not carry error_code: %v", lines[2])
	}
	if lines[3]["ride_id"] != "RIDE-1" || lines[3]["driver_id"] != "D1" || lines[3]["route"] != "/api/v1/rides/{ride_id}/complete" {
		t.Fatalf("completion line missing fields: %v", lines[3])
	}
}
