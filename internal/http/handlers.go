package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-allocation/internal/dispatch"
	"github.com/example/ride-allocation/internal/matcher"
	"github.com/example/ride-allocation/internal/models"
)

const defaultNearestCount = 5

type Server struct {
	Matcher     *matcher.Service
	WSReg       *dispatch.WSRegistry
	EnableReset bool
	logger      *slog.Logger
	mux         *mux.Router
}

func NewServer(m *matcher.Service, ws *dispatch.WSRegistry, logger *slog.Logger, enableReset bool) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if ws == nil {
		ws = dispatch.NewWSRegistry()
	}
	s := &Server{Matcher: m, WSReg: ws, EnableReset: enableReset, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods("POST")
	api.HandleFunc("/drivers/available", s.handleAvailableDrivers).Methods("GET")
	api.HandleFunc("/drivers/nearest", s.handleNearestDrivers).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}", s.handleGetDriver).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/location", s.handleDriverLocation).Methods("PUT")
	api.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides/{ride_id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/complete", s.handleCompleteRide).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	s.mux.HandleFunc("/internal/reset", s.handleReset).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type registerDriverRequest struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	d, err := models.NewDriver(req.ID, req.Name, models.Coord{Lat: req.Lat, Lon: req.Lon})
	if err == nil {
		err = s.Matcher.RegisterDriver(d)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	annotate(r, "driver_id", d.ID)
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := s.Matcher.Driver(mux.Vars(r)["driver_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var c models.Coord
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, badRequest(err))
		return
	}
	if err := s.Matcher.UpdateDriverLocation(mux.Vars(r)["driver_id"], c); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvailableDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"drivers": s.Matcher.ListAvailableDrivers()})
}

func (s *Server) handleNearestDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, badRequest(errors.New("lat must be a number")))
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, badRequest(errors.New("lon must be a number")))
		return
	}
	count := defaultNearestCount
	if v := q.Get("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil {
			writeError(w, badRequest(errors.New("count must be an integer")))
			return
		}
	}
	drivers, err := s.Matcher.NearestDrivers(models.Coord{Lat: lat, Lon: lon}, count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var rr models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
		writeError(w, badRequest(err))
		return
	}
	annotate(r, "rider_id", rr.RiderID)
	ride, err := s.Matcher.RequestRide(rr.RiderID, rr.Pickup)
	if err != nil {
		writeError(w, err)
		return
	}
	annotate(r, "ride_id", ride.ID, "driver_id", ride.Driver.ID)
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Matcher.Ride(mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Matcher.CompleteRide(mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	annotate(r, "driver_id", ride.Driver.ID)
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Matcher.Stats())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.EnableReset {
		http.NotFound(w, r)
		return
	}
	s.Matcher.Reset()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWS keeps a driver's session open until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	if _, err := s.Matcher.Driver(id); err != nil {
		writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "driver_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)
	s.logger.Info("driver session opened", "driver_id", id)
	defer func() {
		s.WSReg.Remove(id, conn)
		_ = conn.Close()
		s.logger.Info("driver session closed", "driver_id", id)
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
