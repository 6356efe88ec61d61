package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-allocation/internal/events"
	"github.com/example/ride-allocation/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// Assignment is what a driver's app receives when it gets a ride.
type Assignment struct {
	Type string          `json:"type"`
	Ride models.RideView `json:"ride"`
}

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds driver sessions and pushes ride assignments to them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers conn for driverID, closing any previous session.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	prev := r.sessions[driverID]
	r.sessions[driverID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
}

// Remove drops the session only if it still belongs to conn.
func (r *WSRegistry) Remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok && s.conn == conn {
		delete(r.sessions, driverID)
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) Notify(driverID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(v)
}

func (r *WSRegistry) Name() string { return "websocket" }

// Handle pushes allocations and completions to the assigned driver. Drivers
// without a live session are skipped.
func (r *WSRegistry) Handle(ctx context.Context, ev events.Event) error {
	if ev.Ride == nil || (ev.Kind != events.RideAllocated && ev.Kind != events.RideCompleted) {
		return nil
	}
	err := r.Notify(ev.Ride.DriverID, Assignment{Type: string(ev.Kind), Ride: *ev.Ride})
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	return err
}
