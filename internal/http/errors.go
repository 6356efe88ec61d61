package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/ride-allocation/internal/models"
)

type errorBody struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Attempts  int               `json:"attempts,omitempty"`
	Status    models.RideStatus `json:"ride_status,omitempty"`
	Operation string            `json:"operation,omitempty"`
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Code: "internal"}
	status := http.StatusInternalServerError

	var exhausted *models.AllocationExhaustedError
	var invalidState *models.InvalidStateError
	switch {
	case errors.As(err, &exhausted):
		status, body.Code, body.Attempts = http.StatusConflict, "allocation_exhausted", exhausted.Attempts
	case errors.As(err, &invalidState):
		status, body.Code = http.StatusConflict, "invalid_state"
		body.Status, body.Operation = invalidState.Status, invalidState.Operation
	case errors.Is(err, models.ErrInvalidInput):
		status, body.Code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, models.ErrNotFound):
		status, body.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrNoAvailableDriver):
		status, body.Code = http.StatusServiceUnavailable, "no_available_driver"
	}
	if rec, ok := w.(errorRecorder); ok {
		rec.recordError(body.Code)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
