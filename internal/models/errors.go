package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrNoAvailableDriver   = errors.New("no available driver")
	ErrAllocationExhausted = errors.New("driver allocation exhausted")
	ErrInvalidState        = errors.New("invalid ride state")
)

// AllocationExhaustedError is returned when every claim attempt lost its race.
type AllocationExhaustedError struct {
	Attempts int
}

func (e *AllocationExhaustedError) Error() string {
	return fmt.Sprintf("driver allocation failed after %d attempts", e.Attempts)
}

func (e *AllocationExhaustedError) Is(target error) bool { return target == ErrAllocationExhausted }

type InvalidStateError struct {
	RideID    string
	Status    RideStatus
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s ride %s in status %s", e.Operation, e.RideID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
