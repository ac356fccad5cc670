package ride

import (
	"errors"
	"strings"
)

// Status is a ride status as stored in the `rides` table.
type Status string

const (
	StatusRequested          Status = "REQUESTED"
	StatusDriverAssigned     Status = "DRIVER_ASSIGNED"
	StatusEnRoute            Status = "EN_ROUTE"
	StatusArrived            Status = "ARRIVED"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
	StatusNoDriversAvailable Status = "NO_DRIVERS_AVAILABLE"
)

var ErrInvalidStatus = errors.New("invalid ride status")

// ParseStatus normalizes (uppercases+trims) and validates a status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether status is one of the allowed ride status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusRequested, StatusDriverAssigned, StatusEnRoute, StatusArrived,
		StatusInProgress, StatusCompleted, StatusCancelled, StatusNoDriversAvailable:
		return true
	default:
		return false
	}
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}

// CanTransitionTo specifies if the status can transition to the next status.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusRequested:
		return next == StatusDriverAssigned || next == StatusNoDriversAvailable || next == StatusCancelled

	case StatusDriverAssigned:
		return next == StatusEnRoute || next == StatusCancelled

	case StatusEnRoute:
		return next == StatusArrived || next == StatusCancelled

	case StatusArrived:
		return next == StatusInProgress || next == StatusCancelled

	case StatusInProgress:
		return next == StatusCompleted || next == StatusCancelled

	case StatusCompleted, StatusCancelled, StatusNoDriversAvailable:
		return false

	default:
		return false
	}
}

// Terminal indicates if the status is in a terminal state.
func (status Status) Terminal() bool {
	return status == StatusCompleted || status == StatusCancelled || status == StatusNoDriversAvailable
}

// Active reports whether a ride in this status counts toward regional demand.
func (status Status) Active() bool {
	switch status {
	case StatusRequested, StatusDriverAssigned, StatusEnRoute, StatusArrived, StatusInProgress:
		return true
	default:
		return false
	}
}
