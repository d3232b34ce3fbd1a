// Package trips owns the Trip entity and its legal state transitions,
// independent of how dispatch arrived at an assignment.
package trips

import (
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotFound          = errors.New("trips: trip not found")
	ErrInvalidTransition = errors.New("trips: invalid transition")
	ErrNotAssignedDriver = errors.New("trips: caller is not the assigned driver")
	// ErrAlreadyAssigned means the trip lost a race: another driver committed first.
	ErrAlreadyAssigned = errors.New("trips: trip already assigned")
	// ErrDriverBusy means the driver already holds a non-terminal trip.
	ErrDriverBusy = errors.New("trips: driver already on an active trip")
)

// allowedTransitions encodes the lifecycle diagram. Terminal states have no
// outgoing edges.
var allowedTransitions = map[models.TripStatus][]models.TripStatus{
	models.StatusScheduled: {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:  {models.StatusCurrent, models.StatusCancelled},
	models.StatusCurrent:   {models.StatusCompleted, models.StatusCancelled},
}

func CanTransition(from, to models.TripStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
