package trips

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
)

// Presence is the slice of the registry the lifecycle needs to reserve and
// release drivers.
type Presence interface {
	SetAvailable(ctx context.Context, driverID string) error
	SetUnavailable(ctx context.Context, driverID string) error
}

// Payments releases or finalizes a hold placed when the trip was booked.
type Payments interface {
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

// Service drives a trip through its lifecycle. Transition legality lives in
// the store's conditional writes; this layer adds the caller guards and the
// side effects: driver release on every terminal transition, and payment
// capture/cancel for card holds.
type Service struct {
	Store    Store
	Presence Presence
	Payments Payments // optional
	Logger   *slog.Logger
}

// Start moves an accepted trip to current when the assigned driver marks
// pickup. A mismatched caller gets ErrNotAssignedDriver.
func (s *Service) Start(ctx context.Context, tripID, driverID string) (*models.Trip, error) {
	t, err := s.Store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID != driverID {
		return nil, ErrNotAssignedDriver
	}
	t, err = s.Store.UpdateStatus(ctx, tripID, models.StatusAccepted, models.StatusCurrent)
	if err != nil {
		return nil, err
	}
	// Already unavailable since acceptance; re-asserting keeps the flag right
	// even if the registry was rebuilt from a heartbeat in between.
	if err := s.Presence.SetUnavailable(ctx, driverID); err != nil {
		s.log().Warn("presence update failed on start", "driver_id", driverID, "error", err)
	}
	return t, nil
}

// Complete finishes a current trip, releases the driver back to the registry
// and captures any payment hold.
func (s *Service) Complete(ctx context.Context, tripID, driverID string) (*models.Trip, error) {
	t, err := s.Store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID != driverID {
		return nil, ErrNotAssignedDriver
	}
	t, err = s.Store.UpdateStatus(ctx, tripID, models.StatusCurrent, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	s.releaseDriver(ctx, t.DriverID)
	if s.Payments != nil && t.PaymentRef != "" {
		if err := s.Payments.Capture(ctx, t.PaymentRef); err != nil {
			s.log().Error("payment capture failed", "trip_id", tripID, "error", err)
		}
	}
	return t, nil
}

// Cancel moves any non-terminal trip to cancelled. If a driver was assigned
// they are released immediately; a pre-assignment cancel touches nobody's
// availability.
func (s *Service) Cancel(ctx context.Context, tripID string) (*models.Trip, error) {
	t, err := s.Store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	assigned := t.DriverID // cleared by the cancelled transition
	t, err = s.Store.UpdateStatus(ctx, tripID, t.Status, models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	if assigned != "" {
		s.releaseDriver(ctx, assigned)
	}
	if s.Payments != nil && t.PaymentRef != "" {
		if err := s.Payments.Cancel(ctx, t.PaymentRef); err != nil {
			s.log().Error("payment release failed", "trip_id", tripID, "error", err)
		}
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, tripID string) (*models.Trip, error) {
	return s.Store.Get(ctx, tripID)
}

func (s *Service) releaseDriver(ctx context.Context, driverID string) {
	if err := s.Presence.SetAvailable(ctx, driverID); err != nil {
		s.log().Warn("driver release failed", "driver_id", driverID, "error", err)
	}
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
