package trips

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Store is the persistence collaborator for trips. Assign and UpdateStatus are
// conditional writes: they only apply when the stored row still matches the
// expected state, which is what makes acceptance race-safe.
type Store interface {
	Create(ctx context.Context, t *models.Trip) error
	Get(ctx context.Context, id string) (*models.Trip, error)
	// Assign commits driverID to a trip that is still scheduled and unassigned,
	// moving it to accepted. Fails with ErrAlreadyAssigned if another driver got
	// there first, ErrDriverBusy if driverID already holds a non-terminal trip,
	// and ErrNotFound for unknown or terminal trips.
	Assign(ctx context.Context, id, driverID string) (*models.Trip, error)
	// UpdateStatus moves the trip from exactly `from` to `to`, stamping the
	// pickup time on entry to current and the dropoff time on completion.
	// Fails with ErrInvalidTransition when the stored status is not `from`.
	UpdateStatus(ctx context.Context, id string, from, to models.TripStatus) (*models.Trip, error)
	SetPaymentRef(ctx context.Context, id, ref string) error
}

// Memory keeps trips in a mutex-guarded map and hands out copies.
type Memory struct {
	mu    sync.Mutex
	trips map[string]*models.Trip
}

func NewMemory() *Memory {
	return &Memory{trips: make(map[string]*models.Trip)}
}

func (m *Memory) Create(_ context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return fmt.Errorf("trips: duplicate id %s", t.ID)
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) Assign(_ context.Context, id, driverID string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status.Terminal() {
		return nil, ErrNotFound
	}
	if t.Status != models.StatusScheduled || t.DriverID != "" {
		return nil, ErrAlreadyAssigned
	}
	for _, other := range m.trips {
		if other.ID != id && other.DriverID == driverID && !other.Status.Terminal() {
			return nil, ErrDriverBusy
		}
	}
	t.DriverID = driverID
	t.Status = models.StatusAccepted
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, from, to models.TripStatus) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != from || !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}
	now := time.Now()
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case models.StatusCurrent:
		t.PickupTime = &now
	case models.StatusCompleted:
		t.DropoffTime = &now
	case models.StatusCancelled:
		// driver id stays set only on accepted/current/completed trips
		t.DriverID = ""
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) SetPaymentRef(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return ErrNotFound
	}
	t.PaymentRef = ref
	return nil
}
