package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrNotFound = errors.New("presence: driver not found")

// Registry tracks which drivers are reachable and whether they may be offered
// a trip. Connection handles live in the realtime hub, not here, so the
// registry can be backed by a shared store without dragging sockets along.
type Registry interface {
	Heartbeat(ctx context.Context, hb models.Heartbeat) error
	UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error
	SetAvailable(ctx context.Context, driverID string) error
	SetUnavailable(ctx context.Context, driverID string) error
	Remove(ctx context.Context, driverID string) error
	Get(ctx context.Context, driverID string) (models.DriverPresence, error)
	// AvailableByCategory never returns a driver whose available flag is false.
	AvailableByCategory(ctx context.Context, category string) ([]models.DriverPresence, error)
}

// Memory is the single-process registry: a map guarded by a RWMutex.
type Memory struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverPresence
}

func NewMemory() *Memory {
	return &Memory{drivers: make(map[string]models.DriverPresence)}
}

func (m *Memory) Heartbeat(_ context.Context, hb models.Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[hb.DriverID] = models.DriverPresence{
		ID:        hb.DriverID,
		Loc:       hb.Loc,
		Available: hb.Available,
		Category:  hb.Category,
		Updated:   time.Now(),
	}
	return nil
}

func (m *Memory) UpdateLocation(_ context.Context, driverID string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Loc = loc
	d.Updated = time.Now()
	m.drivers[driverID] = d
	return nil
}

func (m *Memory) SetAvailable(ctx context.Context, driverID string) error {
	return m.setAvailability(driverID, true)
}

func (m *Memory) SetUnavailable(ctx context.Context, driverID string) error {
	return m.setAvailability(driverID, false)
}

func (m *Memory) setAvailability(driverID string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	d.Available = available
	d.Updated = time.Now()
	m.drivers[driverID] = d
	return nil
}

func (m *Memory) Remove(_ context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, driverID)
	return nil
}

func (m *Memory) Get(_ context.Context, driverID string) (models.DriverPresence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return models.DriverPresence{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) AvailableByCategory(_ context.Context, category string) ([]models.DriverPresence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DriverPresence, 0, len(m.drivers))
	for _, d := range m.drivers {
		if !d.Available || d.Category != category {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
