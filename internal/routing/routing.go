package routing

import (
	"context"
	"errors"
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrUnavailable wraps any downstream routing failure so callers can degrade
// per-candidate instead of aborting a whole match.
var ErrUnavailable = errors.New("routing: service unavailable")

// Router is the external routing collaborator. Implementations apply their own
// per-call timeout.
type Router interface {
	ETASeconds(ctx context.Context, from, to models.Coord) (float64, error)
	DistanceKm(ctx context.Context, from, to models.Coord) (float64, error)
}

// Haversine is the straight-line distance in meters, used for ranking
// tie-breaks and as a fallback when the router is down.
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

// Static estimates travel time as straight-line distance over a fixed speed.
// It stands in for the real router in tests and when no OSRM endpoint is set.
type Static struct {
	SpeedMps float64
}

func (s Static) ETASeconds(_ context.Context, from, to models.Coord) (float64, error) {
	speed := s.SpeedMps
	if speed <= 0 {
		speed = 8.0 // ~28.8 km/h city default
	}
	return Haversine(from, to) / speed, nil
}

func (s Static) DistanceKm(_ context.Context, from, to models.Coord) (float64, error) {
	return Haversine(from, to) / 1000, nil
}
