package matcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/routing"
)

// Presence is the slice of the registry the matcher needs.
type Presence interface {
	AvailableByCategory(ctx context.Context, category string) ([]models.DriverPresence, error)
}

// Candidate is one ranked driver for a pickup point.
type Candidate struct {
	DriverID      string
	ETASeconds    float64
	StraightLineM float64
}

type Service struct {
	Presence Presence
	Router   routing.Router
	Cache    *routing.Cache // optional
	Logger   *slog.Logger
}

// RankDrivers returns the available drivers of category ordered by ascending
// ETA from their live location to pickup, ties broken by straight-line
// distance. ETA lookups run concurrently, one goroutine per driver; a failed
// lookup drops that driver only. A category with no available drivers yields
// an empty list, not an error.
func (s *Service) RankDrivers(ctx context.Context, category string, pickup models.Coord) ([]Candidate, error) {
	drivers, err := s.Presence.AvailableByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(drivers) == 0 {
		return nil, nil
	}

	type result struct {
		cand Candidate
		ok   bool
	}
	results := make([]result, len(drivers))
	var wg sync.WaitGroup
	for i, d := range drivers {
		wg.Add(1)
		go func(i int, d models.DriverPresence) {
			defer wg.Done()
			eta, err := s.etaSeconds(ctx, d.Loc, pickup)
			if err != nil {
				if s.Logger != nil {
					s.Logger.Debug("eta lookup failed, dropping candidate",
						"driver_id", d.ID, "error", err)
				}
				return
			}
			results[i] = result{cand: Candidate{
				DriverID:      d.ID,
				ETASeconds:    eta,
				StraightLineM: routing.Haversine(d.Loc, pickup),
			}, ok: true}
		}(i, d)
	}
	wg.Wait()

	ranked := make([]Candidate, 0, len(results))
	for _, r := range results {
		if r.ok {
			ranked = append(ranked, r.cand)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ETASeconds != ranked[j].ETASeconds {
			return ranked[i].ETASeconds < ranked[j].ETASeconds
		}
		return ranked[i].StraightLineM < ranked[j].StraightLineM
	})
	return ranked, nil
}

func (s *Service) etaSeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	if s.Cache != nil {
		if v, ok := s.Cache.Get(from, to); ok {
			return v, nil
		}
	}
	v, err := s.Router.ETASeconds(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if s.Cache != nil {
		s.Cache.Set(from, to, v)
	}
	return v, nil
}
