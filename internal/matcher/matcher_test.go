package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

type fakePresence struct{ drivers []models.DriverPresence }

func (f *fakePresence) AvailableByCategory(ctx context.Context, category string) ([]models.DriverPresence, error) {
	out := []models.DriverPresence{}
	for _, d := range f.drivers {
		if d.Category == category && d.Available {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeRouter returns a fixed ETA per driver origin latitude, and fails for
// origins listed in fail.
type fakeRouter struct {
	etas map[float64]float64 // origin lat -> seconds
	fail map[float64]bool
}

func (f *fakeRouter) ETASeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	if f.fail[from.Lat] {
		return 0, errors.New("routing down")
	}
	return f.etas[from.Lat], nil
}

func (f *fakeRouter) DistanceKm(ctx context.Context, from, to models.Coord) (float64, error) {
	return 1, nil
}

func TestRankDriversOrdersByETA(t *testing.T) {
	p := &fakePresence{drivers: []models.DriverPresence{
		{ID: "E", Loc: models.Coord{Lat: 10, Lon: 10}, Category: "X", Available: true},
		{ID: "D", Loc: models.Coord{Lat: 0, Lon: 0}, Category: "X", Available: true},
	}}
	s := &Service{Presence: p, Router: &fakeRouter{etas: map[float64]float64{0: 60, 10: 600}}}
	ranked, err := s.RankDrivers(context.Background(), "X", models.Coord{Lat: 0, Lon: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 2 || ranked[0].DriverID != "D" || ranked[1].DriverID != "E" {
		t.Fatalf("expected [D E], got %+v", ranked)
	}
}

func TestRankDriversTieBrokenByStraightLine(t *testing.T) {
	p := &fakePresence{drivers: []models.DriverPresence{
		{ID: "far", Loc: models.Coord{Lat: 2, Lon: 0}, Category: "X", Available: true},
		{ID: "near", Loc: models.Coord{Lat: 1, Lon: 0}, Category: "X", Available: true},
	}}
	// identical ETAs for both
	s := &Service{Presence: p, Router: &fakeRouter{etas: map[float64]float64{1: 120, 2: 120}}}
	ranked, err := s.RankDrivers(context.Background(), "X", models.Coord{Lat: 0, Lon: 0})
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].DriverID != "near" {
		t.Fatalf("expected straight-line tie-break to pick near, got %+v", ranked)
	}
}

func TestRankDriversExcludesFailedLookups(t *testing.T) {
	p := &fakePresence{drivers: []models.DriverPresence{
		{ID: "ok", Loc: models.Coord{Lat: 1, Lon: 0}, Category: "X", Available: true},
		{ID: "broken", Loc: models.Coord{Lat: 2, Lon: 0}, Category: "X", Available: true},
	}}
	s := &Service{
		Presence: p,
		Router:   &fakeRouter{etas: map[float64]float64{1: 60}, fail: map[float64]bool{2: true}},
	}
	ranked, err := s.RankDrivers(context.Background(), "X", models.Coord{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 1 || ranked[0].DriverID != "ok" {
		t.Fatalf("expected only ok, got %+v", ranked)
	}
}

func TestRankDriversEmptyCategory(t *testing.T) {
	s := &Service{Presence: &fakePresence{}, Router: &fakeRouter{}}
	ranked, err := s.RankDrivers(context.Background(), "Y", models.Coord{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 0 {
		t.Fatalf("expected empty list, got %+v", ranked)
	}
}
