package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/trips"
)

// fakeChannel records sends and can simulate unreachable drivers or an
// accepting driver via onOffer.
type fakeChannel struct {
	mu          sync.Mutex
	offers      map[string][]models.Offer // driverID -> offers received
	riderEvents []string
	unreachable map[string]bool
	onOffer     func(driverID string, offer models.Offer)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{offers: make(map[string][]models.Offer), unreachable: make(map[string]bool)}
}

func (c *fakeChannel) SendToDriver(driverID, event string, payload any) error {
	c.mu.Lock()
	blocked := c.unreachable[driverID]
	var cb func(string, models.Offer)
	var offer models.Offer
	isOffer := false
	if !blocked && event == EventTripOffer {
		if o, ok := payload.(models.Offer); ok {
			c.offers[driverID] = append(c.offers[driverID], o)
			offer, isOffer = o, true
			cb = c.onOffer
		}
	}
	c.mu.Unlock()
	if blocked {
		return realtime.ErrNoSession
	}
	if isOffer && cb != nil {
		go cb(driverID, offer)
	}
	return nil
}

func (c *fakeChannel) SendToRider(riderID, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.riderEvents = append(c.riderEvents, event)
	return nil
}

func (c *fakeChannel) offersFor(driverID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offers[driverID])
}

type env struct {
	dispatcher *Dispatcher
	presence   *presence.Memory
	store      *trips.Memory
	channel    *fakeChannel
	vouchers   *fare.MemoryVouchers
}

func newEnv(t *testing.T, offerTimeout time.Duration, maxCandidates int) *env {
	t.Helper()
	reg := presence.NewMemory()
	store := trips.NewMemory()
	channel := newFakeChannel()
	vouchers := fare.NewMemoryVouchers(
		models.Voucher{Code: "ONCE", Discount: 50, UsageLimit: 1, Status: models.VoucherActive},
	)
	catalog := fare.NewMemoryCatalog(
		models.Tariff{Category: "X", Country: "US", Currency: "usd", MinorUnit: 2,
			BaseFare: 2, PricePerDistance: 1, PricePerTime: 0.5, Commission: 1},
		models.Tariff{Category: "Y", Country: "US", Currency: "usd", MinorUnit: 2,
			BaseFare: 5, PricePerDistance: 2, PricePerTime: 1, Commission: 2},
	)
	engine := &fare.Engine{Catalog: catalog, Vouchers: vouchers}
	router := routing.Static{SpeedMps: 10}
	lifecycle := &trips.Service{Store: store, Presence: reg}
	d := &Dispatcher{
		Fares:          engine,
		Matcher:        &matcher.Service{Presence: reg, Router: router},
		Trips:          lifecycle,
		Presence:       reg,
		Channel:        channel,
		Router:         router,
		OfferTimeout:   offerTimeout,
		MaxCandidates:  maxCandidates,
		DefaultCountry: "US",
	}
	return &env{dispatcher: d, presence: reg, store: store, channel: channel, vouchers: vouchers}
}

func addDriver(t *testing.T, e *env, id, category string, lat, lon float64) {
	t.Helper()
	err := e.presence.Heartbeat(context.Background(), models.Heartbeat{
		DriverID: id, Category: category, Available: true, Loc: models.Coord{Lat: lat, Lon: lon},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func request(category string) models.TripRequest {
	return models.TripRequest{
		RiderID:       "r1",
		Pickup:        models.Coord{Lat: 0, Lon: 1},
		Destination:   models.Coord{Lat: 0, Lon: 2},
		Category:      category,
		PaymentMethod: "cash",
	}
}

func TestNearestDriverGetsOfferAndAccepts(t *testing.T) {
	e := newEnv(t, time.Second, 1)
	addDriver(t, e, "D", "X", 0, 0)
	addDriver(t, e, "E", "X", 10, 10)

	e.channel.onOffer = func(driverID string, offer models.Offer) {
		if _, err := e.dispatcher.Accept(context.Background(), offer.TripID, driverID); err != nil {
			t.Errorf("accept failed: %v", err)
		}
	}

	trip, err := e.dispatcher.Request(context.Background(), request("X"))
	if err != nil {
		t.Fatal(err)
	}
	if trip.DriverID != "D" {
		t.Fatalf("expected nearest driver D, got %s", trip.DriverID)
	}
	if trip.Status != models.StatusAccepted {
		t.Fatalf("expected accepted, got %s", trip.Status)
	}
	if e.channel.offersFor("E") != 0 {
		t.Fatalf("E should never have been offered")
	}
	d, _ := e.presence.Get(context.Background(), "D")
	if d.Available {
		t.Fatal("accepted driver must be unavailable")
	}
}

func TestNoDriversForCategory(t *testing.T) {
	e := newEnv(t, time.Second, 1)
	addDriver(t, e, "D", "X", 0, 0)

	_, err := e.dispatcher.Request(context.Background(), request("Y"))
	if !errors.Is(err, ErrNoAvailableDrivers) {
		t.Fatalf("expected ErrNoAvailableDrivers, got %v", err)
	}
}

func TestOfferTimeoutLeavesDriverAvailable(t *testing.T) {
	e := newEnv(t, 30*time.Millisecond, 1)
	addDriver(t, e, "D", "X", 0, 0)
	// driver never answers

	_, err := e.dispatcher.Request(context.Background(), request("X"))
	if !errors.Is(err, ErrNoAvailableDrivers) {
		t.Fatalf("expected ErrNoAvailableDrivers, got %v", err)
	}
	d, _ := e.presence.Get(context.Background(), "D")
	if !d.Available {
		t.Fatal("expired offer must not alter driver availability")
	}
	if e.channel.offersFor("D") != 1 {
		t.Fatalf("expected exactly one offer, got %d", e.channel.offersFor("D"))
	}
}

func TestRetryChainFallsThroughToNextCandidate(t *testing.T) {
	e := newEnv(t, 30*time.Millisecond, 2)
	addDriver(t, e, "first", "X", 0, 0)
	addDriver(t, e, "second", "X", 5, 5)

	e.channel.onOffer = func(driverID string, offer models.Offer) {
		if driverID == "second" {
			_, _ = e.dispatcher.Accept(context.Background(), offer.TripID, driverID)
		}
		// first stays silent and times out
	}

	trip, err := e.dispatcher.Request(context.Background(), request("X"))
	if err != nil {
		t.Fatal(err)
	}
	if trip.DriverID != "second" {
		t.Fatalf("expected fallback to second, got %s", trip.DriverID)
	}
	if e.channel.offersFor("first") != 1 {
		t.Fatal("first candidate should have been offered once")
	}
}

func TestUnreachableCandidateIsSkippedNotDeclined(t *testing.T) {
	e := newEnv(t, time.Second, 2)
	addDriver(t, e, "ghost", "X", 0, 0)
	addDriver(t, e, "live", "X", 5, 5)
	e.channel.unreachable["ghost"] = true

	e.channel.onOffer = func(driverID string, offer models.Offer) {
		_, _ = e.dispatcher.Accept(context.Background(), offer.TripID, driverID)
	}

	trip, err := e.dispatcher.Request(context.Background(), request("X"))
	if err != nil {
		t.Fatal(err)
	}
	if trip.DriverID != "live" {
		t.Fatalf("expected live driver, got %s", trip.DriverID)
	}
}

func TestDeclineMovesToNextCandidate(t *testing.T) {
	e := newEnv(t, time.Second, 2)
	addDriver(t, e, "first", "X", 0, 0)
	addDriver(t, e, "second", "X", 5, 5)

	e.channel.onOffer = func(driverID string, offer models.Offer) {
		if driverID == "first" {
			e.dispatcher.Decline(offer.TripID, driverID)
			return
		}
		_, _ = e.dispatcher.Accept(context.Background(), offer.TripID, driverID)
	}

	trip, err := e.dispatcher.Request(context.Background(), request("X"))
	if err != nil {
		t.Fatal(err)
	}
	if trip.DriverID != "second" {
		t.Fatalf("expected second after decline, got %s", trip.DriverID)
	}
}

func TestDuplicateAcceptIsIdempotent(t *testing.T) {
	e := newEnv(t, time.Second, 1)
	addDriver(t, e, "D", "X", 0, 0)

	var tripID string
	e.channel.onOffer = func(driverID string, offer models.Offer) {
		tripID = offer.TripID
		_, _ = e.dispatcher.Accept(context.Background(), offer.TripID, driverID)
	}
	trip, err := e.dispatcher.Request(context.Background(), request("X"))
	if err != nil {
		t.Fatal(err)
	}

	again, err := e.dispatcher.Accept(context.Background(), tripID, "D")
	if err != nil {
		t.Fatalf("duplicate accept must be a no-op, got %v", err)
	}
	if again.DriverID != trip.DriverID || again.Status != models.StatusAccepted {
		t.Fatalf("duplicate accept changed state: %+v", again)
	}
}

func TestConcurrentAcceptsOnlyOneWins(t *testing.T) {
	e := newEnv(t, 200*time.Millisecond, 1)
	addDriver(t, e, "D", "X", 0, 0)
	for i := 0; i < 8; i++ {
		addDriver(t, e, fmt.Sprintf("rival%d", i), "X", 20, 20)
	}

	winners := make(chan int, 1)
	badErrs := make(chan error, 9)
	e.channel.onOffer = func(driverID string, offer models.Offer) {
		var wg sync.WaitGroup
		wins := make(chan string, 9)
		for i := 0; i < 8; i++ {
			rival := fmt.Sprintf("rival%d", i)
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := e.dispatcher.Accept(context.Background(), offer.TripID, id); err == nil {
					wins <- id
				} else if !errors.Is(err, trips.ErrAlreadyAssigned) {
					badErrs <- err
				}
			}(rival)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.dispatcher.Accept(context.Background(), offer.TripID, driverID); err == nil {
				wins <- driverID
			}
		}()
		wg.Wait()
		close(wins)
		count := 0
		for range wins {
			count++
		}
		winners <- count
	}

	trip, err := e.dispatcher.Request(context.Background(), request("X"))
	if err != nil {
		t.Fatal(err)
	}
	if trip.Status != models.StatusAccepted || trip.DriverID == "" {
		t.Fatalf("unexpected trip: %+v", trip)
	}
	if n := <-winners; n != 1 {
		t.Fatalf("expected exactly one winning accept, got %d", n)
	}
	close(badErrs)
	for err := range badErrs {
		t.Errorf("unexpected accept error: %v", err)
	}
}

func TestVoucherConsumedOncePerBooking(t *testing.T) {
	e := newEnv(t, time.Second, 1)
	addDriver(t, e, "D", "X", 0, 0)
	addDriver(t, e, "E", "X", 1, 1)

	e.channel.onOffer = func(driverID string, offer models.Offer) {
		_, _ = e.dispatcher.Accept(context.Background(), offer.TripID, driverID)
	}

	req := request("X")
	req.VoucherCode = "ONCE"
	first, err := e.dispatcher.Request(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.VoucherCode != "ONCE" {
		t.Fatalf("expected voucher on first booking: %+v", first)
	}

	// second booking with the exhausted voucher fails upfront
	if _, err := e.dispatcher.Request(context.Background(), req); !errors.Is(err, fare.ErrInvalidVoucher) {
		t.Fatalf("expected ErrInvalidVoucher, got %v", err)
	}

	v, _ := e.vouchers.Get(context.Background(), "ONCE")
	if v.UsageLimit != 0 || v.Status != models.VoucherInactive {
		t.Fatalf("expected exhausted voucher, got %+v", v)
	}
}

func TestImplicitCategoryPicksCheapestWithDrivers(t *testing.T) {
	e := newEnv(t, time.Second, 1)
	// only the pricier category has a driver
	addDriver(t, e, "D", "Y", 0, 0)

	e.channel.onOffer = func(driverID string, offer models.Offer) {
		_, _ = e.dispatcher.Accept(context.Background(), offer.TripID, driverID)
	}

	trip, err := e.dispatcher.Request(context.Background(), request(""))
	if err != nil {
		t.Fatal(err)
	}
	if trip.Category != "Y" {
		t.Fatalf("expected fallback to category Y, got %s", trip.Category)
	}
}

func TestCancelAbortsPendingOffer(t *testing.T) {
	e := newEnv(t, 5*time.Second, 1)
	addDriver(t, e, "D", "X", 0, 0)

	e.channel.onOffer = func(driverID string, offer models.Offer) {
		if _, err := e.dispatcher.Cancel(context.Background(), offer.TripID); err != nil {
			t.Errorf("cancel failed: %v", err)
		}
	}

	start := time.Now()
	_, err := e.dispatcher.Request(context.Background(), request("X"))
	if !errors.Is(err, ErrRequestCancelled) {
		t.Fatalf("expected ErrRequestCancelled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancel should abort the offer without waiting out the timer")
	}
	d, _ := e.presence.Get(context.Background(), "D")
	if !d.Available {
		t.Fatal("cancelled pre-commit offer must leave driver available")
	}
}

func TestFareRoundedAtBooking(t *testing.T) {
	e := newEnv(t, time.Second, 1)
	addDriver(t, e, "D", "X", 0, 0)
	e.channel.onOffer = func(driverID string, offer models.Offer) {
		_, _ = e.dispatcher.Accept(context.Background(), offer.TripID, driverID)
	}
	trip, err := e.dispatcher.Request(context.Background(), request("X"))
	if err != nil {
		t.Fatal(err)
	}
	if trip.Fare != fare.RoundToMinorUnit(trip.Fare, 2) {
		t.Fatalf("persisted fare not rounded to minor unit: %f", trip.Fare)
	}
}
