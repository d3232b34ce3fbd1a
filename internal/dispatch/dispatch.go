// Package dispatch orchestrates request -> quote -> candidate selection ->
// offer -> accept-or-timeout -> commit. Every pending offer is correlated by
// trip ID against its own waiter, never a shared event stream, so concurrent
// requests cannot misattribute an acceptance.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/trips"
)

var (
	ErrNoAvailableDrivers = errors.New("dispatch: no available drivers")
	// ErrRequestCancelled means the rider withdrew the request while the offer
	// chain was still running.
	ErrRequestCancelled = errors.New("dispatch: request cancelled")
)

// Realtime channel event names.
const (
	EventTripOffer    = "trip:offer"
	EventTripAccepted = "trip:accepted"
	EventTripStatus   = "trip:status"
)

// Channel is the realtime collaborator. Sends are best-effort; a failed send
// to a candidate marks them unreachable, not declined.
type Channel interface {
	SendToDriver(driverID, event string, payload any) error
	SendToRider(riderID, event string, payload any) error
}

// Presence is the slice of the registry offer commitment needs.
type Presence interface {
	SetUnavailable(ctx context.Context, driverID string) error
}

// RiderDirectory supplies the rating shown to drivers in an offer.
type RiderDirectory interface {
	Rating(ctx context.Context, riderID string) (float64, error)
}

// PaymentHolds places a hold for card bookings at commit time.
type PaymentHolds interface {
	Hold(ctx context.Context, amountMinor int64, currency, customerID string) (string, error)
}

type Dispatcher struct {
	Fares    *fare.Engine
	Matcher  *matcher.Service
	Trips    *trips.Service
	Presence Presence
	Channel  Channel
	Router   routing.Router
	Riders   RiderDirectory // optional
	Payments PaymentHolds   // optional
	Logger   *slog.Logger

	// OfferTimeout bounds each candidate's acceptance window. MaxCandidates is
	// the explicit retry-chain length; 1 reproduces single-offer behaviour.
	OfferTimeout   time.Duration
	MaxCandidates  int
	DefaultCountry string

	mu      sync.Mutex
	pending map[string]*pendingOffer
}

type decision int

const (
	decisionDeclined decision = iota
	decisionAccepted
	decisionAborted
)

type pendingOffer struct {
	driverID string
	ch       chan decision
}

func (d *Dispatcher) offerTimeout() time.Duration {
	if d.OfferTimeout > 0 {
		return d.OfferTimeout
	}
	return 30 * time.Second
}

// Request books a trip end to end: price the categories, rank candidates,
// persist the trip, then walk the ranked offer chain until a driver commits
// or the chain is exhausted.
func (d *Dispatcher) Request(ctx context.Context, req models.TripRequest) (*models.Trip, error) {
	start := time.Now()
	defer func() {
		observability.DispatchLatency.Observe(time.Since(start).Seconds())
	}()

	country := req.Country
	if country == "" {
		country = d.DefaultCountry
	}

	distanceKm, err := d.Router.DistanceKm(ctx, req.Pickup, req.Destination)
	if err != nil {
		// Straight-line fallback keeps pricing alive when routing is down.
		d.log().Warn("route distance unavailable, using straight line", "error", err)
		distanceKm = routing.Haversine(req.Pickup, req.Destination) / 1000
	}

	quotes, err := d.quoteCategories(ctx, req, country, distanceKm)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		observability.NoDriverTotal.Inc()
		return nil, ErrNoAvailableDrivers
	}

	// Explicit category first; otherwise cheapest quote whose category has a
	// reachable candidate.
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Amount < quotes[j].Amount })
	var chosen fare.Quote
	var cands []matcher.Candidate
	for _, q := range quotes {
		c, err := d.Matcher.RankDrivers(ctx, q.Category, req.Pickup)
		if err != nil {
			return nil, err
		}
		if len(c) > 0 {
			chosen, cands = q, c
			break
		}
	}
	if len(cands) == 0 {
		observability.NoDriverTotal.Inc()
		return nil, ErrNoAvailableDrivers
	}

	// A quote becomes a booking here: redeem the voucher atomically and round
	// the fare to the currency minor unit exactly once.
	if req.VoucherCode != "" {
		if err := d.Fares.Redeem(ctx, req.VoucherCode); err != nil {
			return nil, err
		}
		observability.VoucherRedemptions.Inc()
	}

	now := time.Now()
	trip := &models.Trip{
		ID:            uuid.NewString(),
		RiderID:       req.RiderID,
		Pickup:        req.Pickup,
		Destination:   req.Destination,
		PickupAddr:    req.PickupAddr,
		DestAddr:      req.DestAddr,
		Category:      chosen.Category,
		Country:       country,
		PaymentMethod: req.PaymentMethod,
		Fare:          fare.RoundToMinorUnit(chosen.Amount, chosen.MinorUnit),
		Currency:      chosen.Currency,
		DistanceKm:    distanceKm,
		VoucherCode:   req.VoucherCode,
		Status:        models.StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.Trips.Store.Create(ctx, trip); err != nil {
		return nil, err
	}

	return d.runOfferChain(ctx, trip, cands)
}

func (d *Dispatcher) quoteCategories(ctx context.Context, req models.TripRequest, country string, distanceKm float64) ([]fare.Quote, error) {
	var categories []string
	if req.Category != "" {
		categories = []string{req.Category}
	} else {
		tariffs, err := d.Fares.Catalog.Tariffs(ctx, country)
		if err != nil {
			return nil, err
		}
		for _, t := range tariffs {
			categories = append(categories, t.Category)
		}
	}

	results := make([]fare.Quote, len(categories))
	errs := make([]error, len(categories))
	var wg sync.WaitGroup
	for i, cat := range categories {
		wg.Add(1)
		go func(i int, cat string) {
			defer wg.Done()
			results[i], errs[i] = d.Fares.Quote(ctx, cat, country, distanceKm, req.VoucherCode)
		}(i, cat)
	}
	wg.Wait()

	quotes := make([]fare.Quote, 0, len(results))
	for i, q := range results {
		if errs[i] != nil {
			if errors.Is(errs[i], fare.ErrInvalidVoucher) {
				return nil, errs[i]
			}
			d.log().Warn("quote failed", "category", categories[i], "error", errs[i])
			continue
		}
		if q.Amount <= 0 {
			// category not offered in this country
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (d *Dispatcher) runOfferChain(ctx context.Context, trip *models.Trip, cands []matcher.Candidate) (*models.Trip, error) {
	max := d.MaxCandidates
	if max <= 0 {
		max = 1
	}
	if max > len(cands) {
		max = len(cands)
	}

	rating := 5.0
	if d.Riders != nil {
		if r, err := d.Riders.Rating(ctx, trip.RiderID); err == nil {
			rating = r
		}
	}
	offer := models.Offer{
		TripID:      trip.ID,
		Pickup:      trip.Pickup,
		Destination: trip.Destination,
		PickupAddr:  trip.PickupAddr,
		DestAddr:    trip.DestAddr,
		Fare:        trip.Fare,
		Currency:    trip.Currency,
		DistanceKm:  trip.DistanceKm,
		RiderRating: rating,
		ExpiresIn:   int(d.offerTimeout().Seconds()),
	}

	for i := 0; i < max; i++ {
		// An accept or cancel may have landed between rounds.
		cur, err := d.Trips.Get(ctx, trip.ID)
		if err != nil {
			return nil, err
		}
		switch cur.Status {
		case models.StatusAccepted:
			return cur, nil
		case models.StatusCancelled:
			return nil, ErrRequestCancelled
		}

		cand := cands[i]
		waiter := d.register(trip.ID, cand.DriverID)
		if err := d.Channel.SendToDriver(cand.DriverID, EventTripOffer, offer); err != nil {
			// Unreachable candidate: skip, never treat as a decline.
			d.unregister(trip.ID, waiter)
			d.log().Info("candidate unreachable", "trip_id", trip.ID, "driver_id", cand.DriverID)
			continue
		}
		observability.OffersSent.Inc()

		timer := time.NewTimer(d.offerTimeout())
		select {
		case dec := <-waiter.ch:
			timer.Stop()
			d.unregister(trip.ID, waiter)
			switch dec {
			case decisionAccepted:
				observability.OffersAccepted.Inc()
				return d.Trips.Get(ctx, trip.ID)
			case decisionAborted:
				return nil, ErrRequestCancelled
			default:
				observability.OffersExpired.Inc()
			}
		case <-timer.C:
			// Expiry after an in-flight accept is harmless: the next round's
			// status check or the CAS in Accept settles it.
			d.unregister(trip.ID, waiter)
			observability.OffersExpired.Inc()
			d.log().Info("offer timed out", "trip_id", trip.ID, "driver_id", cand.DriverID)
		case <-ctx.Done():
			timer.Stop()
			d.unregister(trip.ID, waiter)
			d.expire(trip.ID)
			return nil, ctx.Err()
		}
	}

	// Chain exhausted. Cancel the scheduled trip; if a late accept won the CAS
	// first, honor it.
	if t, ok := d.expire(trip.ID); ok {
		return t, nil
	}
	observability.NoDriverTotal.Inc()
	return nil, ErrNoAvailableDrivers
}

// expire cancels a still-scheduled trip. Returns the trip and true when a
// late acceptance beat the cancellation.
func (d *Dispatcher) expire(tripID string) (*models.Trip, bool) {
	ctx := context.Background()
	if _, err := d.Trips.Store.UpdateStatus(ctx, tripID, models.StatusScheduled, models.StatusCancelled); err != nil {
		if cur, gerr := d.Trips.Get(ctx, tripID); gerr == nil && cur.Status == models.StatusAccepted {
			return cur, true
		}
	}
	return nil, false
}

// Accept commits driverID to the trip. The store's compare-and-swap is the
// critical section: of any number of concurrent accepts for one trip, exactly
// one wins. A duplicate accept by the winning driver is an idempotent no-op.
func (d *Dispatcher) Accept(ctx context.Context, tripID, driverID string) (*models.Trip, error) {
	cur, err := d.Trips.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if cur.DriverID == driverID && !cur.Status.Terminal() {
		return cur, nil
	}

	t, err := d.Trips.Store.Assign(ctx, tripID, driverID)
	if err != nil {
		if errors.Is(err, trips.ErrAlreadyAssigned) {
			// A retried accept can race its own first attempt.
			if cur, gerr := d.Trips.Get(ctx, tripID); gerr == nil && cur.DriverID == driverID {
				return cur, nil
			}
		}
		return nil, err
	}

	if err := d.Presence.SetUnavailable(ctx, driverID); err != nil {
		d.log().Warn("presence update failed on accept", "driver_id", driverID, "error", err)
	}
	d.resolve(tripID, "", decisionAccepted)

	if d.Payments != nil && strings.EqualFold(t.PaymentMethod, "card") {
		if ref, err := d.holdPayment(ctx, t); err != nil {
			d.log().Error("payment hold failed", "trip_id", tripID, "error", err)
		} else {
			t.PaymentRef = ref
			if err := d.Trips.Store.SetPaymentRef(ctx, tripID, ref); err != nil {
				d.log().Error("payment ref save failed", "trip_id", tripID, "error", err)
			}
		}
	}

	if err := d.Channel.SendToRider(t.RiderID, EventTripAccepted, t); err != nil {
		d.log().Info("rider unreachable for accept notice", "trip_id", tripID)
	}
	d.log().Info("trip accepted", "trip_id", tripID, "driver_id", driverID)
	return t, nil
}

// Decline resolves the trip's pending offer negatively, but only when it came
// from the currently offered driver; a stale decline from an earlier round is
// ignored.
func (d *Dispatcher) Decline(tripID, driverID string) {
	d.resolve(tripID, driverID, decisionDeclined)
}

// Cancel withdraws the request. Before commit the pending offer chain is
// aborted; after commit this is a normal lifecycle cancellation with driver
// release.
func (d *Dispatcher) Cancel(ctx context.Context, tripID string) (*models.Trip, error) {
	cur, err := d.Trips.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	assigned := cur.DriverID
	t, err := d.Trips.Cancel(ctx, tripID)
	if err != nil {
		return nil, err
	}
	d.resolve(tripID, "", decisionAborted)
	if assigned != "" {
		_ = d.Channel.SendToDriver(assigned, EventTripStatus, t)
	}
	return t, nil
}

func (d *Dispatcher) holdPayment(ctx context.Context, t *models.Trip) (string, error) {
	tariff, err := d.Fares.Catalog.Tariff(ctx, t.Category, t.Country)
	if err != nil {
		return "", fmt.Errorf("tariff lookup for hold: %w", err)
	}
	return d.Payments.Hold(ctx, fare.MinorUnits(t.Fare, tariff.MinorUnit), t.Currency, t.RiderID)
}

func (d *Dispatcher) register(tripID, driverID string) *pendingOffer {
	p := &pendingOffer{driverID: driverID, ch: make(chan decision, 1)}
	d.mu.Lock()
	if d.pending == nil {
		d.pending = make(map[string]*pendingOffer)
	}
	d.pending[tripID] = p
	d.mu.Unlock()
	return p
}

func (d *Dispatcher) unregister(tripID string, p *pendingOffer) {
	d.mu.Lock()
	if d.pending[tripID] == p {
		delete(d.pending, tripID)
	}
	d.mu.Unlock()
}

// resolve delivers a decision to the trip's waiter, if one is pending. An
// empty driverID matches any round; otherwise the decision only lands when it
// comes from the currently offered driver.
func (d *Dispatcher) resolve(tripID, driverID string, dec decision) {
	d.mu.Lock()
	p := d.pending[tripID]
	d.mu.Unlock()
	if p == nil {
		return
	}
	if driverID != "" && p.driverID != driverID {
		return
	}
	select {
	case p.ch <- dec:
	default:
	}
}

func (d *Dispatcher) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
