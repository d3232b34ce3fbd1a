package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TripStatus follows the lifecycle scheduled -> accepted -> current -> completed,
// with cancelled reachable from any non-terminal state.
type TripStatus string

const (
	StatusScheduled TripStatus = "scheduled"
	StatusAccepted  TripStatus = "accepted"
	StatusCurrent   TripStatus = "current"
	StatusCompleted TripStatus = "completed"
	StatusCancelled TripStatus = "cancelled"
)

// Terminal reports whether no further transition is legal from s.
func (s TripStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Trip struct {
	ID            string     `json:"id"`
	RiderID       string     `json:"rider_id"`
	DriverID      string     `json:"driver_id,omitempty"`
	Pickup        Coord      `json:"pickup"`
	Destination   Coord      `json:"destination"`
	PickupAddr    string     `json:"pickup_address"`
	DestAddr      string     `json:"destination_address"`
	Category      string     `json:"category"`
	Country       string     `json:"country"`
	PaymentMethod string     `json:"payment_method"`
	Fare          float64    `json:"fare"`
	Currency      string     `json:"currency"`
	DistanceKm    float64    `json:"distance_km"`
	VoucherCode   string     `json:"voucher_code,omitempty"`
	PaymentRef    string     `json:"-"`
	Status        TripStatus `json:"status"`
	PickupTime    *time.Time `json:"pickup_time,omitempty"`
	DropoffTime   *time.Time `json:"dropoff_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TripRequest is the rider-submitted booking request. Category may be empty to
// consider every category offered in the rider's country.
type TripRequest struct {
	RiderID       string `json:"rider_id"`
	Pickup        Coord  `json:"pickup"`
	Destination   Coord  `json:"destination"`
	PickupAddr    string `json:"pickup_address"`
	DestAddr      string `json:"destination_address"`
	Category      string `json:"category,omitempty"`
	Country       string `json:"country,omitempty"`
	PaymentMethod string `json:"payment_method"`
	VoucherCode   string `json:"voucher_code,omitempty"`
}

// DriverPresence is the live record for one connected driver.
type DriverPresence struct {
	ID        string    `json:"id"`
	Loc       Coord     `json:"loc"`
	Available bool      `json:"available"`
	Category  string    `json:"category"`
	Updated   time.Time `json:"updated"`
}

// Heartbeat is the driver-side location/availability update, delivered over the
// realtime channel and relayed through Kafka.
type Heartbeat struct {
	DriverID  string `json:"driver_id"`
	Loc       Coord  `json:"loc"`
	Available bool   `json:"available"`
	Category  string `json:"category"`
}

type SurgeType string

const (
	SurgePercentage SurgeType = "percentage"
	SurgeFixed      SurgeType = "fixed"
)

// SurgeWindow raises the fare between StartHour (inclusive) and EndHour
// (exclusive), server local time.
type SurgeWindow struct {
	StartHour int       `json:"start_hour"`
	EndHour   int       `json:"end_hour"`
	Type      SurgeType `json:"type"`
	Value     float64   `json:"value"`
}

// Tariff is the read-only per-category pricing row, owned by the catalog
// collaborator. MinorUnit is the number of decimal places of the currency.
type Tariff struct {
	Category         string       `json:"category"`
	Country          string       `json:"country"`
	Currency         string       `json:"currency"`
	MinorUnit        int          `json:"minor_unit"`
	BaseFare         float64      `json:"base_fare"`
	PricePerDistance float64      `json:"price_per_distance"`
	PricePerTime     float64      `json:"price_per_time"`
	Commission       float64      `json:"commission"`
	Surge            *SurgeWindow `json:"surge,omitempty"`
}

type VoucherStatus string

const (
	VoucherActive   VoucherStatus = "active"
	VoucherInactive VoucherStatus = "inactive"
	VoucherExpired  VoucherStatus = "expired"
)

type Voucher struct {
	Code       string        `json:"code"`
	Discount   float64       `json:"discount"` // percent, 0..100
	UsageLimit int           `json:"usage_limit"`
	Status     VoucherStatus `json:"status"`
}

// Offer is the payload pushed to a candidate driver over the realtime channel.
type Offer struct {
	TripID      string  `json:"trip_id"`
	Pickup      Coord   `json:"pickup"`
	Destination Coord   `json:"destination"`
	PickupAddr  string  `json:"pickup_address"`
	DestAddr    string  `json:"destination_address"`
	Fare        float64 `json:"fare"`
	Currency    string  `json:"currency"`
	DistanceKm  float64 `json:"distance_km"`
	RiderRating float64 `json:"rider_rating"`
	ExpiresIn   int     `json:"expires_in_seconds"`
}
