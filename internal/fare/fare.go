package fare

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrInvalidVoucher covers a missing, inactive, expired, or exhausted coupon.
var ErrInvalidVoucher = errors.New("fare: invalid voucher")

// Catalog is the external tariff collaborator, read-only from here.
type Catalog interface {
	Tariff(ctx context.Context, category, country string) (models.Tariff, error)
	Tariffs(ctx context.Context, country string) ([]models.Tariff, error)
}

// ErrNoTariff means the category is not offered in the country; Quote maps it
// to a zero amount rather than a failure.
var ErrNoTariff = errors.New("fare: no tariff for category")

type Quote struct {
	Category  string  `json:"category"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	MinorUnit int     `json:"-"`
}

// Engine prices trips from the category tariff and an optional voucher.
// Now is swappable for surge-window tests.
type Engine struct {
	Catalog  Catalog
	Vouchers Store
	Now      func() time.Time
}

// Quote computes base + perDistance*d + perTime*d + commission, applies any
// active surge window, then the voucher discount. A category not offered in
// country yields a zero amount and nil error: the caller treats that as "no
// such offering". The voucher is only validated here; redemption happens at
// booking time via Redeem. Amounts are not rounded here; rounding to the
// currency minor unit happens once, when a trip is persisted.
func (e *Engine) Quote(ctx context.Context, category, country string, distanceKm float64, voucherCode string) (Quote, error) {
	t, err := e.Catalog.Tariff(ctx, category, country)
	if err != nil {
		if errors.Is(err, ErrNoTariff) {
			return Quote{Category: category}, nil
		}
		return Quote{}, err
	}

	amount := t.BaseFare + t.PricePerDistance*distanceKm + t.PricePerTime*distanceKm + t.Commission
	if t.Surge != nil && e.surgeActive(t.Surge) {
		switch t.Surge.Type {
		case models.SurgeFixed:
			amount += t.Surge.Value
		default:
			amount += amount * t.Surge.Value / 100
		}
	}

	if voucherCode != "" {
		v, err := e.Vouchers.Get(ctx, voucherCode)
		if err != nil {
			return Quote{}, fmt.Errorf("%w: %s", ErrInvalidVoucher, voucherCode)
		}
		if v.Status != models.VoucherActive || v.UsageLimit <= 0 {
			return Quote{}, fmt.Errorf("%w: %s", ErrInvalidVoucher, voucherCode)
		}
		amount -= amount * v.Discount / 100
	}

	return Quote{Category: category, Amount: amount, Currency: t.Currency, MinorUnit: t.MinorUnit}, nil
}

// Redeem consumes one use of the voucher. It is called only when a quote is
// converted into a booked trip, and is a single atomic read-modify-write so
// two concurrent bookings cannot both decrement past zero.
func (e *Engine) Redeem(ctx context.Context, code string) error {
	return e.Vouchers.Redeem(ctx, code)
}

func (e *Engine) surgeActive(w *models.SurgeWindow) bool {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	h := now().Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// window wraps midnight
	return h >= w.StartHour || h < w.EndHour
}

// RoundToMinorUnit rounds a quoted amount to the currency's minor unit. Called
// once at trip persistence so intermediate quotes don't compound rounding error.
func RoundToMinorUnit(amount float64, minorUnit int) float64 {
	p := math.Pow10(minorUnit)
	return math.Round(amount*p) / p
}

// MinorUnits converts a rounded amount to integral minor units for the
// payment collaborator.
func MinorUnits(amount float64, minorUnit int) int64 {
	return int64(math.Round(amount * math.Pow10(minorUnit)))
}
