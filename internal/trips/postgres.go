package trips

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// Postgres implements Store over database/sql. Conditional state is enforced
// in the WHERE clause of each UPDATE so concurrent writers serialize on the
// row, not on the process.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

const tripColumns = `id, rider_id, COALESCE(driver_id, ''), pickup_lat, pickup_lon, dest_lat, dest_lon,
	pickup_addr, dest_addr, category, country, payment_method, fare, currency, distance_km,
	COALESCE(voucher_code, ''), COALESCE(payment_ref, ''), status, pickup_time, dropoff_time, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, t *models.Trip) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trips (id, rider_id, driver_id, pickup_lat, pickup_lon, dest_lat, dest_lon,
			pickup_addr, dest_addr, category, country, payment_method, fare, currency, distance_km,
			voucher_code, payment_ref, status, created_at, updated_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULLIF($16,''),NULLIF($17,''),$18,$19,$20)`,
		t.ID, t.RiderID, t.DriverID, t.Pickup.Lat, t.Pickup.Lon, t.Destination.Lat, t.Destination.Lon,
		t.PickupAddr, t.DestAddr, t.Category, t.Country, t.PaymentMethod, t.Fare, t.Currency, t.DistanceKm,
		t.VoucherCode, t.PaymentRef, string(t.Status), t.CreatedAt, t.UpdatedAt)
	return err
}

func (p *Postgres) Get(ctx context.Context, id string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	return scanTrip(row)
}

func (p *Postgres) Assign(ctx context.Context, id, driverID string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE trips SET driver_id = $2, status = 'accepted', updated_at = now()
		WHERE id = $1 AND status = 'scheduled' AND driver_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM trips busy
			WHERE busy.driver_id = $2 AND busy.status IN ('accepted','current'))
		RETURNING `+tripColumns, id, driverID)
	t, err := scanTrip(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// The conditional update matched nothing; read the row to say why.
	cur, gerr := p.Get(ctx, id)
	if gerr != nil {
		return nil, ErrNotFound
	}
	if cur.Status.Terminal() {
		return nil, ErrNotFound
	}
	if cur.Status != models.StatusScheduled || cur.DriverID != "" {
		return nil, ErrAlreadyAssigned
	}
	return nil, ErrDriverBusy
}

func (p *Postgres) UpdateStatus(ctx context.Context, id string, from, to models.TripStatus) (*models.Trip, error) {
	if !CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}
	stamp := ""
	switch to {
	case models.StatusCurrent:
		stamp = ", pickup_time = now()"
	case models.StatusCompleted:
		stamp = ", dropoff_time = now()"
	case models.StatusCancelled:
		// driver id stays set only on accepted/current/completed trips
		stamp = ", driver_id = NULL"
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE trips SET status = $3, updated_at = now()`+stamp+`
		WHERE id = $1 AND status = $2
		RETURNING `+tripColumns, id, string(from), string(to))
	t, err := scanTrip(row)
	if errors.Is(err, ErrNotFound) {
		if _, gerr := p.Get(ctx, id); gerr != nil {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidTransition
	}
	return t, err
}

func (p *Postgres) SetPaymentRef(ctx context.Context, id, ref string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET payment_ref = $2 WHERE id = $1`, id, ref)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTrip(row *sql.Row) (*models.Trip, error) {
	var t models.Trip
	var status string
	var pickupTime, dropoffTime sql.NullTime
	err := row.Scan(&t.ID, &t.RiderID, &t.DriverID, &t.Pickup.Lat, &t.Pickup.Lon,
		&t.Destination.Lat, &t.Destination.Lon, &t.PickupAddr, &t.DestAddr,
		&t.Category, &t.Country, &t.PaymentMethod, &t.Fare, &t.Currency, &t.DistanceKm,
		&t.VoucherCode, &t.PaymentRef, &status, &pickupTime, &dropoffTime,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.TripStatus(status)
	if pickupTime.Valid {
		v := pickupTime.Time
		t.PickupTime = &v
	}
	if dropoffTime.Valid {
		v := dropoffTime.Time
		t.DropoffTime = &v
	}
	return &t, nil
}
