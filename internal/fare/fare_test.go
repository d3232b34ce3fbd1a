package fare

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func testTariff() models.Tariff {
	return models.Tariff{
		Category: "economy", Country: "US", Currency: "usd", MinorUnit: 2,
		BaseFare: 2.5, PricePerDistance: 1.0, PricePerTime: 0.5, Commission: 1.0,
	}
}

func TestQuoteFormula(t *testing.T) {
	e := &Engine{Catalog: NewMemoryCatalog(testTariff()), Vouchers: NewMemoryVouchers()}
	q, err := e.Quote(context.Background(), "economy", "US", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	// 2.5 + 1.0*10 + 0.5*10 + 1.0
	if q.Amount != 18.5 {
		t.Fatalf("expected 18.5, got %f", q.Amount)
	}
	if q.Currency != "usd" {
		t.Fatalf("expected usd, got %s", q.Currency)
	}
}

func TestQuoteDeterministicWithoutVoucher(t *testing.T) {
	e := &Engine{Catalog: NewMemoryCatalog(testTariff()), Vouchers: NewMemoryVouchers()}
	a, _ := e.Quote(context.Background(), "economy", "US", 7.3, "")
	b, _ := e.Quote(context.Background(), "economy", "US", 7.3, "")
	if a.Amount != b.Amount {
		t.Fatalf("quotes differ: %f vs %f", a.Amount, b.Amount)
	}
}

func TestQuoteMissingTariffIsZero(t *testing.T) {
	e := &Engine{Catalog: NewMemoryCatalog(testTariff()), Vouchers: NewMemoryVouchers()}
	q, err := e.Quote(context.Background(), "luxury", "US", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if q.Amount != 0 {
		t.Fatalf("expected zero quote for unknown category, got %f", q.Amount)
	}
}

func TestQuoteVoucherDiscount(t *testing.T) {
	vouchers := NewMemoryVouchers(models.Voucher{Code: "HALF", Discount: 50, UsageLimit: 5, Status: models.VoucherActive})
	e := &Engine{Catalog: NewMemoryCatalog(testTariff()), Vouchers: vouchers}
	q, err := e.Quote(context.Background(), "economy", "US", 10, "HALF")
	if err != nil {
		t.Fatal(err)
	}
	if q.Amount != 9.25 {
		t.Fatalf("expected 9.25, got %f", q.Amount)
	}
}

func TestQuoteInvalidVoucher(t *testing.T) {
	vouchers := NewMemoryVouchers(models.Voucher{Code: "DEAD", Discount: 10, UsageLimit: 0, Status: models.VoucherInactive})
	e := &Engine{Catalog: NewMemoryCatalog(testTariff()), Vouchers: vouchers}
	for _, code := range []string{"MISSING", "DEAD"} {
		if _, err := e.Quote(context.Background(), "economy", "US", 10, code); !errors.Is(err, ErrInvalidVoucher) {
			t.Fatalf("code %s: expected ErrInvalidVoucher, got %v", code, err)
		}
	}
}

func TestQuoteSurgeWindow(t *testing.T) {
	tariff := testTariff()
	tariff.Surge = &models.SurgeWindow{StartHour: 8, EndHour: 10, Type: models.SurgePercentage, Value: 100}
	e := &Engine{
		Catalog:  NewMemoryCatalog(tariff),
		Vouchers: NewMemoryVouchers(),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	}
	q, err := e.Quote(context.Background(), "economy", "US", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if q.Amount != 37.0 {
		t.Fatalf("expected doubled fare 37.0, got %f", q.Amount)
	}

	e.Now = func() time.Time { return time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC) }
	q, _ = e.Quote(context.Background(), "economy", "US", 10, "")
	if q.Amount != 18.5 {
		t.Fatalf("expected base fare outside window, got %f", q.Amount)
	}
}

func TestConcurrentRedeemSingleUse(t *testing.T) {
	vouchers := NewMemoryVouchers(models.Voucher{Code: "ONCE", Discount: 20, UsageLimit: 1, Status: models.VoucherActive})
	e := &Engine{Catalog: NewMemoryCatalog(testTariff()), Vouchers: vouchers}

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Redeem(context.Background(), "ONCE")
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ErrInvalidVoucher) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 successful redemption, got %d", success)
	}

	v, err := vouchers.Get(context.Background(), "ONCE")
	if err != nil {
		t.Fatal(err)
	}
	if v.UsageLimit != 0 || v.Status != models.VoucherInactive {
		t.Fatalf("expected exhausted inactive voucher, got %+v", v)
	}
}

func TestRoundToMinorUnit(t *testing.T) {
	if got := RoundToMinorUnit(18.456, 2); got != 18.46 {
		t.Fatalf("expected 18.46, got %f", got)
	}
	if got := RoundToMinorUnit(18.456, 0); got != 18 {
		t.Fatalf("expected 18, got %f", got)
	}
	if got := MinorUnits(18.46, 2); got != 1846 {
		t.Fatalf("expected 1846, got %d", got)
	}
}
