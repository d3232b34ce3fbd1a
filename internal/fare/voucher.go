package fare

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Store is the voucher collaborator. Redeem must be an atomic conditional
// decrement: it fails once the usage limit hits zero or the voucher is no
// longer active, and flips the voucher inactive when the last use is consumed.
type Store interface {
	Get(ctx context.Context, code string) (models.Voucher, error)
	Redeem(ctx context.Context, code string) error
}

type MemoryVouchers struct {
	mu       sync.Mutex
	vouchers map[string]models.Voucher
}

func NewMemoryVouchers(vouchers ...models.Voucher) *MemoryVouchers {
	m := &MemoryVouchers{vouchers: make(map[string]models.Voucher)}
	for _, v := range vouchers {
		m.vouchers[v.Code] = v
	}
	return m
}

func (m *MemoryVouchers) Get(_ context.Context, code string) (models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[code]
	if !ok {
		return models.Voucher{}, fmt.Errorf("%w: %s", ErrInvalidVoucher, code)
	}
	return v, nil
}

func (m *MemoryVouchers) Redeem(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[code]
	if !ok || v.Status != models.VoucherActive || v.UsageLimit <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidVoucher, code)
	}
	v.UsageLimit--
	if v.UsageLimit == 0 {
		v.Status = models.VoucherInactive
	}
	m.vouchers[code] = v
	return nil
}
