package fare

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryCatalog holds tariffs keyed by category+country. Used standalone for a
// single process and in tests; production can swap in a DB-backed catalog.
type MemoryCatalog struct {
	mu      sync.RWMutex
	tariffs map[string]models.Tariff
	order   []string
}

func NewMemoryCatalog(tariffs ...models.Tariff) *MemoryCatalog {
	c := &MemoryCatalog{tariffs: make(map[string]models.Tariff)}
	for _, t := range tariffs {
		c.Put(t)
	}
	return c
}

func catalogKey(category, country string) string {
	return fmt.Sprintf("%s|%s", category, country)
}

func (c *MemoryCatalog) Put(t models.Tariff) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := catalogKey(t.Category, t.Country)
	if _, ok := c.tariffs[k]; !ok {
		c.order = append(c.order, k)
	}
	c.tariffs[k] = t
}

func (c *MemoryCatalog) Tariff(_ context.Context, category, country string) (models.Tariff, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tariffs[catalogKey(category, country)]
	if !ok {
		return models.Tariff{}, fmt.Errorf("%w: %s/%s", ErrNoTariff, category, country)
	}
	return t, nil
}

// Tariffs returns the country's tariffs in insertion order, so implicit
// category selection is deterministic.
func (c *MemoryCatalog) Tariffs(_ context.Context, country string) ([]models.Tariff, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Tariff, 0, len(c.order))
	for _, k := range c.order {
		t := c.tariffs[k]
		if t.Country == country {
			out = append(out, t)
		}
	}
	return out, nil
}
