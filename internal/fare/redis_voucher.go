package fare

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisVouchers stores each voucher as a hash and redeems through a Lua script
// so the check-and-decrement is a single server-side step across instances.
type RedisVouchers struct {
	client *redis.Client
	prefix string
}

func NewRedisVouchers(client *redis.Client, prefix string) *RedisVouchers {
	if prefix == "" {
		prefix = "voucher"
	}
	return &RedisVouchers{client: client, prefix: prefix}
}

func (r *RedisVouchers) key(code string) string { return r.prefix + ":" + code }

var redeemScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
local limit = tonumber(redis.call('HGET', KEYS[1], 'usage_limit'))
if status ~= 'active' or not limit or limit <= 0 then
  return 0
end
limit = redis.call('HINCRBY', KEYS[1], 'usage_limit', -1)
if limit <= 0 then
  redis.call('HSET', KEYS[1], 'status', 'inactive')
end
return 1
`)

func (r *RedisVouchers) Put(ctx context.Context, v models.Voucher) error {
	return r.client.HSet(ctx, r.key(v.Code), map[string]interface{}{
		"discount":    fmt.Sprintf("%f", v.Discount),
		"usage_limit": v.UsageLimit,
		"status":      string(v.Status),
	}).Err()
}

func (r *RedisVouchers) Get(ctx context.Context, code string) (models.Voucher, error) {
	m, err := r.client.HGetAll(ctx, r.key(code)).Result()
	if err != nil {
		return models.Voucher{}, err
	}
	if len(m) == 0 {
		return models.Voucher{}, fmt.Errorf("%w: %s", ErrInvalidVoucher, code)
	}
	v := models.Voucher{Code: code, Status: models.VoucherStatus(m["status"])}
	if f, err := strconv.ParseFloat(m["discount"], 64); err == nil {
		v.Discount = f
	}
	if n, err := strconv.Atoi(m["usage_limit"]); err == nil {
		v.UsageLimit = n
	}
	return v, nil
}

func (r *RedisVouchers) Redeem(ctx context.Context, code string) error {
	n, err := redeemScript.Run(ctx, r.client, []string{r.key(code)}).Int()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %s", ErrInvalidVoucher, code)
	}
	return nil
}
