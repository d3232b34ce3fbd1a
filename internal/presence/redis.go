package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// Redis backs the registry with one GEO set per vehicle category plus a meta
// hash per driver, so multiple dispatch instances share the same view.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(addr, password, prefix string) *Redis {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if prefix == "" {
		prefix = "presence"
	}
	return &Redis{client: c, prefix: prefix}
}

func (r *Redis) geoKey(category string) string { return r.prefix + ":geo:" + category }
func (r *Redis) metaKey(id string) string      { return r.prefix + ":meta:" + id }

func (r *Redis) Heartbeat(ctx context.Context, hb models.Heartbeat) error {
	if _, err := r.client.GeoAdd(ctx, r.geoKey(hb.Category), &redis.GeoLocation{
		Longitude: hb.Loc.Lon, Latitude: hb.Loc.Lat, Name: hb.DriverID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, r.metaKey(hb.DriverID), map[string]interface{}{
		"available": strconv.FormatBool(hb.Available),
		"category":  hb.Category,
		"lat":       fmt.Sprintf("%f", hb.Loc.Lat),
		"lon":       fmt.Sprintf("%f", hb.Loc.Lon),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *Redis) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	d, err := r.Get(ctx, driverID)
	if err != nil {
		return err
	}
	d.Loc = loc
	return r.Heartbeat(ctx, models.Heartbeat{
		DriverID: driverID, Loc: loc, Available: d.Available, Category: d.Category,
	})
}

func (r *Redis) SetAvailable(ctx context.Context, driverID string) error {
	return r.setAvailability(ctx, driverID, true)
}

func (r *Redis) SetUnavailable(ctx context.Context, driverID string) error {
	return r.setAvailability(ctx, driverID, false)
}

func (r *Redis) setAvailability(ctx context.Context, driverID string, available bool) error {
	n, err := r.client.Exists(ctx, r.metaKey(driverID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return r.client.HSet(ctx, r.metaKey(driverID), "available", strconv.FormatBool(available)).Err()
}

func (r *Redis) Remove(ctx context.Context, driverID string) error {
	m, err := r.client.HGetAll(ctx, r.metaKey(driverID)).Result()
	if err != nil {
		return err
	}
	if cat, ok := m["category"]; ok {
		_ = r.client.ZRem(ctx, r.geoKey(cat), driverID).Err()
	}
	return r.client.Del(ctx, r.metaKey(driverID)).Err()
}

func (r *Redis) Get(ctx context.Context, driverID string) (models.DriverPresence, error) {
	m, err := r.client.HGetAll(ctx, r.metaKey(driverID)).Result()
	if err != nil {
		return models.DriverPresence{}, err
	}
	if len(m) == 0 {
		return models.DriverPresence{}, ErrNotFound
	}
	return presenceFromMeta(driverID, m), nil
}

func (r *Redis) AvailableByCategory(ctx context.Context, category string) ([]models.DriverPresence, error) {
	ids, err := r.client.ZRange(ctx, r.geoKey(category), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverPresence, 0, len(ids))
	for _, id := range ids {
		m, err := r.client.HGetAll(ctx, r.metaKey(id)).Result()
		if err != nil || len(m) == 0 {
			continue
		}
		d := presenceFromMeta(id, m)
		if !d.Available {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func presenceFromMeta(id string, m map[string]string) models.DriverPresence {
	d := models.DriverPresence{ID: id, Category: m["category"]}
	d.Available = m["available"] == "true"
	if v, err := strconv.ParseFloat(m["lat"], 64); err == nil {
		d.Loc.Lat = v
	}
	if v, err := strconv.ParseFloat(m["lon"], 64); err == nil {
		d.Loc.Lon = v
	}
	if t, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
		d.Updated = t
	}
	return d
}
