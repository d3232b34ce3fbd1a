package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}, Timeout: timeout}
}

func (o *OSRMClient) ETASeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	r, err := o.route(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return r.Duration, nil
}

func (o *OSRMClient) DistanceKm(ctx context.Context, from, to models.Coord) (float64, error) {
	r, err := o.route(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return r.Distance / 1000, nil
}

type osrmRoute struct {
	Duration float64 `json:"duration"`
	Distance float64 `json:"distance"`
}

// route queries /route/v1/driving/{lon1},{lat1};{lon2},{lat2}?overview=false.
func (o *OSRMClient) route(ctx context.Context, from, to models.Coord) (osrmRoute, error) {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return osrmRoute{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return osrmRoute{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	var out struct {
		Routes []osrmRoute `json:"routes"`
		Code   string      `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return osrmRoute{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return osrmRoute{}, fmt.Errorf("%w: osrm code %s", ErrUnavailable, out.Code)
	}
	return out.Routes[0], nil
}
