package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "offers_sent_total", Help: "Trip offers pushed to drivers"})
	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "offers_accepted_total", Help: "Offers accepted by drivers"})
	OffersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "offers_expired_total", Help: "Offers that timed out or were declined"})
	NoDriverTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "no_driver_total", Help: "Requests that found no candidate driver"})
	VoucherRedemptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "voucher_redemptions_total", Help: "Vouchers consumed at booking"})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ride_dispatch", Name: "drivers_online", Help: "Drivers with an open realtime session"})
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch", Name: "dispatch_latency_seconds",
		Help: "Time from ride request to commit or failure", Buckets: prometheus.DefBuckets})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
