package httpapi

import (
	"context"
	"log/slog"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/trips"
)

type Server struct {
	cfg        config.ServerConfig
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	lifecycle  *trips.Service
	presence   presence.Registry
	hub        *realtime.Hub
	kafka      *ingest.KafkaProducer
	mux        *mux.Router
}

// NewServer wires the dispatch core from config. Backends degrade gracefully:
// no Redis means in-process presence, no Postgres means in-memory trips, no
// OSRM endpoint means straight-line estimates. The tariff catalog and voucher
// store are owned by external collaborators and injected by the caller.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, catalog fare.Catalog, vouchers fare.Store) *Server {
	var reg presence.Registry
	if cfg.RedisAddr != "" {
		reg = presence.NewRedis(cfg.RedisAddr, cfg.RedisPassword, "presence")
	} else {
		reg = presence.NewMemory()
	}

	var store trips.Store
	if cfg.PGDSN != "" {
		if ps, err := trips.NewPostgres(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if store == nil {
		store = trips.NewMemory()
	}

	var router routing.Router
	if cfg.OSRMEndpoint != "" {
		router = routing.NewOSRMClient(cfg.OSRMEndpoint, cfg.RoutingTimeout)
	} else {
		router = routing.Static{SpeedMps: cfg.DefaultSpeedMps}
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	hub := realtime.NewHub()
	hub.Logger = logger

	engine := &fare.Engine{Catalog: catalog, Vouchers: vouchers}
	stripeClient := payments.NewStripeClient()
	lifecycle := &trips.Service{
		Store:    store,
		Presence: reg,
		Payments: stripeClient,
		Logger:   logger,
	}
	d := &dispatch.Dispatcher{
		Fares:    engine,
		Matcher:  &matcher.Service{Presence: reg, Router: router, Cache: routing.NewCache(cfg.ETACacheTTL), Logger: logger},
		Trips:    lifecycle,
		Presence: reg,
		Channel:  hub,
		Router:   router,
		Payments: stripeClient,
		Logger:   logger,

		OfferTimeout:   cfg.OfferTimeout,
		MaxCandidates:  cfg.OfferCandidates,
		DefaultCountry: cfg.DefaultCountry,
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		dispatcher: d,
		lifecycle:  lifecycle,
		presence:   reg,
		hub:        hub,
		kafka:      kp,
		mux:        mux.NewRouter(),
	}
	hub.OnDisconnect = s.onDisconnect
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) onDisconnect(role realtime.Role, id string) {
	if role != realtime.RoleDriver {
		return
	}
	observability.DriversOnline.Dec()
	if err := s.presence.Remove(context.Background(), id); err != nil {
		s.logger.Warn("presence cleanup failed on disconnect", "driver_id", id, "error", err)
	}
}
