package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/trips"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/trips/request", s.handleTripRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/accept", s.handleAccept).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/start", s.handleStart).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/complete", s.handleComplete).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/cancel", s.handleCancel).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}", s.handleGetTrip).Methods("GET")
	s.mux.HandleFunc("/internal/driver/heartbeats", s.handleHeartbeat).Methods("POST")
	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/rider/{rider_id}", s.handleRiderWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleTripRequest(w http.ResponseWriter, r *http.Request) {
	var req models.TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RiderID == "" {
		writeError(w, http.StatusBadRequest, "rider_id is required")
		return
	}
	t, err := s.dispatcher.Request(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type driverAction struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	t, err := s.dispatcher.Accept(r.Context(), tripID, body.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	t, err := s.lifecycle.Start(r.Context(), tripID, body.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.notifyRider(t)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	t, err := s.lifecycle.Complete(r.Context(), tripID, body.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.notifyRider(t)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	t, err := s.dispatcher.Cancel(r.Context(), tripID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.notifyRider(t)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.lifecycle.Get(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleHeartbeat is the non-websocket ingest path for driver location
// updates, mirrored to Kafka when a broker is configured.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil || hb.DriverID == "" {
		writeError(w, http.StatusBadRequest, "invalid heartbeat")
		return
	}
	if err := s.presence.Heartbeat(r.Context(), hb); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.kafka != nil {
		if err := s.kafka.PublishHeartbeat(hb); err != nil {
			s.logger.Warn("heartbeat publish failed", "driver_id", hb.DriverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) notifyRider(t *models.Trip) {
	if err := s.hub.SendToRider(t.RiderID, dispatch.EventTripStatus, t); err != nil &&
		!errors.Is(err, realtime.ErrNoSession) {
		s.logger.Warn("rider notify failed", "trip_id", t.ID, "error", err)
	}
}

// writeDomainError maps domain sentinels onto the API contract. Rider-facing
// messages stay generic; driver-facing codes distinguish "lost the race" (409)
// from "no longer pending" (404).
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrNoAvailableDrivers):
		writeError(w, http.StatusNotFound, "no available drivers")
	case errors.Is(err, fare.ErrInvalidVoucher):
		writeError(w, http.StatusBadRequest, "invalid voucher")
	case errors.Is(err, trips.ErrNotFound):
		writeError(w, http.StatusNotFound, "trip not found")
	case errors.Is(err, trips.ErrAlreadyAssigned), errors.Is(err, trips.ErrDriverBusy):
		writeError(w, http.StatusConflict, "trip already assigned")
	case errors.Is(err, trips.ErrNotAssignedDriver):
		writeError(w, http.StatusForbidden, "not the assigned driver")
	case errors.Is(err, trips.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid trip state")
	case errors.Is(err, dispatch.ErrRequestCancelled):
		writeError(w, http.StatusConflict, "request cancelled")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var upgrader = websocket.Upgrader{}

// handleDriverWS is the driver's realtime channel: offers go out, heartbeats
// and accept/decline signals come in.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	session := s.hub.Add(realtime.RoleDriver, id, conn)
	observability.DriversOnline.Inc()
	go s.driverReadLoop(id, conn, session)
}

func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["rider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	session := s.hub.Add(realtime.RoleRider, id, conn)
	go func() {
		defer s.hub.Remove(realtime.RoleRider, id, session)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type tripSignal struct {
	TripID string `json:"trip_id"`
}

func (s *Server) driverReadLoop(driverID string, conn *websocket.Conn, session *realtime.Session) {
	defer s.hub.Remove(realtime.RoleDriver, driverID, session)
	ctx := context.Background()
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "heartbeat":
			var hb models.Heartbeat
			if err := json.Unmarshal(frame.Data, &hb); err != nil {
				continue
			}
			hb.DriverID = driverID
			if err := s.presence.Heartbeat(ctx, hb); err != nil {
				s.logger.Warn("heartbeat apply failed", "driver_id", driverID, "error", err)
				continue
			}
			if s.kafka != nil {
				_ = s.kafka.PublishHeartbeat(hb)
			}
		case "trip:accept":
			var sig tripSignal
			if err := json.Unmarshal(frame.Data, &sig); err != nil || sig.TripID == "" {
				continue
			}
			t, err := s.dispatcher.Accept(ctx, sig.TripID, driverID)
			if err != nil {
				_ = s.hub.SendToDriver(driverID, "trip:error", map[string]string{
					"trip_id": sig.TripID,
					"error":   driverAcceptError(err),
				})
				continue
			}
			_ = s.hub.SendToDriver(driverID, dispatch.EventTripAccepted, t)
		case "trip:decline":
			var sig tripSignal
			if err := json.Unmarshal(frame.Data, &sig); err != nil || sig.TripID == "" {
				continue
			}
			s.dispatcher.Decline(sig.TripID, driverID)
		}
	}
}

// driverAcceptError tells the driver whether to keep listening for new offers
// ("already_assigned": lost the race) or drop this trip ("not_found").
func driverAcceptError(err error) string {
	switch {
	case errors.Is(err, trips.ErrAlreadyAssigned), errors.Is(err, trips.ErrDriverBusy):
		return "already_assigned"
	case errors.Is(err, trips.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
