package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/offer"
	"github.com/example/driver-session/internal/ride"
	"github.com/example/driver-session/internal/rideapi"
	"github.com/example/driver-session/internal/session"
)

// Driver is the session surface the local UI drives.
type Driver interface {
	GoOnline(ctx context.Context) error
	GoOffline(ctx context.Context) error
	Accept(ctx context.Context, rideID int64) error
	Decline(ctx context.Context, rideID int64) error
	StartRide(ctx context.Context) error
	CompleteRide(ctx context.Context, fare float64) error
	Snapshot(ctx context.Context) (session.Status, error)
	UpdatePosition(ctx context.Context, c models.Coord) error
}

// Server is the local control API the driver UI talks to.
type Server struct {
	driver Driver
	events http.Handler
	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires routes. events serves the UI event stream and may be nil.
func NewServer(driver Driver, events http.Handler, logger *slog.Logger) *Server {
	s := &Server{driver: driver, events: events, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/v1/online", s.handleOnline).Methods("POST")
	s.mux.HandleFunc("/v1/offline", s.handleOffline).Methods("POST")
	s.mux.HandleFunc("/v1/offers/{ride_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/v1/offers/{ride_id}/decline", s.handleDecline).Methods("POST")
	s.mux.HandleFunc("/v1/ride/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/v1/ride/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/v1/position", s.handlePosition).Methods("POST")
	s.mux.HandleFunc("/v1/status", s.handleStatus).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.events != nil {
		s.mux.Handle("/ws/events", s.events)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.driver.GoOnline(r.Context()))
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.driver.GoOffline(r.Context()))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := rideIDFromPath(w, r)
	if !ok {
		return
	}
	s.respond(w, r, s.driver.Accept(r.Context(), id))
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id, ok := rideIDFromPath(w, r)
	if !ok {
		return
	}
	s.respond(w, r, s.driver.Decline(r.Context(), id))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.driver.StartRide(r.Context()))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Fare float64 `json:"fare"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), 400)
		return
	}
	s.respond(w, r, s.driver.CompleteRide(r.Context(), body.Fare))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var u models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	s.respond(w, r, s.driver.UpdatePosition(r.Context(), models.Coord{Lat: u.Latitude, Lon: u.Longitude}))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.driver.Snapshot(r.Context())
	if err != nil {
		s.respond(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

// respond maps a session outcome onto an HTTP status.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(204)
		return
	}
	code := statusFor(err)
	if code >= 500 {
		s.logger.Warn("driver action failed", "path", r.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, offer.ErrStaleOffer), errors.Is(err, ride.ErrStaleRide):
		return http.StatusConflict
	case errors.Is(err, rideapi.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rideapi.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrNoPositions):
		return http.StatusNotImplemented
	case errors.Is(err, session.ErrClosed), errors.Is(err, eventloop.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func rideIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["ride_id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid ride id", 400)
		return 0, false
	}
	return id, true
}
