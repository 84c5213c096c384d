package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
	"github.com/example/driver-session/internal/rideapi"
)

type State int

const (
	Idle State = iota
	Accepted
	InProgress
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case InProgress:
		return "in_progress"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrStaleRide is returned for an action the current ride state does not
// allow, or when the ride changed while the action was in flight.
var ErrStaleRide = errors.New("ride action not valid in current state")

const DefaultActionTimeout = 10 * time.Second

type API interface {
	StartRide(ctx context.Context, rideID int64) (models.Ride, error)
	CompleteRide(ctx context.Context, rideID int64, fare float64) (models.Ride, error)
	FetchActiveRide(ctx context.Context, driverID int64) (*models.Ride, error)
}

// LocationLink is the per-ride location channel.
type LocationLink interface {
	Open(rideID int64)
	Close()
}

type Availability interface {
	ForceOffline()
	ForceOnline()
}

type Signals interface {
	RideUpdated(r *models.Ride)
	Notice(level models.NoticeLevel, text string)
}

// Transition describes one ride state change.
type Transition struct {
	Ride models.Ride
	From State
	To   models.RideStatus
}

type Deps struct {
	Scheduler     eventloop.Scheduler
	API           API
	Location      LocationLink
	Availability  Availability
	Signals       Signals
	Identity      models.DriverIdentity
	Logger        *slog.Logger
	Base          context.Context
	ActionTimeout time.Duration
	// OnTransition is called after every state change. Optional.
	OnTransition func(Transition)
}

// Session is the ride lifecycle state machine. Completed is never stored:
// a completed ride collapses straight back to Idle.
type Session struct {
	deps  Deps
	log   *slog.Logger
	state State
	ride  *models.Ride
	busy  bool
}

func NewSession(deps Deps) *Session {
	if deps.Base == nil {
		deps.Base = context.Background()
	}
	if deps.ActionTimeout <= 0 {
		deps.ActionTimeout = DefaultActionTimeout
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{deps: deps, log: log.With("component", "ride")}
}

func (s *Session) State() State { return s.state }

func (s *Session) Current() (models.Ride, bool) {
	if s.ride == nil {
		return models.Ride{}, false
	}
	return *s.ride, true
}

// OnAccepted takes over a ride the server just assigned to us. Only an
// idle session takes a new ride; the active one is never replaced.
func (s *Session) OnAccepted(r models.Ride) error {
	if s.ride != nil && s.ride.ID == r.ID {
		s.log.Debug("ride already tracked", "ride_id", r.ID)
		return nil
	}
	if s.state != Idle {
		s.log.Warn("accepted ride refused, another ride is active", "active_ride_id", s.ride.ID, "ride_id", r.ID)
		s.deps.Signals.Notice(models.NoticeWarning, "Finish the current ride before taking another")
		return ErrStaleRide
	}
	s.adopt(r, Accepted)
	return nil
}

// Resume recovers a ride that was already active when the session started.
func (s *Session) Resume(done func(error)) {
	if s.state != Idle {
		finish(done, nil)
		return
	}
	var (
		active *models.Ride
		err    error
	)
	driverID := s.deps.Identity.DriverID
	s.deps.Scheduler.Go(func() {
		ctx, cancel := context.WithTimeout(s.deps.Base, s.deps.ActionTimeout)
		defer cancel()
		active, err = s.deps.API.FetchActiveRide(ctx, driverID)
	}, func() {
		if err != nil {
			s.log.Error("active ride lookup failed", "error", err)
			s.deps.Signals.Notice(models.NoticeWarning, "Could not check for an active ride")
			finish(done, fmt.Errorf("fetch active ride: %w", err))
			return
		}
		if active == nil || s.state != Idle {
			finish(done, nil)
			return
		}
		switch active.Status {
		case models.RideInProgress:
			s.log.Info("resuming ride in progress", "ride_id", active.ID)
			s.adopt(*active, InProgress)
		case models.RideAccepted, "":
			s.log.Info("resuming accepted ride", "ride_id", active.ID)
			s.adopt(*active, Accepted)
		default:
			s.log.Debug("ignoring recovered ride", "ride_id", active.ID, "status", active.Status)
		}
		finish(done, nil)
	})
}

func (s *Session) Start(done func(error)) {
	if s.state != Accepted || s.busy {
		s.log.Debug("start ignored", "state", s.state.String())
		finish(done, ErrStaleRide)
		return
	}
	s.busy = true
	rideID := s.ride.ID
	var (
		updated models.Ride
		err     error
	)
	s.deps.Scheduler.Go(func() {
		ctx, cancel := context.WithTimeout(s.deps.Base, s.deps.ActionTimeout)
		defer cancel()
		updated, err = s.deps.API.StartRide(ctx, rideID)
	}, func() {
		s.busy = false
		if err != nil {
			s.actionFailed("start", err)
			s.deps.Signals.Notice(models.NoticeError, "Error starting ride")
			finish(done, fmt.Errorf("start ride %d: %w", rideID, err))
			return
		}
		if s.state != Accepted || s.ride.ID != rideID {
			finish(done, ErrStaleRide)
			return
		}
		r := merge(*s.ride, updated)
		r.Status = models.RideInProgress
		s.ride = &r
		s.setState(InProgress, models.RideInProgress)
		s.deps.Signals.Notice(models.NoticeSuccess, "Ride started!")
		s.publish()
		finish(done, nil)
	})
}

// Complete finishes the ride in progress. A non-positive fare falls back to
// the ride's estimated fare.
func (s *Session) Complete(fare float64, done func(error)) {
	if s.state != InProgress || s.busy {
		s.log.Debug("complete ignored", "state", s.state.String())
		finish(done, ErrStaleRide)
		return
	}
	if fare <= 0 && s.ride.Fare != nil {
		fare = *s.ride.Fare
	}
	s.busy = true
	rideID := s.ride.ID
	var err error
	s.deps.Scheduler.Go(func() {
		ctx, cancel := context.WithTimeout(s.deps.Base, s.deps.ActionTimeout)
		defer cancel()
		_, err = s.deps.API.CompleteRide(ctx, rideID, fare)
	}, func() {
		s.busy = false
		if err != nil {
			s.actionFailed("complete", err)
			s.deps.Signals.Notice(models.NoticeError, "Error completing ride")
			finish(done, fmt.Errorf("complete ride %d: %w", rideID, err))
			return
		}
		if s.state != InProgress || s.ride.ID != rideID {
			finish(done, ErrStaleRide)
			return
		}
		s.ride.Fare = &fare
		s.end(models.RideCompleted)
		s.deps.Signals.Notice(models.NoticeSuccess, fmt.Sprintf("Ride completed! Earned $%.2f", fare))
		finish(done, nil)
	})
}

// OnCancelled handles a cancellation reported by the server.
func (s *Session) OnCancelled(rideID int64) {
	if s.ride == nil || s.ride.ID != rideID {
		s.log.Debug("cancellation for untracked ride", "ride_id", rideID)
		return
	}
	s.log.Info("ride cancelled", "ride_id", rideID)
	s.end(models.RideCancelled)
	s.deps.Signals.Notice(models.NoticeWarning, "Ride was cancelled")
}

func (s *Session) adopt(r models.Ride, st State) {
	if st == InProgress {
		r.Status = models.RideInProgress
	} else {
		r.Status = models.RideAccepted
	}
	s.ride = &r
	s.deps.Location.Open(r.ID)
	s.deps.Availability.ForceOffline()
	s.setState(st, r.Status)
	s.publish()
}

// end moves a ride to a terminal status and the session back to Idle.
func (s *Session) end(status models.RideStatus) {
	s.deps.Location.Close()
	s.ride.Status = status
	s.setState(Idle, status)
	s.ride = nil
	s.deps.Availability.ForceOnline()
	s.publish()
}

func (s *Session) setState(st State, status models.RideStatus) {
	from := s.state
	s.state = st
	observability.RideTransitions.WithLabelValues(string(status)).Inc()
	s.log.Info("ride state changed", "ride_id", s.ride.ID, "from", from.String(), "to", string(status))
	if s.deps.OnTransition != nil {
		s.deps.OnTransition(Transition{Ride: *s.ride, From: from, To: status})
	}
}

func (s *Session) publish() {
	if s.ride == nil {
		s.deps.Signals.RideUpdated(nil)
		return
	}
	r := *s.ride
	s.deps.Signals.RideUpdated(&r)
}

func (s *Session) actionFailed(action string, err error) {
	kind := "transport"
	if errors.Is(err, rideapi.ErrRejected) {
		kind = "rejected"
	}
	observability.ActionFailures.WithLabelValues(action, kind).Inc()
	s.log.Error("ride action failed", "action", action, "error", err)
}

// merge keeps what we know when the server returns a partial ride.
func merge(cur, upd models.Ride) models.Ride {
	if upd.ID != cur.ID {
		return cur
	}
	if upd.Pickup == "" {
		upd.Pickup = cur.Pickup
	}
	if upd.Dropoff == "" {
		upd.Dropoff = cur.Dropoff
	}
	if upd.PickupCoord == nil {
		upd.PickupCoord = cur.PickupCoord
	}
	if upd.DropoffCoord == nil {
		upd.DropoffCoord = cur.DropoffCoord
	}
	if upd.RiderID == 0 {
		upd.RiderID = cur.RiderID
	}
	if upd.RiderName == "" {
		upd.RiderName = cur.RiderName
	}
	if upd.Fare == nil {
		upd.Fare = cur.Fare
	}
	return upd
}

func finish(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
