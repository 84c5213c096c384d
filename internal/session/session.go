package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/example/driver-session/internal/availability"
	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/eta"
	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/geo"
	"github.com/example/driver-session/internal/ingest"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
	"github.com/example/driver-session/internal/offer"
	"github.com/example/driver-session/internal/presenter"
	"github.com/example/driver-session/internal/ride"
	"github.com/example/driver-session/internal/rideapi"
	"github.com/example/driver-session/internal/storage"
)

const (
	DefaultLocationInterval = 3 * time.Second
	DefaultOfferSeconds     = 20
	DefaultActionTimeout    = 10 * time.Second
	notificationsChannel    = "notifications"
	locationChannel         = "location"
)

var (
	ErrClosed      = errors.New("session closed")
	ErrNoPositions = errors.New("no position source configured")
	ErrRideActive  = errors.New("ride in progress")
)

// Options wires a Session. Runtime, API, Dialer and Signals are required.
type Options struct {
	Identity models.DriverIdentity
	// WSURL is the realtime base URL, e.g. ws://host:8000.
	WSURL   string
	API     rideapi.Client
	Dialer  channel.Dialer
	Runtime eventloop.Runtime
	Signals presenter.Signals
	Logger  *slog.Logger
	Base    context.Context

	Positions geo.Source       // optional
	ETA       *eta.Estimator   // optional
	Journal   storage.Journal  // optional
	Telemetry ingest.Telemetry // optional

	HeartbeatInterval   time.Duration
	ReconnectDelay      time.Duration
	LocationInterval    time.Duration
	ActionTimeout       time.Duration
	DefaultOfferSeconds int
	Now                 func() time.Time
}

// Session is one logged-in driver. Every component it owns lives on the
// runtime's loop; the exported methods are safe to call from any goroutine.
type Session struct {
	opts Options
	log  *slog.Logger
	rt   eventloop.Runtime

	notif    *channel.Channel
	offers   *offer.Controller
	rides    *ride.Session
	avail    *availability.Availability
	location *locationLink
	closed   bool
}

func New(opts Options) *Session {
	if opts.Base == nil {
		opts.Base = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LocationInterval <= 0 {
		opts.LocationInterval = DefaultLocationInterval
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.DefaultOfferSeconds <= 0 {
		opts.DefaultOfferSeconds = DefaultOfferSeconds
	}
	if opts.Telemetry == nil {
		opts.Telemetry = ingest.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.WSURL = strings.TrimRight(opts.WSURL, "/")

	s := &Session{
		opts: opts,
		log:  opts.Logger.With("driver_id", opts.Identity.DriverID),
		rt:   opts.Runtime,
	}
	s.notif = channel.New(channel.Options{
		Name:              notificationsChannel,
		Dialer:            opts.Dialer,
		Scheduler:         opts.Runtime,
		Logger:            s.log,
		ShouldConnect:     func() bool { return !s.closed && s.avail.ShouldConnect() },
		Heartbeat:         func() any { return models.NewHeartbeat() },
		HeartbeatInterval: opts.HeartbeatInterval,
		ReconnectDelay:    opts.ReconnectDelay,
	})
	s.avail = availability.New(availability.Deps{
		Scheduler:     opts.Runtime,
		API:           opts.API,
		Notifications: notifications{s},
		Signals:       opts.Signals,
		Identity:      opts.Identity,
		Logger:        s.log,
		Base:          opts.Base,
		ActionTimeout: opts.ActionTimeout,
	})
	s.location = &locationLink{s: s}
	s.rides = ride.NewSession(ride.Deps{
		Scheduler:     opts.Runtime,
		API:           opts.API,
		Location:      s.location,
		Availability:  s.avail,
		Signals:       opts.Signals,
		Identity:      opts.Identity,
		Logger:        s.log,
		Base:          opts.Base,
		ActionTimeout: opts.ActionTimeout,
		OnTransition:  s.record,
	})
	s.offers = offer.NewController(offer.Deps{
		Scheduler:     opts.Runtime,
		API:           opts.API,
		Rides:         s.rides,
		Signals:       opts.Signals,
		Identity:      opts.Identity,
		Logger:        s.log,
		Base:          opts.Base,
		ActionTimeout: opts.ActionTimeout,
	})
	return s
}

// notifications adapts the notification channel for availability. Closing
// it abandons whatever offer is pending.
type notifications struct{ s *Session }

func (n notifications) Connect() {
	if n.s.closed {
		return
	}
	n.s.notif.Open(n.s.opts.WSURL+fmt.Sprintf("/ws/notifications/%d", n.s.opts.Identity.DriverID), n.s.handleNotification, func(st channel.State) {
		n.s.opts.Signals.ChannelStatus(notificationsChannel, st)
	})
}

func (n notifications) Close() {
	n.s.notif.Close()
	n.s.offers.Reset()
}

func (s *Session) handleNotification(raw []byte) {
	typ, err := models.MessageType(raw)
	if err != nil {
		s.log.Warn("undecodable notification", "error", err)
		observability.UnknownMessages.WithLabelValues(notificationsChannel).Inc()
		return
	}
	switch typ {
	case models.MsgRideOffer, models.MsgRideOfferReceived:
		o, err := models.DecodeRideOffer(raw, s.opts.Now(), s.opts.DefaultOfferSeconds)
		if err != nil {
			s.log.Warn("bad ride offer", "type", typ, "error", err)
			return
		}
		if s.rides.State() != ride.Idle {
			s.log.Info("offer ignored during active ride", "ride_id", o.RideID)
			return
		}
		s.offers.OnOfferReceived(o)
		s.enrichETA(o)
	case models.MsgOfferExpired:
		id, err := models.DecodeRideRef(raw)
		if err != nil {
			s.log.Warn("bad offer expiry", "error", err)
			return
		}
		s.offers.OnOfferExpiredFromServer(id)
	case models.MsgRideCancelled:
		id, err := models.DecodeRideRef(raw)
		if err != nil {
			s.log.Warn("bad ride cancellation", "error", err)
			return
		}
		s.rides.OnCancelled(id)
	case models.MsgHeartbeatAck:
		s.log.Debug("heartbeat acknowledged")
	default:
		s.log.Warn("unknown notification type", "type", typ)
		observability.UnknownMessages.WithLabelValues(notificationsChannel).Inc()
	}
}

// enrichETA estimates the distance to pickup off the loop and shows it if
// the offer is still pending when the estimate lands.
func (s *Session) enrichETA(o models.RideOffer) {
	if s.opts.ETA == nil || s.opts.Positions == nil || o.Pickup == nil {
		return
	}
	pickup := *o.Pickup
	var (
		secs float64
		ok   bool
	)
	s.rt.Go(func() {
		ctx, cancel := context.WithTimeout(s.opts.Base, s.opts.ActionTimeout)
		defer cancel()
		var here models.Coord
		if here, ok = s.opts.Positions.Latest(ctx); ok {
			secs = s.opts.ETA.PickupSeconds(ctx, here, pickup)
		}
	}, func() {
		if !ok {
			return
		}
		if p, pending := s.offers.Pending(); !pending || p.RideID != o.RideID {
			return
		}
		s.opts.Signals.OfferETA(o.RideID, int(math.Round(secs)))
	})
}

// record journals a ride transition and mirrors it to telemetry.
func (s *Session) record(tr ride.Transition) {
	e := models.JournalEntry{
		DriverID:   s.opts.Identity.DriverID,
		RideID:     tr.Ride.ID,
		FromStatus: tr.From.String(),
		ToStatus:   tr.To,
		Fare:       tr.Ride.Fare,
	}
	journal, tel, log := s.opts.Journal, s.opts.Telemetry, s.log
	s.rt.Go(func() {
		ctx, cancel := context.WithTimeout(s.opts.Base, s.opts.ActionTimeout)
		defer cancel()
		if journal != nil {
			if err := journal.Append(ctx, e); err != nil {
				log.Warn("journal append failed", "ride_id", e.RideID, "error", err)
			}
		}
		if err := tel.PublishEvent(ctx, e.DriverID, "ride_"+string(e.ToStatus), e); err != nil {
			log.Debug("telemetry publish failed", "error", err)
		}
	}, nil)
}

func (s *Session) GoOnline(ctx context.Context) error {
	return s.await(ctx, s.avail.GoOnline)
}

// StartOnline goes online unless a recovered ride is active, which has
// already forced the driver offline.
func (s *Session) StartOnline(ctx context.Context) error {
	return s.await(ctx, func(done func(error)) {
		if s.rides.State() != ride.Idle {
			done(ErrRideActive)
			return
		}
		s.avail.GoOnline(done)
	})
}

func (s *Session) GoOffline(ctx context.Context) error {
	return s.await(ctx, s.avail.GoOffline)
}

func (s *Session) Accept(ctx context.Context, rideID int64) error {
	return s.await(ctx, func(done func(error)) { s.offers.Accept(rideID, done) })
}

func (s *Session) Decline(ctx context.Context, rideID int64) error {
	return s.await(ctx, func(done func(error)) { s.offers.Decline(rideID, done) })
}

func (s *Session) StartRide(ctx context.Context) error {
	return s.await(ctx, s.rides.Start)
}

// CompleteRide finishes the ride in progress. A non-positive fare uses the
// ride's estimate.
func (s *Session) CompleteRide(ctx context.Context, fare float64) error {
	return s.await(ctx, func(done func(error)) { s.rides.Complete(fare, done) })
}

// Resume adopts a ride that was active before this session started.
func (s *Session) Resume(ctx context.Context) error {
	return s.await(ctx, s.rides.Resume)
}

// UpdatePosition feeds a position sample to the configured source.
func (s *Session) UpdatePosition(ctx context.Context, c models.Coord) error {
	if s.opts.Positions == nil {
		return ErrNoPositions
	}
	return s.opts.Positions.Upsert(ctx, c)
}

// Status is a point-in-time view of the session.
type Status struct {
	DriverID       int64             `json:"driver_id"`
	Online         bool              `json:"online"`
	Offer          *models.RideOffer `json:"offer,omitempty"`
	OfferRemaining int               `json:"offer_remaining,omitempty"`
	RideState      ride.State        `json:"ride_state"`
	Ride           *models.Ride      `json:"ride,omitempty"`
	Notifications  channel.State     `json:"notifications"`
	Location       *channel.State    `json:"location,omitempty"`
}

func (s *Session) Snapshot(ctx context.Context) (Status, error) {
	var st Status
	err := s.rt.Do(ctx, func() {
		st = Status{
			DriverID:      s.opts.Identity.DriverID,
			Online:        s.avail.Online(),
			RideState:     s.rides.State(),
			Notifications: s.notif.State(),
		}
		if o, ok := s.offers.Pending(); ok {
			st.Offer = &o
			st.OfferRemaining = s.offers.Remaining()
		}
		if r, ok := s.rides.Current(); ok {
			st.Ride = &r
		}
		if ls, ok := s.location.state(); ok {
			st.Location = &ls
		}
	})
	return st, err
}

// Close logs the session out: both channels close and every timer stops.
// Availability on the server is left as is.
func (s *Session) Close(ctx context.Context) error {
	return s.rt.Do(ctx, func() {
		if s.closed {
			return
		}
		s.closed = true
		s.offers.Reset()
		s.location.Close()
		s.notif.Close()
		s.log.Info("session closed")
	})
}

// await runs start on the loop and waits for its completion callback.
func (s *Session) await(ctx context.Context, start func(done func(error))) error {
	result := make(chan error, 1)
	deliver := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	if err := s.rt.Do(ctx, func() {
		if s.closed {
			deliver(ErrClosed)
			return
		}
		start(deliver)
	}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
