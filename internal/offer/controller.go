package offer

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

// ErrStaleOffer is returned for accept/decline on an offer that is not the
// pending one, e.g. a click that lands after expiry.
var ErrStaleOffer = errors.New("offer is not pending")

const DefaultActionTimeout = 10 * time.Second

// API is the part of the ride-action service the controller needs.
type API interface {
	AcceptRide(ctx context.Context, rideID, driverID int64) (models.Ride, error)
	DeclineRide(ctx context.Context, rideID, driverID int64) error
}

// RideSink takes ownership of an accepted ride. It returns an error when
// it cannot take the ride over.
type RideSink interface {
	OnAccepted(r models.Ride) error
}

type Signals interface {
	OfferDisplayed(o models.RideOffer)
	OfferCleared(rideID int64, reason models.ClearReason)
	Tick(rideID int64, t models.Tick)
	Notice(level models.NoticeLevel, text string)
}

type Deps struct {
	Scheduler     eventloop.Scheduler
	API           API
	Rides         RideSink
	Signals       Signals
	Identity      models.DriverIdentity
	Logger        *slog.Logger
	Base          context.Context
	ActionTimeout time.Duration
}

// Controller owns at most one pending offer. Methods run on the session loop.
type Controller struct {
	deps     Deps
	log      *slog.Logger
	timer    *Timer
	pending  *models.RideOffer
	deciding int64
}

func NewController(deps Deps) *Controller {
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
	return &Controller{deps: deps, log: log.With("component", "offers"), timer: NewTimer(deps.Scheduler)}
}

// Pending returns the live offer, if any.
func (c *Controller) Pending() (models.RideOffer, bool) {
	if c.pending == nil {
		return models.RideOffer{}, false
	}
	return *c.pending, true
}

// Remaining is the local countdown for the pending offer.
func (c *Controller) Remaining() int {
	if c.pending == nil {
		return 0
	}
	return c.timer.Remaining()
}

func (c *Controller) OnOfferReceived(o models.RideOffer) {
	if c.pending != nil {
		c.clear(models.ClearSuperseded)
	}
	observability.OffersReceived.Inc()
	c.pending = &o
	c.log.Info("ride offer received", "ride_id", o.RideID, "expires_in", o.ExpiresInSeconds)
	c.deps.Signals.OfferDisplayed(o)

	rideID := o.RideID
	onTick := func(t models.Tick) { c.deps.Signals.Tick(rideID, t) }
	if err := c.timer.Start(o.ExpiresInSeconds, onTick, c.onLocalTimerExpiry); err != nil {
		c.log.Error("offer timer not started, dropping offer", "ride_id", rideID, "error", err)
		c.clear(models.ClearExpired)
	}
}

// OnOfferExpiredFromServer wins over the local countdown whenever it
// arrives first.
func (c *Controller) OnOfferExpiredFromServer(rideID int64) {
	if c.pending == nil || c.pending.RideID != rideID {
		c.log.Debug("server expiry for offer not pending", "ride_id", rideID)
		return
	}
	c.log.Info("offer expired by server", "ride_id", rideID)
	c.clear(models.ClearServerExpired)
}

func (c *Controller) onLocalTimerExpiry() {
	if c.pending == nil {
		return
	}
	c.log.Info("offer timed out locally", "ride_id", c.pending.RideID)
	c.clear(models.ClearExpired)
	c.deps.Signals.Notice(models.NoticeInfo, "Ride offer expired")
}

// Accept asks the server for the pending ride. done receives nil on
// success, ErrStaleOffer, or an error wrapping rideapi.ErrRejected or
// rideapi.ErrTransport. A transport failure keeps the offer pending so the
// driver can try again before it expires.
func (c *Controller) Accept(rideID int64, done func(error)) {
	if c.pending == nil || c.pending.RideID != rideID || c.deciding == rideID {
		c.log.Debug("accept ignored, offer not pending", "ride_id", rideID)
		finish(done, ErrStaleOffer)
		return
	}
	c.observeDecision()
	c.deciding = rideID

	var (
		ride models.Ride
		err  error
	)
	driverID := c.deps.Identity.DriverID
	c.deps.Scheduler.Go(func() {
		ctx, cancel := context.WithTimeout(c.deps.Base, c.deps.ActionTimeout)
		defer cancel()
		ride, err = c.deps.API.AcceptRide(ctx, rideID, driverID)
	}, func() {
		c.finishAccept(rideID, ride, err, done)
	})
}

func (c *Controller) finishAccept(rideID int64, ride models.Ride, err error, done func(error)) {
	if c.deciding == rideID {
		c.deciding = 0
	}
	current := c.pending != nil && c.pending.RideID == rideID
	switch {
	case err == nil:
		if ride.ID == 0 {
			ride.ID = rideID
		}
		if ride.Status == "" {
			ride.Status = models.RideAccepted
		}
		if current {
			c.clear(models.ClearAccepted)
		}
		if err := c.deps.Rides.OnAccepted(ride); err != nil {
			c.log.Warn("accepted ride not taken over", "ride_id", rideID, "error", err)
			finish(done, fmt.Errorf("accept ride %d: %w", rideID, err))
			return
		}
		c.log.Info("ride accepted", "ride_id", rideID)
		c.deps.Signals.Notice(models.NoticeSuccess, "Ride accepted")
		finish(done, nil)
	case errors.Is(err, rideapi.ErrRejected):
		observability.ActionFailures.WithLabelValues("accept", "rejected").Inc()
		if current {
			c.clear(models.ClearRejected)
		}
		c.log.Info("accept rejected", "ride_id", rideID, "error", err)
		c.deps.Signals.Notice(models.NoticeError, rideapi.Detail(err))
		finish(done, fmt.Errorf("accept ride %d: %w", rideID, err))
	default:
		observability.ActionFailures.WithLabelValues("accept", "transport").Inc()
		c.log.Error("accept failed", "ride_id", rideID, "error", err)
		c.deps.Signals.Notice(models.NoticeError, "Error accepting ride")
		finish(done, fmt.Errorf("accept ride %d: %w", rideID, err))
	}
}

// Decline clears the offer at once and tells the server in the background.
func (c *Controller) Decline(rideID int64, done func(error)) {
	if c.pending == nil || c.pending.RideID != rideID || c.deciding == rideID {
		c.log.Debug("decline ignored, offer not pending", "ride_id", rideID)
		finish(done, ErrStaleOffer)
		return
	}
	c.observeDecision()
	c.clear(models.ClearDeclined)
	finish(done, nil)

	var err error
	driverID := c.deps.Identity.DriverID
	c.deps.Scheduler.Go(func() {
		ctx, cancel := context.WithTimeout(c.deps.Base, c.deps.ActionTimeout)
		defer cancel()
		err = c.deps.API.DeclineRide(ctx, rideID, driverID)
	}, func() {
		switch {
		case err == nil:
			c.deps.Signals.Notice(models.NoticeInfo, "Ride declined - looking for another match")
		case errors.Is(err, rideapi.ErrRejected):
			observability.ActionFailures.WithLabelValues("decline", "rejected").Inc()
			c.deps.Signals.Notice(models.NoticeWarning, "Error declining: "+rideapi.Detail(err))
		default:
			observability.ActionFailures.WithLabelValues("decline", "transport").Inc()
			c.log.Warn("decline not delivered", "ride_id", rideID, "error", err)
		}
	})
}

// Reset abandons the pending offer. Used when the notification channel is
// shut down.
func (c *Controller) Reset() {
	if c.pending != nil {
		c.clear(models.ClearAbandoned)
	}
}

func (c *Controller) clear(reason models.ClearReason) {
	c.timer.Cancel()
	rideID := c.pending.RideID
	c.pending = nil
	observability.OffersCleared.WithLabelValues(string(reason)).Inc()
	c.deps.Signals.OfferCleared(rideID, reason)
}

func (c *Controller) observeDecision() {
	used := c.pending.ExpiresInSeconds - c.timer.Remaining()
	observability.OfferDecisionSeconds.Observe(float64(used))
}

func finish(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
