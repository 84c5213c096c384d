package presenter

import (
	"log/slog"

	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/models"
)

// Signals is everything the session tells the driver-facing UI.
type Signals interface {
	OfferDisplayed(o models.RideOffer)
	OfferCleared(rideID int64, reason models.ClearReason)
	OfferETA(rideID int64, seconds int)
	Tick(rideID int64, t models.Tick)
	RideUpdated(r *models.Ride)
	AvailabilityChanged(online bool)
	ChannelStatus(name string, st channel.State)
	Notice(level models.NoticeLevel, text string)
}

// Fanout forwards every signal to each member in order.
type Fanout []Signals

func (f Fanout) OfferDisplayed(o models.RideOffer) {
	for _, s := range f {
		s.OfferDisplayed(o)
	}
}

func (f Fanout) OfferCleared(rideID int64, reason models.ClearReason) {
	for _, s := range f {
		s.OfferCleared(rideID, reason)
	}
}

func (f Fanout) OfferETA(rideID int64, seconds int) {
	for _, s := range f {
		s.OfferETA(rideID, seconds)
	}
}

func (f Fanout) Tick(rideID int64, t models.Tick) {
	for _, s := range f {
		s.Tick(rideID, t)
	}
}

func (f Fanout) RideUpdated(r *models.Ride) {
	for _, s := range f {
		s.RideUpdated(r)
	}
}

func (f Fanout) AvailabilityChanged(online bool) {
	for _, s := range f {
		s.AvailabilityChanged(online)
	}
}

func (f Fanout) ChannelStatus(name string, st channel.State) {
	for _, s := range f {
		s.ChannelStatus(name, st)
	}
}

func (f Fanout) Notice(level models.NoticeLevel, text string) {
	for _, s := range f {
		s.Notice(level, text)
	}
}

// Log writes signals to a structured logger. Ticks are logged at debug.
type Log struct {
	Logger *slog.Logger
}

func (l Log) OfferDisplayed(o models.RideOffer) {
	l.Logger.Info("offer displayed", "ride_id", o.RideID, "pickup", o.PickupLocation, "dropoff", o.DropoffLocation, "expires_in", o.ExpiresInSeconds)
}

func (l Log) OfferCleared(rideID int64, reason models.ClearReason) {
	l.Logger.Info("offer cleared", "ride_id", rideID, "reason", string(reason))
}

func (l Log) OfferETA(rideID int64, seconds int) {
	l.Logger.Debug("offer eta", "ride_id", rideID, "seconds", seconds)
}

func (l Log) Tick(rideID int64, t models.Tick) {
	if t.BecameUrgent {
		l.Logger.Info("offer urgent", "ride_id", rideID, "remaining", t.Remaining)
		return
	}
	l.Logger.Debug("offer tick", "ride_id", rideID, "remaining", t.Remaining)
}

func (l Log) RideUpdated(r *models.Ride) {
	if r == nil {
		l.Logger.Info("no active ride")
		return
	}
	l.Logger.Info("ride updated", "ride_id", r.ID, "status", string(r.Status))
}

func (l Log) AvailabilityChanged(online bool) {
	l.Logger.Info("availability", "online", online)
}

func (l Log) ChannelStatus(name string, st channel.State) {
	l.Logger.Info("channel status", "channel", name, "status", st.Status.String(), "reconnect_scheduled", st.ReconnectScheduled)
}

func (l Log) Notice(level models.NoticeLevel, text string) {
	switch level {
	case models.NoticeError:
		l.Logger.Error("notice", "text", text)
	case models.NoticeWarning:
		l.Logger.Warn("notice", "text", text)
	default:
		l.Logger.Info("notice", "level", string(level), "text", text)
	}
}
