package session

import (
	"context"
	"fmt"

	"github.com/example/driver-session/internal/channel"
	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
)

// locationLink streams position samples for the active ride. Each ride gets
// a fresh channel so a late event from a previous ride cannot leak in.
type locationLink struct {
	s       *Session
	ch      *channel.Channel
	rideID  int64
	active  bool
	cadence eventloop.Timer
}

func (l *locationLink) Open(rideID int64) {
	if l.active && l.rideID == rideID {
		return
	}
	l.Close()
	s := l.s
	l.active, l.rideID = true, rideID
	ch := channel.New(channel.Options{
		Name:      locationChannel,
		Dialer:    s.opts.Dialer,
		Scheduler: s.rt,
		Logger:    s.log.With("ride_id", rideID),
		ShouldConnect: func() bool {
			return l.active && l.rideID == rideID && l.ch != nil
		},
		ReconnectDelay: s.opts.ReconnectDelay,
	})
	l.ch = ch
	ch.Open(s.opts.WSURL+fmt.Sprintf("/ws/ride/%d/driver", rideID), l.onMessage, func(st channel.State) {
		l.onStatus(ch, st)
	})
}

func (l *locationLink) Close() {
	if !l.active {
		return
	}
	l.active = false
	l.stopCadence()
	ch := l.ch
	l.ch = nil
	ch.Close()
}

func (l *locationLink) state() (channel.State, bool) {
	if l.ch == nil {
		return channel.State{}, false
	}
	return l.ch.State(), true
}

func (l *locationLink) onMessage(raw []byte) {
	// the driver side of the ride stream carries nothing for us yet
	l.s.log.Debug("location channel message ignored", "bytes", len(raw))
}

func (l *locationLink) onStatus(ch *channel.Channel, st channel.State) {
	l.s.opts.Signals.ChannelStatus(locationChannel, st)
	if ch != l.ch {
		return
	}
	if st.Status == channel.StatusOpen {
		l.armCadence(ch)
		return
	}
	l.stopCadence()
}

func (l *locationLink) armCadence(ch *channel.Channel) {
	if l.cadence != nil {
		return
	}
	l.cadence = l.s.rt.AfterFunc(l.s.opts.LocationInterval, func() {
		l.cadence = nil
		l.sample(ch)
	})
}

func (l *locationLink) stopCadence() {
	if l.cadence != nil {
		l.cadence.Stop()
		l.cadence = nil
	}
}

// sample sends the latest position, if any. No sample means no message.
func (l *locationLink) sample(ch *channel.Channel) {
	if ch != l.ch || ch.State().Status != channel.StatusOpen {
		return
	}
	l.armCadence(ch)
	src := l.s.opts.Positions
	if src == nil {
		return
	}
	var (
		pos models.Coord
		ok  bool
	)
	rideID := l.rideID
	l.s.rt.Go(func() {
		ctx, cancel := context.WithTimeout(l.s.opts.Base, l.s.opts.LocationInterval)
		defer cancel()
		pos, ok = src.Latest(ctx)
	}, func() {
		if !ok || ch != l.ch {
			return
		}
		if !ch.Send(models.LocationUpdate{Latitude: pos.Lat, Longitude: pos.Lon}) {
			return
		}
		observability.LocationSamplesSent.Inc()
		tel, driverID, log := l.s.opts.Telemetry, l.s.opts.Identity.DriverID, l.s.log
		l.s.rt.Go(func() {
			if err := tel.PublishLocation(l.s.opts.Base, driverID, rideID, pos); err != nil {
				log.Debug("telemetry publish failed", "error", err)
			}
		}, nil)
	})
}
