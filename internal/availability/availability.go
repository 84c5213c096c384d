package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/observability"
)

const DefaultActionTimeout = 10 * time.Second

// NotificationChannel is the offer push channel. Connect must be
// idempotent; Close also abandons any pending offer.
type NotificationChannel interface {
	Connect()
	Close()
}

type API interface {
	SetAvailability(ctx context.Context, driverID int64, online bool) error
}

type Signals interface {
	AvailabilityChanged(online bool)
	Notice(level models.NoticeLevel, text string)
}

type Deps struct {
	Scheduler     eventloop.Scheduler
	API           API
	Notifications NotificationChannel
	Signals       Signals
	Identity      models.DriverIdentity
	Logger        *slog.Logger
	Base          context.Context
	ActionTimeout time.Duration
}

// Availability owns the online flag and, through it, whether the
// notification channel should exist.
type Availability struct {
	deps           Deps
	log            *slog.Logger
	online         bool
	offlinePending bool
}

func New(deps Deps) *Availability {
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
	return &Availability{deps: deps, log: log.With("component", "availability")}
}

func (a *Availability) Online() bool { return a.online }

// ShouldConnect is the notification channel's reconnect predicate.
func (a *Availability) ShouldConnect() bool { return a.online && !a.offlinePending }

// GoOnline reports availability to the server and then opens the
// notification channel. Nothing changes locally if the server call fails.
func (a *Availability) GoOnline(done func(error)) {
	var err error
	a.report(true, &err, func() {
		if err != nil {
			a.log.Error("go online failed", "error", err)
			a.deps.Signals.Notice(models.NoticeError, "Could not go online")
			finish(done, fmt.Errorf("go online: %w", err))
			return
		}
		a.offlinePending = false
		a.set(true)
		a.deps.Notifications.Connect()
		a.deps.Signals.Notice(models.NoticeSuccess, "You are now online!")
		finish(done, nil)
	})
}

// GoOffline closes the notification channel at once, then clears the
// online flag once the server call returns, whatever its outcome.
func (a *Availability) GoOffline(done func(error)) {
	a.offlinePending = true
	a.deps.Notifications.Close()
	var err error
	a.report(false, &err, func() {
		a.offlinePending = false
		a.set(false)
		a.deps.Notifications.Close()
		if err != nil {
			a.log.Warn("server did not confirm offline", "error", err)
			a.deps.Signals.Notice(models.NoticeWarning, "You are offline, but the server could not be told")
			finish(done, fmt.Errorf("go offline: %w", err))
			return
		}
		a.deps.Signals.Notice(models.NoticeInfo, "You are now offline")
		finish(done, nil)
	})
}

// ForceOffline is applied when a ride is accepted.
func (a *Availability) ForceOffline() {
	a.set(false)
	a.deps.Notifications.Close()
}

// ForceOnline is applied when a ride ends.
func (a *Availability) ForceOnline() {
	a.offlinePending = false
	a.set(true)
	a.deps.Notifications.Connect()
}

func (a *Availability) report(online bool, err *error, then func()) {
	driverID := a.deps.Identity.DriverID
	a.deps.Scheduler.Go(func() {
		ctx, cancel := context.WithTimeout(a.deps.Base, a.deps.ActionTimeout)
		defer cancel()
		*err = a.deps.API.SetAvailability(ctx, driverID, online)
	}, then)
}

func (a *Availability) set(online bool) {
	if online {
		observability.DriverOnline.Set(1)
	} else {
		observability.DriverOnline.Set(0)
	}
	if a.online == online {
		return
	}
	a.online = online
	a.log.Info("availability changed", "online", online)
	a.deps.Signals.AvailabilityChanged(online)
}

func finish(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
