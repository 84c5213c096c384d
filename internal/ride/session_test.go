package ride

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/logging"
	"github.com/example/driver-session/internal/models"
	"github.com/example/driver-session/internal/rideapi"
)

type fakeAPI struct {
	startErr    error
	completeErr error
	active      *models.Ride
	fetchErr    error
	fares       []float64
}

func (f *fakeAPI) StartRide(ctx context.Context, rideID int64) (models.Ride, error) {
	if f.startErr != nil {
		return models.Ride{}, f.startErr
	}
	return models.Ride{ID: rideID, Status: models.RideInProgress}, nil
}

func (f *fakeAPI) CompleteRide(ctx context.Context, rideID int64, fare float64) (models.Ride, error) {
	f.fares = append(f.fares, fare)
	return models.Ride{}, f.completeErr
}

func (f *fakeAPI) FetchActiveRide(ctx context.Context, driverID int64) (*models.Ride, error) {
	return f.active, f.fetchErr
}

// fakeLink fails the test if a ride's channel is opened while another is open.
type fakeLink struct {
	t      *testing.T
	open   bool
	rideID int64
	log    []string
}

func (f *fakeLink) Open(rideID int64) {
	if f.open && f.rideID != rideID {
		f.t.Fatalf("opened ride %d while ride %d still open", rideID, f.rideID)
	}
	f.open, f.rideID = true, rideID
	f.log = append(f.log, fmt.Sprintf("open %d", rideID))
}

func (f *fakeLink) Close() {
	if f.open {
		f.log = append(f.log, fmt.Sprintf("close %d", f.rideID))
	}
	f.open = false
}

type fakeAvail struct{ online bool }

func (f *fakeAvail) ForceOffline() { f.online = false }
func (f *fakeAvail) ForceOnline()  { f.online = true }

type recorder struct {
	updates []*models.Ride
	notices []string
}

func (r *recorder) RideUpdated(ride *models.Ride) { r.updates = append(r.updates, ride) }
func (r *recorder) Notice(level models.NoticeLevel, text string) {
	r.notices = append(r.notices, text)
}

type fixture struct {
	sched       *eventloop.ManualScheduler
	api         *fakeAPI
	link        *fakeLink
	avail       *fakeAvail
	rec         *recorder
	transitions []Transition
	s           *Session
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		sched: eventloop.NewManual(),
		api:   &fakeAPI{},
		link:  &fakeLink{t: t},
		avail: &fakeAvail{online: true},
		rec:   &recorder{},
	}
	f.s = NewSession(Deps{
		Scheduler:    f.sched,
		API:          f.api,
		Location:     f.link,
		Availability: f.avail,
		Signals:      f.rec,
		Identity:     models.DriverIdentity{DriverID: 1},
		Logger:       logging.Discard(),
		OnTransition: func(tr Transition) { f.transitions = append(f.transitions, tr) },
	})
	return f
}

func (f *fixture) requireInvariant(t *testing.T) {
	t.Helper()
	active := f.s.State() == Accepted || f.s.State() == InProgress
	require.Equal(t, active, f.link.open, "location channel open must match active ride state %s", f.s.State())
}

func capture(err *error) func(error) { return func(e error) { *err = e } }

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	f.requireInvariant(t)

	fare := 18.0
	f.s.OnAccepted(models.Ride{ID: 42, Status: models.RideAccepted, Fare: &fare})
	require.Equal(t, Accepted, f.s.State())
	require.Equal(t, int64(42), f.link.rideID)
	require.False(t, f.avail.online)
	f.requireInvariant(t)

	var err error
	f.s.Start(capture(&err))
	require.NoError(t, err)
	require.Equal(t, InProgress, f.s.State())
	cur, ok := f.s.Current()
	require.True(t, ok)
	require.Equal(t, models.RideInProgress, cur.Status)
	require.Equal(t, &fare, cur.Fare)
	f.requireInvariant(t)

	f.s.Complete(0, capture(&err))
	require.NoError(t, err)
	require.Equal(t, Idle, f.s.State())
	require.Equal(t, []float64{18}, f.api.fares)
	require.True(t, f.avail.online)
	_, ok = f.s.Current()
	require.False(t, ok)
	f.requireInvariant(t)

	require.Equal(t, []string{"open 42", "close 42"}, f.link.log)
	require.Nil(t, f.rec.updates[len(f.rec.updates)-1])

	var tos []models.RideStatus
	for _, tr := range f.transitions {
		tos = append(tos, tr.To)
	}
	require.Equal(t, []models.RideStatus{models.RideAccepted, models.RideInProgress, models.RideCompleted}, tos)
	require.Equal(t, InProgress, f.transitions[2].From)
}

func TestActionsInWrongStateAreStale(t *testing.T) {
	f := newFixture(t)
	var err error
	f.s.Start(capture(&err))
	require.ErrorIs(t, err, ErrStaleRide)
	f.s.Complete(10, capture(&err))
	require.ErrorIs(t, err, ErrStaleRide)

	f.s.OnAccepted(models.Ride{ID: 1})
	f.s.Complete(10, capture(&err))
	require.ErrorIs(t, err, ErrStaleRide)
	require.Empty(t, f.api.fares)
	require.Equal(t, Accepted, f.s.State())
}

func TestStartFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.api.startErr = fmt.Errorf("%w: dial tcp", rideapi.ErrTransport)
	f.s.OnAccepted(models.Ride{ID: 3})

	var err error
	f.s.Start(capture(&err))
	require.ErrorIs(t, err, rideapi.ErrTransport)
	require.Equal(t, Accepted, f.s.State())
	require.Contains(t, f.rec.notices, "Error starting ride")
	f.requireInvariant(t)
}

func TestCompleteFailureKeepsRide(t *testing.T) {
	f := newFixture(t)
	f.api.completeErr = &rideapi.RejectedError{Status: 400, Detail: "nope"}
	f.s.OnAccepted(models.Ride{ID: 3})
	f.s.Start(nil)

	var err error
	f.s.Complete(12, capture(&err))
	require.ErrorIs(t, err, rideapi.ErrRejected)
	require.Equal(t, InProgress, f.s.State())
	require.False(t, f.avail.online)
	f.requireInvariant(t)
}

func TestCancelledFromAnyState(t *testing.T) {
	for _, start := range []bool{false, true} {
		f := newFixture(t)
		f.s.OnAccepted(models.Ride{ID: 5})
		if start {
			f.s.Start(nil)
		}
		f.s.OnCancelled(99)
		require.NotEqual(t, Idle, f.s.State())

		f.s.OnCancelled(5)
		require.Equal(t, Idle, f.s.State())
		require.True(t, f.avail.online)
		f.requireInvariant(t)
		require.Equal(t, models.RideCancelled, f.transitions[len(f.transitions)-1].To)
	}
}

func TestCancelWhileStartInFlight(t *testing.T) {
	f := newFixture(t)
	f.sched.Deferred = true
	f.s.OnAccepted(models.Ride{ID: 5})

	var err error
	f.s.Start(capture(&err))
	f.s.OnCancelled(5)
	f.sched.Flush()

	require.ErrorIs(t, err, ErrStaleRide)
	require.Equal(t, Idle, f.s.State())
	f.requireInvariant(t)
}

func TestAcceptedRideNeverReplacesActiveOne(t *testing.T) {
	for _, start := range []bool{false, true} {
		f := newFixture(t)
		require.NoError(t, f.s.OnAccepted(models.Ride{ID: 1}))
		require.NoError(t, f.s.OnAccepted(models.Ride{ID: 1}))
		if start {
			f.s.Start(nil)
		}
		want := f.s.State()
		updates := len(f.rec.updates)
		transitions := len(f.transitions)

		require.ErrorIs(t, f.s.OnAccepted(models.Ride{ID: 2}), ErrStaleRide)
		require.Equal(t, want, f.s.State())
		cur, ok := f.s.Current()
		require.True(t, ok)
		require.Equal(t, int64(1), cur.ID)
		require.Equal(t, []string{"open 1"}, f.link.log)
		require.Len(t, f.rec.updates, updates)
		require.Len(t, f.transitions, transitions)
		require.Contains(t, f.rec.notices, "Finish the current ride before taking another")
		f.requireInvariant(t)
	}
}

func TestResumeActiveRide(t *testing.T) {
	f := newFixture(t)
	f.api.active = &models.Ride{ID: 12, Status: models.RideInProgress}

	var err error
	f.s.Resume(capture(&err))
	require.NoError(t, err)
	require.Equal(t, InProgress, f.s.State())
	require.Equal(t, int64(12), f.link.rideID)
	require.False(t, f.avail.online)

	f.api.active = &models.Ride{ID: 13, Status: models.RideAccepted}
	f.s.Resume(capture(&err))
	cur, _ := f.s.Current()
	require.Equal(t, int64(12), cur.ID)
}

func TestResumeNothingOrFailure(t *testing.T) {
	f := newFixture(t)
	var err error
	f.s.Resume(capture(&err))
	require.NoError(t, err)
	require.Equal(t, Idle, f.s.State())

	f.api.fetchErr = fmt.Errorf("%w: refused", rideapi.ErrTransport)
	f.s.Resume(capture(&err))
	require.ErrorIs(t, err, rideapi.ErrTransport)
	require.Equal(t, Idle, f.s.State())
	require.True(t, f.avail.online)
}
