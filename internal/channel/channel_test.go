package channel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/logging"
)

type fakeConn struct {
	sent   []any
	closed int
}

func (f *fakeConn) Send(v any) error { f.sent = append(f.sent, v); return nil }
func (f *fakeConn) Close() error     { f.closed++; return nil }

type fakeDialer struct {
	endpoints []string
	events    []Events
}

func (f *fakeDialer) Dial(endpoint string, ev Events) {
	f.endpoints = append(f.endpoints, endpoint)
	f.events = append(f.events, ev)
}

func (f *fakeDialer) last() Events { return f.events[len(f.events)-1] }

type harness struct {
	sched    *eventloop.ManualScheduler
	dialer   *fakeDialer
	ch       *Channel
	want     bool
	messages [][]byte
	states   []State
}

func newHarness(t *testing.T, heartbeat bool) *harness {
	t.Helper()
	h := &harness{sched: eventloop.NewManual(), dialer: &fakeDialer{}, want: true}
	opts := Options{
		Name:          "test",
		Dialer:        h.dialer,
		Scheduler:     h.sched,
		Logger:        logging.Discard(),
		ShouldConnect: func() bool { return h.want },
	}
	if heartbeat {
		opts.Heartbeat = func() any { return "ping" }
	}
	h.ch = New(opts)
	return h
}

func (h *harness) open(endpoint string) {
	h.ch.Open(endpoint,
		func(b []byte) { h.messages = append(h.messages, b) },
		func(s State) { h.states = append(h.states, s) })
}

func TestOpenAndHeartbeat(t *testing.T) {
	h := newHarness(t, true)
	h.open("ws://x/a")
	require.Equal(t, StatusConnecting, h.ch.State().Status)

	conn := &fakeConn{}
	h.dialer.last().OnOpen(conn)
	require.Equal(t, StatusOpen, h.ch.State().Status)

	h.sched.Advance(29 * time.Second)
	require.Empty(t, conn.sent)
	h.sched.Advance(time.Second)
	require.Equal(t, []any{"ping"}, conn.sent)
	h.sched.Advance(30 * time.Second)
	require.Len(t, conn.sent, 2)

	h.dialer.last().OnMessage([]byte(`{"type":"x"}`))
	require.Len(t, h.messages, 1)

	require.Equal(t, []State{{Status: StatusConnecting}, {Status: StatusOpen}}, h.states)
}

func TestSendWhenNotOpenIsDropped(t *testing.T) {
	h := newHarness(t, false)
	require.False(t, h.ch.Send("hello"))
	h.open("ws://x/a")
	require.False(t, h.ch.Send("hello"))

	conn := &fakeConn{}
	h.dialer.last().OnOpen(conn)
	require.True(t, h.ch.Send("hello"))
	require.Equal(t, []any{"hello"}, conn.sent)
}

func TestAbnormalCloseReconnectsAfterOneDelay(t *testing.T) {
	h := newHarness(t, true)
	h.open("ws://x/a")
	h.dialer.last().OnOpen(&fakeConn{})

	h.dialer.last().OnClose(errors.New("abnormal closure"))
	require.Equal(t, State{Status: StatusClosed, ReconnectScheduled: true}, h.ch.State())

	// a second close report for the same connection must not arm another timer
	h.dialer.events[0].OnClose(errors.New("again"))
	require.Equal(t, 1, h.sched.Armed())

	h.sched.Advance(5*time.Second - time.Millisecond)
	require.Len(t, h.dialer.endpoints, 1)
	h.sched.Advance(time.Millisecond)
	require.Len(t, h.dialer.endpoints, 2)
	require.Equal(t, "ws://x/a", h.dialer.endpoints[1])
	require.Equal(t, State{Status: StatusConnecting}, h.ch.State())

	h.dialer.last().OnOpen(&fakeConn{})
	require.Equal(t, StatusOpen, h.ch.State().Status)
}

func TestReconnectSkippedWhenPredicateFlips(t *testing.T) {
	h := newHarness(t, false)
	h.open("ws://x/a")
	h.dialer.last().OnOpen(&fakeConn{})
	h.dialer.last().OnClose(errors.New("reset"))

	h.sched.Advance(2 * time.Second)
	h.want = false
	h.sched.Advance(10 * time.Second)

	require.Len(t, h.dialer.endpoints, 1)
	require.Equal(t, State{Status: StatusClosed}, h.ch.State())
}

func TestRepeatedFailuresUseFixedDelay(t *testing.T) {
	h := newHarness(t, false)
	h.open("ws://x/a")
	for i := 1; i <= 4; i++ {
		h.dialer.last().OnClose(errors.New("dial refused"))
		h.sched.Advance(5 * time.Second)
		require.Len(t, h.dialer.endpoints, i+1)
	}
}

func TestCloseCancelsReconnectAndIsIdempotent(t *testing.T) {
	h := newHarness(t, true)
	h.open("ws://x/a")
	conn := &fakeConn{}
	h.dialer.last().OnOpen(conn)
	h.dialer.last().OnClose(errors.New("reset"))
	require.True(t, h.ch.State().ReconnectScheduled)

	h.ch.Close()
	h.ch.Close()
	require.Equal(t, State{Status: StatusClosed}, h.ch.State())
	require.Equal(t, 0, h.sched.Armed())

	h.sched.Advance(time.Minute)
	require.Len(t, h.dialer.endpoints, 1)
}

func TestDeliberateCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t, true)
	h.open("ws://x/a")
	conn := &fakeConn{}
	ev := h.dialer.last()
	ev.OnOpen(conn)

	h.ch.Close()
	require.Equal(t, 1, conn.closed)

	// the read pump reports the close we caused; it belongs to a dead generation
	ev.OnClose(errors.New("use of closed connection"))
	ev.OnMessage([]byte("late"))
	require.False(t, h.ch.State().ReconnectScheduled)
	require.Empty(t, h.messages)

	h.sched.Advance(time.Minute)
	require.Len(t, h.dialer.endpoints, 1)
	require.Empty(t, conn.sent)
}

func TestLateOpenAfterCloseIsDiscarded(t *testing.T) {
	h := newHarness(t, false)
	h.open("ws://x/a")
	ev := h.dialer.last()
	h.ch.Close()

	conn := &fakeConn{}
	ev.OnOpen(conn)
	require.Equal(t, 1, conn.closed)
	require.Equal(t, StatusClosed, h.ch.State().Status)
}

func TestOpenIsIdempotentForSameEndpoint(t *testing.T) {
	h := newHarness(t, false)
	h.open("ws://x/a")
	h.open("ws://x/a")
	require.Len(t, h.dialer.endpoints, 1)

	old := &fakeConn{}
	h.dialer.last().OnOpen(old)
	h.open("ws://x/b")
	require.Equal(t, 1, old.closed)
	require.Equal(t, []string{"ws://x/a", "ws://x/b"}, h.dialer.endpoints)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "closed", StatusClosed.String())
	require.Equal(t, "connecting", StatusConnecting.String())
	require.Equal(t, "open", StatusOpen.String())
}
