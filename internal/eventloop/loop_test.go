package eventloop

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(16, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx)
	return l
}

func TestLoopDoRunsOnLoop(t *testing.T) {
	l := newTestLoop(t)
	var order []int
	require.NoError(t, l.Do(context.Background(), func() { order = append(order, 1) }))
	require.True(t, l.Post(func() { order = append(order, 2) }))
	require.NoError(t, l.Do(context.Background(), func() { order = append(order, 3) }))
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestLoopStopSuppressesQueuedCallback(t *testing.T) {
	l := newTestLoop(t)
	fired, stopped := false, false
	require.NoError(t, l.Do(context.Background(), func() {
		tm := l.AfterFunc(time.Millisecond, func() { fired = true })
		// the timer goroutine queues the callback while we still hold the loop
		time.Sleep(30 * time.Millisecond)
		stopped = tm.Stop()
	}))
	require.True(t, stopped)
	require.NoError(t, l.Do(context.Background(), func() {}))
	require.False(t, fired)
}

func TestLoopGoDeliversThenOnLoop(t *testing.T) {
	l := newTestLoop(t)
	done := make(chan int, 1)
	require.NoError(t, l.Do(context.Background(), func() {
		v := 0
		l.Go(func() { v = 42 }, func() { done <- v })
	}))
	select {
	case v := <-done:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("then never ran")
	}
}

func TestLoopSurvivesPanic(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, l.Do(context.Background(), func() { panic("boom") }))
	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	require.True(t, ran)
}

func TestLoopDoAfterStop(t *testing.T) {
	l := New(1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { l.Run(ctx); close(stopped) }()
	cancel()
	<-stopped
	require.ErrorIs(t, l.Do(context.Background(), func() {}), ErrStopped)
}

func TestManualAdvanceFiresInOrder(t *testing.T) {
	m := NewManual()
	var got []string
	m.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	m.AfterFunc(time.Second, func() {
		got = append(got, "a")
		m.AfterFunc(500*time.Millisecond, func() { got = append(got, "a2") })
	})
	stopped := m.AfterFunc(1500*time.Millisecond, func() { got = append(got, "never") })
	require.True(t, stopped.Stop())
	require.False(t, stopped.Stop())

	m.Advance(1999 * time.Millisecond)
	require.Equal(t, []string{"a", "a2"}, got)
	m.Advance(time.Millisecond)
	require.Equal(t, []string{"a", "a2", "b"}, got)
	require.Equal(t, 0, m.Armed())
}

func TestManualDeferredGo(t *testing.T) {
	m := NewManual()
	m.Deferred = true
	steps := 0
	m.Go(func() { steps++ }, func() { steps *= 10 })
	require.Equal(t, 0, steps)
	m.Flush()
	require.Equal(t, 10, steps)
}
