package eta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/driver-session/internal/models"
)

type stubClient struct {
	v     float64
	err   error
	calls int
}

func (s *stubClient) EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	s.calls++
	return s.v, s.err
}

func TestEstimatorUsesClientThenCache(t *testing.T) {
	c := &stubClient{v: 120}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute)}
	a, b := models.Coord{Lat: 12.97, Lon: 77.59}, models.Coord{Lat: 12.98, Lon: 77.60}

	require.Equal(t, 120.0, e.PickupSeconds(context.Background(), a, b))
	require.Equal(t, 120.0, e.PickupSeconds(context.Background(), a, b))
	require.Equal(t, 1, c.calls)
}

func TestEstimatorFallsBackToStraightLine(t *testing.T) {
	e := &Estimator{Client: &stubClient{err: errors.New("down")}, SpeedMps: 10}
	a, b := models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0, Lon: 0.01}
	got := e.PickupSeconds(context.Background(), a, b)
	require.InDelta(t, EstimateSeconds(a, b, 10), got, 0.001)
	require.Greater(t, got, 0.0)
}

func TestOSRMClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/route/v1/driving/")
		w.Write([]byte(`{"code":"Ok","routes":[{"duration":321.5}]}`))
	}))
	defer srv.Close()

	v, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), models.Coord{}, models.Coord{Lat: 1, Lon: 1})
	require.NoError(t, err)
	require.Equal(t, 321.5, v)
}

func TestOSRMNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), models.Coord{}, models.Coord{})
	require.Error(t, err)
}
