package rideapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/driver-session/internal/models"
)

func TestAcceptRideDecodesEnvelope(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/rides/42/accept", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"success":true,"ride":{"id":42,"status":"accepted","start_location":"A","end_location":"B","rider_id":3,"rider":{"username":"ann"}}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/api", "tok", time.Second)
	ride, err := c.AcceptRide(context.Background(), 42, 7)
	require.NoError(t, err)
	require.Equal(t, float64(7), gotBody["driver_id"])
	require.Equal(t, int64(42), ride.ID)
	require.Equal(t, models.RideAccepted, ride.Status)
	require.Equal(t, "A", ride.Pickup)
	require.Equal(t, "ann", ride.RiderName)
}

func TestAcceptRideBareRide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":5,"status":"accepted","start_lat":1.5,"start_lng":2.5}`))
	}))
	defer srv.Close()

	ride, err := NewHTTPClient(srv.URL, "", time.Second).AcceptRide(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), ride.ID)
	require.Equal(t, &models.Coord{Lat: 1.5, Lon: 2.5}, ride.PickupCoord)
}

func TestRejectionCarriesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"Ride cannot be accepted (current status: accepted)"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, "", time.Second).AcceptRide(context.Background(), 5, 1)
	require.ErrorIs(t, err, ErrRejected)
	require.False(t, errors.Is(err, ErrTransport))
	require.Equal(t, "Ride cannot be accepted (current status: accepted)", Detail(err))
}

func TestSuccessFalseIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"already taken"}`))
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, "", time.Second).DeclineRide(context.Background(), 5, 1)
	require.ErrorIs(t, err, ErrRejected)
	require.Equal(t, "already taken", Detail(err))
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, "", time.Second).StartRide(context.Background(), 1)
	require.ErrorIs(t, err, ErrTransport)
}

func TestCompleteRideSendsFare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rides/9/complete", r.URL.Path)
		require.Equal(t, "23.50", r.URL.Query().Get("fare"))
		w.Write([]byte(`{"id":9,"status":"completed","fare":23.5}`))
	}))
	defer srv.Close()

	ride, err := NewHTTPClient(srv.URL, "", time.Second).CompleteRide(context.Background(), 9, 23.5)
	require.NoError(t, err)
	require.Equal(t, models.RideCompleted, ride.Status)
}

func TestFetchActiveRideFallsBackToInProgress(t *testing.T) {
	var statuses []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "11", r.URL.Query().Get("driver_id"))
		st := r.URL.Query().Get("status")
		statuses = append(statuses, st)
		if st == "in_progress" {
			w.Write([]byte(`[{"id":77,"start_location":"X","end_location":"Y"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	ride, err := NewHTTPClient(srv.URL, "", time.Second).FetchActiveRide(context.Background(), 11)
	require.NoError(t, err)
	require.NotNil(t, ride)
	require.Equal(t, int64(77), ride.ID)
	require.Equal(t, models.RideInProgress, ride.Status)
	require.Equal(t, []string{"accepted", "in_progress"}, statuses)
}

func TestFetchActiveRideNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	ride, err := NewHTTPClient(srv.URL, "", time.Second).FetchActiveRide(context.Background(), 11)
	require.NoError(t, err)
	require.Nil(t, ride)
}
