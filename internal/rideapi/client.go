package rideapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/driver-session/internal/models"
)

var (
	// ErrRejected means the service answered and refused the action.
	ErrRejected = errors.New("rejected by ride service")
	// ErrTransport means the request never got an answer.
	ErrTransport = errors.New("ride service unreachable")
)

type RejectedError struct {
	Status int
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ride service rejected request (status %d): %s", e.Status, e.Detail)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Detail returns a message suitable for the driver.
func Detail(err error) string {
	var re *RejectedError
	if errors.As(err, &re) && re.Detail != "" {
		return re.Detail
	}
	return "Ride action was rejected"
}

// Client is the ride-action service as seen by the driver session.
type Client interface {
	AcceptRide(ctx context.Context, rideID, driverID int64) (models.Ride, error)
	DeclineRide(ctx context.Context, rideID, driverID int64) error
	StartRide(ctx context.Context, rideID int64) (models.Ride, error)
	CompleteRide(ctx context.Context, rideID int64, fare float64) (models.Ride, error)
	SetAvailability(ctx context.Context, driverID int64, online bool) error
	// FetchActiveRide returns nil when the driver has no ride in progress.
	FetchActiveRide(ctx context.Context, driverID int64) (*models.Ride, error)
}

// HTTPClient talks to the ride service REST API.
type HTTPClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, Token: token, Client: &http.Client{Timeout: timeout}}
}

type actionEnvelope struct {
	Success *bool           `json:"success"`
	Ride    *models.WireRide `json:"ride"`
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

func (h *HTTPClient) AcceptRide(ctx context.Context, rideID, driverID int64) (models.Ride, error) {
	body := map[string]any{"driver_id": driverID}
	b, err := h.do(ctx, http.MethodPut, ridePath(rideID, "accept"), nil, body)
	if err != nil {
		return models.Ride{}, err
	}
	return decodeRide(b), nil
}

func (h *HTTPClient) DeclineRide(ctx context.Context, rideID, driverID int64) error {
	_, err := h.do(ctx, http.MethodPut, ridePath(rideID, "decline"), nil, map[string]any{"driver_id": driverID})
	return err
}

func (h *HTTPClient) StartRide(ctx context.Context, rideID int64) (models.Ride, error) {
	b, err := h.do(ctx, http.MethodPut, ridePath(rideID, "start"), nil, nil)
	if err != nil {
		return models.Ride{}, err
	}
	return decodeRide(b), nil
}

func (h *HTTPClient) CompleteRide(ctx context.Context, rideID int64, fare float64) (models.Ride, error) {
	q := url.Values{"fare": {strconv.FormatFloat(fare, 'f', 2, 64)}}
	b, err := h.do(ctx, http.MethodPut, ridePath(rideID, "complete"), q, map[string]any{"fare": fare})
	if err != nil {
		return models.Ride{}, err
	}
	return decodeRide(b), nil
}

func (h *HTTPClient) SetAvailability(ctx context.Context, driverID int64, online bool) error {
	path := fmt.Sprintf("/users/%d/availability", driverID)
	_, err := h.do(ctx, http.MethodPut, path, nil, map[string]any{"availability": online})
	return err
}

func (h *HTTPClient) FetchActiveRide(ctx context.Context, driverID int64) (*models.Ride, error) {
	for _, status := range []models.RideStatus{models.RideAccepted, models.RideInProgress} {
		q := url.Values{"driver_id": {strconv.FormatInt(driverID, 10)}, "status": {string(status)}}
		b, err := h.do(ctx, http.MethodGet, "/rides", q, nil)
		if err != nil {
			return nil, err
		}
		var rides []models.WireRide
		if err := json.Unmarshal(b, &rides); err != nil {
			return nil, fmt.Errorf("decode active rides: %w", err)
		}
		if len(rides) > 0 {
			r := rides[0].ToRide()
			if r.Status == "" {
				r.Status = status
			}
			return &r, nil
		}
	}
	return nil, nil
}

func (h *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := h.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	var env actionEnvelope
	_ = json.Unmarshal(b, &env)
	if resp.StatusCode >= 300 || (env.Success != nil && !*env.Success) {
		return nil, &RejectedError{Status: resp.StatusCode, Detail: env.detail()}
	}
	return b, nil
}

func (e actionEnvelope) detail() string {
	if len(e.Detail) > 0 {
		var s string
		if err := json.Unmarshal(e.Detail, &s); err == nil {
			return s
		}
		return string(e.Detail)
	}
	return e.Message
}

// decodeRide accepts either {"success":..,"ride":{...}} or a bare ride.
func decodeRide(b []byte) models.Ride {
	var env actionEnvelope
	if err := json.Unmarshal(b, &env); err == nil && env.Ride != nil {
		return env.Ride.ToRide()
	}
	var w models.WireRide
	if err := json.Unmarshal(b, &w); err == nil && w.ID != 0 {
		return w.ToRide()
	}
	return models.Ride{}
}

func ridePath(rideID int64, action string) string {
	return fmt.Sprintf("/rides/%d/%s", rideID, action)
}
